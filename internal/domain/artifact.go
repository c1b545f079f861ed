package domain

import "time"

// ExemplarTemplate is a known-good workflow used as structural guidance for
// generation. Tags drive selection by overlap with intent keywords; AddedAt
// breaks score ties (most recent wins).
type ExemplarTemplate struct {
	ID       string   `json:"id" yaml:"id"`
	Tags     []string `json:"tags" yaml:"tags"`
	Workflow Workflow `json:"workflow" yaml:"workflow"`
	AddedAt  time.Time
}

// CandidateArtifact is one generated-but-not-yet-accepted workflow.
type CandidateArtifact struct {
	Attempt     int
	Workflow    Workflow
	GeneratedAt time.Time
}

// ValidationResult is the backend's verdict on a submitted candidate.
// ErrorDetail is the rejection reason verbatim; it becomes the correction
// directive of the next generation attempt.
type ValidationResult struct {
	Accepted    bool
	ErrorDetail string
}

// Attempt pairs a candidate with its verdict.
type Attempt struct {
	Candidate CandidateArtifact
	Result    ValidationResult
}

// AttemptTrace is the ordered audit trail of a repair loop run.
type AttemptTrace []Attempt
