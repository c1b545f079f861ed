package loop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"relayd/internal/domain"
)

// Generator produces one candidate per attempt, steered by the previous
// rejection reason.
type Generator interface {
	Generate(ctx context.Context, intent string, attempt int, priorRejection string) (domain.CandidateArtifact, error)
}

// ToolDispatcher routes a named tool call through the catalog.
type ToolDispatcher interface {
	CallTool(ctx context.Context, name string, arguments json.RawMessage) (json.RawMessage, error)
}

// AcceptedRecorder learns from accepted workflows.
type AcceptedRecorder interface {
	RecordAccepted(intent string, workflow domain.Workflow) error
}

// Outcome is the result of a repair loop run: the accepted candidate (when
// there is one) and the complete attempt trace either way.
type Outcome struct {
	RunID     string
	Candidate domain.CandidateArtifact
	Trace     domain.AttemptTrace
}

// Runner drives the generate-submit-repair cycle. The backend validator is
// the sole authority on acceptance; its rejection text is fed back verbatim.
// Every attempt, including malformed generations and submit timeouts, burns
// one unit of the bounded budget.
type Runner struct {
	generator   Generator
	tools       ToolDispatcher
	recorder    AcceptedRecorder
	submitTool  string
	maxAttempts int
	metrics     domain.Metrics
	logger      *zap.Logger
}

func NewRunner(generator Generator, tools ToolDispatcher, recorder AcceptedRecorder, submitTool string, maxAttempts int, metrics domain.Metrics, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = domain.NopMetrics{}
	}
	if strings.TrimSpace(submitTool) == "" {
		submitTool = domain.DefaultSubmitTool
	}
	if maxAttempts <= 0 {
		maxAttempts = domain.DefaultMaxAttempts
	}
	return &Runner{
		generator:   generator,
		tools:       tools,
		recorder:    recorder,
		submitTool:  submitTool,
		maxAttempts: maxAttempts,
		metrics:     metrics,
		logger:      logger.Named("loop"),
	}
}

// Run synthesizes a workflow for the intent and submits it until the backend
// accepts, the attempt budget runs out, or the context is canceled between
// cycles. The returned outcome always carries the full trace.
func (r *Runner) Run(ctx context.Context, intent string) (Outcome, error) {
	outcome := Outcome{RunID: uuid.NewString()}
	logger := r.logger.With(zap.String("run", outcome.RunID))
	logger.Info("run started", zap.String("intent", intent), zap.Int("maxAttempts", r.maxAttempts))

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			logger.Info("run canceled", zap.Int("attempts", len(outcome.Trace)))
			return outcome, domain.E(domain.CodeCanceled, "loop.run", "run canceled between attempts", err)
		}

		candidate, err := r.generator.Generate(ctx, intent, attempt, outcome.lastRejection())
		if err != nil {
			if errors.Is(err, domain.ErrSchemaMismatch) {
				detail := fmt.Sprintf("malformed output, regenerate: %v", err)
				outcome.record(domain.CandidateArtifact{Attempt: attempt, GeneratedAt: time.Now().UTC()}, detail)
				r.metrics.ObserveAttempt(false)
				logger.Warn("generation rejected", zap.Int("attempt", attempt), zap.String("reason", detail))
				continue
			}
			return outcome, err
		}

		accepted, detail, err := r.submit(ctx, candidate)
		if err != nil {
			return outcome, err
		}
		if accepted {
			outcome.Trace = append(outcome.Trace, domain.Attempt{
				Candidate: candidate,
				Result:    domain.ValidationResult{Accepted: true},
			})
			outcome.Candidate = candidate
			r.metrics.ObserveAttempt(true)
			r.metrics.ObserveRun(true, attempt)
			logger.Info("candidate accepted", zap.Int("attempt", attempt), zap.String("workflow", candidate.Workflow.Name))
			if r.recorder != nil {
				if err := r.recorder.RecordAccepted(intent, candidate.Workflow); err != nil {
					logger.Warn("record accepted workflow failed", zap.Error(err))
				}
			}
			return outcome, nil
		}

		outcome.record(candidate, detail)
		r.metrics.ObserveAttempt(false)
		logger.Warn("candidate rejected", zap.Int("attempt", attempt), zap.String("reason", detail))
	}

	r.metrics.ObserveRun(false, r.maxAttempts)
	logger.Error("retry budget exhausted", zap.Int("attempts", len(outcome.Trace)))
	return outcome, &domain.ExhaustedError{Intent: intent, Trace: outcome.Trace}
}

// submit sends the candidate to the backend validator. The second return
// value is the rejection detail when the verdict is a rejection; a non-nil
// error means the run cannot usefully continue.
func (r *Runner) submit(ctx context.Context, candidate domain.CandidateArtifact) (bool, string, error) {
	arguments, err := json.Marshal(candidate.Workflow)
	if err != nil {
		return false, "", domain.E(domain.CodeInternal, "loop.submit", "encode candidate workflow", err)
	}

	raw, err := r.tools.CallTool(ctx, r.submitTool, arguments)
	if err != nil {
		var invocationErr *domain.InvocationError
		switch {
		case errors.As(err, &invocationErr):
			// Remote errors, per-call timeouts, and broken connections all
			// count as failed attempts; the run may still recover.
			return false, invocationErr.Error(), nil
		case errors.Is(err, domain.ErrSchemaMismatch):
			return false, err.Error(), nil
		default:
			// Tool not found, ambiguity, unreachable routing: configuration
			// problems no amount of regeneration fixes.
			return false, "", err
		}
	}

	var result toolCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return false, "", domain.E(domain.CodeInternal, "loop.submit", "decode validator response", err)
	}
	if result.IsError {
		return false, result.text(), nil
	}
	return true, "", nil
}

type toolCallResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	IsError bool `json:"isError"`
}

func (r toolCallResult) text() string {
	parts := make([]string, 0, len(r.Content))
	for _, item := range r.Content {
		if item.Text != "" {
			parts = append(parts, item.Text)
		}
	}
	if len(parts) == 0 {
		return "validator rejected the workflow without detail"
	}
	return strings.Join(parts, "\n")
}

func (o *Outcome) record(candidate domain.CandidateArtifact, detail string) {
	o.Trace = append(o.Trace, domain.Attempt{
		Candidate: candidate,
		Result:    domain.ValidationResult{Accepted: false, ErrorDetail: detail},
	})
}

func (o *Outcome) lastRejection() string {
	if len(o.Trace) == 0 {
		return ""
	}
	return o.Trace[len(o.Trace)-1].Result.ErrorDetail
}
