package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"relayd/internal/domain"
	"relayd/internal/infra/loop"
)

// Sender forwards human-readable run results to wherever the operator is
// listening. A nil sender means results are only logged.
type Sender interface {
	Send(ctx context.Context, message string) error
}

// Service exposes the synthesis loop as a single user-facing operation.
type Service struct {
	runner *loop.Runner
	sender Sender
	logger *zap.Logger
}

func NewService(runner *loop.Runner, sender Sender, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		runner: runner,
		sender: sender,
		logger: logger.Named("service"),
	}
}

// GenerateAndApply synthesizes a workflow for the intent, drives it through
// the backend validator, and reports the outcome. The returned artifact is
// the accepted candidate; on failure the error carries the attempt trace.
func (s *Service) GenerateAndApply(ctx context.Context, intent string) (domain.CandidateArtifact, error) {
	outcome, err := s.runner.Run(ctx, intent)
	if err != nil {
		s.notify(ctx, formatFailure(intent, err))
		return domain.CandidateArtifact{}, err
	}
	s.notify(ctx, formatSuccess(outcome))
	return outcome.Candidate, nil
}

func (s *Service) notify(ctx context.Context, message string) {
	if s.sender == nil {
		return
	}
	if err := s.sender.Send(ctx, message); err != nil {
		s.logger.Warn("result notification failed", zap.Error(err))
	}
}

func formatSuccess(outcome loop.Outcome) string {
	return fmt.Sprintf("Workflow %q created after %d attempt(s).",
		outcome.Candidate.Workflow.Name, len(outcome.Trace))
}

func formatFailure(intent string, err error) string {
	var exhausted *domain.ExhaustedError
	if errors.As(err, &exhausted) {
		return fmt.Sprintf("Could not build a workflow for %q: gave up after %d attempt(s). Last error: %s",
			intent, len(exhausted.Trace), exhausted.LastReason())
	}
	return fmt.Sprintf("Could not build a workflow for %q: %v", intent, err)
}
