package synthesis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"relayd/internal/domain"
)

// Completer produces text for a prompt. The engine treats it as opaque; any
// chat model, local binary, or scripted test double satisfies it.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ExemplarSelector supplies known-good workflows matching an intent.
type ExemplarSelector interface {
	Select(intent string, limit int) []domain.ExemplarTemplate
}

// Engine turns a natural-language intent into a candidate workflow. Each
// attempt builds a fresh prompt: exemplars for structural grounding, plus the
// previous rejection verbatim as a correction directive on repair attempts.
type Engine struct {
	completer     Completer
	selector      ExemplarSelector
	templateLimit int
	logger        *zap.Logger
}

func NewEngine(completer Completer, selector ExemplarSelector, templateLimit int, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if templateLimit <= 0 {
		templateLimit = domain.DefaultTemplateLimit
	}
	return &Engine{
		completer:     completer,
		selector:      selector,
		templateLimit: templateLimit,
		logger:        logger.Named("synthesis"),
	}
}

// Generate runs one synthesis attempt. Output that does not parse into a
// structurally sound workflow is reported as a schema mismatch so the caller
// can burn an attempt and regenerate.
func (e *Engine) Generate(ctx context.Context, intent string, attempt int, priorRejection string) (domain.CandidateArtifact, error) {
	prompt, err := e.buildPrompt(intent, priorRejection)
	if err != nil {
		return domain.CandidateArtifact{}, err
	}

	output, err := e.completer.Complete(ctx, prompt)
	if err != nil {
		return domain.CandidateArtifact{}, domain.Wrap(domain.CodeUnavailable, "synthesis.generate", err)
	}

	workflow, err := domain.ParseWorkflow(output)
	if err != nil {
		e.logger.Warn("generated output failed to parse",
			zap.Int("attempt", attempt),
			zap.Error(err))
		return domain.CandidateArtifact{}, err
	}

	e.logger.Info("candidate generated",
		zap.Int("attempt", attempt),
		zap.String("workflow", workflow.Name),
		zap.Int("nodes", len(workflow.Nodes)))
	return domain.CandidateArtifact{
		Attempt:     attempt,
		Workflow:    workflow,
		GeneratedAt: time.Now().UTC(),
	}, nil
}

func (e *Engine) buildPrompt(intent, priorRejection string) (string, error) {
	var sb strings.Builder
	sb.WriteString("You are an expert in n8n workflow automation.\n")

	exemplars := e.selector.Select(intent, e.templateLimit)
	for _, exemplar := range exemplars {
		payload, err := json.MarshalIndent(exemplar.Workflow, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encode exemplar %s: %w", exemplar.ID, err)
		}
		sb.WriteString("\nHere is an example of a REAL working n8n workflow:\n\n")
		sb.Write(payload)
		sb.WriteString("\n")
	}

	sb.WriteString("\nNow, create a n8n workflow with these requirements:\n")
	sb.WriteString("- ")
	sb.WriteString(strings.TrimSpace(intent))
	sb.WriteString("\n")
	sb.WriteString("- Follow the EXACT same JSON structure as the example\n")
	sb.WriteString("- Use the EXACT same node type format (n8n-nodes-base.*)\n")
	sb.WriteString("- Use the EXACT same connection structure\n")

	if strings.TrimSpace(priorRejection) != "" {
		sb.WriteString("\nYour previous workflow was rejected by the validator with this error:\n")
		sb.WriteString(priorRejection)
		sb.WriteString("\nFix the problem the error describes and regenerate the full workflow.\n")
	}

	sb.WriteString("\nReturn ONLY the valid JSON workflow, no explanations.")
	return sb.String(), nil
}
