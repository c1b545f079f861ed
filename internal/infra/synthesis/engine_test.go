package synthesis

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"relayd/internal/domain"
)

type stubCompleter struct {
	outputs []string
	err     error
	prompts []string
}

func (s *stubCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	s.prompts = append(s.prompts, prompt)
	if s.err != nil {
		return "", s.err
	}
	output := s.outputs[0]
	if len(s.outputs) > 1 {
		s.outputs = s.outputs[1:]
	}
	return output, nil
}

type stubSelector struct {
	exemplars []domain.ExemplarTemplate
}

func (s *stubSelector) Select(intent string, limit int) []domain.ExemplarTemplate {
	return s.exemplars
}

const generatedWorkflow = `{
  "name": "Weather Forecast Check",
  "nodes": [
    {"id": "1", "name": "Daily at 2 PM", "type": "n8n-nodes-base.scheduleTrigger", "typeVersion": 1, "position": [250, 300]},
    {"id": "2", "name": "Fetch Forecast", "type": "n8n-nodes-base.httpRequest", "typeVersion": 4, "position": [450, 300]}
  ],
  "connections": {
    "Daily at 2 PM": {"main": [[{"node": "Fetch Forecast", "type": "main", "index": 0}]]}
  },
  "active": false
}`

func exemplarFixture() domain.ExemplarTemplate {
	return domain.ExemplarTemplate{
		ID:   "schedule_http",
		Tags: []string{"schedule", "http"},
		Workflow: domain.Workflow{
			Name: "Schedule + HTTP Request",
			Nodes: []domain.WorkflowNode{{
				ID: "schedule-1", Name: "Schedule Trigger",
				Type: "n8n-nodes-base.scheduleTrigger", TypeVersion: 1,
				Position: [2]int{250, 300},
			}},
		},
	}
}

func TestEngineGeneratePlain(t *testing.T) {
	completer := &stubCompleter{outputs: []string{generatedWorkflow}}
	engine := NewEngine(completer, &stubSelector{exemplars: []domain.ExemplarTemplate{exemplarFixture()}}, 1, nil)

	candidate, err := engine.Generate(context.Background(), "check the weather daily at 2pm", 1, "")
	require.NoError(t, err)
	require.Equal(t, 1, candidate.Attempt)
	require.Equal(t, "Weather Forecast Check", candidate.Workflow.Name)
	require.Len(t, candidate.Workflow.Nodes, 2)
}

func TestEngineGenerateStripsFences(t *testing.T) {
	fenced := "Sure! Here it is:\n```json\n" + generatedWorkflow + "\n```"
	completer := &stubCompleter{outputs: []string{fenced}}
	engine := NewEngine(completer, &stubSelector{exemplars: []domain.ExemplarTemplate{exemplarFixture()}}, 1, nil)

	candidate, err := engine.Generate(context.Background(), "check the weather", 1, "")
	require.NoError(t, err)
	require.Equal(t, "Weather Forecast Check", candidate.Workflow.Name)
}

func TestEngineGenerateMalformedOutput(t *testing.T) {
	completer := &stubCompleter{outputs: []string{"I am unable to produce JSON today."}}
	engine := NewEngine(completer, &stubSelector{}, 1, nil)

	_, err := engine.Generate(context.Background(), "anything", 1, "")
	require.ErrorIs(t, err, domain.ErrSchemaMismatch)
}

func TestEngineGenerateCompleterFailure(t *testing.T) {
	completer := &stubCompleter{err: errors.New("model overloaded")}
	engine := NewEngine(completer, &stubSelector{}, 1, nil)

	_, err := engine.Generate(context.Background(), "anything", 1, "")
	require.Error(t, err)
	require.NotErrorIs(t, err, domain.ErrSchemaMismatch)
}

func TestEnginePromptContents(t *testing.T) {
	completer := &stubCompleter{outputs: []string{generatedWorkflow}}
	engine := NewEngine(completer, &stubSelector{exemplars: []domain.ExemplarTemplate{exemplarFixture()}}, 1, nil)

	const intent = "fetch exchange rates every hour"
	_, err := engine.Generate(context.Background(), intent, 1, "")
	require.NoError(t, err)
	require.Len(t, completer.prompts, 1)

	prompt := completer.prompts[0]
	require.Contains(t, prompt, intent)
	require.Contains(t, prompt, "Schedule + HTTP Request")
	require.Contains(t, prompt, "Return ONLY the valid JSON workflow")
	require.NotContains(t, prompt, "previous workflow was rejected")
}

func TestEnginePromptCarriesRejectionVerbatim(t *testing.T) {
	const rejection = `node "Send Email" is missing required credential "smtp"`
	completer := &stubCompleter{outputs: []string{generatedWorkflow}}
	engine := NewEngine(completer, &stubSelector{exemplars: []domain.ExemplarTemplate{exemplarFixture()}}, 1, nil)

	_, err := engine.Generate(context.Background(), "email me a report", 2, rejection)
	require.NoError(t, err)
	require.Len(t, completer.prompts, 1)
	require.Contains(t, completer.prompts[0], rejection)
	require.Contains(t, completer.prompts[0], "previous workflow was rejected")
}
