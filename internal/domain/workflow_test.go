package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

const validWorkflowJSON = `{
  "name": "Simple API Check",
  "nodes": [
    {
      "id": "1",
      "name": "Schedule",
      "type": "n8n-nodes-base.scheduleTrigger",
      "typeVersion": 1,
      "position": [250, 300]
    },
    {
      "id": "2",
      "name": "Check API",
      "type": "n8n-nodes-base.httpRequest",
      "typeVersion": 4.2,
      "position": [450, 300],
      "parameters": {"method": "GET", "url": "https://api.example.com/status"}
    }
  ],
  "connections": {
    "Schedule": {
      "main": [[{"node": "Check API", "type": "main", "index": 0}]]
    }
  },
  "active": false
}`

func TestParseWorkflowPlainJSON(t *testing.T) {
	workflow, err := ParseWorkflow(validWorkflowJSON)
	require.NoError(t, err)
	require.Equal(t, "Simple API Check", workflow.Name)
	require.Len(t, workflow.Nodes, 2)
	require.Equal(t, 4.2, workflow.Nodes[1].TypeVersion)
	require.Equal(t, [2]int{450, 300}, workflow.Nodes[1].Position)
}

func TestParseWorkflowStripsMarkdownFences(t *testing.T) {
	fenced := "Here is the workflow you asked for:\n\n```json\n" + validWorkflowJSON + "\n```\nLet me know if it works."
	workflow, err := ParseWorkflow(fenced)
	require.NoError(t, err)
	require.Equal(t, "Simple API Check", workflow.Name)

	bareFence := "```\n" + validWorkflowJSON + "\n```"
	workflow, err = ParseWorkflow(bareFence)
	require.NoError(t, err)
	require.Len(t, workflow.Nodes, 2)
}

func TestParseWorkflowRejectsMalformedOutput(t *testing.T) {
	for name, input := range map[string]string{
		"empty":       "",
		"prose":       "I could not generate a workflow, sorry.",
		"brokenJSON":  `{"name": "x", "nodes": [`,
		"fencedProse": "```json\nnot json at all\n```",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseWorkflow(input)
			require.Error(t, err)
			require.ErrorIs(t, err, ErrSchemaMismatch)
		})
	}
}

func TestWorkflowValidate(t *testing.T) {
	base := func() Workflow {
		wf, err := ParseWorkflow(validWorkflowJSON)
		require.NoError(t, err)
		return wf
	}

	t.Run("valid", func(t *testing.T) {
		wf := base()
		require.NoError(t, wf.Validate())
	})

	t.Run("missingName", func(t *testing.T) {
		wf := base()
		wf.Name = "  "
		require.ErrorIs(t, wf.Validate(), ErrSchemaMismatch)
	})

	t.Run("noNodes", func(t *testing.T) {
		wf := base()
		wf.Nodes = nil
		require.ErrorIs(t, wf.Validate(), ErrSchemaMismatch)
	})

	t.Run("nodeWithoutType", func(t *testing.T) {
		wf := base()
		wf.Nodes[0].Type = ""
		require.ErrorIs(t, wf.Validate(), ErrSchemaMismatch)
	})

	t.Run("danglingConnectionTarget", func(t *testing.T) {
		wf := base()
		wf.Connections["Schedule"] = NodeConnections{
			Main: [][]Connection{{{Node: "No Such Node", Type: "main", Index: 0}}},
		}
		err := wf.Validate()
		require.ErrorIs(t, err, ErrSchemaMismatch)
		require.Contains(t, err.Error(), "No Such Node")
	})

	t.Run("danglingConnectionSource", func(t *testing.T) {
		wf := base()
		wf.Connections["Ghost"] = NodeConnections{
			Main: [][]Connection{{{Node: "Check API", Type: "main", Index: 0}}},
		}
		require.ErrorIs(t, wf.Validate(), ErrSchemaMismatch)
	})
}

func TestExhaustedErrorLastReason(t *testing.T) {
	err := &ExhaustedError{
		Intent: "build something",
		Trace: AttemptTrace{
			{Result: ValidationResult{ErrorDetail: "first rejection"}},
			{Result: ValidationResult{ErrorDetail: "second rejection"}},
		},
	}
	require.Equal(t, "second rejection", err.LastReason())
	require.Contains(t, err.Error(), "2 attempts")
	require.Contains(t, err.Error(), "second rejection")

	var target *ExhaustedError
	require.True(t, errors.As(err, &target))
}
