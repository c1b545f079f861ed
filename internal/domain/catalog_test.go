package domain

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
)

func descriptor(serverID, bareName string) ToolDescriptor {
	return ToolDescriptor{
		QualifiedName: QualifyToolName(serverID, bareName),
		BareName:      bareName,
		ServerID:      serverID,
		InputSchema:   json.RawMessage(`{"type":"object"}`),
	}
}

func TestCatalogQualifiedLookup(t *testing.T) {
	catalog := NewToolCatalog([]ToolDescriptor{
		descriptor("alpha", "list_workflows"),
		descriptor("alpha", "create_workflow"),
	})

	tool, err := catalog.Lookup("alpha.create_workflow")
	require.NoError(t, err)
	require.Equal(t, "alpha", tool.ServerID)
	require.Equal(t, "create_workflow", tool.BareName)
}

func TestCatalogBareAliasOnlyWhenUnique(t *testing.T) {
	catalog := NewToolCatalog([]ToolDescriptor{
		descriptor("alpha", "list_workflows"),
		descriptor("beta", "list_workflows"),
		descriptor("beta", "delete_workflow"),
	})

	// Both servers stay addressable under their qualified names.
	require.Equal(t, 3, catalog.Len())
	for _, name := range []string{"alpha.list_workflows", "beta.list_workflows"} {
		_, err := catalog.Lookup(name)
		require.NoError(t, err)
	}

	// The unique bare name resolves; the colliding one is refused with the
	// candidate list, never routed by guesswork.
	tool, err := catalog.Lookup("delete_workflow")
	require.NoError(t, err)
	require.Equal(t, "beta.delete_workflow", tool.QualifiedName)

	_, err = catalog.Lookup("list_workflows")
	require.ErrorIs(t, err, ErrAmbiguousTool)
	require.Contains(t, err.Error(), "alpha.list_workflows")
	require.Contains(t, err.Error(), "beta.list_workflows")
}

func TestCatalogUnknownTool(t *testing.T) {
	catalog := NewToolCatalog([]ToolDescriptor{descriptor("alpha", "ping")})
	_, err := catalog.Lookup("no_such_tool")
	require.ErrorIs(t, err, ErrToolNotFound)
}

func TestCatalogMergeIsIdempotent(t *testing.T) {
	tools := []ToolDescriptor{
		descriptor("beta", "b_tool"),
		descriptor("alpha", "a_tool"),
		descriptor("gamma", "c_tool"),
	}
	first := NewToolCatalog(tools)

	// Same descriptors in a different order build an identical catalog.
	shuffled := []ToolDescriptor{tools[2], tools[0], tools[1]}
	second := NewToolCatalog(shuffled)

	require.Equal(t, first.ETag(), second.ETag())
	require.Empty(t, cmp.Diff(first.Tools(), second.Tools(),
		cmpopts.EquateEmpty()))
}

func TestCatalogETagChangesWithContent(t *testing.T) {
	first := NewToolCatalog([]ToolDescriptor{descriptor("alpha", "ping")})
	second := NewToolCatalog([]ToolDescriptor{descriptor("alpha", "ping"), descriptor("beta", "pong")})
	require.NotEqual(t, first.ETag(), second.ETag())
}

func TestEmptyCatalog(t *testing.T) {
	catalog := NewToolCatalog(nil)
	require.Zero(t, catalog.Len())
	_, err := catalog.Lookup("anything")
	require.ErrorIs(t, err, ErrToolNotFound)
}
