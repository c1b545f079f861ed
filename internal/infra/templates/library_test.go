package templates

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"relayd/internal/domain"
)

func testWorkflow(name string) domain.Workflow {
	return domain.Workflow{
		Name: name,
		Nodes: []domain.WorkflowNode{{
			ID:          "1",
			Name:        "Trigger",
			Type:        "n8n-nodes-base.scheduleTrigger",
			TypeVersion: 1,
			Position:    [2]int{250, 300},
		}},
	}
}

func TestLibrarySeedsAreValid(t *testing.T) {
	for _, exemplar := range seedTemplates() {
		require.NoError(t, exemplar.Workflow.Validate(), "seed %s", exemplar.ID)
		require.NotEmpty(t, exemplar.Tags, "seed %s", exemplar.ID)
	}
}

func TestLibrarySelectByTagOverlap(t *testing.T) {
	library, err := NewLibrary(nil, nil)
	require.NoError(t, err)

	selected := library.Select("receive a webhook and respond to it", 1)
	require.Len(t, selected, 1)
	require.Equal(t, "webhook", selected[0].ID)

	selected = library.Select("daily report email from the database", 1)
	require.Len(t, selected, 1)
	require.Equal(t, "schedule_db_email", selected[0].ID)

	selected = library.Select("update rows in a google sheets spreadsheet", 1)
	require.Len(t, selected, 1)
	require.Equal(t, "google_sheets", selected[0].ID)
}

func TestLibrarySelectFallbackWithNoOverlap(t *testing.T) {
	library, err := NewLibrary(nil, nil)
	require.NoError(t, err)

	// Nothing matches, but generation still gets one structural exemplar.
	selected := library.Select("zzz qqq xyzzy", 1)
	require.Len(t, selected, 1)
}

func TestLibrarySelectRecencyBreaksTies(t *testing.T) {
	library, err := NewLibrary(nil, nil)
	require.NoError(t, err)

	old := domain.ExemplarTemplate{
		ID:       "older",
		Tags:     []string{"inventory", "sync"},
		Workflow: testWorkflow("Older"),
		AddedAt:  time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	fresh := domain.ExemplarTemplate{
		ID:       "fresher",
		Tags:     []string{"inventory", "sync"},
		Workflow: testWorkflow("Fresher"),
		AddedAt:  time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	library.fromStore[old.ID] = old
	library.fromStore[fresh.ID] = fresh

	selected := library.Select("sync the inventory", 1)
	require.Len(t, selected, 1)
	require.Equal(t, "fresher", selected[0].ID)
}

func TestLibraryRecordAcceptedBecomesSelectable(t *testing.T) {
	library, err := NewLibrary(nil, nil)
	require.NoError(t, err)
	before := library.Len()

	require.NoError(t, library.RecordAccepted("sync the crm contacts nightly", testWorkflow("CRM Sync")))
	require.Equal(t, before+1, library.Len())

	selected := library.Select("sync the crm contacts nightly", 1)
	require.Len(t, selected, 1)
	require.Equal(t, "CRM Sync", selected[0].Workflow.Name)
}

func TestLibraryLoadDir(t *testing.T) {
	dir := t.TempDir()
	payload := `id: custom_slack
tags: [slack, alert, notify]
workflow:
  name: Slack Alert
  nodes:
    - id: "1"
      name: Trigger
      type: n8n-nodes-base.webhook
      typeVersion: 1
      position: [250, 300]
  connections: {}
  active: false
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "slack.yaml"), []byte(payload), 0o644))
	// A broken file is skipped, not fatal.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("nodes: ["), 0o644))

	library, err := NewLibrary(nil, nil)
	require.NoError(t, err)
	require.NoError(t, library.LoadDir(dir))

	selected := library.Select("send a slack alert", 1)
	require.Len(t, selected, 1)
	require.Equal(t, "custom_slack", selected[0].ID)
}

func TestLibraryLoadDirMissingIsNoop(t *testing.T) {
	library, err := NewLibrary(nil, nil)
	require.NoError(t, err)
	require.NoError(t, library.LoadDir(filepath.Join(t.TempDir(), "does-not-exist")))
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exemplars.db")

	store, err := OpenStore(path)
	require.NoError(t, err)

	library, err := NewLibrary(store, nil)
	require.NoError(t, err)
	require.NoError(t, library.RecordAccepted("warehouse inventory report", testWorkflow("Inventory Report")))
	require.NoError(t, store.Close())

	reopened, err := OpenStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	restored, err := NewLibrary(reopened, nil)
	require.NoError(t, err)

	selected := restored.Select("warehouse inventory report", 1)
	require.Len(t, selected, 1)
	require.Equal(t, "Inventory Report", selected[0].Workflow.Name)
}
