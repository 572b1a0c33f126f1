package workflow_test

import (
	"log/slog"
	"os"
	"testing"

	"github.com/dukex/fieldflow/pkg/models"
	"github.com/dukex/fieldflow/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func jobCompletedWorkflow(id string, triggers ...*models.Trigger) *models.Workflow {
	return &models.Workflow{
		ID:       id,
		Name:     "Workflow " + id,
		Enabled:  true,
		Status:   models.WorkflowStatusActive,
		Triggers: triggers,
	}
}

func statusTrigger(status string) *models.Trigger {
	return &models.Trigger{
		Type: models.EventJobCompleted,
		Conditions: []models.Condition{
			{Field: "job.status", Operator: models.OperatorEquals, Value: status},
		},
	}
}

func TestParseMatchMode(t *testing.T) {
	mode, err := workflow.ParseMatchMode("")
	require.NoError(t, err)
	assert.Equal(t, workflow.MatchModeFirst, mode)

	mode, err = workflow.ParseMatchMode("any")
	require.NoError(t, err)
	assert.Equal(t, workflow.MatchModeAny, mode)

	_, err = workflow.ParseMatchMode("all")
	require.ErrorIs(t, err, workflow.ErrInvalidMatchMode)
}

func TestTriggerMatcher_PreservesOrderAndEligibility(t *testing.T) {
	matcher := workflow.NewTriggerMatcher(testLogger(), workflow.MatchModeFirst)

	disabled := jobCompletedWorkflow("wf-disabled", &models.Trigger{Type: models.EventJobCompleted})
	disabled.Enabled = false

	paused := jobCompletedWorkflow("wf-paused", &models.Trigger{Type: models.EventJobCompleted})
	paused.Status = models.WorkflowStatusPaused

	workflows := []*models.Workflow{
		jobCompletedWorkflow("wf-b", &models.Trigger{Type: models.EventJobCompleted}),
		disabled,
		jobCompletedWorkflow("wf-other", &models.Trigger{Type: models.EventInvoicePaid}),
		paused,
		jobCompletedWorkflow("wf-a", statusTrigger("completed")),
	}

	event := models.Event{
		Type:    models.EventJobCompleted,
		Context: map[string]any{"job": map[string]any{"status": "completed"}},
	}

	matched := matcher.Match(event, workflows)

	require.Len(t, matched, 2)
	assert.Equal(t, "wf-b", matched[0].ID)
	assert.Equal(t, "wf-a", matched[1].ID)
}

func TestTriggerMatcher_NoMatch(t *testing.T) {
	matcher := workflow.NewTriggerMatcher(testLogger(), workflow.MatchModeFirst)

	event := models.Event{
		Type:    models.EventJobCompleted,
		Context: map[string]any{"job": map[string]any{"status": "cancelled"}},
	}

	matched := matcher.Match(event, []*models.Workflow{jobCompletedWorkflow("wf-1", statusTrigger("completed"))})

	assert.Empty(t, matched)
}

func TestTriggerMatcher_Modes(t *testing.T) {
	wf := jobCompletedWorkflow("wf-1", statusTrigger("completed"), statusTrigger("cancelled"))
	event := models.Event{
		Type:    models.EventJobCompleted,
		Context: map[string]any{"job": map[string]any{"status": "cancelled"}},
	}

	first := workflow.NewTriggerMatcher(testLogger(), workflow.MatchModeFirst)
	assert.Empty(t, first.Match(event, []*models.Workflow{wf}), "only the first trigger of the type is checked")

	anyMode := workflow.NewTriggerMatcher(testLogger(), workflow.MatchModeAny)
	assert.Len(t, anyMode.Match(event, []*models.Workflow{wf}), 1)
}
