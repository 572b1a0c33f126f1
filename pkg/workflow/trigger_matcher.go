// Package workflow selects the workflows an event triggers, runs their steps and
// drives the time-based triggers.
package workflow

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/fieldflow/pkg/conditional"
	"github.com/dukex/fieldflow/pkg/models"
)

// MatchMode decides how a workflow with several triggers of the same type is matched.
type MatchMode string

const (
	// MatchModeFirst checks only the first trigger of the event type.
	MatchModeFirst MatchMode = "first"
	// MatchModeAny matches when any trigger of the event type passes.
	MatchModeAny MatchMode = "any"
)

var ErrInvalidMatchMode = errors.New("invalid match mode")

// ParseMatchMode returns MatchModeFirst for the empty string.
func ParseMatchMode(value string) (MatchMode, error) {
	switch MatchMode(value) {
	case "", MatchModeFirst:
		return MatchModeFirst, nil
	case MatchModeAny:
		return MatchModeAny, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMatchMode, value)
	}
}

// TriggerMatcher handles matching events against workflow triggers.
type TriggerMatcher struct {
	logger *slog.Logger
	mode   MatchMode
}

// NewTriggerMatcher creates a new trigger matcher.
func NewTriggerMatcher(logger *slog.Logger, mode MatchMode) *TriggerMatcher {
	if mode == "" {
		mode = MatchModeFirst
	}

	return &TriggerMatcher{
		logger: logger.With("module", "trigger_matcher"),
		mode:   mode,
	}
}

func (tm *TriggerMatcher) Mode() MatchMode {
	return tm.mode
}

// Match returns, in input order, the eligible workflows triggered by the event.
func (tm *TriggerMatcher) Match(event models.Event, workflows []*models.Workflow) []*models.Workflow {
	matched := make([]*models.Workflow, 0)

	for _, workflow := range workflows {
		if !workflow.IsEligible() {
			continue
		}

		if tm.matches(workflow, event) {
			matched = append(matched, workflow)
		}
	}

	tm.logger.Debug("Completed trigger matching",
		"event_type", event.Type,
		"workflows_count", len(workflows),
		"matches_found", len(matched))

	return matched
}

func (tm *TriggerMatcher) matches(workflow *models.Workflow, event models.Event) bool {
	triggers := workflow.TriggersOfType(event.Type)
	if len(triggers) == 0 {
		return false
	}

	if tm.mode == MatchModeFirst {
		return conditional.Evaluate(triggers[0].Conditions, event.Context)
	}

	for _, trigger := range triggers {
		if conditional.Evaluate(trigger.Conditions, event.Context) {
			return true
		}
	}

	return false
}
