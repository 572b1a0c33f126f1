package eventsource

import (
	"strings"

	"github.com/dukex/fieldflow/pkg/events"
	"github.com/dukex/fieldflow/pkg/fieldpath"
	"github.com/dukex/fieldflow/pkg/models"
)

type tableEvents struct {
	entity  string
	created string
	// statusEvents maps a new status value to the event raised when a row changes to it.
	statusEvents map[string]string
	// statusChanged is raised on every status change, when set.
	statusChanged string
}

var tables = map[string]tableEvents{
	"jobs": {
		entity:        "job",
		created:       models.EventJobCreated,
		statusChanged: models.EventJobStatusChanged,
		statusEvents:  map[string]string{"completed": models.EventJobCompleted},
	},
	"invoices": {
		entity:  "invoice",
		created: models.EventInvoiceCreated,
		statusEvents: map[string]string{
			"paid":    models.EventInvoicePaid,
			"overdue": models.EventInvoiceOverdue,
		},
	},
	"estimates": {
		entity:  "estimate",
		created: models.EventEstimateCreated,
		statusEvents: map[string]string{
			"accepted": models.EventEstimateAccepted,
			"declined": models.EventEstimateDeclined,
		},
	},
	"clients": {
		entity:  "client",
		created: models.EventClientCreated,
	},
	"tasks": {
		entity:       "task",
		created:      models.EventTaskCreated,
		statusEvents: map[string]string{"completed": models.EventTaskCompleted},
	},
}

// Tables lists the tables whose changes raise business events.
func Tables() []string {
	return []string{"jobs", "invoices", "estimates", "clients", "tasks"}
}

// Events maps a row change to the business events it raises. Updates raise events
// only when the status column changed, which requires the old row.
func Events(change RowChange) []models.Event {
	table, known := tables[strings.ToLower(change.Table)]
	if !known || change.New == nil {
		return nil
	}

	switch strings.ToUpper(change.Operation) {
	case events.OperationInsert:
		return []models.Event{{Type: table.created, Context: eventContext(table.entity, change, false)}}
	case events.OperationUpdate:
		if change.Old == nil {
			return nil
		}

		oldStatus := status(change.Old)
		newStatus := status(change.New)

		if oldStatus == newStatus {
			return nil
		}

		var raised []models.Event

		if table.statusChanged != "" {
			raised = append(raised, models.Event{Type: table.statusChanged, Context: eventContext(table.entity, change, true)})
		}

		if eventType, ok := table.statusEvents[newStatus]; ok {
			raised = append(raised, models.Event{Type: eventType, Context: eventContext(table.entity, change, true)})
		}

		return raised
	default:
		return nil
	}
}

func status(row map[string]any) string {
	value, _ := fieldpath.Resolve(row, "status")

	return fieldpath.String(value)
}

// eventContext puts every column of the new row at top level and the row under its
// entity key. Each event gets its own maps.
func eventContext(entity string, change RowChange, statusChange bool) map[string]any {
	data := make(map[string]any, len(change.New)+4)

	for key, value := range change.New {
		data[key] = value
	}

	row := make(map[string]any, len(change.New))
	for key, value := range change.New {
		row[key] = value
	}

	data[entity] = row

	if change.Old != nil {
		previous := make(map[string]any, len(change.Old))
		for key, value := range change.Old {
			previous[key] = value
		}

		data["previous"] = previous
	}

	if statusChange {
		data["old_status"] = status(change.Old)
		data["new_status"] = status(change.New)
	}

	return data
}
