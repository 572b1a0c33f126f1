package actions

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/fieldflow/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

// ErrInvalidConfig is returned when a step config does not satisfy its schema.
var ErrInvalidConfig = errors.New("invalid step config")

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func numberProp(description string) map[string]any {
	return map[string]any{"type": "number", "minimum": 0, "description": description}
}

var schemas = map[models.StepType]map[string]any{
	models.StepTypeSendSMS: {
		"type": "object",
		"properties": map[string]any{
			"to":      stringProp(`"client", "technician" or a literal phone number (templated)`),
			"message": stringProp("SMS text (templated)"),
			"body":    stringProp("alias of message"),
		},
		"anyOf": []any{
			map[string]any{"required": []any{"message"}},
			map[string]any{"required": []any{"body"}},
		},
	},
	models.StepTypeSendEmail: {
		"type": "object",
		"properties": map[string]any{
			"to":      stringProp(`"client", "technician" or a literal address (templated)`),
			"subject": stringProp("email subject (templated)"),
			"body":    stringProp("email body (templated)"),
		},
		"required": []any{"body"},
	},
	models.StepTypeCreateTask: {
		"type": "object",
		"properties": map[string]any{
			"title":        stringProp("task title (templated)"),
			"description":  stringProp("task description (templated)"),
			"due_in_hours": numberProp("hours from now until the task is due"),
			"priority":     stringProp("task priority"),
			"assigned_to":  stringProp("assignee id"),
		},
		"required": []any{"title"},
	},
	models.StepTypeUpdateJobStatus: {
		"type": "object",
		"properties": map[string]any{
			"job_id": stringProp("job id (templated); defaults to the event job"),
			"status": map[string]any{"type": "string", "minLength": 1},
		},
		"required": []any{"status"},
	},
	models.StepTypeSendNotification: {
		"type": "object",
		"properties": map[string]any{
			"title":     stringProp("notification title (templated)"),
			"message":   stringProp("notification text (templated)"),
			"recipient": stringProp("user id to notify"),
		},
		"required": []any{"title"},
	},
	models.StepTypeCreateJob: {
		"type": "object",
		"properties": map[string]any{
			"title":             map[string]any{"type": "string", "minLength": 1},
			"description":       stringProp("job description (templated)"),
			"status":            stringProp("initial status, scheduled when omitted"),
			"scheduled_in_days": numberProp("days from now the job is scheduled for"),
			"client_id":         stringProp("client id; defaults to the event client"),
		},
		"required": []any{"title"},
	},
}

// ValidateStep checks the config of step against the schema of its type.
// Step types without a schema accept any config.
func ValidateStep(step *models.Step) error {
	return validateConfig(step.Type, step.Config)
}

func validateConfig(stepType models.StepType, config map[string]any) error {
	schema, ok := schemas[stepType]
	if !ok {
		return nil
	}

	schemaLoader := gojsonschema.NewGoLoader(schema)
	dataLoader := gojsonschema.NewGoLoader(config)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return fmt.Errorf("failed to validate %s config: %w", stepType, err)
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			messages = append(messages, desc.String())
		}

		return fmt.Errorf("%w for %s: %s", ErrInvalidConfig, stepType, strings.Join(messages, "; "))
	}

	return nil
}
