package web

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/fieldflow/pkg/engine"
	"github.com/dukex/fieldflow/pkg/eventsource"
	"github.com/dukex/fieldflow/pkg/models"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// Automation is the part of the engine exposed over HTTP.
type Automation interface {
	Workflow(ctx context.Context, workflowID string) (*models.Workflow, error)
	ExecutionLogs(ctx context.Context, workflowID string, limit int) ([]*models.ExecutionRecord, error)
	Metrics(ctx context.Context, workflowID string) (*models.WorkflowMetrics, error)
	TestWorkflow(ctx context.Context, workflowID string, testContext map[string]any) (*models.ExecutionRecord, error)
	Emit(ctx context.Context, change eventsource.RowChange) error
	Pause() error
	Resume() error
	Status() engine.Status
	HealthCheck(ctx context.Context) error
}

type APIHandlers struct {
	automation Automation
	validator  *validator.Validate
}

func NewAPIHandlers(automation Automation, validator *validator.Validate) *APIHandlers {
	return &APIHandlers{
		automation: automation,
		validator:  validator,
	}
}

// Register mounts every operator route on app.
func (h *APIHandlers) Register(app *fiber.App) {
	w := app.Group("/workflows")
	w.Get("/:id/executions", h.GetExecutionLogs)
	w.Get("/:id/metrics", h.GetMetrics)
	w.Post("/:id/test", h.TestWorkflow)

	a := app.Group("/automations")
	a.Post("/pause", h.Pause)
	a.Post("/resume", h.Resume)
	a.Get("/status", h.Status)

	app.Post("/events/rows", h.IngestRowChange)
	app.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) GetExecutionLogs(c fiber.Ctx) error {
	id := c.Params("id")

	limit := engine.DefaultExecutionLogLimit

	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			return badRequest(c, "limit must be a positive integer")
		}

		limit = min(parsed, engine.MaxExecutionLogLimit)
	}

	_, err := h.automation.Workflow(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	executions, err := h.automation.ExecutionLogs(c.Context(), id, limit)
	if err != nil {
		return handleServiceError(c, err)
	}

	if executions == nil {
		executions = []*models.ExecutionRecord{}
	}

	return c.JSON(ExecutionLogsResponse{
		WorkflowID: id,
		Limit:      limit,
		Executions: executions,
	})
}

func (h *APIHandlers) GetMetrics(c fiber.Ctx) error {
	id := c.Params("id")

	_, err := h.automation.Workflow(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	metrics, err := h.automation.Metrics(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(metrics)
}

func (h *APIHandlers) TestWorkflow(c fiber.Ctx) error {
	var req TestWorkflowRequest

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	record, err := h.automation.TestWorkflow(c.Context(), c.Params("id"), req.Context)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(record)
}

// IngestRowChange accepts a row change from a database trigger and publishes it
// on the event bus.
func (h *APIHandlers) IngestRowChange(c fiber.Ctx) error {
	var req RowChangeRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	err := h.automation.Emit(c.Context(), eventsource.RowChange{
		Table:     req.Table,
		Operation: req.Operation,
		Old:       req.Old,
		New:       req.New,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

func (h *APIHandlers) Pause(c fiber.Ctx) error {
	if err := h.automation.Pause(); err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(h.automation.Status())
}

func (h *APIHandlers) Resume(c fiber.Ctx) error {
	if err := h.automation.Resume(); err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(h.automation.Status())
}

func (h *APIHandlers) Status(c fiber.Ctx) error {
	return c.JSON(h.automation.Status())
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	response := HealthResponse{
		Status:    "healthy",
		Message:   "fieldflow is healthy",
		Checkers:  map[string]string{"persistence": "ok"},
		Timestamp: time.Now().UTC(),
	}
	httpStatus := http.StatusOK

	err := h.automation.HealthCheck(c.Context())
	if err != nil {
		response.Status = "unhealthy"
		response.Message = "fieldflow is unhealthy"
		response.Checkers["persistence"] = err.Error()
		httpStatus = http.StatusInternalServerError
	}

	return c.Status(httpStatus).JSON(response)
}
