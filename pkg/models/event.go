package models

// Event types derived from row changes.
const (
	EventJobCreated       = "job_created"
	EventJobStatusChanged = "job_status_changed"
	EventJobCompleted     = "job_completed"
	EventInvoiceCreated   = "invoice_created"
	EventInvoicePaid      = "invoice_paid"
	EventInvoiceOverdue   = "invoice_overdue"
	EventEstimateCreated  = "estimate_created"
	EventEstimateAccepted = "estimate_accepted"
	EventEstimateDeclined = "estimate_declined"
	EventClientCreated    = "client_created"
	EventTaskCreated      = "task_created"
	EventTaskCompleted    = "task_completed"
)

// Event is a business event offered to the trigger matcher. It is never persisted.
type Event struct {
	Type    string         `json:"type"`
	Context map[string]any `json:"context"`
}
