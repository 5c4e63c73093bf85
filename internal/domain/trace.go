package domain

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventCitizenRegistration    EventType = "citizen_registration"
	EventDocumentAuthentication EventType = "document_authentication"
)

type TraceStatus string

const (
	TraceStatusPending TraceStatus = "PENDING"
	// TraceStatusSent means the centralizer accepted the operation.
	TraceStatusSent TraceStatus = "SENT"
	// TraceStatusFailed means the centralizer answered with a non-success status.
	TraceStatusFailed TraceStatus = "FAILED"
	// TraceStatusError means the call never produced an answer (transport or internal error).
	TraceStatusError TraceStatus = "ERROR"
)

func (s TraceStatus) IsTerminal() bool {
	return s == TraceStatusSent || s == TraceStatusFailed || s == TraceStatusError
}

// Trace is the audit row of one inbound event; MessageID is its idempotency key.
type Trace struct {
	ID                 int64
	MessageID          string
	EventType          EventType
	SubjectID          int64
	DocumentID         string
	DocumentTitle      string
	Status             TraceStatus
	ExternalStatusCode *int
	ExternalResponse   json.RawMessage
	ResultMessage      string
	ErrorMessage       string
	ReceivedAt         time.Time
	CompletedAt        *time.Time
	PublishedAt        *time.Time
}

func (t *Trace) IsTerminal() bool {
	return t.Status.IsTerminal()
}

func (t *Trace) IsPublished() bool {
	return t.PublishedAt != nil
}

// Completion carries everything recorded when a trace leaves PENDING.
type Completion struct {
	Status        TraceStatus
	StatusCode    *int
	Response      json.RawMessage
	ResultMessage string
	ErrorMessage  string
}

func IntPtr(v int) *int {
	return &v
}
