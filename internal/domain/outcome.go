package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrTraceNotTerminal = errors.New("trace is not terminal")

// OutboundEvent is the result message published for a terminal trace.
type OutboundEvent struct {
	RoutingKey string
	MessageID  string
	Payload    any
}

func (e OutboundEvent) Body() ([]byte, error) {
	return json.Marshal(e.Payload)
}

type CitizenRegistrationCompleted struct {
	MessageID   string    `json:"messageId"`
	IDCitizen   int64     `json:"idCitizen"`
	Registered  bool      `json:"registered"`
	Status      string    `json:"status"`
	StatusCode  *int      `json:"statusCode"`
	Message     string    `json:"message"`
	CompletedAt time.Time `json:"completedAt"`
}

type DocumentAuthenticationCompleted struct {
	MessageID       string    `json:"messageId"`
	DocumentID      string    `json:"documentId"`
	IDCitizen       int64     `json:"idCitizen"`
	Authenticated   bool      `json:"authenticated"`
	Message         string    `json:"message"`
	AuthenticatedAt time.Time `json:"authenticatedAt"`
}

// NewOutboundEvent derives the result event from a terminal trace.
// The same trace always yields the same payload.
func NewOutboundEvent(trace *Trace, routingKey string) (OutboundEvent, error) {
	if !trace.IsTerminal() {
		return OutboundEvent{}, fmt.Errorf("%w: %s is %s", ErrTraceNotTerminal, trace.MessageID, trace.Status)
	}

	completedAt := trace.ReceivedAt
	if trace.CompletedAt != nil {
		completedAt = *trace.CompletedAt
	}
	completedAt = completedAt.UTC()

	ok := trace.Status == TraceStatusSent

	var payload any
	switch trace.EventType {
	case EventCitizenRegistration:
		payload = CitizenRegistrationCompleted{
			MessageID:   trace.MessageID,
			IDCitizen:   trace.SubjectID,
			Registered:  ok,
			Status:      string(trace.Status),
			StatusCode:  trace.ExternalStatusCode,
			Message:     outcomeMessage(trace, "Citizen registered successfully", "Registration failed"),
			CompletedAt: completedAt,
		}
	case EventDocumentAuthentication:
		payload = DocumentAuthenticationCompleted{
			MessageID:       trace.MessageID,
			DocumentID:      trace.DocumentID,
			IDCitizen:       trace.SubjectID,
			Authenticated:   ok,
			Message:         outcomeMessage(trace, "Authentication successful", "Authentication failed"),
			AuthenticatedAt: completedAt,
		}
	default:
		return OutboundEvent{}, fmt.Errorf("unknown event type %q", trace.EventType)
	}

	return OutboundEvent{
		RoutingKey: routingKey,
		MessageID:  trace.MessageID,
		Payload:    payload,
	}, nil
}

func outcomeMessage(trace *Trace, success, failure string) string {
	switch {
	case trace.ResultMessage != "":
		return trace.ResultMessage
	case trace.ErrorMessage != "":
		return trace.ErrorMessage
	case trace.Status == TraceStatusSent:
		return success
	default:
		return failure
	}
}
