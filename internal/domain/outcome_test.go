package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewOutboundEvent_Registration(t *testing.T) {
	completed := time.Date(2025, 11, 7, 18, 28, 36, 0, time.UTC)

	trace := &Trace{
		MessageID:          "m1",
		EventType:          EventCitizenRegistration,
		SubjectID:          1234567890,
		Status:             TraceStatusSent,
		ExternalStatusCode: IntPtr(201),
		ResultMessage:      "Citizen registered successfully",
		CompletedAt:        &completed,
	}

	event, err := NewOutboundEvent(trace, "citizen.registration.completed")
	require.NoError(t, err)
	require.Equal(t, "citizen.registration.completed", event.RoutingKey)
	require.Equal(t, "m1", event.MessageID)

	body, err := event.Body()
	require.NoError(t, err)
	require.JSONEq(t, `{
		"messageId": "m1",
		"idCitizen": 1234567890,
		"registered": true,
		"status": "SENT",
		"statusCode": 201,
		"message": "Citizen registered successfully",
		"completedAt": "2025-11-07T18:28:36Z"
	}`, string(body))
}

func TestNewOutboundEvent_DocumentFailure(t *testing.T) {
	completed := time.Date(2025, 11, 7, 18, 28, 36, 0, time.UTC)

	trace := &Trace{
		MessageID:          "m2",
		EventType:          EventDocumentAuthentication,
		SubjectID:          42,
		DocumentID:         "doc-123",
		Status:             TraceStatusFailed,
		ExternalStatusCode: IntPtr(500),
		ErrorMessage:       "Document authentication failed: 500",
		CompletedAt:        &completed,
	}

	event, err := NewOutboundEvent(trace, "document.authentication.completed")
	require.NoError(t, err)

	body, err := event.Body()
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(body, &payload))
	require.Equal(t, "doc-123", payload["documentId"])
	require.Equal(t, false, payload["authenticated"])
	require.Equal(t, "Document authentication failed: 500", payload["message"])
	require.Equal(t, "2025-11-07T18:28:36Z", payload["authenticatedAt"])
}

func TestNewOutboundEvent_DefaultMessages(t *testing.T) {
	received := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	trace := &Trace{
		MessageID:  "m3",
		EventType:  EventDocumentAuthentication,
		Status:     TraceStatusSent,
		ReceivedAt: received,
	}

	event, err := NewOutboundEvent(trace, "rk")
	require.NoError(t, err)

	payload := event.Payload.(DocumentAuthenticationCompleted)
	require.True(t, payload.Authenticated)
	require.Equal(t, "Authentication successful", payload.Message)
	require.Equal(t, received, payload.AuthenticatedAt)
}

func TestNewOutboundEvent_IsDeterministic(t *testing.T) {
	completed := time.Now()
	trace := &Trace{
		MessageID:   "m4",
		EventType:   EventCitizenRegistration,
		Status:      TraceStatusError,
		CompletedAt: &completed,
	}

	first, err := NewOutboundEvent(trace, "rk")
	require.NoError(t, err)
	second, err := NewOutboundEvent(trace, "rk")
	require.NoError(t, err)

	a, err := first.Body()
	require.NoError(t, err)
	b, err := second.Body()
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestNewOutboundEvent_RequiresTerminalTrace(t *testing.T) {
	_, err := NewOutboundEvent(&Trace{MessageID: "m5", EventType: EventCitizenRegistration, Status: TraceStatusPending}, "rk")
	require.ErrorIs(t, err, ErrTraceNotTerminal)
}
