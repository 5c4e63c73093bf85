package centralizer

import (
	"bytes"
	"encoding/json"
)

type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
	OutcomeExists    Outcome = "exists"
	OutcomeNotExists Outcome = "not_exists"
)

// Result is the normalized answer of the centralizer. Payload is always valid JSON or nil.
type Result struct {
	Outcome    Outcome
	StatusCode int
	Message    string
	Payload    json.RawMessage
}

func (r *Result) IsSuccess() bool {
	return r.Outcome == OutcomeSuccess || r.Outcome == OutcomeExists
}

type rawResponse struct {
	Raw string `json:"raw_response"`
}

func normalizePayload(body []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}

	if json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}

	wrapped, err := json.Marshal(rawResponse{Raw: string(body)})
	if err != nil {
		return nil
	}
	return wrapped
}
