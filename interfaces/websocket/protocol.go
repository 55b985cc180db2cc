package websocket

import (
	"bytes"
	"encoding/json"

	"thinknet-backend/internal/collab"
	"thinknet-backend/internal/errors"
)

// envelope is an inbound frame: {"event": "...", "data": ...}.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func decodeEnvelope(message []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(bytes.TrimSpace(message), &env); err != nil {
		return envelope{}, errors.Validation(errors.CodeInvalidInput, "malformed message").WithCause(err).Build()
	}
	if env.Event == "" {
		return envelope{}, errors.Validation(errors.CodeInvalidInput, "missing event name").Build()
	}
	return env, nil
}

func encodeEvent(ev collab.Event) ([]byte, error) {
	return json.Marshal(ev)
}

// errorEvent is what a session sees when one of its own events fails.
func errorEvent(err error) collab.Event {
	code, message := errors.PublicMessage(err)
	return collab.Event{Name: collab.EventError, Data: collab.ErrorPayload{Message: message, Code: code}}
}
