package jobs

import (
	"encoding/json"
	"errors"
)

// ErrorEnvelope is the structured form of a failed operation. It is what a
// completed task carries as data when the wrapped work returned an error.
type ErrorEnvelope struct {
	Error     string          `json:"error"`
	Backtrace []string        `json:"backtrace"`
	Input     json.RawMessage `json:"input,omitempty"`
	Path      string          `json:"path,omitempty"`
}

// NewErrorEnvelope builds the envelope for err. An input that is not valid
// JSON is stored as a JSON string.
func NewErrorEnvelope(err error, input json.RawMessage, path string) ErrorEnvelope {
	var in json.RawMessage
	if len(input) > 0 {
		in = AsInput(input)
	}
	return ErrorEnvelope{
		Error:     err.Error(),
		Backtrace: Chain(err),
		Input:     in,
		Path:      path,
	}
}

// AsInput keeps a JSON body as is and quotes anything else, so envelopes and
// the failure log always hold valid JSON.
func AsInput(body []byte) json.RawMessage {
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	quoted, _ := json.Marshal(string(body))
	return quoted
}

// Chain lists err and every error it wraps, outermost first.
func Chain(err error) []string {
	var chain []string
	for err != nil {
		chain = append(chain, err.Error())
		err = errors.Unwrap(err)
	}
	return chain
}
