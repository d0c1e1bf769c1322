package provider

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Error is a provider API error carrying the HTTP status code.
type Error struct {
	StatusCode int
	Type       string
	Message    string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("provider error %d (%s): %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("provider error %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether the error is worth retrying: rate limiting
// (429) and server-side failures (5xx). Auth and other client errors
// are terminal.
func (e *Error) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// parseAPIError decodes the provider's error envelope when present.
func parseAPIError(status int, body []byte) *Error {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}

	apiErr := &Error{StatusCode: status, Message: http.StatusText(status)}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Type = envelope.Error.Type
		apiErr.Message = envelope.Error.Message
	}
	return apiErr
}
