package ollama

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ServiceError is a failure talking to the daemon. StatusCode is the upstream
// HTTP status, or 502 when the daemon could not be reached at all.
type ServiceError struct {
	StatusCode int
	Message    string
	Cause      error
}

func (e *ServiceError) Error() string {
	return e.Message
}

func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// AsServiceError extracts a *ServiceError from err's chain.
func AsServiceError(err error) (*ServiceError, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

func unreachable(err error) *ServiceError {
	return &ServiceError{
		StatusCode: http.StatusBadGateway,
		Message:    fmt.Sprintf("Unable to reach Ollama: %v", err),
		Cause:      err,
	}
}

// statusError builds a ServiceError from a non-2xx response, using the
// body's "error" field when present.
func statusError(resp *http.Response) *ServiceError {
	return &ServiceError{
		StatusCode: resp.StatusCode,
		Message:    readErrorMessage(resp.Body, resp.StatusCode),
	}
}

func readErrorMessage(body io.Reader, status int) string {
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err == nil {
		var payload map[string]json.RawMessage
		if json.Unmarshal(data, &payload) == nil {
			if raw, ok := payload["error"]; ok {
				var s string
				if json.Unmarshal(raw, &s) == nil {
					return s
				}
				return string(raw)
			}
		}
	}
	return fmt.Sprintf("Ollama responded with status %d", status)
}
