package esri

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingURL is returned when a service or task is built without a URL.
	ErrMissingURL = errors.New("esri: url is required")
	// ErrUnsupportedGeometry is returned for geometry inputs that cannot be normalized.
	ErrUnsupportedGeometry = errors.New("esri: unsupported geometry")
)

// HTTPError is returned for non-2xx responses.
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP error! status: %d", e.StatusCode)
}

// APIError is the error member ArcGIS embeds in otherwise successful responses.
type APIError struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = fmt.Sprintf("ArcGIS error %d", e.Code)
	}
	if len(e.Details) > 0 {
		msg += " (" + strings.Join(e.Details, "; ") + ")"
	}
	return msg
}
