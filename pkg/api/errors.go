package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 64 << 10

// APIError represents a non-2xx response from the API.
type APIError struct {
	Status  int
	Message string
	Body    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

// StatusCode exposes the HTTP status for retry classification.
func (e *APIError) StatusCode() int {
	return e.Status
}

func newAPIError(resp *http.Response) *APIError {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	body := strings.TrimSpace(string(data))
	return &APIError{
		Status:  resp.StatusCode,
		Message: extractMessage(data),
		Body:    body,
	}
}

// extractMessage pulls a human-readable message out of an error payload.
// It understands {"detail": "..."}, {"detail": [{"msg": "..."}]} and
// {"error": "..."} and falls back to the raw body.
func extractMessage(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	if !gjson.ValidBytes(data) {
		return strings.TrimSpace(string(data))
	}
	root := gjson.ParseBytes(data)
	switch detail := root.Get("detail"); {
	case detail.Type == gjson.String:
		return detail.String()
	case detail.IsArray():
		var msgs []string
		for _, it := range detail.Array() {
			if msg := it.Get("msg").String(); msg != "" {
				msgs = append(msgs, msg)
			}
		}
		return strings.Join(msgs, "; ")
	}
	if e := root.Get("error"); e.Type == gjson.String && e.String() != "" {
		return e.String()
	}
	return strings.TrimSpace(string(data))
}

func hasStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool { return hasStatus(err, http.StatusNotFound) }

// IsUnauthorized reports whether err is a 401 from the API.
func IsUnauthorized(err error) bool { return hasStatus(err, http.StatusUnauthorized) }

// IsForbidden reports whether err is a 403 from the API.
func IsForbidden(err error) bool { return hasStatus(err, http.StatusForbidden) }
