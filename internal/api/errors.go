package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrMissingCredentials is returned when a server entry has neither a token nor a
	// username and password.
	ErrMissingCredentials = errors.New("server entry needs a token or a username and password")
	// ErrUnauthorized is matched by ErrorResponse values carrying a 401 status.
	ErrUnauthorized = errors.New("unauthorized")
)

// ErrorResponse is returned for any non-2xx reply from the server.
type ErrorResponse struct {
	StatusCode int
	Body       string
}

func (e *ErrorResponse) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		body = "(empty body)"
	}
	return fmt.Sprintf("API error: %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), body)
}

// Is reports whether the response status corresponds to target.
func (e *ErrorResponse) Is(target error) bool {
	return target == ErrUnauthorized && e.StatusCode == http.StatusUnauthorized
}
