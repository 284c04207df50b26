package twitchapi

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is a non-2xx Helix response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twitch api: %d %s", e.Status, e.Message)
}

// IsAuthError reports whether err is an authorization-class failure, i.e. one
// that a credential refresh may recover from. Only 401 qualifies; 403 means
// the token is valid but lacks scope, which a refresh will not fix.
func IsAuthError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusUnauthorized
	}
	return false
}
