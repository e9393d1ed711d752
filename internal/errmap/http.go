package errmap

import (
	"net/http"

	"github.com/aelexs/roomchat/internal/domain"
)

// statusMapping defines an auth API HTTP status to domain error mapping.
type statusMapping struct {
	statusCode int
	err        error
}

// statusMappings maps auth API failure statuses to domain errors.
// Statuses not listed fall back by class (4xx rejected, 5xx unavailable).
var statusMappings = []statusMapping{
	{http.StatusBadRequest, domain.ErrAuthRejected},
	{http.StatusUnauthorized, domain.ErrInvalidCredentials},
	{http.StatusForbidden, domain.ErrInvalidCredentials},
	{http.StatusNotFound, domain.ErrInvalidCredentials},
	{http.StatusConflict, domain.ErrAlreadyExists},
	{http.StatusUnprocessableEntity, domain.ErrAuthRejected},
	{http.StatusTooManyRequests, domain.ErrRateLimited},
	{http.StatusServiceUnavailable, domain.ErrUnavailable},
}

// FromHTTPStatus converts a failed auth API response into a domain error.
// The server-provided message, if any, is kept verbatim for display.
func FromHTTPStatus(statusCode int, message string) error {
	kind := domain.ErrAuthRejected
	if statusCode >= http.StatusInternalServerError {
		kind = domain.ErrUnavailable
	}
	for _, m := range statusMappings {
		if m.statusCode == statusCode {
			kind = m.err
			break
		}
	}
	return domain.NewRemoteError(kind, message)
}

// IsSuccessStatus reports whether an auth API status code carries an identity.
func IsSuccessStatus(statusCode int) bool {
	return statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices
}
