// Package errmap translates between domain errors and the outside world:
// auth API statuses and websocket close codes come in, banner text goes out.
package errmap

import (
	"errors"

	"github.com/aelexs/roomchat/internal/domain"
)

// bannerMapping defines the user-facing text for a domain error.
type bannerMapping struct {
	err  error
	text string
}

// bannerMappings lists errors whose Error() text is not fit for display.
// Order matters: first match wins (via errors.Is).
var bannerMappings = []bannerMapping{
	{domain.ErrInvalidCredentials, "login failed, check username/password"},
	{domain.ErrAlreadyExists, "registration failed, account already exists"},
	{domain.ErrRateLimited, "too many attempts, try again later"},
	{domain.ErrUnavailable, "chat service unavailable, try again later"},
	{domain.ErrAckTimeout, "no response from server, message may not have been sent"},
	{domain.ErrMessageTooBig, "message is too long"},
	{domain.ErrMalformedMessage, "received an invalid message from the server"},
}

// passthrough errors already read as banner text.
var passthrough = []error{
	domain.ErrMissingCredentials,
	domain.ErrMissingFields,
	domain.ErrAuthCodeMismatch,
	domain.ErrAuthInProgress,
	domain.ErrAlreadyLoggedIn,
	domain.ErrNotLoggedIn,
	domain.ErrNotConnected,
	domain.ErrConnectionLost,
	domain.ErrConnectionFailed,
	domain.ErrSendRejected,
	domain.ErrServerError,
	domain.ErrAuthRejected,
	domain.ErrEmptyMessage,
}

// ToBanner converts an error into the single dismissible banner text.
// Remote-supplied messages are shown verbatim.
func ToBanner(err error) string {
	if err == nil {
		return ""
	}

	var remote *domain.RemoteError
	if errors.As(err, &remote) && remote.Message != "" {
		return remote.Message
	}

	for _, m := range bannerMappings {
		if errors.Is(err, m.err) {
			return m.text
		}
	}
	for _, target := range passthrough {
		if errors.Is(err, target) {
			return err.Error()
		}
	}
	return "something went wrong, try again"
}
