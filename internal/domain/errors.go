package domain

import "errors"

// Sentinel errors for client error conditions.
// Use errors.Is() for matching - never compare error strings.
var (
	// ID validation errors
	ErrEmptyID   = errors.New("ID cannot be empty")
	ErrInvalidID = errors.New("invalid ID format")

	// Auth errors
	ErrMissingCredentials = errors.New("username and password are required")
	ErrMissingFields      = errors.New("all fields are required for registration")
	ErrAuthCodeMismatch   = errors.New("invalid authentication code, please try again")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrAlreadyExists      = errors.New("account already exists")
	ErrAuthRejected       = errors.New("authentication rejected")
	ErrAuthInProgress     = errors.New("authentication already in progress")
	ErrAlreadyLoggedIn    = errors.New("already logged in")
	ErrNotLoggedIn        = errors.New("not logged in")

	// Connection errors
	ErrNotConnected     = errors.New("not connected to server, cannot send message")
	ErrConnectionLost   = errors.New("disconnected from chat server, reconnecting")
	ErrConnectionFailed = errors.New("failed to connect")

	// Protocol errors
	ErrMalformedMessage = errors.New("malformed message")
	ErrServerError      = errors.New("server error")

	// Send errors
	ErrEmptyMessage  = errors.New("message text is empty")
	ErrSendRejected  = errors.New("failed to send message, try again")
	ErrAckTimeout    = errors.New("timed out waiting for send acknowledgment")
	ErrMessageTooBig = errors.New("message exceeds size limit")

	// Operational errors
	ErrInvalidInput = errors.New("invalid input")
	ErrRateLimited  = errors.New("rate limit exceeded")
	ErrUnavailable  = errors.New("service temporarily unavailable")
	ErrClosed       = errors.New("session closed")

	// Configuration errors
	ErrConfigRequired = errors.New("required configuration key missing")
	ErrConfigInvalid  = errors.New("invalid configuration value")
)

// RemoteError carries failure text supplied by a remote party (auth API
// message, send ack error, serverError event). The text is shown to the user
// verbatim; Kind classifies it for errors.Is.
type RemoteError struct {
	Kind    error
	Message string
}

// NewRemoteError wraps a remote failure message under the given sentinel.
func NewRemoteError(kind error, message string) *RemoteError {
	return &RemoteError{Kind: kind, Message: message}
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return e.Message
}

func (e *RemoteError) Unwrap() error { return e.Kind }

// authErrors returns the session to LoggedOut and clears the password field.
var authErrors = []error{
	ErrMissingCredentials,
	ErrMissingFields,
	ErrAuthCodeMismatch,
	ErrInvalidCredentials,
	ErrAlreadyExists,
	ErrAuthRejected,
}

// IsAuthError reports whether err belongs to the AuthError class.
func IsAuthError(err error) bool {
	for _, target := range authErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsConnectionError reports whether err is a recoverable transport failure.
func IsConnectionError(err error) bool {
	return errors.Is(err, ErrConnectionLost) ||
		errors.Is(err, ErrConnectionFailed)
}

// IsProtocolError reports whether err came from the realtime protocol itself.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrMalformedMessage) ||
		errors.Is(err, ErrServerError)
}

// IsSendError reports whether err is a failed outbound send.
func IsSendError(err error) bool {
	return errors.Is(err, ErrNotConnected) ||
		errors.Is(err, ErrEmptyMessage) ||
		errors.Is(err, ErrSendRejected) ||
		errors.Is(err, ErrAckTimeout) ||
		errors.Is(err, ErrMessageTooBig)
}

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrAckTimeout) ||
		IsConnectionError(err)
}
