package errmap

import (
	"github.com/aelexs/roomchat/internal/domain"
)

// WebSocket close codes per RFC 6455.
// Standard codes: https://datatracker.ietf.org/doc/html/rfc6455#section-7.4
// Application-specific codes use the 4000-4999 range.
const (
	// Standard codes (RFC 6455)
	CloseNormalClosure   = 1000
	CloseGoingAway       = 1001
	CloseProtocolError   = 1002
	CloseAbnormalClosure = 1006
	ClosePolicyViolation = 1008
	CloseMessageTooBig   = 1009
	CloseInternalError   = 1011
	CloseServiceRestart  = 1012
	CloseTryAgainLater   = 1013

	// Application-specific codes (4000-4999)
	CloseInvalidMessage = 4000
	CloseUnauthorized   = 4001
	CloseForbidden      = 4003
	CloseRateLimited    = 4029
)

// ToDisconnectReason converts a close code received from the server into
// the disconnect reason reported by the transport.
func ToDisconnectReason(code int) string {
	switch code {
	case CloseNormalClosure, CloseGoingAway, CloseServiceRestart:
		return domain.ReasonServerClose
	case CloseAbnormalClosure:
		return domain.ReasonTransportClose
	default:
		return domain.ReasonTransportError
	}
}

// FromCloseCode converts a server close code into the domain error that
// explains it. Normal closures return nil.
func FromCloseCode(code int, text string) error {
	switch code {
	case CloseNormalClosure, CloseGoingAway:
		return nil
	case CloseUnauthorized, CloseForbidden, ClosePolicyViolation:
		return domain.NewRemoteError(domain.ErrInvalidCredentials, text)
	case CloseRateLimited:
		return domain.NewRemoteError(domain.ErrRateLimited, text)
	case CloseTryAgainLater, CloseServiceRestart, CloseInternalError:
		return domain.NewRemoteError(domain.ErrUnavailable, text)
	case CloseInvalidMessage, CloseProtocolError:
		return domain.NewRemoteError(domain.ErrMalformedMessage, text)
	case CloseMessageTooBig:
		return domain.NewRemoteError(domain.ErrMessageTooBig, text)
	default:
		return domain.NewRemoteError(domain.ErrConnectionLost, text)
	}
}
