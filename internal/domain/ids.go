// Package domain contains the chat client's core types and rules.
// No transport or UI dependencies allowed.
package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// Identity is the authenticated user's id/username pair for one session.
// Set once on login or registration success, immutable until logout.
type Identity struct {
	ID       string
	Username string
}

// NewIdentity validates and builds an Identity. Server ids are opaque
// strings, so only presence is checked.
func NewIdentity(id, username string) (Identity, error) {
	if id == "" {
		return Identity{}, fmt.Errorf("user id: %w", ErrEmptyID)
	}
	if username == "" {
		return Identity{}, fmt.Errorf("username: %w", ErrInvalidInput)
	}
	return Identity{ID: id, Username: username}, nil
}

// MustIdentity creates an Identity, panicking on invalid input. Use only in tests.
func MustIdentity(id, username string) Identity {
	identity, err := NewIdentity(id, username)
	if err != nil {
		panic(err)
	}
	return identity
}

func (i Identity) IsZero() bool { return i.ID == "" }

// RequestID correlates one outbound request with its acknowledgment.
type RequestID struct {
	value string
}

// NewRequestID parses a RequestID, validating it is a UUID.
func NewRequestID(raw string) (RequestID, error) {
	if raw == "" {
		return RequestID{}, ErrEmptyID
	}
	if _, err := uuid.Parse(raw); err != nil {
		return RequestID{}, fmt.Errorf("invalid request ID %q: %w", raw, ErrInvalidID)
	}
	return RequestID{value: raw}, nil
}

// GenerateRequestID creates a new random RequestID.
func GenerateRequestID() RequestID {
	return RequestID{value: uuid.NewString()}
}

func (id RequestID) String() string { return id.value }
func (id RequestID) IsZero() bool   { return id.value == "" }
