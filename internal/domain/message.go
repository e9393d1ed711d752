package domain

import (
	"fmt"
	"time"
)

// Message is one chat entry. Ordering is arrival order, not Timestamp order.
type Message struct {
	ID        string
	UserID    string
	Username  string
	Text      string
	Timestamp int64 // epoch milliseconds
}

// Validate checks the fields every rendered message must carry.
func (m Message) Validate() error {
	switch {
	case m.ID == "":
		return fmt.Errorf("%w: missing id", ErrMalformedMessage)
	case m.UserID == "":
		return fmt.Errorf("%w: missing userId", ErrMalformedMessage)
	case m.Text == "":
		return fmt.Errorf("%w: missing text", ErrMalformedMessage)
	case m.Timestamp == 0:
		return fmt.Errorf("%w: missing timestamp", ErrMalformedMessage)
	}
	return nil
}

// Time returns the message timestamp as UTC time.
func (m Message) Time() time.Time {
	return FromMillis(m.Timestamp)
}
