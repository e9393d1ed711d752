package app

import (
	"github.com/aelexs/roomchat/internal/domain"
)

// AppendResult reports what MessageStore.Append did with a message.
type AppendResult int

const (
	Appended AppendResult = iota
	DroppedDuplicate
	DroppedMalformed
)

func (r AppendResult) String() string {
	switch r {
	case Appended:
		return "appended"
	case DroppedDuplicate:
		return "duplicate"
	case DroppedMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// MessageStore is the ordered, deduplicated message list of one session.
// Entries keep arrival order; only ReplaceAll and Clear remove entries.
// The zero value is an empty store. Not safe for concurrent use; the
// session loop owns it.
type MessageStore struct {
	msgs []domain.Message
	ids  map[string]struct{}
}

// ReplaceAll swaps the contents for a history snapshot. Later duplicates of
// an id inside the snapshot are skipped.
func (s *MessageStore) ReplaceAll(msgs []domain.Message) {
	s.msgs = make([]domain.Message, 0, len(msgs))
	s.ids = make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		if _, dup := s.ids[m.ID]; dup {
			continue
		}
		s.ids[m.ID] = struct{}{}
		s.msgs = append(s.msgs, m)
	}
}

// Append adds m at the end unless it is malformed or its id is already
// present. The returned error explains a malformed drop.
func (s *MessageStore) Append(m domain.Message) (AppendResult, error) {
	if err := m.Validate(); err != nil {
		return DroppedMalformed, err
	}
	if _, dup := s.ids[m.ID]; dup {
		return DroppedDuplicate, nil
	}
	if s.ids == nil {
		s.ids = make(map[string]struct{})
	}
	s.ids[m.ID] = struct{}{}
	s.msgs = append(s.msgs, m)
	return Appended, nil
}

// Clear empties the store.
func (s *MessageStore) Clear() {
	s.msgs = nil
	s.ids = nil
}

// Messages returns the entries in arrival order. The slice shares storage
// with the store but is capped, so later appends never show through it.
func (s *MessageStore) Messages() []domain.Message {
	return s.msgs[:len(s.msgs):len(s.msgs)]
}

// Len returns the number of entries.
func (s *MessageStore) Len() int { return len(s.msgs) }

// Contains reports whether a message with id is stored.
func (s *MessageStore) Contains(id string) bool {
	_, ok := s.ids[id]
	return ok
}
