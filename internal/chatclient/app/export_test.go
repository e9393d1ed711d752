package app

import (
	"context"

	"github.com/aelexs/roomchat/internal/domain"
)

// Flush waits until every event posted before it has been applied.
func (m *Manager) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if err := m.post(ctx, flush{done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-m.stopped:
		return domain.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
