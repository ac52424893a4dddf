package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// listen keeps a dedicated connection on LISTEN and fans notifications out
// to the hub. When the connection drops, open subscriptions are failed
// because writes may have been missed; the feed then reconnects for new
// subscribers.
func (s *Store) listen(ready chan<- error) error {
	ctx := s.tomb.Context(nil)
	signalled := false
	for {
		err := s.listenOnce(ctx, func() {
			if !signalled {
				signalled = true
				ready <- nil
			}
		})
		if !signalled {
			ready <- err
			return err
		}
		select {
		case <-s.tomb.Dying():
			return nil
		default:
		}
		s.log.Error("change feed lost", "channel", s.channel, "error", err)
		s.hub.FailAll(fmt.Errorf("change feed lost: %w", err))

		select {
		case <-s.tomb.Dying():
			return nil
		case <-time.After(s.retry):
		}
	}
}

func (s *Store) listenOnce(ctx context.Context, onReady func()) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer func() {
		// A connection left in LISTEN state must not return to the pool.
		_ = conn.Conn().Close(context.Background())
		conn.Release()
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{s.channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen %s: %w", s.channel, err)
	}
	s.log.Info("change feed listening", "channel", s.channel)
	onReady()

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		s.hub.Broadcast(n.Payload)
	}
}
