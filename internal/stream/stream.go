// Package stream turns a remote subscription into a channel of ordered,
// decoded snapshots.
//
// A Stream subscribes exactly once and releases the subscription exactly
// once, when its context is canceled, when Stop is called, or when the
// remote reports a failure. Snapshots coalesce: a consumer that falls
// behind receives the newest state, never a backlog.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"gopkg.in/tomb.v2"

	"github.com/PumpeDie/teamup/internal/domain"
	"github.com/PumpeDie/teamup/internal/remote"
)

// Config describes one live query.
type Config[T any] struct {
	Store remote.Store
	Path  string
	// Collection labels logs and metrics, e.g. "tasks".
	Collection string
	Decode     func(key string, raw json.RawMessage) (T, error)
	// Compare orders each snapshot. Nil keeps key order.
	Compare func(a, b T) int
	// Filter drops records from each snapshot. Nil keeps everything.
	Filter func(T) bool
	// Single treats the value at Path as one record instead of a
	// collection. Snapshots then hold zero or one item.
	Single bool
	// SkipUnchanged drops a snapshot equal to the previous one, for records
	// whose subtree also holds data the decoder ignores.
	SkipUnchanged bool
	Logger        *slog.Logger
	Metrics       *Metrics
}

// Stream delivers snapshots of a remote collection.
type Stream[T any] struct {
	tomb        tomb.Tomb
	cfg         Config[T]
	out         chan []T
	notify      chan struct{}
	failed      chan error
	unsubscribe remote.Unsubscribe

	mu     sync.Mutex
	latest json.RawMessage
}

// New subscribes to cfg.Path and starts delivering snapshots. The stream
// ends when ctx is canceled.
func New[T any](ctx context.Context, cfg Config[T]) (*Stream[T], error) {
	if cfg.Store == nil {
		return nil, errors.New("stream: nil store")
	}
	if cfg.Decode == nil {
		return nil, errors.New("stream: nil decoder")
	}
	if cfg.Collection == "" {
		cfg.Collection = cfg.Path
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Logger = cfg.Logger.With("collection", cfg.Collection, "path", cfg.Path)

	s := &Stream[T]{
		cfg:    cfg,
		out:    make(chan []T),
		notify: make(chan struct{}, 1),
		failed: make(chan error, 1),
	}
	unsubscribe, err := cfg.Store.Subscribe(ctx, cfg.Path, s.onChange, s.onError)
	if err != nil {
		return nil, domain.RemoteFailure(fmt.Sprintf("subscribe to %s", cfg.Collection), err)
	}
	s.unsubscribe = unsubscribe
	s.tomb.Go(func() error { return s.loop(ctx) })
	return s, nil
}

// Changes returns the snapshot channel. It is closed when the stream ends.
func (s *Stream[T]) Changes() <-chan []T {
	return s.out
}

// Kill asks the stream to stop without waiting.
func (s *Stream[T]) Kill() {
	s.tomb.Kill(nil)
}

// Stop ends the stream and waits for it to release its subscription.
func (s *Stream[T]) Stop() error {
	s.tomb.Kill(nil)
	return s.tomb.Wait()
}

// Wait blocks until the stream has ended and returns its terminal error.
func (s *Stream[T]) Wait() error {
	return s.tomb.Wait()
}

// Err returns the terminal error, or nil while the stream is running or
// after a clean stop.
func (s *Stream[T]) Err() error {
	err := s.tomb.Err()
	if errors.Is(err, tomb.ErrStillAlive) {
		return nil
	}
	return err
}

func (s *Stream[T]) onChange(raw json.RawMessage) {
	s.mu.Lock()
	s.latest = raw
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Stream[T]) onError(err error) {
	select {
	case s.failed <- err:
	default:
	}
}

func (s *Stream[T]) loop(ctx context.Context) error {
	defer close(s.out)
	defer s.unsubscribe()

	s.cfg.Metrics.opened(s.cfg.Collection)
	defer s.cfg.Metrics.closed(s.cfg.Collection)

	var (
		out      chan<- []T
		snapshot []T
		previous []byte
	)
	for {
		// Shutdown wins over a pending send.
		select {
		case <-s.tomb.Dying():
			return tomb.ErrDying
		case <-ctx.Done():
			return nil
		default:
		}
		select {
		case <-s.tomb.Dying():
			return tomb.ErrDying
		case <-ctx.Done():
			return nil
		case err := <-s.failed:
			s.cfg.Logger.Warn("live query failed", "error", err)
			return domain.RemoteFailure(fmt.Sprintf("watch %s", s.cfg.Collection), err)
		case <-s.notify:
			next, ok := s.build()
			if !ok {
				continue
			}
			if s.cfg.SkipUnchanged {
				encoded, err := json.Marshal(next)
				if err == nil && previous != nil && bytes.Equal(encoded, previous) {
					continue
				}
				previous = encoded
			}
			snapshot = next
			out = s.out
		case out <- snapshot:
			out = nil
		}
	}
}

func (s *Stream[T]) build() ([]T, bool) {
	s.mu.Lock()
	raw := s.latest
	s.mu.Unlock()

	var items []T
	if s.cfg.Single {
		if !remote.IsNull(raw) {
			key := lastSegment(s.cfg.Path)
			item, err := s.cfg.Decode(key, raw)
			if err != nil {
				s.decodeFailed(key, err)
				return nil, false
			}
			items = append(items, item)
		}
	} else {
		decoded, failures, err := remote.DecodeChildren(raw, s.cfg.Decode)
		if err != nil {
			s.decodeFailed("", err)
			return nil, false
		}
		for _, f := range failures {
			s.decodeFailed(f.Key, f.Err)
		}
		items = decoded
	}

	snapshot := make([]T, 0, len(items))
	for _, item := range items {
		if s.cfg.Filter == nil || s.cfg.Filter(item) {
			snapshot = append(snapshot, item)
		}
	}
	if s.cfg.Compare != nil {
		slices.SortStableFunc(snapshot, s.cfg.Compare)
	}
	s.cfg.Metrics.snapshot(s.cfg.Collection)
	return snapshot, true
}

func (s *Stream[T]) decodeFailed(key string, err error) {
	s.cfg.Logger.Warn("skipping undecodable record", "key", key, "error", err)
	s.cfg.Metrics.decodeFailure(s.cfg.Collection)
}

func lastSegment(path string) string {
	segs := remote.Split(path)
	if len(segs) == 0 {
		return ""
	}
	return segs[len(segs)-1]
}
