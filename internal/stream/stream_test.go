package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/PumpeDie/teamup/internal/domain"
	"github.com/PumpeDie/teamup/internal/remote"
	"github.com/PumpeDie/teamup/internal/remote/memory"
)

type item struct {
	ID    string `json:"-"`
	Title string `json:"title"`
	Rank  int    `json:"rank"`
}

func decodeItem(key string, raw json.RawMessage) (item, error) {
	it, err := remote.DecodeJSON[item](key, raw)
	it.ID = key
	return it, err
}

type countingStore struct {
	*memory.Store
	subscribes   atomic.Int32
	unsubscribes atomic.Int32
}

func (c *countingStore) Subscribe(ctx context.Context, path string, onChange remote.ChangeFunc, onError remote.ErrorFunc) (remote.Unsubscribe, error) {
	unsubscribe, err := c.Store.Subscribe(ctx, path, onChange, onError)
	if err != nil {
		return nil, err
	}
	c.subscribes.Add(1)
	return func() {
		c.unsubscribes.Add(1)
		unsubscribe()
	}, nil
}

func newStore(t *testing.T) *countingStore {
	t.Helper()
	s := &countingStore{Store: memory.New()}
	t.Cleanup(s.Close)
	return s
}

func byRank(a, b item) int { return a.Rank - b.Rank }

func next(t *testing.T, ch <-chan []item) []item {
	t.Helper()
	select {
	case snap, ok := <-ch:
		if !ok {
			t.Fatalf("stream closed unexpectedly")
		}
		return snap
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for snapshot")
		return nil
	}
}

func titles(items []item) string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Title
	}
	return strings.Join(out, ",")
}

func waitClosed(t *testing.T, ch <-chan []item) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("stream channel not closed")
		}
	}
}

func TestStreamEmitsInitialAndOrderedUpdates(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	_ = store.Set(ctx, "teams/t1/tasks/b", item{Title: "second", Rank: 2})
	_ = store.Set(ctx, "teams/t1/tasks/a", item{Title: "third", Rank: 3})

	s, err := New(ctx, Config[item]{
		Store:      store,
		Path:       "teams/t1/tasks",
		Collection: "tasks",
		Decode:     decodeItem,
		Compare:    byRank,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Stop()

	if got := titles(next(t, s.Changes())); got != "second,third" {
		t.Fatalf("initial snapshot %q", got)
	}
	_ = store.Set(ctx, "teams/t1/tasks/c", item{Title: "first", Rank: 1})
	if got := titles(next(t, s.Changes())); got != "first,second,third" {
		t.Fatalf("after insert %q", got)
	}
}

func TestStreamEmptyCollectionEmitsEmptySnapshot(t *testing.T) {
	store := newStore(t)
	s, err := New(context.Background(), Config[item]{Store: store, Path: "teams/t1/tasks", Decode: decodeItem})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Stop()
	snap := next(t, s.Changes())
	if snap == nil || len(snap) != 0 {
		t.Fatalf("expected empty non-nil snapshot, got %#v", snap)
	}
}

func TestStreamSkipsCorruptRecord(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	for i := 1; i <= 4; i++ {
		_ = store.Set(ctx, fmt.Sprintf("teams/t1/tasks/k%d", i), item{Title: fmt.Sprintf("t%d", i), Rank: i})
	}
	_ = store.Set(ctx, "teams/t1/tasks/k5", map[string]any{"title": "bad", "rank": "not a number"})

	metrics := NewMetrics(prometheus.NewRegistry())
	s, err := New(ctx, Config[item]{Store: store, Path: "teams/t1/tasks", Decode: decodeItem, Compare: byRank, Metrics: metrics})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Stop()
	if got := titles(next(t, s.Changes())); got != "t1,t2,t3,t4" {
		t.Fatalf("expected the four valid records, got %q", got)
	}
}

func TestStreamFilter(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	_ = store.Set(ctx, "p/a", item{Title: "keep", Rank: 1})
	_ = store.Set(ctx, "p/b", item{Title: "drop", Rank: 2})
	s, err := New(ctx, Config[item]{
		Store:  store,
		Path:   "p",
		Decode: decodeItem,
		Filter: func(it item) bool { return it.Title == "keep" },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Stop()
	if got := titles(next(t, s.Changes())); got != "keep" {
		t.Fatalf("filtered snapshot %q", got)
	}
}

func TestStreamSingleRecord(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	_ = store.Set(ctx, "teams/t1", item{Title: "Alpha"})
	s, err := New(ctx, Config[item]{Store: store, Path: "teams/t1", Decode: decodeItem, Single: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Stop()

	snap := next(t, s.Changes())
	if len(snap) != 1 || snap[0].ID != "t1" || snap[0].Title != "Alpha" {
		t.Fatalf("unexpected single snapshot %+v", snap)
	}
	_ = store.Delete(ctx, "teams/t1")
	if snap := next(t, s.Changes()); len(snap) != 0 {
		t.Fatalf("expected empty snapshot after delete, got %+v", snap)
	}
}

func TestStreamSkipUnchangedIgnoresChildWrites(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	_ = store.Set(ctx, "teams/t1", item{Title: "Alpha"})
	s, err := New(ctx, Config[item]{Store: store, Path: "teams/t1", Decode: decodeItem, Single: true, SkipUnchanged: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Stop()

	if snap := next(t, s.Changes()); titles(snap) != "Alpha" {
		t.Fatalf("unexpected initial snapshot %+v", snap)
	}
	_ = store.Set(ctx, "teams/t1/messages/r1/m1", map[string]string{"text": "hi"})
	select {
	case snap := <-s.Changes():
		t.Fatalf("unchanged record re-delivered: %+v", snap)
	case <-time.After(100 * time.Millisecond):
	}
	_ = store.Set(ctx, "teams/t1/title", "Beta")
	if snap := next(t, s.Changes()); titles(snap) != "Beta" {
		t.Fatalf("expected renamed record, got %+v", snap)
	}
}

func TestStreamKillDeliversNothingFurther(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	for i := 0; i < 50; i++ {
		path := fmt.Sprintf("items/%d", i)
		_ = store.Set(ctx, path+"/a", item{Title: "one"})
		s, err := New(ctx, Config[item]{Store: store, Path: path, Decode: decodeItem})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		next(t, s.Changes())
		_ = store.Set(ctx, path+"/b", item{Title: "two"})
		s.Kill()
		if snap, ok := <-s.Changes(); ok {
			t.Fatalf("round %d: snapshot delivered after Kill: %+v", i, snap)
		}
		if err := s.Wait(); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
}

func TestStreamCancelReleasesSubscriptionOnce(t *testing.T) {
	store := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	s, err := New(ctx, Config[item]{Store: store, Path: "teams/t1/tasks", Decode: decodeItem})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	next(t, s.Changes())

	cancel()
	waitClosed(t, s.Changes())
	if err := s.Wait(); err != nil {
		t.Fatalf("cancel should end cleanly, got %v", err)
	}
	_ = s.Stop()

	if got := store.subscribes.Load(); got != 1 {
		t.Fatalf("subscribed %d times", got)
	}
	if got := store.unsubscribes.Load(); got != 1 {
		t.Fatalf("unsubscribed %d times", got)
	}
	deadline := time.Now().Add(2 * time.Second)
	for store.Listeners() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("listener still registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStreamStopWithoutConsumer(t *testing.T) {
	store := newStore(t)
	s, err := New(context.Background(), Config[item]{Store: store, Path: "p", Decode: decodeItem})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- s.Stop() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Stop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Stop blocked on an unread snapshot")
	}
	if got := store.unsubscribes.Load(); got != 1 {
		t.Fatalf("unsubscribed %d times", got)
	}
}

func TestStreamRemoteFailureIsTerminal(t *testing.T) {
	store := newStore(t)
	s, err := New(context.Background(), Config[item]{Store: store, Path: "teams/t1/messages/r1", Decode: decodeItem})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	next(t, s.Changes())

	denied := errors.New("permission denied")
	store.Fail("teams/t1", denied)
	waitClosed(t, s.Changes())

	err = s.Wait()
	if !domain.IsCode(err, domain.CodeRemoteFailure) || !errors.Is(err, denied) {
		t.Fatalf("expected remote failure wrapping cause, got %v", err)
	}
	if s.Err() == nil {
		t.Fatalf("Err should report the terminal failure")
	}
	if got := store.unsubscribes.Load(); got != 1 {
		t.Fatalf("unsubscribed %d times", got)
	}
}

func TestStreamsAreIndependent(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	cfg := Config[item]{Store: store, Path: "teams/t1/tasks", Decode: decodeItem, Compare: byRank}

	first, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	second, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer second.Stop()
	next(t, first.Changes())
	next(t, second.Changes())

	if err := first.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	_ = store.Set(ctx, "teams/t1/tasks/a", item{Title: "after", Rank: 1})
	if got := titles(next(t, second.Changes())); got != "after" {
		t.Fatalf("second stream missed update: %q", got)
	}
}

func TestStreamCoalescesForSlowConsumer(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	s, err := New(ctx, Config[item]{Store: store, Path: "p", Decode: decodeItem, Compare: byRank})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Stop()
	next(t, s.Changes())

	for i := 1; i <= 20; i++ {
		_ = store.Set(ctx, fmt.Sprintf("p/k%02d", i), item{Title: fmt.Sprintf("t%d", i), Rank: i})
	}
	received := 0
	for {
		snap := next(t, s.Changes())
		received++
		if len(snap) == 20 {
			break
		}
	}
	if received > 20 {
		t.Fatalf("received %d snapshots for 20 writes", received)
	}
}

func TestNewRejectsIncompleteConfig(t *testing.T) {
	if _, err := New(context.Background(), Config[item]{Path: "p", Decode: decodeItem}); err == nil {
		t.Fatalf("expected error without store")
	}
	if _, err := New(context.Background(), Config[item]{Store: newStore(t), Path: "p"}); err == nil {
		t.Fatalf("expected error without decoder")
	}
}
