package memory

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/PumpeDie/teamup/internal/remote"
)

type member struct {
	Name  string   `json:"name"`
	Roles []string `json:"roles,omitempty"`
}

func TestSetGetDelete(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()

	if err := s.Set(ctx, "teams/t1/members/u1", member{Name: "Ada"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	raw, err := s.Get(ctx, "teams/t1/members")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	var got map[string]member
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["u1"].Name != "Ada" {
		t.Fatalf("unexpected subtree %s", raw)
	}

	if err := s.Delete(ctx, "teams/t1/members/u1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "teams/t1"); !errors.Is(err, remote.ErrNotFound) {
		t.Fatalf("expected empty parents to be pruned, got %v", err)
	}
}

func TestUpdateWritesAllFields(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()

	if err := s.Set(ctx, "teams/t1", map[string]any{"teamName": "Alpha", "memberIds": []string{"u1"}}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	err := s.Update(ctx, "teams/t1", map[string]any{
		"memberIds":    []string{"u1", "u2"},
		"meta/renamed": true,
		"teamName":     nil,
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	raw, _ := s.Get(ctx, "teams/t1")
	var got struct {
		TeamName  string          `json:"teamName"`
		MemberIDs []string        `json:"memberIds"`
		Meta      map[string]bool `json:"meta"`
	}
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.TeamName != "" || len(got.MemberIDs) != 2 || !got.Meta["renamed"] {
		t.Fatalf("unexpected team after update: %s", raw)
	}
}

func TestLargeIntegersSurvive(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()

	const ts int64 = 1735689600123
	if err := s.Set(ctx, "m/1", map[string]int64{"timestamp": ts}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	raw, _ := s.Get(ctx, "m/1")
	var got struct {
		Timestamp int64 `json:"timestamp"`
	}
	if err := json.Unmarshal(raw, &got); err != nil || got.Timestamp != ts {
		t.Fatalf("timestamp round trip: %s %v", raw, err)
	}
}

func TestTransactAbortLeavesValue(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()

	_ = s.Set(ctx, "counters/c1", map[string]any{"n": 1, "label": "visits"})
	abort := errors.New("abort")
	if err := s.Transact(ctx, "counters/c1", func(json.RawMessage) (map[string]any, error) { return nil, abort }); !errors.Is(err, abort) {
		t.Fatalf("expected abort error, got %v", err)
	}
	err := s.Transact(ctx, "counters/c1", func(current json.RawMessage) (map[string]any, error) {
		var c struct {
			N int `json:"n"`
		}
		if err := json.Unmarshal(current, &c); err != nil {
			return nil, err
		}
		return map[string]any{"n": c.N + 1}, nil
	})
	if err != nil {
		t.Fatalf("Transact: %v", err)
	}
	raw, _ := s.Get(ctx, "counters/c1")
	if string(raw) != `{"label":"visits","n":2}` {
		t.Fatalf("counter = %s", raw)
	}
}

func TestTransactWritesOnlyReturnedFields(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()

	_ = s.Set(ctx, "teams/t1", map[string]any{"teamName": "Alpha", "memberIds": []string{"u1"}})
	_ = s.Set(ctx, "teams/t1/tasks/a", map[string]string{"title": "one"})

	err := s.Transact(ctx, "teams/t1", func(json.RawMessage) (map[string]any, error) {
		return map[string]any{"memberIds": []string{"u1", "u2"}}, nil
	})
	if err != nil {
		t.Fatalf("Transact: %v", err)
	}
	raw, _ := s.Get(ctx, "teams/t1/tasks/a")
	if string(raw) != `{"title":"one"}` {
		t.Fatalf("sibling collection changed: %s", raw)
	}
	raw, _ = s.Get(ctx, "teams/t1/memberIds")
	if string(raw) != `["u1","u2"]` {
		t.Fatalf("memberIds = %s", raw)
	}

	if err := s.Transact(ctx, "teams/t1", func(json.RawMessage) (map[string]any, error) { return nil, nil }); err != nil {
		t.Fatalf("empty Transact: %v", err)
	}
	raw, _ = s.Get(ctx, "teams/t1/teamName")
	if string(raw) != `"Alpha"` {
		t.Fatalf("teamName = %s", raw)
	}
}

func TestSubscribeSeesInitialAndLaterWrites(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()

	_ = s.Set(ctx, "teams/t1/tasks/a", map[string]string{"title": "one"})
	changes := make(chan json.RawMessage, 8)
	unsubscribe, err := s.Subscribe(ctx, "teams/t1/tasks", func(v json.RawMessage) { changes <- v }, func(error) {})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer unsubscribe()

	first := waitChange(t, changes)
	if len(first) == 0 {
		t.Fatalf("expected initial value")
	}
	_ = s.Delete(ctx, "teams/t1/tasks/a")
	if got := waitChange(t, changes); got != nil {
		t.Fatalf("expected empty collection after delete, got %s", got)
	}
	if s.Listeners() != 1 {
		t.Fatalf("expected one listener, got %d", s.Listeners())
	}
}

func TestSubscribeWithCanceledContext(t *testing.T) {
	s := New()
	defer s.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Subscribe(ctx, "p", func(json.RawMessage) {}, func(error) {}); err == nil {
		t.Fatalf("expected error for canceled context")
	}
	if s.Listeners() != 0 {
		t.Fatalf("no listener should be registered")
	}
}

func waitChange(t *testing.T, ch <-chan json.RawMessage) json.RawMessage {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("no change delivered")
		return nil
	}
}
