// Package memory is an in-process remote.Store used by tests and by the
// server when no database is configured.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/PumpeDie/teamup/internal/remote"
)

var (
	_ remote.Store      = (*Store)(nil)
	_ remote.Transactor = (*Store)(nil)
)

// Store keeps the whole tree in memory.
type Store struct {
	mu   sync.Mutex
	root map[string]any
	hub  *remote.Hub
}

// New returns an empty store.
func New() *Store {
	s := &Store{root: map[string]any{}}
	s.hub = remote.NewHub(s.Get, 0)
	return s
}

// Get implements remote.Store.
func (s *Store) Get(ctx context.Context, path string) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(path)
}

func (s *Store) read(path string) (json.RawMessage, error) {
	node, ok := lookup(s.root, remote.Split(path))
	if !ok {
		return nil, remote.ErrNotFound
	}
	return json.Marshal(node)
}

// Subscribe implements remote.Store.
func (s *Store) Subscribe(ctx context.Context, path string, onChange remote.ChangeFunc, onError remote.ErrorFunc) (remote.Unsubscribe, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.hub.Register(path, onChange, onError)
}

// Set implements remote.Store.
func (s *Store) Set(ctx context.Context, path string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v, err := encode(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.write(remote.Split(path), v)
	s.mu.Unlock()
	s.hub.Broadcast(path)
	return nil
}

// Update implements remote.Store.
func (s *Store) Update(ctx context.Context, path string, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	encoded, err := encodeFields(path, fields)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.writeFields(path, encoded)
	s.mu.Unlock()
	s.hub.Broadcast(path)
	return nil
}

func encodeFields(path string, fields map[string]any) (map[string]any, error) {
	encoded := make(map[string]any, len(fields))
	for key, value := range fields {
		if remote.Clean(key) == "" {
			return nil, fmt.Errorf("memory: empty field name in update of %q", path)
		}
		v, err := encode(value)
		if err != nil {
			return nil, fmt.Errorf("memory: field %q: %w", key, err)
		}
		encoded[key] = v
	}
	return encoded, nil
}

func (s *Store) writeFields(path string, encoded map[string]any) {
	base := remote.Split(path)
	for key, v := range encoded {
		segs := append(append([]string{}, base...), remote.Split(key)...)
		s.write(segs, v)
	}
}

// Delete implements remote.Store.
func (s *Store) Delete(ctx context.Context, path string) error {
	return s.Set(ctx, path, nil)
}

// Transact implements remote.Transactor. fn runs with the store locked.
func (s *Store) Transact(ctx context.Context, path string, fn remote.TxFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	current, err := s.read(path)
	if errors.Is(err, remote.ErrNotFound) {
		current, err = nil, nil
	}
	if err != nil {
		s.mu.Unlock()
		return err
	}
	fields, err := fn(current)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if len(fields) == 0 {
		s.mu.Unlock()
		return nil
	}
	encoded, err := encodeFields(path, fields)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.writeFields(path, encoded)
	s.mu.Unlock()
	s.hub.Broadcast(path)
	return nil
}

// NewKey implements remote.Store.
func (s *Store) NewKey(string) string {
	return remote.NewKey()
}

// Fail terminates every subscription overlapping path with err, the way a
// revoked read permission would.
func (s *Store) Fail(path string, err error) {
	s.hub.Fail(path, err)
}

// Listeners returns the number of active subscriptions.
func (s *Store) Listeners() int {
	return s.hub.Len()
}

// Close stops all subscriptions.
func (s *Store) Close() {
	s.hub.Close()
}

func (s *Store) write(segs []string, value any) {
	if len(segs) == 0 {
		if m, ok := value.(map[string]any); ok {
			s.root = m
		} else {
			s.root = map[string]any{}
		}
		return
	}
	parent := s.root
	for _, seg := range segs[:len(segs)-1] {
		child, ok := parent[seg].(map[string]any)
		if !ok {
			if value == nil {
				return
			}
			child = map[string]any{}
			parent[seg] = child
		}
		parent = child
	}
	last := segs[len(segs)-1]
	if value == nil {
		delete(parent, last)
	} else {
		parent[last] = value
	}
	prune(s.root, segs[:len(segs)-1])
}

func lookup(root map[string]any, segs []string) (any, bool) {
	var node any = root
	for _, seg := range segs {
		m, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		if node, ok = m[seg]; !ok {
			return nil, false
		}
	}
	if m, ok := node.(map[string]any); ok && len(m) == 0 {
		return nil, false
	}
	return node, true
}

// prune drops maps left empty along segs.
func prune(m map[string]any, segs []string) {
	if len(segs) == 0 {
		return
	}
	child, ok := m[segs[0]].(map[string]any)
	if !ok {
		return
	}
	prune(child, segs[1:])
	if len(child) == 0 {
		delete(m, segs[0])
	}
}

// encode converts value to its generic JSON form. Null values and empty
// objects encode to nil, which deletes.
func encode(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	var raw []byte
	switch v := value.(type) {
	case json.RawMessage:
		if remote.IsNull(v) {
			return nil, nil
		}
		raw = v
	default:
		b, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return compact(out), nil
}

func compact(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			if c := compact(child); c == nil {
				delete(t, k)
			} else {
				t[k] = c
			}
		}
		if len(t) == 0 {
			return nil
		}
		return t
	case []any:
		for i, child := range t {
			t[i] = compact(child)
		}
		return t
	default:
		return v
	}
}
