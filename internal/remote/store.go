// Package remote defines the push-capable hierarchical store every team
// collection lives in, together with helpers shared by its adapters.
//
// Values are JSON. A path addresses a node in the tree ("teams/<id>/tasks");
// reading a path returns the whole subtree below it.
package remote

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound indicates nothing is stored at a path.
var ErrNotFound = errors.New("remote: not found")

// ChangeFunc receives the full value at a subscribed path. A nil value means
// the path is currently empty.
type ChangeFunc func(value json.RawMessage)

// ErrorFunc receives a terminal subscription failure. No further callbacks
// follow it.
type ErrorFunc func(err error)

// Unsubscribe removes a listener. It is safe to call more than once.
type Unsubscribe func()

// Store is the remote data service. All methods may block on I/O.
type Store interface {
	// Get returns the subtree at path, or ErrNotFound.
	Get(ctx context.Context, path string) (json.RawMessage, error)
	// Subscribe registers a listener that is called with the current value
	// right away and again after every write touching path. ctx bounds the
	// registration only, not the lifetime of the listener.
	Subscribe(ctx context.Context, path string, onChange ChangeFunc, onError ErrorFunc) (Unsubscribe, error)
	// Set replaces the subtree at path with value encoded as JSON.
	Set(ctx context.Context, path string, value any) error
	// Update sets each field below path in a single atomic write.
	Update(ctx context.Context, path string, fields map[string]any) error
	// Delete removes the subtree at path.
	Delete(ctx context.Context, path string) error
	// NewKey generates a unique child key for path. Keys sort in creation
	// order.
	NewKey(path string) string
}

// TxFunc computes, from the current value at a path (nil when empty), the
// fields to write below that path. The fields are applied like Update:
// siblings that are not named keep their value. Returning no fields writes
// nothing; returning an error aborts the transaction.
type TxFunc func(current json.RawMessage) (map[string]any, error)

// Transactor is implemented by stores that can run an atomic
// read-modify-write on a single path.
type Transactor interface {
	Transact(ctx context.Context, path string, fn TxFunc) error
}

// NewKey returns a time-ordered unique key.
func NewKey() string {
	return uuid.Must(uuid.NewV7()).String()
}
