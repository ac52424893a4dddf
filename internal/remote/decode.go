package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// DecodeError describes a child record that could not be decoded.
type DecodeError struct {
	Key string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %q: %v", e.Key, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

var errEmptyRecord = errors.New("empty record")

// Child is one entry of a collection node.
type Child struct {
	Key   string
	Value json.RawMessage
}

// IsNull reports whether raw holds no value.
func IsNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// Children splits a collection node into its children, ordered by key.
// An empty node yields no children.
func Children(raw json.RawMessage) ([]Child, error) {
	if IsNull(raw) {
		return nil, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("collection is not an object: %w", err)
	}
	children := make([]Child, 0, len(fields))
	for key, value := range fields {
		children = append(children, Child{Key: key, Value: value})
	}
	sort.Slice(children, func(i, j int) bool { return children[i].Key < children[j].Key })
	return children, nil
}

// DecodeJSON is the default decoder: the record must be a JSON object
// whose fields have the expected types.
func DecodeJSON[T any](key string, raw json.RawMessage) (T, error) {
	var item T
	if IsNull(raw) {
		return item, errEmptyRecord
	}
	if err := json.Unmarshal(raw, &item); err != nil {
		return item, err
	}
	return item, nil
}

// DecodeChildren decodes every child of raw. Children that fail to decode
// are reported separately and left out of items.
func DecodeChildren[T any](raw json.RawMessage, decode func(key string, value json.RawMessage) (T, error)) ([]T, []*DecodeError, error) {
	children, err := Children(raw)
	if err != nil {
		return nil, nil, err
	}
	items := make([]T, 0, len(children))
	var failures []*DecodeError
	for _, child := range children {
		item, err := decode(child.Key, child.Value)
		if err != nil {
			failures = append(failures, &DecodeError{Key: child.Key, Err: err})
			continue
		}
		items = append(items, item)
	}
	return items, failures, nil
}

// GetJSON reads the record at path and decodes it into T. It returns
// ErrNotFound when the path is empty.
func GetJSON[T any](ctx context.Context, store Store, path string) (T, error) {
	var zero T
	raw, err := store.Get(ctx, path)
	if err != nil {
		return zero, err
	}
	if IsNull(raw) {
		return zero, ErrNotFound
	}
	return DecodeJSON[T]("", raw)
}
