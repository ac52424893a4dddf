package postgres

import (
	"bytes"
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"github.com/PumpeDie/teamup/internal/remote"
)

// leaf is one stored row: a scalar or array value at a full path.
type leaf struct {
	Path  string
	Value json.RawMessage
}

// flatten splits raw into leaves below base. Objects become paths; empty
// objects and nulls produce nothing.
func flatten(base string, raw json.RawMessage) ([]leaf, error) {
	base = remote.Clean(base)
	if remote.IsNull(raw) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, ok := v.(map[string]any); !ok && base == "" {
		return nil, errors.New("postgres: root value must be an object")
	}
	var out []leaf
	if err := walk(base, v, &out); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func walk(path string, v any, out *[]leaf) error {
	switch t := v.(type) {
	case nil:
		return nil
	case map[string]any:
		for key, child := range t {
			if err := remote.ValidateKey(key); err != nil {
				return err
			}
			if err := walk(remote.Join(path, key), child, out); err != nil {
				return err
			}
		}
		return nil
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return err
		}
		*out = append(*out, leaf{Path: path, Value: b})
		return nil
	}
}

// assemble rebuilds the value at base from the leaves stored at or below it.
func assemble(base string, leaves []leaf) (json.RawMessage, error) {
	base = remote.Clean(base)
	if len(leaves) == 0 {
		return nil, remote.ErrNotFound
	}
	root := map[string]any{}
	for _, l := range leaves {
		rel := strings.TrimPrefix(strings.TrimPrefix(l.Path, base), "/")
		if rel == "" {
			if len(leaves) == 1 {
				return l.Value, nil
			}
			continue
		}
		insert(root, remote.Split(rel), l.Value)
	}
	if len(root) == 0 {
		return nil, remote.ErrNotFound
	}
	return json.Marshal(root)
}

func insert(m map[string]any, segs []string, value json.RawMessage) {
	for _, seg := range segs[:len(segs)-1] {
		child, ok := m[seg].(map[string]any)
		if !ok {
			child = map[string]any{}
			m[seg] = child
		}
		m = child
	}
	last := segs[len(segs)-1]
	if _, nested := m[last].(map[string]any); nested {
		return
	}
	m[last] = value
}

// ancestors lists the proper ancestors of path, shortest first.
func ancestors(path string) []string {
	segs := remote.Split(path)
	out := make([]string, 0, len(segs))
	for i := 1; i < len(segs); i++ {
		out = append(out, strings.Join(segs[:i], "/"))
	}
	return out
}

// likePrefix matches every path strictly below path.
func likePrefix(path string) string {
	path = remote.Clean(path)
	if path == "" {
		return "%"
	}
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(path) + "/%"
}

// lockKey names the unit of write serialization: the team for anything
// under teams/<id>, otherwise the top-level node.
func lockKey(path string) string {
	segs := remote.Split(path)
	if len(segs) > 2 {
		segs = segs[:2]
	}
	return strings.Join(segs, "/")
}

type field struct {
	key  string
	path string
}

// fieldPaths resolves the keys of an Update or Transact below path, sorted
// so concurrent writers touch rows in the same order. Every field lands
// strictly below path.
func fieldPaths(path string, fields map[string]any) ([]field, error) {
	out := make([]field, 0, len(fields))
	for key := range fields {
		if remote.Clean(key) == "" {
			return nil, errors.New("empty field name in update of " + remote.Clean(path))
		}
		out = append(out, field{key: key, path: remote.Join(path, key)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].path < out[j].path })
	return out, nil
}
