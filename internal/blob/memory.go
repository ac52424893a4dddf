package blob

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

// Object is a stored blob.
type Object struct {
	Data        []byte
	ContentType string
}

// Memory is an in-process Store whose public URLs live under BaseURL.
type Memory struct {
	BaseURL string

	mu      sync.RWMutex
	objects map[string]Object
}

// NewMemory returns an empty store serving URLs under baseURL.
func NewMemory(baseURL string) *Memory {
	return &Memory{BaseURL: strings.TrimSuffix(baseURL, "/"), objects: make(map[string]Object)}
}

func (m *Memory) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = Object{Data: append([]byte(nil), data...), ContentType: contentType}
	return nil
}

func (m *Memory) PublicURL(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return m.BaseURL + "/" + strings.Join(segments, "/"), nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; !ok {
		return ErrNotFound
	}
	delete(m.objects, key)
	return nil
}

// Get returns the object stored under key.
func (m *Memory) Get(key string) (Object, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	return obj, ok
}

// Keys lists stored keys.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	return keys
}

// Handler serves stored objects by key so that PublicURL links resolve when
// the store backs a development server. prefix is the URL path the handler
// is mounted under.
func (m *Memory) Handler(prefix string) http.Handler {
	return http.StripPrefix(prefix, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		key, err := url.PathUnescape(strings.TrimPrefix(req.URL.EscapedPath(), "/"))
		if err != nil {
			http.NotFound(w, req)
			return
		}
		obj, ok := m.Get(key)
		if !ok {
			http.NotFound(w, req)
			return
		}
		if obj.ContentType != "" {
			w.Header().Set("Content-Type", obj.ContentType)
		}
		_, _ = w.Write(obj.Data)
	}))
}
