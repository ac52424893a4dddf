package remote

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// ErrHubClosed is returned when registering on a stopped hub.
var ErrHubClosed = errors.New("remote: hub closed")

// FetchFunc reads the current value at a path for delivery to a listener.
type FetchFunc func(ctx context.Context, path string) (json.RawMessage, error)

// Hub tracks listeners by path and wakes the ones a write can affect.
// Every listener gets its own delivery goroutine, so a slow callback
// never holds up the others. Wakeups coalesce: a listener that is busy
// reads the newest value once it is ready again.
type Hub struct {
	mu        sync.RWMutex
	listeners map[*listener]struct{}
	fetch     FetchFunc
	timeout   time.Duration
	register  chan *listener
	unreg     chan *listener
	broadcast chan string
	fail      chan failure
	done      chan struct{}
	closeOnce sync.Once
}

type failure struct {
	path string
	err  error
}

type listener struct {
	path     string
	onChange ChangeFunc
	onError  ErrorFunc
	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once

	mu  sync.Mutex
	err error
}

// NewHub creates a hub that reads values through fetch. timeout bounds each
// read; zero means ten seconds.
func NewHub(fetch FetchFunc, timeout time.Duration) *Hub {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	h := &Hub{
		listeners: make(map[*listener]struct{}),
		fetch:     fetch,
		timeout:   timeout,
		register:  make(chan *listener),
		unreg:     make(chan *listener),
		broadcast: make(chan string),
		fail:      make(chan failure),
		done:      make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for l := range h.listeners {
				l.close()
				delete(h.listeners, l)
			}
			h.mu.Unlock()
			return
		case l := <-h.register:
			h.mu.Lock()
			h.listeners[l] = struct{}{}
			h.mu.Unlock()
			l.poke()
		case l := <-h.unreg:
			h.mu.Lock()
			delete(h.listeners, l)
			h.mu.Unlock()
			l.close()
		case path := <-h.broadcast:
			h.mu.RLock()
			for l := range h.listeners {
				if Overlaps(l.path, path) {
					l.poke()
				}
			}
			h.mu.RUnlock()
		case f := <-h.fail:
			h.mu.Lock()
			for l := range h.listeners {
				if f.path == "" || Overlaps(l.path, f.path) {
					l.setErr(f.err)
					l.poke()
					delete(h.listeners, l)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Register adds a listener for path. The current value is delivered as
// soon as the listener is in place.
func (h *Hub) Register(path string, onChange ChangeFunc, onError ErrorFunc) (Unsubscribe, error) {
	l := &listener{
		path:     Clean(path),
		onChange: onChange,
		onError:  onError,
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
	select {
	case <-h.done:
		return nil, ErrHubClosed
	default:
	}
	select {
	case h.register <- l:
	case <-h.done:
		return nil, ErrHubClosed
	}
	go h.deliver(l)
	var once sync.Once
	return func() {
		once.Do(func() { h.unregister(l) })
	}, nil
}

func (h *Hub) unregister(l *listener) {
	select {
	case h.unreg <- l:
	case <-h.done:
		l.close()
	}
}

// Broadcast wakes every listener whose path overlaps the written path.
func (h *Hub) Broadcast(path string) {
	select {
	case h.broadcast <- Clean(path):
	case <-h.done:
	}
}

// Fail ends every listener overlapping path with err.
func (h *Hub) Fail(path string, err error) {
	if path = Clean(path); path == "" {
		return
	}
	select {
	case h.fail <- failure{path: path, err: err}:
	case <-h.done:
	}
}

// FailAll ends every listener with err, e.g. when the change feed is lost.
func (h *Hub) FailAll(err error) {
	select {
	case h.fail <- failure{err: err}:
	case <-h.done:
	}
}

// Len returns the number of registered listeners.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}

// Close stops all listeners without calling them back.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

func (h *Hub) deliver(l *listener) {
	for {
		select {
		case <-l.stop:
			return
		case <-l.wake:
		}
		if err := l.takeErr(); err != nil {
			l.close()
			l.onError(err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		value, err := h.fetch(ctx, l.path)
		cancel()
		if errors.Is(err, ErrNotFound) {
			value, err = nil, nil
		}
		if err != nil {
			h.unregister(l)
			l.onError(err)
			return
		}
		select {
		case <-l.stop:
			return
		default:
		}
		l.onChange(value)
	}
}

func (l *listener) poke() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *listener) close() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *listener) setErr(err error) {
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
}

func (l *listener) takeErr() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}
