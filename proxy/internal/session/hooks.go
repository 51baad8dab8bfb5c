package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrHookTimeout is reported when a hook set does not finish within
// the configured operation timeout.
var ErrHookTimeout = errors.New("interception hooks timed out")

// RequestHook runs after a request's headers are parsed and before it
// is dispatched upstream. It may mutate the request or respond locally
// through the session.
type RequestHook func(*Session) error

// ResponseHook runs after a response's headers are parsed and before
// it is relayed to the client.
type ResponseHook func(*Session) error

// Hooks is an ordered set of registered interception handlers. Each
// event's handlers run concurrently and the session waits for all of
// them, bounded by the timeout.
type Hooks struct {
	mu        sync.RWMutex
	requests  []RequestHook
	responses []ResponseHook
	timeout   time.Duration
}

func NewHooks(timeout time.Duration) *Hooks {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Hooks{timeout: timeout}
}

func (h *Hooks) OnRequest(hook RequestHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.requests = append(h.requests, hook)
}

func (h *Hooks) OnResponse(hook ResponseHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.responses = append(h.responses, hook)
}

// RunRequest invokes every registered request hook for s and joins
// them. The first hook error wins; a timeout yields ErrHookTimeout.
func (h *Hooks) RunRequest(ctx context.Context, s *Session) error {
	h.mu.RLock()
	hooks := make([]func(*Session) error, len(h.requests))
	for i, hook := range h.requests {
		hooks[i] = hook
	}
	h.mu.RUnlock()
	return h.join(ctx, s, hooks)
}

// RunResponse invokes every registered response hook for s and joins
// them.
func (h *Hooks) RunResponse(ctx context.Context, s *Session) error {
	h.mu.RLock()
	hooks := make([]func(*Session) error, len(h.responses))
	for i, hook := range h.responses {
		hooks[i] = hook
	}
	h.mu.RUnlock()
	return h.join(ctx, s, hooks)
}

func (h *Hooks) join(ctx context.Context, s *Session, hooks []func(*Session) error) error {
	if len(hooks) == 0 {
		return nil
	}

	errc := make(chan error, len(hooks))
	var wg sync.WaitGroup
	for _, hook := range hooks {
		wg.Add(1)
		go func(hook func(*Session) error) {
			defer wg.Done()
			errc <- hook(s)
		}(hook)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(h.timeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		return ErrHookTimeout
	case <-ctx.Done():
		return ctx.Err()
	}

	close(errc)
	for err := range errc {
		if err != nil {
			return err
		}
	}
	return nil
}
