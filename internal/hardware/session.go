package hardware

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dyluth/spoolscan/internal/mifare"
)

// Call runs fn on its own goroutine and waits for it or for ctx, whichever
// finishes first. A driver that ignores its context therefore cannot hold
// the caller past the deadline. Panics inside fn are returned as
// ErrDriverPanic.
func Call[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	if err := ctx.Err(); err != nil {
		var zero T
		return zero, err
	}
	return await(ctx, fn)
}

// await always starts fn, then races it against ctx.
func await[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("%w: %v", ErrDriverPanic, r)}
			}
		}()
		v, err := fn(ctx)
		done <- outcome{value: v, err: err}
	}()

	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case o := <-done:
		return o.value, o.err
	}
}

// Session is an acquired technology handle. Every method is bounded by its
// context. Release must be called exactly once by the owner; further calls
// are no-ops.
type Session struct {
	link     Link
	inflight sync.WaitGroup
	pending  atomic.Int32
	once     sync.Once
	mu       sync.Mutex
	released bool
	relErr   error
}

// Acquire requests the tag technology. The handle is released before
// returning if the request fails or ctx ends first, so a failed Acquire never
// leaks it. The released session is still returned with the error: a request
// abandoned at the deadline stays Pending until the driver returns.
func Acquire(ctx context.Context, link Link) (*Session, error) {
	s := &Session{link: link}
	_, err := call(ctx, s, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, link.RequestTechnology(ctx)
	})
	if err != nil {
		s.Release()
		return s, fmt.Errorf("failed to acquire tag technology: %w", err)
	}
	return s, nil
}

// call tracks fn as in flight on s so Drain can wait for abandoned driver calls.
func call[T any](ctx context.Context, s *Session, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return zero, ErrReleased
	}
	s.inflight.Add(1)
	s.pending.Add(1)
	s.mu.Unlock()

	return await(ctx, func(ctx context.Context) (T, error) {
		defer s.inflight.Done()
		defer s.pending.Add(-1)
		return fn(ctx)
	})
}

// GetTag returns the tag in the field.
func (s *Session) GetTag(ctx context.Context) (*Tag, error) {
	return call(ctx, s, s.link.GetTag)
}

// Authenticate tries one key on one sector.
func (s *Session) Authenticate(ctx context.Context, sector int, key mifare.Key) (bool, error) {
	return call(ctx, s, func(ctx context.Context) (bool, error) {
		return s.link.Authenticate(ctx, sector, key)
	})
}

// ReadBlock reads one block.
func (s *Session) ReadBlock(ctx context.Context, block int) ([]byte, error) {
	return call(ctx, s, func(ctx context.Context) ([]byte, error) {
		return s.link.ReadBlock(ctx, block)
	})
}

// Release cancels the technology request. Only the first call reaches the
// driver; its error is returned to every caller.
func (s *Session) Release() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.released = true
		s.mu.Unlock()
		s.relErr = s.link.CancelTechnologyRequest()
	})
	return s.relErr
}

// Pending returns the number of driver calls that have not returned yet,
// including calls abandoned by a cancelled context.
func (s *Session) Pending() int {
	return int(s.pending.Load())
}

// Drain waits up to timeout for driver calls abandoned by a cancelled
// context to return. It reports whether the link went quiet in time.
func (s *Session) Drain(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
