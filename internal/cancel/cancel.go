// Package cancel provides a one-shot cancellation token carrying an
// optional cause. Tokens are shared between the HTTP layer (which fires
// them) and the engines (which watch them around blocking operations).
package cancel

import (
	"errors"
	"sync"
)

// ErrCanceled is the default cause when none is supplied.
var ErrCanceled = errors.New("canceled")

// Token signals cancellation exactly once.
type Token struct {
	mu     sync.Mutex
	done   chan struct{}
	reason error
}

// NewToken returns an unsignalled token.
func NewToken() *Token {
	return &Token{done: make(chan struct{})}
}

// Cancel trips the token. The first call wins; later calls are no-ops.
// A nil reason records ErrCanceled.
func (t *Token) Cancel(reason error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.done:
		return
	default:
	}
	if reason == nil {
		reason = ErrCanceled
	}
	t.reason = reason
	close(t.done)
}

// Cancelled reports whether the token has been tripped.
func (t *Token) Cancelled() bool {
	if t == nil {
		return false
	}
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Done returns a channel closed on cancellation. Safe to select on a
// nil token: the returned channel never closes.
func (t *Token) Done() <-chan struct{} {
	if t == nil {
		return nil
	}
	return t.done
}

// Err returns the cancellation cause, or nil if not cancelled.
func (t *Token) Err() error {
	if t == nil {
		return nil
	}
	select {
	case <-t.done:
	default:
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason
}
