package token

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// State is the lifecycle state of a token.
type State int32

// Token states. A token starts Active, moves to Cancelling when the first
// cancel request wins the state cell, and settles in Cancelled once every
// direct child has been asked to cancel. Cancelled is terminal.
const (
	StateActive State = iota
	StateCancelling
	StateCancelled
)

// Reason records why a token was cancelled. The first cancel request fixes
// the reason; later requests are no-ops.
type Reason int32

const (
	// ReasonNone means the token has not been cancelled.
	ReasonNone Reason = iota
	// ReasonExplicit marks a direct cancel by the owning scope (e.g. a kill).
	ReasonExplicit
	// ReasonSuperseded marks cancellation induced by a parent scope or by a
	// sibling winning a race.
	ReasonSuperseded
	// ReasonExpired marks cancellation by the root deadline timer.
	ReasonExpired
)

// String returns the reason name used in logs and API responses.
func (r Reason) String() string {
	switch r {
	case ReasonExplicit:
		return "explicit"
	case ReasonSuperseded:
		return "superseded"
	case ReasonExpired:
		return "expired"
	default:
		return "none"
	}
}

// Errors reported by Err for each terminal reason.
var (
	ErrCancelled  = errors.New("token cancelled")
	ErrSuperseded = errors.New("token superseded")
	ErrExpired    = errors.New("token deadline expired")
)

// Token is a cancellable scope. The zero value is not usable; create roots
// with NewRoot and descendants with Child. All methods are safe for
// concurrent use.
type Token struct {
	state  atomic.Int32
	reason atomic.Int32
	done   chan struct{}

	mu       sync.Mutex
	children []*Token

	timer *time.Timer
}

// NewRoot creates a root token that cancels itself with ReasonExpired at the
// given absolute deadline. A deadline at or before the current time cancels
// the token before NewRoot returns, so callers can detect an already-expired
// scope without starting any work.
func NewRoot(deadline time.Time) *Token {
	t := &Token{done: make(chan struct{})}

	d := time.Until(deadline)
	if d <= 0 {
		t.Cancel(ReasonExpired)
		return t
	}
	t.timer = time.AfterFunc(d, func() {
		t.Cancel(ReasonExpired)
	})
	return t
}

// Child derives a token owned by t. Cancelling t cancels the child with
// ReasonSuperseded. Deriving from a token that is already terminal returns a
// child that is cancelled before Child returns.
func (t *Token) Child() *Token {
	c := &Token{done: make(chan struct{})}

	t.mu.Lock()
	if State(t.state.Load()) == StateActive {
		t.children = append(t.children, c)
		t.mu.Unlock()
		return c
	}
	t.mu.Unlock()

	c.Cancel(ReasonSuperseded)
	return c
}

// Cancel requests cancellation with the given reason. The first caller wins:
// it records the reason, closes the done channel, and asks each direct child
// to cancel (fire-and-forget; Cancel does not wait for descendants' own
// cleanup). Later callers are no-ops. Cancel reports whether this call won
// the transition; losing callers can still treat the token as cancelled.
func (t *Token) Cancel(reason Reason) bool {
	if reason == ReasonNone {
		reason = ReasonExplicit
	}
	if !t.state.CompareAndSwap(int32(StateActive), int32(StateCancelling)) {
		return false
	}

	t.reason.Store(int32(reason))
	if t.timer != nil {
		t.timer.Stop()
	}
	close(t.done)

	t.mu.Lock()
	children := t.children
	t.children = nil
	t.mu.Unlock()

	for _, c := range children {
		c.Cancel(ReasonSuperseded)
	}

	t.state.Store(int32(StateCancelled))
	return true
}

// Done returns a channel that is closed when the token is cancelled.
// Consumers observe cancellation by selecting on this channel; they must not
// assume descendants have finished their own shutdown when it closes.
func (t *Token) Done() <-chan struct{} {
	return t.done
}

// State returns the token's current lifecycle state.
func (t *Token) State() State {
	return State(t.state.Load())
}

// Reason returns the recorded cancellation reason, or ReasonNone while the
// token is active.
func (t *Token) Reason() Reason {
	if State(t.state.Load()) == StateActive {
		return ReasonNone
	}
	return Reason(t.reason.Load())
}

// Err returns nil while the token is active, and a reason-specific error
// once it has been cancelled.
func (t *Token) Err() error {
	switch t.Reason() {
	case ReasonNone:
		return nil
	case ReasonSuperseded:
		return ErrSuperseded
	case ReasonExpired:
		return ErrExpired
	default:
		return ErrCancelled
	}
}

// Context bridges the token to a context.Context so that stdlib-aware
// collaborators (HTTP clients, SQL drivers) honor the token's cancellation.
// The returned cancel func releases the bridge goroutine and must be called
// when the collaborator call returns.
func (t *Token) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-t.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
