// Package breaker implements a three-state circuit breaker for persistence
// I/O.
//
//	closed    --threshold consecutive failures--> open
//	open      --resetAfter elapsed--------------> half-open (one probe)
//	half-open --success-------------------------> closed
//	half-open --failure-------------------------> open
package breaker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"
)

// ErrOpen is returned by Do while the breaker rejects calls.
var ErrOpen = errors.New("circuit breaker is open")

// State is the breaker position.
type State uint32

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker is safe for concurrent use.
type Breaker struct {
	name       string
	threshold  int32
	resetAfter time.Duration
	now        func() time.Time

	failures atomic.Int32
	state    atomic.Uint32
	openedAt atomic.Int64 // unix nanos
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// New returns a closed breaker. A threshold below 1 never opens.
func New(name string, threshold int, resetAfter time.Duration, opts ...Option) *Breaker {
	if threshold > math.MaxInt32 {
		threshold = math.MaxInt32
	}
	b := &Breaker{
		name:       name,
		threshold:  int32(threshold),
		resetAfter: resetAfter,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name identifies the breaker in logs.
func (b *Breaker) Name() string { return b.name }

// Allow reports whether a call may proceed. After the cooldown exactly one
// caller wins the half-open probe.
func (b *Breaker) Allow() bool {
	for {
		switch State(b.state.Load()) {
		case Open:
			opened := time.Unix(0, b.openedAt.Load())
			if b.now().Sub(opened) < b.resetAfter {
				return false
			}
			if b.state.CompareAndSwap(uint32(Open), uint32(HalfOpen)) {
				return true
			}
		case HalfOpen:
			return false
		default:
			return true
		}
	}
}

// RecordSuccess closes the breaker and clears the failure count.
func (b *Breaker) RecordSuccess() {
	b.failures.Store(0)
	b.state.Store(uint32(Closed))
}

// RecordFailure counts a failure. A failed half-open probe reopens with a
// fresh cooldown.
func (b *Breaker) RecordFailure() {
	if State(b.state.Load()) == HalfOpen {
		b.openedAt.Store(b.now().UnixNano())
		if b.state.CompareAndSwap(uint32(HalfOpen), uint32(Open)) {
			b.failures.Store(0)
			return
		}
	}
	if b.threshold < 1 {
		return
	}
	for {
		cur := b.failures.Load()
		if cur == math.MaxInt32 {
			return
		}
		if !b.failures.CompareAndSwap(cur, cur+1) {
			continue
		}
		// openedAt is written before the state flips so Allow never sees
		// an open breaker with a stale timestamp.
		if cur+1 >= b.threshold && State(b.state.Load()) == Closed {
			b.openedAt.Store(b.now().UnixNano())
			b.state.CompareAndSwap(uint32(Closed), uint32(Open))
		}
		return
	}
}

// State returns the current position without transitioning.
func (b *Breaker) State() State {
	return State(b.state.Load())
}

// Failures is the current consecutive failure count.
func (b *Breaker) Failures() int {
	return int(b.failures.Load())
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.RecordSuccess()
	b.openedAt.Store(0)
}

// Do runs fn when allowed and records its outcome. Context cancellation
// is not counted as a failure.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !b.Allow() {
		return fmt.Errorf("%s: %w", b.name, ErrOpen)
	}
	err := fn(ctx)
	switch {
	case err == nil:
		b.RecordSuccess()
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		// Release a half-open probe so the next caller can retry.
		b.state.CompareAndSwap(uint32(HalfOpen), uint32(Open))
	default:
		b.RecordFailure()
	}
	return err
}
