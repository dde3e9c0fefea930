// Package breaker guards calls to flaky dependencies (market-data provider,
// Redis publisher) with a consecutive-failure circuit breaker.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned without calling the guarded function while the
// breaker is open.
var ErrOpen = errors.New("circuit breaker is open")

// State is the breaker state.
type State int

const (
	StateClosed   State = 0 // calls pass through
	StateOpen     State = 1 // calls rejected until the cool-down elapses
	StateHalfOpen State = 2 // one probe call allowed
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Settings configures a Breaker.
type Settings struct {
	Name        string
	MaxFailures int           // consecutive failures before opening; default 5
	Cooldown    time.Duration // open duration before a probe; default 30s

	// IsFailure decides whether an error counts against the breaker.
	// Default: every error except context cancellation.
	IsFailure func(error) bool

	// OnStateChange is called with the breaker lock held; keep it short.
	OnStateChange func(name string, from, to State)
}

// Breaker is a consecutive-failure circuit breaker. After MaxFailures
// failures in a row it opens and rejects calls for Cooldown, then lets a
// single probe through: success closes it, failure reopens it.
type Breaker struct {
	settings Settings
	now      func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	openedAt    time.Time
	probeActive bool
}

// New creates a closed Breaker.
func New(s Settings) *Breaker {
	if s.MaxFailures <= 0 {
		s.MaxFailures = 5
	}
	if s.Cooldown <= 0 {
		s.Cooldown = 30 * time.Second
	}
	if s.IsFailure == nil {
		s.IsFailure = defaultIsFailure
	}
	return &Breaker{settings: s, now: time.Now}
}

func defaultIsFailure(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// Name returns the configured name.
func (b *Breaker) Name() string { return b.settings.Name }

// Execute runs fn through the breaker.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := fn()
	b.after(err)
	return err
}

// Do is Execute for context-aware calls.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	return b.Execute(func() error { return fn(ctx) })
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.settings.Cooldown {
			return ErrOpen
		}
		b.transition(StateHalfOpen)
		b.probeActive = true
	case StateHalfOpen:
		if b.probeActive {
			return ErrOpen
		}
		b.probeActive = true
	}
	return nil
}

func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	wasProbe := b.state == StateHalfOpen
	if wasProbe {
		b.probeActive = false
	}

	if err != nil && b.settings.IsFailure(err) {
		b.failures++
		if wasProbe || b.failures >= b.settings.MaxFailures {
			b.openedAt = b.now()
			b.transition(StateOpen)
		}
		return
	}

	if wasProbe {
		b.transition(StateClosed)
	}
	b.failures = 0
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if to == StateClosed {
		b.failures = 0
	}
	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.settings.Name, from, to)
	}
}
