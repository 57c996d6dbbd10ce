// Package gate implements the client-side access check against the moderation
// decision endpoint. It drives a small state machine: checking on entry, then
// clear, suspended with a live countdown, or banned. Suspended clients keep
// re-polling the server because an admin revoke can clear them faster than the
// local countdown.
package gate

import (
	"context"
	"sync"
	"time"
)

// State is the gate's externally visible condition.
type State string

const (
	StateChecking  State = "checking"
	StateClear     State = "clear"
	StateSuspended State = "suspended"
	StateBanned    State = "banned"
	// StateRestored is emitted exactly once when a suspension lifts, before
	// the gate settles on StateClear.
	StateRestored State = "restored"
)

// Client fetches the current moderation decision for this caller.
type Client interface {
	Decide(ctx context.Context) (Decision, error)
}

// Decision mirrors the decide endpoint's response.
type Decision struct {
	Banned          bool       `json:"banned"`
	TerminatedUntil *time.Time `json:"terminatedUntil"`
}

// Config configures a Gate. Client is required; everything else has defaults.
type Config struct {
	Client Client
	// PollInterval is how often a suspended gate re-checks the server.
	PollInterval time.Duration
	// Tick is the countdown resolution while suspended.
	Tick time.Duration
	Now  func() time.Time
	// OnTransition is called on every state change, including the one-time
	// StateRestored notice.
	OnTransition func(State)
	// OnCountdown is called each tick while suspended with the remaining time.
	OnCountdown func(remaining time.Duration)
}

// Gate polls the decision endpoint and tracks the caller's access state.
type Gate struct {
	client       Client
	pollInterval time.Duration
	tick         time.Duration
	now          func() time.Time
	onTransition func(State)
	onCountdown  func(remaining time.Duration)

	mu    sync.Mutex
	state State
	until time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a stopped Gate in StateChecking.
func New(cfg Config) *Gate {
	g := &Gate{
		client:       cfg.Client,
		pollInterval: cfg.PollInterval,
		tick:         cfg.Tick,
		now:          cfg.Now,
		onTransition: cfg.OnTransition,
		onCountdown:  cfg.OnCountdown,
		state:        StateChecking,
	}
	if g.pollInterval <= 0 {
		g.pollInterval = 15 * time.Second
	}
	if g.tick <= 0 {
		g.tick = time.Second
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.onTransition == nil {
		g.onTransition = func(State) {}
	}
	if g.onCountdown == nil {
		g.onCountdown = func(time.Duration) {}
	}
	return g
}

// Start checks the decision endpoint once and, if the caller is suspended,
// keeps a countdown and a server poll running until the suspension lifts, the
// caller is banned, or Stop is called.
func (g *Gate) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel
	g.done = make(chan struct{})
	go g.run(ctx)
}

// Stop tears the gate down. A poll already in flight when Stop is called is
// discarded rather than applied.
func (g *Gate) Stop() {
	if g.cancel == nil {
		return
	}
	g.cancel()
	<-g.done
}

// State returns the current state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Remaining returns the time left on the current suspension, or zero when the
// gate is not suspended.
func (g *Gate) Remaining() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateSuspended {
		return 0
	}
	remaining := g.until.Sub(g.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (g *Gate) run(ctx context.Context) {
	defer close(g.done)

	decision, err := g.client.Decide(ctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		// The server fails open on its side; an unreachable server must not
		// lock legitimate users out either.
		g.transition(StateClear)
		return
	}

	switch {
	case decision.Banned:
		g.transition(StateBanned)
	case decision.TerminatedUntil != nil && decision.TerminatedUntil.After(g.now()):
		g.setSuspended(*decision.TerminatedUntil)
		g.suspendLoop(ctx)
	default:
		g.transition(StateClear)
	}
}

func (g *Gate) suspendLoop(ctx context.Context) {
	countdown := time.NewTicker(g.tick)
	defer countdown.Stop()
	poll := time.NewTicker(g.pollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-countdown.C:
			remaining := g.Remaining()
			if remaining <= 0 {
				g.restore()
				return
			}
			g.onCountdown(remaining)

		case <-poll.C:
			decision, err := g.client.Decide(ctx)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				// Keep the current state; the countdown still runs.
				continue
			}
			if decision.Banned {
				g.transition(StateBanned)
				return
			}
			if decision.TerminatedUntil == nil || !decision.TerminatedUntil.After(g.now()) {
				g.restore()
				return
			}
			// The suspension may have been extended or replaced.
			g.setSuspended(*decision.TerminatedUntil)
		}
	}
}

// restore emits the one-time restored notice, then settles on clear.
func (g *Gate) restore() {
	g.transition(StateRestored)
	g.transition(StateClear)
}

func (g *Gate) setSuspended(until time.Time) {
	g.mu.Lock()
	changed := g.state != StateSuspended
	g.state = StateSuspended
	g.until = until
	g.mu.Unlock()
	if changed {
		g.onTransition(StateSuspended)
	}
}

func (g *Gate) transition(next State) {
	g.mu.Lock()
	if g.state == next {
		g.mu.Unlock()
		return
	}
	g.state = next
	g.mu.Unlock()
	g.onTransition(next)
}
