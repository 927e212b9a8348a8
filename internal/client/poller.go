package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	v1 "github.com/phattra-dev/vidttool/pkg/contracts/api/v1"
	"github.com/phattra-dev/vidttool/pkg/contracts/domain"
)

// State is the poller lifecycle. Revoked is terminal; the application exits
// or locks its UI when it sees it.
type State string

const (
	StateUnbound State = "unbound"
	StateBound   State = "bound"
	StateRevoked State = "revoked"
)

// EventKind classifies poller events.
type EventKind string

const (
	// EventBound fires when a validation succeeds, online or from the
	// offline cache.
	EventBound EventKind = "bound"
	// EventRevoked fires once, when the session ends for good.
	EventRevoked EventKind = "revoked"
	// EventTransient fires when a tick failed without changing state.
	EventTransient EventKind = "transient"
)

// PollEvent is delivered on every state-relevant tick outcome.
type PollEvent struct {
	Kind      EventKind
	Decision  domain.Decision
	Message   string
	BanReason string
	Offline   bool
	Err       error
}

// PollerConfig configures a Poller.
type PollerConfig struct {
	LicenseKey         string
	MachineFingerprint string
	DeviceID           string
	AppVersion         string

	// Interval between validation ticks. The service contract fixes this at
	// 10 seconds; it is configurable here only for tests.
	Interval time.Duration

	Logger *slog.Logger
}

// Poller revalidates the license on a fixed interval. Ticks never overlap:
// validation runs on the loop goroutine, and ticks that fire while one is in
// progress are dropped by the ticker.
//
// A failed HTTP call is a transient outage, never a revocation. The session
// survives on the signed cache until the offline window runs out; only a
// resolved terminal decision from the server, or an exhausted offline window,
// revokes.
type Poller struct {
	client *Client
	cache  *Cache
	cfg    PollerConfig
	logger *slog.Logger
	now    func() time.Time

	mu    sync.RWMutex
	state State

	events chan PollEvent
}

// NewPoller builds a poller in the Unbound state.
func NewPoller(c *Client, cache *Cache, cfg PollerConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		client: c,
		cache:  cache,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		state:  StateUnbound,
		events: make(chan PollEvent, 16),
	}
}

// Events returns the event stream. The channel closes when Run returns.
func (p *Poller) Events() <-chan PollEvent {
	return p.events
}

// State returns the current lifecycle state.
func (p *Poller) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Run ticks immediately, then on every interval, until ctx is done or the
// session is revoked.
func (p *Poller) Run(ctx context.Context) {
	defer close(p.events)

	p.tick(ctx)
	if p.State() == StateRevoked {
		return
	}

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
			if p.State() == StateRevoked {
				return
			}
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	resp, err := p.client.Validate(ctx, v1.ValidateRequest{
		LicenseKey:         p.cfg.LicenseKey,
		MachineFingerprint: p.cfg.MachineFingerprint,
		DeviceID:           p.cfg.DeviceID,
		AppVersion:         p.cfg.AppVersion,
	})
	if err != nil {
		p.handleTransient(err)
		return
	}

	if resp.Status.Terminal() {
		p.revoke(PollEvent{
			Kind:      EventRevoked,
			Decision:  resp.Status,
			Message:   resp.Message,
			BanReason: resp.BanReason,
		})
		return
	}

	p.setState(StateBound)
	if p.cache != nil {
		if err := p.cache.Save(CachedState{
			LicenseKey:  p.cfg.LicenseKey,
			LicenseType: resp.LicenseType,
			Message:     resp.Message,
			ValidatedAt: p.now(),
		}); err != nil {
			p.logger.Warn("save license cache", "error", err)
		}
	}
	p.emit(PollEvent{Kind: EventBound, Decision: resp.Status, Message: resp.Message})
}

// handleTransient keeps the session alive through outages. The signed cache
// bounds how long: past the offline window the session revokes.
func (p *Poller) handleTransient(cause error) {
	if p.cache == nil {
		p.emit(PollEvent{Kind: EventTransient, Err: cause})
		return
	}

	state, err := p.cache.Load(p.now())
	switch {
	case err == nil && state.LicenseKey == p.cfg.LicenseKey:
		p.setState(StateBound)
		p.emit(PollEvent{Kind: EventBound, Decision: domain.DecisionValid,
			Message: state.Message, Offline: true})
	case errors.Is(err, ErrCacheStale):
		p.revoke(PollEvent{Kind: EventRevoked, Offline: true, Err: cause,
			Message: "offline too long, revalidation required"})
	default:
		// Miss or tampered cache: an unbound session stays unbound, a bound
		// one rides out the outage until the next successful tick.
		p.emit(PollEvent{Kind: EventTransient, Err: cause})
	}
}

func (p *Poller) revoke(ev PollEvent) {
	p.setState(StateRevoked)
	if p.cache != nil {
		if err := p.cache.Clear(); err != nil {
			p.logger.Warn("clear license cache", "error", err)
		}
	}
	p.emit(ev)
	p.logger.Info("license session revoked",
		"decision", ev.Decision, "ban_reason", ev.BanReason, "offline", ev.Offline)
}

func (p *Poller) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *Poller) emit(ev PollEvent) {
	select {
	case p.events <- ev:
	default:
		// A slow consumer loses intermediate events, never the state itself.
	}
}
