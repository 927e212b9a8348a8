package client

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/phattra-dev/vidttool/pkg/contracts/api/v1"
	"github.com/phattra-dev/vidttool/pkg/contracts/domain"
)

// scriptedServer serves canned validation responses in order, repeating the
// last one.
type scriptedServer struct {
	mu        sync.Mutex
	responses []v1.ValidateResponse
	calls     int
	failing   bool
}

func (s *scriptedServer) set(failing bool, responses ...v1.ValidateResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = failing
	s.responses = responses
	s.calls = 0
}

func (s *scriptedServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.failing {
			// Hijack-free way to simulate an outage: an empty 502.
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		idx := s.calls
		if idx >= len(s.responses) {
			idx = len(s.responses) - 1
		}
		s.calls++
		json.NewEncoder(w).Encode(s.responses[idx])
	}
}

func testPoller(t *testing.T, serverURL string, cache *Cache) *Poller {
	t.Helper()
	c := New(WithBaseURL(serverURL), WithHTTPClient(&http.Client{Timeout: time.Second}))
	return NewPoller(c, cache, PollerConfig{
		LicenseKey:         "VT-AAAA-BBBB-CCCC-DDDD",
		MachineFingerprint: "fp-machine-one",
		DeviceID:           "device-1",
		AppVersion:         "3.1.0",
		Interval:           20 * time.Millisecond,
		Logger:             slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func waitForEvent(t *testing.T, events <-chan PollEvent, kind EventKind) PollEvent {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "event channel closed before %s", kind)
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", kind)
		}
	}
}

func TestPollerBindsOnValidDecision(t *testing.T) {
	script := &scriptedServer{}
	script.set(false, v1.ValidateResponse{Status: domain.DecisionValid, Message: "License valid"})
	srv := httptest.NewServer(script.handler())
	defer srv.Close()

	p := testPoller(t, srv.URL, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	ev := waitForEvent(t, p.Events(), EventBound)
	assert.Equal(t, domain.DecisionValid, ev.Decision)
	assert.Equal(t, StateBound, p.State())
}

func TestPollerRevokesOnTerminalDecision(t *testing.T) {
	script := &scriptedServer{}
	script.set(false,
		v1.ValidateResponse{Status: domain.DecisionValid},
		v1.ValidateResponse{Status: domain.DecisionBanned, BanReason: "chargeback"},
	)
	srv := httptest.NewServer(script.handler())
	defer srv.Close()

	p := testPoller(t, srv.URL, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	ev := waitForEvent(t, p.Events(), EventRevoked)
	assert.Equal(t, domain.DecisionBanned, ev.Decision)
	assert.Equal(t, "chargeback", ev.BanReason)
	assert.Equal(t, StateRevoked, p.State())

	// Revocation is terminal; the loop exits on its own.
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop after revocation")
	}
}

func TestPollerOutageIsTransientNotRevocation(t *testing.T) {
	script := &scriptedServer{}
	script.set(true)
	srv := httptest.NewServer(script.handler())
	defer srv.Close()

	p := testPoller(t, srv.URL, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	ev := waitForEvent(t, p.Events(), EventTransient)
	assert.Error(t, ev.Err)
	assert.Equal(t, StateUnbound, p.State(), "an outage never looks like a ban")
}

func TestPollerRidesOutOutageOnFreshCache(t *testing.T) {
	cache := NewCache(t.TempDir(), "fp-machine-one", 24*time.Hour)
	require.NoError(t, cache.Save(CachedState{
		LicenseKey:  "VT-AAAA-BBBB-CCCC-DDDD",
		LicenseType: "premium",
		ValidatedAt: time.Now().UTC(),
	}))

	script := &scriptedServer{}
	script.set(true)
	srv := httptest.NewServer(script.handler())
	defer srv.Close()

	p := testPoller(t, srv.URL, cache)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	ev := waitForEvent(t, p.Events(), EventBound)
	assert.True(t, ev.Offline)
	assert.Equal(t, StateBound, p.State())
}

func TestPollerRevokesWhenOfflineWindowExhausted(t *testing.T) {
	cache := NewCache(t.TempDir(), "fp-machine-one", 24*time.Hour)
	require.NoError(t, cache.Save(CachedState{
		LicenseKey:  "VT-AAAA-BBBB-CCCC-DDDD",
		ValidatedAt: time.Now().UTC().Add(-25 * time.Hour),
	}))

	script := &scriptedServer{}
	script.set(true)
	srv := httptest.NewServer(script.handler())
	defer srv.Close()

	p := testPoller(t, srv.URL, cache)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	ev := waitForEvent(t, p.Events(), EventRevoked)
	assert.True(t, ev.Offline)
	assert.Equal(t, StateRevoked, p.State())
}

func TestPollerRecoveryAfterOutage(t *testing.T) {
	script := &scriptedServer{}
	script.set(true)
	srv := httptest.NewServer(script.handler())
	defer srv.Close()

	p := testPoller(t, srv.URL, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	waitForEvent(t, p.Events(), EventTransient)

	script.set(false, v1.ValidateResponse{Status: domain.DecisionValid})
	waitForEvent(t, p.Events(), EventBound)
	assert.Equal(t, StateBound, p.State())
}
