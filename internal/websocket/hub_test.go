package websocket

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phattra-dev/vidttool/internal/license"
)

func httpHandler(hub *Hub) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)
	return mux
}

func TestHubBroadcastsPublishedEvents(t *testing.T) {
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(httpHandler(hub))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	sent := license.Event{
		Type:     license.EventStatusChanged,
		DeviceID: "device-1",
		Status:   "banned",
		Reason:   "refund abuse",
		At:       time.Now().UTC(),
	}
	hub.Publish(sent)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got license.Event
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, license.EventStatusChanged, got.Type)
	assert.Equal(t, "device-1", got.DeviceID)
	assert.Equal(t, "banned", got.Status)
}

func TestHubDropsClientOnDisconnect(t *testing.T) {
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(httpHandler(hub))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	conn.Close()

	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestHubClosesLateConnectionAfterShutdown(t *testing.T) {
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}

	srv := httptest.NewServer(httpHandler(hub))
	defer srv.Close()

	// A registration racing the shutdown must not hang; the connection is
	// closed instead.
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.Equal(t, 0, hub.ClientCount())
}

func TestHubReleasesConnectedClientsOnShutdown(t *testing.T) {
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	srv := httptest.NewServer(httpHandler(hub))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}
	assert.Equal(t, 0, hub.ClientCount())

	// The read pump unblocks and its deferred unregister returns rather than
	// waiting on a hub that no longer runs.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
}
