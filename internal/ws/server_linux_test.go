//go:build linux

package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_EchoAndDisconnect(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.Heartbeat = HeartbeatConfig{}
	cfg.WorkerPoolSize = 4

	var connected, disconnected atomic.Int32
	s := NewServer(cfg, func(c *Connection, data []byte) {
		_ = c.Send(data)
	}, zerolog.Nop())
	s.SetOnConnect(func(*Connection) { connected.Add(1) })
	s.SetOnDisconnect(func(*Connection) { disconnected.Add(1) })
	s.Handle("/extra", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	require.NoError(t, s.Init())

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	defer s.Shutdown(context.Background())

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	var health struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, "ok", health.Status)

	resp, err = http.Get(srv.URL + "/extra")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return s.Connections().Count() == 1 }, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, connected.Load())

	require.NoError(t, wsutil.WriteClientText(conn, []byte(`{"type":"ping"}`)))
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	data, err := wsutil.ReadServerText(conn)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ping"}`, string(data))

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return disconnected.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, s.Connections().Count())
}

func TestServer_OversizedFrameClosesConnection(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.Heartbeat = HeartbeatConfig{}
	cfg.WorkerPoolSize = 4

	var delivered, disconnected atomic.Int32
	s := NewServer(cfg, func(*Connection, []byte) { delivered.Add(1) }, zerolog.Nop())
	s.SetOnDisconnect(func(*Connection) { disconnected.Add(1) })
	require.NoError(t, s.Init())

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	defer s.Shutdown(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws")
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return s.Connections().Count() == 1 }, time.Second, 5*time.Millisecond)

	// Only the header goes out; the declared payload would never fit in memory.
	require.NoError(t, ws.WriteHeader(conn, ws.Header{
		Fin:    true,
		OpCode: ws.OpText,
		Masked: true,
		Mask:   ws.NewMask(),
		Length: 1 << 62,
	}))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	frame, err := ws.ReadFrame(conn)
	require.NoError(t, err)
	assert.Equal(t, ws.OpClose, frame.Header.OpCode)
	code, _ := ws.ParseCloseFrameData(frame.Payload)
	assert.Equal(t, ws.StatusMessageTooBig, code)

	require.Eventually(t, func() bool { return disconnected.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, delivered.Load())

	// The server keeps serving other clients.
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_FrameAtLimitIsDelivered(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.Heartbeat = HeartbeatConfig{}
	cfg.MaxFrameSize = 64

	got := make(chan []byte, 1)
	s := NewServer(cfg, func(_ *Connection, data []byte) { got <- data }, zerolog.Nop())
	require.NoError(t, s.Init())

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	defer s.Shutdown(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws")
	require.NoError(t, err)
	defer conn.Close()

	payload := []byte(strings.Repeat("a", 64))
	require.NoError(t, wsutil.WriteClientText(conn, payload))

	select {
	case data := <-got:
		assert.Equal(t, payload, data)
	case <-time.After(2 * time.Second):
		t.Fatal("frame at the size limit was not delivered")
	}
}

func TestServer_StartReturnsAfterShutdownCompletes(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.Heartbeat = HeartbeatConfig{}
	cfg.ListenAddr = "127.0.0.1:0"

	var notified atomic.Bool
	s := NewServer(cfg, nil, zerolog.Nop())
	s.SetOnDisconnect(func(*Connection) {
		// Partners are told about the ended room from here.
		time.Sleep(50 * time.Millisecond)
		notified.Store(true)
	})

	started := make(chan error, 1)
	go func() { started <- s.Start() }()
	require.Eventually(t, func() bool { return s.Addr() != nil }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, _, err := ws.Dial(ctx, "ws://"+s.Addr().String()+"/ws")
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return s.Connections().Count() == 1 }, time.Second, 5*time.Millisecond)

	go func() { _ = s.Shutdown(context.Background()) }()

	select {
	case err := <-started:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Start did not return after Shutdown")
	}
	assert.True(t, notified.Load(), "Start returned before connections were closed")
	assert.Equal(t, 0, s.Connections().Count())
}

func TestServer_ShutdownBeforeStart(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.Heartbeat = HeartbeatConfig{}
	cfg.ListenAddr = "127.0.0.1:0"
	s := NewServer(cfg, nil, zerolog.Nop())

	require.NoError(t, s.Shutdown(context.Background()))

	done := make(chan error, 1)
	go func() { done <- s.Start() }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start kept serving after Shutdown")
	}
}
