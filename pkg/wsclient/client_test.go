package wsclient

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adred-codev/ws_gateway/internal/auth"
	"github.com/adred-codev/ws_gateway/internal/bus"
	"github.com/adred-codev/ws_gateway/internal/gateway"
	"github.com/adred-codev/ws_gateway/internal/protocol"
	"github.com/adred-codev/ws_gateway/internal/routing"
	"github.com/adred-codev/ws_gateway/internal/types"
)

func TestNewRequiresEndpoint(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestSendWithoutSession(t *testing.T) {
	c, err := New(Config{Endpoint: "ws://127.0.0.1:1/"})
	require.NoError(t, err)
	assert.False(t, c.Connected())
	assert.ErrorIs(t, c.Send("chat", 1), ErrNotConnected)
}

func TestClientAgainstGateway(t *testing.T) {
	var (
		mu       sync.Mutex
		received []bus.ReceiveEvent
	)
	events := &bus.Local{
		Auth: func(_ context.Context, req auth.Request) (auth.Principal, error) {
			if req.Credential == "secret" {
				return auth.Principal{"sub": "tester"}, nil
			}
			return nil, nil
		},
		Receive: func(_ context.Context, ev bus.ReceiveEvent) error {
			mu.Lock()
			defer mu.Unlock()
			received = append(received, ev)
			return nil
		},
		Logger: zerolog.Nop(),
	}
	router, err := routing.New(context.Background(), routing.Options{Mode: types.ModeSingle, ServerID: "gw-client-test"})
	require.NoError(t, err)
	server, err := gateway.NewServer(gateway.Options{
		Config: types.ServerConfig{ForceAuthenticate: true, WriteTimeout: time.Second},
		Logger: zerolog.Nop(),
		Router: router,
		Events: events,
	})
	require.NoError(t, err)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
		ts.Close()
	})

	notices := make(chan string, 8)
	client, err := New(Config{
		Endpoint: "ws" + strings.TrimPrefix(ts.URL, "http") + "/",
		Token:    "secret",
		Logger:   zerolog.Nop(),
		OnNotice: func(text string) { notices <- text },
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	expect := func(want string) {
		t.Helper()
		select {
		case got := <-notices:
			assert.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}

	expect(protocol.NoticeGreeting)
	require.True(t, client.Connected())

	require.NoError(t, client.Ping("session-1"))
	require.NoError(t, client.Send("chat", map[string]string{"text": "hi"}))
	expect(protocol.NoticeAuthenticated)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	ev := received[0]
	mu.Unlock()
	assert.Equal(t, "chat", ev.Action)
	require.NotNil(t, ev.Session)
	assert.Equal(t, "session-1", *ev.Session)
	assert.Equal(t, "tester", ev.Token.Principal().Subject())

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, client.Connected())
}
