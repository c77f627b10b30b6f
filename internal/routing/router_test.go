package routing

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adred-codev/ws_gateway/internal/types"
)

func TestSingleModeUsesConfiguredIdentity(t *testing.T) {
	r, err := New(context.Background(), Options{Mode: types.ModeSingle, ServerID: "edge-1", Prefix: "ws"})
	require.NoError(t, err)

	assert.Equal(t, "edge-1", r.ServerID())
	assert.True(t, r.Scoped())
	assert.Equal(t, "ws.edge-1.on-connection", r.EventSubject("on-connection"))
	assert.Equal(t, "ws.edge-1.send", r.CommandSubject("send"))
	assert.Equal(t, "ws.get-server-id", r.SharedSubject("get-server-id"))
}

func TestMultiModeResolvesFromPeer(t *testing.T) {
	calls := 0
	resolver := ResolverFunc(func(context.Context) (string, error) {
		calls++
		return "peer-7", nil
	})

	r, err := New(context.Background(), Options{Mode: types.ModeMulti, Resolver: resolver})
	require.NoError(t, err)
	assert.Equal(t, "peer-7", r.ServerID())
	assert.True(t, r.Scoped(), "multi routes exactly like single")
	assert.Equal(t, "peer-7.receive", r.EventSubject("receive"))
	assert.Equal(t, 1, calls)

	r, err = New(context.Background(), Options{Mode: types.ModeMulti, ServerID: "cfg", Resolver: resolver})
	require.NoError(t, err)
	assert.Equal(t, "cfg", r.ServerID(), "configured id wins")
	assert.Equal(t, 1, calls)
}

func TestMultiModeResolverError(t *testing.T) {
	_, err := New(context.Background(), Options{
		Mode: types.ModeMulti,
		Resolver: ResolverFunc(func(context.Context) (string, error) {
			return "", errors.New("no responders")
		}),
	})
	assert.Error(t, err)
}

func TestMultiModeGeneratesWithoutResolver(t *testing.T) {
	r, err := New(context.Background(), Options{Mode: types.ModeMulti})
	require.NoError(t, err)
	assert.NotEmpty(t, r.ServerID())
}

func TestGenericModeIsUnscoped(t *testing.T) {
	r, err := New(context.Background(), Options{Mode: types.ModeGeneric, Prefix: "ws."})
	require.NoError(t, err)

	assert.False(t, r.Scoped())
	assert.NotEmpty(t, r.ServerID(), "payloads still carry an identity")
	assert.Equal(t, "ws.on-connection", r.EventSubject("on-connection"))
	assert.Equal(t, "ws.force-disconnect", r.CommandSubject("force-disconnect"))
}

func TestUnknownMode(t *testing.T) {
	_, err := New(context.Background(), Options{Mode: "cluster"})
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestNewIdentityIsUnique(t *testing.T) {
	a, b := NewIdentity(), NewIdentity()
	assert.NotEqual(t, a, b)
	assert.False(t, strings.ContainsAny(a, ".*> "))
}
