package auth

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func alwaysAlive() bool { return true }

func acceptAll(_ context.Context, req Request) (Principal, error) {
	return Principal{"sub": "user-" + req.Credential}, nil
}

func message(cred string) Attempt {
	return Attempt{
		Request:      Request{ServerID: "srv", ConnectionID: "c1"},
		Presented:    cred,
		HasPresented: true,
		Trigger:      TriggerMessage,
	}
}

func TestEvaluateSkipsWithoutCredential(t *testing.T) {
	called := false
	m := NewMachine(func(context.Context, Request) (Principal, error) {
		called = true
		return nil, nil
	}, time.Second, zerolog.Nop())

	var st State
	out := m.Evaluate(context.Background(), &st, Attempt{Trigger: TriggerMessage}, alwaysAlive)

	assert.Equal(t, ResultSkipped, out.Result)
	assert.False(t, called)
	assert.Equal(t, TokenUnset, st.Token().State())
}

func TestEvaluateAuthChangedOnlyWhenCredentialDiffers(t *testing.T) {
	m := NewMachine(acceptAll, time.Second, zerolog.Nop())
	var st State

	out := m.Evaluate(context.Background(), &st, message("tok"), alwaysAlive)
	require.Equal(t, ResultAuthenticated, out.Result)
	assert.True(t, out.Changed)
	assert.Equal(t, "tok", st.TokenData())
	assert.Equal(t, "user-tok", st.Token().Principal().Subject())

	out = m.Evaluate(context.Background(), &st, message("tok"), alwaysAlive)
	require.Equal(t, ResultAuthenticated, out.Result)
	assert.False(t, out.Changed, "same credential must not re-announce")

	out = m.Evaluate(context.Background(), &st, message("tok2"), alwaysAlive)
	assert.True(t, out.Changed)
	assert.Equal(t, "tok2", st.TokenData())
}

func TestEvaluateRevalidatesStoredCredential(t *testing.T) {
	var seen []string
	m := NewMachine(func(_ context.Context, req Request) (Principal, error) {
		seen = append(seen, req.Credential)
		return Principal{"sub": "u"}, nil
	}, time.Second, zerolog.Nop())
	var st State

	m.Evaluate(context.Background(), &st, message("tok"), alwaysAlive)
	out := m.Evaluate(context.Background(), &st, Attempt{Trigger: TriggerHealthCheck}, alwaysAlive)

	assert.Equal(t, ResultAuthenticated, out.Result)
	assert.False(t, out.Changed)
	assert.Equal(t, []string{"tok", "tok"}, seen)
}

func TestEvaluateRejection(t *testing.T) {
	allow := true
	m := NewMachine(func(context.Context, Request) (Principal, error) {
		if allow {
			return Principal{"sub": "u"}, nil
		}
		return nil, nil
	}, time.Second, zerolog.Nop())

	var st State
	m.Evaluate(context.Background(), &st, message("tok"), alwaysAlive)

	allow = false
	out := m.Evaluate(context.Background(), &st, Attempt{Trigger: TriggerHealthCheck}, alwaysAlive)
	assert.Equal(t, ResultRejected, out.Result)
	assert.False(t, out.Disconnect(), "health checks never disconnect")
	assert.Equal(t, TokenRejected, st.Token().State())
	assert.Empty(t, st.TokenData())

	out = m.Evaluate(context.Background(), &st, message("tok"), alwaysAlive)
	assert.Equal(t, ResultRejected, out.Result)
	assert.True(t, out.Disconnect())
}

func TestEvaluateFailure(t *testing.T) {
	boom := errors.New("upstream down")
	m := NewMachine(func(context.Context, Request) (Principal, error) {
		return nil, boom
	}, time.Second, zerolog.Nop())

	var st State
	out := m.Evaluate(context.Background(), &st, message("tok"), alwaysAlive)
	assert.Equal(t, ResultFailed, out.Result)
	assert.ErrorIs(t, out.Err, boom)
	assert.True(t, out.Disconnect())
	assert.Equal(t, TokenRejected, st.Token().State())
}

func TestEvaluatePanicIsFailure(t *testing.T) {
	m := NewMachine(func(context.Context, Request) (Principal, error) {
		panic("bad callback")
	}, time.Second, zerolog.Nop())

	var st State
	out := m.Evaluate(context.Background(), &st, message("tok"), alwaysAlive)
	assert.Equal(t, ResultFailed, out.Result)
	assert.ErrorIs(t, out.Err, ErrCallbackPanic)
}

func TestEvaluateTimeoutIsFailure(t *testing.T) {
	m := NewMachine(func(ctx context.Context, _ Request) (Principal, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, 20*time.Millisecond, zerolog.Nop())

	var st State
	out := m.Evaluate(context.Background(), &st, message("tok"), alwaysAlive)
	assert.Equal(t, ResultFailed, out.Result)
	assert.ErrorIs(t, out.Err, context.DeadlineExceeded)
}

func TestEvaluateStaleConnectionIsNotMutated(t *testing.T) {
	m := NewMachine(acceptAll, time.Second, zerolog.Nop())

	var st State
	out := m.Evaluate(context.Background(), &st, message("tok"), func() bool { return false })
	assert.Equal(t, ResultStale, out.Result)
	assert.Equal(t, TokenUnset, st.Token().State())
	assert.Empty(t, st.TokenData())
}

func TestHealthCheckDoesNotOverwriteNewerCredential(t *testing.T) {
	for _, acceptOld := range []bool{false, true} {
		started := make(chan struct{})
		release := make(chan struct{})
		var blockOld atomic.Bool

		m := NewMachine(func(_ context.Context, req Request) (Principal, error) {
			if req.Credential == "A" && blockOld.Load() {
				close(started)
				<-release
				if !acceptOld {
					return nil, nil
				}
			}
			return Principal{"sub": "user-" + req.Credential}, nil
		}, time.Second, zerolog.Nop())

		var st State
		require.Equal(t, ResultAuthenticated, m.Evaluate(context.Background(), &st, message("A"), alwaysAlive).Result)

		blockOld.Store(true)
		health := make(chan Outcome, 1)
		go func() {
			health <- m.Evaluate(context.Background(), &st, Attempt{Trigger: TriggerHealthCheck}, alwaysAlive)
		}()
		<-started

		out := m.Evaluate(context.Background(), &st, message("B"), alwaysAlive)
		require.Equal(t, ResultAuthenticated, out.Result)
		assert.True(t, out.Changed)

		close(release)
		stale := <-health
		assert.Equal(t, ResultStale, stale.Result, "acceptOld=%v", acceptOld)
		assert.False(t, stale.Changed)
		assert.Equal(t, TokenAuthenticated, st.Token().State())
		assert.Equal(t, "B", st.TokenData())
		assert.Equal(t, "user-B", st.Token().Principal().Subject())
	}
}

func TestNilCallbackRejects(t *testing.T) {
	m := NewMachine(nil, time.Second, zerolog.Nop())
	var st State
	out := m.Evaluate(context.Background(), &st, message("tok"), alwaysAlive)
	assert.Equal(t, ResultRejected, out.Result)
}

func TestTokenJSON(t *testing.T) {
	b, err := json.Marshal(Unset())
	require.NoError(t, err)
	assert.Equal(t, "false", string(b))

	b, err = json.Marshal(Rejected())
	require.NoError(t, err)
	assert.Equal(t, "false", string(b))

	b, err = json.Marshal(Authenticated(Principal{"sub": "u1"}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"sub":"u1"}`, string(b))

	var tok Token
	require.NoError(t, json.Unmarshal([]byte(`{"sub":"u1"}`), &tok))
	assert.True(t, tok.IsAuthenticated())
	assert.Equal(t, "u1", tok.Principal().Subject())

	require.NoError(t, json.Unmarshal([]byte(`false`), &tok))
	assert.Equal(t, TokenRejected, tok.State())
}
