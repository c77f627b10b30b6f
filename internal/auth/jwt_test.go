package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTVerifierRoundTrip(t *testing.T) {
	v := NewJWTVerifier("secret", time.Hour)

	token, err := v.Generate("u1", "alice", "admin")
	require.NoError(t, err)

	claims, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "u1", claims.Subject)
}

func TestJWTVerifierFunc(t *testing.T) {
	v := NewJWTVerifier("secret", time.Hour)
	check := v.Func()

	token, err := v.Generate("u1", "alice", "user")
	require.NoError(t, err)

	p, err := check(context.Background(), Request{Credential: token})
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "u1", p.Subject())
	assert.Equal(t, "alice", p["username"])

	other := NewJWTVerifier("other-secret", time.Hour)
	forged, err := other.Generate("u1", "alice", "user")
	require.NoError(t, err)

	p, err = check(context.Background(), Request{Credential: forged})
	assert.NoError(t, err, "bad tokens are rejections, not failures")
	assert.Nil(t, p)

	p, err = check(context.Background(), Request{Credential: "not-a-jwt"})
	assert.NoError(t, err)
	assert.Nil(t, p)
}

func TestJWTVerifierExpired(t *testing.T) {
	v := NewJWTVerifier("secret", time.Millisecond)
	token, err := v.Generate("u1", "alice", "user")
	require.NoError(t, err)

	time.Sleep(1100 * time.Millisecond)
	_, err = v.Verify(token)
	assert.Error(t, err)
}
