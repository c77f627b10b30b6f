package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeViolations(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		reason string
		err    error
	}{
		{"not json", `hello`, ReasonGarbage, ErrNotObject},
		{"array", `[1,2]`, ReasonGarbage, ErrNotObject},
		{"string", `"ping"`, ReasonGarbage, ErrNotObject},
		{"null", `null`, ReasonGarbage, ErrNotObject},
		{"empty", ``, ReasonGarbage, ErrNotObject},
		{"extra key", `{"action":"chat","data":{},"room":"a"}`, ReasonExtraFields, ErrUnknownField},
		{"missing action", `{"data":{}}`, ReasonNoAction, ErrMissingAction},
		{"null action", `{"action":null,"data":{}}`, ReasonNoAction, ErrMissingAction},
		{"numeric action", `{"action":5,"data":{}}`, ReasonNoAction, ErrMissingAction},
		{"missing data", `{"action":"chat"}`, ReasonNoData, ErrMissingData},
		{"null data", `{"action":"chat","data":null}`, ReasonNoData, ErrMissingData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Decode([]byte(tt.raw))
			require.Error(t, err)
			assert.Nil(t, env)

			var v *ViolationError
			require.True(t, errors.As(err, &v))
			assert.Equal(t, tt.reason, v.Reason)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestMissingDataReasonMentionsNoData(t *testing.T) {
	_, err := Decode([]byte(`{"action":"chat"}`))
	var v *ViolationError
	require.True(t, errors.As(err, &v))
	assert.Contains(t, v.Reason, "no data")
}

func TestDecodeValid(t *testing.T) {
	env, err := Decode([]byte(`{"action":"chat","data":{"text":"hi"},"auth":"tok"}`))
	require.NoError(t, err)

	assert.Equal(t, "chat", env.Action)
	assert.Equal(t, KindContent, env.Kind())
	assert.JSONEq(t, `{"text":"hi"}`, string(env.Data))

	cred, ok := env.Credential()
	assert.True(t, ok)
	assert.Equal(t, "tok", cred)
}

func TestDecodeFalsyDataIsPresent(t *testing.T) {
	for _, raw := range []string{`0`, `false`, `""`, `[]`, `{}`} {
		env, err := Decode([]byte(`{"action":"chat","data":` + raw + `}`))
		require.NoError(t, err, raw)
		assert.Equal(t, raw, string(env.Data))
	}
}

func TestKind(t *testing.T) {
	for action, kind := range map[string]Kind{
		"ping": KindPing,
		"log":  KindLog,
		"auth": KindAuth,
		"chat": KindContent,
		"Ping": KindContent,
	} {
		env := &Envelope{Action: action, Data: json.RawMessage(`{}`)}
		assert.Equal(t, kind, env.Kind(), action)
	}
}

func TestCredential(t *testing.T) {
	tests := []struct {
		auth string
		want string
		ok   bool
	}{
		{``, "", false},
		{`null`, "", false},
		{`42`, "", false},
		{`{"token":"x"}`, "", false},
		{`""`, "", true},
		{`"abc"`, "abc", true},
	}
	for _, tt := range tests {
		env := &Envelope{Action: "chat", Data: json.RawMessage(`1`)}
		if tt.auth != "" {
			env.Auth = json.RawMessage(tt.auth)
		}
		got, ok := env.Credential()
		assert.Equal(t, tt.ok, ok, tt.auth)
		assert.Equal(t, tt.want, got, tt.auth)
	}
}

func TestSession(t *testing.T) {
	tests := []struct {
		data string
		want string
		ok   bool
	}{
		{`{"session":{"session":"s1"}}`, "s1", true},
		{`{"session":{"session":null}}`, "", false},
		{`{"session":{"session":""}}`, "", false},
		{`{"session":{}}`, "", false},
		{`{"session":"s1"}`, "", false},
		{`{}`, "", false},
		{`"s1"`, "", false},
		{`{"session":{"session":7}}`, "", false},
	}
	for _, tt := range tests {
		env := &Envelope{Action: ActionPing, Data: json.RawMessage(tt.data)}
		got, ok := env.Session()
		assert.Equal(t, tt.ok, ok, tt.data)
		assert.Equal(t, tt.want, got, tt.data)
	}
}

func TestLogText(t *testing.T) {
	env := &Envelope{Action: ActionLog, Data: json.RawMessage(`"client booted"`)}
	assert.Equal(t, "client booted", env.LogText())

	env.Data = json.RawMessage(`{"level":"warn"}`)
	assert.Equal(t, `{"level":"warn"}`, env.LogText())
}

func TestEncode(t *testing.T) {
	b, err := Encode("chat", json.RawMessage(`{"text":"hi"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"chat","data":{"text":"hi"}}`, string(b))

	assert.JSONEq(t, `{"action":"log","data":"Hello Flightless Bird"}`, string(LogFrame(NoticeGreeting)))
}
