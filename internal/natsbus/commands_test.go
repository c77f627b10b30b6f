package natsbus

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adred-codev/ws_gateway/internal/auth"
	"github.com/adred-codev/ws_gateway/internal/bus"
)

type fakeCommands struct {
	sent         []string
	disconnected []string
	reason       string
	err          error
	ids          []string
}

func (f *fakeCommands) Send(_ context.Context, id, action string, data json.RawMessage) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, id+":"+action+":"+string(data))
	return nil
}

func (f *fakeCommands) ForceDisconnect(_ context.Context, ids []string, reason string) error {
	if f.err != nil {
		return f.err
	}
	f.disconnected = append(f.disconnected, ids...)
	f.reason = reason
	return nil
}

func (f *fakeCommands) ConnectedSessions(context.Context) ([]string, error) {
	return f.ids, f.err
}

func (f *fakeCommands) ServerID() string { return "gw-1" }

func TestParseAuthReply(t *testing.T) {
	for _, body := range []string{"", "null", "false", "  false\n"} {
		p, err := parseAuthReply([]byte(body))
		require.NoError(t, err, body)
		assert.Nil(t, p, body)
	}

	p, err := parseAuthReply([]byte("true"))
	require.NoError(t, err)
	assert.NotNil(t, p)
	assert.Empty(t, p)

	p, err = parseAuthReply([]byte(`{"sub":"u1","role":"admin"}`))
	require.NoError(t, err)
	assert.Equal(t, auth.Principal{"sub": "u1", "role": "admin"}, p)

	_, err = parseAuthReply([]byte(`"yes"`))
	assert.Error(t, err)
}

func TestHandleSend(t *testing.T) {
	cmds := &fakeCommands{}
	reply := handleSend(context.Background(), cmds, []byte(`{"connectionId":"c1","action":"chat","data":{"x":1}}`))
	assert.True(t, reply.OK)
	assert.Equal(t, []string{`c1:chat:{"x":1}`}, cmds.sent)

	reply = handleSend(context.Background(), cmds, []byte(`not json`))
	assert.False(t, reply.OK)
	assert.Contains(t, reply.Error, bus.ErrInvalidArgument.Error())
}

func TestHandleForceDisconnectAcceptsOneOrMany(t *testing.T) {
	cmds := &fakeCommands{}
	reply := handleForceDisconnect(context.Background(), cmds, []byte(`{"connectionIds":"c1","reason":"bye"}`))
	require.True(t, reply.OK)
	assert.Equal(t, []string{"c1"}, cmds.disconnected)
	assert.Equal(t, "bye", cmds.reason)

	reply = handleForceDisconnect(context.Background(), cmds, []byte(`{"connectionIds":["c2","c3"],"reason":"bye"}`))
	require.True(t, reply.OK)
	assert.Equal(t, []string{"c1", "c2", "c3"}, cmds.disconnected)

	reply = handleForceDisconnect(context.Background(), cmds, []byte(`{"connectionIds":42,"reason":"bye"}`))
	assert.False(t, reply.OK)
}

func TestHandleConnectedSessionsNeverNull(t *testing.T) {
	reply := handleConnectedSessions(context.Background(), &fakeCommands{})
	require.True(t, reply.OK)

	data, err := json.Marshal(reply)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true,"result":[]}`, string(data))
}

func TestParseServerIDReply(t *testing.T) {
	id, err := parseServerIDReply([]byte(`{"ok":true,"result":"gw-7"}`))
	require.NoError(t, err)
	assert.Equal(t, "gw-7", id)

	_, err = parseServerIDReply([]byte(`{"ok":false,"error":"nope"}`))
	assert.Error(t, err)

	_, err = parseServerIDReply([]byte(`garbage`))
	assert.Error(t, err)
}
