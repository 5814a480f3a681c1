package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, c *Client) (Message, bool) {
	t.Helper()
	select {
	case raw, ok := <-c.Send:
		if !ok {
			return Message{}, false
		}
		var msg Message
		require.NoError(t, json.Unmarshal(raw, &msg))
		return msg, true
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}, false
	}
}

func TestHub_NotifyUserReachesOnlyThatUser(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	a1 := NewClient(hub, nil, "alice")
	a2 := NewClient(hub, nil, "alice")
	b := NewClient(hub, nil, "bob")
	for _, c := range []*Client{a1, a2, b} {
		require.True(t, hub.Attach(c))
	}

	hub.NotifyUser("alice", "session.password_changed", nil)

	for _, c := range []*Client{a1, a2} {
		msg, ok := receive(t, c)
		require.True(t, ok)
		require.Equal(t, "session.password_changed", msg.Action)
	}
	require.Empty(t, b.Send)
}

func TestHub_ReplyTargetsOneConnection(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	a1 := NewClient(hub, nil, "alice")
	a2 := NewClient(hub, nil, "alice")
	require.True(t, hub.Attach(a1))
	require.True(t, hub.Attach(a2))

	a1.Reply(NewMessage("pong", nil))
	msg, ok := receive(t, a1)
	require.True(t, ok)
	require.Equal(t, "pong", msg.Action)

	// a barrier: once a2 sees this, the earlier reply has been routed
	hub.NotifyUser("alice", "barrier", nil)
	msg, ok = receive(t, a2)
	require.True(t, ok)
	require.Equal(t, "barrier", msg.Action)
}

func TestHub_DetachClosesSend(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	c := NewClient(hub, nil, "alice")
	require.True(t, hub.Attach(c))
	hub.Detach(c)

	_, ok := receive(t, c)
	require.False(t, ok)
}

func TestHub_StopClosesClientsAndRejectsNewOnes(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	c := NewClient(hub, nil, "alice")
	require.True(t, hub.Attach(c))
	hub.Stop()

	_, ok := receive(t, c)
	require.False(t, ok)
	require.False(t, hub.Attach(NewClient(hub, nil, "bob")))

	// must not block or panic once stopped
	hub.NotifyUser("alice", "late", nil)
	hub.Detach(c)
}
