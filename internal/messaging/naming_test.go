package messaging

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultNaming(t *testing.T) {
	n := DefaultNaming()

	require.Equal(t, "APP.CMD.CreateUser.Q", n.CommandQueue("CreateUser"))
	require.Equal(t, "events.CreateUser", n.EventTopic("CreateUser"))
	require.Equal(t, "APP.CMD.REPLY.Q", n.ReplyQueue)
}

func TestCommandNameFromQueue(t *testing.T) {
	n := DefaultNaming()

	cases := []struct {
		queue string
		want  string
	}{
		{"APP.CMD.CreateUser.Q", "CreateUser"},
		{"queue:///APP.CMD.CreateUser.Q", "CreateUser"},
		{"  APP.CMD.DeleteUser.Q ", "DeleteUser"},
		{"APP.CMD.REPLY.Q", "REPLY"},
		{"some.other.queue", ""},
		{"", ""},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, n.CommandNameFromQueue(tc.queue), "queue=%q", tc.queue)
	}
}

func TestCustomNaming(t *testing.T) {
	n := Naming{
		CommandPrefix: "ORD.",
		QueueSuffix:   ".IN",
		ReplyQueue:    "ORD.REPLIES",
		EventPrefix:   "topic.",
	}

	require.Equal(t, "ORD.Ship.IN", n.CommandQueue("Ship"))
	require.Equal(t, "topic.Ship", n.EventTopic("Ship"))
	require.Equal(t, "Ship", n.CommandNameFromQueue("ORD.Ship.IN"))
}
