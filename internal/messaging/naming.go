package messaging

import "strings"

// Naming holds the queue/topic derivation conventions. The same rules
// apply on both sides of the fence: the producer derives destination
// names with it and the consumer derives command names back from them.
type Naming struct {
	CommandPrefix string
	QueueSuffix   string
	ReplyQueue    string
	EventPrefix   string
}

func DefaultNaming() Naming {
	return Naming{
		CommandPrefix: "APP.CMD.",
		QueueSuffix:   ".Q",
		ReplyQueue:    "APP.CMD.REPLY.Q",
		EventPrefix:   "events.",
	}
}

// CommandQueue derives a command queue name.
// Example: CreateUser -> APP.CMD.CreateUser.Q
func (n Naming) CommandQueue(commandName string) string {
	return n.CommandPrefix + commandName + n.QueueSuffix
}

// EventTopic derives an event topic name.
// Example: CreateUser -> events.CreateUser
func (n Naming) EventTopic(commandName string) string {
	return n.EventPrefix + commandName
}

// CommandNameFromQueue reverses CommandQueue. Tolerates broker-decorated
// destinations like "queue:///APP.CMD.CreateUser.Q". Returns "" when the
// input does not look like a command queue.
func (n Naming) CommandNameFromQueue(queue string) string {
	q := strings.TrimSpace(queue)
	if i := strings.LastIndex(q, "/"); i >= 0 {
		q = q[i+1:]
	}
	if !strings.HasPrefix(q, n.CommandPrefix) || !strings.HasSuffix(q, n.QueueSuffix) {
		return ""
	}
	return strings.TrimSuffix(strings.TrimPrefix(q, n.CommandPrefix), n.QueueSuffix)
}
