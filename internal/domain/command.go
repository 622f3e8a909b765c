package domain

import (
	"time"

	"github.com/google/uuid"
)

// CommandStatus is the lifecycle state of a command.
// Transitions: PENDING -> RUNNING -> SUCCEEDED | FAILED | TIMED_OUT,
// plus RUNNING -> RUNNING on retry. Terminal states are never mutated
// by the service; only administrative replay may touch them.
type CommandStatus string

const (
	StatusPending   CommandStatus = "PENDING"
	StatusRunning   CommandStatus = "RUNNING"
	StatusSucceeded CommandStatus = "SUCCEEDED"
	StatusFailed    CommandStatus = "FAILED"
	StatusTimedOut  CommandStatus = "TIMED_OUT"
)

// Terminal reports whether the status is a final one.
func (s CommandStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusTimedOut:
		return true
	}
	return false
}

// Command is a durably recorded business request.
// Payload and Reply are opaque JSON strings; the service never parses them.
type Command struct {
	ID                   uuid.UUID
	Name                 string
	BusinessKey          string
	Payload              string
	IdempotencyKey       string
	Status               CommandStatus
	Retries              int
	ProcessingLeaseUntil *time.Time
	LastError            string
	Reply                string
	RequestedAt          time.Time
	UpdatedAt            time.Time
}
