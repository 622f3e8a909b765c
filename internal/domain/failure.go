package domain

import "errors"

// FailureKind classifies a handler failure. The set is closed; the
// executor branches on the kind rather than on error types.
type FailureKind int

const (
	// FailurePermanent means a business invariant is violated.
	// The command is failed, parked in the DLQ, and never retried.
	FailurePermanent FailureKind = iota + 1

	// FailureRetryableBusiness means a business-level retry is allowed.
	FailureRetryableBusiness

	// FailureTransient means an infrastructure-level retry is allowed.
	FailureTransient
)

func (k FailureKind) String() string {
	switch k {
	case FailurePermanent:
		return "Permanent"
	case FailureRetryableBusiness:
		return "RetryableBusiness"
	case FailureTransient:
		return "Transient"
	default:
		return "Unknown"
	}
}

// Retryable reports whether the broker should redeliver the message.
func (k FailureKind) Retryable() bool {
	return k == FailureRetryableBusiness || k == FailureTransient
}

// Failure is the tagged error a handler returns to signal one of the
// three failure kinds.
type Failure struct {
	Kind FailureKind
	Msg  string
}

func (f *Failure) Error() string { return f.Msg }

func Permanent(msg string) error         { return &Failure{Kind: FailurePermanent, Msg: msg} }
func RetryableBusiness(msg string) error { return &Failure{Kind: FailureRetryableBusiness, Msg: msg} }
func Transient(msg string) error         { return &Failure{Kind: FailureTransient, Msg: msg} }

// AsFailure extracts a Failure from an error chain.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
