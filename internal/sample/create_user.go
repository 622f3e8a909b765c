// Package sample holds the demo command handlers wired into the
// default binary. They double as failure-injection hooks for exercising
// the retry and quarantine paths end to end.
package sample

import (
	"context"
	"encoding/json"

	"github.com/acme/reliable/internal/domain"
)

// CreateUser is the reference handler. The payload can force either
// failure class:
//
//	{"failPermanent":true} -> Permanent (quarantined, no retry)
//	{"failTransient":true} -> Transient (rolled back, redelivered)
func CreateUser(ctx context.Context, name, payload string) (string, error) {
	var req struct {
		Username      string `json:"username"`
		FailPermanent bool   `json:"failPermanent"`
		FailTransient bool   `json:"failTransient"`
	}
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return "", domain.Permanent("malformed payload: " + err.Error())
	}

	if req.FailPermanent {
		return "", domain.Permanent("Invariant broken")
	}
	if req.FailTransient {
		return "", domain.Transient("Downstream timeout")
	}

	return `{"userId":"u-123"}`, nil
}
