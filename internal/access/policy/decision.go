// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package policy

import (
	"encoding/json"

	"github.com/aegis-pdp/aegis/pkg/errutil"
)

// Decision error codes.
const (
	// CodeAccessDenied is the code Decision.Err attaches to denials.
	CodeAccessDenied = "ACCESS_DENIED"
	// CodeInvalidDecision is returned by Validate for a denial without a reason.
	CodeInvalidDecision = "DECISION_INVALID"
)

// Decision is the outcome of an access check. The granted field is
// unexported so a Decision can only be built through Grant or Deny.
type Decision struct {
	granted  bool
	Reason   string
	PolicyID string
}

// Grant returns an allowing decision. policyID is empty when no policy fired.
func Grant(reason, policyID string) Decision {
	return Decision{granted: true, Reason: reason, PolicyID: policyID}
}

// Deny returns a denying decision.
func Deny(reason, policyID string) Decision {
	return Decision{Reason: reason, PolicyID: policyID}
}

// Granted reports whether access is allowed.
func (d Decision) Granted() bool {
	return d.granted
}

// Validate checks that a denial carries a reason.
func (d Decision) Validate() error {
	if !d.granted && d.Reason == "" {
		return errutil.Validation(CodeInvalidDecision).
			With("policy_id", d.PolicyID).
			Errorf("denial without reason")
	}
	return nil
}

// Err converts a denial into an authorization error. It returns nil for
// granted decisions.
func (d Decision) Err() error {
	if d.granted {
		return nil
	}
	b := errutil.Authorization(CodeAccessDenied)
	if d.PolicyID != "" {
		b = b.With("policy_id", d.PolicyID)
	}
	return b.Errorf("%s", d.Reason)
}

// MarshalJSON includes the granted flag.
func (d Decision) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Granted  bool   `json:"granted"`
		Reason   string `json:"reason,omitempty"`
		PolicyID string `json:"policy_id,omitempty"`
	}{d.granted, d.Reason, d.PolicyID})
}

// String implements fmt.Stringer.
func (d Decision) String() string {
	verdict := "denied"
	if d.granted {
		verdict = "granted"
	}
	if d.Reason == "" {
		return verdict
	}
	return verdict + ": " + d.Reason
}
