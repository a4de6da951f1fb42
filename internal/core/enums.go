// Package core holds the enumerations and constants shared by every layer of
// the tool-call boundary. Leaf package: must not import any other proxenos
// package.
package core

import "fmt"

// AccessMode is the session-wide policy gating whether tool calls may run at
// all and whether they need human approval.
type AccessMode string

const (
	AccessNoAccess     AccessMode = "NO_ACCESS"
	AccessRequestFirst AccessMode = "REQUEST_FIRST"
	AccessFullAccess   AccessMode = "FULL_ACCESS"
)

// ParseAccessMode converts a wire string to an AccessMode. Exact match only.
func ParseAccessMode(s string) (AccessMode, error) {
	switch AccessMode(s) {
	case AccessNoAccess, AccessRequestFirst, AccessFullAccess:
		return AccessMode(s), nil
	}
	return "", fmt.Errorf("invalid access mode: %q", s)
}

// TrustLevel classifies an agent and gates the envelope requirement.
type TrustLevel string

const (
	TrustUntrusted TrustLevel = "UNTRUSTED"
	TrustMonitored TrustLevel = "MONITORED"
	TrustTrusted   TrustLevel = "TRUSTED"
)

// ParseTrustLevel converts a wire string to a TrustLevel. Exact match only.
func ParseTrustLevel(s string) (TrustLevel, error) {
	switch TrustLevel(s) {
	case TrustUntrusted, TrustMonitored, TrustTrusted:
		return TrustLevel(s), nil
	}
	return "", fmt.Errorf("invalid trust level: %q", s)
}

// RequiresEnvelope reports whether agents at this trust level must deliver
// tool requests through the canonical envelope.
func (t TrustLevel) RequiresEnvelope() bool {
	return t == TrustUntrusted || t == TrustMonitored
}

// Decision is the outcome of one router pipeline run.
type Decision string

const (
	DecisionApproved Decision = "APPROVED"
	DecisionRejected Decision = "REJECTED"
	DecisionPending  Decision = "PENDING"
)
