// Package audit serializes completed router decisions to append-only,
// secret-free audit records. Every pipeline run produces exactly one record;
// sinks must never silently drop or truncate required fields.
package audit

import (
	"encoding/json"
	"fmt"
)

// Record is the audit entry for one completed pipeline run. The field set is
// fixed: exactly these sixteen fields, never raw arguments.
type Record struct {
	RequestID        string   `json:"request_id"`
	AgentID          string   `json:"agent_id"`
	AgentName        string   `json:"agent_name"`
	TrustLevel       string   `json:"trust_level"`
	AccessMode       string   `json:"access_mode"`
	ToolName         string   `json:"tool_name"`
	RawArgsHash      string   `json:"raw_args_hash"`
	NonceValid       bool     `json:"nonce_valid"`
	Enveloped        bool     `json:"enveloped"`
	DetectedVia      string   `json:"detected_via"`
	Decision         string   `json:"decision"`
	ValidationOK     bool     `json:"validation_ok"`
	ValidationErrors []string `json:"validation_errors"`
	OutputSize       int      `json:"output_size"`
	ExecutionMS      float64  `json:"execution_ms"`
	Artifacts        []string `json:"artifacts"`
}

// requiredFields is the exhaustive audit field set. Never more, never fewer.
var requiredFields = map[string]struct{}{
	"request_id": {}, "agent_id": {}, "agent_name": {}, "trust_level": {},
	"access_mode": {}, "tool_name": {}, "raw_args_hash": {}, "nonce_valid": {},
	"enveloped": {}, "detected_via": {}, "decision": {}, "validation_ok": {},
	"validation_errors": {}, "output_size": {}, "execution_ms": {}, "artifacts": {},
}

// Validate panics when a record invariant is violated: the argument hash must
// be exactly 64 hex characters, no raw-argument field may be present, and
// every required field must serialize. These are programming errors, not
// recoverable conditions.
func (r *Record) Validate() {
	if len(r.RawArgsHash) != 64 || !isHex(r.RawArgsHash) {
		panic(fmt.Sprintf("audit: raw_args_hash must be 64 hex chars, got %q", r.RawArgsHash))
	}
	if r.ValidationErrors == nil {
		r.ValidationErrors = []string{}
	}
	if r.Artifacts == nil {
		r.Artifacts = []string{}
	}

	encoded, err := json.Marshal(r)
	if err != nil {
		panic(fmt.Sprintf("audit: record does not serialize: %v", err))
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(encoded, &fields); err != nil {
		panic(fmt.Sprintf("audit: record does not round-trip: %v", err))
	}

	if _, present := fields["args"]; present {
		panic("audit: raw args must never be logged")
	}
	if _, present := fields["raw_args"]; present {
		panic("audit: raw args must never be logged")
	}
	for name := range requiredFields {
		if _, present := fields[name]; !present {
			panic("audit: missing required field: " + name)
		}
	}
	if len(fields) != len(requiredFields) {
		panic(fmt.Sprintf("audit: record has %d fields, want %d", len(fields), len(requiredFields)))
	}
}

func isHex(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		default:
			return false
		}
	}
	return true
}
