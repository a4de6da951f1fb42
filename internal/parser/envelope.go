// Package parser intercepts agent output and detects tool requests. It never
// executes anything: every detection becomes a ToolRequest handed to the
// router, which makes all security decisions. Agent identity on a request
// always comes from the session record, never from text the agent produced.
package parser

import (
	"encoding/json"
	"strings"
)

// EnvelopeKey is the canonical envelope root key. Exact string match required.
const EnvelopeKey = "proxenos_tool_request"

var requiredEnvelopeFields = []string{"nonce", "agent_id", "agent_name", "tool", "args"}

// Envelope is the inner payload of a canonical tool-request envelope.
type Envelope struct {
	Nonce     string
	AgentID   string
	AgentName string
	Tool      string
	Args      map[string]any
	RunID     string
}

// BuildEnvelope encodes a compact envelope string. Used by agent stubs when
// constructing tool requests; the nonce comes from the session, never from
// the agent.
func BuildEnvelope(nonce, agentID, agentName, tool string, args map[string]any, runID string) (string, error) {
	payload := map[string]any{
		"nonce":      nonce,
		"agent_id":   agentID,
		"agent_name": agentName,
		"tool":       tool,
		"args":       args,
	}
	if runID != "" {
		payload["run_id"] = runID
	}
	encoded, err := json.Marshal(map[string]any{EnvelopeKey: payload})
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

// ParseEnvelope attempts to decode raw as a canonical envelope. It returns
// nil unless the root key matches exactly, every required field is present
// with the right type, and args is an object. Nonce and identity are NOT
// validated here; that is the router's job.
func ParseEnvelope(raw string) *Envelope {
	var parsed map[string]json.RawMessage
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &parsed); err != nil {
		return nil
	}

	inner, ok := parsed[EnvelopeKey]
	if !ok {
		return nil
	}
	var payload map[string]any
	if err := json.Unmarshal(inner, &payload); err != nil {
		return nil
	}

	for _, field := range requiredEnvelopeFields {
		if _, present := payload[field]; !present {
			return nil
		}
	}

	nonce, ok := payload["nonce"].(string)
	if !ok {
		return nil
	}
	agentID, ok := payload["agent_id"].(string)
	if !ok {
		return nil
	}
	agentName, ok := payload["agent_name"].(string)
	if !ok {
		return nil
	}
	tool, ok := payload["tool"].(string)
	if !ok {
		return nil
	}
	args, ok := payload["args"].(map[string]any)
	if !ok {
		return nil
	}

	env := &Envelope{
		Nonce:     nonce,
		AgentID:   agentID,
		AgentName: agentName,
		Tool:      tool,
		Args:      args,
	}
	if runID, ok := payload["run_id"].(string); ok {
		env.RunID = runID
	}
	return env
}

// IsEnvelope reports whether raw decodes as a valid envelope.
func IsEnvelope(raw string) bool {
	return ParseEnvelope(raw) != nil
}
