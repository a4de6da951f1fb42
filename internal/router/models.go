package router

import (
	"time"

	"github.com/kathoros-ai/proxenos/internal/core"
)

// ToolRequest is a fully parsed, identity-stamped tool invocation. Identity
// fields always come from the session, never from agent-supplied text.
type ToolRequest struct {
	RequestID   string
	AgentID     string
	AgentName   string
	TrustLevel  core.TrustLevel
	AccessMode  core.AccessMode
	Tool        string
	Args        map[string]any
	Nonce       string
	RunID       string
	Enveloped   bool
	DetectedVia string
}

// RouterResult is the outcome of one pipeline run. Handle always returns one,
// whatever happened, and the audit sink always receives it.
type RouterResult struct {
	RequestID        string
	SessionID        string
	AgentID          string
	AgentName        string
	TrustLevel       string
	AccessMode       string
	ToolName         string
	RawArgsHash      string
	NonceValid       bool
	Enveloped        bool
	DetectedVia      string
	Decision         core.Decision
	ValidationOK     bool
	ValidationErrors []string
	Output           any
	OutputSize       int
	ExecutionMS      float64
	Artifacts        []string
	DecidedAt        time.Time
}
