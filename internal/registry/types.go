package registry

import "github.com/kathoros-ai/proxenos/internal/schema"

// ToolDefinition is one registered tool. Definitions are created at startup,
// from YAML manifests or the tool_definitions table, and never mutated after
// the registry is built.
type ToolDefinition struct {
	Name        string
	Description string

	// Capability flags consulted by the router pipeline.
	WriteCapable            bool
	RequiresRunScope        bool // enforced only when WriteCapable is set
	RequiresWriteApproval   bool
	ExecuteApprovalRequired bool

	// AllowedPaths are sub-roots relative to the project root; PathFields
	// are the argument keys that carry path values.
	AllowedPaths []string
	PathFields   []string

	MaxInputSize  int
	MaxOutputSize int

	Aliases []string

	// ArgsSchema is the compiled argument schema. Required for every tool.
	ArgsSchema *schema.Node
}
