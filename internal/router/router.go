// Package router is the single security boundary for tool execution. Every
// tool invocation passes through the fixed pipeline in Handle, in order, and
// every run produces exactly one audit record. Approval decisions live here
// and nowhere else; executors must never gate themselves.
package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/kathoros-ai/proxenos/internal/audit"
	"github.com/kathoros-ai/proxenos/internal/core"
	"github.com/kathoros-ai/proxenos/internal/pathguard"
	"github.com/kathoros-ai/proxenos/internal/registry"
)

var runIDRe = regexp.MustCompile(core.RunIDPattern)

// Approver is the human-facing decision surface. It blocks until answered;
// timeout and cancellation policy belong to the implementation, not the
// pipeline.
type Approver interface {
	Approve(req *ToolRequest, tool *registry.ToolDefinition) bool
}

// ApproverFunc adapts a function to the Approver interface.
type ApproverFunc func(req *ToolRequest, tool *registry.ToolDefinition) bool

func (f ApproverFunc) Approve(req *ToolRequest, tool *registry.ToolDefinition) bool {
	return f(req, tool)
}

// Executor runs one tool with validated arguments. Executors are opaque to
// the router and must not contain approval logic.
type Executor interface {
	Execute(args map[string]any, tool *registry.ToolDefinition, projectRoot string) (any, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(args map[string]any, tool *registry.ToolDefinition, projectRoot string) (any, error)

func (f ExecutorFunc) Execute(args map[string]any, tool *registry.ToolDefinition, projectRoot string) (any, error) {
	return f(args, tool, projectRoot)
}

// Config carries everything a session-scoped router needs.
type Config struct {
	Registry     *registry.Registry
	ProjectRoot  string
	SessionNonce string
	SessionID    string
	AccessMode   core.AccessMode
	Approver     Approver // nil means every gated request is denied
	Executors    map[string]Executor
	Audit        audit.Sink
	Logger       *zap.Logger
}

// Router runs the pipeline for one session. Drive it sequentially: one
// in-flight Handle call per session.
type Router struct {
	registry     *registry.Registry
	projectRoot  string
	sessionNonce string
	sessionID    string
	accessMode   core.AccessMode
	approver     Approver
	executors    map[string]Executor
	audit        audit.Sink
	logger       *zap.Logger
}

// New builds a session router. The registry must already be built.
func New(cfg Config) (*Router, error) {
	if cfg.Registry == nil || !cfg.Registry.Built() {
		return nil, errors.New("router requires a built registry")
	}
	if cfg.ProjectRoot == "" {
		return nil, errors.New("router requires a project root")
	}
	if cfg.SessionNonce == "" {
		return nil, errors.New("router requires a session nonce")
	}
	if cfg.Audit == nil {
		return nil, errors.New("router requires an audit sink")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	root, err := filepath.Abs(cfg.ProjectRoot)
	if err != nil {
		return nil, fmt.Errorf("router project root: %w", err)
	}

	return &Router{
		registry:     cfg.Registry,
		projectRoot:  root,
		sessionNonce: cfg.SessionNonce,
		sessionID:    cfg.SessionID,
		accessMode:   cfg.AccessMode,
		approver:     cfg.Approver,
		executors:    cfg.Executors,
		audit:        cfg.Audit,
		logger:       cfg.Logger,
	}, nil
}

// Handle runs the pipeline for a single request. It never panics out and
// never returns an error: every failure becomes a REJECTED result with
// exactly one categorical validation error, and the result is always logged.
func (rt *Router) Handle(req *ToolRequest) *RouterResult {
	result := &RouterResult{
		RequestID:        req.RequestID,
		SessionID:        rt.sessionID,
		AgentID:          req.AgentID,
		AgentName:        req.AgentName,
		TrustLevel:       string(req.TrustLevel),
		AccessMode:       string(req.AccessMode),
		ToolName:         req.Tool,
		RawArgsHash:      HashArgs(req.Args),
		Enveloped:        req.Enveloped,
		DetectedVia:      req.DetectedVia,
		Decision:         core.DecisionPending,
		ValidationErrors: []string{},
		Artifacts:        []string{},
	}

	start := time.Now()
	rt.run(req, result)

	// Logging is the one step that can never be skipped.
	result.ExecutionMS = float64(time.Since(start)) / float64(time.Millisecond)
	result.DecidedAt = time.Now().UTC()
	rt.logResult(result)

	return result
}

func (rt *Router) run(req *ToolRequest, result *RouterResult) {
	defer func() {
		if r := recover(); r != nil {
			rt.reject(result, fmt.Sprintf("internal error: %v", r))
		}
	}()

	// Step 1: access-mode hard stop. Reveals nothing.
	if rt.accessMode == core.AccessNoAccess {
		rt.reject(result, "Tool access disabled")
		return
	}

	// Step 2: nonce check. Exact match, single error, no detail.
	result.NonceValid = req.Nonce == rt.sessionNonce
	if !result.NonceValid {
		rt.reject(result, "Invalid nonce")
		return
	}

	// Step 3: tool lookup.
	tool, err := rt.registry.Lookup(req.Tool)
	if err != nil {
		rt.reject(result, err.Error())
		return
	}

	// Step 4: envelope enforcement for low-trust agents.
	if req.TrustLevel.RequiresEnvelope() && !req.Enveloped {
		rt.reject(result, "envelope required: UNTRUSTED/MONITORED agents must use the proxenos_tool_request envelope")
		return
	}

	// Step 5: schema validation.
	if errs := tool.ArgsSchema.Validate(req.Args); len(errs) > 0 {
		result.Decision = core.DecisionRejected
		result.ValidationOK = false
		result.ValidationErrors = errs
		return
	}

	// Step 6: input size cap.
	if msg := checkInputSize(req.Args, tool.MaxInputSize); msg != "" {
		rt.reject(result, msg)
		return
	}

	// Step 7: path enforcement.
	if err := rt.checkPaths(req, tool); err != nil {
		rt.reject(result, err.Error())
		return
	}

	// Step 8: run-scope enforcement. Hard reject, no approval prompt.
	if msg := checkRunScope(req, tool); msg != "" {
		rt.reject(result, msg)
		return
	}

	// Step 9: approval gate.
	if msg := rt.checkApproval(req, tool); msg != "" {
		rt.reject(result, msg)
		return
	}

	// Step 10: execution.
	executor, ok := rt.executors[tool.Name]
	if !ok {
		rt.reject(result, fmt.Sprintf("no executor registered for tool: %q", tool.Name))
		return
	}
	output, err := executor.Execute(req.Args, tool, rt.projectRoot)
	if err != nil {
		rt.reject(result, fmt.Sprintf("execution failed: %v", err))
		return
	}
	result.Decision = core.DecisionApproved
	result.ValidationOK = true

	// Step 11: output size cap with artifact spill.
	if err := rt.capOutput(output, req, tool, result); err != nil {
		rt.reject(result, err.Error())
		return
	}
}

func (rt *Router) reject(result *RouterResult, msg string) {
	result.Decision = core.DecisionRejected
	result.ValidationOK = false
	result.ValidationErrors = []string{msg}
}

func checkInputSize(args map[string]any, limit int) string {
	encoded, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("input size error: args not serializable: %v", err)
	}
	if len(encoded) > limit {
		return fmt.Sprintf("input size error: input size %d exceeds limit %d", len(encoded), limit)
	}
	return ""
}

func (rt *Router) checkPaths(req *ToolRequest, tool *registry.ToolDefinition) error {
	if len(tool.PathFields) == 0 {
		return nil
	}

	for _, field := range tool.PathFields {
		raw, present := req.Args[field]
		if !present || raw == nil {
			continue
		}
		for _, p := range extractPaths(raw) {
			if _, err := pathguard.Resolve(p, rt.projectRoot, tool.AllowedPaths); err != nil {
				return err
			}
		}
	}
	return nil
}

// extractPaths pulls path strings out of a field value. Fields may be a bare
// string or a list mixing strings and records carrying a "path" key.
func extractPaths(value any) []string {
	switch v := value.(type) {
	case string:
		return []string{v}
	case []any:
		var paths []string
		for _, item := range v {
			switch it := item.(type) {
			case string:
				paths = append(paths, it)
			case map[string]any:
				if p, ok := it["path"].(string); ok {
					paths = append(paths, p)
				}
			}
		}
		return paths
	}
	return nil
}

func checkRunScope(req *ToolRequest, tool *registry.ToolDefinition) string {
	if !(tool.WriteCapable && tool.RequiresRunScope) {
		return ""
	}

	if req.RunID == "" {
		return "run_id required for run-scoped write tool"
	}
	if !runIDRe.MatchString(req.RunID) {
		return fmt.Sprintf("run_id format invalid: %q", req.RunID)
	}

	// Prefix comparison is safe here: containment was already proven
	// structurally in the path step, this only checks run namespacing.
	requiredPrefix := core.ArtifactsDir + "/" + req.RunID + "/"
	for _, field := range tool.PathFields {
		raw, present := req.Args[field]
		if !present || raw == nil {
			continue
		}
		for _, p := range extractPaths(raw) {
			if len(p) >= len(requiredPrefix) && p[:len(requiredPrefix)] == requiredPrefix {
				return ""
			}
		}
	}
	return fmt.Sprintf("run-scoped tool: at least one path must be under %s/%s/", core.ArtifactsDir, req.RunID)
}

func (rt *Router) checkApproval(req *ToolRequest, tool *registry.ToolDefinition) string {
	needsApproval := tool.WriteCapable ||
		tool.ExecuteApprovalRequired ||
		rt.accessMode == core.AccessRequestFirst

	if !needsApproval {
		return ""
	}
	if rt.approver == nil {
		return "denied: no approval callback registered"
	}
	if !rt.approver.Approve(req, tool) {
		return "denied: operator rejected tool request"
	}
	return ""
}

// capOutput enforces the output ceiling. Oversized output is spilled whole to
// an artifact file inside the project root and replaced by a sentinel that
// references the artifact's relative path.
func (rt *Router) capOutput(output any, req *ToolRequest, tool *registry.ToolDefinition, result *RouterResult) error {
	encoded, err := json.Marshal(output)
	if err != nil {
		encoded = []byte(fmt.Sprintf("%v", output))
	}
	result.OutputSize = len(encoded)

	if len(encoded) <= tool.MaxOutputSize {
		result.Output = output
		return nil
	}

	name := fmt.Sprintf("%s_%s.json", tool.Name, req.RequestID)
	rel := filepath.Join(core.OversizedDir, name)

	resolved, err := pathguard.Resolve(rel, rt.projectRoot, []string{core.ArtifactsDir})
	if err != nil {
		return fmt.Errorf("oversized artifact path escaped project root: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return fmt.Errorf("oversized artifact: %w", err)
	}
	if err := os.WriteFile(resolved, encoded, 0o644); err != nil {
		return fmt.Errorf("oversized artifact: %w", err)
	}

	result.Artifacts = append(result.Artifacts, rel)
	result.Output = map[string]any{"truncated": true, "artifact": rel}
	rt.logger.Info("oversized output spilled to artifact",
		zap.String("request_id", req.RequestID),
		zap.String("tool", tool.Name),
		zap.Int("output_size", result.OutputSize),
		zap.String("artifact", rel),
	)
	return nil
}

func (rt *Router) logResult(result *RouterResult) {
	rec := &audit.Record{
		RequestID:        result.RequestID,
		AgentID:          result.AgentID,
		AgentName:        result.AgentName,
		TrustLevel:       result.TrustLevel,
		AccessMode:       result.AccessMode,
		ToolName:         result.ToolName,
		RawArgsHash:      result.RawArgsHash,
		NonceValid:       result.NonceValid,
		Enveloped:        result.Enveloped,
		DetectedVia:      result.DetectedVia,
		Decision:         string(result.Decision),
		ValidationOK:     result.ValidationOK,
		ValidationErrors: result.ValidationErrors,
		OutputSize:       result.OutputSize,
		ExecutionMS:      result.ExecutionMS,
		Artifacts:        result.Artifacts,
	}
	rt.audit.Log(rec)
}
