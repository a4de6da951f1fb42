package router

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/kathoros-ai/proxenos/internal/audit"
	"github.com/kathoros-ai/proxenos/internal/core"
	"github.com/kathoros-ai/proxenos/internal/registry"
	"github.com/kathoros-ai/proxenos/internal/schema"
)

const testNonce = "test-session-nonce"

// captureSink records every audit record and validates its invariants.
type captureSink struct {
	records []*audit.Record
}

func (s *captureSink) Log(rec *audit.Record) {
	rec.Validate()
	s.records = append(s.records, rec)
}

func (s *captureSink) Close() {}

func compileSchema(t *testing.T, doc map[string]any) *schema.Node {
	t.Helper()
	n, err := schema.Compile(doc)
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()

	echoSchema := compileSchema(t, map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"msg": map[string]any{"type": "string"},
		},
	})
	pathSchema := compileSchema(t, map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []any{"path"},
		"properties": map[string]any{
			"path":    map[string]any{"type": "string"},
			"content": map[string]any{"type": "string"},
		},
	})

	manySchema := compileSchema(t, map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []any{"files"},
		"properties": map[string]any{
			"files": map[string]any{"type": "array", "items": map[string]any{}},
		},
	})

	tools := []*registry.ToolDefinition{
		{Name: "echo", ArgsSchema: echoSchema},
		{Name: "tiny_echo", ArgsSchema: echoSchema, MaxInputSize: 16, MaxOutputSize: 32},
		{
			Name:         "read_file",
			AllowedPaths: []string{"docs"},
			PathFields:   []string{"path"},
			ArgsSchema:   pathSchema,
		},
		{
			Name:         "read_many",
			AllowedPaths: []string{"docs"},
			PathFields:   []string{"files"},
			ArgsSchema:   manySchema,
		},
		{
			Name:             "write_artifact",
			WriteCapable:     true,
			RequiresRunScope: true,
			AllowedPaths:     []string{"artifacts"},
			PathFields:       []string{"path"},
			ArgsSchema:       pathSchema,
		},
	}
	for _, def := range tools {
		if err := reg.Register(def); err != nil {
			t.Fatal(err)
		}
	}
	reg.Build()
	return reg
}

type routerFixture struct {
	router *Router
	sink   *captureSink
	root   string
}

func newFixture(t *testing.T, mode core.AccessMode, approver Approver) *routerFixture {
	t.Helper()
	root := t.TempDir()
	for _, dir := range []string{"docs", "docs_evil", "artifacts"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	sink := &captureSink{}
	executors := map[string]Executor{
		"echo": ExecutorFunc(func(args map[string]any, _ *registry.ToolDefinition, _ string) (any, error) {
			return args, nil
		}),
		"tiny_echo": ExecutorFunc(func(args map[string]any, _ *registry.ToolDefinition, _ string) (any, error) {
			return map[string]any{"echoed": args, "padding": strings.Repeat("x", 64)}, nil
		}),
		"read_file": ExecutorFunc(func(args map[string]any, _ *registry.ToolDefinition, _ string) (any, error) {
			return "contents", nil
		}),
		"read_many": ExecutorFunc(func(args map[string]any, _ *registry.ToolDefinition, _ string) (any, error) {
			return "contents", nil
		}),
		"write_artifact": ExecutorFunc(func(args map[string]any, _ *registry.ToolDefinition, _ string) (any, error) {
			return "written", nil
		}),
	}

	rt, err := New(Config{
		Registry:     testRegistry(t),
		ProjectRoot:  root,
		SessionNonce: testNonce,
		SessionID:    "sess-1",
		AccessMode:   mode,
		Approver:     approver,
		Executors:    executors,
		Audit:        sink,
		Logger:       zap.NewNop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return &routerFixture{router: rt, sink: sink, root: root}
}

func approveAll() Approver {
	return ApproverFunc(func(*ToolRequest, *registry.ToolDefinition) bool { return true })
}

func denyAll() Approver {
	return ApproverFunc(func(*ToolRequest, *registry.ToolDefinition) bool { return false })
}

func validRequest(tool string, args map[string]any) *ToolRequest {
	return &ToolRequest{
		RequestID:   "req-1",
		AgentID:     "agent-007",
		AgentName:   "scout",
		TrustLevel:  core.TrustTrusted,
		AccessMode:  core.AccessFullAccess,
		Tool:        tool,
		Args:        args,
		Nonce:       testNonce,
		Enveloped:   true,
		DetectedVia: "json_envelope",
	}
}

func assertRejected(t *testing.T, res *RouterResult, substr string) {
	t.Helper()
	if res.Decision != core.DecisionRejected {
		t.Fatalf("expected REJECTED, got %s", res.Decision)
	}
	if res.ValidationOK {
		t.Fatal("rejected result must not be validation_ok")
	}
	if len(res.ValidationErrors) == 0 {
		t.Fatal("rejected result must carry an error")
	}
	if !strings.Contains(res.ValidationErrors[0], substr) {
		t.Fatalf("error %q missing %q", res.ValidationErrors[0], substr)
	}
}

func TestHandle_NoAccessHardStop(t *testing.T) {
	f := newFixture(t, core.AccessNoAccess, approveAll())
	res := f.router.Handle(validRequest("echo", map[string]any{}))

	assertRejected(t, res, "Tool access disabled")
	if len(res.ValidationErrors) != 1 {
		t.Fatalf("hard stop must yield exactly one error, got %v", res.ValidationErrors)
	}
	// The generic message must not leak tool or schema detail.
	if strings.Contains(res.ValidationErrors[0], "echo") {
		t.Fatal("hard stop must not reveal tool names")
	}
	if len(f.sink.records) != 1 {
		t.Fatal("rejected request must still be audited")
	}
}

func TestHandle_InvalidNonce(t *testing.T) {
	f := newFixture(t, core.AccessFullAccess, approveAll())
	req := validRequest("no_such_tool", map[string]any{})
	req.Nonce = "forged"

	res := f.router.Handle(req)
	assertRejected(t, res, "Invalid nonce")
	if len(res.ValidationErrors) != 1 {
		t.Fatalf("nonce failure must yield exactly one error, got %v", res.ValidationErrors)
	}
	// A bad nonce reveals nothing, not even tool existence.
	if strings.Contains(res.ValidationErrors[0], "unknown tool") {
		t.Fatal("nonce failure must not reveal tool existence")
	}
	if res.NonceValid {
		t.Fatal("nonce_valid must be false")
	}
	if f.sink.records[0].NonceValid {
		t.Fatal("audit record must carry nonce_valid=false")
	}
}

func TestHandle_UnknownTool(t *testing.T) {
	f := newFixture(t, core.AccessFullAccess, approveAll())
	res := f.router.Handle(validRequest("no_such_tool", map[string]any{}))
	assertRejected(t, res, "unknown tool")
}

func TestHandle_EnvelopeRequiredForUntrusted(t *testing.T) {
	f := newFixture(t, core.AccessFullAccess, approveAll())
	req := validRequest("echo", map[string]any{})
	req.TrustLevel = core.TrustUntrusted
	req.Enveloped = false
	req.DetectedVia = "markdown_block"

	res := f.router.Handle(req)
	assertRejected(t, res, "envelope")
}

func TestHandle_TrustedExemptFromEnvelope(t *testing.T) {
	f := newFixture(t, core.AccessFullAccess, approveAll())
	req := validRequest("echo", map[string]any{"msg": "hi"})
	req.TrustLevel = core.TrustTrusted
	req.Enveloped = false
	req.DetectedVia = "json_struct"

	res := f.router.Handle(req)
	if res.Decision != core.DecisionApproved {
		t.Fatalf("trusted agent should pass without envelope: %v", res.ValidationErrors)
	}
}

func TestHandle_SchemaFailure(t *testing.T) {
	f := newFixture(t, core.AccessFullAccess, approveAll())
	res := f.router.Handle(validRequest("echo", map[string]any{"msg": 42}))

	assertRejected(t, res, "schema")
	if f.sink.records[0].ValidationOK {
		t.Fatal("audit must record validation failure")
	}
}

func TestHandle_SchemaFailureKeepsAllErrors(t *testing.T) {
	f := newFixture(t, core.AccessFullAccess, approveAll())
	res := f.router.Handle(validRequest("echo", map[string]any{"msg": 42, "extra": true}))

	if len(res.ValidationErrors) != 2 {
		t.Fatalf("expected both schema errors, got %v", res.ValidationErrors)
	}
	for _, e := range res.ValidationErrors {
		if !strings.Contains(e, "schema") {
			t.Fatalf("schema error missing marker: %s", e)
		}
	}
}

func TestHandle_InputSizeCap(t *testing.T) {
	f := newFixture(t, core.AccessFullAccess, approveAll())
	res := f.router.Handle(validRequest("tiny_echo", map[string]any{
		"msg": strings.Repeat("a", 64),
	}))
	assertRejected(t, res, "input size")
}

func TestHandle_AbsolutePathRejected(t *testing.T) {
	f := newFixture(t, core.AccessFullAccess, approveAll())
	res := f.router.Handle(validRequest("read_file", map[string]any{"path": "/etc/passwd"}))
	assertRejected(t, res, "absolute")
}

func TestHandle_TraversalRejected(t *testing.T) {
	f := newFixture(t, core.AccessFullAccess, approveAll())
	res := f.router.Handle(validRequest("read_file", map[string]any{"path": "../secrets.txt"}))
	assertRejected(t, res, "traversal")
}

func TestHandle_SiblingPrefixDirRejected(t *testing.T) {
	f := newFixture(t, core.AccessFullAccess, approveAll())
	res := f.router.Handle(validRequest("read_file", map[string]any{"path": "docs_evil/a.md"}))
	assertRejected(t, res, "traversal")
}

func TestHandle_AllowedPathAccepted(t *testing.T) {
	f := newFixture(t, core.AccessFullAccess, approveAll())
	res := f.router.Handle(validRequest("read_file", map[string]any{"path": "docs/a.md"}))
	if res.Decision != core.DecisionApproved {
		t.Fatalf("expected APPROVED, got %v", res.ValidationErrors)
	}
}

func TestHandle_PathListWithRecords(t *testing.T) {
	f := newFixture(t, core.AccessFullAccess, approveAll())

	// Clean list of path records passes.
	res := f.router.Handle(validRequest("read_many", map[string]any{
		"files": []any{
			map[string]any{"path": "docs/a.md"},
			"docs/b.md",
		},
	}))
	if res.Decision != core.DecisionApproved {
		t.Fatalf("clean path list should pass: %v", res.ValidationErrors)
	}

	// One escaping record poisons the whole request.
	res = f.router.Handle(validRequest("read_many", map[string]any{
		"files": []any{
			map[string]any{"path": "docs/a.md"},
			map[string]any{"path": "../escape.md"},
		},
	}))
	assertRejected(t, res, "traversal")
}

func TestHandle_RunScopeMissingRunID(t *testing.T) {
	f := newFixture(t, core.AccessFullAccess, approveAll())
	req := validRequest("write_artifact", map[string]any{"path": "artifacts/x/out.txt", "content": "c"})
	req.RunID = ""

	res := f.router.Handle(req)
	assertRejected(t, res, "run_id required")
}

func TestHandle_RunScopeBadFormat(t *testing.T) {
	f := newFixture(t, core.AccessFullAccess, approveAll())
	req := validRequest("write_artifact", map[string]any{"path": "artifacts/short/out.txt", "content": "c"})
	req.RunID = "short"

	res := f.router.Handle(req)
	assertRejected(t, res, "run_id format invalid")
}

func TestHandle_RunScopePathOutsideNamespace(t *testing.T) {
	f := newFixture(t, core.AccessFullAccess, approveAll())
	req := validRequest("write_artifact", map[string]any{"path": "artifacts/other/out.txt", "content": "c"})
	req.RunID = "valid-run-id-1"

	res := f.router.Handle(req)
	assertRejected(t, res, "run-scoped tool")
}

func TestHandle_RunScopeAccepted(t *testing.T) {
	f := newFixture(t, core.AccessFullAccess, approveAll())
	req := validRequest("write_artifact", map[string]any{
		"path":    "artifacts/valid-run-id-1/out.txt",
		"content": "c",
	})
	req.RunID = "valid-run-id-1"

	res := f.router.Handle(req)
	if res.Decision != core.DecisionApproved {
		t.Fatalf("expected APPROVED, got %v", res.ValidationErrors)
	}
}

func TestHandle_ApprovalNoCallback(t *testing.T) {
	f := newFixture(t, core.AccessRequestFirst, nil)
	res := f.router.Handle(validRequest("echo", map[string]any{"msg": "hi"}))
	assertRejected(t, res, "denied")
}

func TestHandle_ApprovalDenied(t *testing.T) {
	f := newFixture(t, core.AccessFullAccess, denyAll())
	req := validRequest("write_artifact", map[string]any{
		"path":    "artifacts/valid-run-id-1/out.txt",
		"content": "c",
	})
	req.RunID = "valid-run-id-1"

	res := f.router.Handle(req)
	assertRejected(t, res, "denied")
}

func TestHandle_FullAccessReadNeedsNoApproval(t *testing.T) {
	// Read-only tool under FULL_ACCESS: the approval gate is skipped even
	// with no approver registered.
	f := newFixture(t, core.AccessFullAccess, nil)
	res := f.router.Handle(validRequest("echo", map[string]any{"msg": "hi"}))
	if res.Decision != core.DecisionApproved {
		t.Fatalf("expected APPROVED, got %v", res.ValidationErrors)
	}
}

func TestHandle_ExecuteSuccess(t *testing.T) {
	f := newFixture(t, core.AccessFullAccess, approveAll())
	res := f.router.Handle(validRequest("echo", map[string]any{"msg": "hi"}))

	if res.Decision != core.DecisionApproved || !res.ValidationOK {
		t.Fatalf("expected approved result, got %+v", res)
	}
	out, ok := res.Output.(map[string]any)
	if !ok || out["msg"] != "hi" {
		t.Fatalf("unexpected output: %v", res.Output)
	}
	if res.OutputSize == 0 {
		t.Fatal("output size must be recorded")
	}
}

func TestHandle_NoExecutorRegistered(t *testing.T) {
	f := newFixture(t, core.AccessFullAccess, approveAll())
	req := validRequest("read_file", map[string]any{"path": "docs/a.md"})
	delete(f.router.executors, "read_file")

	res := f.router.Handle(req)
	assertRejected(t, res, "no executor registered")
}

func TestHandle_OversizedOutputSpilled(t *testing.T) {
	f := newFixture(t, core.AccessFullAccess, approveAll())
	res := f.router.Handle(validRequest("tiny_echo", map[string]any{"msg": "x"}))

	if res.Decision != core.DecisionApproved {
		t.Fatalf("expected APPROVED, got %v", res.ValidationErrors)
	}

	sentinel, ok := res.Output.(map[string]any)
	if !ok || sentinel["truncated"] != true {
		t.Fatalf("expected truncated sentinel, got %v", res.Output)
	}
	rel, _ := sentinel["artifact"].(string)
	if rel == "" {
		t.Fatal("sentinel must reference the artifact")
	}
	if len(res.Artifacts) != 1 || res.Artifacts[0] != rel {
		t.Fatalf("artifact list mismatch: %v", res.Artifacts)
	}

	// The spill file must exist inside the project root.
	full := filepath.Join(f.root, rel)
	data, err := os.ReadFile(full)
	if err != nil {
		t.Fatalf("artifact not written: %v", err)
	}
	if !strings.Contains(string(data), "padding") {
		t.Fatal("artifact must hold the full output")
	}
	if !strings.HasPrefix(rel, filepath.Join(core.ArtifactsDir, "oversized")) {
		t.Fatalf("artifact outside the oversized dir: %s", rel)
	}
}

func TestHandle_AlwaysAudited(t *testing.T) {
	f := newFixture(t, core.AccessFullAccess, approveAll())

	f.router.Handle(validRequest("echo", map[string]any{"msg": "hi"}))
	bad := validRequest("echo", map[string]any{})
	bad.Nonce = "forged"
	f.router.Handle(bad)

	if len(f.sink.records) != 2 {
		t.Fatalf("every pipeline run must audit exactly once, got %d", len(f.sink.records))
	}
	for _, rec := range f.sink.records {
		if len(rec.RawArgsHash) != 64 {
			t.Fatalf("bad hash in audit record: %q", rec.RawArgsHash)
		}
	}
}

func TestHandle_PanickingExecutorStillAudits(t *testing.T) {
	f := newFixture(t, core.AccessFullAccess, approveAll())
	f.router.executors["echo"] = ExecutorFunc(func(map[string]any, *registry.ToolDefinition, string) (any, error) {
		panic("executor bug")
	})

	res := f.router.Handle(validRequest("echo", map[string]any{"msg": "hi"}))
	assertRejected(t, res, "internal error")
	if len(f.sink.records) != 1 {
		t.Fatal("panicking executor must still produce an audit record")
	}
}
