package parser

import (
	"strings"
	"testing"
)

func TestBuildParseRoundTrip(t *testing.T) {
	raw, err := BuildEnvelope("nonce-1", "agent-007", "scout", "read_file",
		map[string]any{"path": "docs/a.md"}, "run-12345678")
	if err != nil {
		t.Fatal(err)
	}
	env := ParseEnvelope(raw)
	if env == nil {
		t.Fatal("built envelope did not parse")
	}
	if env.Tool != "read_file" || env.Nonce != "nonce-1" || env.RunID != "run-12345678" {
		t.Fatalf("unexpected payload: %+v", env)
	}
	if env.Args["path"] != "docs/a.md" {
		t.Fatalf("args lost in round trip: %+v", env.Args)
	}
}

func TestBuildEnvelope_OmitsEmptyRunID(t *testing.T) {
	raw, err := BuildEnvelope("n", "a", "b", "t", map[string]any{}, "")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(raw, "run_id") {
		t.Fatalf("empty run_id must be omitted: %s", raw)
	}
}

func TestParseEnvelope_Rejections(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", "hello"},
		{"wrong root key", `{"tool_request":{"nonce":"n","agent_id":"a","agent_name":"b","tool":"t","args":{}}}`},
		{"missing nonce", `{"proxenos_tool_request":{"agent_id":"a","agent_name":"b","tool":"t","args":{}}}`},
		{"missing tool", `{"proxenos_tool_request":{"nonce":"n","agent_id":"a","agent_name":"b","args":{}}}`},
		{"args not object", `{"proxenos_tool_request":{"nonce":"n","agent_id":"a","agent_name":"b","tool":"t","args":[1]}}`},
		{"tool not string", `{"proxenos_tool_request":{"nonce":"n","agent_id":"a","agent_name":"b","tool":7,"args":{}}}`},
		{"root not object", `[1,2]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if env := ParseEnvelope(tc.raw); env != nil {
				t.Fatalf("expected nil, got %+v", env)
			}
		})
	}
}

func TestIsEnvelope(t *testing.T) {
	raw := `{"proxenos_tool_request":{"nonce":"n","agent_id":"a","agent_name":"b","tool":"t","args":{}}}`
	if !IsEnvelope(raw) {
		t.Fatal("expected valid envelope")
	}
	if IsEnvelope("{}") {
		t.Fatal("expected invalid envelope")
	}
}
