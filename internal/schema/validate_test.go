package schema

import (
	"strings"
	"testing"
)

func fileToolSchema(t *testing.T) *Node {
	t.Helper()
	return mustCompile(t, map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []any{"path"},
		"properties": map[string]any{
			"path":    map[string]any{"type": "string", "minLength": float64(1)},
			"mode":    map[string]any{"type": "string", "enum": []any{"read", "write"}},
			"retries": map[string]any{"type": "integer", "minimum": float64(0), "maximum": float64(5)},
			"tags": map[string]any{
				"type":     "array",
				"maxItems": float64(3),
				"items":    map[string]any{"type": "string"},
			},
		},
	})
}

func TestValidate_OK(t *testing.T) {
	n := fileToolSchema(t)
	errs := n.Validate(map[string]any{
		"path":    "docs/readme.md",
		"mode":    "read",
		"retries": float64(2),
		"tags":    []any{"a", "b"},
	})
	if len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
}

func TestValidate_MissingRequired(t *testing.T) {
	n := fileToolSchema(t)
	errs := n.Validate(map[string]any{"mode": "read"})
	if len(errs) != 1 {
		t.Fatalf("expected 1 error, got %v", errs)
	}
	if !strings.Contains(errs[0], "schema") || !strings.Contains(errs[0], `"path"`) {
		t.Fatalf("unexpected error: %s", errs[0])
	}
}

func TestValidate_AdditionalPropertyRejected(t *testing.T) {
	n := fileToolSchema(t)
	errs := n.Validate(map[string]any{
		"path":  "docs/readme.md",
		"sneak": true,
	})
	if len(errs) != 1 {
		t.Fatalf("expected 1 error, got %v", errs)
	}
	if !strings.Contains(errs[0], `additional property "sneak"`) {
		t.Fatalf("unexpected error: %s", errs[0])
	}
}

func TestValidate_BooleanIsNotInteger(t *testing.T) {
	n := fileToolSchema(t)
	errs := n.Validate(map[string]any{
		"path":    "docs/readme.md",
		"retries": true,
	})
	if len(errs) != 1 {
		t.Fatalf("expected 1 error, got %v", errs)
	}
	if !strings.Contains(errs[0], "expected integer, got boolean") {
		t.Fatalf("unexpected error: %s", errs[0])
	}
	if !strings.Contains(errs[0], "root.retries") {
		t.Fatalf("error should carry the path: %s", errs[0])
	}
}

func TestValidate_FractionalIsNotInteger(t *testing.T) {
	n := fileToolSchema(t)
	errs := n.Validate(map[string]any{
		"path":    "docs/readme.md",
		"retries": 2.5,
	})
	if len(errs) != 1 {
		t.Fatalf("expected 1 error, got %v", errs)
	}
}

func TestValidate_EnumMiss(t *testing.T) {
	n := fileToolSchema(t)
	errs := n.Validate(map[string]any{
		"path": "docs/readme.md",
		"mode": "append",
	})
	if len(errs) != 1 || !strings.Contains(errs[0], "enum") {
		t.Fatalf("expected enum error, got %v", errs)
	}
}

func TestValidate_NumericBounds(t *testing.T) {
	n := fileToolSchema(t)
	errs := n.Validate(map[string]any{
		"path":    "docs/readme.md",
		"retries": float64(9),
	})
	if len(errs) != 1 || !strings.Contains(errs[0], "maximum") {
		t.Fatalf("expected maximum error, got %v", errs)
	}
}

func TestValidate_StringMinLength(t *testing.T) {
	n := fileToolSchema(t)
	errs := n.Validate(map[string]any{"path": ""})
	if len(errs) != 1 || !strings.Contains(errs[0], "minLength") {
		t.Fatalf("expected minLength error, got %v", errs)
	}
}

func TestValidate_DeclaredMaxItems(t *testing.T) {
	n := fileToolSchema(t)
	errs := n.Validate(map[string]any{
		"path": "docs/readme.md",
		"tags": []any{"a", "b", "c", "d"},
	})
	if len(errs) != 1 || !strings.Contains(errs[0], "exceeds cap 3") {
		t.Fatalf("expected array cap error, got %v", errs)
	}
}

func TestValidate_ArrayItemPath(t *testing.T) {
	n := fileToolSchema(t)
	errs := n.Validate(map[string]any{
		"path": "docs/readme.md",
		"tags": []any{"a", float64(7)},
	})
	if len(errs) != 1 || !strings.Contains(errs[0], "root.tags[1]") {
		t.Fatalf("expected item-path error, got %v", errs)
	}
}

func TestValidate_PayloadDepthCap(t *testing.T) {
	n := mustCompile(t, map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"blob": map[string]any{},
		},
	})

	// Build a payload nested deeper than the ceiling.
	deep := any("bottom")
	for i := 0; i < MaxDepth+2; i++ {
		deep = []any{deep}
	}
	errs := n.Validate(map[string]any{"blob": deep})
	if len(errs) == 0 {
		t.Fatal("expected depth cap error")
	}
	if !strings.Contains(errs[0], "depth") {
		t.Fatalf("unexpected error: %s", errs[0])
	}
}

func TestValidate_PayloadPropertyCountCap(t *testing.T) {
	n := mustCompile(t, map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"blob": map[string]any{"type": "object", "additionalProperties": false},
		},
	})

	wide := map[string]any{}
	for i := 0; i < MaxPropertiesCap+1; i++ {
		wide[strings.Repeat("k", i+1)] = i
	}
	errs := n.Validate(map[string]any{"blob": wide})
	if len(errs) == 0 {
		t.Fatal("expected property count cap error")
	}
	if !strings.Contains(errs[0], "cap is 50") {
		t.Fatalf("unexpected error: %s", errs[0])
	}
}

func TestValidate_EveryErrorContainsSchema(t *testing.T) {
	n := fileToolSchema(t)
	errs := n.Validate(map[string]any{
		"mode":    "append",
		"retries": true,
		"extra":   1,
	})
	if len(errs) == 0 {
		t.Fatal("expected errors")
	}
	for _, e := range errs {
		if !strings.Contains(e, "schema") {
			t.Fatalf("error missing 'schema' marker: %s", e)
		}
	}
}
