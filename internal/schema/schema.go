// Package schema implements the capped argument validator for tool calls.
//
// A schema is described as a JSON-like document (a restricted JSON Schema
// subset) and compiled once into a typed node tree; validation is a pure
// recursive descent over that tree, never reflection. Supported keywords:
// type, enum, required, properties, additionalProperties, items, minLength,
// maxLength, minimum, maximum, minItems, maxItems.
//
// Every object node, including array item schemas, must declare
// additionalProperties: false or compilation fails. That is a self-check of
// the schema author, not of the caller. Structural ceilings on depth, array
// length, and property count are enforced on the payload regardless of what
// the schema declares.
package schema

import (
	"fmt"
	"math"
	"strings"
)

// Hard structural ceilings, applied independent of schema-declared limits.
const (
	MaxDepth         = 10
	MaxItemsCap      = 500
	MaxPropertiesCap = 50
)

// Kind identifies a node's declared type. The empty kind places no type
// constraint on the value.
type Kind string

const (
	KindAny     Kind = ""
	KindObject  Kind = "object"
	KindArray   Kind = "array"
	KindString  Kind = "string"
	KindInteger Kind = "integer"
	KindNumber  Kind = "number"
	KindBoolean Kind = "boolean"
	KindNull    Kind = "null"
)

// Node is one compiled schema tree node. Built once by Compile and read-only
// afterwards.
type Node struct {
	Kind       Kind
	Enum       []any
	Required   []string
	Properties map[string]*Node
	Items      *Node
	MinLength  *int
	MaxLength  *int
	Minimum    *float64
	Maximum    *float64
	MinItems   *int
	MaxItems   *int
}

// Compile builds the node tree from a JSON-like schema document. It fails if
// the document is malformed: unknown type names, missing
// "additionalProperties": false on any object node (nested objects and array
// item schemas included), or declared structure beyond the hard ceilings.
// All error messages contain "schema".
func Compile(doc map[string]any) (*Node, error) {
	if doc == nil {
		return nil, fmt.Errorf("schema document is nil")
	}
	return compileNode(doc, "root", 0)
}

func compileNode(doc map[string]any, path string, depth int) (*Node, error) {
	if depth > MaxDepth {
		return nil, fmt.Errorf("schema depth %d exceeds cap %d at %s", depth, MaxDepth, path)
	}

	n := &Node{}

	if t, ok := doc["type"]; ok {
		name, ok := t.(string)
		if !ok {
			return nil, fmt.Errorf("schema type at %s must be a string", path)
		}
		switch Kind(name) {
		case KindObject, KindArray, KindString, KindInteger, KindNumber, KindBoolean, KindNull:
			n.Kind = Kind(name)
		default:
			return nil, fmt.Errorf("schema unknown type %q at %s", name, path)
		}
	}

	_, hasProps := doc["properties"]
	if n.Kind == KindObject || hasProps {
		// Objects must explicitly forbid extras at every level.
		ap, ok := doc["additionalProperties"]
		if !ok || ap != false {
			return nil, fmt.Errorf(
				"schema object at %s missing required additionalProperties: false", path)
		}
		if err := compileObject(doc, n, path, depth); err != nil {
			return nil, err
		}
	}

	if n.Kind == KindArray {
		if err := compileArray(doc, n, path, depth); err != nil {
			return nil, err
		}
	}

	if e, ok := doc["enum"]; ok {
		vals, ok := e.([]any)
		if !ok || len(vals) == 0 {
			return nil, fmt.Errorf("schema enum at %s must be a non-empty array", path)
		}
		n.Enum = vals
	}

	var err error
	if n.MinLength, err = intKeyword(doc, "minLength", path); err != nil {
		return nil, err
	}
	if n.MaxLength, err = intKeyword(doc, "maxLength", path); err != nil {
		return nil, err
	}
	if n.MinItems, err = intKeyword(doc, "minItems", path); err != nil {
		return nil, err
	}
	if n.MaxItems, err = intKeyword(doc, "maxItems", path); err != nil {
		return nil, err
	}
	if n.Minimum, err = floatKeyword(doc, "minimum", path); err != nil {
		return nil, err
	}
	if n.Maximum, err = floatKeyword(doc, "maximum", path); err != nil {
		return nil, err
	}

	return n, nil
}

func compileObject(doc map[string]any, n *Node, path string, depth int) error {
	if req, ok := doc["required"]; ok {
		items, ok := req.([]any)
		if !ok {
			return fmt.Errorf("schema required at %s must be an array of strings", path)
		}
		for _, it := range items {
			s, ok := it.(string)
			if !ok {
				return fmt.Errorf("schema required at %s must be an array of strings", path)
			}
			n.Required = append(n.Required, s)
		}
	}

	props, ok := doc["properties"].(map[string]any)
	if !ok {
		if _, present := doc["properties"]; present {
			return fmt.Errorf("schema properties at %s must be an object", path)
		}
		return nil
	}
	if len(props) > MaxPropertiesCap {
		return fmt.Errorf("schema declares %d properties at %s, cap is %d",
			len(props), path, MaxPropertiesCap)
	}

	n.Properties = make(map[string]*Node, len(props))
	for key, raw := range props {
		sub, ok := raw.(map[string]any)
		if !ok {
			return fmt.Errorf("schema property %q at %s must be an object", key, path)
		}
		child, err := compileNode(sub, path+"."+key, depth+1)
		if err != nil {
			return err
		}
		n.Properties[key] = child
	}
	return nil
}

func compileArray(doc map[string]any, n *Node, path string, depth int) error {
	raw, ok := doc["items"]
	if !ok {
		return nil
	}
	sub, ok := raw.(map[string]any)
	if !ok {
		return fmt.Errorf("schema items at %s must be an object", path)
	}
	child, err := compileNode(sub, path+"[]", depth+1)
	if err != nil {
		return err
	}
	n.Items = child
	return nil
}

func intKeyword(doc map[string]any, key, path string) (*int, error) {
	raw, ok := doc[key]
	if !ok {
		return nil, nil
	}
	f, ok := asFloat(raw)
	if !ok || f != math.Trunc(f) {
		return nil, fmt.Errorf("schema %s at %s must be an integer", key, path)
	}
	v := int(f)
	return &v, nil
}

func floatKeyword(doc map[string]any, key, path string) (*float64, error) {
	raw, ok := doc[key]
	if !ok {
		return nil, nil
	}
	f, ok := asFloat(raw)
	if !ok {
		return nil, fmt.Errorf("schema %s at %s must be a number", key, path)
	}
	return &f, nil
}

// asFloat normalizes the numeric representations that JSON and YAML decoding
// produce. Booleans are never numbers.
func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case float64:
		return t, true
	case float32:
		return float64(t), true
	}
	return 0, false
}

func isInteger(v any) bool {
	switch t := v.(type) {
	case bool:
		return false
	case int, int64:
		return true
	case float64:
		return t == math.Trunc(t)
	}
	return false
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case int, int64, float64, float32:
		return "number"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	}
	return fmt.Sprintf("%T", v)
}

func enumContains(enum []any, v any) bool {
	for _, e := range enum {
		if ef, ok := asFloat(e); ok {
			if vf, vok := asFloat(v); vok && ef == vf {
				return true
			}
			continue
		}
		if e == v {
			return true
		}
	}
	return false
}

func joinPath(path, key string) string {
	var b strings.Builder
	b.WriteString(path)
	b.WriteByte('.')
	b.WriteString(key)
	return b.String()
}
