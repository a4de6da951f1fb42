package schema

import (
	"fmt"
)

// Validate checks an argument record against the compiled tree and returns
// the ordered list of failures (empty means valid). Every message contains
// "schema" and a dotted/bracketed path to the offending location. Structural
// ceilings on payload depth, array length, and property count apply here
// even when the schema itself would allow more.
func (n *Node) Validate(args map[string]any) []string {
	var errs []string
	validateValue(args, n, "root", 0, &errs)
	return errs
}

func validateValue(value any, n *Node, path string, depth int, errs *[]string) {
	if depth > MaxDepth {
		*errs = append(*errs, fmt.Sprintf(
			"schema error: value nesting depth exceeds cap %d at %s", MaxDepth, path))
		return
	}

	if !checkType(value, n, path, errs) {
		return
	}

	if len(n.Enum) > 0 && !enumContains(n.Enum, value) {
		*errs = append(*errs, fmt.Sprintf(
			"schema error: value %v not in enum at %s", value, path))
	}

	if s, ok := value.(string); ok {
		if n.MinLength != nil && len(s) < *n.MinLength {
			*errs = append(*errs, fmt.Sprintf(
				"schema error: string length %d < minLength %d at %s", len(s), *n.MinLength, path))
		}
		if n.MaxLength != nil && len(s) > *n.MaxLength {
			*errs = append(*errs, fmt.Sprintf(
				"schema error: string length %d > maxLength %d at %s", len(s), *n.MaxLength, path))
		}
	}

	if f, ok := asFloat(value); ok {
		if _, isBool := value.(bool); !isBool {
			if n.Minimum != nil && f < *n.Minimum {
				*errs = append(*errs, fmt.Sprintf(
					"schema error: %v < minimum %v at %s", f, *n.Minimum, path))
			}
			if n.Maximum != nil && f > *n.Maximum {
				*errs = append(*errs, fmt.Sprintf(
					"schema error: %v > maximum %v at %s", f, *n.Maximum, path))
			}
		}
	}

	if obj, ok := value.(map[string]any); ok {
		validateObject(obj, n, path, depth, errs)
	}
	if arr, ok := value.([]any); ok {
		validateArray(arr, n, path, depth, errs)
	}
}

// checkType reports whether the value matches the node's declared kind,
// appending an error when it does not. Integer and boolean are distinct
// even though JSON decoding collapses numbers to float64.
func checkType(value any, n *Node, path string, errs *[]string) bool {
	if n.Kind == KindAny {
		return true
	}

	ok := false
	switch n.Kind {
	case KindString:
		_, ok = value.(string)
	case KindBoolean:
		_, ok = value.(bool)
	case KindInteger:
		if _, isBool := value.(bool); isBool {
			*errs = append(*errs, fmt.Sprintf(
				"schema error: expected integer, got boolean at %s", path))
			return false
		}
		ok = isInteger(value)
	case KindNumber:
		if _, isBool := value.(bool); !isBool {
			_, ok = asFloat(value)
		}
	case KindObject:
		_, ok = value.(map[string]any)
	case KindArray:
		_, ok = value.([]any)
	case KindNull:
		ok = value == nil
	}

	if !ok {
		*errs = append(*errs, fmt.Sprintf(
			"schema error: expected %s, got %s at %s", n.Kind, typeName(value), path))
	}
	return ok
}

func validateObject(obj map[string]any, n *Node, path string, depth int, errs *[]string) {
	if len(obj) > MaxPropertiesCap {
		*errs = append(*errs, fmt.Sprintf(
			"schema error: object has %d properties, cap is %d at %s",
			len(obj), MaxPropertiesCap, path))
		return
	}

	// Compile guarantees every object node forbids extras.
	if n.Properties != nil || n.Kind == KindObject {
		for key := range obj {
			if _, declared := n.Properties[key]; !declared {
				*errs = append(*errs, fmt.Sprintf(
					"schema error: additional property %q not allowed at %s", key, path))
			}
		}
	}

	for _, req := range n.Required {
		if _, present := obj[req]; !present {
			*errs = append(*errs, fmt.Sprintf(
				"schema error: required field %q missing at %s", req, path))
		}
	}

	if n.Properties == nil && n.Kind != KindObject {
		// Unconstrained object: still walk it so the structural caps apply
		// to adversarially deep or wide payloads.
		for key, v := range obj {
			validateValue(v, anyNode, joinPath(path, key), depth+1, errs)
		}
		return
	}

	for key, child := range n.Properties {
		if v, present := obj[key]; present {
			validateValue(v, child, joinPath(path, key), depth+1, errs)
		}
	}
}

func validateArray(arr []any, n *Node, path string, depth int, errs *[]string) {
	limit := MaxItemsCap
	if n.MaxItems != nil && *n.MaxItems < limit {
		limit = *n.MaxItems
	}
	if len(arr) > limit {
		*errs = append(*errs, fmt.Sprintf(
			"schema error: array length %d exceeds cap %d at %s", len(arr), limit, path))
		return
	}
	if n.MinItems != nil && len(arr) < *n.MinItems {
		*errs = append(*errs, fmt.Sprintf(
			"schema error: array length %d < minItems %d at %s", len(arr), *n.MinItems, path))
	}
	item := n.Items
	if item == nil {
		item = anyNode
	}
	for i, v := range arr {
		validateValue(v, item, fmt.Sprintf("%s[%d]", path, i), depth+1, errs)
	}
}

// anyNode places no type constraint; used to keep walking unconstrained
// payloads for the structural caps.
var anyNode = &Node{}
