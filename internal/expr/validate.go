package expr

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MaxDepth caps expression nesting. Exceeding it is a validation error, never
// evaluated: it defends against pathological or cyclic-looking authored
// content.
const MaxDepth = 20

// Operator tokens accepted by the validator. Anything else is rejected with
// the offending token and its path.
var (
	logicOps = map[string]bool{
		"and": true,
		"or":  true,
	}
	unaryOps = map[string]bool{
		"!":   true,
		"not": true,
	}
	comparisonOps = map[string]bool{
		"==": true,
		"!=": true,
		">":  true,
		">=": true,
		"<":  true,
		"<=": true,
	}
	arithmeticOps = map[string]bool{
		"+": true,
		"-": true,
		"*": true,
		"/": true,
	}
)

// ValidationError is one structural failure, addressed by JSON path.
type ValidationError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e ValidationError) String() string {
	return e.Path + ": " + e.Message
}

// ValidationResult is the outcome of structural validation. When OK, Root
// holds the typed tree and Variables the referenced fact names in order of
// first reference.
type ValidationResult struct {
	OK        bool
	Root      Node
	Variables []string
	Errors    []ValidationError
}

// Messages flattens the errors for reporting.
func (r ValidationResult) Messages() []string {
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.String()
	}
	return msgs
}

// Validate checks an expression structurally and builds the typed AST.
// It never evaluates anything.
func Validate(raw json.RawMessage) ValidationResult {
	v := &validator{seen: make(map[string]bool)}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		v.errorf("$", "expression is null or absent")
		return v.result(nil)
	}

	var decoded any
	if err := json.Unmarshal(trimmed, &decoded); err != nil {
		v.errorf("$", "expression is not valid JSON: %v", err)
		return v.result(nil)
	}

	root := v.walk(decoded, "$", 1)
	return v.result(root)
}

type validator struct {
	variables []string
	seen      map[string]bool
	errors    []ValidationError
}

func (v *validator) result(root Node) ValidationResult {
	ok := len(v.errors) == 0
	if !ok {
		root = nil
	}
	return ValidationResult{
		OK:        ok,
		Root:      root,
		Variables: v.variables,
		Errors:    v.errors,
	}
}

func (v *validator) errorf(path, format string, args ...any) {
	v.errors = append(v.errors, ValidationError{
		Path:    path,
		Message: fmt.Sprintf(format, args...),
	})
}

func (v *validator) recordVariable(name string) {
	if !v.seen[name] {
		v.seen[name] = true
		v.variables = append(v.variables, name)
	}
}

func (v *validator) walk(val any, path string, depth int) Node {
	if depth > MaxDepth {
		v.errorf(path, "expression exceeds maximum nesting depth %d", MaxDepth)
		return nil
	}

	switch t := val.(type) {
	case nil:
		return Constant{Value: nil}
	case bool, float64, string:
		return Constant{Value: t}
	case map[string]any:
		return v.walkOperator(t, path, depth)
	case []any:
		v.errorf(path, "bare array is not an expression; expected an operator object or constant")
		return nil
	default:
		v.errorf(path, "unsupported value of type %T", val)
		return nil
	}
}

func (v *validator) walkOperator(obj map[string]any, path string, depth int) Node {
	if len(obj) == 0 {
		v.errorf(path, "empty operator object")
		return nil
	}
	if len(obj) > 1 {
		v.errorf(path, "operator object must have exactly one key, got %d", len(obj))
		return nil
	}

	var op string
	var arg any
	for k, a := range obj {
		op, arg = k, a
	}
	opPath := path + "." + op

	switch {
	case op == "var":
		return v.walkVar(arg, opPath)

	case unaryOps[op]:
		operand := v.unaryOperand(arg, opPath, depth)
		if operand == nil {
			return nil
		}
		return UnaryOp{Op: "!", Operand: operand}

	case logicOps[op]:
		args, ok := arg.([]any)
		if !ok {
			v.errorf(opPath, "%q requires an array of operands", op)
			return nil
		}
		if len(args) == 0 {
			v.errorf(opPath, "%q has an empty operand list", op)
			return nil
		}
		operands := make([]Node, 0, len(args))
		for i, a := range args {
			child := v.walk(a, fmt.Sprintf("%s[%d]", opPath, i), depth+1)
			if child != nil {
				operands = append(operands, child)
			}
		}
		if len(operands) != len(args) {
			return nil
		}
		return NaryLogic{Op: op, Operands: operands}

	case comparisonOps[op] || arithmeticOps[op]:
		args, ok := arg.([]any)
		if !ok {
			v.errorf(opPath, "%q requires an array of two operands", op)
			return nil
		}
		// "-" with one operand is arithmetic negation.
		if op == "-" && len(args) == 1 {
			operand := v.walk(args[0], opPath+"[0]", depth+1)
			if operand == nil {
				return nil
			}
			return UnaryOp{Op: "-", Operand: operand}
		}
		if len(args) != 2 {
			v.errorf(opPath, "%q requires exactly two operands, got %d", op, len(args))
			return nil
		}
		left := v.walk(args[0], opPath+"[0]", depth+1)
		right := v.walk(args[1], opPath+"[1]", depth+1)
		if left == nil || right == nil {
			return nil
		}
		return BinaryOp{Op: op, Left: left, Right: right}

	default:
		v.errorf(path, "unsupported operator %q", op)
		return nil
	}
}

func (v *validator) walkVar(arg any, path string) Node {
	switch t := arg.(type) {
	case string:
		if t == "" {
			v.errorf(path, "variable name must not be empty")
			return nil
		}
		v.recordVariable(t)
		return VariableRef{Name: t}
	case []any:
		if len(t) != 1 {
			v.errorf(path, "\"var\" requires a single name, got %d", len(t))
			return nil
		}
		name, ok := t[0].(string)
		if !ok || name == "" {
			v.errorf(path, "variable name must be a non-empty string")
			return nil
		}
		v.recordVariable(name)
		return VariableRef{Name: name}
	default:
		v.errorf(path, "\"var\" requires a string name, got %T", arg)
		return nil
	}
}

func (v *validator) unaryOperand(arg any, path string, depth int) Node {
	// Accept both {"!": expr} and {"!": [expr]}.
	if args, ok := arg.([]any); ok {
		if len(args) != 1 {
			v.errorf(path, "negation requires exactly one operand, got %d", len(args))
			return nil
		}
		arg = args[0]
	}
	return v.walk(arg, path, depth+1)
}
