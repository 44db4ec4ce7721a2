package expr

import (
	"fmt"
	"math"

	"github.com/Border-Link/immigration-ai-sub001/internal/domain"
)

// EvalError is a classified evaluation failure. Failures are never silently
// coerced to false; each carries a specific kind so the caller can fold it
// into the requirement outcome.
type EvalError struct {
	Kind    domain.ErrorKind
	Message string
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func evalErrorf(kind domain.ErrorKind, format string, args ...any) *EvalError {
	return &EvalError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Eval interprets a validated expression tree against a normalized fact map.
// Missing-variable handling is the caller's concern: the caller short-circuits
// to a missing_facts outcome before evaluating, so an absent variable here
// surfaces as a null result.
//
// The result is one of nil, bool, float64, or string.
func Eval(n Node, facts map[string]any) (any, *EvalError) {
	switch t := n.(type) {
	case Constant:
		return t.Value, nil

	case VariableRef:
		return facts[t.Name], nil

	case UnaryOp:
		return evalUnary(t, facts)

	case BinaryOp:
		return evalBinary(t, facts)

	case NaryLogic:
		return evalLogic(t, facts)

	default:
		return nil, evalErrorf(domain.ErrKindTypeMismatch, "unknown node type %T", n)
	}
}

// EvalBool evaluates and requires a boolean result. A null result means the
// condition could not be determined, which is distinct from false.
func EvalBool(n Node, facts map[string]any) (bool, *EvalError) {
	val, err := Eval(n, facts)
	if err != nil {
		return false, err
	}
	switch t := val.(type) {
	case bool:
		return t, nil
	case nil:
		return false, evalErrorf(domain.ErrKindNullResult, "expression produced null; condition could not be determined")
	case float64:
		if err := checkFinite(t); err != nil {
			return false, err
		}
		return false, evalErrorf(domain.ErrKindTypeMismatch, "expression produced a number, not a boolean")
	default:
		return false, evalErrorf(domain.ErrKindTypeMismatch, "expression produced %s, not a boolean", typeName(val))
	}
}

func evalUnary(op UnaryOp, facts map[string]any) (any, *EvalError) {
	val, err := Eval(op.Operand, facts)
	if err != nil {
		return nil, err
	}

	switch op.Op {
	case "!":
		b, ok := val.(bool)
		if !ok {
			if val == nil {
				return nil, evalErrorf(domain.ErrKindNullResult, "negation of null")
			}
			return nil, evalErrorf(domain.ErrKindTypeMismatch, "negation requires a boolean, got %s", typeName(val))
		}
		return !b, nil

	case "-":
		n, ok := val.(float64)
		if !ok {
			if val == nil {
				return nil, evalErrorf(domain.ErrKindNullResult, "arithmetic negation of null")
			}
			return nil, evalErrorf(domain.ErrKindTypeMismatch, "arithmetic negation requires a number, got %s", typeName(val))
		}
		return -n, nil

	default:
		return nil, evalErrorf(domain.ErrKindTypeMismatch, "unknown unary operator %q", op.Op)
	}
}

func evalLogic(op NaryLogic, facts map[string]any) (any, *EvalError) {
	for i, operand := range op.Operands {
		val, err := Eval(operand, facts)
		if err != nil {
			return nil, err
		}
		b, ok := val.(bool)
		if !ok {
			if val == nil {
				return nil, evalErrorf(domain.ErrKindNullResult, "%q operand %d is null", op.Op, i)
			}
			return nil, evalErrorf(domain.ErrKindTypeMismatch, "%q operand %d is %s, not a boolean", op.Op, i, typeName(val))
		}

		// Short-circuit left to right.
		if op.Op == "and" && !b {
			return false, nil
		}
		if op.Op == "or" && b {
			return true, nil
		}
	}

	return op.Op == "and", nil
}

func evalBinary(op BinaryOp, facts map[string]any) (any, *EvalError) {
	left, err := Eval(op.Left, facts)
	if err != nil {
		return nil, err
	}
	right, err := Eval(op.Right, facts)
	if err != nil {
		return nil, err
	}

	switch op.Op {
	case "==", "!=":
		return evalEquality(op.Op, left, right)
	case ">", ">=", "<", "<=":
		return evalOrdering(op.Op, left, right)
	case "+", "-", "*", "/":
		return evalArithmetic(op.Op, left, right)
	default:
		return nil, evalErrorf(domain.ErrKindTypeMismatch, "unknown binary operator %q", op.Op)
	}
}

func evalEquality(op string, left, right any) (any, *EvalError) {
	if left == nil || right == nil {
		return nil, evalErrorf(domain.ErrKindNullResult, "%q comparison with null operand", op)
	}
	if typeName(left) != typeName(right) {
		return nil, evalErrorf(domain.ErrKindTypeMismatch, "cannot compare %s with %s", typeName(left), typeName(right))
	}

	eq := left == right
	if op == "!=" {
		eq = !eq
	}
	return eq, nil
}

func evalOrdering(op string, left, right any) (any, *EvalError) {
	l, r, err := numericOperands(op, left, right)
	if err != nil {
		return nil, err
	}

	switch op {
	case ">":
		return l > r, nil
	case ">=":
		return l >= r, nil
	case "<":
		return l < r, nil
	default:
		return l <= r, nil
	}
}

func evalArithmetic(op string, left, right any) (any, *EvalError) {
	l, r, err := numericOperands(op, left, right)
	if err != nil {
		return nil, err
	}

	var result float64
	switch op {
	case "+":
		result = l + r
	case "-":
		result = l - r
	case "*":
		result = l * r
	case "/":
		if r == 0 {
			return nil, evalErrorf(domain.ErrKindDivisionByZero, "division by zero")
		}
		result = l / r
	}

	if ferr := checkFinite(result); ferr != nil {
		return nil, ferr
	}
	return result, nil
}

func numericOperands(op string, left, right any) (float64, float64, *EvalError) {
	if left == nil || right == nil {
		return 0, 0, evalErrorf(domain.ErrKindNullResult, "%q with null operand", op)
	}
	l, lok := left.(float64)
	r, rok := right.(float64)
	if !lok || !rok {
		return 0, 0, evalErrorf(domain.ErrKindTypeMismatch, "%q requires numeric operands, got %s and %s", op, typeName(left), typeName(right))
	}
	return l, r, nil
}

// checkFinite rejects NaN and ±Inf; a non-finite number is never surfaced as
// a pass/fail signal.
func checkFinite(f float64) *EvalError {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return evalErrorf(domain.ErrKindNonFiniteResult, "expression produced a non-finite number")
	}
	return nil
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	default:
		return fmt.Sprintf("%T", v)
	}
}
