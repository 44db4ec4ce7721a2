package expr

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		ok        bool
		variables []string
		errSubstr string
	}{
		{
			name: "SimpleComparison",
			raw:  `{">=": [{"var": "age"}, 18]}`,
			ok:   true, variables: []string{"age"},
		},
		{
			name: "NestedLogic",
			raw:  `{"and": [{">=": [{"var": "age"}, 18]}, {"or": [{"==": [{"var": "visa_type"}, "student"]}, {">": [{"var": "savings"}, 10000]}]}]}`,
			ok:   true, variables: []string{"age", "visa_type", "savings"},
		},
		{
			name: "BareConstant",
			raw:  `true`,
			ok:   true,
		},
		{
			name: "NumericConstant",
			raw:  `42`,
			ok:   true,
		},
		{
			name: "Negation",
			raw:  `{"!": {"var": "flagged"}}`,
			ok:   true, variables: []string{"flagged"},
		},
		{
			name: "NegationArrayForm",
			raw:  `{"not": [{"var": "flagged"}]}`,
			ok:   true, variables: []string{"flagged"},
		},
		{
			name: "VarArrayForm",
			raw:  `{"==": [{"var": ["status"]}, "approved"]}`,
			ok:   true, variables: []string{"status"},
		},
		{
			name: "UnaryMinus",
			raw:  `{"<": [{"-": [{"var": "balance"}]}, 0]}`,
			ok:   true, variables: []string{"balance"},
		},
		{
			name: "Arithmetic",
			raw:  `{">": [{"/": [{"var": "income"}, 12]}, 2000]}`,
			ok:   true, variables: []string{"income"},
		},
		{
			name:      "NullExpression",
			raw:       `null`,
			errSubstr: "null or absent",
		},
		{
			name:      "EmptyExpression",
			raw:       ``,
			errSubstr: "null or absent",
		},
		{
			name:      "MalformedJSON",
			raw:       `{">=": [`,
			errSubstr: "not valid JSON",
		},
		{
			name:      "UnknownOperator",
			raw:       `{"between": [{"var": "age"}, 18, 65]}`,
			errSubstr: `unsupported operator "between"`,
		},
		{
			name:      "MultiKeyObject",
			raw:       `{">=": [1, 2], "<=": [3, 4]}`,
			errSubstr: "exactly one key",
		},
		{
			name:      "EmptyObject",
			raw:       `{}`,
			errSubstr: "empty operator object",
		},
		{
			name:      "WrongArity",
			raw:       `{">=": [1, 2, 3]}`,
			errSubstr: "exactly two operands",
		},
		{
			name:      "EmptyLogicOperands",
			raw:       `{"and": []}`,
			errSubstr: "empty operand list",
		},
		{
			name:      "LogicWithoutArray",
			raw:       `{"and": true}`,
			errSubstr: "requires an array",
		},
		{
			name:      "EmptyVariableName",
			raw:       `{"var": ""}`,
			errSubstr: "must not be empty",
		},
		{
			name:      "VariableNameNotString",
			raw:       `{"var": 42}`,
			errSubstr: "requires a string name",
		},
		{
			name:      "BareArray",
			raw:       `[1, 2, 3]`,
			errSubstr: "bare array",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := Validate(json.RawMessage(tc.raw))

			if result.OK != tc.ok {
				t.Fatalf("expected OK=%v, got %v (errors: %v)", tc.ok, result.OK, result.Messages())
			}

			if tc.ok {
				if result.Root == nil {
					t.Fatal("expected a typed tree for a valid expression")
				}
				if len(result.Variables) != len(tc.variables) {
					t.Fatalf("expected variables %v, got %v", tc.variables, result.Variables)
				}
				for i, v := range tc.variables {
					if result.Variables[i] != v {
						t.Errorf("expected variable %d to be %q, got %q", i, v, result.Variables[i])
					}
				}
				return
			}

			if result.Root != nil {
				t.Error("expected nil root for an invalid expression")
			}
			found := false
			for _, msg := range result.Messages() {
				if strings.Contains(msg, tc.errSubstr) {
					found = true
				}
			}
			if !found {
				t.Errorf("expected an error containing %q, got %v", tc.errSubstr, result.Messages())
			}
		})
	}
}

func TestValidateDepthLimit(t *testing.T) {
	// Build a chain nested one level past the limit.
	inner := `{"var": "x"}`
	for i := 0; i < MaxDepth; i++ {
		inner = fmt.Sprintf(`{"!": %s}`, inner)
	}

	result := Validate(json.RawMessage(inner))
	if result.OK {
		t.Fatal("expected depth-limit rejection")
	}

	found := false
	for _, msg := range result.Messages() {
		if strings.Contains(msg, "maximum nesting depth") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a depth error, got %v", result.Messages())
	}
}

func TestValidateErrorPaths(t *testing.T) {
	result := Validate(json.RawMessage(`{"and": [{">=": [{"var": "age"}, 18]}, {"weird": [1]}]}`))
	if result.OK {
		t.Fatal("expected validation failure")
	}

	// The error path points into the failing operand.
	if len(result.Errors) == 0 || !strings.Contains(result.Errors[0].Path, "$.and[1]") {
		t.Errorf("expected error path under $.and[1], got %+v", result.Errors)
	}

	// Variables referenced before the failure are still collected.
	if len(result.Variables) != 1 || result.Variables[0] != "age" {
		t.Errorf("expected variables [age], got %v", result.Variables)
	}
}

func TestValidateDuplicateVariables(t *testing.T) {
	result := Validate(json.RawMessage(`{"and": [{">": [{"var": "age"}, 18]}, {"<": [{"var": "age"}, 65]}]}`))
	if !result.OK {
		t.Fatalf("unexpected errors: %v", result.Messages())
	}
	if len(result.Variables) != 1 {
		t.Errorf("expected deduplicated variables, got %v", result.Variables)
	}
}
