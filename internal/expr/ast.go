// Package expr implements the declarative requirement expression language:
// a JSON-structured tree of logical, comparison, and arithmetic operators
// over named fact variables.
//
// Expressions are validated once into a typed AST; evaluation operates on the
// tree rather than re-inspecting raw JSON at every recursion step.
package expr

// Node is the tagged union of expression tree variants.
type Node interface {
	node()
}

// Constant is a fixed scalar: string, float64, bool, or nil.
// A bare constant is a valid expression and evaluates independently of facts.
type Constant struct {
	Value any
}

// VariableRef reads a named fact from the evaluation fact set.
type VariableRef struct {
	Name string
}

// UnaryOp applies "!" (logical negation) or "-" (arithmetic negation) to a
// single operand.
type UnaryOp struct {
	Op      string
	Operand Node
}

// BinaryOp applies a comparison or arithmetic operator to two operands.
type BinaryOp struct {
	Op    string
	Left  Node
	Right Node
}

// NaryLogic applies "and" or "or" across operands with short-circuit
// semantics, left to right.
type NaryLogic struct {
	Op       string
	Operands []Node
}

func (Constant) node()    {}
func (VariableRef) node() {}
func (UnaryOp) node()     {}
func (BinaryOp) node()    {}
func (NaryLogic) node()   {}
