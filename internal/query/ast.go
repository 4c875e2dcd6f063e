// Package query implements the record-query pipeline language: lexer,
// recursive-descent parser, AST, and a direct evaluator over rqvalue.Value
// (spec.md §3.2, §4.4).
package query

// Query is a non-empty ordered sequence of pipeline stages (spec.md §3.2).
type Query struct {
	Processes []Process
}

// Process is one pipeline stage: a named operator application, the
// identity pass-through, or a bare expression (shorthand projection).
type Process struct {
	// Kind distinguishes the three Process forms.
	Kind ProcessKind
	// Name is set when Kind == ProcessFunction: the operator name.
	Name string
	// Args is set when Kind == ProcessFunction: the operator's argument
	// expressions, already parsed (not yet resolved against the operator
	// library — that happens in internal/operator).
	Args []*Expr
	// Expr is set when Kind == ProcessExpr: a bare expression used as an
	// implicit select(expr).
	Expr *Expr
}

type ProcessKind int

const (
	ProcessIdentity ProcessKind = iota
	ProcessFunction
	ProcessExpr
)

// Expr is the root of a compiled Expression tree (spec.md §3.2's
// Expression grammar). Expr trees are evaluated directly against
// rqvalue.Value by Eval (see eval.go).
type Expr struct {
	node exprNode
	// Source is the original expression text, used in error messages.
	Source string
}

// exprNode is the unexported expression-tree node interface; concrete node
// types are defined in exprnodes.go and built by the grammar productions in
// exprparser.go.
type exprNode interface {
	isExprNode()
}
