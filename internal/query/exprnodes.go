package query

import "github.com/recordquery/rq/rqvalue"

// rootNode evaluates to the current record itself; it is the implicit
// receiver of a leading-dot member-access chain ("`.path` shorthand").
type rootNode struct{}

func (rootNode) isExprNode() {}

type litNode struct{ v rqvalue.Value }

func (litNode) isExprNode() {}

type identNode struct{ name string }

func (identNode) isExprNode() {}

type memberNode struct {
	recv exprNode
	name string
}

func (memberNode) isExprNode() {}

type indexNode struct {
	recv exprNode
	idx  exprNode
}

func (indexNode) isExprNode() {}

type callNode struct {
	name string
	args []exprNode
}

func (callNode) isExprNode() {}

type unaryNode struct {
	op      string
	operand exprNode
}

func (unaryNode) isExprNode() {}

type binNode struct {
	op          string
	left, right exprNode
}

func (binNode) isExprNode() {}
