// Package operator implements the record-query built-in operator library
// (spec.md §4.5): per-record operators (id, select, map, filter, tee) and
// streaming operators (explode, collect, count, sum/min/max/avg, sort,
// uniq, limit, skip), plus the supplemental classify operator.
package operator

import (
	"github.com/recordquery/rq/internal/query"
	"github.com/recordquery/rq/rqvalue"
)

// Cardinality classifies an operator instance per spec.md §4.5/§4.6, so the
// pipeline evaluator can reason about memory bounds and early termination.
type Cardinality int

const (
	// Pure operators consume one record and emit zero-or-more without
	// retaining state across records.
	Pure Cardinality = iota
	// StatefulBounded operators retain a small, bounded amount of state
	// (e.g. uniq's last-seen record).
	StatefulBounded
	// StatefulUnboundedTerminal operators buffer the entire stream and
	// only produce output at end-of-stream.
	StatefulUnboundedTerminal
)

// Operator is one compiled pipeline stage (spec.md §4.6's per-instance
// state machine: Ready -> Running -> Draining -> Done).
type Operator interface {
	// Process consumes one record, returning zero or more output records.
	// A soft per-record error (select/filter, spec.md §7) is reported via
	// (nil, nil) plus an out-of-band diagnostic rather than returned here;
	// Process only returns an error for hard failures that must terminate
	// the stream.
	Process(v rqvalue.Value) ([]rqvalue.Value, error)
	// Finish is invoked once, at upstream end-of-stream; terminal
	// operators emit their buffered output here.
	Finish() ([]rqvalue.Value, error)
	// Cardinality reports this operator's memory/termination class.
	Cardinality() Cardinality
}

// EarlyTerminator is implemented by operators that can signal "no more
// input needed" before upstream EOF (spec.md §4.6's early-termination
// propagation, e.g. limit(n) after the nth record).
type EarlyTerminator interface {
	Done() bool
}

// Constructor builds an Operator instance from a Process's parsed argument
// expressions. Argument-count/type validation happens here, at pipeline
// construction time.
type Constructor func(args []*query.Expr) (Operator, error)

var registry = map[string]Constructor{}

func register(name string, c Constructor) { registry[name] = c }

// Lookup resolves a Process name against the operator library (spec.md
// §4.6). ok is false for unknown names, which the caller reports as
// rqerr.UnknownOperator.
func Lookup(name string) (Constructor, bool) {
	c, ok := registry[name]
	return c, ok
}

func init() {
	register("id", newIdentity)
	register("select", newSelect)
	register("map", newMap)
	register("filter", newFilter)
	register("tee", newTee)
	register("explode", newExplode)
	register("collect", newCollect)
	register("count", newCount)
	register("sum", newSum)
	register("min", newMin)
	register("max", newMax)
	register("avg", newAvg)
	register("sort", newSort)
	register("uniq", newUniq)
	register("limit", newLimit)
	register("skip", newSkip)
	register("classify", newClassify)
}
