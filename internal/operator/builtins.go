package operator

import (
	"bufio"
	"encoding/json"
	"os"
	"sort"

	"github.com/recordquery/rq/internal/query"
	"github.com/recordquery/rq/internal/rqerr"
	"github.com/recordquery/rq/internal/rqlog"
	"github.com/recordquery/rq/rqvalue"
)

// --- id -------------------------------------------------------------------

type identityOp struct{}

func newIdentity(args []*query.Expr) (Operator, error) {
	if len(args) != 0 {
		return nil, rqerr.New(rqerr.Usage, "id takes no arguments").WithOperator("id")
	}
	return identityOp{}, nil
}

func (identityOp) Process(v rqvalue.Value) ([]rqvalue.Value, error) { return []rqvalue.Value{v}, nil }
func (identityOp) Finish() ([]rqvalue.Value, error)                 { return nil, nil }
func (identityOp) Cardinality() Cardinality                         { return Pure }

// --- select(expr) -----------------------------------------------------------
//
// select emits expr(record) itself (not the original record) when it
// evaluates without error and is not Unit; both an evaluation error and a
// Unit result are soft-dropped (spec.md §4.5/§7: select's errors never
// terminate the stream). This is also the shape the ".path" shorthand's
// bare Expression process uses (see pipeline.go).

type selectOp struct{ expr *query.Expr }

func newSelect(args []*query.Expr) (Operator, error) {
	if len(args) != 1 {
		return nil, rqerr.New(rqerr.Usage, "select takes exactly one argument").WithOperator("select")
	}
	return &selectOp{expr: args[0]}, nil
}

func (o *selectOp) Process(v rqvalue.Value) ([]rqvalue.Value, error) {
	return EvalSelectLike(o.expr, v)
}

// EvalSelectLike implements the shared select/".path" soft-drop rule: emit
// the evaluated Value unless evaluation errored or produced Unit. Exported
// so internal/pipeline can apply the identical rule to a bare ProcessExpr
// stage (the ".path" shorthand), which spec.md §4.5 describes the same way.
func EvalSelectLike(expr *query.Expr, v rqvalue.Value) ([]rqvalue.Value, error) {
	got, err := expr.Eval(v)
	if err != nil {
		rqlog.Warnf("select: dropping record: %v", err)
		return nil, nil
	}
	if got.IsUnit() {
		return nil, nil
	}
	return []rqvalue.Value{got}, nil
}

func (*selectOp) Finish() ([]rqvalue.Value, error) { return nil, nil }
func (*selectOp) Cardinality() Cardinality         { return Pure }

// --- map(expr) --------------------------------------------------------------
//
// map transforms every record; an evaluation error here is a hard failure
// (spec.md §7) since the caller has no reasonable substitute record to emit.

type mapOp struct{ expr *query.Expr }

func newMap(args []*query.Expr) (Operator, error) {
	if len(args) != 1 {
		return nil, rqerr.New(rqerr.Usage, "map takes exactly one argument").WithOperator("map")
	}
	return &mapOp{expr: args[0]}, nil
}

func (o *mapOp) Process(v rqvalue.Value) ([]rqvalue.Value, error) {
	got, err := o.expr.Eval(v)
	if err != nil {
		return nil, err
	}
	return []rqvalue.Value{got}, nil
}

func (*mapOp) Finish() ([]rqvalue.Value, error) { return nil, nil }
func (*mapOp) Cardinality() Cardinality         { return Pure }

// --- filter(expr) -------------------------------------------------------------

type filterOp struct{ expr *query.Expr }

func newFilter(args []*query.Expr) (Operator, error) {
	if len(args) != 1 {
		return nil, rqerr.New(rqerr.Usage, "filter takes exactly one argument").WithOperator("filter")
	}
	return &filterOp{expr: args[0]}, nil
}

func (o *filterOp) Process(v rqvalue.Value) ([]rqvalue.Value, error) {
	got, err := o.expr.Eval(v)
	if err != nil {
		rqlog.Warnf("filter: dropping record: %v", err)
		return nil, nil
	}
	if !got.Truthy() {
		return nil, nil
	}
	return []rqvalue.Value{v}, nil
}

func (*filterOp) Finish() ([]rqvalue.Value, error) { return nil, nil }
func (*filterOp) Cardinality() Cardinality         { return Pure }

// --- tee(path) ----------------------------------------------------------------
//
// tee writes every record as a JSON line to path (evaluated once, at
// construction time, against an empty record, since the destination is not
// per-record) and passes the record through unchanged.

type teeOp struct {
	f *os.File
	w *bufio.Writer
}

func newTee(args []*query.Expr) (Operator, error) {
	if len(args) != 1 {
		return nil, rqerr.New(rqerr.Usage, "tee takes exactly one argument").WithOperator("tee")
	}
	pathVal, err := args[0].Eval(rqvalue.Unit())
	if err != nil {
		return nil, rqerr.New(rqerr.Usage, "tee: path argument must not depend on the record: %v", err).WithOperator("tee")
	}
	path, ok := pathVal.AsString()
	if !ok {
		return nil, rqerr.New(rqerr.Usage, "tee: path argument must be a string").WithOperator("tee")
	}
	f, ferr := os.Create(path)
	if ferr != nil {
		return nil, rqerr.New(rqerr.IO, "tee: %v", ferr).WithOperator("tee")
	}
	return &teeOp{f: f, w: bufio.NewWriter(f)}, nil
}

func (o *teeOp) Process(v rqvalue.Value) ([]rqvalue.Value, error) {
	b, err := json.Marshal(rqvalue.ToGo(v))
	if err != nil {
		return nil, rqerr.New(rqerr.Serialize, "tee: %v", err).WithOperator("tee")
	}
	o.w.Write(b)
	o.w.WriteByte('\n')
	return []rqvalue.Value{v}, nil
}

func (o *teeOp) Finish() ([]rqvalue.Value, error) {
	o.w.Flush()
	o.f.Close()
	return nil, nil
}

func (*teeOp) Cardinality() Cardinality { return Pure }

// --- explode ------------------------------------------------------------------
//
// explode expands an Array into its elements or a Map into [key, value]
// pairs; records of other kinds pass through unchanged (spec.md §4.5).

type explodeOp struct{}

func newExplode(args []*query.Expr) (Operator, error) {
	if len(args) != 0 {
		return nil, rqerr.New(rqerr.Usage, "explode takes no arguments").WithOperator("explode")
	}
	return explodeOp{}, nil
}

func (explodeOp) Process(v rqvalue.Value) ([]rqvalue.Value, error) {
	if arr, ok := v.AsArray(); ok {
		return append([]rqvalue.Value(nil), arr...), nil
	}
	if pairs, ok := v.AsMap(); ok {
		out := make([]rqvalue.Value, len(pairs))
		for i, p := range pairs {
			out[i] = rqvalue.Array([]rqvalue.Value{p.Key, p.Value})
		}
		return out, nil
	}
	return []rqvalue.Value{v}, nil
}

func (explodeOp) Finish() ([]rqvalue.Value, error) { return nil, nil }
func (explodeOp) Cardinality() Cardinality         { return Pure }

// --- collect ------------------------------------------------------------------

type collectOp struct{ buf []rqvalue.Value }

func newCollect(args []*query.Expr) (Operator, error) {
	if len(args) != 0 {
		return nil, rqerr.New(rqerr.Usage, "collect takes no arguments").WithOperator("collect")
	}
	return &collectOp{}, nil
}

func (o *collectOp) Process(v rqvalue.Value) ([]rqvalue.Value, error) {
	o.buf = append(o.buf, v)
	return nil, nil
}

func (o *collectOp) Finish() ([]rqvalue.Value, error) {
	return []rqvalue.Value{rqvalue.Array(o.buf)}, nil
}

func (*collectOp) Cardinality() Cardinality { return StatefulUnboundedTerminal }

// --- count ----------------------------------------------------------------

type countOp struct{ n int64 }

func newCount(args []*query.Expr) (Operator, error) {
	if len(args) != 0 {
		return nil, rqerr.New(rqerr.Usage, "count takes no arguments").WithOperator("count")
	}
	return &countOp{}, nil
}

func (o *countOp) Process(v rqvalue.Value) ([]rqvalue.Value, error) {
	o.n++
	return nil, nil
}

func (o *countOp) Finish() ([]rqvalue.Value, error) { return []rqvalue.Value{rqvalue.I64(o.n)}, nil }
func (*countOp) Cardinality() Cardinality           { return StatefulUnboundedTerminal }

// --- sum/min/max/avg --------------------------------------------------------
//
// These accumulate over the numeric records of the stream directly; a
// preceding map(.field) selects the field to aggregate. Non-numeric records
// are skipped with a warning rather than failing the stream.

type reduceKind int

const (
	reduceSum reduceKind = iota
	reduceMin
	reduceMax
	reduceAvg
)

type reduceOp struct {
	kind    reduceKind
	n       int64
	acc     float64
	allInt  bool
	accI    int64
	started bool
}

func newSum(args []*query.Expr) (Operator, error) { return newReduce(reduceSum, args) }
func newMin(args []*query.Expr) (Operator, error) { return newReduce(reduceMin, args) }
func newMax(args []*query.Expr) (Operator, error) { return newReduce(reduceMax, args) }
func newAvg(args []*query.Expr) (Operator, error) { return newReduce(reduceAvg, args) }

func newReduce(kind reduceKind, args []*query.Expr) (Operator, error) {
	if len(args) != 0 {
		return nil, rqerr.New(rqerr.Usage, "aggregate operators take no arguments")
	}
	return &reduceOp{kind: kind, allInt: true}, nil
}

func (o *reduceOp) Process(v rqvalue.Value) ([]rqvalue.Value, error) {
	var f float64
	var i int64
	switch v.Kind() {
	case rqvalue.KI64:
		i, _ = v.AsI64()
		f = float64(i)
	case rqvalue.KU64:
		u, _ := v.AsU64()
		i = int64(u)
		f = float64(u)
	case rqvalue.KF64:
		f, _ = v.AsF64()
		o.allInt = false
	default:
		rqlog.Warnf("aggregate: skipping non-numeric record of kind %s", v.Kind())
		return nil, nil
	}
	o.n++
	if !o.started {
		o.started = true
		o.acc = f
		o.accI = i
		return nil, nil
	}
	switch o.kind {
	case reduceSum, reduceAvg:
		o.acc += f
		o.accI += i
	case reduceMin:
		if f < o.acc {
			o.acc = f
			o.accI = i
		}
	case reduceMax:
		if f > o.acc {
			o.acc = f
			o.accI = i
		}
	}
	return nil, nil
}

func (o *reduceOp) Finish() ([]rqvalue.Value, error) {
	if o.n == 0 {
		return []rqvalue.Value{rqvalue.Unit()}, nil
	}
	switch o.kind {
	case reduceAvg:
		return []rqvalue.Value{rqvalue.F64(o.acc / float64(o.n))}, nil
	default:
		if o.allInt {
			return []rqvalue.Value{rqvalue.I64(o.accI)}, nil
		}
		return []rqvalue.Value{rqvalue.F64(o.acc)}, nil
	}
}

func (*reduceOp) Cardinality() Cardinality { return StatefulUnboundedTerminal }

// --- sort(expr?) --------------------------------------------------------------

type sortOp struct {
	keyExpr *query.Expr
	buf     []rqvalue.Value
}

func newSort(args []*query.Expr) (Operator, error) {
	if len(args) > 1 {
		return nil, rqerr.New(rqerr.Usage, "sort takes at most one argument").WithOperator("sort")
	}
	o := &sortOp{}
	if len(args) == 1 {
		o.keyExpr = args[0]
	}
	return o, nil
}

func (o *sortOp) Process(v rqvalue.Value) ([]rqvalue.Value, error) {
	o.buf = append(o.buf, v)
	return nil, nil
}

func (o *sortOp) Finish() ([]rqvalue.Value, error) {
	keys := make([]rqvalue.Value, len(o.buf))
	for i, v := range o.buf {
		if o.keyExpr == nil {
			keys[i] = v
			continue
		}
		k, err := o.keyExpr.Eval(v)
		if err != nil {
			return nil, err
		}
		keys[i] = k
	}
	idx := make([]int, len(o.buf))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return rqvalue.Less(keys[idx[a]], keys[idx[b]])
	})
	out := make([]rqvalue.Value, len(o.buf))
	for i, j := range idx {
		out[i] = o.buf[j]
	}
	return out, nil
}

func (*sortOp) Cardinality() Cardinality { return StatefulUnboundedTerminal }

// --- uniq -----------------------------------------------------------------
//
// uniq drops a record that structurally equals the immediately preceding
// (non-dropped) record, like the Unix coreutil it is named after; this only
// needs to retain the last-emitted record (spec.md §4.5, stateful-bounded).

type uniqOp struct {
	have bool
	last rqvalue.Value
}

func newUniq(args []*query.Expr) (Operator, error) {
	if len(args) != 0 {
		return nil, rqerr.New(rqerr.Usage, "uniq takes no arguments").WithOperator("uniq")
	}
	return &uniqOp{}, nil
}

func (o *uniqOp) Process(v rqvalue.Value) ([]rqvalue.Value, error) {
	if o.have && rqvalue.Equal(o.last, v) {
		return nil, nil
	}
	o.have = true
	o.last = v
	return []rqvalue.Value{v}, nil
}

func (*uniqOp) Finish() ([]rqvalue.Value, error) { return nil, nil }
func (*uniqOp) Cardinality() Cardinality         { return StatefulBounded }

// --- limit(n) -------------------------------------------------------------

type limitOp struct {
	remaining int64
}

func newLimit(args []*query.Expr) (Operator, error) {
	n, err := intArg(args, "limit")
	if err != nil {
		return nil, err
	}
	return &limitOp{remaining: n}, nil
}

func (o *limitOp) Process(v rqvalue.Value) ([]rqvalue.Value, error) {
	if o.remaining <= 0 {
		return nil, nil
	}
	o.remaining--
	return []rqvalue.Value{v}, nil
}

func (o *limitOp) Finish() ([]rqvalue.Value, error) { return nil, nil }
func (*limitOp) Cardinality() Cardinality           { return StatefulBounded }
func (o *limitOp) Done() bool                        { return o.remaining <= 0 }

// --- skip(n) ----------------------------------------------------------------

type skipOp struct{ remaining int64 }

func newSkip(args []*query.Expr) (Operator, error) {
	n, err := intArg(args, "skip")
	if err != nil {
		return nil, err
	}
	return &skipOp{remaining: n}, nil
}

func (o *skipOp) Process(v rqvalue.Value) ([]rqvalue.Value, error) {
	if o.remaining > 0 {
		o.remaining--
		return nil, nil
	}
	return []rqvalue.Value{v}, nil
}

func (*skipOp) Finish() ([]rqvalue.Value, error) { return nil, nil }
func (*skipOp) Cardinality() Cardinality         { return StatefulBounded }

// intArg evaluates a single literal-integer argument against an empty
// record, for operators like limit/skip whose argument is a constant count
// rather than a per-record expression.
func intArg(args []*query.Expr, name string) (int64, error) {
	if len(args) != 1 {
		return 0, rqerr.New(rqerr.Usage, "%s takes exactly one argument", name).WithOperator(name)
	}
	v, err := args[0].Eval(rqvalue.Unit())
	if err != nil {
		return 0, rqerr.New(rqerr.Usage, "%s: %v", name, err).WithOperator(name)
	}
	i, ok := v.AsI64()
	if !ok {
		if u, ok2 := v.AsU64(); ok2 {
			return int64(u), nil
		}
		return 0, rqerr.New(rqerr.Usage, "%s: argument must be an integer", name).WithOperator(name)
	}
	return i, nil
}
