// Package pipeline compiles a parsed query.Query into a chain of operator
// instances and drives records through it (spec.md §4.6): construction
// resolves each Process name against the operator library, execution pulls
// one record at a time from the source and threads it through the chain
// until end-of-stream, at which point terminal operators drain their
// buffered output.
package pipeline

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/recordquery/rq/internal/operator"
	"github.com/recordquery/rq/internal/query"
	"github.com/recordquery/rq/internal/rqerr"
	"github.com/recordquery/rq/rqvalue"
)

// stage is one compiled pipeline position: either a resolved operator, or —
// for a bare Expression process (including the ".path" shorthand) — the
// expression itself evaluated with the select-like soft-drop rule.
type stage struct {
	name string
	op   operator.Operator
	expr *query.Expr
}

// Pipeline is a compiled, ready-to-run query.Query.
type Pipeline struct {
	stages  []stage
	metrics *metrics
	reg     *prometheus.Registry
}

type metrics struct {
	in  *prometheus.CounterVec
	out *prometheus.CounterVec
}

func newMetrics(reg *prometheus.Registry) *metrics {
	m := &metrics{
		in: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rq_pipeline_records_in_total",
			Help: "Records received by each pipeline stage.",
		}, []string{"stage"}),
		out: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rq_pipeline_records_out_total",
			Help: "Records emitted by each pipeline stage.",
		}, []string{"stage"}),
	}
	reg.MustRegister(m.in, m.out)
	return m
}

// Compile resolves every Process in q against the operator library,
// returning UnknownOperator for any name that doesn't resolve.
func Compile(q *query.Query) (*Pipeline, error) {
	reg := prometheus.NewRegistry()
	p := &Pipeline{reg: reg, metrics: newMetrics(reg)}
	for _, proc := range q.Processes {
		s, err := compileProcess(proc)
		if err != nil {
			return nil, err
		}
		p.stages = append(p.stages, s)
	}
	return p, nil
}

func compileProcess(proc query.Process) (stage, error) {
	switch proc.Kind {
	case query.ProcessIdentity:
		ctor, _ := operator.Lookup("id")
		op, err := ctor(nil)
		return stage{name: "id", op: op}, err
	case query.ProcessExpr:
		return stage{name: ".path", expr: proc.Expr}, nil
	case query.ProcessFunction:
		ctor, ok := operator.Lookup(proc.Name)
		if !ok {
			return stage{}, rqerr.New(rqerr.UnknownOperator, "unknown operator %q", proc.Name).WithOperator(proc.Name)
		}
		op, err := ctor(proc.Args)
		if err != nil {
			return stage{}, err
		}
		return stage{name: proc.Name, op: op}, nil
	default:
		return stage{}, rqerr.New(rqerr.UnknownOperator, "unknown process kind")
	}
}

// WriteMetrics writes the pipeline's per-stage record counters to w in
// Prometheus text exposition format (spec.md's domain-stack wiring: counters
// dumped to stderr at end-of-stream rather than served over HTTP, since this
// is a one-shot CLI with no server to scrape it).
func (p *Pipeline) WriteMetrics(w io.Writer) error {
	families, err := p.reg.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}

// process threads v through stage s, returning its output records.
func (s stage) process(v rqvalue.Value) ([]rqvalue.Value, error) {
	if s.expr != nil {
		return operator.EvalSelectLike(s.expr, v)
	}
	return s.op.Process(v)
}

func (s stage) finish() ([]rqvalue.Value, error) {
	if s.expr != nil {
		return nil, nil
	}
	return s.op.Finish()
}

func (s stage) done() bool {
	if s.expr != nil {
		return false
	}
	term, ok := s.op.(operator.EarlyTerminator)
	return ok && term.Done()
}

// Done reports whether any stage that can early-terminate the stream
// (e.g. limit(n)) has satisfied its count, so the driver can stop pulling
// from the source even before upstream EOF (spec.md §4.6's early-termination
// propagation).
func (p *Pipeline) Done() bool {
	for _, s := range p.stages {
		if s.done() {
			return true
		}
	}
	return false
}

// Push drives one record from the source through every stage, fanning out
// across stages that emit more than one record per input, and returns the
// records that reached the end of the chain. A hard error from any stage
// aborts the push (spec.md §7: map/codec errors terminate the stream); a
// soft drop (select/filter/".path") simply yields fewer records, not an
// error.
func (p *Pipeline) Push(v rqvalue.Value) ([]rqvalue.Value, error) {
	cur := []rqvalue.Value{v}
	for i, s := range p.stages {
		p.metrics.in.WithLabelValues(s.name).Add(float64(len(cur)))
		var next []rqvalue.Value
		for _, rec := range cur {
			out, err := s.process(rec)
			if err != nil {
				return nil, wrapStageErr(err, s.name)
			}
			next = append(next, out...)
		}
		p.metrics.out.WithLabelValues(s.name).Add(float64(len(next)))
		cur = next
		if len(cur) == 0 && i < len(p.stages)-1 {
			// Nothing survived this stage; no point running the rest of
			// the chain against an empty batch.
			return nil, nil
		}
	}
	return cur, nil
}

// Finish drains every stage in order, collecting the terminal output each
// one produces at end-of-stream (spec.md §4.6's Draining state). A later
// stage still receives the earlier stages' drained output, so a pipeline
// like "collect | count" composes correctly.
func (p *Pipeline) Finish() ([]rqvalue.Value, error) {
	var all []rqvalue.Value
	for i, s := range p.stages {
		drained, err := s.finish()
		if err != nil {
			return nil, wrapStageErr(err, s.name)
		}
		cur := drained
		for _, later := range p.stages[i+1:] {
			var next []rqvalue.Value
			for _, rec := range cur {
				out, err := later.process(rec)
				if err != nil {
					return nil, wrapStageErr(err, later.name)
				}
				next = append(next, out...)
			}
			cur = next
		}
		all = append(all, cur...)
	}
	return all, nil
}

// wrapStageErr attaches the failing operator's name to err, preserving an
// existing *rqerr.Error's Kind/position fields rather than discarding them.
func wrapStageErr(err error, stageName string) error {
	if e, ok := err.(*rqerr.Error); ok {
		if e.Operator == "" {
			e.Operator = stageName
		}
		return e
	}
	return rqerr.New(rqerr.TypeMismatch, "%v", err).WithOperator(stageName).WithCause(err)
}
