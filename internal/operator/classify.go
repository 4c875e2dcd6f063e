package operator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/recordquery/rq/internal/query"
	"github.com/recordquery/rq/internal/rqerr"
	"github.com/recordquery/rq/internal/rqlog"
	"github.com/recordquery/rq/rqvalue"
)

// classifyVariable is a named sub-expression computed before a rule's main
// expression and made available to it under Name.
type classifyVariable struct {
	Name string `json:"name"`
	Expr string `json:"expr"`
}

// classifyRule is the on-disk JSON shape for one classification rule:
// requirements gate whether the rule is even considered, variables are
// computed into the environment, and rule is the final boolean test that
// decides whether Tag is applied.
type classifyRule struct {
	Tag          string             `json:"tag"`
	Requirements []string           `json:"requirements"`
	Variables    []classifyVariable `json:"variables"`
	Rule         string             `json:"rule"`
}

type compiledRule struct {
	tag          string
	requirements []*vm.Program
	variables    []struct {
		name string
		prog *vm.Program
	}
	rule *vm.Program
}

// classifyOp implements the supplemental classify(tagField, rulesDir)
// operator: for every record, each compiled rule's requirements and rule
// expression are run against a map[string]any view of the record, and
// matching tags are collected into record[tagField].
type classifyOp struct {
	tagField string
	rules    []compiledRule
}

func newClassify(args []*query.Expr) (Operator, error) {
	if len(args) != 2 {
		return nil, rqerr.New(rqerr.Usage, "classify takes exactly two arguments: classify(tagField, rulesDir)").WithOperator("classify")
	}
	tagFieldVal, err := args[0].Eval(rqvalue.Unit())
	if err != nil {
		return nil, rqerr.New(rqerr.Usage, "classify: %v", err).WithOperator("classify")
	}
	tagField, ok := tagFieldVal.AsString()
	if !ok {
		return nil, rqerr.New(rqerr.Usage, "classify: tagField argument must be a string").WithOperator("classify")
	}
	dirVal, err := args[1].Eval(rqvalue.Unit())
	if err != nil {
		return nil, rqerr.New(rqerr.Usage, "classify: %v", err).WithOperator("classify")
	}
	dir, ok := dirVal.AsString()
	if !ok {
		return nil, rqerr.New(rqerr.Usage, "classify: rulesDir argument must be a string").WithOperator("classify")
	}

	rules, err := loadClassifyRules(dir)
	if err != nil {
		return nil, rqerr.New(rqerr.Usage, "classify: %v", err).WithOperator("classify")
	}
	return &classifyOp{tagField: tagField, rules: rules}, nil
}

func loadClassifyRules(dir string) ([]compiledRule, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading rules directory: %w", err)
	}

	var out []compiledRule
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".json") {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, ent.Name()))
		if err != nil {
			rqlog.Warnf("classify: skipping %s: %v", ent.Name(), err)
			continue
		}
		var raw classifyRule
		if err := json.Unmarshal(b, &raw); err != nil {
			rqlog.Warnf("classify: skipping %s: invalid rule JSON: %v", ent.Name(), err)
			continue
		}

		cr := compiledRule{tag: raw.Tag}
		ok := true
		for _, r := range raw.Requirements {
			prog, err := expr.Compile(r, expr.AsBool())
			if err != nil {
				rqlog.Warnf("classify: %s: requirement %q does not compile: %v", ent.Name(), r, err)
				ok = false
				break
			}
			cr.requirements = append(cr.requirements, prog)
		}
		if !ok {
			continue
		}
		for _, v := range raw.Variables {
			prog, err := expr.Compile(v.Expr, expr.AsFloat64())
			if err != nil {
				rqlog.Warnf("classify: %s: variable %q does not compile: %v", ent.Name(), v.Name, err)
				ok = false
				break
			}
			cr.variables = append(cr.variables, struct {
				name string
				prog *vm.Program
			}{name: v.Name, prog: prog})
		}
		if !ok {
			continue
		}
		prog, err := expr.Compile(raw.Rule, expr.AsBool())
		if err != nil {
			rqlog.Warnf("classify: %s: rule expression does not compile: %v", ent.Name(), err)
			continue
		}
		cr.rule = prog
		out = append(out, cr)
	}
	return out, nil
}

func (o *classifyOp) Process(v rqvalue.Value) ([]rqvalue.Value, error) {
	if v.Kind() != rqvalue.KMap {
		rqlog.Warnf("classify: record is not a map, passing through unchanged")
		return []rqvalue.Value{v}, nil
	}

	base, ok := rqvalue.ToGo(v).(map[string]any)
	if !ok {
		rqlog.Warnf("classify: record has non-string keys, passing through unchanged")
		return []rqvalue.Value{v}, nil
	}

	var matched []rqvalue.Value
	for _, r := range o.rules {
		env := make(map[string]any, len(base)+len(r.variables))
		for k, val := range base {
			env[k] = val
		}

		met := true
		for _, req := range r.requirements {
			result, err := expr.Run(req, env)
			if err != nil {
				rqlog.Warnf("classify: rule %q requirement error: %v", r.tag, err)
				met = false
				break
			}
			if ok, _ := result.(bool); !ok {
				met = false
				break
			}
		}
		if !met {
			continue
		}

		for _, vr := range r.variables {
			result, err := expr.Run(vr.prog, env)
			if err != nil {
				rqlog.Warnf("classify: rule %q variable %q error: %v", r.tag, vr.name, err)
				met = false
				break
			}
			env[vr.name] = result
		}
		if !met {
			continue
		}

		result, err := expr.Run(r.rule, env)
		if err != nil {
			rqlog.Warnf("classify: rule %q error: %v", r.tag, err)
			continue
		}
		if match, _ := result.(bool); match {
			matched = append(matched, rqvalue.String(r.tag))
		}
	}

	out := setField(v, o.tagField, rqvalue.Array(matched))
	return []rqvalue.Value{out}, nil
}

func (*classifyOp) Finish() ([]rqvalue.Value, error) { return nil, nil }
func (*classifyOp) Cardinality() Cardinality         { return Pure }
