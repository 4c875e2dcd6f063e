package operator

import "github.com/recordquery/rq/rqvalue"

// setField returns a copy of m with name bound to val, replacing any
// existing pair for name rather than shadowing it behind a duplicate
// (Map lookups return the first match, spec.md §3.1).
func setField(m rqvalue.Value, name string, val rqvalue.Value) rqvalue.Value {
	pairs, _ := m.AsMap()
	key := rqvalue.String(name)
	out := make([]rqvalue.Pair, 0, len(pairs)+1)
	replaced := false
	for _, p := range pairs {
		if rqvalue.Equal(p.Key, key) {
			if replaced {
				continue
			}
			out = append(out, rqvalue.Pair{Key: key, Value: val})
			replaced = true
			continue
		}
		out = append(out, p)
	}
	if !replaced {
		out = append(out, rqvalue.Pair{Key: key, Value: val})
	}
	return rqvalue.Map(out)
}
