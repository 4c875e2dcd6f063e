package operator

import (
	"testing"

	"github.com/recordquery/rq/internal/query"
	"github.com/recordquery/rq/rqvalue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustExpr(t *testing.T, src string) *query.Expr {
	t.Helper()
	q, err := query.Parse(src)
	require.NoError(t, err)
	require.Len(t, q.Processes, 1)
	require.NotNil(t, q.Processes[0].Expr)
	return q.Processes[0].Expr
}

func TestLookupKnownOperators(t *testing.T) {
	for _, name := range []string{"id", "select", "map", "filter", "tee", "explode",
		"collect", "count", "sum", "min", "max", "avg", "sort", "uniq", "limit", "skip", "classify"} {
		_, ok := Lookup(name)
		assert.True(t, ok, "expected %s to be registered", name)
	}
	_, ok := Lookup("nonexistent")
	assert.False(t, ok)
}

func TestSelectEmitsExpressionResultAndDropsUnit(t *testing.T) {
	ctor, ok := Lookup("select")
	require.True(t, ok)
	op, err := ctor([]*query.Expr{mustExpr(t, ".a")})
	require.NoError(t, err)

	withA := rqvalue.Map([]rqvalue.Pair{{Key: rqvalue.String("a"), Value: rqvalue.I64(5)}})
	out, err := op.Process(withA)
	require.NoError(t, err)
	assert.Equal(t, []rqvalue.Value{rqvalue.I64(5)}, out)

	withoutA := rqvalue.Map([]rqvalue.Pair{{Key: rqvalue.String("b"), Value: rqvalue.I64(1)}})
	out, err = op.Process(withoutA)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestMapTransformsRecord(t *testing.T) {
	ctor, ok := Lookup("map")
	require.True(t, ok)
	op, err := ctor([]*query.Expr{mustExpr(t, ". * 2")})
	require.NoError(t, err)

	out, err := op.Process(rqvalue.I64(21))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, rqvalue.I64(42), out[0])
}

func TestMapPropagatesHardErrors(t *testing.T) {
	ctor, ok := Lookup("map")
	require.True(t, ok)
	op, err := ctor([]*query.Expr{mustExpr(t, ". + 1")})
	require.NoError(t, err)

	_, err = op.Process(rqvalue.String("x"))
	assert.Error(t, err)
}

func TestExplodeArrayAndMap(t *testing.T) {
	ctor, ok := Lookup("explode")
	require.True(t, ok)
	op, err := ctor(nil)
	require.NoError(t, err)

	out, err := op.Process(rqvalue.Array([]rqvalue.Value{rqvalue.I64(1), rqvalue.I64(2)}))
	require.NoError(t, err)
	assert.Equal(t, []rqvalue.Value{rqvalue.I64(1), rqvalue.I64(2)}, out)

	m := rqvalue.Map([]rqvalue.Pair{{Key: rqvalue.String("a"), Value: rqvalue.I64(1)}})
	out, err = op.Process(m)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, rqvalue.KArray, out[0].Kind())
}

func TestCollectBuffersUntilFinish(t *testing.T) {
	ctor, ok := Lookup("collect")
	require.True(t, ok)
	op, err := ctor(nil)
	require.NoError(t, err)

	out, err := op.Process(rqvalue.I64(1))
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = op.Finish()
	require.NoError(t, err)
	require.Len(t, out, 1)
	arr, ok := out[0].AsArray()
	require.True(t, ok)
	assert.Len(t, arr, 1)
}

func TestCountAccumulates(t *testing.T) {
	ctor, ok := Lookup("count")
	require.True(t, ok)
	op, err := ctor(nil)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := op.Process(rqvalue.I64(int64(i)))
		require.NoError(t, err)
	}
	out, err := op.Finish()
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, rqvalue.I64(3), out[0])
}

func TestSumAddsIntegers(t *testing.T) {
	ctor, ok := Lookup("sum")
	require.True(t, ok)
	op, err := ctor(nil)
	require.NoError(t, err)
	for _, v := range []rqvalue.Value{rqvalue.I64(1), rqvalue.I64(2), rqvalue.I64(3)} {
		_, err := op.Process(v)
		require.NoError(t, err)
	}
	out, err := op.Finish()
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, rqvalue.I64(6), out[0])
}

func TestSortOrdersByKeyExpr(t *testing.T) {
	ctor, ok := Lookup("sort")
	require.True(t, ok)
	op, err := ctor([]*query.Expr{mustExpr(t, ".n")})
	require.NoError(t, err)

	rec := func(n int64) rqvalue.Value {
		return rqvalue.Map([]rqvalue.Pair{{Key: rqvalue.String("n"), Value: rqvalue.I64(n)}})
	}
	for _, v := range []rqvalue.Value{rec(3), rec(1), rec(2)} {
		_, err := op.Process(v)
		require.NoError(t, err)
	}
	out, err := op.Finish()
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, rec(1), out[0])
	assert.Equal(t, rec(2), out[1])
	assert.Equal(t, rec(3), out[2])
}

func TestUniqDropsAdjacentDuplicates(t *testing.T) {
	ctor, ok := Lookup("uniq")
	require.True(t, ok)
	op, err := ctor(nil)
	require.NoError(t, err)

	var seen []rqvalue.Value
	for _, v := range []rqvalue.Value{rqvalue.I64(1), rqvalue.I64(1), rqvalue.I64(2), rqvalue.I64(1)} {
		out, err := op.Process(v)
		require.NoError(t, err)
		seen = append(seen, out...)
	}
	assert.Equal(t, []rqvalue.Value{rqvalue.I64(1), rqvalue.I64(2), rqvalue.I64(1)}, seen)
}

func TestLimitSignalsDone(t *testing.T) {
	ctor, ok := Lookup("limit")
	require.True(t, ok)
	op, err := ctor([]*query.Expr{mustExpr(t, "2")})
	require.NoError(t, err)

	term, ok := op.(EarlyTerminator)
	require.True(t, ok)

	out, err := op.Process(rqvalue.I64(1))
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.False(t, term.Done())

	out, err = op.Process(rqvalue.I64(2))
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.True(t, term.Done())

	out, err = op.Process(rqvalue.I64(3))
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestSkipDropsLeadingRecords(t *testing.T) {
	ctor, ok := Lookup("skip")
	require.True(t, ok)
	op, err := ctor([]*query.Expr{mustExpr(t, "2")})
	require.NoError(t, err)

	var seen []rqvalue.Value
	for _, v := range []rqvalue.Value{rqvalue.I64(1), rqvalue.I64(2), rqvalue.I64(3)} {
		out, err := op.Process(v)
		require.NoError(t, err)
		seen = append(seen, out...)
	}
	assert.Equal(t, []rqvalue.Value{rqvalue.I64(3)}, seen)
}

func TestSelectArgumentCountValidated(t *testing.T) {
	ctor, ok := Lookup("select")
	require.True(t, ok)
	_, err := ctor(nil)
	assert.Error(t, err)
}
