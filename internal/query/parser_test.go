package query

import (
	"testing"

	"github.com/recordquery/rq/rqvalue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePipeline(t *testing.T) {
	q, err := Parse("select(a) | map(x * 10) | sum")
	require.NoError(t, err)
	require.Len(t, q.Processes, 3)
	assert.Equal(t, ProcessFunction, q.Processes[0].Kind)
	assert.Equal(t, "select", q.Processes[0].Name)
	assert.Equal(t, ProcessFunction, q.Processes[2].Kind)
	assert.Equal(t, "sum", q.Processes[2].Name)
	assert.Empty(t, q.Processes[2].Args)
}

func TestParseIdentityDot(t *testing.T) {
	q, err := Parse(".")
	require.NoError(t, err)
	require.Len(t, q.Processes, 1)
	assert.Equal(t, ProcessIdentity, q.Processes[0].Kind)
}

func TestParseDotPathShorthand(t *testing.T) {
	q, err := Parse(".a.b")
	require.NoError(t, err)
	require.Len(t, q.Processes, 1)
	require.Equal(t, ProcessExpr, q.Processes[0].Kind)

	record := rqvalue.Map([]rqvalue.Pair{
		{Key: rqvalue.String("a"), Value: rqvalue.Map([]rqvalue.Pair{
			{Key: rqvalue.String("b"), Value: rqvalue.I64(42)},
		})},
	})
	got, err := q.Processes[0].Expr.Eval(record)
	require.NoError(t, err)
	assert.Equal(t, rqvalue.I64(42), got)
}

func TestParseExplodeFilterPipeline(t *testing.T) {
	q, err := Parse("explode | filter(. > 2)")
	require.NoError(t, err)
	require.Len(t, q.Processes, 2)
	assert.Equal(t, "explode", q.Processes[0].Name)
	assert.Equal(t, "filter", q.Processes[1].Name)
	require.Len(t, q.Processes[1].Args, 1)

	got, err := q.Processes[1].Args[0].Eval(rqvalue.I64(5))
	require.NoError(t, err)
	assert.True(t, got.Truthy())
}

func TestArithmeticCoercionViaExpr(t *testing.T) {
	expr, err := parseExprString("x * 10")
	require.NoError(t, err)
	record := rqvalue.Map([]rqvalue.Pair{{Key: rqvalue.String("x"), Value: rqvalue.I64(3)}})
	got, err := expr.Eval(record)
	require.NoError(t, err)
	assert.Equal(t, rqvalue.I64(30), got)
}

func TestSortNegationExpr(t *testing.T) {
	expr, err := parseExprString("-a")
	require.NoError(t, err)
	record := rqvalue.Map([]rqvalue.Pair{{Key: rqvalue.String("a"), Value: rqvalue.I64(3)}})
	got, err := expr.Eval(record)
	require.NoError(t, err)
	assert.Equal(t, rqvalue.I64(-3), got)
}

func TestUnknownFunctionErrors(t *testing.T) {
	expr, err := parseExprString("nope(x)")
	require.NoError(t, err)
	_, err = expr.Eval(rqvalue.Unit())
	require.Error(t, err)
}

func TestMemberAccessOnNonMapIsSoftUnit(t *testing.T) {
	expr, err := parseExprString("x.y")
	require.NoError(t, err)
	record := rqvalue.Map([]rqvalue.Pair{{Key: rqvalue.String("x"), Value: rqvalue.I64(1)}})
	got, err := expr.Eval(record)
	require.NoError(t, err)
	assert.True(t, got.IsUnit())
}

func TestIndexOutOfRangeIsSoftUnit(t *testing.T) {
	expr, err := parseExprString("arr[5]")
	require.NoError(t, err)
	record := rqvalue.Map([]rqvalue.Pair{{Key: rqvalue.String("arr"), Value: rqvalue.Array([]rqvalue.Value{rqvalue.I64(1)})}})
	got, err := expr.Eval(record)
	require.NoError(t, err)
	assert.True(t, got.IsUnit())
}

// parseExprString is a test helper that parses a bare Expression (not a
// full pipeline) for unit-testing the Expression grammar in isolation.
func parseExprString(src string) (*Expr, error) {
	toks, err := tokenizeAll(src)
	if err != nil {
		return nil, err
	}
	return parseExpr(toks, src)
}
