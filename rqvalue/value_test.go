package rqvalue

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEqual(t *testing.T) {
	assert.True(t, Equal(Unit(), Unit()))
	assert.False(t, Equal(F64(math.NaN()), F64(math.NaN())))
	assert.True(t, Equal(
		Map([]Pair{{Key: String("a"), Value: I64(1)}}),
		Map([]Pair{{Key: String("a"), Value: I64(1)}}),
	))
	assert.False(t, Equal(
		Map([]Pair{{Key: String("a"), Value: I64(1)}, {Key: String("b"), Value: I64(2)}}),
		Map([]Pair{{Key: String("b"), Value: I64(2)}, {Key: String("a"), Value: I64(1)}}),
	), "map key order is significant for equality")
}

func TestCompareTypeRank(t *testing.T) {
	vals := []Value{Unit(), Bool(true), I64(1), F64(1.5), Char('a'), String("x"), Bytes([]byte("y")), Array(nil), NewMap()}
	for i := 0; i < len(vals)-1; i++ {
		assert.True(t, Less(vals[i], vals[i+1]), "rank %d should sort before rank %d", i, i+1)
	}
}

func TestCompareNaNSortsLast(t *testing.T) {
	assert.True(t, Less(F64(1.0), F64(math.NaN())))
	assert.False(t, Less(F64(math.NaN()), F64(1.0)))
}

func TestCompareMixedIntKinds(t *testing.T) {
	assert.True(t, Less(I64(1), U64(2)))
	assert.Equal(t, 0, Compare(I64(5), U64(5)))
}

func TestTruthy(t *testing.T) {
	assert.False(t, Unit().Truthy())
	assert.False(t, Bool(false).Truthy())
	assert.False(t, F64(0).Truthy())
	assert.False(t, F64(math.Copysign(0, -1)).Truthy(), "-0.0 is falsy")
	assert.False(t, String("").Truthy())
	assert.False(t, NewArray().Truthy())
	assert.True(t, String("x").Truthy())
	assert.True(t, I64(-1).Truthy())
}

func TestGetPreservesFirstMatchOnDuplicateKeys(t *testing.T) {
	m := Map([]Pair{
		{Key: String("a"), Value: I64(1)},
		{Key: String("a"), Value: I64(2)},
	})
	assert.Equal(t, I64(1), m.Get(String("a")))
}

func TestAddCoercion(t *testing.T) {
	v, err := Add(I64(1), F64(2.5))
	require.NoError(t, err)
	assert.Equal(t, F64(3.5), v)

	v, err = Add(String("a"), String("b"))
	require.NoError(t, err)
	assert.Equal(t, String("ab"), v)

	_, err = Add(String("a"), I64(1))
	require.Error(t, err)

	v, err = Add(U64(math.MaxUint64), U64(1))
	require.NoError(t, err)
	assert.Equal(t, KF64, v.Kind(), "overflowing U64+U64 promotes to F64")
}

func TestMulDivMinInt64OverflowPromotes(t *testing.T) {
	v, err := Mul(I64(math.MinInt64), I64(-1))
	require.NoError(t, err)
	assert.Equal(t, KF64, v.Kind(), "MinInt64 * -1 overflows I64, must promote to F64")

	v, err = Div(I64(math.MinInt64), I64(-1))
	require.NoError(t, err)
	assert.Equal(t, KF64, v.Kind(), "MinInt64 / -1 overflows I64, must promote to F64")
}

func TestFromGoToGoRoundTrip(t *testing.T) {
	orig := Map([]Pair{
		{Key: String("a"), Value: I64(1)},
		{Key: String("b"), Value: Array([]Value{String("x"), Bool(true)})},
	})
	got := FromGo(ToGo(orig))
	assert.True(t, Equal(orig, got))
}
