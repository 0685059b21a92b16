package option

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boristopalov/vecenv/pkg/enverr"
	"github.com/boristopalov/vecenv/pkg/space"
)

func TestValueAccessors(t *testing.T) {
	bits := Int32("num_bits", 32)
	assert.Equal(t, space.Int32, bits.DType)
	assert.Equal(t, 1, bits.Count)

	n, err := bits.Int32()
	require.NoError(t, err)
	assert.Equal(t, int32(32), n)

	wide, err := bits.Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(32), wide)

	_, err = bits.Float32()
	require.Error(t, err)
	assert.True(t, errors.Is(err, enverr.ErrOptionType))
}

func TestArrayAccessorsValidateCount(t *testing.T) {
	n := Int32s("n", []int32{9999, 10000, 10001})

	vals, err := n.Int64s(3)
	require.NoError(t, err)
	assert.Equal(t, []int64{9999, 10000, 10001}, vals)

	_, err = n.Int32s(2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, enverr.ErrOptionCount))

	_, err = n.Int32()
	assert.True(t, errors.Is(err, enverr.ErrOptionCount))

	all, err := n.Int32s(-1)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestValueDataIsCopied(t *testing.T) {
	src := []int32{1, 2}
	v := Int32s("n", src)
	src[0] = 99

	got, ok := Data[int32](v)
	require.True(t, ok)
	assert.Equal(t, []int32{1, 2}, got)

	got[1] = 42
	again, _ := Data[int32](v)
	assert.Equal(t, []int32{1, 2}, again)

	_, ok = Data[float32](v)
	assert.False(t, ok)
}

func TestParserRejectsUnknownNames(t *testing.T) {
	for _, name := range []string{"bogus", "numbits", "N", ""} {
		t.Run(name, func(t *testing.T) {
			p := NewParser("guess-number").Handle("num_bits", func(Value) error { return nil })
			err := p.Parse(Set{Int32("num_bits", 8), Int32(name, 1)})
			require.Error(t, err)
			assert.True(t, errors.Is(err, enverr.ErrUnknownOption))

			var e *enverr.Error
			require.True(t, errors.As(err, &e))
			assert.Equal(t, name, e.Option)
			assert.Equal(t, "guess-number", e.Env)
		})
	}
}

func TestParserRunsHandlersInOrder(t *testing.T) {
	var order []string
	p := NewParser("env").
		Handle("a", func(v Value) error { order = append(order, v.Name); return nil }).
		Handle("b", func(v Value) error { order = append(order, v.Name); return nil })

	require.NoError(t, p.Parse(Set{Int32("b", 1), Int32("a", 2)}))
	assert.Equal(t, []string{"b", "a"}, order)
	assert.True(t, p.Seen("a"))
	assert.False(t, p.Seen("c"))
}

func TestParserAttributesHandlerErrors(t *testing.T) {
	p := NewParser("pattern").Handle("num_workers", func(v Value) error {
		_, err := v.Int32()
		return err
	})
	err := p.Parse(Set{Float32("num_workers", 1.5)})
	require.Error(t, err)

	var e *enverr.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, "pattern", e.Env)
	assert.Equal(t, enverr.KindOptionType, e.Kind)
}

func TestParseAssignment(t *testing.T) {
	tests := []struct {
		in    string
		dtype space.DType
		count int
		err   bool
	}{
		{in: "num_bits=32", dtype: space.Int32, count: 1},
		{in: "n=1,2,3", dtype: space.Int32, count: 3},
		{in: "scale=0.5", dtype: space.Float32, count: 1},
		{in: "n=1,9223372036854775807", dtype: space.Int64, count: 2},
		{in: "n=-2147483649", dtype: space.Int64, count: 1},
		{in: "n=2147483647", dtype: space.Int32, count: 1},
		{in: "n=9223372036854775808", err: true},
		{in: "noequals", err: true},
		{in: "=3", err: true},
		{in: "x=abc", err: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			v, err := ParseAssignment(tt.in)
			if tt.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.dtype, v.DType)
			assert.Equal(t, tt.count, v.Count)
		})
	}
}

func TestParseAssignmentKeepsWideIntegers(t *testing.T) {
	v, err := ParseAssignment("n=-1,4294967296")
	require.NoError(t, err)
	got, err := v.Int64s(2)
	require.NoError(t, err)
	assert.Equal(t, []int64{-1, 1 << 32}, got)
}

func TestSetGetReturnsLast(t *testing.T) {
	set := Set{Int32("a", 1), Int32("b", 2), Int32("a", 3)}
	v, ok := set.Get("a")
	require.True(t, ok)
	n, _ := v.Int32()
	assert.Equal(t, int32(3), n)
	assert.Equal(t, []string{"a", "b", "a"}, set.Names())
}
