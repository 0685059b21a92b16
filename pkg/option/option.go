// Package option carries the named, typed values a host passes when it makes
// an instance set, and the parser environments use to consume them.
package option

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/boristopalov/vecenv/pkg/enverr"
	"github.com/boristopalov/vecenv/pkg/space"
)

// Value is one named option. Scalars have a count of 1.
type Value struct {
	Name  string
	DType space.DType
	Count int
	data  any
}

// New builds an option from one or more elements of type T.
func New[T space.Element](name string, values ...T) Value {
	return Value{
		Name:  name,
		DType: space.DTypeOf[T](),
		Count: len(values),
		data:  slices.Clone(values),
	}
}

func Int32(name string, v int32) Value        { return New(name, v) }
func Int32s(name string, v []int32) Value     { return New(name, v...) }
func Int64(name string, v int64) Value        { return New(name, v) }
func Int64s(name string, v []int64) Value     { return New(name, v...) }
func Float32(name string, v float32) Value    { return New(name, v) }
func Float32s(name string, v []float32) Value { return New(name, v...) }
func Float64(name string, v float64) Value    { return New(name, v) }
func Uint8s(name string, v []uint8) Value     { return New(name, v...) }

// Data returns a copy of the raw typed payload.
func Data[T space.Element](v Value) ([]T, bool) {
	d, ok := v.data.([]T)
	if !ok {
		return nil, false
	}
	return slices.Clone(d), true
}

func (v Value) String() string {
	return fmt.Sprintf("%s=%v (%s x%d)", v.Name, v.data, v.DType, v.Count)
}

func (v Value) typeError(want ...space.DType) error {
	names := make([]string, len(want))
	for i, d := range want {
		names[i] = d.String()
	}
	return enverr.New(enverr.PhaseMake, enverr.KindOptionType).Option(v.Name).
		Detail("expected %s, got %s", strings.Join(names, " or "), v.DType).Build()
}

func (v Value) countError(want int) error {
	return enverr.New(enverr.PhaseMake, enverr.KindOptionCount).Option(v.Name).
		Detail("expected %d values, got %d", want, v.Count).Build()
}

func scalar[T space.Element](v Value) (T, error) {
	var zero T
	d, ok := v.data.([]T)
	if !ok {
		return zero, v.typeError(space.DTypeOf[T]())
	}
	if len(d) != 1 {
		return zero, v.countError(1)
	}
	return d[0], nil
}

func array[T space.Element](v Value, count int) ([]T, error) {
	d, ok := v.data.([]T)
	if !ok {
		return nil, v.typeError(space.DTypeOf[T]())
	}
	if count >= 0 && len(d) != count {
		return nil, v.countError(count)
	}
	return slices.Clone(d), nil
}

// Int32 returns the scalar int32 payload.
func (v Value) Int32() (int32, error) { return scalar[int32](v) }

// Int64 returns a scalar int64 payload, widening int32 data.
func (v Value) Int64() (int64, error) {
	switch v.DType {
	case space.Int32:
		x, err := scalar[int32](v)
		return int64(x), err
	case space.Int64:
		return scalar[int64](v)
	default:
		return 0, v.typeError(space.Int32, space.Int64)
	}
}

// Float32 returns the scalar float32 payload.
func (v Value) Float32() (float32, error) { return scalar[float32](v) }

// Int32s returns the int32 array payload. A negative count accepts any length.
func (v Value) Int32s(count int) ([]int32, error) { return array[int32](v, count) }

// Int64s returns an integer array payload, widening int32 data.
func (v Value) Int64s(count int) ([]int64, error) {
	switch v.DType {
	case space.Int32:
		d, err := array[int32](v, count)
		if err != nil {
			return nil, err
		}
		out := make([]int64, len(d))
		for i, x := range d {
			out[i] = int64(x)
		}
		return out, nil
	case space.Int64:
		return array[int64](v, count)
	default:
		return nil, v.typeError(space.Int32, space.Int64)
	}
}

// Set is the ordered collection of options supplied at make time.
type Set []Value

// Names returns the option names in order.
func (s Set) Names() []string {
	names := make([]string, len(s))
	for i, v := range s {
		names[i] = v.Name
	}
	return names
}

// Get returns the last option with the given name.
func (s Set) Get(name string) (Value, bool) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i].Name == name {
			return s[i], true
		}
	}
	return Value{}, false
}

// ParseAssignment parses "name=value" or "name=v1,v2,...". Integers become
// int32, or int64 when any of them overflows int32, and anything with a decimal point or exponent becomes float32.
func ParseAssignment(text string) (Value, error) {
	name, raw, ok := strings.Cut(text, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return Value{}, fmt.Errorf("option %q: expected name=value", text)
	}
	parts := strings.Split(raw, ",")
	isFloat := strings.ContainsAny(raw, ".eE")
	if isFloat {
		vals := make([]float32, 0, len(parts))
		for _, p := range parts {
			f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
			if err != nil {
				return Value{}, fmt.Errorf("option %s: %w", name, err)
			}
			vals = append(vals, float32(f))
		}
		return Float32s(name, vals), nil
	}
	wide := make([]int64, 0, len(parts))
	fits := true
	for _, p := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("option %s: %w", name, err)
		}
		if n > math.MaxInt32 || n < math.MinInt32 {
			fits = false
		}
		wide = append(wide, n)
	}
	if !fits {
		return Int64s(name, wide), nil
	}
	vals := make([]int32, len(wide))
	for i, n := range wide {
		vals[i] = int32(n)
	}
	return Int32s(name, vals), nil
}
