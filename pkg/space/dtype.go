package space

import (
	"cmp"
	"fmt"
	"math"
)

// DType is the element type of a space or option value.
type DType int

const (
	invalidDType DType = iota
	Uint8
	Int32
	Int64
	Float32
	Float64
)

// Size returns the width of one element in bytes.
func (d DType) Size() int {
	switch d {
	case Uint8:
		return 1
	case Int32, Float32:
		return 4
	case Int64, Float64:
		return 8
	default:
		return 0
	}
}

func (d DType) String() string {
	switch d {
	case Uint8:
		return "uint8"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	default:
		return "invalid"
	}
}

// Valid reports whether d is one of the supported element types.
func (d DType) Valid() bool {
	return d.Size() > 0
}

// IsFloat reports whether d is a floating point type.
func (d DType) IsFloat() bool {
	return d == Float32 || d == Float64
}

// Element is the set of Go types that back a DType.
type Element interface {
	uint8 | int32 | int64 | float32 | float64
}

// DTypeOf returns the DType backing the element type T.
func DTypeOf[T Element]() DType {
	var zero T
	switch any(zero).(type) {
	case uint8:
		return Uint8
	case int32:
		return Int32
	case int64:
		return Int64
	case float32:
		return Float32
	case float64:
		return Float64
	}
	return invalidDType
}

// Bounds is the closed set of typed low/high pairs. The only implementation
// is Range, instantiated per element type.
type Bounds interface {
	DType() DType
	// Float64 widens the bounds for dtype-agnostic consumers.
	Float64() (low, high float64)
	String() string

	ordered() bool
	equal(Bounds) bool
}

// Range is the low/high pair for element type T.
type Range[T Element] struct {
	Low  T
	High T
}

// NewRange builds bounds of element type T.
func NewRange[T Element](low, high T) Range[T] {
	return Range[T]{Low: low, High: high}
}

// Unbounded returns the widest range for a float type (-inf, +inf).
func Unbounded[T float32 | float64]() Range[T] {
	return Range[T]{Low: T(math.Inf(-1)), High: T(math.Inf(1))}
}

func (r Range[T]) DType() DType {
	return DTypeOf[T]()
}

func (r Range[T]) Float64() (float64, float64) {
	return float64(r.Low), float64(r.High)
}

func (r Range[T]) String() string {
	return fmt.Sprintf("[%v, %v]", r.Low, r.High)
}

func (r Range[T]) ordered() bool {
	return cmp.Compare(r.Low, r.High) <= 0
}

func (r Range[T]) equal(o Bounds) bool {
	other, ok := o.(Range[T])
	if !ok {
		return false
	}
	return sameValue(r.Low, other.Low) && sameValue(r.High, other.High)
}

// sameValue compares bitwise-equal floats, treating NaN as equal to itself.
func sameValue[T Element](a, b T) bool {
	return a == b || (a != a && b != b)
}

// BoundsOf returns the typed bounds of s when its element type is T.
func BoundsOf[T Element](s Space) (Range[T], bool) {
	r, ok := s.Bounds.(Range[T])
	return r, ok
}
