package buffer

import (
	"fmt"
	"math"

	"github.com/boristopalov/vecenv/pkg/space"
)

// ReadFloat64s widens every element of a region to float64.
func ReadFloat64s(region []byte, dt space.DType) ([]float64, error) {
	switch dt {
	case space.Uint8:
		return widen(View[uint8](region)), nil
	case space.Int32:
		return widen(View[int32](region)), nil
	case space.Int64:
		return widen(View[int64](region)), nil
	case space.Float32:
		return widen(View[float32](region)), nil
	case space.Float64:
		return widen(View[float64](region)), nil
	default:
		return nil, fmt.Errorf("unsupported dtype %s", dt)
	}
}

func widen[T space.Element](src []T) []float64 {
	out := make([]float64, len(src))
	for i, v := range src {
		out[i] = float64(v)
	}
	return out
}

// Put stores v at element idx of a region, converting to dt. Integer targets
// round to nearest.
func Put(region []byte, dt space.DType, idx int, v float64) error {
	switch dt {
	case space.Uint8:
		View[uint8](region)[idx] = uint8(math.Round(v))
	case space.Int32:
		View[int32](region)[idx] = int32(math.Round(v))
	case space.Int64:
		View[int64](region)[idx] = int64(math.Round(v))
	case space.Float32:
		View[float32](region)[idx] = float32(v)
	case space.Float64:
		View[float64](region)[idx] = v
	default:
		return fmt.Errorf("unsupported dtype %s", dt)
	}
	return nil
}

// Fill sets the first count elements of a region to v.
func Fill[T space.Element](region []byte, count int, v T) {
	dst := Elems[T](region, count)
	for i := range dst {
		dst[i] = v
	}
}
