package safe

import (
	"math"
)

// Uint64ToInt64 safely converts an uint64 value to int64, clamping to math.MaxInt64 if overflow
// would occur.
// Returns the converted value and a boolean indicating whether clamping occurred.
func Uint64ToInt64(val uint64) (int64, bool) {
	if val > math.MaxInt64 {
		return math.MaxInt64, true
	}
	return int64(val), false
}

// Uint64ToInt converts val to int, reporting false when it does not fit.
func Uint64ToInt(val uint64) (int, bool) {
	if val > math.MaxInt {
		return 0, false
	}
	return int(val), true
}

// AddOverflows reports whether a+b wraps around.
func AddOverflows(a, b uint64) bool {
	return a+b < a
}
