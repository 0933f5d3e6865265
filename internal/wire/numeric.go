package wire

import (
	"math"
	"math/big"
	"strconv"
)

const int64Bound = 1 << 63

// Numeric floors n and renders it in base 36. Zero renders as the empty
// string unless noDefault is set. Magnitudes beyond int64 are rendered from
// the exact integer value of the float.
func Numeric(n float64, noDefault bool) string {
	if n == 0 && !noDefault {
		return ""
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return ""
	}

	f := math.Floor(n)
	if f >= -int64Bound && f < int64Bound {
		return strconv.FormatInt(int64(f), 36)
	}

	i, _ := big.NewFloat(f).Int(nil)
	return i.Text(36)
}

// NumericValue renders a value that is known to be present, so zero is
// written as "0".
func NumericValue(n float64) string {
	return Numeric(n, true)
}

// OptionalNumeric renders nil as the empty string.
func OptionalNumeric(n *float64) string {
	if n == nil {
		return ""
	}

	return Numeric(*n, false)
}

// Nullable writes '!' for an absent value. A present value, including zero
// and the empty string, is rendered with fn and optionally followed by a
// comma.
func Nullable[T any](val *T, fn func(T) string, appendComma bool) string {
	if val == nil {
		return "!"
	}

	out := fn(*val)
	if appendComma {
		out += ","
	}

	return out
}
