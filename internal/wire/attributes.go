package wire

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// AttributeType is the leading field of a custom attribute triple.
type AttributeType int

const (
	AttributeString AttributeType = 5
	AttributeNumber AttributeType = 6
	AttributeTrue   AttributeType = 7
	AttributeFalse  AttributeType = 8
	AttributeNull   AttributeType = 9
)

// MaxCustomAttributes caps the number of attributes written per record.
const MaxCustomAttributes = 64

// CustomAttributes encodes attrs as "type,key[,value]" parts in key order.
// Anything past MaxCustomAttributes is dropped.
func (t *StringTable) CustomAttributes(attrs map[string]any) []string {
	if len(attrs) == 0 {
		return nil
	}

	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, min(len(keys), MaxCustomAttributes))
	for _, key := range keys {
		if len(parts) >= MaxCustomAttributes {
			break
		}
		parts = append(parts, t.attribute(key, attrs[key]))
	}

	return parts
}

func (t *StringTable) attribute(key string, val any) string {
	typ, value, hasValue := t.attributeValue(val)

	var b strings.Builder
	b.WriteString(strconv.Itoa(int(typ)))
	b.WriteByte(',')
	b.WriteString(t.Add(key))
	if hasValue {
		b.WriteByte(',')
		b.WriteString(value)
	}

	return b.String()
}

func (t *StringTable) attributeValue(val any) (AttributeType, string, bool) {
	if f, ok := toFloat(val); ok {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return AttributeNull, "", false
		}
		return AttributeNumber, formatAttributeNumber(f), true
	}

	switch v := val.(type) {
	case nil:
		return AttributeNull, "", false
	case bool:
		if v {
			return AttributeTrue, "", false
		}
		return AttributeFalse, "", false
	case string:
		return AttributeString, t.Add(v), true
	case Blob:
		return AttributeString, t.Add(string(v)), true
	default:
		encoded, err := Stringify(v)
		if err != nil || encoded == "null" {
			return AttributeNull, "", false
		}
		return AttributeString, t.Add(encoded), true
	}
}

// formatAttributeNumber forces a decimal point onto integral values so the
// collector reads them as floating point. Values at or above 1e21 or below
// 1e-6 in magnitude use exponent form with an unpadded exponent ("1e+21",
// "1.5e-7").
func formatAttributeNumber(f float64) string {
	var s string
	abs := math.Abs(f)
	switch {
	case f == 0:
		s = "0"
	case abs >= 1e-6 && abs < 1e21:
		s = strconv.FormatFloat(f, 'f', -1, 64)
	default:
		s = strconv.FormatFloat(f, 'e', -1, 64)
		mant, exp, _ := strings.Cut(s, "e")
		s = mant + "e" + exp[:1] + strings.TrimLeft(exp[1:], "0")
	}

	if f == math.Trunc(f) {
		s += "."
	}

	return s
}

func toFloat(val any) (float64, bool) {
	switch v := val.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}
