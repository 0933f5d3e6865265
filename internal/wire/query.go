package wire

import (
	"reflect"
	"sort"
	"strings"
)

const upperhex = "0123456789ABCDEF"

// Escape percent-encodes s the way encodeURIComponent does, then restores
// the characters the collector accepts literally: , : / @ $ ;
func Escape(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); i++ {
		c := s[i]
		if keepLiteral(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&15])
	}

	return b.String()
}

func keepLiteral(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}

	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	case ',', ':', '/', '@', '$', ';':
		return true
	}

	return false
}

// Param renders "&name=value", or nothing when value is empty.
func Param(name, value string) string {
	if value == "" {
		return ""
	}

	return "&" + name + "=" + Escape(value)
}

// EncodeObj renders a payload body as query parameters for transports that
// cannot carry a body. String values become plain parameters. Slice values
// become a JSON array whose items are added one by one until the running
// total reaches maxBytes; later items are dropped. Keys are written in
// sorted order. maxBytes <= 0 disables the limit.
func EncodeObj(obj map[string]any, maxBytes int) string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var (
		b     strings.Builder
		total int
	)
	for _, key := range keys {
		switch v := obj[key].(type) {
		case nil:
			continue
		case string:
			item := "&" + key + "=" + Escape(v)
			total += len(item)
			b.WriteString(item)
		case Blob:
			item := "&" + key + "=" + Escape(string(v))
			total += len(item)
			b.WriteString(item)
		default:
			items, ok := sliceItems(v)
			if !ok {
				encoded, err := Stringify(v)
				if err != nil {
					continue
				}
				item := "&" + key + "=" + Escape(encoded)
				total += len(item)
				b.WriteString(item)
				continue
			}
			if len(items) == 0 {
				continue
			}

			total += len("&=%5B%5D")
			arr := make([]string, 0, len(items))
			for _, it := range items {
				encoded, err := Stringify(it)
				if err != nil {
					continue
				}
				item := Escape(encoded)
				total += len(item)
				if maxBytes > 0 && total >= maxBytes {
					break
				}
				arr = append(arr, item)
			}
			b.WriteString("&" + key + "=%5B" + strings.Join(arr, ",") + "%5D")
		}
	}

	return b.String()
}

func sliceItems(v any) ([]any, bool) {
	if items, ok := v.([]any); ok {
		return items, true
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}

	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}

	return items, true
}
