package wire

import "strings"

var escaper = strings.NewReplacer(`\`, `\\`, `,`, `\,`, `;`, `\;`)

// QuoteString marks s as a literal for the string table. Only the leading
// apostrophe is written; delimiters inside s are escaped so the next
// unescaped ',' or ';' ends the literal.
func QuoteString(s string) string {
	return "'" + escaper.Replace(s)
}

// StringTable interns the strings of one payload. The first occurrence of a
// string is written as a quoted literal and assigned the next id; repeats are
// written as the base-36 id.
type StringTable struct {
	ids       map[string]int
	next      int
	obfuscate func(string) string
}

// NewStringTable returns an empty table. obfuscate, when non-nil, is applied
// to every string before interning, so identical strings are compared after
// obfuscation.
func NewStringTable(obfuscate func(string) string) *StringTable {
	return &StringTable{
		ids:       make(map[string]int),
		obfuscate: obfuscate,
	}
}

// Add returns the encoding of s in this table.
func (t *StringTable) Add(s string) string {
	if s == "" {
		return ""
	}
	if t.obfuscate != nil {
		s = t.obfuscate(s)
	}

	if id, ok := t.ids[s]; ok {
		return Numeric(float64(id), true)
	}

	t.ids[s] = t.next
	t.next++

	return QuoteString(s)
}

// Len returns the number of distinct strings interned so far.
func (t *StringTable) Len() int {
	return t.next
}
