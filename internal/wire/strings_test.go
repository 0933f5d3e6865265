package wire_test

import (
	"strings"
	"testing"

	"codeberg.org/mutker/harvester/internal/wire"
	"github.com/stretchr/testify/assert"
)

func TestStringTableInterns(t *testing.T) {
	table := wire.NewStringTable(nil)

	assert.Equal(t, "'first", table.Add("first"))
	assert.Equal(t, "'second", table.Add("second"))
	assert.Equal(t, "0", table.Add("first"))
	assert.Equal(t, "1", table.Add("second"))
	assert.Equal(t, "", table.Add(""))
	assert.Equal(t, 2, table.Len())
}

func TestStringTableIdsAreBase36(t *testing.T) {
	table := wire.NewStringTable(nil)
	for i := 0; i < 40; i++ {
		table.Add(strings.Repeat("x", i+1))
	}

	assert.Equal(t, "z", table.Add(strings.Repeat("x", 36)))
	assert.Equal(t, "10", table.Add(strings.Repeat("x", 37)))
}

func TestQuoteStringEscapesDelimiters(t *testing.T) {
	assert.Equal(t, `'a\,b\;c\\d`, wire.QuoteString(`a,b;c\d`))
}

func TestStringTableObfuscatesBeforeInterning(t *testing.T) {
	table := wire.NewStringTable(func(s string) string {
		return strings.ReplaceAll(s, "secret", "***")
	})

	assert.Equal(t, "'user ***", table.Add("user secret"))
	assert.Equal(t, "0", table.Add("user ***"), "obfuscated form is the table key")
}
