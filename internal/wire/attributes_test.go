package wire_test

import (
	"fmt"
	"testing"

	"codeberg.org/mutker/harvester/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCustomAttributes(t *testing.T) {
	table := wire.NewStringTable(nil)

	parts := table.CustomAttributes(map[string]any{
		"a_str":   "hello",
		"b_int":   3,
		"c_float": 2.5,
		"d_true":  true,
		"e_false": false,
		"f_nil":   nil,
		"g_obj":   map[string]any{"k": 1},
	})

	assert.Equal(t, []string{
		"5,'a_str,'hello",
		"6,'b_int,3.",
		"6,'c_float,2.5",
		"7,'d_true",
		"8,'e_false",
		"9,'f_nil",
		`5,'g_obj,'{"k":1}`,
	}, parts)
}

func TestCustomAttributesNumberForms(t *testing.T) {
	cases := []struct {
		val  float64
		want string
	}{
		{0, "6,'n,0."},
		{-5, "6,'n,-5."},
		{0.000001, "6,'n,0.000001"},
		{1.5e-7, "6,'n,1.5e-7"},
		{123456789012345680000, "6,'n,123456789012345680000."},
		{1e21, "6,'n,1e+21."},
		{-2.5e22, "6,'n,-2.5e+22."},
	}
	for _, tc := range cases {
		parts := wire.NewStringTable(nil).CustomAttributes(map[string]any{"n": tc.val})
		require.Len(t, parts, 1)
		assert.Equal(t, tc.want, parts[0], "value %v", tc.val)
	}
}

func TestCustomAttributesReuseStrings(t *testing.T) {
	table := wire.NewStringTable(nil)
	table.Add("color")

	parts := table.CustomAttributes(map[string]any{"color": "color"})
	assert.Equal(t, []string{"5,0,0"}, parts)
}

func TestCustomAttributesTruncate(t *testing.T) {
	attrs := make(map[string]any, 100)
	for i := 0; i < 100; i++ {
		attrs[fmt.Sprintf("key%03d", i)] = i
	}

	parts := wire.NewStringTable(nil).CustomAttributes(attrs)
	require.Len(t, parts, wire.MaxCustomAttributes)
	assert.Equal(t, "6,'key000,0.", parts[0])
}
