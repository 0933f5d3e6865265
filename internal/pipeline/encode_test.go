package pipeline

import (
	"strings"
	"testing"

	"codeberg.org/mutker/harvester/internal/aggregator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeBucketsRecord(t *testing.T) {
	agg := aggregator.New()
	agg.Store("err", "b1", map[string]any{"m": "x"}, map[string]float64{"time": 5}, nil)

	blob := encodeBuckets(agg.Get("err"), nil)

	assert.Equal(t, "bel.6;'b1,1,5,'m,'x,0,1,1,'time,1,5,!", string(blob))
}

func TestEncodeBucketsCondensedAndStats(t *testing.T) {
	agg := aggregator.New()
	agg.Store("xhr", "b", nil, map[string]float64{"duration": 5}, nil)
	agg.Store("xhr", "b", nil, map[string]float64{"duration": 7}, nil)
	agg.StoreMetric("xhr", "b", nil, nil)

	blob := encodeBuckets(agg.Get("xhr"), nil)

	// count 2; duration condensed: c=2 t=12 min=5 max=7 sos=74 (22 in base 36)
	assert.Equal(t, "bel.6;'b,0,0,2,1,'duration,2,2,c,5,7,22,3,1", string(blob))
}

func TestEncodeBucketsOneRecordPerBucket(t *testing.T) {
	agg := aggregator.New()
	for _, msg := range []string{"a", "b", "c"} {
		agg.Store("err", "name-"+msg, map[string]any{"message": msg}, map[string]float64{"time": 1}, nil)
	}

	taken := agg.Take("err")
	require.Len(t, taken["err"], 3)

	blob := string(encodeBuckets(taken["err"], nil))
	require.True(t, strings.HasPrefix(blob, "bel.6;"))
	assert.Len(t, strings.Split(strings.TrimPrefix(blob, "bel.6;"), ";"), 3)
	// "message" and "time" are interned once, then referenced by id.
	assert.Equal(t, 1, strings.Count(blob, "'message"))
	assert.Equal(t, 1, strings.Count(blob, "'time"))
}

func TestEncodeBucketsObfuscates(t *testing.T) {
	agg := aggregator.New()
	agg.Store("err", "b", map[string]any{"url": "https://secret.example.com"}, nil, nil)

	blob := encodeBuckets(agg.Get("err"), func(s string) string {
		return strings.ReplaceAll(s, "secret", "***")
	})

	assert.Contains(t, string(blob), "https://***.example.com")
	assert.NotContains(t, string(blob), "secret")
}

func sampleInteraction() *Interaction {
	return &Interaction{
		Trigger:  "click",
		Category: "Route change",
		Start:    100,
		End:      350,
		Children: []Node{{
			Type:   "ajax",
			Method: "GET",
			Status: 200,
			Domain: "api.example.com",
			Path:   "/items",
			Start:  120,
			End:    200,
		}},
	}
}

func TestEncodeInteraction(t *testing.T) {
	blobs := encodeInteractions([]*Interaction{sampleInteraction()}, 0, nil)

	require.Len(t, blobs, 1)
	assert.Equal(t,
		"bel.7;1,1,2s,6y,'click,,,,,'Route change,0;2,,k,28,'GET,5k,'api.example.com,'/items,,",
		string(blobs[0]))
}

func TestEncodeInteractionsSplitsByMaxBytes(t *testing.T) {
	ixs := []*Interaction{sampleInteraction(), sampleInteraction(), sampleInteraction()}

	assert.Len(t, encodeInteractions(ixs, 0, nil), 1)
	assert.Len(t, encodeInteractions(ixs, 10000, nil), 1)

	split := encodeInteractions(ixs, 100, nil)
	require.Len(t, split, 3)
	for _, blob := range split {
		assert.True(t, strings.HasPrefix(string(blob), "bel.7;1,1,"))
	}

	assert.Nil(t, encodeInteractions(nil, 100, nil))
}

func TestEncodeInteractionsSharesStringTable(t *testing.T) {
	blobs := encodeInteractions([]*Interaction{sampleInteraction(), sampleInteraction()}, 0, nil)

	require.Len(t, blobs, 1)
	assert.Equal(t, 1, strings.Count(string(blobs[0]), "'click"))
}
