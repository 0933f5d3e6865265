package pipeline

import (
	"sort"
	"strings"

	"codeberg.org/mutker/harvester/internal/aggregator"
	"codeberg.org/mutker/harvester/internal/wire"
)

// encodeBuckets writes one bel.6 record per bucket:
//
//	name,nParams,params...,nCustom,custom...,count,nMetrics,(metric,kind,values...)...,stats
//
// Strings share one table per payload; stats is "!" when absent.
func encodeBuckets(buckets []*aggregator.Bucket, obfuscate func(string) string) wire.Blob {
	w := wire.NewWriter(wire.Version6)
	table := wire.NewStringTable(obfuscate)

	for _, b := range buckets {
		w.Record(bucketFields(table, b)...)
	}

	return w.Blob()
}

func bucketFields(t *wire.StringTable, b *aggregator.Bucket) []string {
	params := t.CustomAttributes(b.Params)
	custom := t.CustomAttributes(b.Custom)

	fields := make([]string, 0, 8+len(params)+len(custom))
	fields = append(fields, t.Add(b.Name))
	fields = append(fields, wire.NumericValue(float64(len(params))))
	fields = append(fields, params...)
	fields = append(fields, wire.NumericValue(float64(len(custom))))
	fields = append(fields, custom...)

	var (
		count int64
		names []string
	)
	if b.Metrics != nil {
		count = b.Metrics.Count
		names = make([]string, 0, len(b.Metrics.Values))
		for name := range b.Metrics.Values {
			names = append(names, name)
		}
		sort.Strings(names)
	}

	fields = append(fields, wire.NumericValue(float64(count)), wire.NumericValue(float64(len(names))))
	for _, name := range names {
		fields = append(fields, t.Add(name))
		fields = append(fields, metricFields(b.Metrics.Values[name])...)
	}
	fields = append(fields, wire.Nullable(b.Stats, metricString, false))

	return fields
}

func metricFields(m aggregator.Metric) []string {
	kind := wire.NumericValue(float64(m.Kind))
	switch m.Kind {
	case aggregator.SingleValue:
		return []string{kind, wire.NumericValue(m.Total)}
	case aggregator.Counter:
		return []string{kind, wire.NumericValue(float64(m.Count))}
	default:
		return []string{
			kind,
			wire.NumericValue(float64(m.Count)),
			wire.NumericValue(m.Total),
			wire.NumericValue(m.Min),
			wire.NumericValue(m.Max),
			wire.NumericValue(m.SumOfSquares),
		}
	}
}

func metricString(m aggregator.Metric) string {
	return strings.Join(metricFields(m), ",")
}

// Node type codes of the interaction tree.
const (
	nodeInteraction  = 1
	nodeAjax         = 2
	nodeCustomTracer = 4
)

// Interaction is a finished user interaction and the work it triggered.
// Times are milliseconds since page start.
type Interaction struct {
	Trigger        string         `json:"trigger"`
	Category       string         `json:"category"`
	InitialPageURL string         `json:"initialPageURL"`
	OldURL         string         `json:"oldURL"`
	NewURL         string         `json:"newURL"`
	CustomName     string         `json:"customName"`
	Start          float64        `json:"start"`
	End            float64        `json:"end"`
	Attributes     map[string]any `json:"attrs"`
	Children       []Node         `json:"children"`
}

// Node is an ajax call or custom tracer inside an interaction.
type Node struct {
	Type     string  `json:"type"`
	Name     string  `json:"name"`
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Method   string  `json:"method"`
	Status   int     `json:"status"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	TxSize   float64 `json:"txSize"`
	RxSize   float64 `json:"rxSize"`
	Children []Node  `json:"children"`
}

// interactionEncoder writes interaction trees as bel.7 node records in
// pre-order. Child start times are relative to the interaction start.
type interactionEncoder struct {
	table *wire.StringTable
	w     *wire.Writer
}

func newInteractionEncoder(obfuscate func(string) string) *interactionEncoder {
	return &interactionEncoder{
		table: wire.NewStringTable(obfuscate),
		w:     wire.NewWriter(wire.Version7),
	}
}

func (e *interactionEncoder) add(ix *Interaction) {
	t := e.table
	attrs := t.CustomAttributes(ix.Attributes)

	fields := []string{
		wire.NumericValue(nodeInteraction),
		wire.Numeric(float64(len(ix.Children)), false),
		wire.Numeric(ix.Start, false),
		wire.Numeric(ix.End-ix.Start, false),
		t.Add(ix.Trigger),
		t.Add(ix.InitialPageURL),
		t.Add(ix.OldURL),
		t.Add(ix.NewURL),
		t.Add(ix.CustomName),
		t.Add(ix.Category),
		wire.NumericValue(float64(len(attrs))),
	}
	e.w.Record(append(fields, attrs...)...)

	for i := range ix.Children {
		e.addNode(&ix.Children[i], ix.Start)
	}
}

func (e *interactionEncoder) addNode(n *Node, origin float64) {
	t := e.table
	head := []string{
		"",
		wire.Numeric(float64(len(n.Children)), false),
		wire.Numeric(n.Start-origin, false),
		wire.Numeric(n.End-n.Start, false),
	}

	switch n.Type {
	case "ajax":
		head[0] = wire.NumericValue(nodeAjax)
		e.w.Record(append(head,
			t.Add(n.Method),
			wire.NumericValue(float64(n.Status)),
			t.Add(n.Domain),
			t.Add(n.Path),
			wire.Numeric(n.TxSize, false),
			wire.Numeric(n.RxSize, false),
		)...)
	default:
		head[0] = wire.NumericValue(nodeCustomTracer)
		e.w.Record(append(head, t.Add(n.Name))...)
	}

	for i := range n.Children {
		e.addNode(&n.Children[i], origin)
	}
}

func (e *interactionEncoder) blob() wire.Blob {
	return e.w.Blob()
}

// interactionChunk is one encoded body and the interactions inside it.
type interactionChunk struct {
	blob  wire.Blob
	items []*Interaction
}

// encodeInteractions encodes interactions into as few bel.7 bodies as fit
// maxBytes each. An interaction larger than maxBytes is sent alone.
func encodeInteractions(interactions []*Interaction, maxBytes int, obfuscate func(string) string) []wire.Blob {
	chunks := encodeInteractionChunks(interactions, maxBytes, obfuscate)
	if chunks == nil {
		return nil
	}

	out := make([]wire.Blob, len(chunks))
	for i, c := range chunks {
		out[i] = c.blob
	}
	return out
}

func encodeInteractionChunks(interactions []*Interaction, maxBytes int, obfuscate func(string) string) []interactionChunk {
	if len(interactions) == 0 {
		return nil
	}

	var (
		out   []interactionChunk
		chunk []*Interaction
		size  int
	)
	flush := func() {
		if len(chunk) == 0 {
			return
		}
		enc := newInteractionEncoder(obfuscate)
		for _, ix := range chunk {
			enc.add(ix)
		}
		out = append(out, interactionChunk{blob: enc.blob(), items: chunk})
		chunk, size = nil, 0
	}

	for _, ix := range interactions {
		// Encoded alone, an interaction is never smaller than inside a
		// shared string table, so the sum bounds the chunk size.
		alone := newInteractionEncoder(obfuscate)
		alone.add(ix)
		n := alone.w.Len()

		if maxBytes > 0 && len(chunk) > 0 && size+n > maxBytes {
			flush()
		}
		chunk = append(chunk, ix)
		size += n
	}
	flush()

	return out
}
