package aggregator

import (
	"maps"

	"github.com/bytedance/sonic"
)

// MetricSet is the metrics half of a bucket: the number of Store calls that
// built it and the named metrics they observed.
type MetricSet struct {
	Count  int64
	Values map[string]Metric
}

// Bucket is the aggregation slot for one (type, name) key. Params and Custom
// are fixed by the first observation.
type Bucket struct {
	Type    string
	Name    string
	Params  map[string]any
	Custom  map[string]any
	Metrics *MetricSet
	Stats   *Metric
}

func newBucket(typ, name string, params, custom map[string]any) *Bucket {
	b := &Bucket{Type: typ, Name: name, Params: maps.Clone(params)}
	if b.Params == nil {
		b.Params = map[string]any{}
	}
	if custom != nil {
		b.Custom = maps.Clone(custom)
	}

	return b
}

// Clone returns a deep copy of the bucket's maps and metrics.
func (b *Bucket) Clone() *Bucket {
	if b == nil {
		return nil
	}

	c := &Bucket{
		Type:   b.Type,
		Name:   b.Name,
		Params: maps.Clone(b.Params),
		Custom: maps.Clone(b.Custom),
	}
	if b.Metrics != nil {
		c.Metrics = &MetricSet{Count: b.Metrics.Count, Values: maps.Clone(b.Metrics.Values)}
	}
	if b.Stats != nil {
		stats := *b.Stats
		c.Stats = &stats
	}

	return c
}

// MarshalJSON writes the collector's bucket shape:
// {"params":{},"custom":{},"metrics":{"count":n,"<name>":{...}},"stats":{...}}
func (b *Bucket) MarshalJSON() ([]byte, error) {
	out := map[string]any{"params": b.Params}
	if b.Custom != nil {
		out["custom"] = b.Custom
	}
	if b.Metrics != nil {
		metrics := make(map[string]any, len(b.Metrics.Values)+1)
		metrics["count"] = b.Metrics.Count
		for name, m := range b.Metrics.Values {
			metrics[name] = m
		}
		out["metrics"] = metrics
	}
	if b.Stats != nil {
		out["stats"] = *b.Stats
	}

	return sonic.ConfigStd.Marshal(out)
}

func (b *Bucket) store(metrics map[string]float64) {
	if b.Metrics == nil {
		b.Metrics = &MetricSet{Values: map[string]Metric{}}
	}
	b.Metrics.Count++
	for name, value := range metrics {
		b.Metrics.Values[name] = b.Metrics.Values[name].Observe(value)
	}
}

func (b *Bucket) storeStat(value *float64) {
	var stats Metric
	if b.Stats != nil {
		stats = *b.Stats
	}
	if value == nil {
		stats = stats.Increment()
	} else {
		stats = stats.Observe(*value)
	}
	b.Stats = &stats
}

func (b *Bucket) merge(set *MetricSet) {
	if set == nil {
		return
	}
	if b.Metrics == nil {
		b.Metrics = &MetricSet{Count: set.Count, Values: maps.Clone(set.Values)}
		if b.Metrics.Values == nil {
			b.Metrics.Values = map[string]Metric{}
		}
		return
	}

	b.Metrics.Count += set.Count
	for name, m := range set.Values {
		b.Metrics.Values[name] = b.Metrics.Values[name].Merge(m)
	}
}
