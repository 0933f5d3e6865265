// Package aggregator folds raw observations into statistical buckets keyed by
// (type, name) until a harvest takes them.
package aggregator

import "sync"

// typeStore keeps the buckets of one type in first-observation order.
type typeStore struct {
	order   []string
	buckets map[string]*Bucket
}

// Aggregator is the in-memory bucket store. All methods are safe for
// concurrent use; each call is applied atomically.
type Aggregator struct {
	mu    sync.Mutex
	types map[string]*typeStore
}

func New() *Aggregator {
	return &Aggregator{types: make(map[string]*typeStore)}
}

func (a *Aggregator) bucket(typ, name string, params, custom map[string]any) *Bucket {
	store, ok := a.types[typ]
	if !ok {
		store = &typeStore{buckets: make(map[string]*Bucket)}
		a.types[typ] = store
	}

	b, ok := store.buckets[name]
	if !ok {
		b = newBucket(typ, name, params, custom)
		store.buckets[name] = b
		store.order = append(store.order, name)
	}

	return b
}

// Store records one observation: metrics are folded into the bucket's
// metric set and its call count goes up by one. Returns a copy of the
// updated bucket.
func (a *Aggregator) Store(typ, name string, params map[string]any, metrics map[string]float64, custom map[string]any) *Bucket {
	a.mu.Lock()
	defer a.mu.Unlock()

	b := a.bucket(typ, name, params, custom)
	b.store(metrics)

	return b.Clone()
}

// StoreMetric updates the bucket's single Stats metric. A nil value only
// counts the call.
func (a *Aggregator) StoreMetric(typ, name string, params map[string]any, value *float64) *Bucket {
	a.mu.Lock()
	defer a.mu.Unlock()

	b := a.bucket(typ, name, params, nil)
	b.storeStat(value)

	return b.Clone()
}

// Merge folds a previously taken metric set back into the live bucket
// without counting a new call.
func (a *Aggregator) Merge(typ, name string, metrics *MetricSet, params, custom map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.bucket(typ, name, params, custom).merge(metrics)
}

// MergeBuckets re-absorbs whole buckets, typically ones that were taken for
// a harvest the collector asked to retry.
func (a *Aggregator) MergeBuckets(buckets []*Bucket) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, src := range buckets {
		if src == nil {
			continue
		}
		b := a.bucket(src.Type, src.Name, src.Params, src.Custom)
		b.merge(src.Metrics)
		if src.Stats != nil {
			var stats Metric
			if b.Stats != nil {
				stats = *b.Stats
			}
			stats = stats.Merge(*src.Stats)
			b.Stats = &stats
		}
	}
}

// Get returns copies of every bucket of a type, or nil.
func (a *Aggregator) Get(typ string) []*Bucket {
	a.mu.Lock()
	defer a.mu.Unlock()

	store, ok := a.types[typ]
	if !ok {
		return nil
	}

	out := make([]*Bucket, 0, len(store.order))
	for _, name := range store.order {
		out = append(out, store.buckets[name].Clone())
	}

	return out
}

// GetBucket returns a copy of one bucket, or nil.
func (a *Aggregator) GetBucket(typ, name string) *Bucket {
	a.mu.Lock()
	defer a.mu.Unlock()

	store, ok := a.types[typ]
	if !ok {
		return nil
	}

	return store.buckets[name].Clone()
}

// Take removes every bucket of the requested types and returns them by
// type. It returns nil when none of the types held data.
func (a *Aggregator) Take(types ...string) map[string][]*Bucket {
	a.mu.Lock()
	defer a.mu.Unlock()

	results := make(map[string][]*Bucket, len(types))
	hasData := false
	for _, typ := range types {
		store, ok := a.types[typ]
		delete(a.types, typ)

		var taken []*Bucket
		if ok {
			taken = make([]*Bucket, 0, len(store.order))
			for _, name := range store.order {
				taken = append(taken, store.buckets[name])
			}
		}
		if len(taken) > 0 {
			hasData = true
		}
		results[typ] = taken
	}

	if !hasData {
		return nil
	}

	return results
}
