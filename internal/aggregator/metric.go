package aggregator

import (
	"math"

	"github.com/bytedance/sonic"
)

// MetricKind tags which form a Metric is in.
type MetricKind uint8

const (
	// SingleValue holds exactly one observation in Total.
	SingleValue MetricKind = iota + 1
	// Condensed holds count, total, min, max and sum of squares.
	Condensed
	// Counter only counts calls; no value was ever observed.
	Counter
)

// Metric is a single-value, condensed or counter statistic. A single value
// is promoted to condensed on its second observation and never goes back.
type Metric struct {
	Kind         MetricKind
	Count        int64
	Total        float64
	Min          float64
	Max          float64
	SumOfSquares float64
}

// NewMetric returns the single-value form of one observation.
func NewMetric(value float64) Metric {
	return Metric{Kind: SingleValue, Count: 1, Total: value}
}

// NewCondensed returns a condensed metric from its parts.
func NewCondensed(count int64, total, min, max, sumOfSquares float64) Metric {
	return Metric{Kind: Condensed, Count: count, Total: total, Min: min, Max: max, SumOfSquares: sumOfSquares}
}

// Promote returns the condensed form of m. Counters and condensed metrics
// are returned unchanged.
func (m Metric) Promote() Metric {
	if m.Kind != SingleValue {
		return m
	}

	return NewCondensed(1, m.Total, m.Total, m.Total, m.Total*m.Total)
}

// Observe folds one more value into m.
func (m Metric) Observe(value float64) Metric {
	switch m.Kind {
	case 0:
		return NewMetric(value)
	case Counter:
		// A counter has no value history; start min/max from this value.
		return NewCondensed(m.Count+1, value, value, value, value*value)
	}

	c := m.Promote()
	c.Count++
	c.Total += value
	c.SumOfSquares += value * value
	c.Min = math.Min(c.Min, value)
	c.Max = math.Max(c.Max, value)

	return c
}

// Increment counts one call without a value.
func (m Metric) Increment() Metric {
	if m.Kind == 0 {
		return Metric{Kind: Counter, Count: 1}
	}
	if m.Kind == SingleValue {
		m = m.Promote()
	}
	m.Count++

	return m
}

// Merge combines two metrics. Counts, totals and sums of squares add; min
// and max are taken pointwise. The result is condensed unless both sides
// are counters.
func (m Metric) Merge(other Metric) Metric {
	switch {
	case other.Kind == 0:
		return m
	case m.Kind == 0:
		return other
	case m.Kind == Counter && other.Kind == Counter:
		return Metric{Kind: Counter, Count: m.Count + other.Count}
	case m.Kind == Counter:
		o := other.Promote()
		o.Count += m.Count
		return o
	case other.Kind == Counter:
		c := m.Promote()
		c.Count += other.Count
		return c
	}

	a, b := m.Promote(), other.Promote()

	return NewCondensed(
		a.Count+b.Count,
		a.Total+b.Total,
		math.Min(a.Min, b.Min),
		math.Max(a.Max, b.Max),
		a.SumOfSquares+b.SumOfSquares,
	)
}

// MarshalJSON writes {t} for single values, {c} for counters and
// {c,t,min,max,sos} for condensed metrics.
func (m Metric) MarshalJSON() ([]byte, error) {
	switch m.Kind {
	case SingleValue:
		return sonic.ConfigStd.Marshal(map[string]float64{"t": m.Total})
	case Counter:
		return sonic.ConfigStd.Marshal(map[string]int64{"c": m.Count})
	default:
		return sonic.ConfigStd.Marshal(map[string]any{
			"c":   m.Count,
			"t":   m.Total,
			"min": m.Min,
			"max": m.Max,
			"sos": m.SumOfSquares,
		})
	}
}
