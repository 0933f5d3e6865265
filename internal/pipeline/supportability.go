package pipeline

import (
	"codeberg.org/mutker/harvester/internal/bus"
)

// supportabilityFeature records the agent's own usage metrics and the
// page-wide custom attributes.
type supportabilityFeature struct {
	p *Pipeline
}

func (f *supportabilityFeature) register(b *bus.Bus) {
	b.RegisterHandler(FactSupportability, f.onMetric(typeSupportMetric), bus.GroupFeature)
	b.RegisterHandler(FactEventMetric, f.onMetric(typeCustomMetric), bus.GroupFeature)
	b.RegisterHandler(FactCustomAttribute, f.onCustomAttribute, bus.GroupAPI)
}

// onMetric handles (name[, value]) facts. Without a value the metric only
// counts calls.
func (f *supportabilityFeature) onMetric(typ string) bus.Handler {
	return func(_ *bus.Context, args []any) error {
		name, ok := stringArg(args, 0)
		if !ok || name == "" {
			return invalidFact(typ, "metric name is required")
		}

		var value *float64
		if v, ok := numberArg(args, 1); ok {
			value = &v
		}

		f.p.agg.StoreMetric(typ, name, map[string]any{"name": name}, value)
		return nil
	}
}

// onCustomAttribute handles (time, key, value) facts. A nil value removes
// the attribute.
func (f *supportabilityFeature) onCustomAttribute(_ *bus.Context, args []any) error {
	key, ok := stringArg(args, 1)
	if !ok || key == "" {
		return invalidFact(FactCustomAttribute, "attribute key is required")
	}

	f.p.setCustomAttribute(key, argAt(args, 2))
	f.p.supportability("API/setCustomAttribute/called")

	return nil
}
