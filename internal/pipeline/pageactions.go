package pipeline

import (
	"sync"

	"codeberg.org/mutker/harvester/internal/bus"
	"codeberg.org/mutker/harvester/internal/harvest"
)

// pageActionsFeature buffers PageAction events for the ins endpoint.
type pageActionsFeature struct {
	p   *Pipeline
	max int

	mu      sync.Mutex
	pending []map[string]any
}

func newPageActionsFeature(p *Pipeline) *pageActionsFeature {
	return &pageActionsFeature{p: p, max: p.cfg.maxPageActions()}
}

func (f *pageActionsFeature) register(b *bus.Bus) {
	b.RegisterHandler(FactPageAction, f.onPageAction, bus.GroupAPI)
}

// onPageAction handles api-addPageAction facts: (time, name, attributes).
func (f *pageActionsFeature) onPageAction(_ *bus.Context, args []any) error {
	t, _ := numberArg(args, 0)
	name, ok := stringArg(args, 1)
	if !ok || name == "" {
		return invalidFact(FactPageAction, "action name is required")
	}
	attrs, _ := mapArg(args, 2)

	page := harvest.CleanURL(f.p.cfg.Harvest.PageURL)
	event := map[string]any{
		"timestamp":     float64(f.p.start.UnixMilli()) + t,
		"timeSinceLoad": t / 1000,
		"currentUrl":    page,
		"pageUrl":       page,
		"eventType":     "PageAction",
	}
	for k, v := range f.p.customAttributes(nil) {
		event[k] = v
	}
	for k, v := range attrs {
		event[k] = v
	}
	event["actionName"] = name

	f.mu.Lock()
	full := len(f.pending) >= f.max
	if !full {
		f.pending = append(f.pending, event)
	}
	f.mu.Unlock()

	if full {
		f.p.supportability("Supportability/PageAction/Dropped")
	}

	return nil
}

// getPayload hands out every pending event as one ins payload. A retry
// result puts those events back in front of the queue.
func (f *pageActionsFeature) getPayload(opts harvest.PayloadOptions) []*harvest.Payload {
	f.mu.Lock()
	events := f.pending
	f.pending = nil
	f.mu.Unlock()

	if len(events) == 0 {
		return nil
	}

	items := make([]any, len(events))
	for i, e := range events {
		items[i] = e
	}

	payload := &harvest.Payload{Body: map[string]any{"ins": items}}
	if opts.Retry {
		payload.OnResult = func(r harvest.Result) {
			if r.Sent && r.Retry {
				f.requeue(events)
			}
		}
	}

	return []*harvest.Payload{payload}
}

// requeue re-prepends events and re-applies the cap.
func (f *pageActionsFeature) requeue(events []map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()

	merged := make([]map[string]any, 0, len(events)+len(f.pending))
	merged = append(merged, events...)
	merged = append(merged, f.pending...)
	if len(merged) > f.max {
		merged = merged[:f.max]
	}
	f.pending = merged
}

func (f *pageActionsFeature) pendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}
