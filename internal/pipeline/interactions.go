package pipeline

import (
	"sync"

	"codeberg.org/mutker/harvester/internal/bus"
	"codeberg.org/mutker/harvester/internal/harvest"
)

// interactionsFeature queues finished interactions for the events endpoint.
type interactionsFeature struct {
	p *Pipeline

	mu      sync.Mutex
	pending []*Interaction
}

func newInteractionsFeature(p *Pipeline) *interactionsFeature {
	return &interactionsFeature{p: p}
}

func (f *interactionsFeature) register(b *bus.Bus) {
	b.RegisterHandler(FactInteraction, f.onInteraction, bus.GroupFeature)
}

// onInteraction handles interaction facts: (interaction).
func (f *interactionsFeature) onInteraction(_ *bus.Context, args []any) error {
	var ix *Interaction
	switch v := argAt(args, 0).(type) {
	case *Interaction:
		ix = v
	case Interaction:
		ix = &v
	case map[string]any:
		ix = &Interaction{}
		if err := decodeArg(v, ix); err != nil {
			return err
		}
	}
	if ix == nil {
		return invalidFact(FactInteraction, "interaction is required")
	}
	if ix.End < ix.Start {
		return invalidFact(FactInteraction, "interaction ends before it starts")
	}

	if attrs := f.p.customAttributes(ix.Attributes); attrs != nil {
		ix.Attributes = attrs
	}

	f.mu.Lock()
	f.pending = append(f.pending, ix)
	f.mu.Unlock()

	return nil
}

// getPayload encodes the pending interactions, split by MaxBytes. When the
// transport reports results, each payload re-queues its own interactions if
// the collector asks for them again.
func (f *interactionsFeature) getPayload(opts harvest.PayloadOptions) []*harvest.Payload {
	f.mu.Lock()
	pending := f.pending
	f.pending = nil
	f.mu.Unlock()

	chunks := encodeInteractionChunks(pending, f.p.cfg.Harvest.MaxBytes, f.p.harvester.Obfuscator().String)
	payloads := make([]*harvest.Payload, 0, len(chunks))
	for _, c := range chunks {
		payload := &harvest.Payload{Body: map[string]any{"e": c.blob}}
		if opts.Retry {
			items := c.items
			payload.OnResult = func(r harvest.Result) {
				if r.Sent && r.Retry {
					f.requeue(items)
				}
			}
		}
		payloads = append(payloads, payload)
	}

	return payloads
}

// requeue puts items back in front of newer interactions.
func (f *interactionsFeature) requeue(items []*Interaction) {
	f.mu.Lock()
	defer f.mu.Unlock()

	merged := make([]*Interaction, 0, len(items)+len(f.pending))
	merged = append(merged, items...)
	f.pending = append(merged, f.pending...)
}

func (f *interactionsFeature) pendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}
