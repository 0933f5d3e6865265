package bus

import (
	"sync"
	"sync/atomic"

	"codeberg.org/mutker/harvester/internal/logger"
)

// Reserved backlog groups. Aborting a tree only has an effect while one of
// them is still buffering.
const (
	GroupAPI     = "api"
	GroupFeature = "feature"
)

type entry struct {
	bus  *Bus
	typ  string
	args []any
	ctx  *Context
}

type registration struct {
	bus *Bus
	typ string
	fn  Handler
}

// tree is the state shared by every bus of one emitter tree.
type tree struct {
	mu        sync.Mutex
	aborted   bool
	buffering map[string]string // type -> group
	backlog   map[string][]entry
	drained   map[string]bool
	draining  map[string]bool
	queued    map[string][]registration

	nextID   atomic.Uint64
	observer Observer
	log      logger.Logger
}

func newTree() *tree {
	return &tree{
		buffering: make(map[string]string),
		backlog:   make(map[string][]entry),
		drained:   make(map[string]bool),
		draining:  make(map[string]bool),
		queued:    make(map[string][]registration),
		observer:  nopObserver{},
		log:       logger.Nop(),
	}
}

func (t *tree) isAborted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.aborted
}

// recordLocked appends e to the backlog of the group typ is buffering for.
// Caller holds t.mu.
func (t *tree) recordLocked(e entry) {
	group, ok := t.live(e.typ)
	if !ok {
		return
	}
	t.backlog[group] = append(t.backlog[group], e)
}

// live reports whether typ is buffering into a group that has not been
// drained. Caller holds t.mu.
func (t *tree) live(typ string) (string, bool) {
	group, ok := t.buffering[typ]
	if !ok || t.drained[group] {
		return "", false
	}
	return group, true
}

// Buffer starts recording emissions of types into group. A type keeps the
// first group it was buffered for; drained groups never buffer again.
func (b *Bus) Buffer(types []string, group string) {
	if group == "" {
		group = GroupFeature
	}

	t := b.tree
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.drained[group] {
		return
	}
	for _, typ := range types {
		if _, ok := t.buffering[typ]; ok {
			continue
		}
		t.buffering[typ] = group
	}
	if _, ok := t.backlog[group]; !ok {
		t.backlog[group] = nil
	}
}

// IsBuffering reports whether emissions of typ are currently recorded.
func (b *Bus) IsBuffering(typ string) bool {
	t := b.tree
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.live(typ)
	return ok
}

// Handle is the producer side of the handoff: typ is buffered for group
// (GroupFeature when empty) and emitted on this bus.
func (b *Bus) Handle(typ string, args []any, carrier any, group string) *Context {
	b.Buffer([]string{typ}, group)
	return b.Emit(typ, args, carrier)
}

// RegisterHandler is the consumer side of the handoff. While typ is
// buffering the registration is queued until its group drains; otherwise fn
// is attached immediately.
func (b *Bus) RegisterHandler(typ string, fn Handler, group string) {
	if group == "" {
		group = GroupFeature
	}

	t := b.tree
	t.mu.Lock()
	if _, ok := t.live(typ); ok && !t.drained[group] {
		t.queued[group] = append(t.queued[group], registration{bus: b, typ: typ, fn: fn})
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	b.On(typ, fn)
}

// Drain replays the group's backlog to its queued handlers, attaches them
// in registration order and stops buffering the group for good. Emissions
// recorded while the replay runs are replayed too; the handlers are
// attached in the same critical section that finds the backlog empty. Only
// the first call per group has an effect. A "drain-<group>" event is
// emitted afterwards.
func (b *Bus) Drain(group string) {
	if group == "" {
		group = GroupFeature
	}

	t := b.tree
	t.mu.Lock()
	if t.drained[group] || t.draining[group] {
		t.mu.Unlock()
		return
	}
	t.draining[group] = true

	for len(t.backlog[group]) > 0 {
		backlog := t.backlog[group]
		t.backlog[group] = nil
		queued := append([]registration(nil), t.queued[group]...)
		t.mu.Unlock()

		for _, e := range backlog {
			for _, r := range queued {
				if r.typ == e.typ && r.bus == e.bus {
					e.bus.invoke(r.fn, e.typ, e.args, e.ctx)
				}
			}
		}

		t.mu.Lock()
	}

	for _, r := range t.queued[group] {
		r.bus.attach(r.typ, r.fn)
	}
	delete(t.queued, group)
	delete(t.backlog, group)
	delete(t.draining, group)
	t.drained[group] = true
	t.mu.Unlock()

	b.Emit("drain-"+group, nil, nil)
}

// Abort discards every backlog and drops all later non-forced emissions,
// but only while the api or feature group is still buffering.
func (b *Bus) Abort() {
	t := b.tree
	t.mu.Lock()
	defer t.mu.Unlock()

	_, api := t.backlog[GroupAPI]
	_, feature := t.backlog[GroupFeature]
	api = api && !t.draining[GroupAPI]
	feature = feature && !t.draining[GroupFeature]
	if !api && !feature {
		return
	}

	t.aborted = true
	t.backlog = make(map[string][]entry)
}
