// Package bus implements the hierarchical event bus that connects
// instrumentation producers to feature consumers. Producers can emit before
// consumers exist; those emissions are buffered per group and replayed when
// the group is drained.
package bus

import (
	"fmt"
	"sync"

	"codeberg.org/mutker/harvester/internal/errors"
	"codeberg.org/mutker/harvester/internal/logger"
)

// InternalError is emitted on the faulting bus, forced and without bubbling,
// when a handler returns an error or panics. Args are (error, type, args).
const InternalError = "internal-error"

// Handler reacts to one emission. A returned error is reported as an
// InternalError emission and does not stop the remaining handlers.
type Handler func(ctx *Context, args []any) error

// ListenerID identifies a handler attached with On.
type ListenerID uint64

// Observer is notified of emissions the bus could not deliver normally.
type Observer interface {
	HandlerFault(typ string, err error)
	Dropped(typ string)
}

type nopObserver struct{}

func (nopObserver) HandlerFault(string, error) {}
func (nopObserver) Dropped(string)             {}

type Option func(*tree)

// WithObserver reports handler faults and dropped emissions to o.
func WithObserver(o Observer) Option {
	return func(t *tree) {
		if o != nil {
			t.observer = o
		}
	}
}

// WithLogger sets the logger used for handler faults.
func WithLogger(l logger.Logger) Option {
	return func(t *tree) {
		if l != nil {
			t.log = l
		}
	}
}

type listener struct {
	id ListenerID
	fn Handler
}

// Bus is one node of an emitter tree. All buses of a tree share the abort
// flag, the backlog and the queued handler registrations.
type Bus struct {
	name   string
	parent *Bus
	tree   *tree

	mu       sync.RWMutex
	handlers map[string][]listener
	children map[string]*Bus
}

// New creates the root bus of a new tree.
func New(name string, opts ...Option) *Bus {
	t := newTree()
	for _, opt := range opts {
		opt(t)
	}

	return newBus(name, nil, t)
}

func newBus(name string, parent *Bus, t *tree) *Bus {
	return &Bus{
		name:     name,
		parent:   parent,
		tree:     t,
		handlers: make(map[string][]listener),
		children: make(map[string]*Bus),
	}
}

func (b *Bus) Name() string {
	return b.name
}

// Get returns the named child bus, creating it on first use.
func (b *Bus) Get(name string) *Bus {
	b.mu.Lock()
	defer b.mu.Unlock()

	child, ok := b.children[name]
	if !ok {
		child = newBus(name, b, b.tree)
		b.children[name] = child
	}

	return child
}

// On attaches fn to typ. Handlers run in attachment order.
func (b *Bus) On(typ string, fn Handler) ListenerID {
	return b.attach(typ, fn)
}

// attach takes b.mu only, so Drain may call it while holding the tree lock.
func (b *Bus) attach(typ string, fn Handler) ListenerID {
	id := ListenerID(b.tree.nextID.Add(1))

	b.mu.Lock()
	b.handlers[typ] = append(b.handlers[typ], listener{id: id, fn: fn})
	b.mu.Unlock()

	return id
}

// Off detaches the handler with the given id.
func (b *Bus) Off(typ string, id ListenerID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	current := b.handlers[typ]
	for i, l := range current {
		if l.id == id {
			next := make([]listener, 0, len(current)-1)
			next = append(next, current[:i]...)
			b.handlers[typ] = append(next, current[i+1:]...)
			return
		}
	}
}

// Listeners returns the handlers attached to typ, in order.
func (b *Bus) Listeners(typ string) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Handler, 0, len(b.handlers[typ]))
	for _, l := range b.handlers[typ] {
		out = append(out, l.fn)
	}

	return out
}

type emitOptions struct {
	force    bool
	noBubble bool
}

type EmitOption func(*emitOptions)

// Force emits even when the tree has been aborted.
func Force() EmitOption {
	return func(o *emitOptions) { o.force = true }
}

// NoBubble keeps the emission on this bus instead of forwarding it to the
// ancestors first.
func NoBubble() EmitOption {
	return func(o *emitOptions) { o.noBubble = true }
}

// Emit delivers typ to the ancestors (unless NoBubble), records it in the
// backlog when typ is buffered, then runs the local handlers in order.
// It returns the emission's Context, or nil when the aborted tree dropped it.
func (b *Bus) Emit(typ string, args []any, carrier any, opts ...EmitOption) *Context {
	var o emitOptions
	for _, opt := range opts {
		opt(&o)
	}

	if b.tree.isAborted() && !o.force {
		b.tree.observer.Dropped(typ)
		return nil
	}

	ctx := resolveContext(carrier)
	b.emit(typ, args, ctx, o)

	return ctx
}

func (b *Bus) emit(typ string, args []any, ctx *Context, o emitOptions) {
	if !o.noBubble && b.parent != nil {
		b.parent.emit(typ, args, ctx, o)
	}

	// The handler snapshot and the backlog decision are taken under the
	// tree lock so a concurrent Drain sees either the recorded entry or the
	// attached handlers, never neither.
	t := b.tree
	t.mu.Lock()
	b.mu.RLock()
	handlers := b.handlers[typ]
	b.mu.RUnlock()
	t.recordLocked(entry{bus: b, typ: typ, args: args, ctx: ctx})
	t.mu.Unlock()

	for _, l := range handlers {
		b.invoke(l.fn, typ, args, ctx)
	}
}

// invoke runs fn and converts a returned error or panic into an
// InternalError emission on this bus.
func (b *Bus) invoke(fn Handler, typ string, args []any, ctx *Context) {
	err := b.call(fn, args, ctx)
	if err == nil {
		return
	}

	b.tree.observer.HandlerFault(typ, err)
	b.tree.log.Debug().
		Str("bus", b.name).
		Str("type", typ).
		Err(err).
		Msg("Handler fault")

	if typ == InternalError {
		return
	}

	b.Emit(InternalError, []any{err, typ, args}, nil, Force(), NoBubble())
}

func (b *Bus) call(fn Handler, args []any, ctx *Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New().WithData(ErrHandlerPanic, fmt.Sprint(r))
		}
	}()

	if err := fn(ctx, args); err != nil {
		return errors.New().Wrap(ErrHandlerFailed, err)
	}

	return nil
}

// Aborted reports whether the tree has been aborted.
func (b *Bus) Aborted() bool {
	return b.tree.isAborted()
}
