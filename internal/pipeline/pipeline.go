// Package pipeline wires the aggregator, the event bus and the harvest
// layer into the running agent: producers hand facts to the bus, features
// turn them into buckets and queues, and schedulers deliver them.
package pipeline

import (
	"context"
	"maps"
	"sync"
	"time"

	"codeberg.org/mutker/harvester/internal/aggregator"
	"codeberg.org/mutker/harvester/internal/bus"
	"codeberg.org/mutker/harvester/internal/clock"
	"codeberg.org/mutker/harvester/internal/errors"
	"codeberg.org/mutker/harvester/internal/harvest"
	"codeberg.org/mutker/harvester/internal/logger"
	"codeberg.org/mutker/harvester/internal/metrics"
	"codeberg.org/mutker/harvester/internal/telemetry"
)

type Option func(*Pipeline)

func WithClock(c clock.Clock) Option {
	return func(p *Pipeline) {
		if c != nil {
			p.clock = c
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.log = l
		}
	}
}

// WithMetrics reports deliveries and bus faults to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithJournal records every delivery in j.
func WithJournal(j telemetry.Journal) Option {
	return func(p *Pipeline) {
		if j != nil {
			p.journal = j
		}
	}
}

// Pipeline is one agent instance.
type Pipeline struct {
	cfg     Config
	clock   clock.Clock
	log     logger.Logger
	metrics *metrics.Metrics
	journal telemetry.Journal

	agg        *aggregator.Aggregator
	bus        *bus.Bus
	harvester  *harvest.Harvester
	schedulers map[string]*harvest.Scheduler
	endpoints  []string

	errors       *errorsFeature
	pageActions  *pageActionsFeature
	interactions *interactionsFeature
	support      *supportabilityFeature

	start time.Time

	attrMu     sync.RWMutex
	attributes map[string]any

	// stateMu orders fact intake against Unload: no fact is handled once
	// unloaded is set.
	stateMu  sync.RWMutex
	unloaded bool

	startOnce   sync.Once
	unloadOnce  sync.Once
	hooksMu     sync.Mutex
	unloadHooks []func()
}

// New builds a pipeline delivering through submitter. Facts may be handed
// to it right away; they are buffered until Start.
func New(cfg Config, submitter harvest.Submitter, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		cfg:        cfg,
		clock:      clock.Real(),
		log:        logger.Nop(),
		agg:        aggregator.New(),
		schedulers: make(map[string]*harvest.Scheduler),
		attributes: make(map[string]any),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.journal == nil {
		p.journal, _ = telemetry.NewJournal(telemetry.Config{}, p.log)
	}
	p.start = p.clock.Now()

	busOpts := []bus.Option{bus.WithLogger(p.log.With("bus"))}
	if p.metrics != nil {
		busOpts = append(busOpts, bus.WithObserver(p.metrics))
	}
	p.bus = bus.New("harvester", busOpts...)

	h, err := harvest.New(cfg.Harvest, submitter,
		harvest.WithClock(p.clock),
		harvest.WithLogger(p.log.With("harvest")),
		harvest.WithObserver(p.onDelivery),
	)
	if err != nil {
		return nil, errors.New().Wrap(ErrInvalidConfig, err)
	}
	p.harvester = h

	p.errors = newErrorsFeature(p)
	p.pageActions = newPageActionsFeature(p)
	p.interactions = newInteractionsFeature(p)
	p.support = &supportabilityFeature{p: p}

	p.addScheduler(EndpointErrors, harvest.SchedulerOptions{
		OnFinished: p.errors.onFinished,
	})
	p.addScheduler(EndpointPageActions, harvest.SchedulerOptions{
		GetPayload: p.pageActions.getPayload,
	})
	p.addScheduler(EndpointEvents, harvest.SchedulerOptions{
		GetPayload: p.interactions.getPayload,
	})

	return p, nil
}

func (p *Pipeline) addScheduler(endpoint string, opts harvest.SchedulerOptions) {
	opts.RetryDelay = p.cfg.retryDelay()
	opts.Logger = p.log
	p.schedulers[endpoint] = harvest.NewScheduler(endpoint, p.harvester, p.clock, opts)
	p.endpoints = append(p.endpoints, endpoint)
}

// Bus returns the root event bus.
func (p *Pipeline) Bus() *bus.Bus {
	return p.bus
}

// Aggregator returns the bucket store.
func (p *Pipeline) Aggregator() *aggregator.Aggregator {
	return p.agg
}

// Harvester returns the harvest layer.
func (p *Pipeline) Harvester() *harvest.Harvester {
	return p.harvester
}

// Scheduler returns the scheduler of endpoint, or nil.
func (p *Pipeline) Scheduler(endpoint string) *harvest.Scheduler {
	return p.schedulers[endpoint]
}

// Handle hands a producer fact to the bus in the group its type belongs to.
func (p *Pipeline) Handle(typ string, args []any, carrier any) *bus.Context {
	return p.HandleGroup(typ, args, carrier, GroupFor(typ))
}

// HandleGroup is Handle with an explicit backlog group. Facts handed over
// after Unload are dropped and nil is returned.
func (p *Pipeline) HandleGroup(typ string, args []any, carrier any, group string) *bus.Context {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()

	if p.unloaded {
		if p.metrics != nil {
			p.metrics.Dropped(typ)
		}
		return nil
	}

	if group == "" {
		group = GroupFor(typ)
	}
	ctx := p.bus.Handle(typ, args, carrier, group)
	if ctx != nil && p.metrics != nil {
		p.metrics.RecordFact(typ)
	}
	return ctx
}

// Start registers the feature handlers, replays everything buffered so far
// and starts the harvest timers. Only the first call has an effect.
func (p *Pipeline) Start() error {
	if p.bus.Aborted() {
		return errors.New().New(ErrAborted)
	}

	p.startOnce.Do(func() {
		p.errors.register(p.bus)
		p.pageActions.register(p.bus)
		p.interactions.register(p.bus)
		p.support.register(p.bus)

		p.bus.Drain(bus.GroupAPI)
		p.bus.Drain(bus.GroupFeature)

		for _, endpoint := range p.endpoints {
			interval := p.cfg.interval(endpoint)
			p.schedulers[endpoint].StartTimer(interval)
			p.log.Debug().
				Str("endpoint", endpoint).
				Dur("interval", interval).
				Msg("Harvest timer started")
		}

		p.log.Info().Str("ptid", p.harvester.PageTraceID()).Msg("Pipeline started")
	})

	return nil
}

// Abort drops everything buffered and stops harvesting, if the agent has
// not finished its handoff yet. It reports whether the pipeline is aborted.
func (p *Pipeline) Abort() bool {
	p.bus.Abort()
	if !p.bus.Aborted() {
		return false
	}

	for _, endpoint := range p.endpoints {
		p.schedulers[endpoint].Abort()
	}
	p.log.Warn().Msg("Pipeline aborted")

	return true
}

// OnUnload subscribes fn to teardown. Hooks run once, after the final
// harvest.
func (p *Pipeline) OnUnload(fn func()) {
	p.hooksMu.Lock()
	defer p.hooksMu.Unlock()
	p.unloadHooks = append(p.unloadHooks, fn)
}

// Unload performs teardown once: fact intake closes, timers stop,
// payload-pulling endpoints run a final harvest and every producer endpoint
// is flushed.
func (p *Pipeline) Unload() {
	p.unloadOnce.Do(func() {
		p.stateMu.Lock()
		p.unloaded = true
		p.stateMu.Unlock()

		p.log.Debug().Msg("Unloading pipeline")

		for _, endpoint := range p.endpoints {
			p.schedulers[endpoint].Unload()
		}
		p.harvester.SendFinal()

		p.hooksMu.Lock()
		hooks := append([]func(){}, p.unloadHooks...)
		p.hooksMu.Unlock()
		for _, fn := range hooks {
			fn()
		}
	})
}

// Close releases the journal.
func (p *Pipeline) Close() error {
	return p.journal.Close()
}

func (p *Pipeline) onDelivery(d harvest.Delivery) {
	outcome := metrics.OutcomeSent
	switch {
	case !d.Result.Sent:
		outcome = metrics.OutcomeFailed
	case d.Result.Retry:
		outcome = metrics.OutcomeRetry
	}

	if p.metrics != nil {
		p.metrics.RecordDelivery(d.Endpoint, d.Method.String(), outcome, d.Bytes, d.Duration)
	}

	rec := &telemetry.DeliveryRecord{
		Timestamp: p.clock.Now(),
		Endpoint:  d.Endpoint,
		Method:    d.Method.String(),
		Bytes:     d.Bytes,
		Status:    d.Result.Status,
		Sent:      d.Result.Sent,
		Retry:     d.Result.Retry,
		Delay:     d.Result.Delay,
		Unload:    d.Unload,
		Duration:  d.Duration,
	}
	if d.Err != nil {
		rec.Error = d.Err.Error()
	}
	if err := p.journal.Record(context.Background(), rec); err != nil {
		p.log.Warn().Err(err).Str("endpoint", d.Endpoint).Msg("Failed to journal delivery")
	}

	if outcome != metrics.OutcomeSent {
		p.supportability("Supportability/Harvest/" + d.Endpoint + "/" + outcome)
	}
}

// supportability counts one occurrence of an internal event.
func (p *Pipeline) supportability(name string) {
	p.agg.StoreMetric(typeSupportMetric, name, map[string]any{"name": name}, nil)
}

func (p *Pipeline) sinceStart() float64 {
	return float64(p.clock.Now().Sub(p.start).Milliseconds())
}

func (p *Pipeline) pageURI() string {
	return harvest.CleanURL(p.cfg.Harvest.PageURL)
}

func (p *Pipeline) setCustomAttribute(key string, value any) {
	p.attrMu.Lock()
	defer p.attrMu.Unlock()

	if value == nil {
		delete(p.attributes, key)
		return
	}
	p.attributes[key] = value
}

// customAttributes returns the page-wide attributes overlaid with extra, or
// nil when both are empty.
func (p *Pipeline) customAttributes(extra map[string]any) map[string]any {
	p.attrMu.RLock()
	defer p.attrMu.RUnlock()

	if len(p.attributes) == 0 && len(extra) == 0 {
		return nil
	}

	out := maps.Clone(p.attributes)
	if out == nil {
		out = make(map[string]any, len(extra))
	}
	maps.Copy(out, extra)

	return out
}
