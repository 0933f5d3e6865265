package harvest

import (
	"sync"
	"time"

	"codeberg.org/mutker/harvester/internal/clock"
	"codeberg.org/mutker/harvester/internal/logger"
)

// SchedulerOptions configure one endpoint's scheduler. With GetPayload set
// the scheduler pulls payloads itself and sends each one; otherwise it
// harvests through the endpoint's producers with SendX.
type SchedulerOptions struct {
	GetPayload func(PayloadOptions) []*Payload
	OnFinished func(Result)
	OnUnload   func()
	RetryDelay time.Duration
	Logger     logger.Logger
}

// Scheduler runs the periodic harvest of one endpoint. At most one harvest
// timer is pending at any time.
type Scheduler struct {
	endpoint  string
	harvester *Harvester
	clock     clock.Clock
	opts      SchedulerOptions
	log       logger.Logger

	mu       sync.Mutex
	started  bool
	closed   bool
	interval time.Duration
	timer    clock.Timer
	seq      uint64
}

func NewScheduler(endpoint string, h *Harvester, c clock.Clock, opts SchedulerOptions) *Scheduler {
	if c == nil {
		c = clock.Real()
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}

	return &Scheduler{
		endpoint:  endpoint,
		harvester: h,
		clock:     c,
		opts:      opts,
		log:       log.With("scheduler/" + endpoint),
	}
}

func (s *Scheduler) Endpoint() string {
	return s.endpoint
}

// StartTimer begins periodic harvesting every interval. The first harvest
// runs after initialDelay when given, otherwise after interval.
func (s *Scheduler) StartTimer(interval time.Duration, initialDelay ...time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.interval = interval
	s.started = true

	delay := interval
	if len(initialDelay) > 0 {
		delay = initialDelay[0]
	}
	s.scheduleLocked(delay, Options{})
}

// StopTimer stops periodic harvesting and cancels the pending timer.
func (s *Scheduler) StopTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.started = false
	s.cancelLocked()
}

// Started reports whether periodic harvesting is on.
func (s *Scheduler) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Pending reports whether a harvest timer is armed.
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

// ScheduleHarvest arms a one-shot harvest after delay. A non-positive delay
// means the configured interval. It does nothing while a timer is pending.
func (s *Scheduler) ScheduleHarvest(delay time.Duration, opts Options) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if delay <= 0 {
		delay = s.interval
	}
	s.scheduleLocked(delay, opts)
}

func (s *Scheduler) scheduleLocked(delay time.Duration, opts Options) {
	if s.timer != nil || s.closed {
		return
	}

	s.seq++
	seq := s.seq
	s.timer = s.clock.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.seq != seq || s.timer == nil {
			s.mu.Unlock()
			return
		}
		s.timer = nil
		s.mu.Unlock()

		s.RunHarvest(opts)
	})
}

func (s *Scheduler) cancelLocked() {
	if s.timer == nil {
		return
	}
	s.timer.Stop()
	s.timer = nil
	s.seq++
}

// RunHarvest performs one harvest now. When started, the next periodic
// harvest is armed after the submission.
func (s *Scheduler) RunHarvest(opts Options) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed && !opts.Unload {
		return
	}

	done := s.onFinished(opts)
	if s.opts.GetPayload != nil {
		method := SubmitMethodFor(s.harvester.Submitter(), s.endpoint, opts)
		if method != MethodNone {
			payloads := s.opts.GetPayload(PayloadOptions{Retry: method == MethodXHR, Unload: opts.Unload})
			for _, p := range payloads {
				s.harvester.Send(s.endpoint, p, opts, method, payloadDone(p, done))
			}
		} else {
			s.log.Debug().Msg("No submit method available")
		}
	} else {
		s.harvester.SendX(s.endpoint, opts, done)
	}

	s.mu.Lock()
	if s.started {
		s.scheduleLocked(s.interval, Options{})
	}
	s.mu.Unlock()
}

func payloadDone(p *Payload, done func(Result)) func(Result) {
	if p == nil || p.OnResult == nil {
		return done
	}
	return func(r Result) {
		p.OnResult(r)
		done(r)
	}
}

func (s *Scheduler) onFinished(opts Options) func(Result) {
	return func(r Result) {
		if s.opts.OnFinished != nil {
			s.opts.OnFinished(r)
		}
		if !r.Sent || !r.Retry {
			return
		}

		delay := r.Delay
		if delay <= 0 {
			delay = s.opts.RetryDelay
		}
		if delay <= 0 {
			return
		}

		s.log.Debug().Dur("delay", delay).Int("status", r.Status).Msg("Collector asked for a retry")

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.started {
			s.cancelLocked()
		}
		retryOpts := opts
		retryOpts.Unload = false
		s.scheduleLocked(delay, retryOpts)
	}
}

// Unload stops the timer, runs OnUnload and, for payload-pulling
// schedulers, performs a final teardown harvest. The scheduler arms no
// timers afterwards.
func (s *Scheduler) Unload() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.closed = true
	s.cancelLocked()
	s.mu.Unlock()

	if s.opts.OnUnload != nil {
		s.opts.OnUnload()
	}
	if s.opts.GetPayload != nil {
		s.RunHarvest(Options{Unload: true})
	}
}

// Abort cancels all harvesting without a final send.
func (s *Scheduler) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.started = false
	s.closed = true
	s.cancelLocked()
}
