package harvest_test

import (
	"testing"
	"time"

	"codeberg.org/mutker/harvester/internal/harvest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerRetryDelayHonoredOnce(t *testing.T) {
	sub := newFakeSubmitter()
	sub.responses = []harvest.Response{{Status: 500}}
	h, clk := newHarvester(t, testConfig(), sub)
	h.On("jserrors", func(harvest.PayloadOptions) *harvest.Payload {
		return &harvest.Payload{Body: map[string]any{"err": "x"}}
	})

	var results []harvest.Result
	s := harvest.NewScheduler("jserrors", h, clk, harvest.SchedulerOptions{
		RetryDelay: 30 * time.Second,
		OnFinished: func(r harvest.Result) { results = append(results, r) },
	})
	s.StartTimer(60 * time.Second)

	clk.Advance(60 * time.Second)
	require.Equal(t, 1, sub.xhrCount())
	assert.True(t, results[0].Retry)

	deadline, ok := clk.NextDeadline()
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, deadline.Sub(clk.Now()), "retry replaces the periodic timer")
	assert.Equal(t, 1, clk.Pending())

	clk.Advance(30 * time.Second)
	require.Equal(t, 2, sub.xhrCount())
	assert.False(t, results[1].Retry)

	deadline, ok = clk.NextDeadline()
	require.True(t, ok)
	assert.Equal(t, 60*time.Second, deadline.Sub(clk.Now()), "back to the regular interval")
}

func TestSchedulerTooManyRequestsDelay(t *testing.T) {
	sub := newFakeSubmitter()
	sub.responses = []harvest.Response{{Status: 429}}
	h, clk := newHarvester(t, testConfig(), sub)
	h.On("ins", func(harvest.PayloadOptions) *harvest.Payload {
		return &harvest.Payload{Body: map[string]any{"ins": "x"}}
	})

	s := harvest.NewScheduler("ins", h, clk, harvest.SchedulerOptions{RetryDelay: 30 * time.Second})
	s.StartTimer(10 * time.Second)

	clk.Advance(10 * time.Second)
	deadline, ok := clk.NextDeadline()
	require.True(t, ok)
	assert.Equal(t, 60*time.Second, deadline.Sub(clk.Now()))
}

func TestSchedulerInitialDelay(t *testing.T) {
	sub := newFakeSubmitter()
	h, clk := newHarvester(t, testConfig(), sub)
	h.On("ins", func(harvest.PayloadOptions) *harvest.Payload {
		return &harvest.Payload{Body: map[string]any{"ins": "x"}}
	})

	s := harvest.NewScheduler("ins", h, clk, harvest.SchedulerOptions{})
	s.StartTimer(30*time.Second, 5*time.Second)

	clk.Advance(5 * time.Second)
	assert.Equal(t, 1, sub.xhrCount())
	clk.Advance(30 * time.Second)
	assert.Equal(t, 2, sub.xhrCount())
}

func TestScheduleHarvestIsNoopWhilePending(t *testing.T) {
	sub := newFakeSubmitter()
	h, clk := newHarvester(t, testConfig(), sub)

	s := harvest.NewScheduler("ins", h, clk, harvest.SchedulerOptions{})
	s.ScheduleHarvest(5*time.Second, harvest.Options{})
	s.ScheduleHarvest(1*time.Second, harvest.Options{})

	assert.Equal(t, 1, clk.Pending())
	deadline, _ := clk.NextDeadline()
	assert.Equal(t, 5*time.Second, deadline.Sub(clk.Now()))
}

func TestSchedulerStopTimer(t *testing.T) {
	sub := newFakeSubmitter()
	h, clk := newHarvester(t, testConfig(), sub)
	h.On("ins", func(harvest.PayloadOptions) *harvest.Payload {
		return &harvest.Payload{Body: map[string]any{"ins": "x"}}
	})

	s := harvest.NewScheduler("ins", h, clk, harvest.SchedulerOptions{})
	s.StartTimer(10 * time.Second)
	s.StopTimer()

	clk.Advance(time.Minute)
	assert.Zero(t, sub.xhrCount())
	assert.False(t, s.Pending())
}

func TestSchedulerRetryWhenNotStarted(t *testing.T) {
	sub := newFakeSubmitter()
	sub.responses = []harvest.Response{{Status: 503}}
	h, clk := newHarvester(t, testConfig(), sub)
	h.On("resources", func(harvest.PayloadOptions) *harvest.Payload {
		return &harvest.Payload{Body: map[string]any{"res": "x"}}
	})

	s := harvest.NewScheduler("resources", h, clk, harvest.SchedulerOptions{RetryDelay: 30 * time.Second})
	s.RunHarvest(harvest.Options{})
	require.Equal(t, 1, sub.xhrCount())
	assert.True(t, s.Pending(), "one-shot endpoints still retry")

	clk.Advance(30 * time.Second)
	assert.Equal(t, 2, sub.xhrCount())
	assert.False(t, s.Pending())
}

func TestSchedulerGetPayload(t *testing.T) {
	sub := newFakeSubmitter()
	h, clk := newHarvester(t, testConfig(), sub)

	var opts []harvest.PayloadOptions
	s := harvest.NewScheduler("events", h, clk, harvest.SchedulerOptions{
		GetPayload: func(o harvest.PayloadOptions) []*harvest.Payload {
			opts = append(opts, o)
			return []*harvest.Payload{
				{Body: map[string]any{"e": "bel.7;a"}},
				{Body: map[string]any{"e": "bel.7;b"}},
			}
		},
	})
	s.StartTimer(30 * time.Second)
	clk.Advance(30 * time.Second)

	require.Equal(t, 2, sub.xhrCount())
	assert.Equal(t, []harvest.PayloadOptions{{Retry: true}}, opts)
	assert.True(t, s.Pending())
}

func TestSchedulerReportsEachPayloadResult(t *testing.T) {
	sub := newFakeSubmitter()
	sub.responses = []harvest.Response{{Status: 200}, {Status: 503}}
	h, clk := newHarvester(t, testConfig(), sub)

	var results []harvest.Result
	var finished int
	s := harvest.NewScheduler("events", h, clk, harvest.SchedulerOptions{
		GetPayload: func(harvest.PayloadOptions) []*harvest.Payload {
			return []*harvest.Payload{
				{Body: map[string]any{"e": "bel.7;a"}, OnResult: func(r harvest.Result) { results = append(results, r) }},
				{Body: map[string]any{"e": "bel.7;b"}, OnResult: func(r harvest.Result) { results = append(results, r) }},
			}
		},
		OnFinished: func(harvest.Result) { finished++ },
	})
	s.RunHarvest(harvest.Options{})

	require.Len(t, results, 2)
	assert.False(t, results[0].Retry)
	assert.True(t, results[1].Retry)
	assert.Equal(t, 2, finished)
}

func TestSchedulerUnload(t *testing.T) {
	sub := newFakeSubmitter()
	h, clk := newHarvester(t, testConfig(), sub)

	unloaded := false
	var opts []harvest.PayloadOptions
	s := harvest.NewScheduler("ins", h, clk, harvest.SchedulerOptions{
		OnUnload: func() { unloaded = true },
		GetPayload: func(o harvest.PayloadOptions) []*harvest.Payload {
			opts = append(opts, o)
			return []*harvest.Payload{{Body: map[string]any{"ins": "x"}}}
		},
	})
	s.StartTimer(30 * time.Second)

	s.Unload()
	s.Unload()

	assert.True(t, unloaded)
	assert.Equal(t, []harvest.PayloadOptions{{Unload: true}}, opts)
	assert.Len(t, sub.beacons, 1)
	assert.False(t, s.Pending())

	s.StartTimer(30 * time.Second)
	assert.False(t, s.Pending(), "an unloaded scheduler stays stopped")
}
