package main

import (
	"context"
	"io"
	"strings"
	"testing"

	"codeberg.org/mutker/harvester/internal/harvest"
	"codeberg.org/mutker/harvester/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPipeline(t *testing.T) *pipeline.Pipeline {
	t.Helper()
	submitter := harvest.NewHTTPSubmitter(harvest.WithCapabilities(false, false))
	p, err := pipeline.New(pipeline.Config{Harvest: harvest.Config{Beacon: "bam.example.com", LicenseKey: "KEY"}}, submitter)
	require.NoError(t, err)
	require.NoError(t, p.Start())
	return p
}

func TestReadFactsForwardsValidLines(t *testing.T) {
	p := newPipeline(t)

	input := strings.Join([]string{
		`{"type":"storeSupportabilityMetrics","args":["Config/Feature/enabled"]}`,
		`not json`,
		``,
		`{"args":["no type"]}`,
		`{"type":"storeEventMetrics","group":"feature","args":["cart/total",12]}`,
	}, "\n")

	require.NoError(t, readFacts(context.Background(), p, strings.NewReader(input)))

	assert.Len(t, p.Aggregator().Get("sm"), 1)
	assert.Len(t, p.Aggregator().Get("cm"), 1)
}


func TestReadFactsStopsOnCancel(t *testing.T) {
	p := newPipeline(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	input := `{"type":"storeSupportabilityMetrics","args":["Config/Feature/enabled"]}`
	require.NoError(t, readFacts(ctx, p, strings.NewReader(input)))

	assert.Empty(t, p.Aggregator().Get("sm"))
}

func TestLoopReturnsOnCancelWhileReading(t *testing.T) {
	p := newPipeline(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, w := io.Pipe()
	defer w.Close()

	require.NoError(t, loop(ctx, p, r))
	p.Unload()

	_, _ = w.Write([]byte(`{"type":"storeSupportabilityMetrics","args":["Config/Feature/enabled"]}` + "\n"))
	assert.Empty(t, p.Aggregator().Get("sm"))
}
