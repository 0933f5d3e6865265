// Copyright © 2024 Mutker Telag <witty.text5011@fastmail.com>
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/harvester/internal/config"
	"codeberg.org/mutker/harvester/internal/errors"
	"codeberg.org/mutker/harvester/internal/harvest"
	"codeberg.org/mutker/harvester/internal/logger"
	"codeberg.org/mutker/harvester/internal/metrics"
	"codeberg.org/mutker/harvester/internal/pid"
	"codeberg.org/mutker/harvester/internal/pipeline"
	"codeberg.org/mutker/harvester/internal/telemetry"
	"github.com/bytedance/sonic"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	maxFactLine     = 1 << 20
	shutdownTimeout = 5 * time.Second
)

var version = "dev"

// factLine is one producer fact on stdin.
type factLine struct {
	Type  string `json:"type"`
	Group string `json:"group"`
	Args  []any  `json:"args"`
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Init("warning", logger.IsService())
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	logger.Init(cfg.LogLevel, logger.IsService())
	logger.Debug().Str("version", version).Msg("Config loaded")

	if err := run(cfg); err != nil {
		event := logger.Error().Err(err)
		if code, ok := errors.CodeOf(err); ok {
			event.Str("error_code", string(code))
		}
		event.Msg("error in main loop")
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	errFactory := errors.New()

	if err := pid.Write(cfg.PIDDir); err != nil {
		return err
	}
	defer func() {
		if err := pid.Remove(cfg.PIDDir); err != nil {
			logger.Warn().Err(err).Msg("failed to remove pid file")
		}
	}()

	m := metrics.New(prometheus.DefaultRegisterer)
	if err := m.Register(); err != nil {
		return errFactory.Wrap(errors.ErrInitApp, err)
	}

	journalCfg := telemetry.DefaultConfig()
	journalCfg.Enabled = cfg.Journal
	if cfg.JournalDB != "" {
		journalCfg.DBPath = cfg.JournalDB
	}
	journal, err := telemetry.NewJournal(journalCfg, logger.Default().With("journal"))
	if err != nil {
		return err
	}

	submitter := harvest.NewHTTPSubmitter(
		harvest.WithCapabilities(cfg.XHRUsable, cfg.BeaconSupported),
		harvest.WithHTTPLogger(logger.Default().With("transport")),
	)

	p, err := pipeline.New(pipeline.ConfigFrom(cfg, version), submitter,
		pipeline.WithLogger(logger.Default().With("pipeline")),
		pipeline.WithMetrics(m),
		pipeline.WithJournal(journal),
	)
	if err != nil {
		_ = journal.Close()
		return err
	}
	defer cleanup(p, submitter)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	srv := serveMetrics(cfg.MetricsAddr)
	if srv != nil {
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if err := p.Start(); err != nil {
		return err
	}

	return loop(ctx, p, os.Stdin)
}

// loop forwards facts from r until EOF or cancellation. A blocked read is
// left behind on cancellation, but no fact read afterwards is forwarded.
func loop(ctx context.Context, p *pipeline.Pipeline, r io.Reader) error {
	errc := make(chan error, 1)
	go func() {
		errc <- readFacts(ctx, p, r)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errc:
		return err
	}
}

func readFacts(ctx context.Context, p *pipeline.Pipeline, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFactLine)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var fact factLine
		if err := sonic.ConfigStd.Unmarshal(line, &fact); err != nil {
			logger.ErrorWithCode(errors.New().Wrap(errors.ErrDecodeFact, err)).Msg("skipping fact")
			continue
		}
		if fact.Type == "" {
			logger.Warn().Msg("skipping fact without type")
			continue
		}

		p.HandleGroup(fact.Type, fact.Args, nil, fact.Group)
	}

	if err := scanner.Err(); err != nil {
		return errors.New().Wrap(errors.ErrReadFacts, err)
	}

	logger.Info().Msg("Producer stream closed.")
	return nil
}

func serveMetrics(addr string) *http.Server {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.ErrorWithCode(errors.New().Wrap(errors.ErrServeMetrics, err)).Msg("metrics endpoint stopped")
		}
	}()
	logger.Info().Str("addr", addr).Msg("Serving metrics")

	return srv
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}

func cleanup(p *pipeline.Pipeline, submitter *harvest.HTTPSubmitter) {
	p.Unload()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := submitter.Wait(ctx); err != nil {
		logger.Warn().Err(err).Msg("in-flight submissions abandoned")
	}

	if err := p.Close(); err != nil {
		logger.Error().Err(err).Msg("failed to close journal")
	}
	logger.Info().Msg("Exiting...")
}
