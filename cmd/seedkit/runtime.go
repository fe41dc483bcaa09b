package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tordrt/seedkit/internal/config"
	"github.com/tordrt/seedkit/internal/db"
	"github.com/tordrt/seedkit/internal/logging"
	"github.com/tordrt/seedkit/internal/metrics"
	"github.com/tordrt/seedkit/internal/report"
	"github.com/tordrt/seedkit/internal/supabase"
	"github.com/tordrt/seedkit/internal/tts"
)

// runtime is built once per command invocation and carries everything the
// command's components share. Clients are created on first use.
type runtime struct {
	cfg     *config.Config
	log     *zap.Logger
	metrics *metrics.Metrics
	out     *report.Printer
	runID   string

	metricsFile string

	store    db.Store
	supabase *supabase.Client
	tts      *tts.Client
}

// newRuntime loads configuration, checks reqs and builds the logger. A
// *config.MissingError is returned before anything else happens when a
// requirement is not met.
func newRuntime(cmd *cobra.Command, opts *rootOptions, reqs ...config.Requirement) (*runtime, error) {
	v, err := config.New()
	if err != nil {
		return nil, err
	}
	if opts.dbURL != "" {
		v.Set("database.url", opts.dbURL)
	}
	if opts.logLevel != "" {
		v.Set("log.level", opts.logLevel)
	}
	if opts.logFormat != "" {
		v.Set("log.format", opts.logFormat)
	}

	cfg, err := config.Load(v, opts.configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Require(reqs...); err != nil {
		return nil, err
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	runID := uuid.NewString()
	log = log.With(zap.String("run_id", runID), zap.String("command", cmd.CommandPath()))

	return &runtime{
		cfg:         cfg,
		log:         log,
		metrics:     metrics.New(),
		out:         report.New(cmd.OutOrStdout()),
		runID:       runID,
		metricsFile: opts.metricsFile,
	}, nil
}

// Store connects to the configured database on first call.
func (rt *runtime) Store(ctx context.Context) (db.Store, error) {
	if rt.store != nil {
		return rt.store, nil
	}
	st, err := db.Open(ctx, rt.cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	rt.log.Debug("connected to database", zap.String("dialect", string(st.Dialect())))
	rt.store = st
	return st, nil
}

func (rt *runtime) Supabase() (*supabase.Client, error) {
	if rt.supabase != nil {
		return rt.supabase, nil
	}
	c, err := supabase.New(supabase.Options{
		URL:        rt.cfg.Supabase.URL,
		ServiceKey: rt.cfg.Supabase.ServiceKey,
		AnonKey:    rt.cfg.Supabase.AnonKey,
	})
	if err != nil {
		return nil, err
	}
	rt.supabase = c
	return c, nil
}

func (rt *runtime) TTS() (*tts.Client, error) {
	if rt.tts != nil {
		return rt.tts, nil
	}
	c, err := tts.New(tts.Options{
		BaseURL: rt.cfg.TTS.BaseURL,
		APIKey:  rt.cfg.TTS.APIKey,
		Model:   rt.cfg.TTS.Model,
	})
	if err != nil {
		return nil, err
	}
	rt.tts = c
	return c, nil
}

// Close releases clients and writes the metrics file. It is always called,
// also when the command failed, so the metrics of a partial run survive.
func (rt *runtime) Close() error {
	var firstErr error
	if rt.metricsFile != "" {
		if err := rt.metrics.WriteTextfile(rt.metricsFile); err != nil {
			firstErr = err
		}
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			rt.log.Warn("failed to close database connection", zap.Error(err))
		}
	}
	if err := rt.out.Err(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to write report: %w", err)
	}
	_ = rt.log.Sync()
	return firstErr
}

// finish closes rt and merges its error into err.
func (rt *runtime) finish(err *error) {
	if cerr := rt.Close(); cerr != nil && *err == nil {
		*err = cerr
	}
}
