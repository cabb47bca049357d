package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"objcore/internal/config"
	"objcore/internal/engine"
	"objcore/internal/observ"
	"objcore/internal/prof"
	"objcore/internal/trace"
)

// errFailed is returned after the command already printed why it failed.
var errFailed = errors.New("failed")

// session is what every command needs: the effective config and the
// shared log, tracer and timer. Commands build one engine per goroutine
// from it.
type session struct {
	cfg     config.Config
	log     *zap.Logger
	tracer  trace.Tracer
	timer   *observ.Timer
	prof    *prof.Run
	color   bool
	quiet   bool
	timings bool
}

// setup reads objdb.toml, applies flag overrides and opens the tracer.
func setup(cmd *cobra.Command) (*session, error) {
	root := cmd.Root().PersistentFlags()

	cfgPath, err := root.GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	var cfg config.Config
	if cfgPath != "" {
		cfg, err = config.Load(cfgPath)
	} else {
		cfg, err = config.Discover(".")
	}
	if err != nil {
		return nil, err
	}

	if paths, _ := root.GetStringSlice("search-path"); len(paths) > 0 {
		cfg.Engine.SearchPaths = paths
	}
	if root.Changed("for-edit") {
		cfg.Engine.ForEdit, _ = root.GetBool("for-edit")
	}
	if n, _ := root.GetInt("max-diagnostics"); n > 0 {
		cfg.Diagnostics.Max = n
	}
	if v, _ := root.GetString("trace"); v != "" {
		cfg.Trace.Output = v
		if cfg.Trace.Level == "" || cfg.Trace.Level == "off" {
			cfg.Trace.Level = "phase"
		}
	}
	if v, _ := root.GetString("trace-level"); v != "" {
		cfg.Trace.Level = v
	}
	if v, _ := root.GetString("trace-mode"); v != "" {
		cfg.Trace.Mode = v
	}
	if v, _ := root.GetString("trace-format"); v != "" {
		cfg.Trace.Format = v
	}

	s := &session{cfg: cfg}
	s.quiet, _ = root.GetBool("quiet")
	s.timings, _ = root.GetBool("timings")
	if s.timings {
		s.timer = observ.NewTimer()
	}

	colorMode, _ := root.GetString("color")
	switch strings.ToLower(colorMode) {
	case "on", "always":
		s.color = true
	case "off", "never":
		s.color = false
	case "auto", "":
		s.color = isTerminal(os.Stdout)
	default:
		return nil, fmt.Errorf("invalid color mode %q (expected auto|on|off)", colorMode)
	}

	logLevel, _ := root.GetString("log-level")
	if s.log, err = newLogger(logLevel); err != nil {
		return nil, err
	}
	if s.tracer, err = engine.NewTracer(cfg.Trace); err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}

	var po prof.Options
	po.CPU, _ = root.GetString("cpu-profile")
	po.Mem, _ = root.GetString("mem-profile")
	po.Trace, _ = root.GetString("runtime-trace")
	if po.Enabled() {
		if s.prof, err = prof.Start(po); err != nil {
			_ = s.tracer.Close()
			return nil, err
		}
	}
	cmd.SetContext(trace.WithTracer(ctxOf(cmd), s.tracer))
	return s, nil
}

func ctxOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "" || strings.EqualFold(level, "off") {
		return zap.NewNop(), nil
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.DisableStacktrace = true
	return cfg.Build()
}

// engine builds a fresh engine sharing the session's log, tracer and timer.
func (s *session) engine() (*engine.Engine, error) {
	return engine.New(engine.Options{Config: s.cfg, Logger: s.log, Tracer: s.tracer, Timer: s.timer})
}

// dumpTrace prints what the ring sink kept (trace mode ring or both); the
// tail of a failed load usually names the export that broke it.
func (s *session) dumpTrace(cmd *cobra.Command) {
	r := trace.Ring(s.tracer)
	if r == nil || s.quiet {
		return
	}
	w := cmd.ErrOrStderr()
	fmt.Fprintln(w, "last trace events:")
	if err := r.Dump(w, trace.FormatText); err != nil {
		fmt.Fprintf(w, "trace: %v\n", err)
	}
}

// finish stops the profilers, prints timings and closes the tracer.
func (s *session) finish(cmd *cobra.Command) {
	if err := s.prof.Stop(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "profile: %v\n", err)
	}
	if s.timings {
		fmt.Fprint(cmd.ErrOrStderr(), s.timer.Summary())
	}
	if err := s.tracer.Close(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "trace: close error: %v\n", err)
	}
	_ = s.log.Sync()
}
