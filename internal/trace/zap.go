package trace

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapTracer forwards events to a zap logger as structured records. Span
// begin/point events log at debug, span ends at info with their duration.
type ZapTracer struct {
	log   *zap.Logger
	level Level
}

// NewZapTracer builds a JSON zap logger writing to path ("" or "-" = stderr).
func NewZapTracer(level Level, path string) (*ZapTracer, error) {
	out := "stderr"
	if path != "" && path != "-" {
		out = path
	}
	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zap.DebugLevel),
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{out},
		ErrorOutputPaths: []string{"stderr"},
		DisableCaller:    true,
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &ZapTracer{log: logger, level: level}, nil
}

// NewZapTracerWithLogger wraps an existing logger.
func NewZapTracerWithLogger(logger *zap.Logger, level Level) *ZapTracer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapTracer{log: logger, level: level}
}

// Emit converts the event into zap fields.
func (t *ZapTracer) Emit(ev *Event) {
	if !t.level.ShouldEmit(ev.Scope) {
		return
	}
	ev.Seq = NextSeq()

	fields := make([]zap.Field, 0, 6+len(ev.Extra))
	fields = append(fields,
		zap.Uint64("seq", ev.Seq),
		zap.String("kind", ev.Kind.String()),
		zap.String("scope", ev.Scope.String()),
	)
	if ev.SpanID != 0 {
		fields = append(fields, zap.Uint64("span", ev.SpanID))
	}
	if ev.ParentID != 0 {
		fields = append(fields, zap.Uint64("parent", ev.ParentID))
	}
	if ev.Detail != "" {
		fields = append(fields, zap.String("detail", ev.Detail))
	}
	for k, v := range ev.Extra {
		fields = append(fields, zap.String(k, v))
	}

	lvl := zapcore.DebugLevel
	if ev.Kind == KindSpanEnd {
		lvl = zapcore.InfoLevel
	}
	t.log.Log(lvl, ev.Name, fields...)
}

func (t *ZapTracer) Flush() error {
	// Sync on a terminal returns EINVAL/ENOTTY; that is not a failure.
	if err := t.log.Sync(); err != nil && !isStdSyncError(err) {
		return err
	}
	return nil
}

func (t *ZapTracer) Close() error { return t.Flush() }

func (t *ZapTracer) Level() Level { return t.level }

func (t *ZapTracer) Enabled() bool { return t.level > LevelOff }

func isStdStream(w io.Writer) bool {
	return w == os.Stderr || w == os.Stdout
}

func isStdSyncError(err error) bool {
	if pe, ok := err.(*os.PathError); ok {
		return pe.Path == "/dev/stderr" || pe.Path == "/dev/stdout"
	}
	return false
}
