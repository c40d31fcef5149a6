package telemetry

import (
	"context"
	"io"
	"time"

	"github.com/rs/zerolog"
)

// ZerologLogger adapts a zerolog.Logger to the Logger interface. Every
// warning/error call that carries a "delayMs"/"elapsedMs"/"remainingBudgetMs"
// keyval surfaces it as-is: callers are responsible for the unit suffix per
// spec §4.2, this adapter does not rename or convert fields.
type ZerologLogger struct {
	log zerolog.Logger
}

// NewStderrLogger constructs a ZerologLogger writing newline-delimited JSON
// to w (normally os.Stderr), matching spec §6's stdout/stderr split: the
// regular event stream goes to stdout via the Output Emitter, while startup
// banners, warnings, and fatal errors are status lines on stderr.
func NewStderrLogger(w io.Writer) Logger {
	return ZerologLogger{log: zerolog.New(w).With().Timestamp().Logger()}
}

func (l ZerologLogger) Debug(_ context.Context, msg string, keyvals ...any) {
	withKV(l.log.Debug(), keyvals).Msg(msg)
}

func (l ZerologLogger) Info(_ context.Context, msg string, keyvals ...any) {
	withKV(l.log.Info(), keyvals).Msg(msg)
}

func (l ZerologLogger) Warn(_ context.Context, msg string, keyvals ...any) {
	withKV(l.log.Warn(), keyvals).Msg(msg)
}

func (l ZerologLogger) Error(_ context.Context, msg string, keyvals ...any) {
	withKV(l.log.Error(), keyvals).Msg(msg)
}

func withKV(ev *zerolog.Event, keyvals []any) *zerolog.Event {
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		v := keyvals[i+1]
		switch val := v.(type) {
		case string:
			ev = ev.Str(key, val)
		case int:
			ev = ev.Int(key, val)
		case int64:
			ev = ev.Int64(key, val)
		case float64:
			ev = ev.Float64(key, val)
		case bool:
			ev = ev.Bool(key, val)
		case time.Duration:
			ev = ev.Dur(key, val)
		default:
			ev = ev.Interface(key, val)
		}
	}
	return ev
}
