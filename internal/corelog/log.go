// Package corelog is colink-core's logging setup: one global zerolog.Logger
// configured once at process start, plus constructors for the contextual
// child loggers the rest of the tree actually reaches for (a core's own
// host_id, a task_id, a protocol operator instance_id).
package corelog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide logger; Init replaces it, everything else
// derives a child from it.
var Logger zerolog.Logger

// Level is a log-level name as it arrives off the command line
// (--log-level), kept as a distinct type from zerolog.Level so cmd/ and
// Config don't need to import zerolog just to spell out a flag default.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config is what cmd/colink-core's --log-level/--log-json flags resolve
// to before Init runs.
type Config struct {
	Level Level
	// JSON selects zerolog's structured JSON encoder, used in production;
	// the default is a human-readable console writer for local runs.
	JSON bool
	// Output defaults to os.Stdout; overridable so tests can capture
	// output instead of writing to the real stdout.
	Output io.Writer
}

// Init configures the global Logger. An unrecognized or empty Level
// falls back to zerolog's own default (info) rather than failing
// startup over a typo'd flag.
func Init(cfg Config) {
	level, err := zerolog.ParseLevel(string(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if !cfg.JSON {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	Logger = zerolog.New(out).With().Timestamp().Logger()
}

// WithCoreID tags every subsequent log line with this core's host_id,
// used once at startup (cmd/colink-core/serve.go) to derive the logger
// passed down through the rest of the serving path.
func WithCoreID(hostID string) zerolog.Logger {
	return Logger.With().Str("host_id", hostID).Logger()
}

// WithTaskID tags a child logger with a task_id, used by internal/task
// wherever a log line is about one specific task's lifecycle.
func WithTaskID(taskID string) zerolog.Logger {
	return Logger.With().Str("task_id", taskID).Logger()
}

// WithInstanceID tags a child logger with a protocol operator
// instance_id, used by internal/operator around process start/stop.
func WithInstanceID(instanceID string) zerolog.Logger {
	return Logger.With().Str("instance_id", instanceID).Logger()
}
