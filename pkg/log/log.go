package log

import (
	"io"
	"os"
	"time"

	"github.com/cuemby/kvmigrate/pkg/types"
	"github.com/rs/zerolog"
)

// Logger is shared by every package. Init replaces it; until then it writes
// JSON to stderr.
var Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

// Level is a log verbosity accepted by --log-level
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

var zerologLevels = map[Level]zerolog.Level{
	DebugLevel: zerolog.DebugLevel,
	InfoLevel:  zerolog.InfoLevel,
	WarnLevel:  zerolog.WarnLevel,
	ErrorLevel: zerolog.ErrorLevel,
}

// Config selects level, format and destination of the global logger
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer // stderr when nil
}

// ParseLevel maps a flag value onto a Level. Unknown values mean info.
func ParseLevel(s string) Level {
	if _, ok := zerologLevels[Level(s)]; ok {
		return Level(s)
	}
	return InfoLevel
}

// Init configures the global logger. Console output is the default; it
// prints one human readable line per event with RFC3339 timestamps.
func Init(cfg Config) {
	level, ok := zerologLevels[cfg.Level]
	if !ok {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if !cfg.JSONOutput {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	Logger = zerolog.New(out).With().Timestamp().Logger()
}

// WithComponent returns a child logger tagged component=<name>
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithDB returns a child logger tagged db=<index>. Every line a database
// migrator writes carries it.
func WithDB(db types.LogicalDatabase) zerolog.Logger {
	return Logger.With().Int("db", int(db)).Logger()
}

// WithRunID returns a child logger tagged run_id=<id>
func WithRunID(runID string) zerolog.Logger {
	return Logger.With().Str("run_id", runID).Logger()
}

func Info(msg string) {
	Logger.Info().Msg(msg)
}

func Warn(msg string) {
	Logger.Warn().Msg(msg)
}

// Errorf logs msg at error level with err attached
func Errorf(msg string, err error) {
	Logger.Error().Err(err).Msg(msg)
}
