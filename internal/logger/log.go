package logger

import (
	"io"
	"os"
	"strings"

	stdlog "log"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/bryanwahyu/gap-analyzer/internal/config"
)

// Init sets the global zerolog logger once at startup.
//
// Pretty mode writes a colored console line for local runs; otherwise JSON goes to
// stdout. Every entry carries the service name and the instance (hostname), and the
// standard library logger is redirected into zerolog.
func Init(cfg *config.Config) {
	level := zerolog.InfoLevel
	if l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Log.Level))); err == nil && l != zerolog.NoLevel {
		level = l
	}
	zerolog.SetGlobalLevel(level)

	var w io.Writer = os.Stdout
	if cfg.Log.Pretty {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	}

	instance, _ := os.Hostname()
	zlog.Logger = zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", cfg.Log.Service).
		Str("instance", instance).
		Logger()

	stdlog.SetFlags(0)
	stdlog.SetOutput(zlog.Logger)
}
