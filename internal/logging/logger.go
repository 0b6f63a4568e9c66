package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/marpi82/bragerconnect/internal/config"
)

const serviceName = "bragerconnect"

// redacted replaces the value of any attribute whose key names a secret.
const redacted = "[redacted]"

var secretKeys = map[string]bool{
	"password": true,
	"pass":     true,
	"token":    true,
}

// New builds the process logger from the logging section of the config.
func New(cfg config.LoggingConfig, version string) *slog.Logger {
	return NewWithWriter(cfg, version, writerFor(cfg.Output))
}

// NewWithWriter is New with an explicit destination, mainly for tests.
func NewWithWriter(cfg config.LoggingConfig, version string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		ReplaceAttr: redactSecrets,
	}
	return slog.New(newHandler(cfg.Format, w, opts)).With(
		slog.String("service", serviceName),
		slog.String("version", version),
	)
}

// Default is the startup logger, used until the config file has been read.
func Default() *slog.Logger {
	return NewWithWriter(config.LoggingConfig{Level: "info", Format: "text"}, "dev", os.Stderr)
}

func writerFor(output string) io.Writer {
	if strings.EqualFold(output, "stderr") {
		return os.Stderr
	}
	return os.Stdout
}

func newHandler(format string, w io.Writer, opts *slog.HandlerOptions) slog.Handler {
	if strings.EqualFold(format, "text") {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// parseLevel accepts slog's own level names (including offsets such as
// "debug+2") plus "warning". Anything unparseable is info.
func parseLevel(level string) slog.Level {
	if strings.EqualFold(level, "warning") {
		return slog.LevelWarn
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// redactSecrets keeps credentials out of the log whatever the call site passes.
func redactSecrets(_ []string, a slog.Attr) slog.Attr {
	if secretKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, redacted)
	}
	return a
}
