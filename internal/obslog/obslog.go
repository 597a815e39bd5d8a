package obslog

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger = zap.NewNop()

// L returns the process logger. It discards everything until InitFromEnv or Set runs.
func L() *zap.Logger { return logger }

// Set installs l as the process logger; nil restores the no-op logger.
func Set(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	logger = l
}

// Sync flushes buffered entries. Syncing stdout fails on some platforms, so the error is dropped.
func Sync() { _ = logger.Sync() }

// Options selects the sinks and encoding of the process logger.
type Options struct {
	Level   zapcore.Level
	Format  string // text, json or console
	Stdout  bool
	File    string // empty disables the file sink
	Caller  bool
	Service string
}

// OptionsFromEnv reads LOG_LEVEL, LOG_FORMAT, LOG_TO_CONSOLE, LOG_TO_FILE,
// LOG_FILE, LOG_CALLER and LOG_SERVICE. The file sink is opt-in.
func OptionsFromEnv() Options {
	o := Options{
		Level:   parseLevel(os.Getenv("LOG_LEVEL")),
		Format:  normalizeFormat(os.Getenv("LOG_FORMAT")),
		Stdout:  envBool("LOG_TO_CONSOLE", true),
		Caller:  envBool("LOG_CALLER", false),
		Service: strings.TrimSpace(os.Getenv("LOG_SERVICE")),
	}
	if envBool("LOG_TO_FILE", false) {
		o.File = strings.TrimSpace(os.Getenv("LOG_FILE"))
		if o.File == "" {
			o.File = filepath.Join("logs", "tarik.log")
		}
	}
	return o
}

// InitFromEnv builds the process logger from OptionsFromEnv.
func InitFromEnv() error {
	l, err := New(OptionsFromEnv())
	if err != nil {
		return err
	}
	Set(l)
	return nil
}

// New builds a logger for o. With no sink enabled it still writes to stdout.
func New(o Options) (*zap.Logger, error) {
	enc := encoder(o.Format)
	var cores []zapcore.Core
	if o.Stdout {
		cores = append(cores, zapcore.NewCore(enc, zapcore.Lock(os.Stdout), o.Level))
	}
	if o.File != "" {
		if dir := filepath.Dir(o.File); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("log dir: %w", err)
			}
		}
		f, err := os.OpenFile(o.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		cores = append(cores, zapcore.NewCore(enc.Clone(), zapcore.AddSync(f), o.Level))
	}
	if len(cores) == 0 {
		cores = append(cores, zapcore.NewCore(enc, zapcore.Lock(os.Stdout), o.Level))
	}

	opts := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	// the text layout has no other way to point at the emitting line
	if o.Caller || o.Format == "text" {
		opts = append(opts, zap.AddCaller())
	}
	l := zap.New(zapcore.NewTee(cores...), opts...)
	if o.Service != "" {
		l = l.With(zap.String("service", o.Service))
	}
	return l, nil
}

func encoder(format string) zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	switch format {
	case "json":
		cfg.EncodeLevel = zapcore.LowercaseLevelEncoder
		return zapcore.NewJSONEncoder(cfg)
	case "console":
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewConsoleEncoder(cfg)
	default:
		// 2006-01-02 15:04:05 | INFO | caller | room_join | {...}
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		cfg.ConsoleSeparator = " | "
		return zapcore.NewConsoleEncoder(cfg)
	}
}

// normalizeFormat maps unknown values and the old "legacy" name to text.
func normalizeFormat(s string) string {
	switch f := strings.ToLower(strings.TrimSpace(s)); f {
	case "json", "console":
		return f
	default:
		return "text"
	}
}

func parseLevel(s string) zapcore.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	lvl, err := zapcore.ParseLevel(s)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

func envBool(key string, def bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return def
	}
	return v
}
