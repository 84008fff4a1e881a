package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	EnvLogLevel   = "TAIGA_LOG_LEVEL"
	EnvLogFormat  = "TAIGA_LOG_FORMAT"
	EnvLogNoColor = "TAIGA_LOG_NOCOLOR"

	FormatConsole = "console"
	FormatJSON    = "json"
)

type Profile int

const (
	// ProfileRuntime is the interactive CLI profile: console output, info level.
	ProfileRuntime Profile = iota
	// ProfileService is the daemon profile: JSON output, info level.
	ProfileService
	// ProfileTest is the test profile: console output, debug level, no timestamps.
	ProfileTest
)

type Config struct {
	Level     zerolog.Level
	Format    string
	Timestamp bool
	NoColor   bool
}

var configureOnce sync.Once

func ConfigureRuntime() {
	Configure(ProfileRuntime)
}

func ConfigureService() {
	Configure(ProfileService)
}

func ConfigureTests() {
	Configure(ProfileTest)
}

func Configure(profile Profile) {
	configureOnce.Do(func() {
		cfg := defaultConfig(profile)
		applyEnvOverrides(&cfg)
		apply(cfg)
	})
}

// ConfigureWith layers file-level overrides between the profile defaults
// and the TAIGA_LOG_* environment overrides. Unknown level or format
// strings are ignored.
func ConfigureWith(profile Profile, level, format string) {
	configureOnce.Do(func() {
		cfg := defaultConfig(profile)
		if lvl, ok := parseLevel(level); ok {
			cfg.Level = lvl
		}
		if f, ok := parseFormat(format); ok {
			cfg.Format = f
		}
		applyEnvOverrides(&cfg)
		apply(cfg)
	})
}

// Component derives a sub-logger tagged with one component name.
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

func defaultConfig(profile Profile) Config {
	switch profile {
	case ProfileService:
		return Config{Level: zerolog.InfoLevel, Format: FormatJSON, Timestamp: true}
	case ProfileTest:
		return Config{Level: zerolog.DebugLevel, Format: FormatConsole, Timestamp: false, NoColor: true}
	default:
		return Config{Level: zerolog.InfoLevel, Format: FormatConsole, Timestamp: true}
	}
}

func apply(cfg Config) {
	zerolog.TimeFieldFormat = time.RFC3339

	var out io.Writer = os.Stderr
	if cfg.Format == FormatConsole {
		out = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
			NoColor:    cfg.NoColor,
		}
	}

	ctx := zerolog.New(out).Level(cfg.Level).With()
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}
	log.Logger = ctx.Logger()
}

func applyEnvOverrides(cfg *Config) {
	if lvl, ok := parseLevel(os.Getenv(EnvLogLevel)); ok {
		cfg.Level = lvl
	}
	if format, ok := parseFormat(os.Getenv(EnvLogFormat)); ok {
		cfg.Format = format
	}
	if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
		cfg.NoColor = v
	}
}

func parseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace", "diagnostics":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "disable", "off", "none", "inactive":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseFormat(raw string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case FormatConsole:
		return FormatConsole, true
	case FormatJSON:
		return FormatJSON, true
	default:
		return "", false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
