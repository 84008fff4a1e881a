package testlog

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/taigalab/taigactl/internal/logging"
)

// Start routes global log output through the test for the test's lifetime.
func Start(t *testing.T) {
	t.Helper()
	logging.ConfigureTests()
	prev := log.Logger
	log.Logger = zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.DebugLevel)
	t.Cleanup(func() { log.Logger = prev })
	log.Debug().Str("test", t.Name()).Msg("test logging started")
}
