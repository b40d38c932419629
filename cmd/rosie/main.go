package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rosiehq/rosie/cmd/rosie/commands"
	"github.com/rosiehq/rosie/pkg/telemetry"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	setupLogging(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := commands.Execute(ctx, Version, Commit, BuildDate)
	if ctx.Err() != nil {
		log.Warn().Msg("Interrupted, stopped after the resource in progress")
	}
	if err != nil {
		log.Error().Err(err).Int("exit_code", commands.ExitCode(err)).Msg("Command execution failed")
	}
	return commands.ExitCode(err)
}

// setupLogging installs the global logger. Scheduled runs set LOG_FORMAT=json
// so that aggregators can parse the run and kind fields.
func setupLogging(level, format string) {
	if format == "" {
		format = "console"
	}
	// Filtering happens on the global level so that --verbose can lower it.
	logger := telemetry.NewLoggerTo(os.Stderr, telemetry.LoggingConfig{Level: "trace", Format: format})
	log.Logger = logger.Zerolog()
	zerolog.SetGlobalLevel(telemetry.ParseLevel(level))
}
