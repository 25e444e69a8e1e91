package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/gtsfield/relay/internal/client"
	"github.com/gtsfield/relay/internal/state"
)

func main() {
	configPath := flag.String("config", "relay-client.yaml", "path to config file")
	flag.Parse()

	// Set up logging
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger()

	// Load configuration
	cfg, err := client.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if level, err := zerolog.ParseLevel(cfg.Log.Level); err == nil {
		log = log.Level(level)
	}

	// Open persisted client state
	db, err := state.InitDatabase(cfg.State.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open state database")
	}
	defer func() { _ = db.Close() }()

	store := state.Open(db, log)

	sess, err := client.NewSession(cfg, store, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create session")
	}

	ctx, cancel := context.WithCancel(context.Background())

	// Handle shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info().Msg("shutting down...")
		cancel()
	}()

	sess.Run(ctx)
	log.Info().Msg("stopped")
}
