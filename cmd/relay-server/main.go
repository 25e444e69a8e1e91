package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/gtsfield/relay/internal/broker"
	"github.com/gtsfield/relay/internal/relay"
)

func main() {
	// Set up logging
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger()

	// Load configuration
	cfg, err := relay.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The broker client is built here and injected into the hub; nothing
	// else in the process holds a broker reference.
	brokerClient := broker.New(cfg.Broker, log)
	hub := relay.NewHub(brokerClient, log)
	brokerClient.Handle(hub.HandleUplink)

	go hub.Run(ctx)

	// Connect in the background: the gateway accepts clients while the
	// broker link is still coming up, and publishes fail fast until then.
	go func() {
		if err := brokerClient.Connect(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("broker connect failed")
		}
	}()

	server := relay.New(cfg, hub, log)

	// Handle shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info().Msg("shutting down...")
		cancel()
		brokerClient.Close()
		os.Exit(0)
	}()

	// Run server
	if err := server.Run(); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}
