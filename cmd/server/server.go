package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"kestrel/internal/engine"
	"kestrel/internal/net"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

func main() {
	address := flag.String("address", "0.0.0.0", "Address to listen on")
	port := flag.Int("port", 9001, "Port to listen on")
	instrument := flag.Uint("instrument", 1, "Instrument identifier served by this book")
	workers := flag.Uint("workers", 10, "Number of connection workers")
	level := flag.String("log-level", "info", "Log level: ['debug', 'info', 'warn', 'error']")
	pretty := flag.Bool("pretty", false, "Human readable console logs")
	flag.Parse()

	lvl, err := zerolog.ParseLevel(*level)
	if err != nil {
		log.Fatal().Err(err).Str("level", *level).Msg("invalid log level")
	}
	zerolog.SetGlobalLevel(lvl)
	if *pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	// Setup the TCP server and the matching engine.
	eng := engine.New(uint16(*instrument))
	srv := net.New(*address, *port, eng, *workers)
	eng.SetReporter(srv)

	t, ctx := tomb.WithContext(ctx)
	t.Go(func() error { return eng.Run(ctx) })
	t.Go(func() error { return srv.Run(ctx) })

	// Block on running the server.
	if err := t.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("exchange stopped")
	}
}
