package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"edcomposer/internal/compositions"
	"edcomposer/internal/config"
	"edcomposer/internal/pkg/logger"
	"edcomposer/internal/tui"
)

func main() {
	os.Exit(run())
}

func run() int {
	topic := flag.String("topic", "", "topic passed to the composition as its prompt")
	compositionID := flag.String("composition", compositions.DefaultID, "composition to render")
	configPath := flag.String("config", "", "path to a TOML config file (default $EDCOMPOSER_CONFIG)")
	logPath := flag.String("log", "", "write JSON logs to this file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "edrender: %v\n", err)
		return 1
	}

	log := logger.Discard()
	if *logPath != "" {
		f, err := os.OpenFile(*logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "edrender: %v\n", err)
			return 1
		}
		defer f.Close()
		lc := cfg.Logger("edrender")
		lc.Format = "json"
		lc.Output = f
		log = logger.New(lc)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err = tui.Run(ctx, tui.Options{
		Config:        cfg,
		CompositionID: *compositionID,
		Topic:         *topic,
		Out:           os.Stdout,
		Log:           log,
	})
	switch {
	case err == nil:
		return 0
	case errors.Is(err, tui.ErrCancelled):
		return 130
	default:
		fmt.Fprintf(os.Stderr, "edrender: %v\n", err)
		return 1
	}
}
