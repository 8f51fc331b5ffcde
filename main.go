// ABOUTME: Entry point for the QBZ Connect renderer
// ABOUTME: Loads configuration, wires the app, and maps failures to exit codes
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/qbz-connect/renderer/internal/app"
	"github.com/qbz-connect/renderer/internal/config"
)

const (
	exitConfig  = 1
	exitAuth    = 2
	exitRuntime = 3
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfig)
	}

	a, err := app.New(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfig)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, app.ErrAuth) {
			os.Exit(exitAuth)
		}
		os.Exit(exitRuntime)
	}
}
