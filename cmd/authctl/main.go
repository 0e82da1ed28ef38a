package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/aussiebroadwan/authsession/internal/authctl/app"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := app.LoadConfig()

	application, err := app.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize application: %v\n", err)
		return 1
	}
	defer func() { _ = application.Close() }()

	if err := application.Run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "authctl: %v\n", err)
		if errors.Is(err, app.ErrUsage) {
			return 2
		}
		return 1
	}
	return 0
}
