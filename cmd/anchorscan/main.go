package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/xab-mack/anchorscan/internal/app"
	"github.com/xab-mack/anchorscan/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := app.BuildRoot().ExecuteContext(ctx)
	stop()
	if err == nil {
		return
	}
	var exit *cli.ExitError
	if errors.As(err, &exit) {
		os.Exit(exit.Code)
	}
	os.Exit(1)
}
