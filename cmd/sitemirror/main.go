package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"sitemirror/cmd/sitemirror/app"
	"sitemirror/internal/limiter"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	httpClient := &http.Client{}
	clock := limiter.NewClock()

	err := app.Run(ctx, os.Args, os.Stdout, os.Stderr, httpClient, clock)
	stop()

	code := app.ExitCode(err)
	if code == app.ExitError {
		log.Print(err)
	}

	os.Exit(code)
}
