// Command dmboxd serves the dmbox direct-messaging HTTP API.
//
// Usage:
//
//	dmboxd [serve]        run the API server (default)
//	dmboxd migrate [down] apply or revert postgres migrations
//	dmboxd healthcheck    probe a running server's /healthz
//
// Configuration is read from DMBOX_* environment variables and an
// optional .env file.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rbaliyan/dmbox/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := app.Run(ctx, os.Stdout, os.Args[1:])
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "dmboxd: %v\n", err)
		os.Exit(1)
	}
}
