// Command cin7sync parses, validates and submits order files to Cin7 from
// the command line.
//
// Usage:
//
//	cin7sync parse orders.csv
//	cin7sync validate orders.csv --mapping mapping.yaml --preload
//	cin7sync submit orders.csv --mapping mapping.yaml
//	cin7sync ping
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	// Interrupting stops waiting; a started submission job is not cancelled
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
