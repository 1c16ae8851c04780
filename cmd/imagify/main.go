package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root, c := newRootCmd(os.Stdout)
	err := root.ExecuteContext(ctx)
	if closeErr := c.close(); closeErr != nil {
		fmt.Fprintf(os.Stderr, "shutdown: %v\n", closeErr)
	}
	if err != nil {
		stop()
		os.Exit(1)
	}
}
