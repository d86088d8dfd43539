package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"fitsync/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fitsync: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
