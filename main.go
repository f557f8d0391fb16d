package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/awnumar/memguard"

	"github.com/illarion/privkeep/cmd"
)

func main() {
	// Wipe locked buffers if the process is interrupted
	memguard.CatchInterrupt()
	defer memguard.Purge()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		stop()
		memguard.Purge()
		cmd.HandleError(err)
	}
}
