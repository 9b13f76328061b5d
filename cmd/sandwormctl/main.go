package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sandworm/sandworm/internal/cli/sandwormctl"
	"github.com/sandworm/sandworm/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := sandwormctl.Run(ctx, os.Args[1:], sandwormctl.Options{
		Lookup:         os.LookupEnv,
		UserConfigPath: config.DefaultUserConfigPath(),
		Stdout:         os.Stdout,
		Stderr:         os.Stderr,
	})
	stop()
	os.Exit(code)
}
