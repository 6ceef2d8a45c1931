// goftp - command-line client for FTP, FTPS and SFTP servers
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/darshan-rambhia/goftp/internal/cli"
)

// Version is injected at build time with -ldflags "-X main.Version=...".
var Version = "v0.1.0-dev"

func main() {
	cli.Version = Version

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.Execute(ctx); err != nil {
		os.Exit(1)
	}
}
