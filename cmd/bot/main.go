package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"

	"quizbot/internal/app"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to the config file")
	flag.Parse()

	a, err := app.New(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "startup failed:", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	err = a.Run(ctx)
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	if err != nil && ctx.Err() == nil {
		fmt.Fprintln(os.Stderr, "exited with error:", err)
		os.Exit(1)
	}
}
