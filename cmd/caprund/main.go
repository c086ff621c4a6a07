package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"

	"caprun/internal/app"
	"caprun/internal/jobs"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	registerBuiltins(a)

	if err := a.Start(ctx); err != nil {
		fmt.Println("fatal start:", err)
		os.Exit(1)
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	select {
	case <-ctx.Done():
	case <-a.Done():
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	_ = a.Stop()
}

// registerBuiltins installs the handlers every deployment gets. Real handlers
// are registered here too; the daemon only executes what it knows by name.
func registerBuiltins(a *app.App) {
	// heartbeat does nothing; its completion record in the store is the
	// liveness signal (pair it with a cron entry).
	_ = a.Handlers().Register("heartbeat", func(ctx context.Context, job jobs.Job) error {
		return nil
	})
}
