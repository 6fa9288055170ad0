package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"attendcal/internal/importer"
	appLog "attendcal/internal/log"
	"attendcal/internal/scheduler"
	"attendcal/internal/web"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var syncOnStart bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the daily import scheduler and the admin HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts, syncOnStart)
		},
	}
	cmd.Flags().BoolVar(&syncOnStart, "sync-on-start", false, "import every year once before waiting for the schedule")

	return cmd
}

func runServe(parent context.Context, opts *rootOptions, syncOnStart bool) error {
	appLog.Info("attendcal starting", "version", version)

	conf, err := loadConfig(opts)
	if err != nil {
		return err
	}

	st, err := openStore(conf)
	if err != nil {
		return err
	}
	defer st.Close()

	svc := importer.New(conf, st, st)
	sched, err := scheduler.New(svc, conf.Schedule, svc.Parser.Location)
	if err != nil {
		return err
	}

	// Root context with cancellation on SIGINT/SIGTERM.
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if syncOnStart {
		svc.SyncAll(ctx)
	}
	sched.Start()

	srv := web.NewServer(conf, sched, svc)
	serveErr := srv.Serve(ctx)
	if ctx.Err() != nil {
		appLog.Info("signal received, shutting down")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sched.Stop(stopCtx)

	appLog.Info("attendcal exiting")
	return serveErr
}
