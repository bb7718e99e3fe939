package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/porterline/internal/alerts"
	"github.com/zulandar/porterline/internal/assign"
	"github.com/zulandar/porterline/internal/cycletime"
	"github.com/zulandar/porterline/internal/db"
	"github.com/zulandar/porterline/internal/eventbus"
	"github.com/zulandar/porterline/internal/lifecycle"
	"github.com/zulandar/porterline/internal/notify"
	"github.com/zulandar/porterline/internal/presence"
	"github.com/zulandar/porterline/internal/scheduler"
	"github.com/zulandar/porterline/internal/server"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dispatch engine",
		Long:  "Starts the HTTP API, the event stream, and the periodic dispatch tasks. Runs until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "porterline.yaml", "path to Porterline config file")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	if err := db.SeedSettings(gormDB); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := eventbus.NewFanout()
	defer bus.Close()
	acks := cycletime.NewMemoryAcks()
	dismissals := alerts.NewDismissals()

	if cfg.Slack.Token != "" {
		notifier, err := notify.New(notify.Opts{Token: cfg.Slack.Token, Channel: cfg.Slack.Channel})
		if err != nil {
			return err
		}
		go notifier.Run(ctx, bus)
		fmt.Fprintf(out, "Slack alerts enabled for channel %s\n", cfg.Slack.Channel)
	}

	runner := scheduler.NewRunner()
	d := cfg.Dispatch
	tasks := []scheduler.Task{
		{Name: "auto_assign", Every: d.AutoAssignInterval(), Run: func(ctx context.Context) error {
			return assign.SweepAcceptanceTimeouts(gormDB, bus, d.AcceptanceTimeout(), dismissals)
		}},
		{Name: "presence", Every: d.PresenceInterval(), Run: func(ctx context.Context) error {
			if err := presence.SweepHeartbeats(gormDB, bus, d.HeartbeatTimeout(), dismissals); err != nil {
				return err
			}
			return presence.SweepBreaks(gormDB, bus, d.BreakLimit(), dismissals)
		}},
		{Name: "cycle_alerts", Every: d.CycleAlertInterval(), Run: func(ctx context.Context) error {
			return cycletime.SweepAlerts(gormDB, bus, acks, d.OveragePercent)
		}},
		{Name: "cycle_averages", Cron: d.AverageSchedule, Run: func(ctx context.Context) error {
			return cycletime.RecomputeAverages(gormDB, cfg.Floors, d.AverageSampleSize)
		}},
		{Name: "pct_autoclose", Every: d.AutoAssignInterval(), Run: func(ctx context.Context) error {
			return lifecycle.SweepPctAutoclose(gormDB, bus, d.PctAutocloseDelay())
		}},
	}
	for _, task := range tasks {
		if err := runner.Add(ctx, task); err != nil {
			return err
		}
	}
	fmt.Fprintf(out, "Started %d periodic tasks\n", len(tasks))

	err = server.Start(ctx, server.StartOpts{
		DB:         gormDB,
		Bus:        bus,
		Acks:       acks,
		Dismissals: dismissals,
		Port:       cfg.Server.Port,
		Out:        out,
	})

	runner.StopAll()
	runner.Wait()
	fmt.Fprintln(out, "Porterline stopped")
	return err
}
