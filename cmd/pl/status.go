package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/porterline/internal/lifecycle"
	"github.com/zulandar/porterline/internal/models"
	"github.com/zulandar/porterline/internal/roster"
	"gorm.io/gorm"
)

func newStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show dispatch status",
		Long:  "Displays active transport requests, worker presence counts, and the dispatcher roster.",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			return runStatus(cmd, gormDB)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "porterline.yaml", "path to Porterline config file")
	return cmd
}

func runStatus(cmd *cobra.Command, gormDB *gorm.DB) error {
	out := cmd.OutOrStdout()

	var active []models.TransportRequest
	err := gormDB.Where("status NOT IN ?", lifecycle.TerminalStatuses).
		Order("created_at ASC").Find(&active).Error
	if err != nil {
		return fmt.Errorf("status: load requests: %w", err)
	}

	fmt.Fprintf(out, "Active requests: %d\n", len(active))
	for _, r := range active {
		assignee := r.AssignedTo
		if assignee == "" {
			assignee = "-"
		}
		fmt.Fprintf(out, "  %s  floor %-3s room %-6s %-8s %-12s %s\n",
			r.ID, r.OriginFloor, r.RoomNumber, r.Priority, r.Status, assignee)
	}

	type presenceCount struct {
		Status string
		N      int64
	}
	var counts []presenceCount
	err = gormDB.Model(&models.WorkerPresence{}).
		Select("status, count(*) as n").Group("status").Order("status ASC").
		Scan(&counts).Error
	if err != nil {
		return fmt.Errorf("status: load presence: %w", err)
	}

	fmt.Fprintln(out, "\nWorker presence:")
	if len(counts) == 0 {
		fmt.Fprintln(out, "  (no workers)")
	}
	for _, c := range counts {
		fmt.Fprintf(out, "  %-12s %d\n", c.Status, c.N)
	}

	sessions, err := roster.ActiveSessions(gormDB)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "\nDispatcher roster:")
	if len(sessions) == 0 {
		fmt.Fprintln(out, "  (no active sessions)")
	}
	for _, s := range sessions {
		role := "assistant"
		if s.IsPrimary {
			role = "primary"
		}
		if s.OnBreak {
			role += " (on break)"
		}
		fmt.Fprintf(out, "  %-12s %s since %s\n", s.WorkerID, role, s.StartedAt.Format("15:04"))
	}
	return nil
}
