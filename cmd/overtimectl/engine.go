package main

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/onnwee/overtime-timer/backend/chat"
	"github.com/onnwee/overtime-timer/backend/store"
	"github.com/onnwee/overtime-timer/backend/timer"
)

// parseSeconds accepts a plain number of seconds or a Go duration such as 1h30m.
func parseSeconds(s string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: use seconds or a duration like 10m", s)
	}
	return int(d / time.Second), nil
}

func describeSnapshot(s timer.Snapshot) string {
	line := fmt.Sprintf("%s  %s", s.Display, s.State)
	if s.Phase != timer.PhaseNormal {
		line += " (" + string(s.Phase) + ")"
	}
	return line
}

// snapshotCmd builds a command that calls the engine endpoint and prints the snapshot.
func snapshotCmd(opts *options, use, short, method, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var snap timer.Snapshot
			if err := opts.client().do(cmd.Context(), method, path, nil, &snap); err != nil {
				return err
			}
			return render(cmd, opts, snap, func() string { return describeSnapshot(snap) })
		},
	}
}

func newStatusCmd(opts *options) *cobra.Command {
	return snapshotCmd(opts, "status", "Show the countdown", http.MethodGet, "/api/engine")
}

func newStartCmd(opts *options) *cobra.Command {
	return snapshotCmd(opts, "start", "Start or resume the countdown", http.MethodPost, "/api/engine/start")
}

func newPauseCmd(opts *options) *cobra.Command {
	return snapshotCmd(opts, "pause", "Pause the countdown", http.MethodPost, "/api/engine/pause")
}

func newResetCmd(opts *options) *cobra.Command {
	return snapshotCmd(opts, "reset", "Restore the initial time", http.MethodPost, "/api/engine/reset")
}

func newSetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "set <duration>",
		Short: "Set the initial and remaining time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seconds, err := parseSeconds(args[0])
			if err != nil {
				return err
			}
			var snap timer.Snapshot
			if err := opts.client().do(cmd.Context(), http.MethodPost, "/api/engine/set", map[string]int{"seconds": seconds}, &snap); err != nil {
				return err
			}
			return render(cmd, opts, snap, func() string { return describeSnapshot(snap) })
		},
	}
}

func newAddCmd(opts *options) *cobra.Command {
	var points int
	cmd := &cobra.Command{
		Use:   "add <duration>",
		Short: "Add (or with a negative value remove) time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seconds, err := parseSeconds(args[0])
			if err != nil {
				return err
			}
			body := map[string]int{"seconds": seconds, "points": points}
			var snap timer.Snapshot
			if err := opts.client().do(cmd.Context(), http.MethodPost, "/api/engine/add", body, &snap); err != nil {
				return err
			}
			return render(cmd, opts, snap, func() string { return describeSnapshot(snap) })
		},
	}
	cmd.Flags().IntVar(&points, "points", 0, "Points to record in today's statistics")
	return cmd
}

func newStatsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show today's statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var stats store.DailyStats
			if err := opts.client().do(cmd.Context(), http.MethodGet, "/api/engine/stats", nil, &stats); err != nil {
				return err
			}
			return render(cmd, opts, stats, func() string {
				var b strings.Builder
				fmt.Fprintf(&b, "%s: %d points, %s added", stats.Date, stats.TotalPoints, timer.FormatClock(stats.TotalTimeAdded))
				for _, s := range stats.Sessions {
					fmt.Fprintf(&b, "\n  %s  +%ds  %d pts", time.UnixMilli(s.Timestamp).Format(time.TimeOnly), s.TimeAdded, s.Points)
				}
				return b.String()
			})
		},
	}
}

func newDonateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "donate <bits>",
		Short: "Convert a manual bits donation into time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bits, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid bits %q", args[0])
			}
			var res struct {
				Minutes      int               `json:"minutes"`
				Seconds      int               `json:"seconds"`
				Notification chat.Notification `json:"notification"`
			}
			if err := opts.client().do(cmd.Context(), http.MethodPost, "/api/donation", map[string]int{"bits": bits}, &res); err != nil {
				return err
			}
			return render(cmd, opts, res, func() string {
				return fmt.Sprintf("%s: %s", res.Notification.Title, res.Notification.Message)
			})
		},
	}
}
