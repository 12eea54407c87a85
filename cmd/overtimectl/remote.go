package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/onnwee/overtime-timer/backend/timer"
)

type remoteView struct {
	RemainingTime       int   `json:"remainingTime"`
	IsRunning           bool  `json:"isRunning"`
	LastUpdate          int64 `json:"lastUpdate"`
	ActualRemainingTime int   `json:"actualRemainingTime"`
	ServerTime          int64 `json:"serverTime"`
}

func newRemoteCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Inspect the remote-sync mirror",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var v remoteView
			if err := opts.client().do(cmd.Context(), http.MethodGet, "/api/timer", nil, &v); err != nil {
				return err
			}
			return render(cmd, opts, v, func() string {
				state := "stopped"
				if v.IsRunning {
					state = "running"
				}
				return fmt.Sprintf("%s  %s  (stored %s)", timer.FormatClock(v.ActualRemainingTime), state, timer.FormatClock(v.RemainingTime))
			})
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Zero the mirrored state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var res struct {
				Success bool `json:"success"`
			}
			if err := opts.client().do(cmd.Context(), http.MethodPost, "/api/timer/reset", nil, &res); err != nil {
				return err
			}
			return render(cmd, opts, res, func() string { return "remote timer reset" })
		},
	})
	return cmd
}
