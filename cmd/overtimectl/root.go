package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const defaultAddr = "http://127.0.0.1:6969"

type options struct {
	addr   string
	token  string
	asJSON bool
}

func (o *options) client() *apiClient {
	return newAPIClient(o.addr, o.token)
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	rootCmd := &cobra.Command{
		Use:           "overtimectl",
		Short:         "Control the overtime countdown",
		Long:          "overtimectl sets, starts, pauses and extends the overtime countdown, manages the chat connection and edits the conversion settings of a running service.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	addr := os.Getenv("OVERTIME_ADDR")
	if addr == "" {
		addr = defaultAddr
	}
	rootCmd.PersistentFlags().StringVar(&opts.addr, "addr", addr, "Service base URL (env OVERTIME_ADDR)")
	rootCmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("ADMIN_TOKEN"), "Admin token for mutating calls (env ADMIN_TOKEN)")
	rootCmd.PersistentFlags().BoolVar(&opts.asJSON, "json", false, "Render JSON output")

	rootCmd.AddCommand(
		newStatusCmd(opts),
		newSetCmd(opts),
		newStartCmd(opts),
		newPauseCmd(opts),
		newResetCmd(opts),
		newAddCmd(opts),
		newStatsCmd(opts),
		newDonateCmd(opts),
		newChatCmd(opts),
		newSettingsCmd(opts),
		newRemoteCmd(opts),
	)
	return rootCmd
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// render prints v as JSON when requested, otherwise the text from human.
func render(cmd *cobra.Command, opts *options, v any, human func() string) error {
	if opts.asJSON {
		return writeJSON(cmd, v)
	}
	_, err := fmt.Fprintln(cmd.OutOrStdout(), human())
	return err
}
