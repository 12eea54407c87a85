package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/onnwee/overtime-timer/backend/chat"
)

func describeChat(s chat.ConnectionStatus) string {
	if s.ChannelName == "" {
		return string(s.State)
	}
	line := fmt.Sprintf("#%s %s", s.ChannelName, s.State)
	if s.ReconnectAttempts > 0 {
		line += fmt.Sprintf(" (reconnect attempt %d)", s.ReconnectAttempts)
	}
	return line
}

func newChatCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Manage the Twitch chat connection",
	}

	status := func(method, path string, body any) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			var st chat.ConnectionStatus
			if err := opts.client().do(cmd.Context(), method, path, body, &st); err != nil {
				return err
			}
			return render(cmd, opts, st, func() string { return describeChat(st) })
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Show the connection state",
			Args:  cobra.NoArgs,
			RunE:  status(http.MethodGet, "/api/chat", nil),
		},
		&cobra.Command{
			Use:   "connect <channel>",
			Short: "Join a channel's chat",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return status(http.MethodPost, "/api/chat/connect", map[string]string{"channel": args[0]})(cmd, args)
			},
		},
		&cobra.Command{
			Use:   "disconnect",
			Short: "Leave chat and stop reconnecting",
			Args:  cobra.NoArgs,
			RunE:  status(http.MethodPost, "/api/chat/disconnect", nil),
		},
	)
	return cmd
}
