// Package main is the entrypoint for the roomchat terminal client.
// It joins the single chat room of a chat server after logging in.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aelexs/roomchat/internal/chatclient/app"
	"github.com/aelexs/roomchat/internal/chatclient/port"
	"github.com/aelexs/roomchat/internal/config"
	"github.com/aelexs/roomchat/internal/lifecycle"
)

// flagOverrides holds command-line values; only flags the user set win
// over the environment.
type flagOverrides struct {
	socketServerURL string
	apiBaseURL      string
	authCode        string
	logFile         string
	logLevel        string
	restoreDraft    bool
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var flags flagOverrides

	cmd := &cobra.Command{
		Use:   "roomchat",
		Short: "Terminal client for a single-room realtime chat",
		Long: `roomchat logs in (or registers) against the chat server's account API,
joins its chat room over a websocket and shows the room live.

Configuration comes from CHAT_* environment variables; flags override them.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return lifecycle.Run(cmd.Context(), lifecycle.Params{
				Name:      "roomchat",
				Configure: flags.apply(cmd),
				UI: func(ctx context.Context, session *app.Manager) error {
					return port.Run(ctx, session)
				},
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.socketServerURL, "server", "", "Realtime server URL (ws:// or wss://)")
	f.StringVar(&flags.apiBaseURL, "api", "", "Auth API base URL (http:// or https://)")
	f.StringVar(&flags.authCode, "auth-code", "", "Registration authentication code")
	f.StringVar(&flags.logFile, "log-file", "", "Log file path")
	f.StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	f.BoolVar(&flags.restoreDraft, "restore-draft", false, "Restore typed text when a send fails")

	return cmd
}

// apply returns a config hook copying every flag the user set.
func (o *flagOverrides) apply(cmd *cobra.Command) func(cfg *config.Config) {
	return func(cfg *config.Config) {
		changed := cmd.Flags().Changed
		if changed("server") {
			cfg.SocketServerURL = o.socketServerURL
		}
		if changed("api") {
			cfg.APIBaseURL = o.apiBaseURL
		}
		if changed("auth-code") {
			cfg.AuthCode = o.authCode
		}
		if changed("log-file") {
			cfg.LogFile = o.logFile
		}
		if changed("log-level") {
			cfg.LogLevel = o.logLevel
		}
		if changed("restore-draft") {
			cfg.RestoreDraftOnFailure = o.restoreDraft
		}
	}
}
