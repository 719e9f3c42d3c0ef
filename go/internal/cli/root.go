// Package cli is the headless room client.
package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mcdev12/focusroom/go/internal/config"
	"github.com/mcdev12/focusroom/go/internal/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	config.Client
}

// NewRootCommand creates the root command. Flag defaults come from the environment.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{Client: config.NewClientFromEnv()}

	cmd := &cobra.Command{
		Use:   "roomclient",
		Short: "Join a focus room from the terminal",
		Long:  "Share a pomodoro countdown with everyone in a room.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !strings.HasPrefix(opts.WSURL, "ws://") && !strings.HasPrefix(opts.WSURL, "wss://") {
				return fmt.Errorf("invalid websocket url %q: must start with ws:// or wss://", opts.WSURL)
			}
			logging.Init(opts.Env, opts.LogLevel)
			return nil
		},
		SilenceUsage: true,
	}

	// Global flags
	cmd.PersistentFlags().StringVar(&opts.APIURL, "api", opts.APIURL, "room API base url")
	cmd.PersistentFlags().StringVar(&opts.WSURL, "ws", opts.WSURL, "websocket base url")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", opts.LogLevel, "log level")

	cmd.AddCommand(NewJoinCommand(opts))
	cmd.AddCommand(NewCreateCommand(opts))
	cmd.AddCommand(NewShareCommand(opts))

	return cmd
}
