package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcdev12/focusroom/go/clients/roomapi"
	"github.com/mcdev12/focusroom/go/internal/config"
	"github.com/mcdev12/focusroom/go/internal/models"
	"github.com/mcdev12/focusroom/go/internal/realtime"
	"github.com/mcdev12/focusroom/go/internal/room"
)

// JoinOptions holds flags for the join command.
type JoinOptions struct {
	*RootOptions
}

// NewJoinCommand creates the join command.
func NewJoinCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &JoinOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "join <room-id>",
		Short: "Join a room and control its timer from stdin",
		Long: `Join a room and read commands from stdin until quit or EOF.

Commands:
  start | pause | reset
  change <minutes> [work|break]
  status | users | history [n] | room
  quit

Example:
  roomclient join --user ada focus-101`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJoin(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.UserName, "user", opts.UserName, "display name (required)")
	cmd.Flags().StringVar(&opts.PolicyFile, "policy", opts.PolicyFile, "YAML timer and reconnect policy")

	return cmd
}

func runJoin(cmd *cobra.Command, opts *JoinOptions, roomID string) error {
	if opts.UserName == "" {
		return fmt.Errorf("a user name is required: pass --user or set FOCUSROOM_USER")
	}

	policy, err := config.LoadPolicy(opts.PolicyFile)
	if err != nil {
		return err
	}

	connConfig := realtime.DefaultConnectionConfig(opts.WSURL)
	connConfig.Backoff = policy.Backoff

	session := room.NewSession(room.SessionConfig{
		RoomID:     roomID,
		UserName:   opts.UserName,
		Connection: connConfig,
		Policy:     policy.Timer,
	}, roomapi.NewClient(opts.APIURL))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	con := newConsole(cmd.OutOrStdout())
	session.Store().OnChange(func(a models.RoomActivity) {
		con.printf("* %s\n", formatActivity(a))
	})

	if err := session.Open(ctx); err != nil {
		return fmt.Errorf("open room %s: %w", roomID, err)
	}
	con.printf("joined %s as %s\n", roomID, opts.UserName)

	runErr := con.run(ctx, session, cmd.InOrStdin())

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := session.Close(closeCtx); err != nil {
		con.printf("leave failed: %v\n", err)
	}
	return runErr
}
