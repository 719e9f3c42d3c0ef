package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mcdev12/focusroom/go/clients/roomapi"
)

// NewCreateCommand creates the create command.
func NewCreateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create [room-id]",
		Short: "Create a room, generating an id when none is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			roomID := ""
			if len(args) == 1 {
				roomID = args[0]
			}
			room, err := roomapi.NewClient(opts.APIURL).CreateRoom(cmd.Context(), roomID)
			if err != nil {
				return fmt.Errorf("create room: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), room.RoomID)
			return nil
		},
	}
}

// NewShareCommand creates the share command. With a link it stores it,
// without one it prints the stored link.
func NewShareCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "share <room-id> [link]",
		Short: "Store or print a room's shareable link",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := roomapi.NewClient(opts.APIURL)
			if len(args) == 2 {
				if err := client.StoreRoomURL(cmd.Context(), args[0], args[1]); err != nil {
					return fmt.Errorf("share room: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), args[1])
				return nil
			}
			link, err := client.FetchRoomURL(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("room url: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), link)
			return nil
		},
	}
}
