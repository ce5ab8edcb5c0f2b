package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// reset <peer>: drop the ratchet state for a conversation. The next send
// bootstraps a fresh session, which is the recovery path when a peer can no
// longer decrypt us (reinstall, lost state).
func resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <peer>",
		Short: "Drop the session with a peer and start fresh on next send",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := appCtx.Connect()
			if err != nil {
				return err
			}
			if err := sess.Engine.ResetSession(args[0]); err != nil {
				return err
			}
			fmt.Printf("session with %s reset\n", args[0])
			return nil
		},
	}
}
