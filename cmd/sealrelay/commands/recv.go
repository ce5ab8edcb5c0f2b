package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// recv <peer>: pull new messages for the conversation, print the ones that
// decrypt, and fold in any delivery/read receipts for our own sends.
func recvCmd() *cobra.Command {
	var markRead bool
	cmd := &cobra.Command{
		Use:   "recv <peer>",
		Short: "Fetch and decrypt new messages from a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := appCtx.Connect()
			if err != nil {
				return err
			}
			incoming, err := sess.Messages.Receive(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, in := range incoming {
				ts := time.UnixMilli(in.Message.ClientTimestamp).Format(time.RFC3339)
				if in.Message.Undecryptable {
					fmt.Printf("[%s] %s: <undecryptable message, reset the session to recover>\n",
						ts, in.Message.SenderID)
					continue
				}
				fmt.Printf("[%s] %s: %s\n", ts, in.Message.SenderID, in.Plaintext)
			}
			if len(incoming) == 0 {
				fmt.Println("no new messages")
			} else if markRead {
				ids := make([]string, 0, len(incoming))
				for _, in := range incoming {
					if in.Message.Undecryptable {
						continue
					}
					ids = append(ids, in.Message.ID)
				}
				if len(ids) > 0 {
					if err := sess.Messages.MarkRead(cmd.Context(), ids); err != nil {
						return err
					}
				}
			}
			if _, err := sess.Poller.Poll(cmd.Context()); err != nil {
				fmt.Printf("receipt poll failed: %v\n", err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&markRead, "read", false, "send read receipts for fetched messages")
	return cmd
}
