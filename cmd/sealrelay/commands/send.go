package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// send <peer> <message>: encrypt, enqueue durably, then try to flush the
// queue before the process exits. Anything not sent stays queued for the
// next flush.
func sendCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "send <peer> <message>",
		Short: "Encrypt and send a message to a peer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := appCtx.Connect()
			if err != nil {
				return err
			}
			m, err := sess.Messages.Send(cmd.Context(), args[0], "text", []byte(args[1]))
			if err != nil {
				return err
			}
			sent, err := sess.Scheduler.Flush(cmd.Context(), timeout)
			if err != nil {
				fmt.Printf("queued %s (flush incomplete: %v)\n", m.ID, err)
				return nil
			}
			if sent > 0 {
				fmt.Printf("sent %s\n", m.ID)
			} else {
				fmt.Printf("queued %s\n", m.ID)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "flush deadline")
	return cmd
}

func pendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List queued messages awaiting confirmed send",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := appCtx.Messages.AllPending()
			if err != nil {
				return err
			}
			for _, e := range entries {
				state := "retrying"
				if e.Failed {
					state = "failed"
				}
				fmt.Printf("%s  attempts=%d  next=%s  %s", e.MessageID, e.RetryCount,
					time.UnixMilli(e.NextRetryAt).Format(time.RFC3339), state)
				if e.LastError != "" {
					fmt.Printf("  (%s)", e.LastError)
				}
				fmt.Println()
			}
			if len(entries) == 0 {
				fmt.Println("queue empty")
			}
			return nil
		},
	}
}

func flushCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "flush",
		Short: "Attempt every queued message once, ignoring backoff timers",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := appCtx.Connect()
			if err != nil {
				return err
			}
			sent, err := sess.Scheduler.Flush(cmd.Context(), timeout)
			if err != nil {
				return err
			}
			fmt.Printf("flushed %d message(s)\n", sent)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "hard wall-clock deadline")
	return cmd
}
