package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func registerCmd() *cobra.Command {
	var oneTimeCount int
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Upload the key bundle to the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := appCtx.Connect()
			if err != nil {
				return err
			}
			if err := sess.Keyring.Register(cmd.Context(), oneTimeCount); err != nil {
				return err
			}
			fmt.Println("registered")
			return nil
		},
	}
	cmd.Flags().IntVar(&oneTimeCount, "prekeys", 20, "number of one-time prekeys to upload")
	return cmd
}

func rotateCmd() *cobra.Command {
	var (
		ifDue   bool
		history bool
	)
	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Rotate the signed prekey",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := appCtx.Connect()
			if err != nil {
				return err
			}
			if history {
				events, err := sess.Keyring.RotationHistory(cmd.Context())
				if err != nil {
					return err
				}
				for _, e := range events {
					fmt.Printf("version %d at %s\n", e.KeyVersion,
						time.UnixMilli(e.RotatedAt).Format(time.RFC3339))
				}
				return nil
			}
			if ifDue {
				rotated, err := sess.Keyring.RotateIfDue(cmd.Context())
				if err != nil {
					return err
				}
				if !rotated {
					fmt.Println("not due yet")
					return nil
				}
			} else if err := sess.Keyring.Rotate(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("rotated")
			return nil
		},
	}
	cmd.Flags().BoolVar(&ifDue, "if-due", false, "rotate only when the cadence has elapsed")
	cmd.Flags().BoolVar(&history, "history", false, "show past rotations instead of rotating")
	return cmd
}
