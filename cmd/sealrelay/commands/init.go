package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func initCmd() *cobra.Command {
	var (
		userID   string
		deviceID int
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate identity keys and store them encrypted",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := appCtx.IDs.Generate(userID, deviceID)
			if err != nil {
				return err
			}
			fmt.Printf("Identity created for %s (device %d).\nFingerprint: %s\n",
				id.UserID, id.DeviceID, appCtx.IDs.Fingerprint(id))
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "your user id")
	cmd.Flags().IntVar(&deviceID, "device", 1, "device id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func fingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint",
		Short: "Show the identity key fingerprint",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := appCtx.IDs.Load()
			if err != nil {
				return err
			}
			fmt.Println(appCtx.IDs.Fingerprint(id))
			return nil
		},
	}
}
