package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"sealrelay/internal/app"
	"sealrelay/pkg/logger"
)

var (
	home       string
	passphrase string
	relayURL   string
	logLevel   string

	appCtx *app.App
)

func Execute() error {
	root := &cobra.Command{
		Use:           "sealrelay",
		Short:         "End-to-end encrypted messaging CLI",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := logger.Configure(os.Stderr, logLevel); err != nil {
				return err
			}
			if passphrase == "" {
				return fmt.Errorf("passphrase required (-p)")
			}
			if home == "" {
				dir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				home = filepath.Join(dir, ".sealrelay")
			}
			if err := os.MkdirAll(home, 0o700); err != nil {
				return err
			}

			var err error
			appCtx, err = app.New(app.Config{
				Home:       home,
				RelayURL:   relayURL,
				Passphrase: passphrase,
			})
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if appCtx != nil {
				return appCtx.Close()
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "config dir (default ~/.sealrelay)")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting the local key store")
	root.PersistentFlags().StringVar(&relayURL, "relay", "", "server base URL (e.g. http://127.0.0.1:8080)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warning", "log level (debug, info, notice, warning, error)")

	root.AddCommand(
		initCmd(),
		registerCmd(),
		rotateCmd(),
		fingerprintCmd(),
		sendCmd(),
		recvCmd(),
		pendingCmd(),
		flushCmd(),
		resetCmd(),
	)
	return root.Execute()
}
