package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/mvnd/pkg/config"
	daemonutils "github.com/charlie0129/mvnd/pkg/utils/daemon"
)

// NewInstallCommand .
func NewInstallCommand() *cobra.Command {
	allowNonRootAccess := false

	cmd := &cobra.Command{
		Use:         "install",
		Short:       "Install mvnd as a systemd service",
		GroupID:     gInstallation,
		Annotations: map[string]string{skipVersionCheck: ""},
		Long: `Install mvnd daemon as a systemd service (system-wide).

This makes mvnd run in the background and automatically start on boot. You must run this command as root.

By default, only root user is allowed to access the mvnd daemon. If you want to allow non-root users to access the daemon, use the --allow-non-root-access flag.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Make sure a config file exists so the service starts from a known state.
			if _, err := os.Stat(configPath); os.IsNotExist(err) {
				f := config.NewFileFromConfig(config.NewFileFromConfig(nil, configPath).Resolved(), configPath)
				if err := f.Save(); err != nil {
					return fmt.Errorf("failed to write default config: %w", err)
				}
				logrus.Infof("default config written to %s", configPath)
			}

			if allowNonRootAccess {
				logrus.Info("non-root users are allowed to access the mvnd daemon.")
			} else {
				logrus.Info("only root user is allowed to access the mvnd daemon.")
			}

			err := daemonutils.Install(daemonutils.UnitOptions{
				ConfigPath:         configPath,
				SocketPath:         unixSocketPath,
				AllowNonRootAccess: allowNonRootAccess,
			})
			if err != nil {
				// check if current user is root
				if os.Geteuid() != 0 {
					logrus.Errorf("you must run this command as root")
				}
				return fmt.Errorf("failed to install daemon: %v. Are you root?", err)
			}

			logrus.Infof("installation succeeded")

			exePath, _ := os.Executable()

			cmd.Printf("systemd will use current binary (%s) at startup so please make sure you do not move this binary. Once this binary is moved or deleted, you will need to run `mvnd install' again.\n", exePath)

			return nil
		},
	}

	cmd.Flags().BoolVar(&allowNonRootAccess, "allow-non-root-access", false, "Allow non-root users to access mvnd daemon.")

	return cmd
}

// NewUninstallCommand .
func NewUninstallCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "uninstall",
		Short:       "Uninstall the mvnd systemd service",
		GroupID:     gInstallation,
		Annotations: map[string]string{skipVersionCheck: ""},
		Long: `Uninstall mvnd daemon from systemd (system-wide).

This stops the daemon, which disconnects the suit, and removes the unit. You must run this command as root.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := daemonutils.Uninstall()
			if err != nil {
				// check if current user is root
				if os.Geteuid() != 0 {
					logrus.Errorf("you must run this command as root")
				}
				return fmt.Errorf("failed to uninstall daemon: %v", err)
			}

			fmt.Println("successfully uninstalled")

			cmd.Printf("Your config is kept in %s, in case you want to use `mvnd' again.\n", configPath)

			return nil
		},
	}
}
