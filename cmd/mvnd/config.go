package main

import (
	"fmt"
	"os"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/charlie0129/mvnd/pkg/config"
)

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "config",
		Short:       "Inspect or create the config file",
		GroupID:     gAdvanced,
		Annotations: map[string]string{skipVersionCheck: ""},
	}

	force := false
	initCmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a config file with every default filled in",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipVersionCheck: ""},
		RunE: func(_ *cobra.Command, _ []string) error {
			if _, err := os.Stat(configPath); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", configPath)
			}
			f := config.NewFileFromConfig(config.NewFileFromConfig(nil, configPath).Resolved(), configPath)
			if err := f.Save(); err != nil {
				return pkgerrors.Wrapf(err, "failed to save config")
			}
			logrus.Infof("config written to %s", configPath)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")

	showCmd := &cobra.Command{
		Use:         "show",
		Short:       "Print the effective configuration, including environment overrides",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipVersionCheck: ""},
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := config.NewFile(configPath)
			if err != nil {
				return err
			}
			if _, err := f.DriverConfiguration(); err != nil {
				logrus.WithError(err).Warn("configuration is invalid")
			}
			b, err := yaml.Marshal(f.Resolved())
			if err != nil {
				return err
			}
			cmd.Print(string(b))
			return nil
		},
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}
