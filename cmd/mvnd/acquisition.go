package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func NewAcquisitionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "acquisition",
		Aliases: []string{"acq", "record"},
		Short:   "Start or stop streaming data from the suit",
		GroupID: gSuit,
		Long: `Start or stop streaming data from the suit.

The suit must be calibrated to a quality at or above the minimum before an acquisition can start.`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "start",
			Short: "Start an acquisition run",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				runID, err := apiClient.StartAcquisition()
				if err != nil {
					return fmt.Errorf("failed to start acquisition: %w", err)
				}
				logrus.WithField("run", runID).Info("acquisition started")
				cmd.Println(runID)
				return nil
			},
		},
		&cobra.Command{
			Use:   "stop",
			Short: "Stop the acquisition run",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				if _, err := apiClient.StopAcquisition(); err != nil {
					return fmt.Errorf("failed to stop acquisition: %w", err)
				}
				logrus.Info("acquisition stopped")
				return nil
			},
		},
	)

	return cmd
}
