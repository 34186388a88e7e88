package main

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/mvnd/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version",
		Annotations: map[string]string{skipVersionCheck: ""},
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("%s %s\n", version.Version, version.GitCommit)
		},
	}
}

func NewStatusCommand() *cobra.Command {
	asJSON := false

	cmd := &cobra.Command{
		Use:     "status",
		GroupID: gBasic,
		Short:   "Get the current status of the suit driver",
		Long:    `Get the driver status, calibration state, acquisition counters and recalibration schedule.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := apiClient.GetStatus()
			if err != nil {
				return fmt.Errorf("failed to get status: %w", err)
			}
			if asJSON {
				return printJSON(cmd, st)
			}

			cmd.Println(bold("Driver:"))
			cmd.Printf("  Status: %s\n", statusText(st.Status))
			cmd.Printf("  Calibrating: %s\n", bool2Text(st.Calibrating))
			cmd.Println()

			cmd.Println(bold("Calibration:"))
			cmd.Printf("  Last quality: %s\n", qualityText(st.LastCalibrationQuality, st.MinimumCalibrationQuality))
			cmd.Printf("  Minimum quality: %s\n", bold("%s", st.MinimumCalibrationQuality))
			if r := st.LastCalibration; r != nil {
				cmd.Printf("  Last run: %s %s at %s\n", bold("%s", r.Type), bool2Text(r.Passed), r.FinishedAt.Local().Format(time.DateTime))
				if r.Error != "" {
					cmd.Printf("  Last error: %s\n", r.Error)
				}
			}
			cmd.Println()

			cmd.Println(bold("Acquisition:"))
			cmd.Printf("  Running: %s\n", bool2Text(st.Pipeline.Running))
			if st.AcquisitionRunID != "" {
				cmd.Printf("  Run: %s\n", bold("%s", st.AcquisitionRunID))
			}
			cmd.Printf("  Published frames: %s\n", bold("%d", st.Pipeline.Published))
			cmd.Printf("  Overwritten samples: %s\n", bold("%d", st.Pipeline.Overwritten))
			for reason, n := range st.Pipeline.Dropped {
				if n > 0 {
					cmd.Printf("  Dropped (%s): %s\n", reason, bold("%d", n))
				}
			}
			cmd.Println()

			cmd.Println(bold("Recalibration schedule:"))
			if !st.Schedule.Enabled {
				cmd.Println("  Not scheduled")
				return nil
			}
			cmd.Printf("  Cron: %s\n", bold("%s", st.Schedule.Cron))
			cmd.Printf("  Next run: %s\n", bold("%s", st.Schedule.NextRun.Local().Format(time.DateTime)))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print status as JSON")

	return cmd
}

func NewConnectCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "connect",
		Short:   "Scan for the suit and connect to it",
		GroupID: gBasic,
		Long: `Scan for the suit and connect to it.

This blocks until the suit is connected or the configured scan timeout passes. Configured body dimensions are applied to the suit model on connect.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			st, err := apiClient.Connect()
			if err != nil {
				return fmt.Errorf("failed to connect: %v", err)
			}

			logrus.Infof("connected, driver is %s", st.Status)
			return nil
		},
	}
}

func NewTerminateCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "terminate",
		Aliases: []string{"disconnect"},
		Short:   "Stop everything and disconnect the suit",
		GroupID: gBasic,
		RunE: func(_ *cobra.Command, _ []string) error {
			if _, err := apiClient.Terminate(); err != nil {
				return fmt.Errorf("failed to terminate: %v", err)
			}

			logrus.Info("suit disconnected")
			return nil
		},
	}
}
