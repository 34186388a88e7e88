package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/mvnd/pkg/calibration"
	"github.com/charlie0129/mvnd/pkg/events"
)

func NewCalibrateCommand() *cobra.Command {
	noWait := false

	cmd := &cobra.Command{
		Use:     "calibrate [type]",
		Aliases: []string{"cal"},
		Short:   "Calibrate the suit",
		GroupID: gSuit,
		Long: `Calibrate the suit.

Without a type, the configured default calibration type is used. The command waits for the calibration to finish unless --no-wait is given; press Ctrl-C to abort it.`,
		Example: `  mvnd calibrate
  mvnd calibrate Tpose
  mvnd calibrate abort
  mvnd calibrate minimum-quality good`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			calibrationType := ""
			if len(args) > 0 {
				calibrationType = args[0]
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			var evs <-chan events.Event
			if !noWait {
				var err error
				evs, err = apiClient.SubscribeEvents(ctx)
				if err != nil {
					return fmt.Errorf("failed to subscribe to events: %w", err)
				}
			}

			if _, err := apiClient.StartCalibration(calibrationType); err != nil {
				return fmt.Errorf("failed to start calibration: %w", err)
			}
			if noWait {
				logrus.Info("calibration started")
				return nil
			}

			logrus.Info("calibration started, hold the pose")
			return waitCalibration(ctx, cmd, evs)
		},
	}

	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Return as soon as the calibration is started")

	cmd.AddCommand(
		newCalibrateAbortCommand(),
		newMinimumQualityCommand(),
	)

	return cmd
}

func waitCalibration(ctx context.Context, cmd *cobra.Command, evs <-chan events.Event) error {
	for {
		select {
		case <-ctx.Done():
			logrus.Warn("interrupted, aborting calibration")
			if _, err := apiClient.AbortCalibration(); err != nil {
				return fmt.Errorf("failed to abort calibration: %w", err)
			}
			return ctx.Err()
		case ev, ok := <-evs:
			if !ok {
				return errors.New("event stream closed before calibration finished")
			}
			if ev.Name != events.CalibrationFinished {
				continue
			}
			res, err := events.DecodeAs[events.CalibrationFinishedEvent](ev)
			if err != nil {
				return err
			}
			q, _ := calibration.ParseQuality(res.Quality)
			if q == calibration.QualityUnknown {
				return fmt.Errorf("calibration failed: %s", res.Message)
			}
			if res.Message != "" {
				logrus.Warnf("calibration warnings: %s", res.Message)
			}
			minimum, _ := calibration.ParseQuality(res.Minimum)
			cmd.Printf("Calibration %s: quality %s (minimum %s)\n", bold("%s", res.Type), qualityText(q, minimum), res.Minimum)
			if !res.Passed {
				return errors.New("calibration quality is below the minimum, recalibrate before recording")
			}
			return nil
		}
	}
}

func newCalibrateAbortCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "abort",
		Short: "Abort the running calibration",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if _, err := apiClient.AbortCalibration(); err != nil {
				return fmt.Errorf("failed to abort calibration: %w", err)
			}
			logrus.Info("calibration aborted")
			return nil
		},
	}
}

func newMinimumQualityCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "minimum-quality [failed|poor|acceptable|good]",
		Short: "Show or set the minimum acceptable calibration quality",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				q, err := apiClient.GetMinimumQuality()
				if err != nil {
					return err
				}
				cmd.Println(q)
				return nil
			}

			q, err := calibration.ParseQuality(args[0])
			if err != nil {
				return err
			}
			if _, err := apiClient.SetMinimumQuality(q); err != nil {
				return fmt.Errorf("failed to set minimum quality: %w", err)
			}
			logrus.Infof("successfully set minimum calibration quality to %s", q)
			return nil
		},
	}
}
