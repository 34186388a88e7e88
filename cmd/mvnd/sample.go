package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func NewSampleCommand() *cobra.Command {
	asJSON := false

	cmd := &cobra.Command{
		Use:     "sample",
		Short:   "Print the latest data sample",
		GroupID: gSuit,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := apiClient.GetSample()
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, s)
			}
			if s.SuitName == "" {
				cmd.Println("No sample yet. Is an acquisition running?")
				return nil
			}

			cmd.Printf("Suit %s, run %s, t=%s (absolute %.3f)\n", bold("%s", s.SuitName), s.RunID, bold("%.3fs", s.RelativeTime), s.AbsoluteTime)
			for _, l := range s.Links {
				p, q := l.Position, l.Orientation
				cmd.Printf("  %-16s pos (%.3f, %.3f, %.3f)  ori (%.3f, %.3f, %.3f, %.3f)\n",
					l.Name, p[0], p[1], p[2], q[0], q[1], q[2], q[3])
			}
			for _, j := range s.Joints {
				a := j.JointAngles
				cmd.Printf("  %-16s angles (%.1f, %.1f, %.1f)\n", j.Name, a[0], a[1], a[2])
			}
			cmd.Printf("  %d sensor(s)\n", len(s.Sensors))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the sample as JSON")

	return cmd
}

func NewLabelsCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "labels",
		Short:   "Print link, sensor and joint labels of the latest sample",
		GroupID: gSuit,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			l, err := apiClient.GetLabels()
			if err != nil {
				return fmt.Errorf("failed to get labels: %w", err)
			}
			cmd.Printf("%s %s\n", bold("Links:"), strings.Join(l.Links, ", "))
			cmd.Printf("%s %s\n", bold("Sensors:"), strings.Join(l.Sensors, ", "))
			cmd.Printf("%s %s\n", bold("Joints:"), strings.Join(l.Joints, ", "))
			return nil
		},
	}
}
