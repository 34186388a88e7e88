package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/charlie0129/mvnd/pkg/suitinfo"
)

func NewScheduleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "schedule [cron-expression]",
		Aliases: []string{"sch", "sched"},
		Short:   "Manage automatic recalibration schedule",
		Long: `Manage automatic recalibration schedule.

A scheduled recalibration runs the default calibration type. It waits while the suit is recording and is skipped if the suit stays busy.

The schedule command can be used in multiple ways:
  mvnd schedule 'minute hour day month weekday' Set schedule with cron expression
  mvnd schedule disable                         Disable the schedule
  mvnd schedule postpone [duration]             Postpone next run
  mvnd schedule skip                            Skip next run
  mvnd schedule show                            Show current schedule`,
		Example: `  mvnd schedule '@every 30m' (Every 30 minutes)
  mvnd schedule '0 */2 * * *' (Every two hours)
  mvnd schedule '0 30 9 * * 1-5' (At 09:30:00 on weekdays)`,
		GroupID: gAdvanced,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return runScheduleShow(cmd)
			}
			return runScheduleSet(cmd, args[0])
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "disable",
			Short: "Disable the recalibration schedule",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if _, err := apiClient.DisableSchedule(); err != nil {
					return err
				}
				cmd.Println("Recalibration schedule disabled.")
				return nil
			},
		},
		newSchedulePostponeCommand(),
		&cobra.Command{
			Use:   "skip",
			Short: "Skip the next scheduled recalibration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if _, err := apiClient.SkipSchedule(); err != nil {
					return err
				}
				cmd.Println("Next scheduled recalibration skipped.")
				return runScheduleShow(cmd)
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Show the current recalibration schedule",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runScheduleShow(cmd)
			},
		},
	)

	return cmd
}

func newSchedulePostponeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "postpone [duration]",
		Short: "Postpone the next scheduled recalibration",
		Example: `  mvnd schedule postpone      (Postpone by 10 minutes)
  mvnd schedule postpone 1h   (Postpone by 1 hour)`,
		Long: `Postpone the next scheduled recalibration by a duration.
If no duration is provided, defaults to 10 minutes. The postponed run must stay before the one after it.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := 10 * time.Minute
			if len(args) > 0 {
				parsed, err := time.ParseDuration(args[0])
				if err != nil {
					return fmt.Errorf("invalid duration %q: %w", args[0], err)
				}
				d = parsed
			}
			if _, err := apiClient.PostponeSchedule(d); err != nil {
				return err
			}
			cmd.Printf("Next recalibration postponed by %s.\n", d)
			return runScheduleShow(cmd)
		},
	}
}

func runScheduleSet(cmd *cobra.Command, cronExpr string) error {
	if cronExpr == "" {
		return fmt.Errorf("cron expression cannot be empty")
	}
	if _, err := apiClient.SetSchedule(cronExpr); err != nil {
		return err
	}
	cmd.Println("Recalibration scheduled.")
	return runScheduleShow(cmd)
}

func runScheduleShow(cmd *cobra.Command) error {
	sc, err := apiClient.GetSchedule()
	if err != nil {
		return err
	}
	printSchedule(cmd, sc)
	return nil
}

func printSchedule(cmd *cobra.Command, sc *suitinfo.Schedule) {
	if !sc.Enabled {
		cmd.Println("Recalibration schedule is not set.")
		return
	}
	cmd.Printf("Cron: %s\n", bold("%s", sc.Cron))
	cmd.Printf("Next run: %s\n", bold("%s", sc.NextRun.Local().Format(time.DateTime)))
	if sc.TaskBusy {
		cmd.Println("A scheduled recalibration is running now.")
	}
}
