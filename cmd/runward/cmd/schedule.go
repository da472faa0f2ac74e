package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/runward-io/runward/internal/types"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage recurring triggers",
}

var scheduleCreateCmd = &cobra.Command{
	Use:   "create <runbook-id>",
	Short: "Create a schedule for a runbook",
	Long: `Create a recurring trigger. Frequency is one of once, hourly,
daily, weekly, monthly or cron; cron takes a standard five-field
expression interpreted in the schedule's timezone.`,
	Args: cobra.ExactArgs(1),
	RunE: runScheduleCreate,
}

var schedulePauseCmd = &cobra.Command{
	Use:   "pause <schedule-id>",
	Short: "Pause a schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  runSchedulePause,
}

var scheduleResumeCmd = &cobra.Command{
	Use:   "resume <schedule-id>",
	Short: "Resume a paused schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleResume,
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List schedules",
	Args:  cobra.NoArgs,
	RunE:  runScheduleList,
}

var (
	scheduleFrequency string
	scheduleCron      string
	scheduleTimezone  string
	scheduleParams    []string
)

func init() {
	scheduleCreateCmd.Flags().StringVar(&scheduleFrequency, "frequency", "", "once, hourly, daily, weekly, monthly or cron")
	scheduleCreateCmd.Flags().StringVar(&scheduleCron, "cron", "", "cron expression (with --frequency cron)")
	scheduleCreateCmd.Flags().StringVar(&scheduleTimezone, "timezone", "", "IANA timezone (default UTC)")
	scheduleCreateCmd.Flags().StringArrayVarP(&scheduleParams, "param", "p", nil, "parameter as name=value (repeatable)")
	scheduleCreateCmd.MarkFlagRequired("frequency")

	scheduleCmd.AddCommand(scheduleCreateCmd, schedulePauseCmd, scheduleResumeCmd, scheduleListCmd)
	rootCmd.AddCommand(scheduleCmd)
}

func runScheduleCreate(cmd *cobra.Command, args []string) error {
	params, err := parseParams(scheduleParams)
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	sched, err := a.svc.CreateSchedule(cmd.Context(), &types.Schedule{
		RunbookID:      args[0],
		Frequency:      types.Frequency(scheduleFrequency),
		CronExpression: scheduleCron,
		Timezone:       scheduleTimezone,
		Parameters:     params,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Schedule created: %s\n", sched.ID)
	fmt.Printf("  Frequency: %s\n", sched.Frequency)
	fmt.Printf("  Next run:  %s\n", sched.NextRunAt.Format(time.RFC3339))
	return nil
}

func runSchedulePause(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.svc.PauseSchedule(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Schedule paused: %s\n", args[0])
	return nil
}

func runScheduleResume(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.svc.ResumeSchedule(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Schedule resumed: %s\n", args[0])
	return nil
}

func runScheduleList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	schedules, err := a.st.Schedules.List(cmd.Context())
	if err != nil {
		return err
	}
	if len(schedules) == 0 {
		fmt.Println("No schedules.")
		return nil
	}
	for _, s := range schedules {
		state := "active"
		if !s.IsActive {
			state = "paused"
		}
		next := "-"
		if !s.NextRunAt.IsZero() {
			next = s.NextRunAt.Format(time.RFC3339)
		}
		fmt.Printf("%s  %-8s  %-8s  next=%s  runbook=%s\n", s.ID, s.Frequency, state, next, s.RunbookID)
	}
	return nil
}
