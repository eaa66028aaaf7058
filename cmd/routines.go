package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"botfleet/internal/bus"
	"botfleet/internal/config"
	"botfleet/internal/routines"
)

func routinesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "routines",
		Short: "Manage scheduled routines",
	}
	cmd.AddCommand(routinesListCmd())
	cmd.AddCommand(routinesAddCmd())
	cmd.AddCommand(routinesRemoveCmd())
	cmd.AddCommand(routinesRunCmd())
	cmd.AddCommand(routinesEnableCmd(true))
	cmd.AddCommand(routinesEnableCmd(false))
	return cmd
}

// openScheduler loads the routine store without starting the loop.
// Dispatched envelopes are printed instead of delivered.
func openScheduler() (*routines.Scheduler, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	return routines.NewScheduler(routines.NewStore(cfg.Routines.StorePath), func(env bus.MessageEnvelope) {
		data, _ := json.MarshalIndent(env, "", "  ")
		fmt.Println(string(data))
	})
}

func routinesListCmd() *cobra.Command {
	var scope string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List routines, soonest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, err := openScheduler()
			if err != nil {
				return err
			}
			jobs := sched.ListRoutines(scope)
			if len(jobs) == 0 {
				fmt.Println("No routines.")
				return nil
			}
			for _, r := range jobs {
				state := "disabled"
				if r.Enabled {
					state = "enabled"
				}
				next := "-"
				if r.State.NextRunAtMs > 0 {
					next = time.UnixMilli(r.State.NextRunAtMs).Format(time.RFC3339)
				}
				fmt.Printf("%-40s %-10s %-8s next=%s", r.ID, r.Payload.Kind, state, next)
				if r.State.LastStatus != "" {
					fmt.Printf(" last=%s", r.State.LastStatus)
				}
				fmt.Println()
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "", "filter by payload scope (user or system)")
	return cmd
}

func routinesAddCmd() *cobra.Command {
	var (
		name    string
		every   time.Duration
		cron    string
		tz      string
		at      string
		message string
		channel string
		to      string
		event   string
		bot     string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a routine",
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, err := openScheduler()
			if err != nil {
				return err
			}

			r := &routines.Routine{Name: name, Enabled: true}
			switch {
			case every > 0:
				r.Schedule = routines.Schedule{Kind: routines.ScheduleEvery, EveryMs: every.Milliseconds()}
			case cron != "":
				r.Schedule = routines.Schedule{Kind: routines.ScheduleCron, Cron: cron, Timezone: tz}
			case at != "":
				ts, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("parse --at: %w", err)
				}
				r.Schedule = routines.Schedule{Kind: routines.ScheduleAt, AtMs: ts.UnixMilli()}
				r.DeleteAfterRun = true
			default:
				return fmt.Errorf("one of --every, --cron, or --at is required")
			}

			if event != "" {
				r.Payload = routines.Payload{Kind: routines.PayloadSystemEvent, Routine: event, Scope: "system", Bot: bot}
			} else {
				r.Payload = routines.Payload{Kind: routines.PayloadAgentTurn, Message: message, Channel: channel, To: to, Scope: "user"}
			}

			added, err := sched.AddRoutine(r)
			if err != nil {
				return err
			}
			fmt.Printf("Added routine %s, next run %s\n",
				added.ID, time.UnixMilli(added.State.NextRunAtMs).Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "routine name (required)")
	cmd.Flags().DurationVar(&every, "every", 0, "fixed interval, e.g. 30m")
	cmd.Flags().StringVar(&cron, "cron", "", "cron expression")
	cmd.Flags().StringVar(&tz, "tz", "", "IANA timezone for --cron")
	cmd.Flags().StringVar(&at, "at", "", "one-shot time, RFC3339")
	cmd.Flags().StringVar(&message, "message", "", "agent turn message")
	cmd.Flags().StringVar(&channel, "channel", "cli", "agent turn channel")
	cmd.Flags().StringVar(&to, "to", "local", "agent turn chat id")
	cmd.Flags().StringVar(&event, "event", "", "system event tag instead of an agent turn")
	cmd.Flags().StringVar(&bot, "bot", "", "target bot for system events")
	cmd.MarkFlagRequired("name")
	return cmd
}

func routinesRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a routine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, err := openScheduler()
			if err != nil {
				return err
			}
			removed, err := sched.RemoveRoutine(args[0])
			if err != nil {
				return err
			}
			if !removed {
				fmt.Fprintf(os.Stderr, "No routine with id %s\n", args[0])
				return nil
			}
			fmt.Println("Removed.")
			return nil
		},
	}
}

func routinesRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <id>",
		Short: "Run a routine now, even when disabled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, err := openScheduler()
			if err != nil {
				return err
			}
			return sched.RunRoutine(context.Background(), args[0], true)
		},
	}
}

func routinesEnableCmd(enable bool) *cobra.Command {
	use, short := "enable <id>", "Enable a routine"
	if !enable {
		use, short = "disable <id>", "Disable a routine"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, err := openScheduler()
			if err != nil {
				return err
			}
			return sched.EnableRoutine(args[0], enable)
		},
	}
}
