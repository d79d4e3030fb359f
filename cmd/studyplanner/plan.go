package main

import (
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/studyforge/studyplanner/internal/application/command"
	"github.com/studyforge/studyplanner/internal/application/planning"
	"github.com/studyforge/studyplanner/internal/application/query"
	"github.com/studyforge/studyplanner/internal/domain/plan"
	"github.com/studyforge/studyplanner/pkg/timeutil"
)

func newPlanCmd(flags *rootFlags) *cobra.Command {
	planCmd := &cobra.Command{Use: "plan", Short: "Create and inspect study plans"}
	planCmd.AddCommand(newPlanCreateCmd(flags))
	planCmd.AddCommand(newPlanListCmd(flags))
	planCmd.AddCommand(newPlanShowCmd(flags))
	planCmd.AddCommand(newPlanSessionCmd(flags))
	return planCmd
}

func newPlanCreateCmd(flags *rootFlags) *cobra.Command {
	var (
		owner, period, start  string
		repeat                int
		subjects              []string
		ignoreMastery, asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Synthesize a study plan, streaming sessions as they arrive",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			app, err := loadApp(ctx, flags)
			if err != nil {
				return err
			}
			defer closeApp(app)

			startDate, err := parseDate(start, app.Config.App.Location)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			cb := planning.Callbacks{
				OnFallback: func(reason string) {
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "assistant unavailable, building plan offline: %s\n", reason)
				},
			}
			if !asJSON {
				cb.OnSession = func(s plan.Session) {
					_, _ = fmt.Fprintf(out, "  + %s\n", formatSession(s, app.Config.App.Location))
				}
			}

			res, err := app.SynthesizePlan.Handle(ctx, command.SynthesizePlanCommand{
				OwnerID:       owner,
				Period:        period,
				RepeatCount:   repeat,
				StartDate:     startDate,
				Subjects:      subjects,
				IgnoreMastery: ignoreMastery,
				CorrelationID: uuid.NewString(),
			}, cb)
			if err != nil {
				return err
			}

			dto, err := app.Plans.Get(ctx, query.GetPlanQuery{OwnerID: owner, PlanID: res.Plan.ID})
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(out, dto)
			}
			printPlan(out, dto, app.Config.App.Location)
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "plan owner id")
	cmd.Flags().StringVar(&period, "period", string(plan.PeriodWeek), "period: day|week|month|semester")
	cmd.Flags().IntVar(&repeat, "repeat", 1, "number of periods")
	cmd.Flags().StringVar(&start, "start", "", "start date YYYY-MM-DD (default today)")
	cmd.Flags().StringSliceVar(&subjects, "subjects", nil, "subjects to plan")
	cmd.Flags().BoolVar(&ignoreMastery, "ignore-mastery", false, "plan without the stored mastery scores")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the plan as JSON")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newPlanListCmd(flags *rootFlags) *cobra.Command {
	var (
		owner         string
		limit, offset int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List an owner's plans, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			app, err := loadApp(ctx, flags)
			if err != nil {
				return err
			}
			defer closeApp(app)

			plans, err := app.Plans.List(ctx, query.ListPlansQuery{OwnerID: owner, Limit: limit, Offset: offset})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(plans) == 0 {
				_, _ = fmt.Fprintln(out, "no plans")
				return nil
			}
			for _, p := range plans {
				_, _ = fmt.Fprintf(out, "%s  %-32s %s x%d  %d/%d done  (%s)\n",
					p.ID, p.Title, p.Period, p.RepeatCount, p.DoneSessions, p.StudySessions, p.GeneratedBy)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "plan owner id")
	cmd.Flags().IntVar(&limit, "limit", 20, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "page offset")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newPlanShowCmd(flags *rootFlags) *cobra.Command {
	var (
		owner  string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "show <plan-id>",
		Short: "Show one plan with its sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := loadApp(ctx, flags)
			if err != nil {
				return err
			}
			defer closeApp(app)

			dto, err := app.Plans.Get(ctx, query.GetPlanQuery{OwnerID: owner, PlanID: args[0]})
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), dto)
			}
			printPlan(cmd.OutOrStdout(), dto, app.Config.App.Location)
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "plan owner id")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the plan as JSON")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newPlanSessionCmd(flags *rootFlags) *cobra.Command {
	var owner, at string

	cmd := &cobra.Command{
		Use:   "session <plan-id> <session-id> <planned|in_progress|done|missed>",
		Short: "Move a session to a new status; done records study time",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := loadApp(ctx, flags)
			if err != nil {
				return err
			}
			defer closeApp(app)

			var when time.Time
			if at != "" {
				if when, err = timeutil.ParseFlexible(at, app.Config.App.Location); err != nil {
					return fmt.Errorf("invalid --at %q: %w", at, err)
				}
			}

			res, err := app.UpdateSessionStatus.Handle(ctx, command.UpdateSessionStatusCommand{
				OwnerID:   owner,
				PlanID:    args[0],
				SessionID: args[1],
				Status:    args[2],
				At:        when,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "%s: %s -> %s\n", res.Session.Subject, res.Previous, res.Session.Status)
			if res.Study != nil {
				printOutcome(out, res.Study)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "plan owner id")
	cmd.Flags().StringVar(&at, "at", "", "transition time, ISO 8601 (default now)")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func formatSession(s plan.Session, loc *time.Location) string {
	return fmt.Sprintf("%s %s-%s  %-20s %s/%s/%s",
		s.Start.In(loc).Format("Mon 02 Jan"),
		s.Start.In(loc).Format(timeutil.FormatTime),
		s.End.In(loc).Format(timeutil.FormatTime),
		s.Subject, s.Type, s.Method, s.Priority)
}

func printPlan(out io.Writer, p *query.PlanDTO, loc *time.Location) {
	_, _ = fmt.Fprintf(out, "%s\n%s (%s x%d, by %s)\n", p.ID, p.Title, p.Period, p.RepeatCount, p.GeneratedBy)
	for _, s := range p.Sessions {
		_, _ = fmt.Fprintf(out, "  %s  %s %s-%s  %-20s %-10s %s\n",
			s.ID,
			s.Start.In(loc).Format("Mon 02 Jan"),
			s.Start.In(loc).Format(timeutil.FormatTime),
			s.End.In(loc).Format(timeutil.FormatTime),
			s.Subject, s.Type, s.Status)
	}
	_, _ = fmt.Fprintf(out, "%d study sessions, %d minutes, %d done\n", p.StudySessions, p.StudyMinutes, p.DoneSessions)
}
