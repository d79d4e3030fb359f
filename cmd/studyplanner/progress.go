package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/studyforge/studyplanner/internal/application/command"
	"github.com/studyforge/studyplanner/internal/application/eventhandler"
	"github.com/studyforge/studyplanner/internal/application/query"
	"github.com/studyforge/studyplanner/internal/domain/shared"
	"github.com/studyforge/studyplanner/internal/infrastructure/messaging"
	"github.com/studyforge/studyplanner/pkg/logger"
	"github.com/studyforge/studyplanner/pkg/timeutil"
)

func newRecordCmd(flags *rootFlags) *cobra.Command {
	var (
		user, subject, at string
		minutes, sessions int
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a study event and apply XP, streak, quests and badges",
		RunE: func(cmd *cobra.Command, _ []string) error {
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

			res, err := app.RecordStudyEvent.Handle(ctx, command.RecordStudyEventCommand{
				UserID:            user,
				MinutesStudied:    minutes,
				SessionsCompleted: sessions,
				Subject:           subject,
				At:                when,
				CorrelationID:     uuid.NewString(),
			})
			if err != nil {
				return err
			}
			printOutcome(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id")
	cmd.Flags().IntVar(&minutes, "minutes", 0, "minutes studied")
	cmd.Flags().IntVar(&sessions, "sessions", 1, "sessions completed")
	cmd.Flags().StringVar(&subject, "subject", "", "subject studied (updates mastery)")
	cmd.Flags().StringVar(&at, "at", "", "event time, ISO 8601 (default now)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func printOutcome(out io.Writer, res *command.RecordStudyEventResult) {
	o := res.Outcome
	_, _ = fmt.Fprintf(out, "+%d XP", o.StudyXP)
	if o.QuestXP > 0 {
		_, _ = fmt.Fprintf(out, " (+%d from quests)", o.QuestXP)
	}
	_, _ = fmt.Fprintf(out, ", total %d, level %d\n", o.State.TotalXP, o.LevelAfter)

	if o.LevelAfter > o.LevelBefore {
		_, _ = fmt.Fprintf(out, "level up: %d -> %d\n", o.LevelBefore, o.LevelAfter)
	}
	switch {
	case o.Streak.Broken:
		_, _ = fmt.Fprintf(out, "streak restarted at %d (was %d)\n", o.Streak.Current, o.Streak.Previous)
	case o.Streak.Changed:
		_, _ = fmt.Fprintf(out, "streak: %d days\n", o.Streak.Current)
	}
	for _, q := range o.CompletedQuests {
		_, _ = fmt.Fprintf(out, "quest completed: %s (+%d XP)\n", q.Title, q.XPReward)
	}
	for _, b := range o.NewBadges {
		_, _ = fmt.Fprintf(out, "badge unlocked: %s\n", b.Name)
	}
	if o.MasteryChanged {
		_, _ = fmt.Fprintf(out, "mastery %s: %.2f -> %.2f\n", o.MasteryDelta.Subject, o.MasteryDelta.Previous, o.MasteryDelta.Current)
	}
	if res.MasteryPending {
		_, _ = fmt.Fprintln(out, "warning: mastery not updated; XP was recorded, do not resubmit")
	}
	if res.PublishFailures > 0 {
		_, _ = fmt.Fprintf(out, "warning: %d notification(s) not delivered\n", res.PublishFailures)
	}
}

func newProgressCmd(flags *rootFlags) *cobra.Command {
	var (
		user                string
		withMastery, asJSON bool
		notifications       int
	)

	cmd := &cobra.Command{
		Use:   "progress",
		Short: "Show a user's level, streak, quests and badges",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			app, err := loadApp(ctx, flags)
			if err != nil {
				return err
			}
			defer closeApp(app)

			dto, err := app.GetProgression.Handle(ctx, query.GetProgressionQuery{
				UserID:         user,
				IncludeMastery: withMastery,
				Notifications:  notifications,
			})
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), dto)
			}
			printProgression(cmd.OutOrStdout(), dto)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id")
	cmd.Flags().BoolVar(&withMastery, "mastery", false, "include per-subject mastery")
	cmd.Flags().IntVar(&notifications, "notifications", 0, "number of recent notifications to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func printProgression(out io.Writer, p *query.ProgressionDTO) {
	_, _ = fmt.Fprintf(out, "%s  level %d  %d XP  [%s] %d%%  (%d/%d to next level)\n",
		p.UserID, p.Level, p.TotalXP, progressBar(p.ProgressPercent, 20), p.ProgressPercent, p.XPIntoLevel, p.XPForNextLevel)

	streak := "inactive"
	if p.StreakActive {
		streak = fmt.Sprintf("x%.1f", p.StreakMultiplier)
	}
	_, _ = fmt.Fprintf(out, "streak %d days (best %d, %s)  studied %d min in %d sessions\n",
		p.StreakDays, p.BestStreak, streak, p.TotalStudyMinutes, p.TotalSessions)

	if len(p.Quests) > 0 {
		_, _ = fmt.Fprintf(out, "quests for %s:\n", p.QuestDate)
		for _, q := range p.Quests {
			_, _ = fmt.Fprintf(out, "  %-9s %-32s %d/%d  +%d XP\n", q.State, q.Title, q.Progress, q.Target, q.Reward)
		}
	}
	if len(p.Badges) > 0 {
		names := make([]string, 0, len(p.Badges))
		for _, b := range p.Badges {
			names = append(names, b.Name)
		}
		_, _ = fmt.Fprintf(out, "badges: %s\n", strings.Join(names, ", "))
	}
	if p.Companion.Level > 0 {
		_, _ = fmt.Fprintf(out, "companion: level %d, happiness %d\n", p.Companion.Level, p.Companion.Happiness)
	}
	for _, m := range p.Mastery {
		_, _ = fmt.Fprintf(out, "  %-20s %.2f\n", m.Subject, m.Score)
	}
	for _, n := range p.Notifications {
		_, _ = fmt.Fprintf(out, "  [%s] %s: %s\n", n.CreatedAt.Format("2006-01-02 15:04"), n.Title, n.Message)
	}
}

func progressBar(percent, width int) string {
	percent = max(0, min(percent, 100))
	filled := percent * width / 100
	return strings.Repeat("#", filled) + strings.Repeat(".", width-filled)
}

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFY
// ══════════════════════════════════════════════════════════════════════════════

func newNotifyCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "notify",
		Short: "Print notifications forwarded to Redis until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := loadApp(ctx, flags)
			if err != nil {
				return err
			}
			defer closeApp(app)

			if app.Redis == nil {
				return errors.New("notify: redis is disabled (set REDIS_DISABLED=false)")
			}

			channel := app.Config.Redis.Channel
			sub := messaging.NewRedisSubscriber(app.Redis, channel, app.Log)
			envelopes := make(chan shared.EventEnvelope, 64)

			app.Log.Info("listening for notifications", logger.String("channel", channel))

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				defer close(envelopes)
				return sub.Listen(gctx, func(env shared.EventEnvelope) error {
					select {
					case envelopes <- env:
						return nil
					case <-gctx.Done():
						return gctx.Err()
					}
				})
			})
			g.Go(func() error {
				return printEnvelopes(cmd.OutOrStdout(), envelopes)
			})

			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

func printEnvelopes(out io.Writer, envelopes <-chan shared.EventEnvelope) error {
	for env := range envelopes {
		title, text, ok := eventhandler.Render(env.Type, env.Payload)
		if !ok {
			continue
		}
		if _, err := fmt.Fprintf(out, "[%s] %s  %s: %s\n",
			env.Timestamp.Format("15:04:05"), env.AggregateID, title, text); err != nil {
			return err
		}
	}
	return nil
}
