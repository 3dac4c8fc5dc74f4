package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/pomosync/pomosync/internal/schema"
)

const dayLayout = "2006-01-02"

// parseDay turns a --day value into a UTC day string. It accepts
// YYYY-MM-DD and natural language such as "yesterday" or "last monday".
func parseDay(text string, now time.Time) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return schema.DayUTC(now), nil
	}
	if t, err := time.Parse(dayLayout, text); err == nil {
		return t.Format(dayLayout), nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(text, now.UTC())
	if err != nil {
		return "", fmt.Errorf("failed to parse day %q: %w", text, err)
	}
	if r == nil {
		return "", fmt.Errorf("unrecognized day %q (use YYYY-MM-DD or e.g. \"yesterday\")", text)
	}
	return r.Time.UTC().Format(dayLayout), nil
}

var statsCmd = &cobra.Command{
	Use:     "stats",
	GroupID: "tasks",
	Short:   "Show a day's completed tasks and focus time",
	Long: `Show the completed tasks and work sessions recorded on one UTC day.

--day accepts YYYY-MM-DD or phrases such as "yesterday". With --sync the
day's records are pulled from the row-store first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dayText, _ := cmd.Flags().GetString("day")
		doSync, _ := cmd.Flags().GetBool("sync")

		day, err := parseDay(dayText, time.Now())
		if err != nil {
			return err
		}

		return withApp(func(ctx context.Context, a *app) error {
			if doSync && a.client.Configured() {
				if _, err := a.orch.PerformFullSync(ctx); err != nil {
					fmt.Printf("%s Sync failed: %v\n", out.Warn("⚠"), err)
				}
			}
			fmt.Print(out.StatsSummary(day, a.state.Completed(day), a.state.Sessions(day)))
			return nil
		})
	},
}

func init() {
	statsCmd.Flags().String("day", "", "day to show (default today, UTC)")
	statsCmd.Flags().Bool("sync", false, "sync with the row-store first")

	rootCmd.AddCommand(statsCmd)
}
