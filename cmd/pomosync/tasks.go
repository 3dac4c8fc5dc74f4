package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pomosync/pomosync/internal/schema"
	"github.com/pomosync/pomosync/internal/ui"
)

var addCmd = &cobra.Command{
	Use:     "add <text>",
	GroupID: "tasks",
	Short:   "Add a task",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			task, err := a.orch.AddTask(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Printf("%s Added %s %s\n", out.Pass("✓"), out.Muted(ui.ShortID(task.ID)), task.Text)
			return nil
		})
	},
}

var editCmd = &cobra.Command{
	Use:     "edit <id> <text>",
	GroupID: "tasks",
	Short:   "Change a task's text",
	Long: `Change a task's text. <id> may be any unique prefix of the task id, as
shown by 'pomosync list'.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			id, err := a.state.ResolveTaskID(args[0])
			if err != nil {
				return err
			}
			task, err := a.orch.EditTask(ctx, id, strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			fmt.Printf("%s Updated %s (v%d) %s\n", out.Pass("✓"), out.Muted(ui.ShortID(task.ID)), task.Version, task.Text)
			return nil
		})
	},
}

var doneCmd = &cobra.Command{
	Use:     "done <id>",
	GroupID: "tasks",
	Short:   "Complete a task",
	Long: `Move a task to the completed list.

A work session logged for the task in the last few minutes is sent to the
row-store together with the completion in one request.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			id, err := a.state.ResolveTaskID(args[0])
			if err != nil {
				return err
			}
			task, err := a.orch.CompleteTask(ctx, id)
			if err != nil {
				return err
			}
			fmt.Printf("%s Completed %s\n", out.Pass("✓"), task.Text)
			return nil
		})
	},
}

var rmCmd = &cobra.Command{
	Use:     "rm <id>...",
	Aliases: []string{"delete"},
	GroupID: "tasks",
	Short:   "Delete tasks",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			for _, ref := range args {
				id, err := a.state.ResolveTaskID(ref)
				if err != nil {
					return err
				}
				task, err := a.orch.DeleteTask(ctx, id)
				if err != nil {
					return err
				}
				fmt.Printf("%s Deleted %s\n", out.Pass("✓"), task.Text)
			}
			return nil
		})
	},
}

var archiveCmd = &cobra.Command{
	Use:     "archive [id...]",
	GroupID: "tasks",
	Short:   "Archive tasks",
	Long: `Move tasks out of the active list into the archive.

Use --all to archive every active task.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		if !all && len(args) == 0 {
			return fmt.Errorf("give task ids or --all")
		}
		return withApp(func(ctx context.Context, a *app) error {
			var ids []string
			if all {
				for _, t := range a.state.Tasks() {
					ids = append(ids, t.ID)
				}
			} else {
				for _, ref := range args {
					id, err := a.state.ResolveTaskID(ref)
					if err != nil {
						return err
					}
					ids = append(ids, id)
				}
			}
			archived, err := a.orch.ArchiveTasks(ctx, ids)
			if err != nil {
				return err
			}
			fmt.Printf("%s Archived %d task(s)\n", out.Pass("✓"), len(archived))
			return nil
		})
	},
}

var sessionCmd = &cobra.Command{
	Use:     "session <id>",
	GroupID: "tasks",
	Short:   "Log a finished work session",
	Long: `Log a finished work session against a task.

Run this when a Pomodoro ends; 'pomosync done' shortly afterwards sends the
session and the completion together.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		minutes, _ := cmd.Flags().GetInt("minutes")
		if minutes <= 0 {
			return fmt.Errorf("--minutes must be positive")
		}
		return withApp(func(ctx context.Context, a *app) error {
			id, err := a.state.ResolveTaskID(args[0])
			if err != nil {
				return err
			}
			session, err := a.orch.RecordSession(ctx, id, time.Duration(minutes)*time.Minute)
			if err != nil {
				return err
			}
			fmt.Printf("%s Logged %dm on %s\n", out.Pass("✓"), session.Duration, session.TaskText)
			return nil
		})
	},
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	GroupID: "tasks",
	Short:   "List active tasks",
	Long: `List active tasks, newest first. A dot marks tasks with changes the
row-store has not confirmed yet.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		showArchived, _ := cmd.Flags().GetBool("archived")
		return withApp(func(ctx context.Context, a *app) error {
			tasks := a.state.Tasks()
			if showArchived {
				archived := a.state.Archived()
				if asJSON {
					return writeJSON(archived)
				}
				tasks = make([]schema.Task, 0, len(archived))
				for _, at := range archived {
					tasks = append(tasks, at.Task)
				}
			} else if asJSON {
				return writeJSON(tasks)
			}
			fmt.Print(out.TaskTable(tasks))
			return nil
		})
	},
}

func writeJSON(data any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func init() {
	archiveCmd.Flags().Bool("all", false, "archive every active task")
	sessionCmd.Flags().IntP("minutes", "m", 25, "session length in minutes")
	listCmd.Flags().Bool("json", false, "print JSON")
	listCmd.Flags().Bool("archived", false, "list archived tasks instead")

	rootCmd.AddCommand(addCmd, editCmd, doneCmd, rmCmd, archiveCmd, sessionCmd, listCmd)
}
