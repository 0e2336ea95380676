package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mindwtr/mindwtr/internal/schema"
	"github.com/mindwtr/mindwtr/internal/ui"
)

var taskCmd = &cobra.Command{
	Use:     "task",
	GroupID: "data",
	Short:   "Add, list and remove tasks in the local document",
}

var taskAddCmd = &cobra.Command{
	Use:   "add <title...>",
	Short: "Add an inbox task",
	Args:  cobra.MinimumNArgs(1),
	RunE:  withApp(appOptions{}, runTaskAdd),
}

var taskListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List tasks",
	Args:    cobra.NoArgs,
	RunE:    withApp(appOptions{}, runTaskList),
}

var taskDoneCmd = &cobra.Command{
	Use:   "done <id>",
	Short: "Mark a task done",
	Long:  "Mark a task done. A unique id prefix is enough.",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(appOptions{}, runTaskDone),
}

var taskRemoveCmd = &cobra.Command{
	Use:     "rm <id>",
	Aliases: []string{"remove"},
	Short:   "Delete a task",
	Long: `Delete a task. The task stays in the document as a tombstone so the
deletion reaches other devices. A unique id prefix is enough.`,
	Args: cobra.ExactArgs(1),
	RunE: withApp(appOptions{}, runTaskRemove),
}

var (
	taskListAll    bool
	taskListFormat string
)

func init() {
	rootCmd.AddCommand(taskCmd)
	taskCmd.AddCommand(taskAddCmd, taskListCmd, taskDoneCmd, taskRemoveCmd)
	taskListCmd.Flags().BoolVar(&taskListAll, "all", false, "Include deleted and archived tasks")
	taskListCmd.Flags().StringVar(&taskListFormat, "format", formatText, "Output format: text, json or yaml")
}

func runTaskAdd(app *App, cmd *cobra.Command, args []string) error {
	task, err := addTask(app, strings.Join(args, " "), time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Added %s %s\n", ui.RenderPass("✓"), ui.RenderMuted(shortID(task.ID())), task.Title())
	return nil
}

// addTask appends a new inbox task and saves immediately.
func addTask(app *App, title string, now time.Time) (schema.Record, error) {
	task, err := schema.NewTask(title, now)
	if err != nil {
		return nil, err
	}
	if err := app.Store.Mutate(func(d *schema.AppData) error {
		d.Tasks = append(d.Tasks, task)
		return nil
	}); err != nil {
		return nil, err
	}
	return task, nil
}

func runTaskList(app *App, cmd *cobra.Command, args []string) error {
	if err := checkFormat(taskListFormat); err != nil {
		return err
	}
	tasks := app.Store.Visible().Tasks
	if taskListAll {
		tasks = app.Store.Snapshot().Tasks
	}
	return printTasks(cmd.OutOrStdout(), tasks, taskListFormat)
}

func printTasks(w io.Writer, tasks []schema.Record, format string) error {
	if format != formatText {
		if tasks == nil {
			tasks = []schema.Record{}
		}
		return writeStructured(w, tasks, format)
	}
	if len(tasks) == 0 {
		fmt.Fprintln(w, ui.RenderMuted("No tasks."))
		return nil
	}
	for _, t := range tasks {
		status := t.String("status")
		if t.IsDeleted() {
			status = "deleted"
		}
		fmt.Fprintf(w, "%s  %-8s %s\n", ui.RenderMuted(shortID(t.ID())), status, t.Title())
	}
	return nil
}

func runTaskDone(app *App, cmd *cobra.Command, args []string) error {
	task, err := updateTask(app, args[0], func(t schema.Record, now time.Time) error {
		return schema.SetStatus(t, schema.StatusDone, now)
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Done %s\n", ui.RenderPass("✓"), task.Title())
	return nil
}

func runTaskRemove(app *App, cmd *cobra.Command, args []string) error {
	task, err := updateTask(app, args[0], func(t schema.Record, now time.Time) error {
		schema.MarkDeleted(t, now)
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Deleted %s\n", ui.RenderPass("✓"), task.Title())
	return nil
}

// updateTask applies fn to the live task matching ref and returns a copy.
func updateTask(app *App, ref string, fn func(schema.Record, time.Time) error) (schema.Record, error) {
	var updated schema.Record
	err := app.Store.Mutate(func(d *schema.AppData) error {
		i, err := findTask(d.Tasks, ref)
		if err != nil {
			return err
		}
		if err := fn(d.Tasks[i], time.Now()); err != nil {
			return err
		}
		updated = d.Tasks[i].Clone()
		return nil
	})
	return updated, err
}

// findTask returns the index of the live task whose id is ref or starts
// with ref.
func findTask(tasks []schema.Record, ref string) (int, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return -1, errors.New("task id is required")
	}
	match := -1
	for i, t := range tasks {
		if t.IsDeleted() {
			continue
		}
		if t.ID() == ref {
			return i, nil
		}
		if strings.HasPrefix(t.ID(), ref) {
			if match >= 0 {
				return -1, fmt.Errorf("task id %q is ambiguous", ref)
			}
			match = i
		}
	}
	if match < 0 {
		return -1, fmt.Errorf("no task matches %q", ref)
	}
	return match, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
