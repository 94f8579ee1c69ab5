package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gurkanbulca/taskboard/internal/models"
	"github.com/gurkanbulca/taskboard/internal/view"
)

var listCmd = &cobra.Command{
	Use:     "list",
	GroupID: "tasks",
	Short:   "List tasks grouped into pending and completed",
	Args:    cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
		list, err := a.openList(cmd.Context())
		if err != nil {
			return err
		}
		defer list.SignedOut()

		if err := applySort(cmd, list); err != nil {
			return err
		}
		printGrouped(a.out, list.Snapshot())
		return nil
	}),
}

var addCmd = &cobra.Command{
	Use:     "add <title>",
	GroupID: "tasks",
	Short:   "Add a task",
	Args:    cobra.MinimumNArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		list, err := a.openList(cmd.Context(), view.WithNotifier(noticePrinter(cmd.ErrOrStderr())))
		if err != nil {
			return err
		}
		defer list.SignedOut()

		draft := draftFromFlags(cmd, models.Draft{
			Title:   strings.Join(args, " "),
			DueDate: time.Now().Format(models.DueDateLayout),
			DueTime: "09:00",
		})
		ctx, cancel := a.callContext(cmd.Context())
		defer cancel()
		task, err := list.Add(ctx, draft)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Added %s %q\n", shortID(task.ID), task.Title)
		return nil
	}),
}

var editCmd = &cobra.Command{
	Use:     "edit <id>",
	GroupID: "tasks",
	Short:   "Change the fields of a task",
	Args:    cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		list, err := a.openList(cmd.Context(), view.WithNotifier(noticePrinter(cmd.ErrOrStderr())))
		if err != nil {
			return err
		}
		defer list.SignedOut()

		id, err := resolveID(list, args[0])
		if err != nil {
			return err
		}
		current, _ := list.Find(id)
		draft := models.DraftFromTask(current)
		if cmd.Flags().Changed("title") {
			draft.Title, _ = cmd.Flags().GetString("title")
		}
		draft = draftFromFlags(cmd, draft)

		ctx, cancel := a.callContext(cmd.Context())
		defer cancel()
		if err := list.Edit(ctx, id, draft); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Updated %s\n", shortID(id))
		return nil
	}),
}

func setCompletedCmd(use, short string, completed bool) *cobra.Command {
	return &cobra.Command{
		Use:     use + " <id>",
		GroupID: "tasks",
		Short:   short,
		Args:    cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			list, err := a.openList(cmd.Context(), view.WithNotifier(noticePrinter(cmd.ErrOrStderr())))
			if err != nil {
				return err
			}
			defer list.SignedOut()

			id, err := resolveID(list, args[0])
			if err != nil {
				return err
			}
			current, _ := list.Find(id)
			if current.Completed == completed {
				fmt.Fprintf(a.out, "%s is already %s\n", shortID(id), use)
				return nil
			}

			ctx, cancel := a.callContext(cmd.Context())
			defer cancel()
			if err := list.ToggleCompleted(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Marked %s as %s\n", shortID(id), use)
			return nil
		}),
	}
}

var deleteCmd = &cobra.Command{
	Use:     "delete <id>",
	GroupID: "tasks",
	Short:   "Delete a task, with a short window to undo",
	Args:    cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		window, _ := cmd.Flags().GetDuration("undo-window")
		list, err := a.openList(cmd.Context(),
			view.WithNotifier(noticePrinter(cmd.ErrOrStderr())),
			view.WithUndoWindow(window),
		)
		if err != nil {
			return err
		}
		defer list.SignedOut()

		id, err := resolveID(list, args[0])
		if err != nil {
			return err
		}

		ctx, cancel := a.callContext(cmd.Context())
		err = list.Delete(ctx, id)
		cancel()
		if err != nil {
			return err
		}
		if window <= 0 {
			return nil
		}

		fmt.Fprintf(a.out, "Press u and Enter within %s to undo: ", window)
		if !promptUndo(cmd.Context(), window) {
			fmt.Fprintln(a.out)
			return nil
		}

		ctx, cancel = a.callContext(cmd.Context())
		defer cancel()
		return list.Undo(ctx, id)
	}),
}

var showCmd = &cobra.Command{
	Use:     "show <id>",
	GroupID: "tasks",
	Short:   "Show one task",
	Args:    cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		list, err := a.openList(cmd.Context())
		if err != nil {
			return err
		}
		defer list.SignedOut()

		id, err := resolveID(list, args[0])
		if err != nil {
			return err
		}

		// Read through the store so the task is current even if the
		// subscription lags.
		ctx, cancel := a.callContext(cmd.Context())
		defer cancel()
		task, ok := a.store.GetTask(ctx, id)
		if !ok {
			return fmt.Errorf("task %s not found", shortID(id))
		}
		printTask(a.out, task)
		return nil
	}),
}

// promptUndo waits up to window for the user to type "u".
func promptUndo(ctx context.Context, window time.Duration) bool {
	answer := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		answer <- strings.TrimSpace(strings.ToLower(line))
	}()

	timer := time.NewTimer(window)
	defer timer.Stop()
	select {
	case a := <-answer:
		return a == "u" || a == "undo" || a == "y"
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func addTaskFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("description", "d", "", "task description")
	cmd.Flags().String("due", "", "due date (YYYY-MM-DD)")
	cmd.Flags().String("at", "", "due time (HH:MM)")
	cmd.Flags().StringP("priority", "p", "", "priority: high, medium or low")
}

// draftFromFlags overrides the fields of d whose flags were given.
func draftFromFlags(cmd *cobra.Command, d models.Draft) models.Draft {
	flags := cmd.Flags()
	if flags.Changed("description") {
		d.Description, _ = flags.GetString("description")
	}
	if flags.Changed("due") {
		d.DueDate, _ = flags.GetString("due")
	}
	if flags.Changed("at") {
		d.DueTime, _ = flags.GetString("at")
	}
	if flags.Changed("priority") {
		d.Priority, _ = flags.GetString("priority")
	}
	return d
}

func applySort(cmd *cobra.Command, list *view.TaskList) error {
	by, _ := cmd.Flags().GetString("sort")
	opt, err := models.ParseSortOption(by)
	if err != nil {
		return err
	}
	dir, _ := cmd.Flags().GetString("dir")
	direction, err := models.ParseSortDirection(dir)
	if err != nil {
		return err
	}
	list.SetSort(opt)
	list.SetDirection(direction)
	return nil
}

func addSortFlags(cmd *cobra.Command) {
	cmd.Flags().String("sort", string(models.SortByDateAdded), "sort by dateAdded, dueDate or priority")
	cmd.Flags().String("dir", string(models.SortDesc), "sort direction: asc or desc")
}

func init() {
	addSortFlags(listCmd)
	addTaskFlags(addCmd)
	addTaskFlags(editCmd)
	editCmd.Flags().StringP("title", "t", "", "new title")
	deleteCmd.Flags().Duration("undo-window", view.DefaultUndoWindow, "how long the delete can be undone (0 disables the prompt)")

	rootCmd.AddCommand(
		listCmd,
		addCmd,
		editCmd,
		setCompletedCmd("done", "Mark a task completed", true),
		setCompletedCmd("undone", "Mark a task pending again", false),
		deleteCmd,
		showCmd,
	)
}
