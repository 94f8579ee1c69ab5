package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/gurkanbulca/taskboard/internal/models"
	"github.com/gurkanbulca/taskboard/internal/view"
)

const shortIDLen = 8

func shortID(id string) string {
	if len(id) <= shortIDLen {
		return id
	}
	return id[:shortIDLen]
}

// printGrouped renders the snapshot as pending and completed sections.
func printGrouped(w io.Writer, snap view.Snapshot) {
	pending, completed := snap.Pending(), snap.Completed()
	fmt.Fprintf(w, "Sorted by %s (%s)\n\n", snap.SortBy, snap.Direction)

	if len(snap.Tasks) == 0 {
		fmt.Fprintln(w, "No tasks yet. Add one with 'taskboard add'.")
		return
	}

	fmt.Fprintf(w, "Pending (%d)\n", len(pending))
	printTable(w, pending)
	fmt.Fprintf(w, "\nCompleted (%d)\n", len(completed))
	printTable(w, completed)
}

func printTable(w io.Writer, tasks []models.Task) {
	if len(tasks) == 0 {
		fmt.Fprintln(w, "  -")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, t := range tasks {
		mark := "[ ]"
		if t.Completed {
			mark = "[x]"
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s %s\t%s\n",
			mark, shortID(t.ID), t.Title, models.FormatDate(t.DueDate), models.FormatTime(t.DueTime), t.Priority.Label())
	}
	_ = tw.Flush()
}

func printTask(w io.Writer, t models.Task) {
	status := "pending"
	if t.Completed {
		status = "completed"
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID:\t%s\n", t.ID)
	fmt.Fprintf(tw, "Title:\t%s\n", t.Title)
	if t.Description != "" {
		fmt.Fprintf(tw, "Description:\t%s\n", t.Description)
	}
	fmt.Fprintf(tw, "Due:\t%s at %s\n", models.FormatDate(t.DueDate), models.FormatTime(t.DueTime))
	fmt.Fprintf(tw, "Priority:\t%s\n", t.Priority.Label())
	fmt.Fprintf(tw, "Status:\t%s\n", status)
	fmt.Fprintf(tw, "Added:\t%s\n", t.CreatedAt.Local().Format("Jan 2, 2006 03:04 PM"))
	_ = tw.Flush()
}

// noticePrinter shows view notices on the terminal.
func noticePrinter(w io.Writer) view.Notifier {
	return view.NotifierFunc(func(n view.Notice) {
		var b strings.Builder
		switch n.Kind {
		case view.NoticeError:
			b.WriteString("✗ ")
		case view.NoticeSuccess:
			b.WriteString("✓ ")
		default:
			b.WriteString("• ")
		}
		b.WriteString(n.Title)
		if n.Description != "" {
			b.WriteString(": ")
			b.WriteString(n.Description)
		}
		fmt.Fprintln(w, b.String())
	})
}

// resolveID finds the task whose id equals or uniquely starts with prefix.
func resolveID(list *view.TaskList, prefix string) (string, error) {
	if _, ok := list.Find(prefix); ok {
		return prefix, nil
	}
	var match string
	for _, t := range list.Snapshot().Tasks {
		if strings.HasPrefix(t.ID, prefix) {
			if match != "" {
				return "", fmt.Errorf("task id %q is ambiguous", prefix)
			}
			match = t.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("no task with id %q", prefix)
	}
	return match, nil
}
