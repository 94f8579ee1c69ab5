package models

import (
	"fmt"
	"slices"
)

// SortOption selects the key tasks are ordered by.
type SortOption string

const (
	SortByDateAdded SortOption = "dateAdded"
	SortByDueDate   SortOption = "dueDate"
	SortByPriority  SortOption = "priority"
)

// SortDirection is either ascending or descending.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// Toggle flips the direction.
func (d SortDirection) Toggle() SortDirection {
	if d == SortAsc {
		return SortDesc
	}
	return SortAsc
}

// ParseSortOption accepts the option names as well as a few CLI-friendly aliases.
func ParseSortOption(s string) (SortOption, error) {
	switch s {
	case "dateAdded", "date-added", "created", "created_at":
		return SortByDateAdded, nil
	case "dueDate", "due-date", "due", "due_date":
		return SortByDueDate, nil
	case "priority":
		return SortByPriority, nil
	}
	return "", fmt.Errorf("invalid sort option %q: must be dateAdded, dueDate or priority", s)
}

// ParseSortDirection parses "asc" or "desc".
func ParseSortDirection(s string) (SortDirection, error) {
	switch SortDirection(s) {
	case SortAsc, SortDesc:
		return SortDirection(s), nil
	}
	return "", fmt.Errorf("invalid sort direction %q: must be asc or desc", s)
}

// SortTasks returns a sorted copy of tasks. The input slice is left untouched
// and tasks with equal keys keep their relative order.
func SortTasks(tasks []Task, by SortOption, dir SortDirection) []Task {
	sorted := slices.Clone(tasks)
	if sorted == nil {
		sorted = []Task{}
	}
	cmp := comparator(by)
	slices.SortStableFunc(sorted, func(a, b Task) int {
		c := cmp(a, b)
		if dir == SortDesc {
			return -c
		}
		return c
	})
	return sorted
}

func comparator(by SortOption) func(a, b Task) int {
	switch by {
	case SortByDueDate:
		return compareDue
	case SortByPriority:
		return func(a, b Task) int {
			return a.Priority.Rank() - b.Priority.Rank()
		}
	default:
		return func(a, b Task) int {
			return a.CreatedAt.Compare(b.CreatedAt)
		}
	}
}

// compareDue orders by the combined due instant. Tasks without a parseable
// due instant sort after all others and compare equal among themselves.
func compareDue(a, b Task) int {
	da, okA := a.DueAt()
	db, okB := b.DueAt()
	switch {
	case !okA && !okB:
		return 0
	case !okA:
		return 1
	case !okB:
		return -1
	}
	return da.Compare(db)
}

// Partition splits sorted tasks into pending and completed, keeping order.
func Partition(sorted []Task) (pending, completed []Task) {
	pending = []Task{}
	completed = []Task{}
	for _, t := range sorted {
		if t.Completed {
			completed = append(completed, t)
		} else {
			pending = append(pending, t)
		}
	}
	return pending, completed
}
