package models

import (
	"fmt"
	"strings"
	"time"
)

// Priority levels. Rank order for sorting is high < medium < low.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Date and time layouts used by dueDate/dueTime.
const (
	DueDateLayout = "2006-01-02"
	DueTimeLayout = "15:04"
)

var priorityRank = map[Priority]int{
	PriorityHigh:   0,
	PriorityMedium: 1,
	PriorityLow:    2,
}

// Rank returns the sort rank of the priority. Unknown values rank last.
func (p Priority) Rank() int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return len(priorityRank)
}

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	_, ok := priorityRank[p]
	return ok
}

// Label returns the capitalized display form ("High", "Medium", "Low").
func (p Priority) Label() string {
	if p == "" {
		return ""
	}
	s := string(p)
	return strings.ToUpper(s[:1]) + s[1:]
}

// ParsePriority converts a string into a Priority.
func ParsePriority(s string) (Priority, error) {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("invalid priority %q: must be high, medium or low", s)
	}
	return p, nil
}

// Task is a single to-do item owned by one user.
type Task struct {
	ID          string    `json:"id" yaml:"id"`
	Title       string    `json:"title" yaml:"title"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Completed   bool      `json:"completed" yaml:"completed"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
	DueDate     string    `json:"due_date" yaml:"due_date"`
	DueTime     string    `json:"due_time" yaml:"due_time"`
	Priority    Priority  `json:"priority" yaml:"priority"`
}

// DueAt combines DueDate and DueTime into a local instant.
func (t Task) DueAt() (time.Time, bool) {
	if t.DueDate == "" {
		return time.Time{}, false
	}
	clock := t.DueTime
	if clock == "" {
		clock = "00:00"
	}
	at, err := time.ParseInLocation(DueDateLayout+"T"+DueTimeLayout, t.DueDate+"T"+clock, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return at, true
}

// Draft holds user input for a new or edited task before validation.
type Draft struct {
	Title       string
	Description string
	DueDate     string
	DueTime     string
	Priority    string
}

// DraftFromTask pre-fills a draft for editing an existing task.
func DraftFromTask(t Task) Draft {
	return Draft{
		Title:       t.Title,
		Description: t.Description,
		DueDate:     t.DueDate,
		DueTime:     t.DueTime,
		Priority:    string(t.Priority),
	}
}

// FormatDate renders a YYYY-MM-DD date as "Jan 2, 2006".
func FormatDate(date string) string {
	d, err := time.Parse(DueDateLayout, date)
	if err != nil {
		return date
	}
	return d.Format("Jan 2, 2006")
}

// FormatTime renders an HH:MM time as "03:04 PM".
func FormatTime(clock string) string {
	t, err := time.Parse(DueTimeLayout, clock)
	if err != nil {
		return clock
	}
	return t.Format("03:04 PM")
}
