package models

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	MaxIDLength          = 64
	MaxTitleLength       = 200
	MaxDescriptionLength = 5000
)

// ValidationError reports malformed task input. It is returned before any
// call reaches the store.
type ValidationError struct {
	Fields map[string]string
}

var fieldOrder = []string{"title", "description", "due_date", "due_time", "priority"}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, name := range fieldOrder {
		if msg, ok := e.Fields[name]; ok {
			parts = append(parts, fmt.Sprintf("%s: %s", name, msg))
		}
	}
	var other []string
	for name := range e.Fields {
		if !slices.Contains(fieldOrder, name) {
			other = append(other, name)
		}
	}
	slices.Sort(other)
	for _, name := range other {
		parts = append(parts, fmt.Sprintf("%s: %s", name, e.Fields[name]))
	}
	return "invalid task: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = msg
}

// IsValidationError reports whether err is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Normalize validates the draft and returns the cleaned-up values as a Task
// with no id and no creation time.
func (d Draft) Normalize() (Task, error) {
	verr := &ValidationError{}

	title := strings.TrimSpace(d.Title)
	switch {
	case title == "":
		verr.add("title", "title is required")
	case utf8.RuneCountInString(title) > MaxTitleLength:
		verr.add("title", fmt.Sprintf("title too long (max %d characters)", MaxTitleLength))
	}

	description := strings.TrimSpace(d.Description)
	if utf8.RuneCountInString(description) > MaxDescriptionLength {
		verr.add("description", fmt.Sprintf("description too long (max %d characters)", MaxDescriptionLength))
	}

	dueDate := strings.TrimSpace(d.DueDate)
	if dueDate == "" {
		verr.add("due_date", "due date is required")
	} else if _, err := time.Parse(DueDateLayout, dueDate); err != nil {
		verr.add("due_date", "due date must be YYYY-MM-DD")
	}

	dueTime := strings.TrimSpace(d.DueTime)
	if dueTime == "" {
		verr.add("due_time", "due time is required")
	} else if _, err := time.Parse(DueTimeLayout, dueTime); err != nil {
		verr.add("due_time", "due time must be HH:MM")
	}

	priority := Priority(strings.ToLower(strings.TrimSpace(d.Priority)))
	if priority == "" {
		priority = PriorityMedium
	}
	if !priority.Valid() {
		verr.add("priority", "priority must be high, medium or low")
	}

	if len(verr.Fields) > 0 {
		return Task{}, verr
	}

	return Task{
		Title:       title,
		Description: description,
		DueDate:     dueDate,
		DueTime:     dueTime,
		Priority:    priority,
	}, nil
}

// Normalized applies the draft rules to the editable fields of t and keeps
// its id, completion and creation time.
func (t Task) Normalized() (Task, error) {
	n, err := DraftFromTask(t).Normalize()
	if err != nil {
		return Task{}, err
	}
	n.ID = t.ID
	n.Completed = t.Completed
	n.CreatedAt = t.CreatedAt
	return n, nil
}
