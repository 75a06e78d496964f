// Package service holds the task operations shared by the CalDAV and JSON
// API front ends: validation, occurrence window queries, and the
// single-occurrence override.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/taskcal-dev/taskcal/internal/fault"
	"github.com/taskcal-dev/taskcal/internal/ics"
	"github.com/taskcal-dev/taskcal/internal/importer"
	"github.com/taskcal-dev/taskcal/internal/recurrence"
	"github.com/taskcal-dev/taskcal/internal/store"
)

// TaskService validates and persists tasks.
type TaskService struct {
	tasks     store.TaskRepository
	reminders store.ReminderRepository
}

func NewTaskService(tasks store.TaskRepository, reminders store.ReminderRepository) *TaskService {
	return &TaskService{tasks: tasks, reminders: reminders}
}

// TaskInput carries the writable fields of a task.
type TaskInput struct {
	UID            string
	Title          string
	Description    string
	Location       string
	Start          time.Time
	End            time.Time
	Timezone       string
	AllDay         bool
	Color          string
	RecurrenceRule string
	RecurrenceEnd  *time.Time
	Reminders      []store.Reminder
}

// Validate enforces the task invariants. Rules are parsed here, at write
// time, so expansion never fails on a stored task.
func (in *TaskInput) Validate() error {
	if in.Title == "" {
		return fault.Validation("title is required")
	}
	if !in.End.After(in.Start) {
		return fault.Validation("end must be after start")
	}
	if in.RecurrenceEnd != nil && !in.RecurrenceEnd.After(in.Start) {
		return fault.Validation("recurrence end must be after start")
	}
	if err := recurrence.ValidateRule(in.RecurrenceRule); err != nil {
		return err
	}
	return nil
}

func (in *TaskInput) toTask(calendarID int64) store.Task {
	tz := in.Timezone
	if tz == "" {
		tz = "UTC"
	}
	task := store.Task{
		CalendarID:     calendarID,
		UID:            in.UID,
		Title:          in.Title,
		Description:    in.Description,
		Location:       in.Location,
		Start:          in.Start.UTC(),
		End:            in.End.UTC(),
		Timezone:       tz,
		AllDay:         in.AllDay,
		Color:          in.Color,
		RecurrenceRule: in.RecurrenceRule,
		RecurrenceEnd:  in.RecurrenceEnd,
	}
	task.ETag = task.ComputeETag()
	return task
}

// Create validates and stores a new task with its reminders.
func (s *TaskService) Create(ctx context.Context, calendarID int64, in TaskInput) (*store.Task, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	task := in.toTask(calendarID)
	if task.UID == "" {
		task.UID = importer.NewUID()
		task.ETag = task.ComputeETag()
	}

	created, err := s.tasks.Create(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	if len(in.Reminders) > 0 {
		if err := s.reminders.ReplaceForTask(ctx, created.ID, in.Reminders); err != nil {
			return nil, fmt.Errorf("store reminders: %w", err)
		}
	}
	return created, nil
}

// Update validates and overwrites an existing task, preserving its
// exception set.
func (s *TaskService) Update(ctx context.Context, calendarID int64, uid string, in TaskInput) (*store.Task, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	current, err := s.tasks.GetByUID(ctx, calendarID, uid)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, fault.NotFound("task not found")
	}

	task := in.toTask(calendarID)
	task.UID = uid
	task.ExceptionDates = current.ExceptionDates
	task.ETag = task.ComputeETag()

	updated, err := s.tasks.Update(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	if updated == nil {
		return nil, fault.NotFound("task not found")
	}
	if in.Reminders != nil {
		if err := s.reminders.ReplaceForTask(ctx, updated.ID, in.Reminders); err != nil {
			return nil, fmt.Errorf("store reminders: %w", err)
		}
	}
	return updated, nil
}

// Delete removes a task. Idempotent: deleting a missing task is not an
// error. Reminders cascade at the storage layer.
func (s *TaskService) Delete(ctx context.Context, calendarID int64, uid string) error {
	return s.tasks.DeleteByUID(ctx, calendarID, uid)
}

// Occurrences expands the calendar's tasks into concrete occurrences inside
// [start, end). Series tasks and detached override tasks are merged into one
// start-ordered list.
func (s *TaskService) Occurrences(ctx context.Context, calendarID int64, start, end time.Time) ([]recurrence.Occurrence, error) {
	if !start.Before(end) {
		return nil, fault.Validation("range end must be after range start")
	}
	tasks, err := s.tasks.ListOverlapping(ctx, calendarID, start, end)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return recurrence.ExpandAll(tasks, start, end), nil
}

// OverrideOccurrence edits one occurrence of a recurring task: the
// occurrence's original start joins the parent's exception set, and a new
// non-recurring task holds the edited data. Both mutations are one atomic
// unit at the store; a partial application would either double-count or
// lose that date.
func (s *TaskService) OverrideOccurrence(ctx context.Context, calendarID int64, parentUID string, occurrenceStart time.Time, in TaskInput) (*store.Task, error) {
	parent, err := s.tasks.GetByUID(ctx, calendarID, parentUID)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, fault.NotFound("task not found")
	}
	if parent.RecurrenceRule == "" {
		return nil, fault.Validation("task is not recurring")
	}

	in.RecurrenceRule = ""
	in.RecurrenceEnd = nil
	if err := in.Validate(); err != nil {
		return nil, err
	}

	detached := in.toTask(calendarID)
	detached.UID = importer.NewUID()
	detached.ETag = detached.ComputeETag()

	created, err := s.tasks.OverrideOccurrence(ctx, parent.ID, occurrenceStart.UTC(), detached)
	if err != nil {
		return nil, fmt.Errorf("override occurrence: %w", err)
	}
	return created, nil
}

// Export encodes a whole calendar, reminders included, as iCalendar bytes.
func (s *TaskService) Export(ctx context.Context, cal *store.Calendar) ([]byte, error) {
	tasks, err := s.tasks.ListForCalendar(ctx, cal.ID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	remindersByTask, err := s.reminders.ListForCalendar(ctx, cal.ID)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}

	items := make([]ics.Item, 0, len(tasks))
	for _, t := range tasks {
		items = append(items, ics.Item{Task: t, Reminders: remindersByTask[t.ID]})
	}
	return ics.Encode(items, cal.Name)
}
