package store

import (
	"context"
	"time"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id int64) (*User, error)
	// GetByPrincipal resolves a DAV principal by username or email.
	GetByPrincipal(ctx context.Context, principal string) (*User, error)
}

// CalendarRepository resolves and manages calendars.
type CalendarRepository interface {
	// GetBySlug resolves a user's calendar by its URL slug. Returns nil when
	// no such calendar exists.
	GetBySlug(ctx context.Context, userID int64, slug string) (*Calendar, error)
	ListByUser(ctx context.Context, userID int64) ([]Calendar, error)
	Create(ctx context.Context, cal Calendar) (*Calendar, error)
	Touch(ctx context.Context, id int64) error
}

// TaskRepository handles task storage. UID is unique within a calendar.
type TaskRepository interface {
	GetByUID(ctx context.Context, calendarID int64, uid string) (*Task, error)
	ListForCalendar(ctx context.Context, calendarID int64) ([]Task, error)
	// ListOverlapping returns tasks whose own interval or recurrence window
	// can intersect [start, end). Recurring tasks without a recurrence end
	// are always returned.
	ListOverlapping(ctx context.Context, calendarID int64, start, end time.Time) ([]Task, error)
	Create(ctx context.Context, task Task) (*Task, error)
	Update(ctx context.Context, task Task) (*Task, error)
	// UpdateIfETag applies the update only when the stored etag equals
	// expectedETag. Returns ErrETagMismatch otherwise; the compare and the
	// write are a single statement, so a concurrent writer cannot slip in
	// between them.
	UpdateIfETag(ctx context.Context, task Task, expectedETag string) (*Task, error)
	// DeleteByUID removes a task and, via FK cascade, its reminders. Deleting
	// a missing task is not an error.
	DeleteByUID(ctx context.Context, calendarID int64, uid string) error
	// OverrideOccurrence atomically appends exceptionStart to the parent
	// task's exception set and creates the detached task holding the edited
	// occurrence. Both mutations commit together or not at all.
	OverrideOccurrence(ctx context.Context, parentID int64, exceptionStart time.Time, detached Task) (*Task, error)
}

// ReminderRepository handles reminder storage.
type ReminderRepository interface {
	ListForTask(ctx context.Context, taskID int64) ([]Reminder, error)
	ListForCalendar(ctx context.Context, calendarID int64) (map[int64][]Reminder, error)
	// ReplaceForTask swaps the task's reminder list in one transaction.
	ReplaceForTask(ctx context.Context, taskID int64, reminders []Reminder) error
	// ListPending returns reminders whose fire time (task start minus lead
	// minutes) falls within [from, to), joined with the task fields a
	// notification needs.
	ListPending(ctx context.Context, from, to time.Time) ([]PendingReminder, error)
}

// AppPasswordRepository handles DAV Basic auth credentials.
type AppPasswordRepository interface {
	ListActiveByUser(ctx context.Context, userID int64) ([]AppPassword, error)
	Create(ctx context.Context, pw AppPassword) (*AppPassword, error)
	Revoke(ctx context.Context, id int64) error
}
