package store

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// User owns calendars and is the DAV principal. The path segment of a DAV
// URL must match either Username or Email.
type User struct {
	ID        int64
	Username  string
	Email     string
	CreatedAt time.Time
}

// AppPassword is a per-client credential for DAV Basic auth.
type AppPassword struct {
	ID         int64
	UserID     int64
	Label      string
	SecretHash string
	CreatedAt  time.Time
	RevokedAt  *time.Time
}

// Calendar is the addressing unit for CalDAV collections.
type Calendar struct {
	ID        int64
	UserID    int64
	Slug      string
	Name      string
	Color     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Task is a calendar entry, possibly recurring. Start and End are stored as
// UTC instants; Timezone carries the IANA zone name for floating-time
// interpretation of all-day and local events.
type Task struct {
	ID          int64
	CalendarID  int64
	UID         string
	Title       string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	Timezone    string
	AllDay      bool
	Color       string

	// RecurrenceRule is an RFC5545 RRULE string without the "RRULE:" prefix.
	// Empty for non-recurring tasks. Validated at create/update time.
	RecurrenceRule string
	RecurrenceEnd  *time.Time
	// ExceptionDates holds occurrence start instants excluded from expansion.
	ExceptionDates []time.Time

	ETag      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Duration returns the task's own duration, preserved by every expanded
// occurrence.
func (t *Task) Duration() time.Duration {
	return t.End.Sub(t.Start)
}

// IsException reports whether the given occurrence start is excluded.
func (t *Task) IsException(start time.Time) bool {
	for _, ex := range t.ExceptionDates {
		if ex.Equal(start) {
			return true
		}
	}
	return false
}

// ComputeETag derives the task's version fingerprint from its content.
// Content-addressed on purpose: writing identical content yields an
// identical ETag, so client caches stay valid across no-op writes. Never
// used for identity.
func (t *Task) ComputeETag() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%d|%d|%s|%t|%s|%s",
		t.UID, t.Title, t.Description, t.Location,
		t.Start.UTC().Unix(), t.End.UTC().Unix(), t.Timezone, t.AllDay,
		t.Color, t.RecurrenceRule)
	if t.RecurrenceEnd != nil {
		fmt.Fprintf(h, "|%d", t.RecurrenceEnd.UTC().Unix())
	}
	for _, ex := range t.ExceptionDates {
		fmt.Fprintf(h, "|%d", ex.UTC().Unix())
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Reminder triggers a notification MinutesBefore the start of each
// occurrence of its task. Channel tags the delivery transport.
type Reminder struct {
	ID            int64
	TaskID        int64
	MinutesBefore int
	Channel       string
}

// PendingReminder is a reminder that may fire inside a scan window, joined
// with its full task row. For recurring tasks the caller expands the rule to
// find the concrete occurrence times.
type PendingReminder struct {
	Reminder
	Task Task
}
