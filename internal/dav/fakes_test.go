package dav

import (
	"context"
	"time"

	"github.com/taskcal-dev/taskcal/internal/store"
)

type fakeCalendarRepo struct {
	calendars map[string]*store.Calendar
}

func (r *fakeCalendarRepo) GetBySlug(_ context.Context, userID int64, slug string) (*store.Calendar, error) {
	cal, ok := r.calendars[slug]
	if !ok || cal.UserID != userID {
		return nil, nil
	}
	return cal, nil
}

func (r *fakeCalendarRepo) ListByUser(_ context.Context, userID int64) ([]store.Calendar, error) {
	var out []store.Calendar
	for _, cal := range r.calendars {
		if cal.UserID == userID {
			out = append(out, *cal)
		}
	}
	return out, nil
}

func (r *fakeCalendarRepo) Create(_ context.Context, cal store.Calendar) (*store.Calendar, error) {
	r.calendars[cal.Slug] = &cal
	return &cal, nil
}

func (r *fakeCalendarRepo) Touch(_ context.Context, _ int64) error { return nil }

type fakeTaskRepo struct {
	tasks  map[string]store.Task
	nextID int64
}

func newFakeTaskRepo(existing ...store.Task) *fakeTaskRepo {
	repo := &fakeTaskRepo{tasks: make(map[string]store.Task)}
	for _, t := range existing {
		repo.nextID++
		t.ID = repo.nextID
		repo.tasks[t.UID] = t
	}
	return repo
}

func (r *fakeTaskRepo) GetByUID(_ context.Context, _ int64, uid string) (*store.Task, error) {
	if t, ok := r.tasks[uid]; ok {
		return &t, nil
	}
	return nil, nil
}

func (r *fakeTaskRepo) ListForCalendar(_ context.Context, _ int64) ([]store.Task, error) {
	out := make([]store.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}
	return out, nil
}

func (r *fakeTaskRepo) ListOverlapping(_ context.Context, calendarID int64, _, _ time.Time) ([]store.Task, error) {
	return r.ListForCalendar(context.Background(), calendarID)
}

func (r *fakeTaskRepo) Create(_ context.Context, task store.Task) (*store.Task, error) {
	r.nextID++
	task.ID = r.nextID
	r.tasks[task.UID] = task
	return &task, nil
}

func (r *fakeTaskRepo) Update(_ context.Context, task store.Task) (*store.Task, error) {
	if existing, ok := r.tasks[task.UID]; ok {
		task.ID = existing.ID
	}
	r.tasks[task.UID] = task
	return &task, nil
}

func (r *fakeTaskRepo) UpdateIfETag(_ context.Context, task store.Task, expectedETag string) (*store.Task, error) {
	existing, ok := r.tasks[task.UID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if existing.ETag != expectedETag {
		return nil, store.ErrETagMismatch
	}
	task.ID = existing.ID
	r.tasks[task.UID] = task
	return &task, nil
}

func (r *fakeTaskRepo) DeleteByUID(_ context.Context, _ int64, uid string) error {
	delete(r.tasks, uid)
	return nil
}

func (r *fakeTaskRepo) OverrideOccurrence(_ context.Context, parentID int64, exceptionStart time.Time, detached store.Task) (*store.Task, error) {
	for uid, t := range r.tasks {
		if t.ID == parentID {
			t.ExceptionDates = append(t.ExceptionDates, exceptionStart)
			r.tasks[uid] = t
		}
	}
	return r.Create(context.Background(), detached)
}

type fakeReminderRepo struct{}

func (fakeReminderRepo) ListForTask(_ context.Context, _ int64) ([]store.Reminder, error) {
	return nil, nil
}

func (fakeReminderRepo) ListForCalendar(_ context.Context, _ int64) (map[int64][]store.Reminder, error) {
	return map[int64][]store.Reminder{}, nil
}

func (fakeReminderRepo) ReplaceForTask(_ context.Context, _ int64, _ []store.Reminder) error {
	return nil
}

func (fakeReminderRepo) ListPending(_ context.Context, _, _ time.Time) ([]store.PendingReminder, error) {
	return nil, nil
}
