package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// userRepo implements UserRepository.
type userRepo struct {
	pool *pgxpool.Pool
}

const userColumns = `id, username, email, created_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *userRepo) GetByID(ctx context.Context, id int64) (*User, error) {
	defer observeDB(ctx, "db.users.get_by_id")()
	return scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id=$1`, id))
}

func (r *userRepo) GetByPrincipal(ctx context.Context, principal string) (*User, error) {
	defer observeDB(ctx, "db.users.get_by_principal")()
	return scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE username=$1 OR email=$1`, principal))
}

// calendarRepo implements CalendarRepository.
type calendarRepo struct {
	pool *pgxpool.Pool
}

const calendarColumns = `id, user_id, slug, name, color, created_at, updated_at`

func scanCalendar(row pgx.Row) (*Calendar, error) {
	var c Calendar
	err := row.Scan(&c.ID, &c.UserID, &c.Slug, &c.Name, &c.Color, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *calendarRepo) GetBySlug(ctx context.Context, userID int64, slug string) (*Calendar, error) {
	defer observeDB(ctx, "db.calendars.get_by_slug")()
	return scanCalendar(r.pool.QueryRow(ctx,
		`SELECT `+calendarColumns+` FROM calendars WHERE user_id=$1 AND slug=$2`, userID, slug))
}

func (r *calendarRepo) ListByUser(ctx context.Context, userID int64) ([]Calendar, error) {
	defer observeDB(ctx, "db.calendars.list_by_user")()
	rows, err := r.pool.Query(ctx,
		`SELECT `+calendarColumns+` FROM calendars WHERE user_id=$1 ORDER BY name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cals []Calendar
	for rows.Next() {
		c, err := scanCalendar(rows)
		if err != nil {
			return nil, err
		}
		cals = append(cals, *c)
	}
	return cals, rows.Err()
}

func (r *calendarRepo) Create(ctx context.Context, cal Calendar) (*Calendar, error) {
	defer observeDB(ctx, "db.calendars.create")()
	return scanCalendar(r.pool.QueryRow(ctx,
		`INSERT INTO calendars (user_id, slug, name, color)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+calendarColumns,
		cal.UserID, cal.Slug, cal.Name, cal.Color))
}

func (r *calendarRepo) Touch(ctx context.Context, id int64) error {
	defer observeDB(ctx, "db.calendars.touch")()
	_, err := r.pool.Exec(ctx, `UPDATE calendars SET updated_at=NOW() WHERE id=$1`, id)
	return err
}

// taskRepo implements TaskRepository.
type taskRepo struct {
	pool *pgxpool.Pool
}

const taskColumns = `id, calendar_id, uid, title, description, location,
	start_at, end_at, timezone, all_day, color,
	recurrence_rule, recurrence_end, exception_dates, etag, created_at, updated_at`

func scanTask(row pgx.Row) (*Task, error) {
	var t Task
	err := row.Scan(&t.ID, &t.CalendarID, &t.UID, &t.Title, &t.Description, &t.Location,
		&t.Start, &t.End, &t.Timezone, &t.AllDay, &t.Color,
		&t.RecurrenceRule, &t.RecurrenceEnd, &t.ExceptionDates, &t.ETag, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.Start = t.Start.UTC()
	t.End = t.End.UTC()
	return &t, nil
}

func (r *taskRepo) GetByUID(ctx context.Context, calendarID int64, uid string) (*Task, error) {
	defer observeDB(ctx, "db.tasks.get_by_uid")()
	return scanTask(r.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE calendar_id=$1 AND uid=$2`, calendarID, uid))
}

func (r *taskRepo) ListForCalendar(ctx context.Context, calendarID int64) ([]Task, error) {
	defer observeDB(ctx, "db.tasks.list_for_calendar")()
	rows, err := r.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE calendar_id=$1 ORDER BY start_at`, calendarID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (r *taskRepo) ListOverlapping(ctx context.Context, calendarID int64, start, end time.Time) ([]Task, error) {
	defer observeDB(ctx, "db.tasks.list_overlapping")()
	// Non-recurring tasks use the plain overlap test. Recurring tasks are
	// included until their recurrence end; an open-ended rule always matches.
	rows, err := r.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE calendar_id=$1
		   AND (
		     (recurrence_rule = '' AND start_at < $3 AND end_at > $2)
		     OR (recurrence_rule <> '' AND start_at < $3
		         AND (recurrence_end IS NULL OR recurrence_end > $2))
		   )
		 ORDER BY start_at`,
		calendarID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

func collectTasks(rows pgx.Rows) ([]Task, error) {
	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

const taskInsertSQL = `INSERT INTO tasks
	(calendar_id, uid, title, description, location, start_at, end_at,
	 timezone, all_day, color, recurrence_rule, recurrence_end,
	 exception_dates, etag)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	RETURNING ` + taskColumns

func taskInsertArgs(t Task) []any {
	ex := t.ExceptionDates
	if ex == nil {
		ex = []time.Time{}
	}
	return []any{t.CalendarID, t.UID, t.Title, t.Description, t.Location,
		t.Start, t.End, t.Timezone, t.AllDay, t.Color,
		t.RecurrenceRule, t.RecurrenceEnd, ex, t.ETag}
}

func (r *taskRepo) Create(ctx context.Context, task Task) (*Task, error) {
	defer observeDB(ctx, "db.tasks.create")()
	return scanTask(r.pool.QueryRow(ctx, taskInsertSQL, taskInsertArgs(task)...))
}

const taskUpdateSQL = `UPDATE tasks SET
	title=$3, description=$4, location=$5, start_at=$6, end_at=$7,
	timezone=$8, all_day=$9, color=$10, recurrence_rule=$11,
	recurrence_end=$12, exception_dates=$13, etag=$14, updated_at=NOW()
	WHERE calendar_id=$1 AND uid=$2`

func taskUpdateArgs(t Task) []any {
	ex := t.ExceptionDates
	if ex == nil {
		ex = []time.Time{}
	}
	return []any{t.CalendarID, t.UID, t.Title, t.Description, t.Location,
		t.Start, t.End, t.Timezone, t.AllDay, t.Color,
		t.RecurrenceRule, t.RecurrenceEnd, ex, t.ETag}
}

func (r *taskRepo) Update(ctx context.Context, task Task) (*Task, error) {
	defer observeDB(ctx, "db.tasks.update")()
	return scanTask(r.pool.QueryRow(ctx,
		taskUpdateSQL+` RETURNING `+taskColumns, taskUpdateArgs(task)...))
}

func (r *taskRepo) UpdateIfETag(ctx context.Context, task Task, expectedETag string) (*Task, error) {
	defer observeDB(ctx, "db.tasks.update_if_etag")()
	args := append(taskUpdateArgs(task), expectedETag)
	updated, err := scanTask(r.pool.QueryRow(ctx,
		taskUpdateSQL+` AND etag=$15 RETURNING `+taskColumns, args...))
	if err != nil {
		return nil, err
	}
	if updated == nil {
		// Either the row is gone or the etag moved underneath the caller.
		current, err := r.GetByUID(ctx, task.CalendarID, task.UID)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return nil, ErrNotFound
		}
		return nil, ErrETagMismatch
	}
	return updated, nil
}

func (r *taskRepo) DeleteByUID(ctx context.Context, calendarID int64, uid string) error {
	defer observeDB(ctx, "db.tasks.delete_by_uid")()
	_, err := r.pool.Exec(ctx,
		`DELETE FROM tasks WHERE calendar_id=$1 AND uid=$2`, calendarID, uid)
	return err
}

func (r *taskRepo) OverrideOccurrence(ctx context.Context, parentID int64, exceptionStart time.Time, detached Task) (*Task, error) {
	defer observeDB(ctx, "db.tasks.override_occurrence")()
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin override tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE tasks SET exception_dates = array_append(exception_dates, $2),
		        updated_at = NOW()
		 WHERE id=$1 AND NOT ($2 = ANY(exception_dates))`,
		parentID, exceptionStart)
	if err != nil {
		return nil, fmt.Errorf("record exception: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Parent missing, or this occurrence was already overridden.
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM tasks WHERE id=$1)`, parentID).Scan(&exists); err != nil {
			return nil, err
		}
		if !exists {
			return nil, ErrNotFound
		}
	}

	created, err := scanTask(tx.QueryRow(ctx, taskInsertSQL, taskInsertArgs(detached)...))
	if err != nil {
		return nil, fmt.Errorf("create detached task: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit override tx: %w", err)
	}
	return created, nil
}

// reminderRepo implements ReminderRepository.
type reminderRepo struct {
	pool *pgxpool.Pool
}

func (r *reminderRepo) ListForTask(ctx context.Context, taskID int64) ([]Reminder, error) {
	defer observeDB(ctx, "db.reminders.list_for_task")()
	rows, err := r.pool.Query(ctx,
		`SELECT id, task_id, minutes_before, channel FROM reminders
		 WHERE task_id=$1 ORDER BY minutes_before DESC, id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectReminders(rows)
}

func (r *reminderRepo) ListForCalendar(ctx context.Context, calendarID int64) (map[int64][]Reminder, error) {
	defer observeDB(ctx, "db.reminders.list_for_calendar")()
	rows, err := r.pool.Query(ctx,
		`SELECT r.id, r.task_id, r.minutes_before, r.channel
		 FROM reminders r JOIN tasks t ON t.id = r.task_id
		 WHERE t.calendar_id=$1 ORDER BY r.minutes_before DESC, r.id`, calendarID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byTask := make(map[int64][]Reminder)
	reminders, err := collectReminders(rows)
	if err != nil {
		return nil, err
	}
	for _, rem := range reminders {
		byTask[rem.TaskID] = append(byTask[rem.TaskID], rem)
	}
	return byTask, nil
}

func (r *reminderRepo) ReplaceForTask(ctx context.Context, taskID int64, reminders []Reminder) error {
	defer observeDB(ctx, "db.reminders.replace_for_task")()
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM reminders WHERE task_id=$1`, taskID); err != nil {
		return err
	}
	for _, rem := range reminders {
		if _, err := tx.Exec(ctx,
			`INSERT INTO reminders (task_id, minutes_before, channel) VALUES ($1,$2,$3)`,
			taskID, rem.MinutesBefore, rem.Channel); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// ListPending narrows at the database to reminders that can plausibly fire
// inside [from, to): non-recurring tasks by exact fire time, recurring tasks
// by their recurrence window. The caller expands recurring rules into the
// concrete occurrence times.
func (r *reminderRepo) ListPending(ctx context.Context, from, to time.Time) ([]PendingReminder, error) {
	defer observeDB(ctx, "db.reminders.list_pending")()
	rows, err := r.pool.Query(ctx,
		`SELECT r.id, r.task_id, r.minutes_before, r.channel,
		        t.id, t.calendar_id, t.uid, t.title, t.description, t.location,
		        t.start_at, t.end_at, t.timezone, t.all_day, t.color,
		        t.recurrence_rule, t.recurrence_end, t.exception_dates, t.etag,
		        t.created_at, t.updated_at
		 FROM reminders r JOIN tasks t ON t.id = r.task_id
		 WHERE (t.recurrence_rule = ''
		        AND t.start_at - (r.minutes_before * INTERVAL '1 minute') >= $1
		        AND t.start_at - (r.minutes_before * INTERVAL '1 minute') < $2)
		    OR (t.recurrence_rule <> ''
		        AND (t.recurrence_end IS NULL OR t.recurrence_end > $1))
		 ORDER BY t.start_at`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PendingReminder
	for rows.Next() {
		var p PendingReminder
		t := &p.Task
		if err := rows.Scan(&p.ID, &p.TaskID, &p.MinutesBefore, &p.Channel,
			&t.ID, &t.CalendarID, &t.UID, &t.Title, &t.Description, &t.Location,
			&t.Start, &t.End, &t.Timezone, &t.AllDay, &t.Color,
			&t.RecurrenceRule, &t.RecurrenceEnd, &t.ExceptionDates, &t.ETag,
			&t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		t.Start = t.Start.UTC()
		t.End = t.End.UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

func collectReminders(rows pgx.Rows) ([]Reminder, error) {
	var out []Reminder
	for rows.Next() {
		var rem Reminder
		if err := rows.Scan(&rem.ID, &rem.TaskID, &rem.MinutesBefore, &rem.Channel); err != nil {
			return nil, err
		}
		out = append(out, rem)
	}
	return out, rows.Err()
}

// appPasswordRepo implements AppPasswordRepository.
type appPasswordRepo struct {
	pool *pgxpool.Pool
}

func (r *appPasswordRepo) ListActiveByUser(ctx context.Context, userID int64) ([]AppPassword, error) {
	defer observeDB(ctx, "db.app_passwords.list_active")()
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, label, secret_hash, created_at, revoked_at
		 FROM app_passwords WHERE user_id=$1 AND revoked_at IS NULL`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AppPassword
	for rows.Next() {
		var pw AppPassword
		if err := rows.Scan(&pw.ID, &pw.UserID, &pw.Label, &pw.SecretHash, &pw.CreatedAt, &pw.RevokedAt); err != nil {
			return nil, err
		}
		out = append(out, pw)
	}
	return out, rows.Err()
}

func (r *appPasswordRepo) Create(ctx context.Context, pw AppPassword) (*AppPassword, error) {
	defer observeDB(ctx, "db.app_passwords.create")()
	var created AppPassword
	err := r.pool.QueryRow(ctx,
		`INSERT INTO app_passwords (user_id, label, secret_hash)
		 VALUES ($1,$2,$3)
		 RETURNING id, user_id, label, secret_hash, created_at, revoked_at`,
		pw.UserID, pw.Label, pw.SecretHash).
		Scan(&created.ID, &created.UserID, &created.Label, &created.SecretHash, &created.CreatedAt, &created.RevokedAt)
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func (r *appPasswordRepo) Revoke(ctx context.Context, id int64) error {
	defer observeDB(ctx, "db.app_passwords.revoke")()
	_, err := r.pool.Exec(ctx,
		`UPDATE app_passwords SET revoked_at=NOW() WHERE id=$1 AND revoked_at IS NULL`, id)
	return err
}
