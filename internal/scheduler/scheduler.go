// Package scheduler fires task reminders on a cron cadence. Each scan picks
// up reminders whose fire time fell into the window since the previous scan
// plus a small lookahead, so a slow tick does not drop notifications.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/taskcal-dev/taskcal/internal/recurrence"
	"github.com/taskcal-dev/taskcal/internal/store"
)

// Notification is one reminder firing for one concrete occurrence.
type Notification struct {
	Reminder        store.Reminder
	Task            store.Task
	OccurrenceStart time.Time
}

// Notifier delivers one notification. Implementations pick their transport
// from the reminder's channel tag.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes reminders to the structured log. The default until a
// real delivery transport is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, n Notification) error {
	slog.Info("reminder due",
		"task_uid", n.Task.UID,
		"title", n.Task.Title,
		"occurrence_start", n.OccurrenceStart,
		"minutes_before", n.Reminder.MinutesBefore,
		"channel", n.Reminder.Channel)
	return nil
}

// Scheduler scans for due reminders on a cron spec.
type Scheduler struct {
	reminders store.ReminderRepository
	notifier  Notifier
	lookahead time.Duration

	cron *cron.Cron

	mu       sync.Mutex
	lastScan time.Time
}

func New(reminders store.ReminderRepository, notifier Notifier, lookahead time.Duration) *Scheduler {
	return &Scheduler{
		reminders: reminders,
		notifier:  notifier,
		lookahead: lookahead,
		cron:      cron.New(),
		lastScan:  time.Now().UTC(),
	}
}

// Start registers the scan under the given cron spec and starts ticking.
func (s *Scheduler) Start(ctx context.Context, spec string) error {
	_, err := s.cron.AddFunc(spec, func() { s.Scan(ctx) })
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron loop and waits for a running scan to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Scan delivers reminders whose fire time falls in [lastScan, now+lookahead).
// The window advances only after a scan runs, so reminders missed during a
// stall are delivered late rather than never. Recurring tasks are expanded
// so every occurrence in the window fires, not just the first.
func (s *Scheduler) Scan(ctx context.Context) {
	s.mu.Lock()
	from := s.lastScan
	to := time.Now().UTC().Add(s.lookahead)
	if !to.After(from) {
		s.mu.Unlock()
		return
	}
	s.lastScan = to
	s.mu.Unlock()

	pending, err := s.reminders.ListPending(ctx, from, to)
	if err != nil {
		slog.Error("reminder scan failed", "err", err)
		return
	}

	for i := range pending {
		p := &pending[i]
		// Fire time is occurrence start minus the lead; shift the window by
		// the lead to expand in occurrence-start space.
		lead := time.Duration(p.MinutesBefore) * time.Minute
		for _, occ := range recurrence.Expand(&p.Task, from.Add(lead), to.Add(lead)) {
			n := Notification{Reminder: p.Reminder, Task: p.Task, OccurrenceStart: occ.Start}
			if err := s.notifier.Notify(ctx, n); err != nil {
				slog.Warn("reminder delivery failed", "task_uid", p.Task.UID, "err", err)
			}
		}
	}
}
