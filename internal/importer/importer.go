// Package importer classifies bulk-imported events against a calendar's
// existing tasks and applies them under a caller-chosen strategy.
package importer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/taskcal-dev/taskcal/internal/fault"
	"github.com/taskcal-dev/taskcal/internal/ics"
	"github.com/taskcal-dev/taskcal/internal/metrics"
	"github.com/taskcal-dev/taskcal/internal/recurrence"
	"github.com/taskcal-dev/taskcal/internal/store"
)

// Strategy selects what Apply does with duplicates.
type Strategy string

const (
	// StrategySkip writes only events whose UID is new to the calendar.
	StrategySkip Strategy = "SKIP"
	// StrategyUpdate writes new events and overwrites duplicates.
	StrategyUpdate Strategy = "UPDATE"
	// StrategyCreateAnyway writes every event as a new task, regenerating
	// the UID on collision. Duplicates by design.
	StrategyCreateAnyway Strategy = "CREATE_ANYWAY"
)

// ParseStrategy validates a client-supplied strategy string.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToUpper(strings.TrimSpace(s))) {
	case StrategySkip:
		return StrategySkip, nil
	case StrategyUpdate:
		return StrategyUpdate, nil
	case StrategyCreateAnyway:
		return StrategyCreateAnyway, nil
	default:
		return "", fault.Validationf("unknown import strategy %q", s)
	}
}

// Status classifies one incoming event against the existing calendar.
type Status string

const (
	StatusNew       Status = "new"
	StatusDuplicate Status = "duplicate"
)

// PreviewItem is the classification of a single incoming event.
type PreviewItem struct {
	Draft  ics.Draft
	Status Status
	// ContentChanged is set on duplicates whose start time or title differ
	// from the stored task.
	ContentChanged bool
}

// Summary is a side-effect-free import preview.
type Summary struct {
	Items      []PreviewItem
	New        int
	Duplicates int
	Changed    int
}

// Preview classifies incoming events against existing tasks by UID. Pure:
// no reads beyond its arguments, no writes, safe to show a client before
// committing.
func Preview(incoming []ics.Draft, existing []store.Task) Summary {
	byUID := make(map[string]*store.Task, len(existing))
	for i := range existing {
		byUID[existing[i].UID] = &existing[i]
	}

	summary := Summary{Items: make([]PreviewItem, 0, len(incoming))}
	for _, draft := range incoming {
		item := PreviewItem{Draft: draft, Status: StatusNew}
		if current, ok := byUID[draft.UID]; ok && draft.UID != "" {
			item.Status = StatusDuplicate
			item.ContentChanged = !draft.Start.Equal(current.Start) || draft.Title != current.Title
			summary.Duplicates++
			if item.ContentChanged {
				summary.Changed++
			}
		} else {
			summary.New++
		}
		summary.Items = append(summary.Items, item)
	}
	return summary
}

// Importer applies classified events to a calendar.
type Importer struct {
	tasks store.TaskRepository
}

func New(tasks store.TaskRepository) *Importer {
	return &Importer{tasks: tasks}
}

// Apply writes the incoming events to the calendar under the given
// strategy and returns how many were applied. Per-item failures are logged
// and skipped; the batch continues.
func (im *Importer) Apply(ctx context.Context, calendarID int64, incoming []ics.Draft, strategy Strategy) (int, error) {
	existing, err := im.tasks.ListForCalendar(ctx, calendarID)
	if err != nil {
		return 0, fmt.Errorf("list existing tasks: %w", err)
	}
	summary := Preview(incoming, existing)

	applied := 0
	for _, item := range summary.Items {
		ok, err := im.applyItem(ctx, calendarID, item, strategy)
		if err != nil {
			slog.Warn("import: skipping event", "uid", item.Draft.UID, "err", err)
			metrics.ObserveImportOutcome("failed")
			continue
		}
		if ok {
			applied++
		}
	}
	return applied, nil
}

func (im *Importer) applyItem(ctx context.Context, calendarID int64, item PreviewItem, strategy Strategy) (bool, error) {
	task := item.Draft.ToTask(calendarID)
	if err := recurrence.ValidateRule(task.RecurrenceRule); err != nil {
		return false, err
	}
	if task.UID == "" {
		task.UID = NewUID()
	}
	task.ETag = task.ComputeETag()

	switch strategy {
	case StrategySkip:
		if item.Status == StatusDuplicate {
			metrics.ObserveImportOutcome("skipped")
			return false, nil
		}
		if _, err := im.tasks.Create(ctx, task); err != nil {
			return false, err
		}
		metrics.ObserveImportOutcome("created")
		return true, nil

	case StrategyUpdate:
		if item.Status == StatusDuplicate {
			if _, err := im.tasks.Update(ctx, task); err != nil {
				return false, err
			}
			metrics.ObserveImportOutcome("updated")
			return true, nil
		}
		if _, err := im.tasks.Create(ctx, task); err != nil {
			return false, err
		}
		metrics.ObserveImportOutcome("created")
		return true, nil

	case StrategyCreateAnyway:
		if item.Status == StatusDuplicate {
			task.UID = NewUID()
			task.ETag = task.ComputeETag()
		}
		if _, err := im.tasks.Create(ctx, task); err != nil {
			return false, err
		}
		metrics.ObserveImportOutcome("created")
		return true, nil

	default:
		return false, fault.Validationf("unknown import strategy %q", strategy)
	}
}

// NewUID mints a task UID.
func NewUID() string {
	return uuid.NewString() + "@taskcal"
}
