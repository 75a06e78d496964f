// Package recurrence expands recurring tasks into concrete occurrences.
//
// Expansion is a pure function of its inputs: it never mutates the task and
// returns the same occurrence list for the same arguments. Rules are parsed
// with rrule-go; the supported grammar is the FREQ/INTERVAL/COUNT/UNTIL/BY*
// subset of RFC5545 RECUR.
package recurrence

import (
	"log/slog"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/taskcal-dev/taskcal/internal/fault"
	"github.com/taskcal-dev/taskcal/internal/metrics"
	"github.com/taskcal-dev/taskcal/internal/store"
)

// MaxOccurrences is the hard cap on occurrences returned by a single Expand
// call. Rules with neither COUNT nor UNTIL are otherwise unbounded; hitting
// the cap truncates the result, it is not an error.
const MaxOccurrences = 1000

// Source tags where an occurrence came from.
type Source int

const (
	// FromSeries marks an occurrence produced by expanding a parent task's
	// recurrence rule.
	FromSeries Source = iota
	// Standalone marks a task's own single instance, including detached
	// override tasks.
	Standalone
)

func (s Source) String() string {
	if s == FromSeries {
		return "series"
	}
	return "standalone"
}

// Occurrence is one concrete instance of a task inside a query window.
// Derived, never persisted.
type Occurrence struct {
	Task   *store.Task
	Start  time.Time
	End    time.Time
	Source Source
	// First marks the task's own original instance.
	First bool
}

// ValidateRule reports whether rule parses under the supported RRULE
// grammar. Empty rules are valid (non-recurring). Called at task
// create/update time so expansion never sees an unparseable rule.
func ValidateRule(rule string) error {
	if rule == "" {
		return nil
	}
	if _, err := rrule.StrToRRule(rule); err != nil {
		return fault.Wrap(err, fault.KindValidation, "invalid recurrence rule")
	}
	return nil
}

// Expand returns the task's occurrences inside [rangeStart, rangeEnd),
// ordered by start. Non-recurring tasks yield zero or one occurrence, per
// the overlap test start < rangeEnd && end > rangeStart. For recurring
// tasks, candidates whose start is in the task's exception set are skipped,
// and every occurrence keeps the task's own duration.
//
// A rule that validated at write time cannot fail here; at worst the result
// is empty.
func Expand(task *store.Task, rangeStart, rangeEnd time.Time) []Occurrence {
	if !rangeStart.Before(rangeEnd) {
		return nil
	}

	if task.RecurrenceRule == "" {
		if task.Start.Before(rangeEnd) && task.End.After(rangeStart) {
			return []Occurrence{{
				Task:   task,
				Start:  task.Start,
				End:    task.End,
				Source: Standalone,
				First:  true,
			}}
		}
		return nil
	}

	rule, err := rrule.StrToRRule(task.RecurrenceRule)
	if err != nil {
		// Should have been rejected at create/update time.
		slog.Warn("skipping task with unparseable recurrence rule",
			"uid", task.UID, "rule", task.RecurrenceRule, "err", err)
		return nil
	}
	rule.DTStart(task.Start.UTC())

	duration := task.Duration()
	windowStart := task.Start
	if rangeStart.After(windowStart) {
		windowStart = rangeStart
	}

	var out []Occurrence
	next := rule.Iterator()
	for {
		start, ok := next()
		if !ok {
			break
		}
		if start.Before(windowStart) {
			continue
		}
		if !start.Before(rangeEnd) {
			break
		}
		// RecurrenceEnd is an inclusive bound on occurrence starts.
		if task.RecurrenceEnd != nil && start.After(*task.RecurrenceEnd) {
			break
		}
		if task.IsException(start) {
			continue
		}
		out = append(out, Occurrence{
			Task:   task,
			Start:  start,
			End:    start.Add(duration),
			Source: FromSeries,
			First:  start.Equal(task.Start),
		})
		if len(out) >= MaxOccurrences {
			slog.Warn("recurrence expansion truncated at occurrence cap",
				"uid", task.UID, "rule", task.RecurrenceRule, "cap", MaxOccurrences)
			metrics.ObserveExpansionCapHit()
			break
		}
	}
	return out
}

// ExpandAll expands every task into one merged, start-ordered occurrence
// list. Used for calendar window queries where series tasks and detached
// override tasks live side by side.
func ExpandAll(tasks []store.Task, rangeStart, rangeEnd time.Time) []Occurrence {
	var out []Occurrence
	for i := range tasks {
		out = append(out, Expand(&tasks[i], rangeStart, rangeEnd)...)
	}
	sortOccurrences(out)
	return out
}

func sortOccurrences(occs []Occurrence) {
	// Insertion sort: per-task output is already ordered, so the merged list
	// is nearly sorted.
	for i := 1; i < len(occs); i++ {
		for j := i; j > 0 && occs[j].Start.Before(occs[j-1].Start); j-- {
			occs[j], occs[j-1] = occs[j-1], occs[j]
		}
	}
}
