// Package ics maps tasks to and from iCalendar (RFC5545) text.
//
// Encoding emits one VEVENT per task with a VALARM per reminder; decoding
// accepts VEVENT and VTODO components and turns them into task drafts. Both
// directions tolerate partial failure: one malformed component is logged and
// reported per item, never aborting the rest of the batch.
package ics

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"github.com/taskcal-dev/taskcal/internal/fault"
	"github.com/taskcal-dev/taskcal/internal/store"
)

const (
	prodID = "-//TaskCal//TaskCal Server//EN"

	// ColorProp is the vendor extension carrying the task's hex color.
	ColorProp = "X-TASKCAL-COLOR"
	// calendarNameProp is the common calendar display-name extension.
	calendarNameProp = "X-WR-CALNAME"

	// untitledEvent is the title for VEVENTs without SUMMARY.
	untitledEvent = "Untitled Event"
	// todoTitlePrefix marks tasks imported from VTODO components.
	todoTitlePrefix = "[TODO] "
	// todoDuration is the fixed length of a timed task decoded from a VTODO
	// with a date-time DUE. To-dos have no natural end time.
	todoDuration = 30 * time.Minute
)

// timeNow is swapped out by tests that pin "today".
var timeNow = time.Now

// Item pairs a task with its reminders for encoding.
type Item struct {
	Task      store.Task
	Reminders []store.Reminder
}

// Draft is a decoded task-creation request. It has no identity beyond the
// UID; the caller decides what to do with it (import preview, PUT, ...).
type Draft struct {
	UID            string
	Title          string
	Description    string
	Location       string
	Start          time.Time
	End            time.Time
	AllDay         bool
	Color          string
	RecurrenceRule string
}

// ItemError reports one component that could not be decoded. The rest of the
// batch is unaffected.
type ItemError struct {
	Index     int
	Component string
	UID       string
	Err       error
}

func (e ItemError) Error() string {
	return fmt.Sprintf("component %d (%s, uid %q): %v", e.Index, e.Component, e.UID, e.Err)
}

// Encode renders the items as a single VCALENDAR. A task that fails to
// encode is logged and skipped.
func Encode(items []Item, calendarName string) ([]byte, error) {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, prodID)
	cal.Props.SetText(ical.PropCalendarScale, "GREGORIAN")
	if calendarName != "" {
		cal.Props.SetText(calendarNameProp, calendarName)
	}

	for i := range items {
		event, err := encodeTask(&items[i].Task, items[i].Reminders)
		if err != nil {
			slog.Warn("skipping task that failed to encode",
				"uid", items[i].Task.UID, "err", err)
			continue
		}
		cal.Children = append(cal.Children, event)
	}

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, fmt.Errorf("encode calendar: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeTask renders a single task as its own VCALENDAR, the body of a
// CalDAV resource GET.
func EncodeTask(task store.Task, reminders []store.Reminder) ([]byte, error) {
	return Encode([]Item{{Task: task, Reminders: reminders}}, "")
}

func encodeTask(task *store.Task, reminders []store.Reminder) (*ical.Component, error) {
	if task.UID == "" {
		return nil, fmt.Errorf("task has no uid")
	}

	event := ical.NewEvent()
	event.Props.SetText(ical.PropUID, task.UID)
	event.Props.SetDateTime(ical.PropDateTimeStamp, timeNow().UTC())
	event.Props.SetText(ical.PropSummary, task.Title)
	if task.Description != "" {
		event.Props.SetText(ical.PropDescription, task.Description)
	}
	if task.Location != "" {
		event.Props.SetText(ical.PropLocation, task.Location)
	}

	if task.AllDay {
		event.Props.SetDate(ical.PropDateTimeStart, task.Start)
		event.Props.SetDate(ical.PropDateTimeEnd, task.End)
	} else {
		event.Props.SetDateTime(ical.PropDateTimeStart, task.Start.UTC())
		event.Props.SetDateTime(ical.PropDateTimeEnd, task.End.UTC())
	}

	if !task.CreatedAt.IsZero() {
		event.Props.SetDateTime(ical.PropCreated, task.CreatedAt.UTC())
	}
	if !task.UpdatedAt.IsZero() {
		event.Props.SetDateTime(ical.PropLastModified, task.UpdatedAt.UTC())
	}

	// The rule is stored pre-validated; pass it through verbatim.
	if task.RecurrenceRule != "" {
		event.Props.SetText(ical.PropRecurrenceRule, task.RecurrenceRule)
	}
	if task.Color != "" {
		event.Props.SetText(ColorProp, task.Color)
	}

	for _, rem := range reminders {
		event.Children = append(event.Children, encodeAlarm(rem))
	}

	return event.Component, nil
}

func encodeAlarm(rem store.Reminder) *ical.Component {
	alarm := ical.NewComponent(ical.CompAlarm)
	alarm.Props.SetText(ical.PropAction, "DISPLAY")
	alarm.Props.SetText(ical.PropDescription, "Reminder")
	alarm.Props.SetText(ical.PropTrigger, fmt.Sprintf("-PT%dM", rem.MinutesBefore))
	return alarm
}

// Decode parses iCalendar data into task drafts. VEVENT and VTODO
// components are supported; anything else (VTIMEZONE, ...) is ignored. A
// component that cannot be decoded produces an ItemError and the rest
// continue. A body that is not iCalendar at all yields a validation fault.
func Decode(data []byte) ([]Draft, []ItemError, error) {
	cal, err := ical.NewDecoder(bytes.NewReader(data)).Decode()
	if err != nil {
		return nil, nil, fault.Wrap(err, fault.KindValidation, "malformed iCalendar data")
	}

	var drafts []Draft
	var errs []ItemError
	for i, comp := range cal.Children {
		var draft Draft
		var decodeErr error
		switch comp.Name {
		case ical.CompEvent:
			draft, decodeErr = decodeEvent(comp)
		case ical.CompToDo:
			draft, decodeErr = decodeTodo(comp)
		default:
			continue
		}
		if decodeErr != nil {
			item := ItemError{Index: i, Component: comp.Name, UID: propValue(comp, ical.PropUID), Err: decodeErr}
			slog.Warn("skipping undecodable component", "component", comp.Name, "uid", item.UID, "err", decodeErr)
			errs = append(errs, item)
			continue
		}
		drafts = append(drafts, draft)
	}
	return drafts, errs, nil
}

func decodeEvent(comp *ical.Component) (Draft, error) {
	draft := Draft{
		UID:            propValue(comp, ical.PropUID),
		Title:          propValue(comp, ical.PropSummary),
		Description:    propValue(comp, ical.PropDescription),
		Location:       propValue(comp, ical.PropLocation),
		Color:          propValue(comp, ColorProp),
		RecurrenceRule: propValue(comp, ical.PropRecurrenceRule),
	}
	if draft.Title == "" {
		draft.Title = untitledEvent
	}

	startProp := comp.Props.Get(ical.PropDateTimeStart)
	endProp := comp.Props.Get(ical.PropDateTimeEnd)
	if startProp == nil {
		// Events without dates still import, anchored at "now, 1 hour".
		now := timeNow().UTC().Truncate(time.Minute)
		draft.Start = now
		draft.End = now.Add(time.Hour)
		return draft, nil
	}

	start, err := startProp.DateTime(time.UTC)
	if err != nil {
		return Draft{}, fmt.Errorf("invalid DTSTART %q: %w", startProp.Value, err)
	}
	draft.Start = start
	draft.AllDay = isDateValue(startProp)

	if endProp != nil {
		end, err := endProp.DateTime(time.UTC)
		if err != nil {
			return Draft{}, fmt.Errorf("invalid DTEND %q: %w", endProp.Value, err)
		}
		draft.End = end
	}
	if !draft.End.After(draft.Start) {
		if draft.AllDay {
			draft.End = draft.Start.AddDate(0, 0, 1)
		} else {
			draft.End = draft.Start.Add(time.Hour)
		}
	}
	return draft, nil
}

// decodeTodo maps a VTODO onto the task model using the DUE property:
// a date-time DUE becomes a fixed 30-minute timed task, a date-only DUE an
// all-day task on that date, and a missing DUE an all-day task for today.
func decodeTodo(comp *ical.Component) (Draft, error) {
	draft := Draft{
		UID:         propValue(comp, ical.PropUID),
		Title:       todoTitlePrefix + orDefault(propValue(comp, ical.PropSummary), untitledEvent),
		Description: propValue(comp, ical.PropDescription),
		Location:    propValue(comp, ical.PropLocation),
		Color:       propValue(comp, ColorProp),
	}

	dueProp := comp.Props.Get(ical.PropDue)
	switch {
	case dueProp == nil:
		today := truncateToDay(timeNow().UTC())
		draft.Start = today
		draft.End = today.AddDate(0, 0, 1)
		draft.AllDay = true
	case isDateValue(dueProp):
		due, err := dueProp.DateTime(time.UTC)
		if err != nil {
			return Draft{}, fmt.Errorf("invalid DUE %q: %w", dueProp.Value, err)
		}
		day := truncateToDay(due)
		draft.Start = day
		draft.End = day.AddDate(0, 0, 1)
		draft.AllDay = true
	default:
		due, err := dueProp.DateTime(time.UTC)
		if err != nil {
			return Draft{}, fmt.Errorf("invalid DUE %q: %w", dueProp.Value, err)
		}
		draft.Start = due
		draft.End = due.Add(todoDuration)
	}
	return draft, nil
}

func propValue(comp *ical.Component, name string) string {
	if prop := comp.Props.Get(name); prop != nil {
		return prop.Value
	}
	return ""
}

// isDateValue reports whether the property carries a DATE (not DATE-TIME)
// value, either by explicit VALUE param or by its bare YYYYMMDD shape.
func isDateValue(prop *ical.Prop) bool {
	if prop.Params.Get(ical.ParamValue) == string(ical.ValueDate) {
		return true
	}
	return len(prop.Value) == 8 && !strings.ContainsRune(prop.Value, 'T')
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
