package ics

import "github.com/taskcal-dev/taskcal/internal/store"

// ToTask materializes the draft as a task record for the given calendar.
// The caller owns validation and ETag computation.
func (d Draft) ToTask(calendarID int64) store.Task {
	return store.Task{
		CalendarID:     calendarID,
		UID:            d.UID,
		Title:          d.Title,
		Description:    d.Description,
		Location:       d.Location,
		Start:          d.Start.UTC(),
		End:            d.End.UTC(),
		Timezone:       "UTC",
		AllDay:         d.AllDay,
		Color:          d.Color,
		RecurrenceRule: d.RecurrenceRule,
	}
}
