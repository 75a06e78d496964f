package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskcal-dev/taskcal/internal/fault"
	"github.com/taskcal-dev/taskcal/internal/store"
)

func newTask(uid string, start time.Time, duration time.Duration, rule string) store.Task {
	return store.Task{
		UID:            uid,
		Title:          "Task " + uid,
		Start:          start,
		End:            start.Add(duration),
		Timezone:       "UTC",
		RecurrenceRule: rule,
	}
}

func TestValidateRule(t *testing.T) {
	assert.NoError(t, ValidateRule(""))
	assert.NoError(t, ValidateRule("FREQ=DAILY;COUNT=7"))
	assert.NoError(t, ValidateRule("FREQ=WEEKLY;INTERVAL=2;BYDAY=MO,WE"))

	err := ValidateRule("FREQ=SOMETIMES")
	require.Error(t, err)
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))
}

func TestExpandDailyCount(t *testing.T) {
	start := time.Date(2025, 10, 1, 10, 0, 0, 0, time.UTC)
	task := newTask("daily", start, time.Hour, "FREQ=DAILY;COUNT=7")

	occs := Expand(&task,
		time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC))

	require.Len(t, occs, 7)
	for i, occ := range occs {
		assert.Equal(t, start.AddDate(0, 0, i), occ.Start)
		assert.Equal(t, time.Hour, occ.End.Sub(occ.Start))
		assert.Equal(t, FromSeries, occ.Source)
	}
	assert.True(t, occs[0].First)
	assert.False(t, occs[1].First)
}

func TestExpandWeeklyByDay(t *testing.T) {
	// First Monday of October 2025.
	start := time.Date(2025, 10, 6, 9, 0, 0, 0, time.UTC)
	task := newTask("weekly", start, 30*time.Minute, "FREQ=WEEKLY;COUNT=4;BYDAY=MO")

	occs := Expand(&task,
		time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC))

	require.Len(t, occs, 4)
	for i, day := range []int{6, 13, 20, 27} {
		assert.Equal(t, time.Date(2025, 10, day, 9, 0, 0, 0, time.UTC), occs[i].Start)
		assert.Equal(t, time.Monday, occs[i].Start.Weekday())
	}
}

func TestExpandSkipsExceptionDates(t *testing.T) {
	start := time.Date(2025, 10, 6, 14, 0, 0, 0, time.UTC)
	task := newTask("except", start, time.Hour, "FREQ=WEEKLY;COUNT=4;BYDAY=MO")
	task.ExceptionDates = []time.Time{time.Date(2025, 10, 13, 14, 0, 0, 0, time.UTC)}

	occs := Expand(&task,
		time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC))

	require.Len(t, occs, 3)
	for _, occ := range occs {
		assert.NotEqual(t, 13, occ.Start.Day())
	}
}

func TestExpandRecurrenceEndInclusive(t *testing.T) {
	start := time.Date(2025, 10, 1, 8, 0, 0, 0, time.UTC)
	task := newTask("bounded", start, time.Hour, "FREQ=DAILY")
	until := time.Date(2025, 10, 5, 8, 0, 0, 0, time.UTC)
	task.RecurrenceEnd = &until

	occs := Expand(&task,
		time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC))

	// Oct 1 through Oct 5: the bound itself still counts.
	require.Len(t, occs, 5)
	assert.Equal(t, until, occs[4].Start)
}

func TestExpandWindowClipping(t *testing.T) {
	start := time.Date(2025, 10, 1, 10, 0, 0, 0, time.UTC)
	task := newTask("clip", start, time.Hour, "FREQ=DAILY;COUNT=30")

	occs := Expand(&task,
		time.Date(2025, 10, 10, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 10, 13, 0, 0, 0, 0, time.UTC))

	require.Len(t, occs, 3)
	assert.Equal(t, 10, occs[0].Start.Day())
	assert.Equal(t, 12, occs[2].Start.Day())
}

func TestExpandNonRecurring(t *testing.T) {
	start := time.Date(2025, 10, 10, 18, 0, 0, 0, time.UTC)
	task := newTask("single", start, 2*time.Hour, "")

	t.Run("inside window", func(t *testing.T) {
		occs := Expand(&task,
			time.Date(2025, 10, 10, 0, 0, 0, 0, time.UTC),
			time.Date(2025, 10, 11, 0, 0, 0, 0, time.UTC))
		require.Len(t, occs, 1)
		assert.Equal(t, Standalone, occs[0].Source)
		assert.True(t, occs[0].First)
	})

	t.Run("straddles window start", func(t *testing.T) {
		occs := Expand(&task,
			time.Date(2025, 10, 10, 19, 0, 0, 0, time.UTC),
			time.Date(2025, 10, 11, 0, 0, 0, 0, time.UTC))
		require.Len(t, occs, 1)
	})

	t.Run("outside window", func(t *testing.T) {
		occs := Expand(&task,
			time.Date(2025, 10, 11, 0, 0, 0, 0, time.UTC),
			time.Date(2025, 10, 12, 0, 0, 0, 0, time.UTC))
		assert.Empty(t, occs)
	})

	t.Run("ends exactly at window start", func(t *testing.T) {
		occs := Expand(&task,
			time.Date(2025, 10, 10, 20, 0, 0, 0, time.UTC),
			time.Date(2025, 10, 11, 0, 0, 0, 0, time.UTC))
		assert.Empty(t, occs)
	})
}

func TestExpandCapsUnboundedRules(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	task := newTask("unbounded", start, time.Hour, "FREQ=DAILY")

	occs := Expand(&task, start, start.AddDate(100, 0, 0))
	assert.Len(t, occs, MaxOccurrences)
}

func TestExpandInvalidRange(t *testing.T) {
	start := time.Date(2025, 10, 1, 10, 0, 0, 0, time.UTC)
	task := newTask("range", start, time.Hour, "FREQ=DAILY;COUNT=7")
	assert.Empty(t, Expand(&task, start, start))
	assert.Empty(t, Expand(&task, start.AddDate(0, 1, 0), start))
}

func TestExpandAllMergesAndSorts(t *testing.T) {
	daily := newTask("a", time.Date(2025, 10, 1, 10, 0, 0, 0, time.UTC), time.Hour, "FREQ=DAILY;COUNT=3")
	single := newTask("b", time.Date(2025, 10, 2, 8, 0, 0, 0, time.UTC), time.Hour, "")

	occs := ExpandAll([]store.Task{daily, single},
		time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 10, 10, 0, 0, 0, 0, time.UTC))

	require.Len(t, occs, 4)
	for i := 1; i < len(occs); i++ {
		assert.False(t, occs[i].Start.Before(occs[i-1].Start))
	}
	assert.Equal(t, "b", occs[1].Task.UID)
}
