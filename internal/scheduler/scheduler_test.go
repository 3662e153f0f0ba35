package scheduler

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSchedule_WeekdayMorningAcrossDST(t *testing.T) {
	sched, err := ParseSchedule("0 8 * * MON-FRI", "America/New_York")
	require.NoError(t, err)

	// Friday 2025-03-07 08:00 EST is 13:00 UTC
	fri := sched.Next(time.Date(2025, 3, 7, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2025, 3, 7, 13, 0, 0, 0, time.UTC), fri.UTC())

	// DST starts Sunday 2025-03-09; Monday 08:00 EDT is 12:00 UTC and the weekend is skipped
	mon := sched.Next(fri)
	assert.Equal(t, time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC), mon.UTC())

	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	for i, at := 0, mon; i < 10; i++ {
		local := at.In(ny)
		assert.Equal(t, 8, local.Hour())
		assert.NotEqual(t, time.Saturday, local.Weekday())
		assert.NotEqual(t, time.Sunday, local.Weekday())
		at = sched.Next(at)
	}
}

func TestParseSchedule_Errors(t *testing.T) {
	tests := []struct {
		name string
		expr string
		tz   string
	}{
		{"bad timezone", "0 8 * * *", "Mars/Olympus"},
		{"missing timezone", "0 8 * * *", ""},
		{"six fields", "0 0 8 * * *", "UTC"},
		{"invalid hour", "0 25 * * *", "UTC"},
		{"embedded timezone", "CRON_TZ=UTC 0 8 * * *", "UTC"},
		{"empty", "", "UTC"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSchedule(tt.expr, tt.tz)
			var resErr *ResolutionError
			assert.True(t, errors.As(err, &resErr), "got %v", err)
		})
	}
}

func TestParseSchedule_Descriptor(t *testing.T) {
	sched, err := ParseSchedule("@daily", "Europe/Paris")
	require.NoError(t, err)
	next := sched.Next(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	paris, _ := time.LoadLocation("Europe/Paris")
	assert.Equal(t, 0, next.In(paris).Hour())
}

func TestScheduler_ScheduleReplaceRemove(t *testing.T) {
	s := NewScheduler()
	sched, err := ParseSchedule("*/5 * * * *", "UTC")
	require.NoError(t, err)

	s.Schedule("rule-1", sched, func() {})
	s.Schedule("rule-1", sched, func() {})
	assert.Equal(t, 1, s.JobCount())

	next, ok := s.NextFire("rule-1")
	require.True(t, ok)
	assert.True(t, next.After(time.Now()))
	assert.Equal(t, 0, next.Minute()%5)

	s.Remove("rule-1")
	assert.Equal(t, 0, s.JobCount())
	_, ok = s.NextFire("rule-1")
	assert.False(t, ok)
}

func TestScheduler_FiresJob(t *testing.T) {
	s := NewScheduler()
	fired := make(chan struct{}, 1)
	s.Schedule("rule-1", everySecond{}, func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	s.Start()
	defer s.Stop()

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not fire")
	}
}

type everySecond struct{}

func (everySecond) Next(t time.Time) time.Time {
	return t.Truncate(time.Second).Add(time.Second)
}
