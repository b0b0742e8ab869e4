package metering_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mockpress/mockpress/pkg/metering"
)

func TestWindow_Start(t *testing.T) {
	now := time.Date(2025, 6, 15, 14, 37, 42, 123456789, time.UTC)

	tests := []struct {
		window metering.Window
		want   time.Time
	}{
		{metering.WindowMinute, time.Date(2025, 6, 15, 14, 37, 0, 0, time.UTC)},
		{metering.WindowHour, time.Date(2025, 6, 15, 14, 0, 0, 0, time.UTC)},
		{metering.WindowDay, time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(string(tt.window), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.window.Start(now))
			assert.Equal(t, tt.want.Add(tt.window.Duration()), tt.window.End(now))
		})
	}
}

func TestWindow_Start_ExactBoundaryBelongsToNewWindow(t *testing.T) {
	boundary := time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC)

	// A request arriving exactly at midnight falls into the new day
	assert.Equal(t, boundary, metering.WindowDay.Start(boundary))
	assert.Equal(t, boundary.Add(24*time.Hour), metering.WindowDay.End(boundary))

	// One nanosecond before still belongs to the old day
	before := boundary.Add(-time.Nanosecond)
	assert.Equal(t, boundary.Add(-24*time.Hour), metering.WindowDay.Start(before))
	assert.Equal(t, boundary, metering.WindowDay.End(before))
}

func TestWindow_Start_NormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	local := time.Date(2025, 6, 15, 2, 30, 0, 0, loc) // 23:30 UTC the previous day

	assert.Equal(t, time.Date(2025, 6, 14, 0, 0, 0, 0, time.UTC), metering.WindowDay.Start(local))
}

func TestWindow_Valid(t *testing.T) {
	assert.True(t, metering.WindowMinute.Valid())
	assert.True(t, metering.WindowHour.Valid())
	assert.True(t, metering.WindowDay.Valid())
	assert.False(t, metering.Window("week").Valid())
}

func TestWindow_Duration(t *testing.T) {
	assert.Equal(t, time.Minute, metering.WindowMinute.Duration())
	assert.Equal(t, time.Hour, metering.WindowHour.Duration())
	assert.Equal(t, 24*time.Hour, metering.WindowDay.Duration())
	assert.Equal(t, time.Duration(0), metering.Window("week").Duration())
}

func TestLimits_For(t *testing.T) {
	limits := metering.Limits{PerMinute: 10, PerHour: 60, PerDay: 2}

	assert.Equal(t, 10, limits.For(metering.WindowMinute))
	assert.Equal(t, 60, limits.For(metering.WindowHour))
	assert.Equal(t, 2, limits.For(metering.WindowDay))
	assert.Equal(t, 0, limits.For(metering.Window("week")))
}

func TestDefaultLimits(t *testing.T) {
	limits := metering.DefaultLimits()
	assert.Equal(t, 10, limits.PerMinute)
	assert.Equal(t, 60, limits.PerHour)
	assert.Equal(t, 2, limits.PerDay)
}
