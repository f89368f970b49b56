package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDaysBetween(t *testing.T) {
	tests := []struct {
		from, to string
		want     int
	}{
		{"2026-03-01", "2026-03-01", 0},
		{"2026-03-01", "2026-03-02", 1},
		{"2026-02-27", "2026-03-02", 3},
		{"2026-03-28", "2026-03-30", 2},
		{"2026-01-10", "2026-01-05", -5},
	}
	for _, tt := range tests {
		got, err := DaysBetween(tt.from, tt.to)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s → %s", tt.from, tt.to)
	}
}

func TestDaysSinceUsesLocalCalendar(t *testing.T) {
	// 22:30 UTC 1 марта это уже 2 марта по Москве
	now := time.Date(2026, 3, 1, 22, 30, 0, 0, time.UTC)
	days, err := DaysSince("2026-03-01", now)
	require.NoError(t, err)
	assert.Equal(t, 1, days)
}

func TestAddDays(t *testing.T) {
	got, err := AddDays("2026-12-30", 3)
	require.NoError(t, err)
	assert.Equal(t, "2027-01-02", got)

	_, err = AddDays("30.12.2026", 1)
	assert.Error(t, err)
}
