package detector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pillars-watch/internal/database"
	"pillars-watch/internal/utils"
)

const today = "2026-03-14"

// good возвращает «идеальный» день, n дней назад от today
func good(n int) database.CheckIn {
	date, _ := utils.AddDays(today, -n)
	c := database.CheckIn{
		Date:           date,
		SleepMet:       true,
		Trained:        true,
		DeepWorkMet:    true,
		SkillMet:       true,
		ZeroIncident:   true,
		BoundariesHeld: true,
	}
	c.Compliance = database.Compliance(c)
	return c
}

// week собирает окно из 7 хороших дней (от 6 дней назад до сегодня) и даёт поправить каждый
func week(edit func(daysAgo int, c *database.CheckIn)) []database.CheckIn {
	var window []database.CheckIn
	for n := 6; n >= 0; n-- {
		c := good(n)
		if edit != nil {
			edit(n, &c)
		}
		c.Compliance = database.Compliance(c)
		window = append(window, c)
	}
	return window
}

func f(v float64) *float64 { return &v }
func i(v int) *int         { return &v }

func TestAbsenceSeverityLadder(t *testing.T) {
	tests := []struct {
		days int
		want database.Severity
		ok   bool
	}{
		{0, "", false},
		{1, "", false},
		{2, database.SeverityNudge, true},
		{3, database.SeverityWarning, true},
		{4, database.SeverityCritical, true},
		{5, database.SeverityEmergency, true},
		{6, database.SeverityEmergency, true},
		{10, database.SeverityEmergency, true},
	}
	for _, tt := range tests {
		got, ok := AbsenceSeverity(tt.days)
		assert.Equal(t, tt.ok, ok, "days=%d", tt.days)
		assert.Equal(t, tt.want, got, "days=%d", tt.days)
	}

	// Лестница строго растёт до насыщения
	prev := 0
	for d := 2; d <= 5; d++ {
		s, _ := AbsenceSeverity(d)
		assert.Greater(t, s.Rank(), prev)
		prev = s.Rank()
	}
}

func TestDetectAbsenceWithoutWindow(t *testing.T) {
	meta := database.UserMeta{UserID: 7, StreakDays: 12, Shields: 1, LastCheckIn: "2026-03-10"}
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, utils.Location())

	days, ok, err := DaysSinceLastCheckIn(meta, now)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 4, days)

	p, ok := DetectAbsence(days, meta, now)
	require.True(t, ok)
	assert.Equal(t, database.PatternAbsence, p.Type)
	assert.Equal(t, database.SeverityCritical, p.Severity)
	assert.Equal(t, int64(7), p.UserID)
	assert.Equal(t, 4.0, p.Evidence.Values["days_since"])
	assert.Equal(t, []string{"2026-03-10"}, p.Evidence.Dates)

	_, ok, err = DaysSinceLastCheckIn(database.UserMeta{}, now)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSleepDegradation(t *testing.T) {
	bad := week(func(n int, c *database.CheckIn) {
		if n == 1 || n == 3 || n == 5 {
			c.SleepMet = false
			c.SleepHours = f(5.2)
		}
	})
	p, ok := SleepDegradation(bad, database.UserMeta{})
	require.True(t, ok)
	assert.Len(t, p.Evidence.Dates, 3)
	assert.InDelta(t, 5.2, p.Evidence.Values["avg_sleep_hours"], 0.001)

	// Без часов сна или при 6+ часах не срабатывает
	borderline := week(func(n int, c *database.CheckIn) {
		if n < 3 {
			c.SleepMet = false
			c.SleepHours = f(6.0)
		}
		if n == 4 {
			c.SleepMet = false
		}
	})
	_, ok = SleepDegradation(borderline, database.UserMeta{})
	assert.False(t, ok)
}

func TestTrainingAbandonment(t *testing.T) {
	run := week(func(n int, c *database.CheckIn) {
		if n <= 2 {
			c.Trained = false
		}
	})
	p, ok := TrainingAbandonment(run, database.UserMeta{})
	require.True(t, ok)
	assert.Equal(t, []string{"2026-03-12", "2026-03-13", "2026-03-14"}, p.Evidence.Dates)

	// Три пропуска, но не подряд
	scattered := week(func(n int, c *database.CheckIn) {
		if n == 0 || n == 2 || n == 4 {
			c.Trained = false
		}
	})
	_, ok = TrainingAbandonment(scattered, database.UserMeta{})
	assert.False(t, ok)

	// Серия считается с конца окна: тренировка перед ней не мешает
	tail := []database.CheckIn{good(5), good(2), good(1), good(0)}
	for k := 1; k < len(tail); k++ {
		tail[k].Trained = false
	}
	p, ok = TrainingAbandonment(tail, database.UserMeta{})
	require.True(t, ok)
	assert.Len(t, p.Evidence.Dates, 3)

	// Дыра в отметках обрывает серию
	withHole := []database.CheckIn{good(3), good(1), good(0)}
	for k := range withHole {
		withHole[k].Trained = false
	}
	_, ok = TrainingAbandonment(withHole, database.UserMeta{})
	assert.False(t, ok)
}

func TestComplianceDecline(t *testing.T) {
	drop := week(func(n int, c *database.CheckIn) {
		if n <= 2 {
			c.Trained, c.DeepWorkMet, c.SkillMet = false, false, false
		}
	})
	p, ok := ComplianceDecline(drop, database.UserMeta{})
	require.True(t, ok)
	assert.Equal(t, 50.0, p.Evidence.Values["recent_avg"])
	assert.Equal(t, 100.0, p.Evidence.Values["prior_avg"])

	// Уже была низкой - не «падение»
	alwaysLow := week(func(_ int, c *database.CheckIn) {
		c.Trained, c.DeepWorkMet, c.SkillMet = false, false, false
	})
	_, ok = ComplianceDecline(alwaysLow, database.UserMeta{})
	assert.False(t, ok)

	// Недостаточно истории
	_, ok = ComplianceDecline(drop[4:], database.UserMeta{})
	assert.False(t, ok)
}

func TestDeepWorkCollapse(t *testing.T) {
	collapse := week(func(n int, c *database.CheckIn) {
		if n <= 2 {
			c.DeepWorkMet = false
		}
	})
	_, ok := DeepWorkCollapse(collapse, database.UserMeta{})
	assert.True(t, ok)
	assert.Equal(t, database.SeverityHigh, SeverityFor(database.PatternDeepWorkCollapse))
	assert.Greater(t, SeverityFor(database.PatternDeepWorkCollapse).Rank(), SeverityFor(database.PatternComplianceDecline).Rank())

	oneMiss := week(func(n int, c *database.CheckIn) {
		if n == 0 {
			c.DeepWorkMet = false
		}
	})
	_, ok = DeepWorkCollapse(oneMiss, database.UserMeta{})
	assert.False(t, ok)
}

func TestConsumptionVortex(t *testing.T) {
	vortex := week(func(n int, c *database.CheckIn) {
		if n == 0 || n == 2 {
			c.ConsumptionHours = f(4.5)
		}
		if n == 1 {
			c.ConsumptionHours = f(1)
		}
	})
	p, ok := ConsumptionVortex(vortex, database.UserMeta{})
	require.True(t, ok)
	assert.Equal(t, 4.5, p.Evidence.Values["max_hours"])

	// Старые дни за пределами последних трёх не считаются
	old := week(func(n int, c *database.CheckIn) {
		if n >= 3 {
			c.ConsumptionHours = f(6)
		}
		if n == 0 {
			c.ConsumptionHours = f(5)
		}
	})
	_, ok = ConsumptionVortex(old, database.UserMeta{})
	assert.False(t, ok)
}

func TestRelationshipInterference(t *testing.T) {
	t.Run("two co-occurrences in five days", func(t *testing.T) {
		window := week(func(n int, c *database.CheckIn) {
			if n == 4 || n == 1 {
				c.BoundariesHeld = false
				c.Trained = false
			}
		})
		p, ok := RelationshipInterference(window, database.UserMeta{})
		require.True(t, ok)
		assert.Equal(t, []string{"2026-03-10", "2026-03-13"}, p.Evidence.Dates)
	})

	t.Run("next-day miss counts", func(t *testing.T) {
		window := week(func(n int, c *database.CheckIn) {
			switch n {
			case 5, 2:
				c.BoundariesHeld = false
			case 4, 1:
				c.DeepWorkMet = false
			}
		})
		_, ok := RelationshipInterference(window, database.UserMeta{})
		assert.True(t, ok)
	})

	t.Run("single day is noise", func(t *testing.T) {
		window := week(func(n int, c *database.CheckIn) {
			if n == 2 {
				c.BoundariesHeld = false
				c.Trained = false
			}
		})
		_, ok := RelationshipInterference(window, database.UserMeta{})
		assert.False(t, ok)
	})

	t.Run("non-overlapping days", func(t *testing.T) {
		window := week(func(n int, c *database.CheckIn) {
			switch n {
			case 6, 3:
				c.BoundariesHeld = false
			case 4, 0:
				c.Trained = false
			}
		})
		_, ok := RelationshipInterference(window, database.UserMeta{})
		assert.False(t, ok)
	})
}

func TestIncidentRelapse(t *testing.T) {
	window := week(func(n int, c *database.CheckIn) {
		if n == 2 {
			c.ZeroIncident = false
		}
	})
	p, ok := IncidentRelapse(window, database.UserMeta{BestStreak: 21})
	require.True(t, ok)
	assert.Equal(t, []string{"2026-03-12"}, p.Evidence.Dates)
	assert.Equal(t, 21.0, p.Evidence.Values["best_streak"])

	_, ok = IncidentRelapse(week(nil), database.UserMeta{})
	assert.False(t, ok)
}

func TestWakeTimeDrift(t *testing.T) {
	window := week(func(n int, c *database.CheckIn) {
		if n%2 == 0 {
			c.WakeDriftMinutes = i(60)
		} else {
			c.WakeDriftMinutes = i(10)
		}
	})
	p, ok := WakeTimeDrift(window, database.UserMeta{})
	require.True(t, ok)
	assert.Equal(t, 60.0, p.Evidence.Values["avg_drift_minutes"])

	_, ok = WakeTimeDrift(week(nil), database.UserMeta{})
	assert.False(t, ok)
}

func TestDetectorsReturnNothingOnEmptyWindow(t *testing.T) {
	registry := DefaultRegistry()
	found := registry.DetectAll(nil, database.UserMeta{UserID: 1}, today, time.Now())
	assert.Empty(t, found)
}

func TestDetectAllAssignsFixedSeverity(t *testing.T) {
	window := week(func(n int, c *database.CheckIn) {
		if n <= 2 {
			c.Trained = false
		}
		if n == 1 {
			c.ZeroIncident = false
		}
	})
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	found := DefaultRegistry().DetectAll(window, database.UserMeta{UserID: 9}, today, now)

	byType := map[database.PatternType]database.Pattern{}
	for _, p := range found {
		byType[p.Type] = p
	}
	require.Contains(t, byType, database.PatternTrainingAbandonment)
	require.Contains(t, byType, database.PatternIncidentRelapse)
	assert.Equal(t, database.SeverityMedium, byType[database.PatternTrainingAbandonment].Severity)
	assert.Equal(t, database.SeverityCritical, byType[database.PatternIncidentRelapse].Severity)
	assert.Equal(t, int64(9), byType[database.PatternIncidentRelapse].UserID)
	assert.Equal(t, now, byType[database.PatternIncidentRelapse].DetectedAt)
}

func TestTrailingWindow(t *testing.T) {
	var window []database.CheckIn
	for n := 13; n >= 0; n-- {
		window = append(window, good(n))
	}
	short := trailing(window, today, ShortWindowDays)
	require.Len(t, short, 7)
	assert.Equal(t, "2026-03-08", short[0].Date)
	assert.Len(t, trailing(window, today, CorrelationWindowDays), 14)
	assert.Equal(t, 14, DefaultRegistry().MaxDays())
}
