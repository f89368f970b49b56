package detector

import (
	"fmt"
	"time"

	"pillars-watch/internal/database"
	"pillars-watch/internal/utils"
)

// GraceDays - столько дней без отметки не считается проблемой
const GraceDays = 1

// AbsenceSeverity - лестница пропусков: 2 дня nudge, 3 warning, 4 critical, 5+ emergency.
// Выше 5 дней лестница не растёт.
func AbsenceSeverity(daysSince int) (database.Severity, bool) {
	switch {
	case daysSince <= GraceDays:
		return "", false
	case daysSince == 2:
		return database.SeverityNudge, true
	case daysSince == 3:
		return database.SeverityWarning, true
	case daysSince == 4:
		return database.SeverityCritical, true
	default:
		return database.SeverityEmergency, true
	}
}

// DetectAbsence строит паттерн пропуска по количеству дней с последней отметки.
// Содержимое окна не используется, поэтому детектор работает и при пустом окне.
func DetectAbsence(daysSince int, meta database.UserMeta, now time.Time) (database.Pattern, bool) {
	severity, ok := AbsenceSeverity(daysSince)
	if !ok {
		return database.Pattern{}, false
	}

	values := map[string]float64{
		"days_since":  float64(daysSince),
		"streak_days": float64(meta.StreakDays),
		"shields":     float64(meta.Shields),
	}
	var dates []string
	if meta.LastCheckIn != "" {
		dates = []string{meta.LastCheckIn}
	}

	return database.Pattern{
		UserID:   meta.UserID,
		Type:     database.PatternAbsence,
		Severity: severity,
		Status:   database.StatusOpen,
		Evidence: database.Evidence{
			Summary: fmt.Sprintf("%d дн. без отметки, последняя %s", daysSince, meta.LastCheckIn),
			Dates:   dates,
			Values:  values,
		},
		DetectedAt: now,
	}, true
}

// DaysSinceLastCheckIn считает дни с последней отметки в локальном календаре.
// false - пользователь ещё ни разу не отмечался.
func DaysSinceLastCheckIn(meta database.UserMeta, now time.Time) (int, bool, error) {
	if meta.LastCheckIn == "" {
		return 0, false, nil
	}
	days, err := utils.DaysSince(meta.LastCheckIn, now)
	if err != nil {
		return 0, false, err
	}
	if days < 0 {
		days = 0
	}
	return days, true, nil
}
