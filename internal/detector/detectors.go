package detector

import (
	"fmt"
	"strings"

	"pillars-watch/internal/database"
	"pillars-watch/internal/utils"
)

const (
	ShortWindowDays       = 7
	CorrelationWindowDays = 14

	SleepHoursFloor       = 6.0
	SleepBadNightsMin     = 3
	TrainingMissRunMin    = 3
	ComplianceFloor       = 70.0
	ComplianceSpanDays    = 3
	DeepWorkFloor         = 50.0
	ConsumptionHoursCeil  = 3.0
	ConsumptionSpan       = 3
	ConsumptionDaysMin    = 2
	InterferenceOccasions = 2
	WakeDriftMinutes      = 45
	WakeDriftDaysMin      = 3
)

var severityTable = map[database.PatternType]database.Severity{
	database.PatternSleepDegradation:         database.SeverityMedium,
	database.PatternTrainingAbandonment:      database.SeverityMedium,
	database.PatternComplianceDecline:        database.SeverityMedium,
	database.PatternDeepWorkCollapse:         database.SeverityHigh,
	database.PatternConsumptionVortex:        database.SeverityMedium,
	database.PatternRelationshipInterference: database.SeverityHigh,
	database.PatternIncidentRelapse:          database.SeverityCritical,
	database.PatternWakeTimeDrift:            database.SeverityLow,
}

// SeverityFor возвращает фиксированную severity контентного детектора
func SeverityFor(t database.PatternType) database.Severity {
	if s, ok := severityTable[t]; ok {
		return s
	}
	return database.SeverityLow
}

// SleepDegradation: не меньше 3 ночей из окна с невыполненным сном и сном меньше 6 часов
func SleepDegradation(window []database.CheckIn, _ database.UserMeta) (database.Pattern, bool) {
	var dates []string
	var hours []string
	total := 0.0
	for _, c := range window {
		if c.SleepMet || c.SleepHours == nil || *c.SleepHours >= SleepHoursFloor {
			continue
		}
		dates = append(dates, c.Date)
		hours = append(hours, fmt.Sprintf("%.1f", *c.SleepHours))
		total += *c.SleepHours
	}
	if len(dates) < SleepBadNightsMin {
		return database.Pattern{}, false
	}

	return database.Pattern{Evidence: database.Evidence{
		Summary: fmt.Sprintf("%d ночей меньше %.0f ч сна (%s ч): %s",
			len(dates), SleepHoursFloor, strings.Join(hours, ", "), strings.Join(dates, ", ")),
		Dates: dates,
		Values: map[string]float64{
			"bad_nights":      float64(len(dates)),
			"avg_sleep_hours": total / float64(len(dates)),
		},
	}}, true
}

// TrainingAbandonment: текущая серия из 3+ подряд идущих дней без тренировки
func TrainingAbandonment(window []database.CheckIn, _ database.UserMeta) (database.Pattern, bool) {
	run := trailingRun(window, func(c database.CheckIn) bool { return !c.Trained })
	if len(run) < TrainingMissRunMin {
		return database.Pattern{}, false
	}

	return database.Pattern{Evidence: database.Evidence{
		Summary: fmt.Sprintf("%d дня подряд без тренировки: %s", len(run), strings.Join(run, ", ")),
		Dates:   run,
		Values:  map[string]float64{"missed_in_row": float64(len(run))},
	}}, true
}

// ComplianceDecline: средний процент за последние 3 отметки ниже 70, а за 3 предыдущие - нет
func ComplianceDecline(window []database.CheckIn, _ database.UserMeta) (database.Pattern, bool) {
	if len(window) < 2*ComplianceSpanDays {
		return database.Pattern{}, false
	}
	recent := window[len(window)-ComplianceSpanDays:]
	prior := window[len(window)-2*ComplianceSpanDays : len(window)-ComplianceSpanDays]

	recentAvg := average(recent, func(c database.CheckIn) float64 { return float64(c.Compliance) })
	priorAvg := average(prior, func(c database.CheckIn) float64 { return float64(c.Compliance) })
	if recentAvg >= ComplianceFloor || priorAvg < ComplianceFloor {
		return database.Pattern{}, false
	}

	return database.Pattern{Evidence: database.Evidence{
		Summary: fmt.Sprintf("средняя дисциплина упала с %.0f%% до %.0f%% за 3 дня", priorAvg, recentAvg),
		Dates:   dates(recent),
		Values: map[string]float64{
			"recent_avg": recentAvg,
			"prior_avg":  priorAvg,
		},
	}}, true
}

// DeepWorkCollapse: та же форма, что и ComplianceDecline, но по доле дней с глубокой работой
func DeepWorkCollapse(window []database.CheckIn, _ database.UserMeta) (database.Pattern, bool) {
	if len(window) < 2*ComplianceSpanDays {
		return database.Pattern{}, false
	}
	recent := window[len(window)-ComplianceSpanDays:]
	prior := window[len(window)-2*ComplianceSpanDays : len(window)-ComplianceSpanDays]

	rate := func(c database.CheckIn) float64 {
		if c.DeepWorkMet {
			return 100
		}
		return 0
	}
	recentRate := average(recent, rate)
	priorRate := average(prior, rate)
	if recentRate >= DeepWorkFloor || priorRate < DeepWorkFloor {
		return database.Pattern{}, false
	}

	return database.Pattern{Evidence: database.Evidence{
		Summary: fmt.Sprintf("глубокая работа: %.0f%% дней против %.0f%% раньше", recentRate, priorRate),
		Dates:   dates(recent),
		Values: map[string]float64{
			"recent_rate": recentRate,
			"prior_rate":  priorRate,
		},
	}}, true
}

// ConsumptionVortex: пассивное потребление больше 3 часов минимум в 2 из последних 3 отметок
func ConsumptionVortex(window []database.CheckIn, _ database.UserMeta) (database.Pattern, bool) {
	if len(window) > ConsumptionSpan {
		window = window[len(window)-ConsumptionSpan:]
	}
	var hit []string
	max := 0.0
	for _, c := range window {
		if c.ConsumptionHours == nil || *c.ConsumptionHours <= ConsumptionHoursCeil {
			continue
		}
		hit = append(hit, c.Date)
		if *c.ConsumptionHours > max {
			max = *c.ConsumptionHours
		}
	}
	if len(hit) < ConsumptionDaysMin {
		return database.Pattern{}, false
	}

	return database.Pattern{Evidence: database.Evidence{
		Summary: fmt.Sprintf("%d из %d последних дней больше %.0f ч пассивного потребления (максимум %.1f ч)",
			len(hit), len(window), ConsumptionHoursCeil, max),
		Dates:  hit,
		Values: map[string]float64{"days_over": float64(len(hit)), "max_hours": max},
	}}, true
}

// RelationshipInterference - корреляционный детектор: провал границ в день D и пропуск
// тренировки или глубокой работы в тот же или следующий день. Один такой случай - шум,
// два и больше - повторяющийся паттерн.
func RelationshipInterference(window []database.CheckIn, _ database.UserMeta) (database.Pattern, bool) {
	byDate := make(map[string]database.CheckIn, len(window))
	for _, c := range window {
		byDate[c.Date] = c
	}
	missed := func(c database.CheckIn) bool { return !c.Trained || !c.DeepWorkMet }

	var occasions []string
	for _, c := range window {
		if c.BoundariesHeld {
			continue
		}
		if missed(c) {
			occasions = append(occasions, c.Date)
			continue
		}
		next, err := utils.AddDays(c.Date, 1)
		if err != nil {
			continue
		}
		if n, ok := byDate[next]; ok && missed(n) {
			occasions = append(occasions, c.Date)
		}
	}
	if len(occasions) < InterferenceOccasions {
		return database.Pattern{}, false
	}

	return database.Pattern{Evidence: database.Evidence{
		Summary: fmt.Sprintf("%d раза провал границ совпал с пропуском тренировки или глубокой работы: %s",
			len(occasions), strings.Join(occasions, ", ")),
		Dates:  occasions,
		Values: map[string]float64{"occasions": float64(len(occasions))},
	}}, true
}

// IncidentRelapse: срыв в окне. Шаблонный тип, сообщение не генерируется моделью.
func IncidentRelapse(window []database.CheckIn, meta database.UserMeta) (database.Pattern, bool) {
	var incidents []string
	for _, c := range window {
		if !c.ZeroIncident {
			incidents = append(incidents, c.Date)
		}
	}
	if len(incidents) == 0 {
		return database.Pattern{}, false
	}

	return database.Pattern{Evidence: database.Evidence{
		Summary: fmt.Sprintf("срывов за неделю: %d, последний %s", len(incidents), incidents[len(incidents)-1]),
		Dates:   incidents,
		Values: map[string]float64{
			"incidents":   float64(len(incidents)),
			"best_streak": float64(meta.BestStreak),
		},
	}}, true
}

// WakeTimeDrift: подъём на 45+ минут позже плана минимум 3 раза за неделю
func WakeTimeDrift(window []database.CheckIn, _ database.UserMeta) (database.Pattern, bool) {
	var late []string
	total := 0
	for _, c := range window {
		if c.WakeDriftMinutes == nil || *c.WakeDriftMinutes < WakeDriftMinutes {
			continue
		}
		late = append(late, c.Date)
		total += *c.WakeDriftMinutes
	}
	if len(late) < WakeDriftDaysMin {
		return database.Pattern{}, false
	}

	avg := float64(total) / float64(len(late))
	return database.Pattern{Evidence: database.Evidence{
		Summary: fmt.Sprintf("%d подъёмов позже плана в среднем на %.0f мин", len(late), avg),
		Dates:   late,
		Values:  map[string]float64{"late_days": float64(len(late)), "avg_drift_minutes": avg},
	}}, true
}

// trailingRun возвращает даты подряд идущих (по календарю) отметок с конца окна, удовлетворяющих условию
func trailingRun(window []database.CheckIn, match func(database.CheckIn) bool) []string {
	var run []string
	for i := len(window) - 1; i >= 0; i-- {
		c := window[i]
		if !match(c) {
			break
		}
		if len(run) > 0 {
			gap, err := utils.DaysBetween(c.Date, run[0])
			if err != nil || gap != 1 {
				break
			}
		}
		run = append([]string{c.Date}, run...)
	}
	return run
}

func average(window []database.CheckIn, value func(database.CheckIn) float64) float64 {
	if len(window) == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range window {
		sum += value(c)
	}
	return sum / float64(len(window))
}

func dates(window []database.CheckIn) []string {
	out := make([]string, 0, len(window))
	for _, c := range window {
		out = append(out, c.Date)
	}
	return out
}
