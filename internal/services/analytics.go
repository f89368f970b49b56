package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pillars-watch/internal/database"
	"pillars-watch/internal/utils"
)

// StatusReport - недельная сводка пользователя для /status и API
type StatusReport struct {
	UserID        int64                      `json:"user_id"`
	StartDate     string                     `json:"start_date"`
	EndDate       string                     `json:"end_date"`
	StreakDays    int                        `json:"streak_days"`
	BestStreak    int                        `json:"best_streak"`
	Shields       int                        `json:"shields"`
	LastCheckIn   string                     `json:"last_checkin,omitempty"`
	CheckIns      int                        `json:"checkins"`
	AvgCompliance float64                    `json:"avg_compliance"`
	HabitRates    map[database.Habit]float64 `json:"habit_rates"`
	OpenPatterns  []database.Pattern         `json:"open_patterns"`
	Insights      string                     `json:"insights"`
}

type AnalyticsService struct {
	repository *database.Repository
	clock      func() time.Time
}

func NewAnalyticsService(repo *database.Repository, clock func() time.Time) *AnalyticsService {
	if clock == nil {
		clock = time.Now
	}
	return &AnalyticsService{
		repository: repo,
		clock:      clock,
	}
}

func (as *AnalyticsService) GetWeeklyStatus(ctx context.Context, userID int64) (*StatusReport, error) {
	meta, err := as.repository.UserMeta(ctx, userID)
	if err != nil {
		return nil, err
	}

	endDate := utils.LocalDate(as.clock())
	startDate, err := utils.AddDays(endDate, -6)
	if err != nil {
		return nil, err
	}

	checkins, err := as.repository.RecentCheckIns(ctx, userID, startDate)
	if err != nil {
		return nil, err
	}
	open, err := as.repository.ListPatterns(ctx, userID, database.StatusOpen)
	if err != nil {
		return nil, err
	}

	report := &StatusReport{
		UserID:       userID,
		StartDate:    startDate,
		EndDate:      endDate,
		StreakDays:   meta.StreakDays,
		BestStreak:   meta.BestStreak,
		Shields:      meta.Shields,
		LastCheckIn:  meta.LastCheckIn,
		CheckIns:     len(checkins),
		HabitRates:   habitRates(checkins),
		OpenPatterns: open,
	}
	if len(checkins) > 0 {
		total := 0
		for _, c := range checkins {
			total += c.Compliance
		}
		report.AvgCompliance = float64(total) / float64(len(checkins))
	}
	report.Insights = as.generateInsights(report)

	return report, nil
}

func habitRates(checkins []database.CheckIn) map[database.Habit]float64 {
	rates := make(map[database.Habit]float64)
	if len(checkins) == 0 {
		return rates
	}
	counts := make(map[database.Habit]int)
	for _, c := range checkins {
		for habit, met := range map[database.Habit]bool{
			database.HabitSleep:        c.SleepMet,
			database.HabitTraining:     c.Trained,
			database.HabitDeepWork:     c.DeepWorkMet,
			database.HabitSkill:        c.SkillMet,
			database.HabitZeroIncident: c.ZeroIncident,
			database.HabitBoundaries:   c.BoundariesHeld,
		} {
			if met {
				counts[habit]++
			}
		}
	}
	for habit := range database.HabitNames {
		rates[habit] = float64(counts[habit]) / float64(len(checkins)) * 100
	}
	return rates
}

func (as *AnalyticsService) generateInsights(report *StatusReport) string {
	if report.CheckIns == 0 {
		return "📊 Данных для анализа недостаточно. Продолжай отмечаться каждый день!"
	}

	var insights []string
	if report.AvgCompliance < 50 {
		insights = append(insights, "💪 Нужно больше фокуса на базовых привычках")
	} else if report.AvgCompliance > 80 {
		insights = append(insights, "🎯 Отличная неделя! Продолжай в том же духе")
	} else {
		insights = append(insights, "📈 Хороший прогресс, есть куда расти")
	}

	for _, habit := range []database.Habit{
		database.HabitSleep, database.HabitTraining, database.HabitDeepWork,
		database.HabitSkill, database.HabitZeroIncident, database.HabitBoundaries,
	} {
		if rate := report.HabitRates[habit]; rate < 40 {
			insights = append(insights, fmt.Sprintf(
				"⚠️ %s требует внимания: %.0f%% дней",
				database.HabitNames[habit], rate,
			))
		}
	}

	if report.CheckIns < 7 {
		insights = append(insights, fmt.Sprintf("📅 Отметок за неделю: %d из 7", report.CheckIns))
	}

	return strings.Join(insights, "\n")
}
