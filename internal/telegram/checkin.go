package telegram

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"pillars-watch/internal/database"
	"pillars-watch/internal/utils"
)

var errEmptyCheckIn = errors.New("пустая отметка")

// Синонимы ключей /checkin
var habitKeys = map[string]database.Habit{
	"сон":        database.HabitSleep,
	"sleep":      database.HabitSleep,
	"тренировка": database.HabitTraining,
	"training":   database.HabitTraining,
	"работа":     database.HabitDeepWork,
	"deep_work":  database.HabitDeepWork,
	"навык":      database.HabitSkill,
	"skill":      database.HabitSkill,
	"срыв":       database.HabitZeroIncident,
	"incident":   database.HabitZeroIncident,
	"границы":    database.HabitBoundaries,
	"boundaries": database.HabitBoundaries,
}

func parseBool(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "да", "yes", "y", "1", "+", "true":
		return true, nil
	case "нет", "no", "n", "0", "-", "false":
		return false, nil
	}
	return false, fmt.Errorf("ожидается да/нет, получено %q", value)
}

// ParseCheckIn разбирает "/checkin сон=да тренировка=нет ... часы_сна=6.5".
// Все шесть привычек обязательны. Для срыва "срыв=нет" означает день без срыва.
func ParseCheckIn(text string, userID int64, today string) (database.CheckIn, error) {
	metrics := make(map[string]string)
	for _, pair := range strings.Fields(text) {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) == 2 {
			key := strings.ToLower(strings.TrimSpace(parts[0]))
			metrics[key] = strings.TrimSpace(parts[1])
		}
	}
	if len(metrics) == 0 {
		return database.CheckIn{}, errEmptyCheckIn
	}

	c := database.CheckIn{UserID: userID, Date: today}
	seen := make(map[database.Habit]bool)

	for key, value := range metrics {
		if habit, ok := habitKeys[key]; ok {
			met, err := parseBool(value)
			if err != nil {
				return database.CheckIn{}, fmt.Errorf("%s: %w", key, err)
			}
			seen[habit] = true
			switch habit {
			case database.HabitSleep:
				c.SleepMet = met
			case database.HabitTraining:
				c.Trained = met
			case database.HabitDeepWork:
				c.DeepWorkMet = met
			case database.HabitSkill:
				c.SkillMet = met
			case database.HabitZeroIncident:
				c.ZeroIncident = !met
			case database.HabitBoundaries:
				c.BoundariesHeld = met
			}
			continue
		}

		switch key {
		case "часы_сна", "sleep_hours":
			v, err := strconv.ParseFloat(strings.ReplaceAll(value, ",", "."), 64)
			if err != nil || v < 0 || v > 24 {
				return database.CheckIn{}, fmt.Errorf("%s должен быть от 0 до 24", key)
			}
			c.SleepHours = &v
		case "потребление", "consumption":
			v, err := strconv.ParseFloat(strings.ReplaceAll(value, ",", "."), 64)
			if err != nil || v < 0 || v > 24 {
				return database.CheckIn{}, fmt.Errorf("%s должно быть от 0 до 24", key)
			}
			c.ConsumptionHours = &v
		case "подъём", "подъем", "wake_drift":
			v, err := strconv.Atoi(value)
			if err != nil {
				return database.CheckIn{}, fmt.Errorf("%s - минуты опоздания с подъёмом", key)
			}
			c.WakeDriftMinutes = &v
		case "оценка", "rating":
			v, err := strconv.Atoi(value)
			if err != nil || v < 1 || v > 10 {
				return database.CheckIn{}, fmt.Errorf("%s должна быть от 1 до 10", key)
			}
			c.Rating = &v
		case "дата", "date":
			if _, err := utils.ParseDate(value); err != nil {
				return database.CheckIn{}, errors.New("дата должна быть в формате YYYY-MM-DD")
			}
			if value > today {
				return database.CheckIn{}, fmt.Errorf("нельзя отметиться за будущий день %s", value)
			}
			oldest, err := utils.AddDays(today, -database.CorrectionWindowDays)
			if err != nil {
				return database.CheckIn{}, err
			}
			if value < oldest {
				return database.CheckIn{}, fmt.Errorf("исправить можно только отметки не старше %s", oldest)
			}
			c.Date = value
		default:
			return database.CheckIn{}, fmt.Errorf("неизвестный ключ %q", key)
		}
	}

	var missing []string
	for key, habit := range habitKeys {
		if !seen[habit] && isRussian(key) {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return database.CheckIn{}, fmt.Errorf("не хватает: %s", strings.Join(missing, ", "))
	}

	c.Compliance = database.Compliance(c)
	return c, nil
}

func isRussian(key string) bool {
	for _, r := range key {
		if r >= 'а' && r <= 'я' {
			return true
		}
	}
	return false
}
