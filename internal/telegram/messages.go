package telegram

import (
	"fmt"
	"html"
	"strings"

	"pillars-watch/internal/database"
	"pillars-watch/internal/services"
	"pillars-watch/internal/utils"
)

const checkInFormat = `📝 <b>Ежедневная отметка</b>

Формат:
/checkin сон=да тренировка=да работа=да навык=да срыв=нет границы=да

Необязательно:
часы_сна=[ч] потребление=[ч] подъём=[мин опоздания] оценка=[1-10] дата=[YYYY-MM-DD]

Пример:
/checkin сон=нет тренировка=да работа=да навык=нет срыв=нет границы=да часы_сна=5.5`

const helpMessage = `📚 <b>Список команд</b>

/start - регистрация и ваш ID
/checkin - отметка за день (сон, тренировка, глубокая работа, навык, срыв, границы)
/status - сводка за неделю и открытые паттерны
/peer [id] - назначить напарника. На 5-й день молчания он получит уведомление
/email [адрес] - резервный email, если Telegram недоступен (/email off - отключить)
/help - эта справка

<b>Привычки:</b>
😴 Сон - сон
🏃 Тренировка - тренировка
🧠 Глубокая работа - работа
📚 Навык - навык
🚫 Без срывов - срыв (да, если был срыв)
🛡 Границы - границы`

func welcomeMessage(userID int64, name string) string {
	greeting := "👋 Привет!"
	if name != "" {
		greeting = fmt.Sprintf("👋 Привет, %s!", html.EscapeString(name))
	}
	return fmt.Sprintf(`%s

🎯 <b>Pillars Watch</b> следит за вашими привычками и вовремя подаёт сигнал, если что-то начинает сыпаться.

🆔 Ваш ID: <code>%d</code>
Передайте его напарнику, чтобы он мог привязать вас через /peer.

%s`, greeting, userID, checkInFormat)
}

func checkInSavedMessage(c database.CheckIn, streak int) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("✅ Отметка за %s сохранена\n\n", c.Date))

	habits := []struct {
		habit database.Habit
		met   bool
	}{
		{database.HabitSleep, c.SleepMet},
		{database.HabitTraining, c.Trained},
		{database.HabitDeepWork, c.DeepWorkMet},
		{database.HabitSkill, c.SkillMet},
		{database.HabitZeroIncident, c.ZeroIncident},
		{database.HabitBoundaries, c.BoundariesHeld},
	}
	for _, h := range habits {
		mark := "❌"
		if h.met {
			mark = "✅"
		}
		b.WriteString(fmt.Sprintf("%s %s\n", mark, database.HabitNames[h.habit]))
	}

	b.WriteString(fmt.Sprintf("\n📊 Выполнено: %d%%\n", c.Compliance))
	if c.SleepHours != nil {
		b.WriteString(fmt.Sprintf("😴 Сон: %.1f ч\n", *c.SleepHours))
	}
	if streak > 0 {
		b.WriteString(fmt.Sprintf("🔥 Серия: %d дн.\n", streak))
	}
	return b.String()
}

func statusMessage(r *services.StatusReport) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("📈 <b>Неделя %s - %s</b>\n\n", r.StartDate, r.EndDate))
	b.WriteString(fmt.Sprintf("🔥 Серия: %d дн. (рекорд %d)\n", r.StreakDays, r.BestStreak))
	if r.Shields > 0 {
		b.WriteString(fmt.Sprintf("🛡 Щитов: %d\n", r.Shields))
	}
	b.WriteString(fmt.Sprintf("📅 Отметок: %d/7, в среднем %.0f%%\n", r.CheckIns, r.AvgCompliance))

	if len(r.OpenPatterns) > 0 {
		b.WriteString("\n<b>Открытые паттерны:</b>\n")
		for _, p := range r.OpenPatterns {
			b.WriteString(fmt.Sprintf("%s %s\n",
				utils.GetSeverityEmoji(string(p.Severity)),
				utils.GetPatternName(string(p.Type))))
		}
	}

	if r.Insights != "" {
		b.WriteString(fmt.Sprintf("\n<b>💡 Инсайты:</b>\n%s", r.Insights))
	}
	return b.String()
}

func peerLinkedMessage(peerName string) string {
	if peerName == "" {
		return "👥 Напарник привязан"
	}
	return fmt.Sprintf("👥 Напарник привязан: %s", html.EscapeString(peerName))
}

func emailStatusMessage(address string) string {
	if address == "" {
		return "📭 Резервный email не задан\n\nЗадать: /email name@example.com"
	}
	return fmt.Sprintf("📧 Резервный email: <code>%s</code>\nСюда придёт сообщение, если Telegram недоступен.", html.EscapeString(address))
}
