package intervention

import (
	"fmt"
	"strings"

	"pillars-watch/internal/database"
	"pillars-watch/internal/utils"
)

// templateOnly - типы, для которых текст никогда не генерируется моделью:
// формулировки должны быть одинаковыми и не зависеть от доступности сервиса.
var templateOnly = map[database.PatternType]bool{
	database.PatternAbsence:         true,
	database.PatternIncidentRelapse: true,
}

func IsTemplateOnly(t database.PatternType) bool {
	return templateOnly[t]
}

// NotifiesPeer - напарник получает сообщение только при пропуске на ступени emergency
func NotifiesPeer(p database.Pattern, meta database.UserMeta) bool {
	return p.Type == database.PatternAbsence &&
		p.Severity == database.SeverityEmergency &&
		meta.Peer != nil
}

// AbsenceMessage - текст для пользователя по ступени лестницы пропусков.
// Тон растёт: мягко → твёрдо → с фактами → экстренно с планом действий.
func AbsenceMessage(p database.Pattern, meta database.UserMeta) string {
	days := int(p.Evidence.Values["days_since"])
	name := displayName(meta.Name)

	var b strings.Builder
	switch p.Severity {
	case database.SeverityNudge:
		b.WriteString(fmt.Sprintf("👋 %s, второй день без отметки.\n\n", name))
		b.WriteString(fmt.Sprintf("Серия %s ждёт продолжения. Одна отметка - и она живёт дальше: /checkin", dayCount(meta.StreakDays)))

	case database.SeverityWarning:
		b.WriteString(fmt.Sprintf("⚠️ %s, уже %s без отметки.\n\n", name, dayCount(days)))
		b.WriteString(fmt.Sprintf("Текущая серия: %s, лучшая: %s. ", dayCount(meta.StreakDays), dayCount(meta.BestStreak)))
		b.WriteString("Ещё пара дней тишины - и её не вернуть. Отметься сегодня: /checkin")

	case database.SeverityCritical:
		b.WriteString(fmt.Sprintf("🚨 %s, %s тишины.\n\n", name, dayCount(days)))
		b.WriteString(fmt.Sprintf("📅 Последняя отметка: %s\n", meta.LastCheckIn))
		b.WriteString(fmt.Sprintf("🔥 Серия до паузы: %s (рекорд %s)\n", dayCount(meta.StreakDays), dayCount(meta.BestStreak)))
		if meta.LastIncident != "" {
			b.WriteString(fmt.Sprintf("🚫 Последний срыв: %s. Пропуски отметок шли перед ним.\n", meta.LastIncident))
		}
		b.WriteString("\nНе нужно идеального дня - нужна честная отметка: /checkin")

	default:
		b.WriteString(fmt.Sprintf("🆘 %s, %s без отметки.\n\n", name, dayCount(days)))
		b.WriteString(fmt.Sprintf("Последняя отметка: %s. До неё было %s подряд.\n\n", meta.LastCheckIn, dayCount(meta.StreakDays)))
		b.WriteString("План на ближайший час:\n")
		b.WriteString("1. Открой чат и отправь /checkin - даже если день провален\n")
		b.WriteString("2. Выбери одно действие на сегодня: сон, тренировка или 30 минут работы\n")
		b.WriteString("3. Напиши, что мешает, в поле препятствий\n")
		if meta.Shields > 0 {
			b.WriteString(fmt.Sprintf("\n🛡 Доступно щитов: %d. Щит сохранит серию %s, если отметишься сегодня.", meta.Shields, dayCount(meta.StreakDays)))
		}
		if NotifiesPeer(p, meta) {
			b.WriteString(fmt.Sprintf("\n👥 %s получит уведомление о твоём молчании.", peerName(meta.Peer, "Напарник")))
		}
	}
	return b.String()
}

// PeerMessage - отдельное сообщение напарнику, а не копия текста пользователя
func PeerMessage(p database.Pattern, meta database.UserMeta) string {
	days := int(p.Evidence.Values["days_since"])
	to := ""
	if meta.Peer != nil {
		to = meta.Peer.Name
	}

	return fmt.Sprintf(
		"👥 %s, твой напарник %s молчит уже %s.\n\n"+
			"📅 Последняя отметка: %s\n"+
			"🔥 Серия до паузы: %s\n\n"+
			"Напиши ему лично - короткое сообщение сейчас работает лучше любых напоминаний.",
		displayName(to), displayName(meta.Name), dayCount(days), meta.LastCheckIn, dayCount(meta.StreakDays),
	)
}

// IncidentMessage - шаблон для срыва
func IncidentMessage(p database.Pattern, meta database.UserMeta) string {
	last := ""
	if len(p.Evidence.Dates) > 0 {
		last = p.Evidence.Dates[len(p.Evidence.Dates)-1]
	}
	count := int(p.Evidence.Values["incidents"])

	var b strings.Builder
	b.WriteString(fmt.Sprintf("🚫 %s, отмечен срыв %s.\n\n", displayName(meta.Name), last))
	if count > 1 {
		b.WriteString(fmt.Sprintf("За неделю это уже %d-й раз.\n", count))
	}
	if meta.BestStreak > 0 {
		b.WriteString(fmt.Sprintf("Твой рекорд - %s без срывов. Он никуда не делся: ты это уже умеешь.\n", dayCount(meta.BestStreak)))
	}
	b.WriteString("\nСегодня задача одна - следующие 24 часа без повторения. ")
	b.WriteString("Убери триггер из доступа и отметь вечером, как прошло: /checkin")
	if meta.Peer != nil {
		b.WriteString(fmt.Sprintf("\n\n👥 Если тяжело - напиши %s прямо сейчас.", peerName(meta.Peer, "напарнику")))
	}
	return b.String()
}

// FallbackMessage - общий шаблон по типу паттерна на случай, когда генерация недоступна
func FallbackMessage(p database.Pattern, meta database.UserMeta) string {
	name := displayName(meta.Name)
	title := utils.GetPatternName(string(p.Type))

	var advice string
	switch p.Type {
	case database.PatternSleepDegradation:
		advice = "Сегодня ляг на 30 минут раньше и убери телефон из спальни."
	case database.PatternTrainingAbandonment:
		advice = "Не нужна полная тренировка: 20 минут движения сегодня вернут ритм."
	case database.PatternComplianceDecline:
		advice = "Выбери одну привычку, которая проседает сильнее всего, и закрой её сегодня первой."
	case database.PatternDeepWorkCollapse:
		advice = "Поставь завтра первый блок 90 минут на самую сложную задачу, до почты и чатов."
	case database.PatternConsumptionVortex:
		advice = "Поставь лимит на приложения и замени один вечерний час прогулкой или книгой."
	case database.PatternRelationshipInterference:
		advice = "Провал границ тянет за собой режим. Заранее реши, что ответишь в следующий раз, и защити время тренировки."
	case database.PatternWakeTimeDrift:
		advice = "Будильник без повторов и свет сразу после подъёма вернут время подъёма на место."
	default:
		advice = "Разбери, что изменилось за последние дни, и выбери одно действие на сегодня."
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s %s, замечен паттерн: %s\n\n", utils.GetSeverityEmoji(string(p.Severity)), name, title))
	if p.Evidence.Summary != "" {
		b.WriteString(fmt.Sprintf("📊 %s\n\n", p.Evidence.Summary))
	}
	b.WriteString("💡 " + advice)
	if meta.StreakDays > 0 {
		b.WriteString(fmt.Sprintf("\n\n🔥 Серия отметок: %s - не теряй её.", dayCount(meta.StreakDays)))
	}
	return b.String()
}

func peerName(peer *database.Peer, fallback string) string {
	if name := strings.TrimSpace(peer.Name); name != "" {
		return name
	}
	return fallback
}

func displayName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "Привет"
	}
	return name
}

// dayCount склоняет «день» по числу: 1 день, 3 дня, 5 дней
func dayCount(n int) string {
	mod10, mod100 := n%10, n%100
	switch {
	case mod10 == 1 && mod100 != 11:
		return fmt.Sprintf("%d день", n)
	case mod10 >= 2 && mod10 <= 4 && (mod100 < 12 || mod100 > 14):
		return fmt.Sprintf("%d дня", n)
	default:
		return fmt.Sprintf("%d дней", n)
	}
}
