package utils

// Вспомогательные функции для получения названий и эмодзи паттернов
func GetPatternName(patternStr string) string {
	switch patternStr {
	case "absence":
		return "👻 Пропуск отметок"
	case "sleep_degradation":
		return "😴 Деградация сна"
	case "training_abandonment":
		return "🏃 Заброшенные тренировки"
	case "compliance_decline":
		return "📉 Падение дисциплины"
	case "deep_work_collapse":
		return "🧠 Обвал глубокой работы"
	case "consumption_vortex":
		return "📱 Воронка потребления"
	case "relationship_interference":
		return "🔗 Границы ломают режим"
	case "incident_relapse":
		return "🚫 Срыв"
	case "wake_time_drift":
		return "⏰ Дрейф подъёма"
	default:
		return patternStr
	}
}

func GetSeverityEmoji(severity string) string {
	switch severity {
	case "low", "nudge":
		return "🟢"
	case "medium", "warning":
		return "🟡"
	case "high":
		return "🟠"
	case "critical":
		return "🔴"
	case "emergency":
		return "🆘"
	default:
		return "⚪"
	}
}
