package services

import (
	"context"
	"fmt"
	"time"

	"pillars-watch/internal/logger"
	"pillars-watch/internal/notify"
	"pillars-watch/internal/utils"
)

// ReminderService напоминает об отметке тем, чья серия ещё жива, но сегодня отметки нет
type ReminderService struct {
	sender notify.Channel
	data   DataProvider
	clock  func() time.Time
	log    *logger.Logger
}

func NewReminderService(sender notify.Channel, data DataProvider, clock func() time.Time, log *logger.Logger) *ReminderService {
	if clock == nil {
		clock = time.Now
	}
	return &ReminderService{
		sender: sender,
		data:   data,
		clock:  clock,
		log:    log,
	}
}

// SendCheckInReminders возвращает число отправленных напоминаний
func (rs *ReminderService) SendCheckInReminders(ctx context.Context) (int, error) {
	today := utils.LocalDate(rs.clock())
	yesterday, err := utils.AddDays(today, -1)
	if err != nil {
		return 0, err
	}

	users, err := rs.data.ActiveUsers(ctx, yesterday)
	if err != nil {
		return 0, fmt.Errorf("ошибка получения пользователей: %w", err)
	}

	rs.log.Info("🔔 Проверка напоминаний", "date", today, "candidates", len(users))

	sent := 0
	for _, u := range users {
		if u.LastCheckIn >= today {
			continue
		}
		meta, err := rs.data.UserMeta(ctx, u.ID)
		if err != nil {
			rs.log.Warn("⚠️ Ошибка получения пользователя", "user_id", u.ID, "err", err)
			continue
		}

		text := fmt.Sprintf(
			"📝 Сегодня ещё нет отметки.\n"+
				"🔥 Серия: %d дн. Не дай ей прерваться.\n\n"+
				"Используй команду: /checkin сон=да тренировка=да работа=да навык=да срыв=нет границы=да",
			meta.StreakDays,
		)
		to := notify.Recipient{UserID: meta.UserID, ChatID: meta.ChatID, Email: meta.Email, Name: meta.Name}
		if err := rs.sender.Send(ctx, to, text); err != nil {
			rs.log.Error("❌ Ошибка отправки напоминания", "user_id", u.ID, "err", err)
			continue
		}
		sent++
	}

	rs.log.Info("✅ Напоминания отправлены", "sent", sent)
	return sent, nil
}
