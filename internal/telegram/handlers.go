package telegram

import (
	"context"
	"errors"
	"html"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"pillars-watch/internal/database"
	"pillars-watch/internal/email"
	"pillars-watch/internal/utils"
)

// handlers.go - обработчики команд Telegram бота

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) {
	name := ""
	if msg.From != nil {
		name = strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
	}

	user, err := b.repo.RegisterChat(ctx, msg.Chat.ID, name)
	if err != nil {
		b.log.Error("❌ Ошибка регистрации", "chat_id", msg.Chat.ID, "err", err)
		b.reply(msg.Chat.ID, "❌ Ошибка регистрации")
		return
	}

	b.log.Info("👤 Пользователь зарегистрирован", "user_id", user.ID, "chat_id", msg.Chat.ID)
	b.reply(msg.Chat.ID, welcomeMessage(user.ID, user.Name))
}

func (b *Bot) handleCheckIn(ctx context.Context, msg *tgbotapi.Message) {
	user, ok := b.currentUser(ctx, msg)
	if !ok {
		return
	}

	today := utils.LocalDate(b.clock())
	checkIn, err := ParseCheckIn(msg.CommandArguments(), user.ID, today)
	if errors.Is(err, errEmptyCheckIn) {
		b.reply(msg.Chat.ID, checkInFormat)
		return
	}
	if err != nil {
		b.reply(msg.Chat.ID, "❌ "+html.EscapeString(err.Error())+"\n\n"+checkInFormat)
		return
	}

	saved, err := b.repo.SaveCheckIn(ctx, checkIn)
	if errors.Is(err, database.ErrCheckInTooOld) {
		b.reply(msg.Chat.ID, "❌ Эта отметка уже закрыта для исправлений")
		return
	}
	if err != nil {
		b.log.Error("❌ Ошибка сохранения отметки", "user_id", user.ID, "err", err)
		b.reply(msg.Chat.ID, "❌ Ошибка сохранения отметки")
		return
	}

	meta, err := b.repo.UserMeta(ctx, user.ID)
	if err != nil {
		b.log.Error("❌ Ошибка получения профиля", "user_id", user.ID, "err", err)
	}
	b.reply(msg.Chat.ID, checkInSavedMessage(saved, meta.StreakDays))

	// Интервенции по результатам скана уходят через канал доставки отдельными сообщениями
	if b.services != nil {
		if _, err := b.services.Scanner.ScanUser(ctx, user.ID); err != nil {
			b.log.Warn("⚠️ Скан после отметки завершился с ошибкой", "user_id", user.ID, "err", err)
		}
	}
}

func (b *Bot) handleStatus(ctx context.Context, msg *tgbotapi.Message) {
	user, ok := b.currentUser(ctx, msg)
	if !ok {
		return
	}
	if b.services == nil {
		return
	}

	report, err := b.services.Analytics.GetWeeklyStatus(ctx, user.ID)
	if err != nil {
		b.log.Error("❌ Ошибка получения сводки", "user_id", user.ID, "err", err)
		b.reply(msg.Chat.ID, "❌ Ошибка получения сводки за неделю")
		return
	}
	b.reply(msg.Chat.ID, statusMessage(report))
}

func (b *Bot) handlePeer(ctx context.Context, msg *tgbotapi.Message) {
	user, ok := b.currentUser(ctx, msg)
	if !ok {
		return
	}

	arg := strings.TrimSpace(msg.CommandArguments())
	peerID, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || peerID <= 0 {
		b.reply(msg.Chat.ID, "❌ Формат: /peer [id напарника]\nID напарник видит в ответе на /start")
		return
	}

	peer, err := b.repo.GetUser(ctx, peerID)
	if err != nil {
		b.reply(msg.Chat.ID, "❌ Пользователь с таким ID не найден")
		return
	}
	if err := b.repo.LinkPeer(ctx, user.ID, peerID); err != nil {
		b.reply(msg.Chat.ID, "❌ "+html.EscapeString(err.Error()))
		return
	}

	b.log.Info("👥 Напарник привязан", "user_id", user.ID, "peer_id", peerID)
	b.reply(msg.Chat.ID, peerLinkedMessage(peer.Name))
}

func (b *Bot) handleEmail(ctx context.Context, msg *tgbotapi.Message) {
	user, ok := b.currentUser(ctx, msg)
	if !ok {
		return
	}

	arg := strings.TrimSpace(msg.CommandArguments())
	switch {
	case arg == "":
		b.reply(msg.Chat.ID, emailStatusMessage(user.Email))
		return
	case strings.EqualFold(arg, "off") || strings.EqualFold(arg, "выкл"):
		arg = ""
	default:
		if err := email.ValidateAddress(arg); err != nil {
			b.reply(msg.Chat.ID, "❌ Неверный адрес. Формат: /email name@example.com")
			return
		}
	}

	if err := b.repo.SetEmail(ctx, user.ID, arg); err != nil {
		b.log.Error("❌ Ошибка сохранения email", "user_id", user.ID, "err", err)
		b.reply(msg.Chat.ID, "❌ Ошибка сохранения email")
		return
	}

	b.log.Info("📧 Email обновлён", "user_id", user.ID, "enabled", arg != "")
	b.reply(msg.Chat.ID, emailStatusMessage(arg))
}

func (b *Bot) handleHelp(_ context.Context, msg *tgbotapi.Message) {
	b.reply(msg.Chat.ID, helpMessage)
}
