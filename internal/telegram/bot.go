package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"pillars-watch/internal/database"
	"pillars-watch/internal/logger"
	"pillars-watch/internal/notify"
	"pillars-watch/internal/services"
)

type Bot struct {
	bot      *tgbotapi.BotAPI
	repo     *database.Repository
	services *services.ServiceManager
	handlers map[string]func(context.Context, *tgbotapi.Message)
	clock    func() time.Time
	log      *logger.Logger
}

func NewBot(token string, repo *database.Repository, log *logger.Logger) (*Bot, error) {
	botAPI, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания бота: %w", err)
	}

	bot := newBot(botAPI, repo, log)
	log.Info("🤖 Бот инициализирован", "username", botAPI.Self.UserName)
	return bot, nil
}

func newBot(api *tgbotapi.BotAPI, repo *database.Repository, log *logger.Logger) *Bot {
	bot := &Bot{
		bot:      api,
		repo:     repo,
		handlers: make(map[string]func(context.Context, *tgbotapi.Message)),
		clock:    time.Now,
		log:      log,
	}
	bot.registerHandlers()
	return bot
}

// SetServices связывает бота с сервисами: бот сам является каналом доставки для них
func (b *Bot) SetServices(sm *services.ServiceManager) {
	b.services = sm
}

func (b *Bot) registerHandlers() {
	b.handlers["/start"] = b.handleStart
	b.handlers["/checkin"] = b.handleCheckIn
	b.handlers["/status"] = b.handleStatus
	b.handlers["/peer"] = b.handlePeer
	b.handlers["/email"] = b.handleEmail
	b.handlers["/help"] = b.handleHelp
}

// Send реализует notify.Channel. Текст отправляется без разметки: его может писать модель.
func (b *Bot) Send(ctx context.Context, to notify.Recipient, text string) error {
	if to.ChatID == 0 {
		return fmt.Errorf("%w: нет chat_id у user_id=%d", notify.ErrNoRecipient, to.UserID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := b.bot.Send(tgbotapi.NewMessage(to.ChatID, text)); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}

// reply отвечает на команду HTML-сообщением
func (b *Bot) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := b.bot.Send(msg); err != nil {
		b.log.Error("❌ Ошибка отправки ответа", "chat_id", chatID, "err", err)
	}
}

func (b *Bot) GetUsername() string {
	return b.bot.Self.UserName
}

func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.bot.StopReceivingUpdates()
			return
		case update := <-updates:
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message == nil || update.Message.Text == "" {
		return
	}
	// Только личные чаты: интервенции адресуются одному человеку
	if !update.Message.Chat.IsPrivate() {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			b.log.Error("❌ Паника в обработчике", "chat_id", update.Message.Chat.ID, "panic", r)
		}
	}()
	b.handleMessage(ctx, update.Message)
}

// handleMessage обрабатывает текстовые сообщения
func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if !strings.HasPrefix(msg.Text, "/") {
		b.reply(msg.Chat.ID, "Используйте /help для списка команд")
		return
	}

	command := msg.Command()
	if handler, exists := b.handlers["/"+command]; exists {
		handler(ctx, msg)
		return
	}
	b.reply(msg.Chat.ID, "❌ Неизвестная команда. Используйте /help")
}

// currentUser находит пользователя чата; незарегистрированным предлагается /start
func (b *Bot) currentUser(ctx context.Context, msg *tgbotapi.Message) (*database.User, bool) {
	user, err := b.repo.GetUserByChat(ctx, msg.Chat.ID)
	if errors.Is(err, database.ErrUserNotFound) {
		b.reply(msg.Chat.ID, "👋 Сначала зарегистрируйтесь: /start")
		return nil, false
	}
	if err != nil {
		b.log.Error("❌ Ошибка получения пользователя", "chat_id", msg.Chat.ID, "err", err)
		b.reply(msg.Chat.ID, "❌ Ошибка получения профиля")
		return nil, false
	}
	return user, true
}
