package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"pillars-watch/internal/api"
	"pillars-watch/internal/config"
	"pillars-watch/internal/database"
	"pillars-watch/internal/email"
	"pillars-watch/internal/intervention"
	"pillars-watch/internal/llm"
	"pillars-watch/internal/lock"
	"pillars-watch/internal/logger"
	"pillars-watch/internal/notify"
	"pillars-watch/internal/services"
	"pillars-watch/internal/telegram"
	"pillars-watch/internal/utils"
)

type Application struct {
	config     *config.Config
	log        *logger.Logger
	db         *database.Database
	bot        *telegram.Bot
	services   *services.ServiceManager
	redis      *lock.RedisLocker
	cron       *cron.Cron
	http       *http.Server
	cancelFunc context.CancelFunc
	ctx        context.Context
}

// New собирает приложение. Бот создаётся, только если задан TG_TOKEN:
// разовый скан может обойтись email-каналом.
func New(cfg *config.Config, log *logger.Logger) (*Application, error) {
	utils.SetLocation(cfg.Location())
	ctx, cancel := context.WithCancel(context.Background())

	app := &Application{
		config:     cfg,
		log:        log,
		cancelFunc: cancel,
		ctx:        ctx,
	}
	if err := app.init(); err != nil {
		app.close()
		return nil, err
	}
	return app, nil
}

func (a *Application) init() error {
	cfg := a.config

	db, err := database.New(cfg.Database.Path)
	if err != nil {
		return err
	}
	a.db = db
	repo := database.NewRepository(db)

	var channels []notify.Channel
	if cfg.Telegram.Token != "" {
		bot, err := telegram.NewBot(cfg.Telegram.Token, repo, a.log)
		if err != nil {
			return err
		}
		a.bot = bot
		channels = append(channels, bot)
	}

	sender, err := email.NewSender(a.ctx, cfg.Email.Region, cfg.Email.From, cfg.Email.FromName, a.log)
	if err != nil {
		return err
	}
	if sender.Enabled() {
		channels = append(channels, sender)
	}
	if len(channels) == 0 {
		a.log.Warn("⚠️ Нет ни одного канала доставки: интервенции будут записаны как недоставленные")
	}

	var generator intervention.TextGenerator
	if cfg.Generation.APIKey != "" {
		gemini, err := llm.NewGemini(a.ctx, cfg.Generation.APIKey, cfg.Generation.Model)
		if err != nil {
			a.log.Warn("⚠️ Генерация недоступна, используются шаблоны", "err", err)
		} else {
			generator = gemini
			a.log.Info("✅ Генерация включена", "model", gemini.Name())
		}
	}

	var locker lock.Locker = lock.NewKeyedMutex()
	if cfg.Redis.URL != "" {
		redisLocker, err := lock.NewRedisLocker(cfg.Redis.URL, a.log)
		if err != nil {
			return err
		}
		a.redis = redisLocker
		locker = redisLocker
		a.log.Info("🔒 Блокировки пользователей через Redis")
	}

	a.services = services.NewServiceManager(
		repo,
		generator,
		notify.NewRouter(channels...),
		locker,
		services.GenerationConfig{
			Timeout:   cfg.Generation.Timeout,
			MaxTokens: cfg.Generation.MaxTokens,
		},
		services.ScanConfig{
			Workers:            cfg.Scan.Workers,
			Deadline:           cfg.Scan.Deadline,
			ActiveLookbackDays: cfg.Scan.ActiveLookbackDays,
			SilenceHorizonDays: cfg.Scan.SilenceHorizonDays,
		},
		a.log,
	)
	if a.bot != nil {
		a.bot.SetServices(a.services)
	}

	cronLog := cron.PrintfLogger(zap.NewStdLog(a.log.Zap()))
	a.cron = cron.New(
		cron.WithLocation(utils.Location()),
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)
	return a.setupCronJobs()
}

// RunScan - разовое полное сканирование
func (a *Application) RunScan(ctx context.Context) (services.Summary, error) {
	return a.services.Scanner.ScanAll(ctx)
}

func (a *Application) Start() error {
	a.log.Info("🚀 Запуск приложения...")

	if a.bot != nil {
		go a.bot.Start(a.ctx)
	}
	a.cron.Start()

	a.http = &http.Server{
		Addr:              ":" + a.config.Server.Port,
		Handler:           api.NewServer(a.services.Scanner, a.services.Repository(), a.log),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := a.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("❌ Ошибка HTTP сервера", "err", err)
		}
	}()

	if a.bot != nil {
		a.log.Info("✅ Приложение запущено", "bot", a.bot.GetUsername())
	} else {
		a.log.Info("✅ Приложение запущено без Telegram")
	}
	a.log.Info("🌐 API доступен", "port", a.config.Server.Port, "schedule", a.config.Scan.Schedule)
	return nil
}

func (a *Application) Stop() error {
	a.log.Info("🛑 Остановка приложения...")

	a.cancelFunc()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if a.http != nil {
		if err := a.http.Shutdown(ctx); err != nil {
			a.log.Warn("⚠️ Ошибка остановки HTTP сервера", "err", err)
		}
	}
	if a.cron != nil {
		// Дожидаемся текущего скана
		select {
		case <-a.cron.Stop().Done():
		case <-ctx.Done():
			a.log.Warn("⚠️ Скан не завершился до остановки")
		}
	}

	a.close()
	a.log.Info("✅ Приложение остановлено")
	return nil
}

func (a *Application) close() {
	a.cancelFunc()
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("⚠️ Ошибка закрытия Redis", "err", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("⚠️ Ошибка закрытия БД", "err", err)
		}
	}
}

func (a *Application) setupCronJobs() error {
	// Полное сканирование по расписанию
	if _, err := a.cron.AddFunc(a.config.Scan.Schedule, a.runScheduledScan); err != nil {
		return fmt.Errorf("неверный SCAN_SCHEDULE %q: %w", a.config.Scan.Schedule, err)
	}

	// Вечернее напоминание об отметке
	_, err := a.cron.AddFunc(a.config.Scan.ReminderSchedule, func() {
		if _, err := a.services.Reminder.SendCheckInReminders(a.ctx); err != nil {
			a.log.Error("❌ Ошибка напоминаний", "err", err)
		}
	})
	if err != nil {
		return fmt.Errorf("неверный REMINDER_SCHEDULE %q: %w", a.config.Scan.ReminderSchedule, err)
	}
	return nil
}

func (a *Application) runScheduledScan() {
	summary, err := a.services.Scanner.ScanAll(a.ctx)
	if errors.Is(err, services.ErrScanInProgress) {
		a.log.Warn("⚠️ Предыдущее сканирование ещё идёт, запуск пропущен")
		return
	}
	if err != nil {
		a.log.Error("❌ Ошибка сканирования", "err", err)
		return
	}
	if summary.Errors > 0 {
		a.log.Warn("⚠️ Сканирование завершено с ошибками", "errors", summary.Errors, "users", summary.UsersScanned)
	}
}
