package services

import (
	"time"

	"pillars-watch/internal/database"
	"pillars-watch/internal/detector"
	"pillars-watch/internal/intervention"
	"pillars-watch/internal/lock"
	"pillars-watch/internal/logger"
	"pillars-watch/internal/notify"
)

type GenerationConfig struct {
	Timeout   time.Duration
	MaxTokens int
}

type ServiceManager struct {
	Scanner    *Scanner
	Reminder   *ReminderService
	Analytics  *AnalyticsService
	repository *database.Repository
}

func NewServiceManager(
	repo *database.Repository,
	llm intervention.TextGenerator,
	channel notify.Channel,
	locker lock.Locker,
	genCfg GenerationConfig,
	scanCfg ScanConfig,
	log *logger.Logger,
) *ServiceManager {
	dispatcher := NewDispatcher(channel, log)
	generator := intervention.NewGenerator(llm, genCfg.Timeout, genCfg.MaxTokens, log)

	return &ServiceManager{
		Scanner:    NewScanner(repo, repo, detector.DefaultRegistry(), generator, dispatcher, locker, log, scanCfg),
		Reminder:   NewReminderService(channel, repo, scanCfg.Clock, log),
		Analytics:  NewAnalyticsService(repo, scanCfg.Clock),
		repository: repo,
	}
}

func (sm *ServiceManager) Repository() *database.Repository {
	return sm.repository
}
