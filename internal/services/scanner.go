package services

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"pillars-watch/internal/database"
	"pillars-watch/internal/detector"
	"pillars-watch/internal/intervention"
	"pillars-watch/internal/lock"
	"pillars-watch/internal/logger"
	"pillars-watch/internal/utils"
)

// ErrScanInProgress - полное сканирование уже идёт, новый запуск отклонён
var ErrScanInProgress = errors.New("сканирование уже выполняется")

// DataProvider - источник отметок и метаданных пользователей
type DataProvider interface {
	UserMeta(ctx context.Context, userID int64) (database.UserMeta, error)
	RecentCheckIns(ctx context.Context, userID int64, since string) ([]database.CheckIn, error)
	ActiveUsers(ctx context.Context, since string) ([]database.UserRef, error)
	SilentUsers(ctx context.Context, from, to string) ([]database.UserRef, error)
}

// PatternStore - журнал паттернов с дедупликацией и история интервенций
type PatternStore interface {
	RecordPattern(ctx context.Context, p database.Pattern) (database.LedgerOutcome, database.Pattern, error)
	ResolveMissing(ctx context.Context, userID int64, detected map[database.PatternType]bool, at time.Time) ([]database.Pattern, error)
	SaveIntervention(ctx context.Context, in database.Intervention) (database.Intervention, error)
}

type ScanConfig struct {
	Workers            int
	Deadline           time.Duration
	ActiveLookbackDays int
	SilenceHorizonDays int
	Clock              func() time.Time
}

// UserResult - итог прохода по одному пользователю
type UserResult struct {
	UserID            int64                  `json:"user_id"`
	PatternsFound     int                    `json:"patterns_found"`
	InterventionsSent int                    `json:"interventions_sent"`
	DeliveryFailures  int                    `json:"delivery_failures"`
	Resolved          []database.PatternType `json:"resolved,omitempty"`
}

// Summary - итог полного сканирования
type Summary struct {
	UsersScanned      int       `json:"users_scanned"`
	PatternsFound     int       `json:"patterns_found"`
	InterventionsSent int       `json:"interventions_sent"`
	DeliveryFailures  int       `json:"delivery_failures"`
	Errors            int       `json:"errors"`
	Skipped           int       `json:"skipped"`
	DeadlineReached   bool      `json:"deadline_reached"`
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at"`
}

func (s Summary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

type Scanner struct {
	data       DataProvider
	store      PatternStore
	registry   *detector.Registry
	generator  *intervention.Generator
	dispatcher *Dispatcher
	locker     lock.Locker
	log        *logger.Logger
	cfg        ScanConfig

	running atomic.Bool
}

func NewScanner(
	data DataProvider,
	store PatternStore,
	registry *detector.Registry,
	generator *intervention.Generator,
	dispatcher *Dispatcher,
	locker lock.Locker,
	log *logger.Logger,
	cfg ScanConfig,
) *Scanner {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = 20 * time.Minute
	}
	if cfg.ActiveLookbackDays <= 0 {
		cfg.ActiveLookbackDays = 7
	}
	if cfg.SilenceHorizonDays < cfg.ActiveLookbackDays {
		cfg.SilenceHorizonDays = cfg.ActiveLookbackDays
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if locker == nil {
		locker = lock.NewKeyedMutex()
	}
	return &Scanner{
		data:       data,
		store:      store,
		registry:   registry,
		generator:  generator,
		dispatcher: dispatcher,
		locker:     locker,
		log:        log,
		cfg:        cfg,
	}
}

// Running сообщает, идёт ли сейчас полное сканирование
func (s *Scanner) Running() bool {
	return s.running.Load()
}

// ScanUser - проход по одному пользователю сразу после отметки
func (s *Scanner) ScanUser(ctx context.Context, userID int64) (UserResult, error) {
	res, err := s.safeScanUser(ctx, userID)
	if err != nil {
		s.log.Error("❌ Ошибка сканирования пользователя", "user_id", userID, "err", err)
		return res, err
	}
	s.log.Info("🔍 Пользователь просканирован",
		"user_id", userID, "patterns", res.PatternsFound, "interventions", res.InterventionsSent)
	return res, nil
}

// ScanAll сканирует всех активных и недавно замолчавших пользователей.
// Параллельный запуск отклоняется с ErrScanInProgress. По истечении дедлайна
// новые пользователи не берутся, а начатые доводятся до конца.
func (s *Scanner) ScanAll(ctx context.Context) (Summary, error) {
	if !s.running.CompareAndSwap(false, true) {
		return Summary{}, ErrScanInProgress
	}
	defer s.running.Store(false)

	summary := Summary{StartedAt: s.cfg.Clock().UTC()}
	users, err := s.candidates(ctx)
	if err != nil {
		return summary, fmt.Errorf("ошибка получения списка пользователей: %w", err)
	}

	s.log.Info("🔍 Запуск сканирования", "users", len(users), "workers", s.cfg.Workers)

	launchCtx, cancel := context.WithTimeout(ctx, s.cfg.Deadline)
	defer cancel()

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.cfg.Workers)

	for i, userID := range users {
		if launchCtx.Err() != nil {
			mu.Lock()
			summary.Skipped += len(users) - i
			mu.Unlock()
			break
		}

		g.Go(func() error {
			// Слот мог освободиться уже после дедлайна
			if launchCtx.Err() != nil {
				mu.Lock()
				summary.Skipped++
				mu.Unlock()
				return nil
			}

			res, err := s.safeScanUser(ctx, userID)

			mu.Lock()
			defer mu.Unlock()
			summary.PatternsFound += res.PatternsFound
			summary.InterventionsSent += res.InterventionsSent
			summary.DeliveryFailures += res.DeliveryFailures
			if err != nil {
				summary.Errors++
				s.log.Error("❌ Ошибка сканирования пользователя", "user_id", userID, "err", err)
				return nil
			}
			summary.UsersScanned++
			return nil
		})
	}
	g.Wait()

	summary.FinishedAt = s.cfg.Clock().UTC()
	if err := ctx.Err(); err != nil {
		return summary, err
	}
	if summary.Skipped > 0 {
		summary.DeadlineReached = true
		s.log.Warn("⚠️ Дедлайн сканирования истёк", "skipped", summary.Skipped, "deadline", s.cfg.Deadline)
	}

	s.log.Info("✅ Сканирование завершено",
		"users", summary.UsersScanned,
		"patterns", summary.PatternsFound,
		"interventions", summary.InterventionsSent,
		"errors", summary.Errors,
		"duration", summary.Duration())
	return summary, nil
}

// candidates - активные за lookback плюс замолчавшие в пределах горизонта пропусков, без повторов
func (s *Scanner) candidates(ctx context.Context) ([]int64, error) {
	today := utils.LocalDate(s.cfg.Clock())
	activeSince, err := utils.AddDays(today, -s.cfg.ActiveLookbackDays)
	if err != nil {
		return nil, err
	}
	silentFrom, err := utils.AddDays(today, -s.cfg.SilenceHorizonDays)
	if err != nil {
		return nil, err
	}

	active, err := s.data.ActiveUsers(ctx, activeSince)
	if err != nil {
		return nil, err
	}
	silent, err := s.data.SilentUsers(ctx, silentFrom, activeSince)
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]bool, len(active)+len(silent))
	var ids []int64
	for _, u := range append(active, silent...) {
		if seen[u.ID] {
			continue
		}
		seen[u.ID] = true
		ids = append(ids, u.ID)
	}
	return ids, nil
}

// safeScanUser - граница ошибок одного пользователя: паника превращается в ошибку
func (s *Scanner) safeScanUser(ctx context.Context, userID int64) (res UserResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("❌ Паника при сканировании", "user_id", userID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("паника при сканировании пользователя %d: %v", userID, r)
		}
	}()

	unlock, err := s.locker.Lock(ctx, fmt.Sprintf("user:%d", userID))
	if err != nil {
		return UserResult{UserID: userID}, fmt.Errorf("блокировка пользователя %d: %w", userID, err)
	}
	defer unlock()

	return s.scanUser(ctx, userID)
}

func (s *Scanner) scanUser(ctx context.Context, userID int64) (UserResult, error) {
	res := UserResult{UserID: userID}
	now := s.cfg.Clock()
	today := utils.LocalDate(now)

	meta, err := s.data.UserMeta(ctx, userID)
	if err != nil {
		return res, fmt.Errorf("метаданные пользователя: %w", err)
	}

	since, err := utils.AddDays(today, -(s.registry.MaxDays() - 1))
	if err != nil {
		return res, err
	}
	window, err := s.data.RecentCheckIns(ctx, userID, since)
	if err != nil {
		return res, fmt.Errorf("отметки пользователя: %w", err)
	}

	found := s.registry.DetectAll(window, meta, today, now)
	days, checkedIn, err := detector.DaysSinceLastCheckIn(meta, now)
	if err != nil {
		s.log.Warn("⚠️ Некорректная дата последней отметки", "user_id", userID, "last_checkin", meta.LastCheckIn, "err", err)
	} else if checkedIn {
		if p, ok := detector.DetectAbsence(days, meta, now); ok {
			found = append(found, p)
		}
	}

	var errs []error
	detected := make(map[database.PatternType]bool, len(found))
	for _, p := range found {
		detected[p.Type] = true
		res.PatternsFound++

		outcome, stored, err := s.store.RecordPattern(ctx, p)
		if err != nil {
			errs = append(errs, fmt.Errorf("запись паттерна %s: %w", p.Type, err))
			continue
		}
		if outcome == database.OutcomeUnchanged {
			continue
		}

		s.log.Info("🔔 Паттерн "+string(outcome),
			"user_id", userID, "pattern", stored.Type, "severity", stored.Severity)

		if err := s.intervene(ctx, stored, meta, &res); err != nil {
			errs = append(errs, err)
		}
	}

	resolved, err := s.store.ResolveMissing(ctx, userID, detected, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("закрытие паттернов: %w", err))
	}
	for _, p := range resolved {
		res.Resolved = append(res.Resolved, p.Type)
		s.log.Info("✅ Паттерн закрыт", "user_id", userID, "pattern", p.Type)
	}

	return res, errors.Join(errs...)
}

func (s *Scanner) intervene(ctx context.Context, p database.Pattern, meta database.UserMeta, res *UserResult) error {
	draft := s.generator.Generate(ctx, p, meta)
	delivery := s.dispatcher.Dispatch(ctx, draft)

	res.InterventionsSent++
	if delivery.UserStatus == database.DeliveryFailed {
		res.DeliveryFailures++
	}
	if delivery.PeerStatus == database.DeliveryFailed {
		res.DeliveryFailures++
	}

	_, err := s.store.SaveIntervention(ctx, database.Intervention{
		PatternID:   p.ID,
		UserID:      meta.UserID,
		PatternType: p.Type,
		Severity:    p.Severity,
		Text:        draft.Text,
		PeerText:    delivery.PeerText,
		Method:      draft.Method,
		Target:      delivery.Target,
		UserStatus:  delivery.UserStatus,
		PeerStatus:  delivery.PeerStatus,
		UserError:   delivery.UserError,
		PeerError:   delivery.PeerError,
		SentAt:      s.cfg.Clock().UTC(),
	})
	if err != nil {
		// Паттерн уже записан, сообщение ушло: история интервенции потеряна
		return fmt.Errorf("сохранение интервенции %s: %w", p.Type, err)
	}
	return nil
}
