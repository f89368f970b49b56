package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"pillars-watch/internal/utils"
)

var (
	ErrUserNotFound  = errors.New("пользователь не найден")
	ErrCheckInTooOld = errors.New("отметка старше окна исправления")
)

type Repository struct {
	Db *Database
}

func NewRepository(db *Database) *Repository {
	return &Repository{Db: db}
}

// User repository methods
func (r *Repository) CreateUser(ctx context.Context, user User) (int64, error) {
	res, err := r.Db.db.ExecContext(ctx, `
		INSERT INTO users (chat_id, name, email, peer_id, shields, streak_days, best_streak, last_checkin, last_incident)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, user.ChatID, user.Name, user.Email, user.PeerID, user.Shields, user.StreakDays, user.BestStreak, user.LastCheckIn, user.LastIncident)
	if err != nil {
		return 0, fmt.Errorf("ошибка создания пользователя: %w", err)
	}
	return res.LastInsertId()
}

// RegisterChat возвращает пользователя с этим chat_id, создавая его при первом обращении
func (r *Repository) RegisterChat(ctx context.Context, chatID int64, name string) (*User, error) {
	user, err := r.GetUserByChat(ctx, chatID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	id, err := r.CreateUser(ctx, User{ChatID: chatID, Name: name})
	if err != nil {
		return nil, err
	}
	return r.GetUser(ctx, id)
}

func (r *Repository) GetUser(ctx context.Context, id int64) (*User, error) {
	var user User
	err := r.Db.db.GetContext(ctx, &user, `
		SELECT id, chat_id, name, email, peer_id, shields, streak_days, best_streak, last_checkin, last_incident, created_at
		FROM users
		WHERE id = ?
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id=%d", ErrUserNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *Repository) GetUserByChat(ctx context.Context, chatID int64) (*User, error) {
	var user User
	err := r.Db.db.GetContext(ctx, &user, `
		SELECT id, chat_id, name, email, peer_id, shields, streak_days, best_streak, last_checkin, last_incident, created_at
		FROM users
		WHERE chat_id = ?
	`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: chat_id=%d", ErrUserNotFound, chatID)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *Repository) LinkPeer(ctx context.Context, userID, peerID int64) error {
	if userID == peerID {
		return errors.New("нельзя назначить напарником самого себя")
	}
	if _, err := r.GetUser(ctx, peerID); err != nil {
		return err
	}
	_, err := r.Db.db.ExecContext(ctx, "UPDATE users SET peer_id = ? WHERE id = ?", peerID, userID)
	return err
}

// SetEmail задаёт резервный адрес для доставки. Пустая строка отключает email.
func (r *Repository) SetEmail(ctx context.Context, userID int64, email string) error {
	res, err := r.Db.db.ExecContext(ctx, "UPDATE users SET email = ? WHERE id = ?", email, userID)
	if err != nil {
		return fmt.Errorf("ошибка сохранения email: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: id=%d", ErrUserNotFound, userID)
	}
	return nil
}

// UserMeta собирает метаданные пользователя вместе с данными напарника
func (r *Repository) UserMeta(ctx context.Context, userID int64) (UserMeta, error) {
	var row struct {
		User
		PeerName   sql.NullString `db:"peer_name"`
		PeerChatID sql.NullInt64  `db:"peer_chat_id"`
		PeerEmail  sql.NullString `db:"peer_email"`
	}
	err := r.Db.db.GetContext(ctx, &row, `
		SELECT u.id, u.chat_id, u.name, u.email, u.peer_id, u.shields, u.streak_days, u.best_streak,
			u.last_checkin, u.last_incident, u.created_at,
			p.name AS peer_name, p.chat_id AS peer_chat_id, p.email AS peer_email
		FROM users u
		LEFT JOIN users p ON p.id = u.peer_id
		WHERE u.id = ?
	`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return UserMeta{}, fmt.Errorf("%w: id=%d", ErrUserNotFound, userID)
	}
	if err != nil {
		return UserMeta{}, err
	}

	meta := UserMeta{
		UserID:       row.ID,
		Name:         row.Name,
		ChatID:       row.ChatID,
		Email:        row.Email,
		StreakDays:   row.StreakDays,
		BestStreak:   row.BestStreak,
		Shields:      row.Shields,
		LastCheckIn:  row.LastCheckIn,
		LastIncident: row.LastIncident,
	}
	if row.PeerID != nil && row.PeerName.Valid {
		meta.Peer = &Peer{
			ID:     *row.PeerID,
			Name:   row.PeerName.String,
			ChatID: row.PeerChatID.Int64,
			Email:  row.PeerEmail.String,
		}
	}
	return meta, nil
}

// ActiveUsers возвращает пользователей, отмечавшихся начиная с даты since
func (r *Repository) ActiveUsers(ctx context.Context, since string) ([]UserRef, error) {
	var users []UserRef
	err := r.Db.db.SelectContext(ctx, &users, `
		SELECT id, last_checkin
		FROM users
		WHERE last_checkin != '' AND last_checkin >= ?
		ORDER BY id
	`, since)
	return users, err
}

// SilentUsers возвращает пользователей, последняя отметка которых в [from, to)
func (r *Repository) SilentUsers(ctx context.Context, from, to string) ([]UserRef, error) {
	var users []UserRef
	err := r.Db.db.SelectContext(ctx, &users, `
		SELECT id, last_checkin
		FROM users
		WHERE last_checkin != '' AND last_checkin >= ? AND last_checkin < ?
		ORDER BY id
	`, from, to)
	return users, err
}

// Check-in repository methods

// RecentCheckIns возвращает отметки начиная с даты since по возрастанию даты
func (r *Repository) RecentCheckIns(ctx context.Context, userID int64, since string) ([]CheckIn, error) {
	var checkins []CheckIn
	err := r.Db.db.SelectContext(ctx, &checkins, `
		SELECT id, user_id, date, sleep_met, trained, deep_work_met, skill_met, zero_incident, boundaries_held,
			compliance, rating, sleep_hours, consumption_hours, wake_drift_minutes, obstacles, tomorrow_plan, created_at
		FROM checkins
		WHERE user_id = ? AND date >= ?
		ORDER BY date
	`, userID, since)
	return checkins, err
}

// SaveCheckIn сохраняет отметку дня и обновляет серию пользователя в одной транзакции.
// Повторная отметка за ту же дату перезаписывает предыдущую, если дата не старше
// последней отметки пользователя больше чем на CorrectionWindowDays.
func (r *Repository) SaveCheckIn(ctx context.Context, c CheckIn) (CheckIn, error) {
	if _, err := utils.ParseDate(c.Date); err != nil {
		return CheckIn{}, err
	}
	c.Compliance = Compliance(c)

	tx, err := r.Db.db.BeginTxx(ctx, nil)
	if err != nil {
		return CheckIn{}, err
	}
	defer tx.Rollback()

	var user User
	if err := tx.GetContext(ctx, &user, `
		SELECT id, streak_days, best_streak, last_checkin, last_incident
		FROM users WHERE id = ?
	`, c.UserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CheckIn{}, fmt.Errorf("%w: id=%d", ErrUserNotFound, c.UserID)
		}
		return CheckIn{}, err
	}
	if user.LastCheckIn != "" {
		oldest, err := utils.AddDays(user.LastCheckIn, -CorrectionWindowDays)
		if err != nil {
			return CheckIn{}, err
		}
		if c.Date < oldest {
			return CheckIn{}, fmt.Errorf("%w: %s", ErrCheckInTooOld, c.Date)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO checkins (user_id, date, sleep_met, trained, deep_work_met, skill_met, zero_incident, boundaries_held,
			compliance, rating, sleep_hours, consumption_hours, wake_drift_minutes, obstacles, tomorrow_plan)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, date) DO UPDATE SET
			sleep_met = excluded.sleep_met,
			trained = excluded.trained,
			deep_work_met = excluded.deep_work_met,
			skill_met = excluded.skill_met,
			zero_incident = excluded.zero_incident,
			boundaries_held = excluded.boundaries_held,
			compliance = excluded.compliance,
			rating = excluded.rating,
			sleep_hours = excluded.sleep_hours,
			consumption_hours = excluded.consumption_hours,
			wake_drift_minutes = excluded.wake_drift_minutes,
			obstacles = excluded.obstacles,
			tomorrow_plan = excluded.tomorrow_plan
	`, c.UserID, c.Date, c.SleepMet, c.Trained, c.DeepWorkMet, c.SkillMet, c.ZeroIncident, c.BoundariesHeld,
		c.Compliance, c.Rating, c.SleepHours, c.ConsumptionHours, c.WakeDriftMinutes, c.Obstacles, c.TomorrowPlan)
	if err != nil {
		return CheckIn{}, fmt.Errorf("ошибка сохранения отметки: %w", err)
	}

	streak, err := nextStreak(user.StreakDays, user.LastCheckIn, c.Date)
	if err != nil {
		return CheckIn{}, err
	}
	best := user.BestStreak
	if streak > best {
		best = streak
	}
	last := user.LastCheckIn
	if c.Date > last {
		last = c.Date
	}
	incident := user.LastIncident
	if !c.ZeroIncident && c.Date > incident {
		incident = c.Date
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE users SET streak_days = ?, best_streak = ?, last_checkin = ?, last_incident = ? WHERE id = ?
	`, streak, best, last, incident, c.UserID); err != nil {
		return CheckIn{}, fmt.Errorf("ошибка обновления серии: %w", err)
	}

	if err := tx.GetContext(ctx, &c, `
		SELECT id, user_id, date, sleep_met, trained, deep_work_met, skill_met, zero_incident, boundaries_held,
			compliance, rating, sleep_hours, consumption_hours, wake_drift_minutes, obstacles, tomorrow_plan, created_at
		FROM checkins WHERE user_id = ? AND date = ?
	`, c.UserID, c.Date); err != nil {
		return CheckIn{}, err
	}

	return c, tx.Commit()
}

func nextStreak(current int, lastCheckIn, date string) (int, error) {
	if lastCheckIn == "" {
		return 1, nil
	}
	gap, err := utils.DaysBetween(lastCheckIn, date)
	if err != nil {
		return 0, err
	}
	switch {
	case gap <= 0:
		// Повтор или исправление прошлого дня
		if current == 0 {
			return 1, nil
		}
		return current, nil
	case gap == 1:
		return current + 1, nil
	default:
		return 1, nil
	}
}
