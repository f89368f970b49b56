package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

// LedgerOutcome - что произошло с найденным паттерном при записи
type LedgerOutcome string

const (
	OutcomeOpened    LedgerOutcome = "opened"
	OutcomeEscalated LedgerOutcome = "escalated"
	OutcomeUnchanged LedgerOutcome = "unchanged"
)

const patternColumns = `id, user_id, type, severity, evidence, status, detected_at, updated_at, resolved_at`

// RecordPattern записывает находку детектора с учётом уже открытого паттерна того же типа:
// нет открытого - открывает новый; есть, но severity строго выше - повышает его;
// иначе ничего не меняет. Обе записи условные, так что два одновременных вызова
// не могут оба получить OutcomeOpened или OutcomeEscalated для одной severity.
func (r *Repository) RecordPattern(ctx context.Context, p Pattern) (LedgerOutcome, Pattern, error) {
	if p.DetectedAt.IsZero() {
		p.DetectedAt = time.Now().UTC()
	}

	// Второй проход нужен, если параллельный вызов успел открыть паттерн между чтением и вставкой
	for attempt := 0; attempt < 2; attempt++ {
		open, err := r.OpenPattern(ctx, p.UserID, p.Type)
		if err != nil {
			return "", Pattern{}, err
		}

		if open == nil {
			created, err := r.insertPattern(ctx, p)
			if isUniqueViolation(err) {
				continue
			}
			if err != nil {
				return "", Pattern{}, err
			}
			return OutcomeOpened, created, nil
		}

		if p.Severity.Rank() <= open.Severity.Rank() {
			return OutcomeUnchanged, *open, nil
		}

		escalated, ok, err := r.escalatePattern(ctx, *open, p)
		if err != nil {
			return "", Pattern{}, err
		}
		if ok {
			return OutcomeEscalated, escalated, nil
		}
	}

	open, err := r.OpenPattern(ctx, p.UserID, p.Type)
	if err != nil {
		return "", Pattern{}, err
	}
	if open == nil {
		return "", Pattern{}, fmt.Errorf("паттерн %s пользователя %d не удалось записать", p.Type, p.UserID)
	}
	return OutcomeUnchanged, *open, nil
}

func (r *Repository) insertPattern(ctx context.Context, p Pattern) (Pattern, error) {
	p.ID = uuid.New().String()
	p.Status = StatusOpen
	p.DetectedAt = p.DetectedAt.UTC()
	p.UpdatedAt = p.DetectedAt
	p.ResolvedAt = nil

	_, err := r.Db.db.ExecContext(ctx, `
		INSERT INTO patterns (id, user_id, type, severity, severity_rank, evidence, status, detected_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.UserID, p.Type, p.Severity, p.Severity.Rank(), p.Evidence, p.Status, p.DetectedAt, p.UpdatedAt)
	if err != nil {
		return Pattern{}, err
	}
	return p, nil
}

// escalatePattern повышает severity открытого паттерна, только если он всё ещё открыт
// и его текущий ранг ниже нового (compare-and-set на уровне UPDATE).
func (r *Repository) escalatePattern(ctx context.Context, open, found Pattern) (Pattern, bool, error) {
	now := found.DetectedAt.UTC()
	res, err := r.Db.db.ExecContext(ctx, `
		UPDATE patterns
		SET severity = ?, severity_rank = ?, evidence = ?, updated_at = ?
		WHERE id = ? AND status = 'open' AND severity_rank < ?
	`, found.Severity, found.Severity.Rank(), found.Evidence, now, open.ID, found.Severity.Rank())
	if err != nil {
		return Pattern{}, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Pattern{}, false, err
	}
	if n != 1 {
		return Pattern{}, false, nil
	}

	open.Severity = found.Severity
	open.Evidence = found.Evidence
	open.UpdatedAt = now
	return open, true, nil
}

func (r *Repository) OpenPattern(ctx context.Context, userID int64, patternType PatternType) (*Pattern, error) {
	var p Pattern
	err := r.Db.db.GetContext(ctx, &p, `
		SELECT `+patternColumns+`
		FROM patterns
		WHERE user_id = ? AND type = ? AND status = 'open'
	`, userID, patternType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ResolveMissing закрывает открытые паттерны пользователя, которые не были найдены в этом проходе.
// История не удаляется: меняется только статус.
func (r *Repository) ResolveMissing(ctx context.Context, userID int64, detected map[PatternType]bool, at time.Time) ([]Pattern, error) {
	open, err := r.ListPatterns(ctx, userID, StatusOpen)
	if err != nil {
		return nil, err
	}

	var resolved []Pattern
	for _, p := range open {
		if detected[p.Type] {
			continue
		}
		res, err := r.Db.db.ExecContext(ctx, `
			UPDATE patterns SET status = 'resolved', resolved_at = ?, updated_at = ?
			WHERE id = ? AND status = 'open'
		`, at.UTC(), at.UTC(), p.ID)
		if err != nil {
			return resolved, fmt.Errorf("ошибка закрытия паттерна %s: %w", p.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			t := at.UTC()
			p.Status = StatusResolved
			p.ResolvedAt = &t
			resolved = append(resolved, p)
		}
	}
	return resolved, nil
}

// ListPatterns возвращает паттерны пользователя; пустой status - все
func (r *Repository) ListPatterns(ctx context.Context, userID int64, status PatternStatus) ([]Pattern, error) {
	query := `SELECT ` + patternColumns + ` FROM patterns WHERE user_id = ?`
	args := []interface{}{userID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY detected_at`

	var patterns []Pattern
	err := r.Db.db.SelectContext(ctx, &patterns, query, args...)
	return patterns, err
}

// Intervention repository methods
func (r *Repository) SaveIntervention(ctx context.Context, in Intervention) (Intervention, error) {
	if in.ID == "" {
		in.ID = uuid.New().String()
	}
	if in.SentAt.IsZero() {
		in.SentAt = time.Now().UTC()
	}

	_, err := r.Db.db.NamedExecContext(ctx, `
		INSERT INTO interventions (id, pattern_id, user_id, type, severity, text, peer_text, method, target,
			user_status, peer_status, user_error, peer_error, sent_at)
		VALUES (:id, :pattern_id, :user_id, :type, :severity, :text, :peer_text, :method, :target,
			:user_status, :peer_status, :user_error, :peer_error, :sent_at)
	`, in)
	if err != nil {
		return Intervention{}, fmt.Errorf("ошибка сохранения интервенции: %w", err)
	}
	return in, nil
}

func (r *Repository) ListInterventions(ctx context.Context, userID int64, limit int) ([]Intervention, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []Intervention
	err := r.Db.db.SelectContext(ctx, &out, `
		SELECT id, pattern_id, user_id, type, severity, text, peer_text, method, target,
			user_status, peer_status, user_error, peer_error, sent_at
		FROM interventions
		WHERE user_id = ?
		ORDER BY sent_at DESC
		LIMIT ?
	`, userID, limit)
	return out, err
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
