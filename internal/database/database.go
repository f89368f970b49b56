package database

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

type Database struct {
	db *sqlx.DB
}

func New(path string) (*Database, error) {
	db, err := sqlx.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия БД: %w", err)
	}
	// SQLite пишет в один поток; одно соединение убирает "database is locked" между воркерами
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка подключения к БД: %w", err)
	}

	d := &Database{db: db}
	if err := d.init(); err != nil {
		db.Close()
		return nil, err
	}

	return d, nil
}

func (d *Database) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id INTEGER NOT NULL DEFAULT 0,
			name TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			peer_id INTEGER REFERENCES users(id) ON DELETE SET NULL,
			shields INTEGER NOT NULL DEFAULT 0,
			streak_days INTEGER NOT NULL DEFAULT 0,
			best_streak INTEGER NOT NULL DEFAULT 0,
			last_checkin TEXT NOT NULL DEFAULT '',
			last_incident TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS checkins (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			date TEXT NOT NULL,
			sleep_met BOOLEAN NOT NULL DEFAULT 0,
			trained BOOLEAN NOT NULL DEFAULT 0,
			deep_work_met BOOLEAN NOT NULL DEFAULT 0,
			skill_met BOOLEAN NOT NULL DEFAULT 0,
			zero_incident BOOLEAN NOT NULL DEFAULT 0,
			boundaries_held BOOLEAN NOT NULL DEFAULT 0,
			compliance INTEGER NOT NULL CHECK(compliance >= 0 AND compliance <= 100),
			rating INTEGER,
			sleep_hours REAL,
			consumption_hours REAL,
			wake_drift_minutes INTEGER,
			obstacles TEXT NOT NULL DEFAULT '',
			tomorrow_plan TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(user_id, date)
		)`,

		`CREATE TABLE IF NOT EXISTS patterns (
			id TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			type TEXT NOT NULL,
			severity TEXT NOT NULL,
			severity_rank INTEGER NOT NULL,
			evidence TEXT NOT NULL DEFAULT '{}',
			status TEXT NOT NULL DEFAULT 'open',
			detected_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			resolved_at DATETIME
		)`,

		`CREATE TABLE IF NOT EXISTS interventions (
			id TEXT PRIMARY KEY,
			pattern_id TEXT NOT NULL REFERENCES patterns(id) ON DELETE CASCADE,
			user_id INTEGER NOT NULL,
			type TEXT NOT NULL,
			severity TEXT NOT NULL,
			text TEXT NOT NULL,
			peer_text TEXT NOT NULL DEFAULT '',
			method TEXT NOT NULL,
			target TEXT NOT NULL,
			user_status TEXT NOT NULL DEFAULT '',
			peer_status TEXT NOT NULL DEFAULT '',
			user_error TEXT NOT NULL DEFAULT '',
			peer_error TEXT NOT NULL DEFAULT '',
			sent_at DATETIME NOT NULL
		)`,

		`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_chat ON users(chat_id) WHERE chat_id != 0`,
		`CREATE INDEX IF NOT EXISTS idx_users_last_checkin ON users(last_checkin)`,
		`CREATE INDEX IF NOT EXISTS idx_checkins_user_date ON checkins(user_id, date)`,
		// Не больше одного открытого паттерна каждого типа на пользователя
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_patterns_open ON patterns(user_id, type) WHERE status = 'open'`,
		`CREATE INDEX IF NOT EXISTS idx_patterns_user_status ON patterns(user_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_interventions_user ON interventions(user_id, sent_at)`,
	}

	for _, query := range queries {
		if _, err := d.db.Exec(query); err != nil {
			return fmt.Errorf("ошибка создания таблицы: %w", err)
		}
	}

	return nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) GetDB() *sqlx.DB {
	return d.db
}
