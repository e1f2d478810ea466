// Copyright 2026 © The Argo Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"database/sql"
	"errors"

	_ "modernc.org/sqlite"
)

// SQLiteRecorder persists turn records in SQLite.
type SQLiteRecorder struct {
	db *sql.DB
}

// OpenSQLite opens the SQLite database at dsn and returns a recorder over it.
// Use ":memory:" for a throwaway store.
func OpenSQLite(dsn string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if dsn == ":memory:" {
		// every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}
	r, err := NewSQLiteRecorder(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// NewSQLiteRecorder creates a SQLite-backed recorder and ensures the schema.
func NewSQLiteRecorder(db *sql.DB) (*SQLiteRecorder, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if err := ensureSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteRecorder{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteRecorder) Close() error {
	return s.db.Close()
}

// Record stores a single turn.
func (s *SQLiteRecorder) Record(ctx context.Context, turn Turn) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO argo_turns (
			turn_id, agent, skill, status, error_code, messages, committed, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		turn.TurnID,
		turn.Agent,
		turn.Skill,
		turn.Status,
		turn.ErrorCode,
		turn.Messages,
		turn.Committed,
		normalizeTime(turn.StartedAt),
		normalizeTime(turn.FinishedAt),
	)
	return err
}

// List returns turns matching the filter, oldest first.
func (s *SQLiteRecorder) List(ctx context.Context, filter Filter) ([]Turn, error) {
	query := `
		SELECT turn_id, agent, skill, status, error_code, messages, committed, started_at, finished_at
		FROM argo_turns
	`
	var args []any
	where := ""
	addFilter := func(clause string, value any) {
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
		args = append(args, value)
	}
	if filter.Agent != "" {
		addFilter("agent = ?", filter.Agent)
	}
	if filter.Skill != "" {
		addFilter("skill = ?", filter.Skill)
	}
	if filter.Status != "" {
		addFilter("status = ?", filter.Status)
	}
	query += where + " ORDER BY started_at ASC, rowid ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var (
			turn     Turn
			skill    sql.NullString
			code     sql.NullString
			started  sql.NullTime
			finished sql.NullTime
		)
		if err := rows.Scan(
			&turn.TurnID,
			&turn.Agent,
			&skill,
			&turn.Status,
			&code,
			&turn.Messages,
			&turn.Committed,
			&started,
			&finished,
		); err != nil {
			return nil, err
		}
		turn.Skill = skill.String
		turn.ErrorCode = code.String
		if started.Valid {
			turn.StartedAt = started.Time
		}
		if finished.Valid {
			turn.FinishedAt = finished.Time
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return turns, nil
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS argo_turns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			turn_id TEXT NOT NULL,
			agent TEXT NOT NULL,
			skill TEXT,
			status TEXT NOT NULL,
			error_code TEXT,
			messages INTEGER NOT NULL DEFAULT 0,
			committed BOOLEAN NOT NULL DEFAULT 0,
			started_at TIMESTAMP,
			finished_at TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_argo_turns_agent ON argo_turns(agent);
		CREATE INDEX IF NOT EXISTS idx_argo_turns_status ON argo_turns(status);
	`)
	return err
}
