// Package db journals served predictions in SQLite.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"phishguard/predict"
	"phishguard/schema"
)

const (
	DefaultRecentLimit = 50
	MaxRecentLimit     = 500
)

const createTables = `
    CREATE TABLE IF NOT EXISTS predictions (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        request_id TEXT NOT NULL DEFAULT '',
        mode VARCHAR(10) NOT NULL,
        prediction INTEGER NOT NULL,
        probabilities TEXT NOT NULL,
        features INTEGER NOT NULL,
        created_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_predictions_mode ON predictions(mode);
    `

// PredictionLog implements predict.Recorder on top of a SQLite file.
type PredictionLog struct {
	database *sql.DB
}

// Open creates the schema if needed. A single connection serializes writers,
// which also keeps ":memory:" databases consistent.
func Open(path string) (*PredictionLog, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	database, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	database.SetMaxOpenConns(1)

	if _, err := database.Exec(createTables); err != nil {
		database.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return &PredictionLog{database: database}, nil
}

func (l *PredictionLog) Record(ctx context.Context, record predict.Record) error {
	proba, err := json.Marshal(record.Probabilities)
	if err != nil {
		return err
	}
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err = l.database.ExecContext(ctx, `
        INSERT INTO predictions (request_id, mode, prediction, probabilities, features, created_at)
        VALUES (?, ?, ?, ?, ?, ?)`,
		record.RequestID, string(record.Mode), record.Prediction, string(proba), int64(record.Features), createdAt.UTC())
	return err
}

// Recent returns the newest records first. limit is clamped to [1, MaxRecentLimit].
func (l *PredictionLog) Recent(ctx context.Context, limit int) ([]predict.Record, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		limit = MaxRecentLimit
	}

	rows, err := l.database.QueryContext(ctx, `
        SELECT request_id, mode, prediction, probabilities, features, created_at
        FROM predictions
        ORDER BY id DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]predict.Record, 0)
	for rows.Next() {
		var (
			r        predict.Record
			mode     string
			proba    string
			features int64
		)
		if err := rows.Scan(&r.RequestID, &mode, &r.Prediction, &proba, &features, &r.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(proba), &r.Probabilities); err != nil {
			return nil, fmt.Errorf("decode probabilities: %w", err)
		}
		r.Mode = schema.Mode(mode)
		r.Features = uint32(features)
		records = append(records, r)
	}
	return records, rows.Err()
}

func (l *PredictionLog) Close() error {
	return l.database.Close()
}
