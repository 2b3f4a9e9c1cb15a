// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package history provides SQLite-backed persistence for peer lifecycle
// events, so connection churn can be audited after the fact.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mcpherd/mcpherd/internal/supervisor"
)

// Store provides SQLite-backed storage for peer lifecycle events.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Config contains event history storage configuration.
type Config struct {
	// Path is the filesystem path to the SQLite database file.
	// Special value ":memory:" creates an in-memory database.
	Path string

	// Logger is used for structured logging (optional).
	Logger *slog.Logger
}

// Record is one persisted lifecycle event.
type Record struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Server    string         `json:"server"`
	Timestamp time.Time      `json:"timestamp"`
	Message   string         `json:"message,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// New opens (or creates) the event history database.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// WAL mode so daemon writes never block CLI reads.
	connStr := cfg.Path
	if cfg.Path != ":memory:" {
		connStr += "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &Store{db: db, logger: logger}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// migrate creates the database schema.
func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS peer_events (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			server TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			message TEXT,
			details TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_peer_events_server ON peer_events(server)`,
		`CREATE INDEX IF NOT EXISTS idx_peer_events_timestamp ON peer_events(timestamp)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Append persists one lifecycle event.
func (s *Store) Append(ctx context.Context, event supervisor.Event) error {
	var details []byte
	if len(event.Details) > 0 {
		var err error
		details, err = json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal event details: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO peer_events (id, type, server, timestamp, message, details)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(),
		string(event.Type),
		event.Server,
		event.Timestamp.UnixNano(),
		event.Message,
		string(details),
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// Sink adapts the store into a supervisor.EventSink. Persistence failures
// are logged rather than propagated; the supervisor must never stall on
// its audit trail.
func (s *Store) Sink() supervisor.EventSink {
	return func(event supervisor.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Append(ctx, event); err != nil {
			s.logger.Error("failed to persist peer event",
				"server", event.Server,
				"type", string(event.Type),
				"error", err,
			)
		}
	}
}

// Recent returns the most recent events, newest first. An empty server
// name returns events for all servers.
func (s *Store) Recent(ctx context.Context, server string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, type, server, timestamp, message, details
	          FROM peer_events`
	args := []any{}
	if server != "" {
		query += ` WHERE server = ?`
		args = append(args, server)
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var ts int64
		var message, details sql.NullString

		if err := rows.Scan(&rec.ID, &rec.Type, &rec.Server, &ts, &message, &details); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		rec.Timestamp = time.Unix(0, ts)
		rec.Message = message.String
		if details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &rec.Details); err != nil {
				s.logger.Warn("corrupt event details, skipping",
					"event_id", rec.ID,
					"error", err,
				)
			}
		}

		records = append(records, rec)
	}
	return records, rows.Err()
}

// Prune deletes events older than the cutoff and returns how many were
// removed.
func (s *Store) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM peer_events WHERE timestamp < ?`,
		olderThan.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
