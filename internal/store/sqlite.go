// Copyright 2025 Casey Haldane
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

// Package store provides the durable execution store: a SQLite-backed
// implementation of engine.Store with optional encryption at rest.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/haldane/stepflow/pkg/engine"
	"github.com/haldane/stepflow/pkg/errors"
)

// SQLiteStore persists execution records in SQLite. Filter columns
// (status, workflow name, creation time) stay plaintext so queries can use
// indexes; the record payload is a JSON column, encrypted when encryption
// is enabled.
type SQLiteStore struct {
	db     *sql.DB
	cipher *Cipher
}

// Config contains SQLite store configuration.
type Config struct {
	// Path is the filesystem path to the SQLite database file.
	// Special value ":memory:" creates an in-memory database.
	Path string

	// MaxOpenConns sets the maximum number of open connections.
	// WAL mode handles multiple concurrent readers.
	MaxOpenConns int

	// EnableEncryption encrypts record payloads with AES-256-GCM.
	// Requires the STEPFLOW_SNAPSHOT_KEY environment variable.
	EnableEncryption bool
}

// New opens (and migrates) a SQLite execution store.
func New(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	connStr := cfg.Path
	if cfg.Path != ":memory:" {
		connStr += "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxConns := cfg.MaxOpenConns
	if maxConns == 0 {
		maxConns = 5
	}
	if cfg.Path == ":memory:" {
		// A :memory: database exists per connection; a second pooled
		// connection would see an empty schema.
		maxConns = 1
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStore{db: db}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if cfg.EnableEncryption {
		salt, err := s.loadOrCreateSalt(ctx)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize encryption salt: %w", err)
		}
		cipher, err := LoadCipher(salt)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to load encryption key: %w", err)
		}
		if cipher == nil {
			db.Close()
			return nil, fmt.Errorf("encryption enabled but no key found (set %s)", SnapshotKeyEnv)
		}
		s.cipher = cipher
	}

	return s, nil
}

// migrate creates the database schema.
func (s *SQLiteStore) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			workflow_name TEXT NOT NULL,
			status TEXT NOT NULL,
			payload TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_workflow ON executions(workflow_name)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_created_at ON executions(created_at)`,

		// Store-level metadata, currently just the encryption salt.
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL
		)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// SaveExecution creates or replaces a record.
func (s *SQLiteStore) SaveExecution(ctx context.Context, rec *engine.ExecutionRecord) error {
	if rec == nil {
		return &errors.ValidationError{
			Field:      "record",
			Message:    "execution record cannot be nil",
			Suggestion: "provide a valid execution record",
		}
	}
	if rec.ID == "" {
		return &errors.ValidationError{
			Field:      "id",
			Message:    "execution ID is required",
			Suggestion: "assign the record an ID before saving",
		}
	}

	payload, err := s.encodeRecord(rec)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO executions (id, workflow_name, status, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			workflow_name = excluded.workflow_name,
			status = excluded.status,
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`
	_, err = s.db.ExecContext(ctx, query,
		rec.ID, rec.WorkflowName, string(rec.Status), payload,
		rec.CreatedAt.UnixNano(), rec.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}
	return nil
}

// FindExecution retrieves a record by ID.
func (s *SQLiteStore) FindExecution(ctx context.Context, id string) (*engine.ExecutionRecord, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		"SELECT payload FROM executions WHERE id = ?", id,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, &errors.NotFoundError{Resource: "execution", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	return s.decodeRecord(payload)
}

// UpdateExecution applies a partial update inside a transaction so
// concurrent writers cannot interleave between read and write.
func (s *SQLiteStore) UpdateExecution(ctx context.Context, id string, update func(rec *engine.ExecutionRecord) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var payload string
	err = tx.QueryRowContext(ctx,
		"SELECT payload FROM executions WHERE id = ?", id,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return &errors.NotFoundError{Resource: "execution", ID: id}
	}
	if err != nil {
		return fmt.Errorf("failed to get execution: %w", err)
	}

	rec, err := s.decodeRecord(payload)
	if err != nil {
		return err
	}

	if err := update(rec); err != nil {
		return err
	}

	encoded, err := s.encodeRecord(rec)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE executions SET workflow_name = ?, status = ?, payload = ?, updated_at = ?
		WHERE id = ?`,
		rec.WorkflowName, string(rec.Status), encoded, rec.UpdatedAt.UnixNano(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}

	return tx.Commit()
}

// ListExecutions retrieves records matching the query, most recent first.
func (s *SQLiteStore) ListExecutions(ctx context.Context, query engine.Query) ([]*engine.ExecutionRecord, error) {
	stmt := "SELECT payload FROM executions WHERE 1=1"
	args := []any{}

	if query.Status != "" {
		stmt += " AND status = ?"
		args = append(args, string(query.Status))
	}
	if query.WorkflowName != "" {
		stmt += " AND workflow_name = ?"
		args = append(args, query.WorkflowName)
	}

	stmt += " ORDER BY created_at DESC"

	if query.Limit > 0 {
		stmt += " LIMIT ?"
		args = append(args, query.Limit)
	}
	if query.Offset > 0 {
		if query.Limit <= 0 {
			// SQLite requires LIMIT before OFFSET
			stmt += " LIMIT -1"
		}
		stmt += " OFFSET ?"
		args = append(args, query.Offset)
	}

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	records := []*engine.ExecutionRecord{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		rec, err := s.decodeRecord(payload)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DeleteExecution removes a record by ID.
func (s *SQLiteStore) DeleteExecution(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM executions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete execution: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete execution: %w", err)
	}
	if affected == 0 {
		return &errors.NotFoundError{Resource: "execution", ID: id}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// encodeRecord serializes a record to the payload column, encrypting when
// a cipher is loaded.
func (s *SQLiteStore) encodeRecord(rec *engine.ExecutionRecord) (string, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to marshal execution: %w", err)
	}
	if s.cipher == nil {
		return string(data), nil
	}
	encrypted, err := s.cipher.Encrypt(data)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt execution: %w", err)
	}
	return encrypted, nil
}

// decodeRecord deserializes a payload column value.
func (s *SQLiteStore) decodeRecord(payload string) (*engine.ExecutionRecord, error) {
	data := []byte(payload)
	if s.cipher != nil {
		decrypted, err := s.cipher.Decrypt(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt execution: %w", err)
		}
		data = decrypted
	}

	var rec engine.ExecutionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
	}
	return &rec, nil
}

// loadOrCreateSalt returns the store's key-derivation salt, generating and
// persisting one on first use so the derived key is stable across opens.
func (s *SQLiteStore) loadOrCreateSalt(ctx context.Context) ([]byte, error) {
	var salt []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM meta WHERE key = ?", metaSaltKey,
	).Scan(&salt)
	if err == nil {
		return salt, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to read salt: %w", err)
	}

	salt, err = newSalt()
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO meta (key, value) VALUES (?, ?)", metaSaltKey, salt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to persist salt: %w", err)
	}
	return salt, nil
}
