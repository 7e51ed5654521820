// Package store provides role-binding storage gateways: a SQLite-backed
// store for durable deployments and an in-memory store for tests and
// development.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "modernc.org/sqlite"

	"github.com/praxisflow/praxis/pkg/core"
)

// SQLiteStore persists role bindings in SQLite. It implements
// core.Storage.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) a SQLite database at path and ensures the
// role-binding schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store, err := NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLiteStore wraps an existing database handle and ensures schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if err := ensureBindingSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetAllRoleBindings implements core.Storage. Bindings are returned in
// ascending start-time order.
func (s *SQLiteStore) GetAllRoleBindings(ctx context.Context) ([]core.RoleBinding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT thing_id, role_id, process_instance_id, state, start_time, result_json, metadata_json
		FROM role_bindings
		ORDER BY start_time ASC, rowid ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bindings []core.RoleBinding
	for rows.Next() {
		var (
			b        core.RoleBinding
			state    string
			started  sql.NullTime
			result   sql.NullString
			metadata sql.NullString
		)
		if err := rows.Scan(
			&b.ThingID,
			&b.RoleID,
			&b.Witness.ProcessInstanceID,
			&state,
			&started,
			&result,
			&metadata,
		); err != nil {
			return nil, err
		}
		b.Witness.State = core.TaskState(state)
		if started.Valid {
			b.Witness.StartTime = started.Time.UTC()
		}
		if result.Valid && result.String != "" {
			if err := json.Unmarshal([]byte(result.String), &b.Witness.Result); err != nil {
				return nil, err
			}
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &b.Witness.Metadata); err != nil {
				return nil, err
			}
		}
		bindings = append(bindings, b)
	}
	return bindings, rows.Err()
}

// UpdateRoleBinding implements core.Storage with upsert semantics on
// (thing id, role id).
func (s *SQLiteStore) UpdateRoleBinding(ctx context.Context, binding core.RoleBinding) error {
	result, err := encodeJSON(binding.Witness.Result)
	if err != nil {
		return err
	}
	metadata, err := encodeJSON(binding.Witness.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO role_bindings (
			thing_id, role_id, process_instance_id, state, start_time, result_json, metadata_json
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (thing_id, role_id) DO UPDATE SET
			process_instance_id = excluded.process_instance_id,
			state = excluded.state,
			start_time = excluded.start_time,
			result_json = excluded.result_json,
			metadata_json = excluded.metadata_json
	`,
		binding.ThingID,
		binding.RoleID,
		binding.Witness.ProcessInstanceID,
		string(binding.Witness.State),
		normalizeTime(binding.Witness.StartTime),
		result,
		metadata,
	)
	return err
}

func ensureBindingSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS role_bindings (
			thing_id TEXT NOT NULL,
			role_id TEXT NOT NULL,
			process_instance_id TEXT NOT NULL,
			state TEXT NOT NULL,
			start_time TIMESTAMP,
			result_json TEXT,
			metadata_json TEXT,
			PRIMARY KEY (thing_id, role_id)
		);
		CREATE INDEX IF NOT EXISTS idx_role_bindings_instance
			ON role_bindings (process_instance_id);
	`)
	return err
}

func encodeJSON(value any) (string, error) {
	if value == nil {
		return "", nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func normalizeTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
