package config

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"androidbox/models"
)

// Store persists execution handles and action records, so a restarted
// daemon can re-adopt containers it started in a previous life.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// SaveHandle upserts the registry row for a handle.
func (s *Store) SaveHandle(h *models.ExecutionHandle) error {
	spec, err := json.Marshal(h.Spec)
	if err != nil {
		return fmt.Errorf("encoding spec: %w", err)
	}
	bindings, err := json.Marshal(h.Bindings)
	if err != nil {
		return fmt.Errorf("encoding bindings: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO devices (id, name, spec, bindings, container_id, serial, state, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			spec = excluded.spec,
			bindings = excluded.bindings,
			container_id = excluded.container_id,
			serial = excluded.serial,
			state = excluded.state`,
		h.ID, h.Name, string(spec), string(bindings), h.ContainerID, h.Serial, string(h.State), h.CreatedAt.Unix())
	return err
}

// LoadHandles reads back every persisted handle.
func (s *Store) LoadHandles() ([]*models.ExecutionHandle, error) {
	rows, err := s.db.Query(`SELECT id, name, spec, bindings, container_id, serial, state, created_at FROM devices`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var handles []*models.ExecutionHandle
	for rows.Next() {
		var h models.ExecutionHandle
		var spec, bindings, state string
		var createdAt int64
		if err := rows.Scan(&h.ID, &h.Name, &spec, &bindings, &h.ContainerID, &h.Serial, &state, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(spec), &h.Spec); err != nil {
			return nil, fmt.Errorf("decoding spec for %s: %w", h.Name, err)
		}
		if err := json.Unmarshal([]byte(bindings), &h.Bindings); err != nil {
			return nil, fmt.Errorf("decoding bindings for %s: %w", h.Name, err)
		}
		h.State = models.LifecycleState(state)
		h.CreatedAt = time.Unix(createdAt, 0)
		handles = append(handles, &h)
	}
	return handles, rows.Err()
}

// DeleteHandle removes a device row; missing rows are a no-op.
func (s *Store) DeleteHandle(name string) error {
	_, err := s.db.Exec(`DELETE FROM devices WHERE name = ?`, name)
	return err
}

// RecordAction persists one dispatched action for audit.
func (s *Store) RecordAction(a *models.Action) error {
	params, err := json.Marshal(a.Params)
	if err != nil {
		return fmt.Errorf("encoding params: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO actions (id, device, type, params, status, result, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status, result = excluded.result`,
		a.ID, a.Device, a.Type, string(params), a.Status, a.Result, a.Timestamp)
	return err
}

// RecentActions returns the latest n action records for a device.
func (s *Store) RecentActions(device string, n int) ([]models.Action, error) {
	rows, err := s.db.Query(`
		SELECT id, device, type, params, status, result, timestamp
		FROM actions WHERE device = ? ORDER BY timestamp DESC LIMIT ?`, device, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []models.Action
	for rows.Next() {
		var a models.Action
		var params sql.NullString
		var result sql.NullString
		if err := rows.Scan(&a.ID, &a.Device, &a.Type, &params, &a.Status, &result, &a.Timestamp); err != nil {
			return nil, err
		}
		if params.Valid && params.String != "" && params.String != "null" {
			if err := json.Unmarshal([]byte(params.String), &a.Params); err != nil {
				return nil, err
			}
		}
		a.Result = result.String
		actions = append(actions, a)
	}
	return actions, rows.Err()
}
