package hub

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Execer is the subset of *sql.DB (or database.DB) the SQLite store needs.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SQLiteStore mirrors current snapshots into the device_snapshots table.
// Only the latest state is kept; an older version never overwrites a newer
// one.
type SQLiteStore struct {
	db Execer
}

// NewSQLiteStore creates a store over db. The device_snapshots table is
// created by the embedded migrations.
func NewSQLiteStore(db Execer) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const upsertSnapshotSQL = `
	INSERT INTO device_snapshots (device_id, category, attributes, version, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(device_id) DO UPDATE SET
		category   = excluded.category,
		attributes = excluded.attributes,
		version    = excluded.version,
		updated_at = excluded.updated_at
	WHERE excluded.version > device_snapshots.version`

// Save implements SnapshotStore.
func (s *SQLiteStore) Save(ctx context.Context, snap *Snapshot) error {
	attrs, err := json.Marshal(snap.Attributes)
	if err != nil {
		return fmt.Errorf("encoding snapshot %s: %w", snap.DeviceID, err)
	}

	if _, err := s.db.ExecContext(ctx, upsertSnapshotSQL,
		snap.DeviceID,
		string(snap.Category),
		string(attrs),
		snap.Version,
		snap.UpdatedAt.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("saving snapshot %s: %w", snap.DeviceID, err)
	}
	return nil
}

// Delete implements SnapshotStore.
func (s *SQLiteStore) Delete(ctx context.Context, deviceID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM device_snapshots WHERE device_id = ?", deviceID); err != nil {
		return fmt.Errorf("deleting snapshot %s: %w", deviceID, err)
	}
	return nil
}
