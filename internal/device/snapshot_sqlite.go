package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-devicehub/internal/hdp"
)

// SnapshotStore persists the visible device list for warm start.
type SnapshotStore interface {
	// Save replaces the stored list with records.
	Save(ctx context.Context, records []Record) error

	// Load returns the stored list as device-list rows.
	Load(ctx context.Context) ([]hdp.DeviceSnapshot, error)
}

// SQLiteSnapshotStore implements SnapshotStore using SQLite.
//
// It stores one JSON row per device in the device_snapshots table.
type SQLiteSnapshotStore struct {
	db *sql.DB
}

// NewSQLiteSnapshotStore creates a new SQLite snapshot store.
//
// Parameters:
//   - db: Open SQLite connection with migrations applied
//
// Returns:
//   - *SQLiteSnapshotStore: Store instance ready for use
func NewSQLiteSnapshotStore(db *sql.DB) *SQLiteSnapshotStore {
	return &SQLiteSnapshotStore{db: db}
}

// Save replaces every stored row inside one transaction.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - records: The visible device list
//
// Returns:
//   - error: nil on success, otherwise wrapped ErrSnapshotStore
func (s *SQLiteSnapshotStore) Save(ctx context.Context, records []Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning transaction: %w", ErrSnapshotStore, err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.ExecContext(ctx, "DELETE FROM device_snapshots"); err != nil {
		return fmt.Errorf("%w: clearing snapshots: %w", ErrSnapshotStore, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO device_snapshots (device_id, snapshot, state_ts, updated_at) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("%w: preparing insert: %w", ErrSnapshotStore, err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for i := range records {
		snap := records[i].Snapshot()
		data, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("%w: marshalling %s: %w", ErrSnapshotStore, snap.DeviceID, err)
		}
		if _, err := stmt.ExecContext(ctx, snap.DeviceID, string(data), int64(snap.StateTS), now); err != nil {
			return fmt.Errorf("%w: inserting %s: %w", ErrSnapshotStore, snap.DeviceID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing: %w", ErrSnapshotStore, err)
	}
	return nil
}

// Load returns every stored row ordered by device id.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//
// Returns:
//   - []hdp.DeviceSnapshot: Stored rows (empty when nothing was saved)
//   - error: nil on success, otherwise wrapped ErrSnapshotStore
func (s *SQLiteSnapshotStore) Load(ctx context.Context) ([]hdp.DeviceSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT snapshot FROM device_snapshots ORDER BY device_id")
	if err != nil {
		return nil, fmt.Errorf("%w: querying: %w", ErrSnapshotStore, err)
	}
	defer rows.Close()

	var out []hdp.DeviceSnapshot
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("%w: scanning: %w", ErrSnapshotStore, err)
		}
		var snap hdp.DeviceSnapshot
		if err := json.Unmarshal([]byte(data), &snap); err != nil {
			return nil, fmt.Errorf("%w: unmarshalling: %w", ErrSnapshotStore, err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating: %w", ErrSnapshotStore, err)
	}
	return out, nil
}
