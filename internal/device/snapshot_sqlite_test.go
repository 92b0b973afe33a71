package device

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-devicehub/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-devicehub/internal/infrastructure/database"
	_ "github.com/nerrad567/gray-logic-devicehub/migrations"
)

// setupSnapshotTestDB opens an in-memory database with the embedded migrations applied.
func setupSnapshotTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{Path: database.MemoryPath, BusyTimeout: 1})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		db.Close() //nolint:errcheck // Test cleanup
	})

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db.DB
}

func TestSQLiteSnapshotStore_SaveLoad(t *testing.T) {
	store := NewSQLiteSnapshotStore(setupSnapshotTestDB(t))
	ctx := context.Background()

	records := []Record{
		{ID: "zigbee/lamp", Protocol: "zigbee", ExternalID: "lamp", Name: "Lamp", HasMetadata: true,
			State: map[string]any{"on": true}, StateUpdatedAt: time.UnixMilli(2000), Online: true},
		{ID: "thread/sensor", Protocol: "thread", ExternalID: "sensor",
			State: map[string]any{"temp": 21.5}, StateUpdatedAt: time.UnixMilli(3000)},
	}
	if err := store.Save(ctx, records); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	rows, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Load() len = %d, want 2", len(rows))
	}
	// Ordered by device id.
	if rows[0].DeviceID != "thread/sensor" || rows[1].DeviceID != "zigbee/lamp" {
		t.Errorf("order = %s, %s", rows[0].DeviceID, rows[1].DeviceID)
	}
	if rows[1].StateTS != 2000 || !rows[1].HasMetadata || rows[1].State["on"] != true {
		t.Errorf("lamp row = %+v", rows[1])
	}
	if rows[0].HasMetadata {
		t.Error("state-only row restored with HasMetadata")
	}
}

func TestSQLiteSnapshotStore_SaveReplaces(t *testing.T) {
	store := NewSQLiteSnapshotStore(setupSnapshotTestDB(t))
	ctx := context.Background()

	_ = store.Save(ctx, []Record{{ID: "zigbee/a", Name: "A", HasMetadata: true}, {ID: "zigbee/b", Name: "B", HasMetadata: true}})
	if err := store.Save(ctx, []Record{{ID: "zigbee/c", Name: "C", HasMetadata: true}}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	rows, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(rows) != 1 || rows[0].DeviceID != "zigbee/c" {
		t.Errorf("Load() = %+v, want only zigbee/c", rows)
	}
}

func TestSQLiteSnapshotStore_LoadEmpty(t *testing.T) {
	store := NewSQLiteSnapshotStore(setupSnapshotTestDB(t))
	rows, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("Load() len = %d, want 0", len(rows))
	}
}
