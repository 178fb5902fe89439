package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/dougsko/k5link/pkg/channel"
)

func newTestStore(t *testing.T, max int) *SnapshotStore {
	t.Helper()
	tempDir, err := os.MkdirTemp("", "k5link-storage-test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	store, err := NewSnapshotStore(filepath.Join(tempDir, "test.db"), max)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testTable(n int) []channel.Channel {
	table := make([]channel.Channel, n)
	for i := range table {
		table[i] = channel.EmptyChannel(i + 1)
	}
	table[0] = channel.Channel{
		Index: 1, Name: "CALLING", RxFreq: 145_500_000, Mode: "NFM", Power: "HIGH",
		RxTone: "D023N", TxTone: "88.5Hz", Step: 12.5, Scrambler: "OFF", PTTID: "UP CODE",
		Compander: "OFF", ScanList1: true, BusyLock: true, Band: 2,
	}
	if n > 2 {
		table[2] = channel.Channel{
			Index: 3, Name: "RPT", RxFreq: 439_000_000, Offset: 7_600_000, Duplex: "-", Mode: "FM",
			Power: "LOW", RxTone: "None", TxTone: "None", Step: 25, Scrambler: "3000Hz", PTTID: "OFF",
			Compander: "TX/RX", ScanList2: true, FreqRev: true, DTMFDecode: true, Band: 5,
		}
	}
	return table
}

func TestNewSnapshotStore(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "k5link-storage-test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	t.Run("Valid Store Creation", func(t *testing.T) {
		dbPath := filepath.Join(tempDir, "test.db")
		store, err := NewSnapshotStore(dbPath, 50)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		defer store.Close()

		if store.maxSnapshots != 50 {
			t.Errorf("Expected maxSnapshots 50, got %d", store.maxSnapshots)
		}
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			t.Error("Expected database file to be created")
		}
	})

	t.Run("Store Creation with Nested Directory", func(t *testing.T) {
		dbPath := filepath.Join(tempDir, "nested", "dir", "test.db")
		store, err := NewSnapshotStore(dbPath, 10)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		defer store.Close()

		if _, err := os.Stat(filepath.Dir(dbPath)); os.IsNotExist(err) {
			t.Error("Expected nested directory to be created")
		}
	})

	t.Run("Tables Created", func(t *testing.T) {
		store := newTestStore(t, 10)
		for _, table := range []string{"snapshots", "channels", "snapshot_stats"} {
			var name string
			err := store.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
			if err != nil {
				t.Errorf("Expected table %s to exist: %v", table, err)
			}
		}
	})
}

func TestSaveAndGetSnapshot(t *testing.T) {
	store := newTestStore(t, 10)
	table := testTable(5)

	saved, err := store.SaveSnapshot("before trip", "stock", "2.01.32", table)
	if err != nil {
		t.Fatalf("Failed to save snapshot: %v", err)
	}
	if saved.ID == 0 {
		t.Error("Expected snapshot id to be set")
	}
	if saved.Total != 5 || saved.Used != 2 {
		t.Errorf("Expected total 5 used 2, got %d/%d", saved.Total, saved.Used)
	}

	got, err := store.GetSnapshot(saved.ID)
	if err != nil {
		t.Fatalf("Failed to get snapshot: %v", err)
	}
	if got.Name != "before trip" || got.ProfileID != "stock" || got.Firmware != "2.01.32" {
		t.Errorf("Unexpected header: %+v", got)
	}
	if !got.CreatedAt.Equal(saved.CreatedAt) {
		t.Errorf("Expected created_at %v, got %v", saved.CreatedAt, got.CreatedAt)
	}
	if !reflect.DeepEqual(table, got.Channels) {
		t.Errorf("Channels did not round trip:\nwant %+v\ngot  %+v", table, got.Channels)
	}
}

func TestGetSnapshotNotFound(t *testing.T) {
	store := newTestStore(t, 10)

	_, err := store.GetSnapshot(999)
	if !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("Expected ErrSnapshotNotFound, got %v", err)
	}

	err = store.DeleteSnapshot(999)
	if !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("Expected ErrSnapshotNotFound on delete, got %v", err)
	}
}

func TestDeleteSnapshotCascades(t *testing.T) {
	store := newTestStore(t, 10)

	saved, err := store.SaveSnapshot("temp", "stock", "", testTable(4))
	if err != nil {
		t.Fatalf("Failed to save snapshot: %v", err)
	}
	if err := store.DeleteSnapshot(saved.ID); err != nil {
		t.Fatalf("Failed to delete snapshot: %v", err)
	}

	stats, err := store.Stats()
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}
	if stats.Snapshots != 0 || stats.Channels != 0 {
		t.Errorf("Expected empty store, got %d snapshots %d channels", stats.Snapshots, stats.Channels)
	}
	if stats.TotalSaved != 1 {
		t.Errorf("Expected total_saved 1, got %d", stats.TotalSaved)
	}
}

func TestListSnapshots(t *testing.T) {
	store := newTestStore(t, 0)

	for i := 0; i < 5; i++ {
		profileID := "stock"
		if i%2 == 1 {
			profileID = "extended"
		}
		if _, err := store.SaveSnapshot(fmt.Sprintf("snap-%d", i), profileID, "", testTable(3)); err != nil {
			t.Fatalf("Failed to save snapshot %d: %v", i, err)
		}
	}

	t.Run("All Newest First", func(t *testing.T) {
		list, err := store.ListSnapshots(SnapshotQuery{})
		if err != nil {
			t.Fatalf("Failed to list: %v", err)
		}
		if len(list) != 5 {
			t.Fatalf("Expected 5 snapshots, got %d", len(list))
		}
		if list[0].Name != "snap-4" || list[4].Name != "snap-0" {
			t.Errorf("Expected newest first, got %s ... %s", list[0].Name, list[4].Name)
		}
		if list[0].Channels != nil {
			t.Error("Expected list entries without channels")
		}
	})

	t.Run("Limit and Offset", func(t *testing.T) {
		list, err := store.ListSnapshots(SnapshotQuery{Limit: 2, Offset: 1})
		if err != nil {
			t.Fatalf("Failed to list: %v", err)
		}
		if len(list) != 2 || list[0].Name != "snap-3" {
			t.Errorf("Unexpected page: %+v", list)
		}
	})

	t.Run("Profile Filter", func(t *testing.T) {
		list, err := store.ListSnapshots(SnapshotQuery{ProfileID: "extended"})
		if err != nil {
			t.Fatalf("Failed to list: %v", err)
		}
		if len(list) != 2 {
			t.Errorf("Expected 2 extended snapshots, got %d", len(list))
		}
	})

	t.Run("Since Filter", func(t *testing.T) {
		future := time.Now().Add(time.Hour)
		list, err := store.ListSnapshots(SnapshotQuery{Since: &future})
		if err != nil {
			t.Fatalf("Failed to list: %v", err)
		}
		if len(list) != 0 {
			t.Errorf("Expected no snapshots after %v, got %d", future, len(list))
		}
	})
}

func TestPrune(t *testing.T) {
	t.Run("Automatic On Save", func(t *testing.T) {
		store := newTestStore(t, 3)
		for i := 0; i < 5; i++ {
			if _, err := store.SaveSnapshot(fmt.Sprintf("snap-%d", i), "stock", "", testTable(2)); err != nil {
				t.Fatalf("Failed to save snapshot %d: %v", i, err)
			}
		}

		list, err := store.ListSnapshots(SnapshotQuery{})
		if err != nil {
			t.Fatalf("Failed to list: %v", err)
		}
		if len(list) != 3 {
			t.Fatalf("Expected 3 snapshots after pruning, got %d", len(list))
		}
		if list[2].Name != "snap-2" {
			t.Errorf("Expected oldest remaining snap-2, got %s", list[2].Name)
		}

		stats, err := store.Stats()
		if err != nil {
			t.Fatalf("Failed to get stats: %v", err)
		}
		if stats.TotalPruned != 2 {
			t.Errorf("Expected 2 pruned, got %d", stats.TotalPruned)
		}
		if stats.Channels != 6 {
			t.Errorf("Expected channels of pruned snapshots removed, got %d rows", stats.Channels)
		}
		if stats.LastCleanup.IsZero() {
			t.Error("Expected last_cleanup to be set")
		}
	})

	t.Run("Manual", func(t *testing.T) {
		store := newTestStore(t, 0)
		for i := 0; i < 4; i++ {
			if _, err := store.SaveSnapshot("s", "stock", "", nil); err != nil {
				t.Fatalf("Failed to save snapshot: %v", err)
			}
		}

		n, err := store.Prune(1)
		if err != nil {
			t.Fatalf("Failed to prune: %v", err)
		}
		if n != 3 {
			t.Errorf("Expected 3 pruned, got %d", n)
		}

		n, err = store.Prune(0)
		if err != nil || n != 0 {
			t.Errorf("Expected no-op prune, got %d, %v", n, err)
		}
	})
}
