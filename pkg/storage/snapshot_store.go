package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dougsko/k5link/pkg/channel"
	"github.com/dougsko/k5link/pkg/logging"
	"github.com/dougsko/k5link/pkg/protocol"
	_ "github.com/mattn/go-sqlite3"
)

// ErrSnapshotNotFound is returned for an unknown snapshot id
var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotStore keeps channel table snapshots in SQLite
type SnapshotStore struct {
	db           *sql.DB
	dbPath       string
	maxSnapshots int
}

// NewSnapshotStore creates a new snapshot store with SQLite backend
func NewSnapshotStore(dbPath string, maxSnapshots int) (*SnapshotStore, error) {
	store := &SnapshotStore{
		dbPath:       dbPath,
		maxSnapshots: maxSnapshots,
	}

	if err := store.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize snapshot store: %w", err)
	}

	return store, nil
}

// initialize sets up the database connection and creates tables
func (ss *SnapshotStore) initialize() error {
	if ss.dbPath == "" {
		ss.dbPath = "./k5link.db"
	}

	if err := os.MkdirAll(filepath.Dir(ss.dbPath), 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	connectionString := ss.dbPath + "?_busy_timeout=10000&_journal_mode=WAL&_foreign_keys=on"

	db, err := sql.Open("sqlite3", connectionString)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	ss.db = db

	if err := ss.createTables(); err != nil {
		db.Close()
		return fmt.Errorf("failed to create tables: %w", err)
	}

	if err := ss.createIndexes(); err != nil {
		db.Close()
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	logging.Info("storage", "Snapshot store initialized", map[string]interface{}{
		"path":          ss.dbPath,
		"max_snapshots": ss.maxSnapshots,
	})
	return nil
}

// createTables creates the database schema
func (ss *SnapshotStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL DEFAULT '',
		profile_id TEXT NOT NULL,
		firmware TEXT NOT NULL DEFAULT '',
		total INTEGER NOT NULL DEFAULT 0,
		used INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS channels (
		snapshot_id INTEGER NOT NULL,
		idx INTEGER NOT NULL,
		empty BOOLEAN NOT NULL DEFAULT FALSE,
		name TEXT NOT NULL DEFAULT '',
		rx_freq INTEGER NOT NULL DEFAULT 0,
		offset_hz INTEGER NOT NULL DEFAULT 0,
		duplex TEXT NOT NULL DEFAULT '',
		mode TEXT NOT NULL DEFAULT '',
		power TEXT NOT NULL DEFAULT '',
		rx_tone TEXT NOT NULL DEFAULT '',
		tx_tone TEXT NOT NULL DEFAULT '',
		step REAL NOT NULL DEFAULT 0,
		scrambler TEXT NOT NULL DEFAULT '',
		pttid TEXT NOT NULL DEFAULT '',
		dtmf_decode BOOLEAN NOT NULL DEFAULT FALSE,
		compander TEXT NOT NULL DEFAULT '',
		busy_lock BOOLEAN NOT NULL DEFAULT FALSE,
		tx_lock BOOLEAN NOT NULL DEFAULT FALSE,
		freq_rev BOOLEAN NOT NULL DEFAULT FALSE,
		scan_list1 BOOLEAN NOT NULL DEFAULT FALSE,
		scan_list2 BOOLEAN NOT NULL DEFAULT FALSE,
		scan_list3 BOOLEAN NOT NULL DEFAULT FALSE,
		band INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (snapshot_id, idx),
		FOREIGN KEY (snapshot_id) REFERENCES snapshots(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS snapshot_stats (
		id INTEGER PRIMARY KEY,
		total_saved INTEGER NOT NULL DEFAULT 0,
		total_pruned INTEGER NOT NULL DEFAULT 0,
		last_cleanup DATETIME,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	INSERT OR IGNORE INTO snapshot_stats (id, total_saved, total_pruned)
	VALUES (1, 0, 0);
	`

	_, err := ss.db.Exec(schema)
	return err
}

// createIndexes creates database indexes for performance
func (ss *SnapshotStore) createIndexes() error {
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_snapshots_created_at ON snapshots(created_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_snapshots_profile_id ON snapshots(profile_id)",
		"CREATE INDEX IF NOT EXISTS idx_channels_snapshot_id ON channels(snapshot_id)",
	}

	for _, indexSQL := range indexes {
		if _, err := ss.db.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// SaveSnapshot stores a channel table and returns it with its id set
func (ss *SnapshotStore) SaveSnapshot(name, profileID, firmware string, channels []channel.Channel) (*protocol.Snapshot, error) {
	used := 0
	for _, ch := range channels {
		if !ch.Empty {
			used++
		}
	}
	createdAt := time.Now().UTC().Truncate(time.Second)

	tx, err := ss.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		INSERT INTO snapshots (name, profile_id, firmware, total, used, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, name, profileID, firmware, len(channels), used, createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert snapshot: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot ID: %w", err)
	}

	if err := insertChannels(tx, id, channels); err != nil {
		return nil, fmt.Errorf("failed to insert channels: %w", err)
	}

	if _, err := tx.Exec(`
		UPDATE snapshot_stats SET
			total_saved = total_saved + 1,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = 1
	`); err != nil {
		return nil, fmt.Errorf("failed to update stats: %w", err)
	}

	if _, err := ss.pruneOldSnapshots(tx, ss.maxSnapshots); err != nil {
		logging.Warnf("storage", "failed to prune old snapshots: %v", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit snapshot: %w", err)
	}

	return &protocol.Snapshot{
		ID:        id,
		Name:      name,
		ProfileID: profileID,
		Firmware:  firmware,
		CreatedAt: createdAt,
		Total:     len(channels),
		Used:      used,
		Channels:  channels,
	}, nil
}

func insertChannels(tx *sql.Tx, snapshotID int64, channels []channel.Channel) error {
	stmt, err := tx.Prepare(`
		INSERT INTO channels (
			snapshot_id, idx, empty, name, rx_freq, offset_hz, duplex, mode, power,
			rx_tone, tx_tone, step, scrambler, pttid, dtmf_decode, compander,
			busy_lock, tx_lock, freq_rev, scan_list1, scan_list2, scan_list3, band
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, ch := range channels {
		if _, err := stmt.Exec(
			snapshotID, ch.Index, ch.Empty, ch.Name, ch.RxFreq, ch.Offset, ch.Duplex, ch.Mode, ch.Power,
			ch.RxTone, ch.TxTone, ch.Step, ch.Scrambler, ch.PTTID, ch.DTMFDecode, ch.Compander,
			ch.BusyLock, ch.TxLock, ch.FreqRev, ch.ScanList1, ch.ScanList2, ch.ScanList3, ch.Band,
		); err != nil {
			return fmt.Errorf("channel %d: %w", ch.Index, err)
		}
	}
	return nil
}

// Prune removes the oldest snapshots beyond max and returns how many went
func (ss *SnapshotStore) Prune(max int) (int, error) {
	tx, err := ss.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	n, err := ss.pruneOldSnapshots(tx, max)
	if err != nil {
		return 0, err
	}

	return n, tx.Commit()
}

// pruneOldSnapshots removes snapshots beyond the limit
func (ss *SnapshotStore) pruneOldSnapshots(tx *sql.Tx, max int) (int, error) {
	if max <= 0 {
		return 0, nil
	}

	var count int
	if err := tx.QueryRow("SELECT COUNT(*) FROM snapshots").Scan(&count); err != nil {
		return 0, err
	}
	if count <= max {
		return 0, nil
	}

	deleteCount := count - max
	_, err := tx.Exec(`
		DELETE FROM snapshots
		WHERE id IN (
			SELECT id FROM snapshots
			ORDER BY created_at ASC, id ASC
			LIMIT ?
		)
	`, deleteCount)
	if err != nil {
		return 0, err
	}

	_, err = tx.Exec(`
		UPDATE snapshot_stats SET
			total_pruned = total_pruned + ?,
			last_cleanup = CURRENT_TIMESTAMP
		WHERE id = 1
	`, deleteCount)
	return deleteCount, err
}

// Close closes the database connection
func (ss *SnapshotStore) Close() error {
	if ss.db != nil {
		return ss.db.Close()
	}
	return nil
}
