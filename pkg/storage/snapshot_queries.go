package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dougsko/k5link/pkg/channel"
	"github.com/dougsko/k5link/pkg/protocol"
)

// SnapshotQuery represents query parameters for listing snapshots
type SnapshotQuery struct {
	Limit     int
	Offset    int
	Since     *time.Time
	ProfileID string
}

// SnapshotStats represents database statistics
type SnapshotStats struct {
	Snapshots   int       `json:"snapshots"`
	Channels    int       `json:"channels"`
	TotalSaved  int       `json:"total_saved"`
	TotalPruned int       `json:"total_pruned"`
	LastCleanup time.Time `json:"last_cleanup"`
}

// ListSnapshots returns snapshot headers, newest first, without channels
func (ss *SnapshotStore) ListSnapshots(query SnapshotQuery) ([]protocol.Snapshot, error) {
	var args []interface{}

	sqlQuery := `
		SELECT id, name, profile_id, firmware, created_at, total, used
		FROM snapshots
		WHERE 1=1
	`

	if query.Since != nil {
		sqlQuery += " AND created_at >= ?"
		args = append(args, query.Since.UTC())
	}

	if query.ProfileID != "" {
		sqlQuery += " AND profile_id = ?"
		args = append(args, query.ProfileID)
	}

	sqlQuery += " ORDER BY created_at DESC, id DESC"

	if query.Limit > 0 {
		sqlQuery += " LIMIT ?"
		args = append(args, query.Limit)

		if query.Offset > 0 {
			sqlQuery += " OFFSET ?"
			args = append(args, query.Offset)
		}
	}

	rows, err := ss.db.Query(sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	snapshots := []protocol.Snapshot{}
	for rows.Next() {
		var s protocol.Snapshot
		if err := rows.Scan(&s.ID, &s.Name, &s.ProfileID, &s.Firmware, &s.CreatedAt, &s.Total, &s.Used); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snapshots = append(snapshots, s)
	}

	return snapshots, rows.Err()
}

// GetSnapshot loads one snapshot with its channels ordered by index
func (ss *SnapshotStore) GetSnapshot(id int64) (*protocol.Snapshot, error) {
	var s protocol.Snapshot
	err := ss.db.QueryRow(`
		SELECT id, name, profile_id, firmware, created_at, total, used
		FROM snapshots WHERE id = ?
	`, id).Scan(&s.ID, &s.Name, &s.ProfileID, &s.Firmware, &s.CreatedAt, &s.Total, &s.Used)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrSnapshotNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}

	rows, err := ss.db.Query(`
		SELECT idx, empty, name, rx_freq, offset_hz, duplex, mode, power,
			   rx_tone, tx_tone, step, scrambler, pttid, dtmf_decode, compander,
			   busy_lock, tx_lock, freq_rev, scan_list1, scan_list2, scan_list3, band
		FROM channels
		WHERE snapshot_id = ?
		ORDER BY idx ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query channels: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ch channel.Channel
		if err := rows.Scan(
			&ch.Index, &ch.Empty, &ch.Name, &ch.RxFreq, &ch.Offset, &ch.Duplex, &ch.Mode, &ch.Power,
			&ch.RxTone, &ch.TxTone, &ch.Step, &ch.Scrambler, &ch.PTTID, &ch.DTMFDecode, &ch.Compander,
			&ch.BusyLock, &ch.TxLock, &ch.FreqRev, &ch.ScanList1, &ch.ScanList2, &ch.ScanList3, &ch.Band,
		); err != nil {
			return nil, fmt.Errorf("failed to scan channel: %w", err)
		}
		s.Channels = append(s.Channels, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &s, nil
}

// DeleteSnapshot removes a snapshot and its channels
func (ss *SnapshotStore) DeleteSnapshot(id int64) error {
	result, err := ss.db.Exec("DELETE FROM snapshots WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrSnapshotNotFound, id)
	}

	return nil
}

// Stats returns database statistics
func (ss *SnapshotStore) Stats() (*SnapshotStats, error) {
	var stats SnapshotStats
	var lastCleanup sql.NullTime

	err := ss.db.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM snapshots),
			(SELECT COUNT(*) FROM channels),
			total_saved, total_pruned, last_cleanup
		FROM snapshot_stats WHERE id = 1
	`).Scan(&stats.Snapshots, &stats.Channels, &stats.TotalSaved, &stats.TotalPruned, &lastCleanup)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}

	if lastCleanup.Valid {
		stats.LastCleanup = lastCleanup.Time
	}

	return &stats, nil
}
