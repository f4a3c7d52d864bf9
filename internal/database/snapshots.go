package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Store exposes the snapshot/change persistence operations backed by the
// package pool. It exists as a value type so the pipeline can depend on an
// interface and tests can substitute a fake.
type Store struct{}

// NewStore returns a Store backed by the package connection pool.
func NewStore() Store {
	return Store{}
}

// LatestSnapshots loads the current state of every item known for a shop in
// one bulk query: MAX(id) per (shop_id, item_id) over the append-only log,
// then a single fetch of those rows. One query per shop, never one per item;
// item volume per shop runs into the hundreds.
func (Store) LatestSnapshots(ctx context.Context, shopID string) (map[string]*ItemSnapshot, error) {
	rows, err := Pool().Query(ctx, `
		SELECT s.id, s.run_id, s.shop_id, s.item_id, s.item_uid,
		       s.name, s.is_active, s.price, s.raw_json, s.fingerprint, s.created_at
		FROM item_snapshots s
		JOIN (
			SELECT MAX(id) AS id
			FROM item_snapshots
			WHERE shop_id = $1
			GROUP BY shop_id, item_id
		) latest ON latest.id = s.id
	`, shopID)
	if err != nil {
		return nil, fmt.Errorf("loading latest snapshots for shop %s: %w", shopID, err)
	}
	defer rows.Close()

	result := make(map[string]*ItemSnapshot)
	for rows.Next() {
		var snap ItemSnapshot
		if err := rows.Scan(
			&snap.ID, &snap.RunID, &snap.ShopID, &snap.ItemID, &snap.ItemUID,
			&snap.Name, &snap.IsActive, &snap.Price, &snap.RawJSON,
			&snap.Fingerprint, &snap.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning snapshot row: %w", err)
		}
		result[snap.ItemID] = &snap
	}
	return result, rows.Err()
}

// WriteShopBatch appends one shop's snapshot and change rows in a single
// transaction, so a mid-shop failure never leaves a snapshot without its
// matching change record.
func (Store) WriteShopBatch(ctx context.Context, shopID string, snapshots []ItemSnapshot, changes []ItemChange) error {
	tx, err := Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction for shop %s: %w", shopID, err)
	}
	defer tx.Rollback(ctx)

	for _, snap := range snapshots {
		_, err := tx.Exec(ctx, `
			INSERT INTO item_snapshots (
				run_id, shop_id, item_id, item_uid, name, is_active,
				price, raw_json, fingerprint, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		`, snap.RunID, snap.ShopID, snap.ItemID, snap.ItemUID, snap.Name,
			snap.IsActive, snap.Price, snap.RawJSON, snap.Fingerprint)
		if err != nil {
			return fmt.Errorf("inserting snapshot for item %s: %w", snap.ItemID, err)
		}
	}

	for _, change := range changes {
		_, err := tx.Exec(ctx, `
			INSERT INTO item_changes (
				id, run_id, shop_id, item_id, item_uid, change_json, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, NOW())
		`, uuid.New().String(), change.RunID, change.ShopID, change.ItemID,
			change.ItemUID, change.ChangeJSON)
		if err != nil {
			return fmt.Errorf("inserting change for item %s: %w", change.ItemID, err)
		}
	}

	return tx.Commit(ctx)
}

// ListRuns returns recent run summaries aggregated from the snapshot log.
func (Store) ListRuns(ctx context.Context, limit, offset int) ([]RunSummary, error) {
	rows, err := Pool().Query(ctx, `
		SELECT s.run_id,
		       COUNT(DISTINCT s.shop_id) AS shops,
		       COUNT(*) AS snapshots,
		       COALESCE(c.changes, 0) AS changes,
		       MIN(s.created_at) AS started_at
		FROM item_snapshots s
		LEFT JOIN (
			SELECT run_id, COUNT(*) AS changes
			FROM item_changes
			GROUP BY run_id
		) c ON c.run_id = s.run_id
		GROUP BY s.run_id, c.changes
		ORDER BY MIN(s.created_at) DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	runs := make([]RunSummary, 0, limit)
	for rows.Next() {
		var run RunSummary
		if err := rows.Scan(&run.RunID, &run.Shops, &run.Snapshots, &run.Changes, &run.StartedAt); err != nil {
			return nil, fmt.Errorf("scanning run summary: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListChanges returns recent change rows, optionally filtered to one shop.
func (Store) ListChanges(ctx context.Context, shopID string, limit, offset int) ([]ItemChange, error) {
	rows, err := Pool().Query(ctx, `
		SELECT id, run_id, shop_id, item_id, item_uid, change_json, created_at
		FROM item_changes
		WHERE ($1 = '' OR shop_id = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, shopID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing changes: %w", err)
	}
	defer rows.Close()

	changes := make([]ItemChange, 0, limit)
	for rows.Next() {
		var change ItemChange
		if err := rows.Scan(
			&change.ID, &change.RunID, &change.ShopID, &change.ItemID,
			&change.ItemUID, &change.ChangeJSON, &change.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning change row: %w", err)
		}
		changes = append(changes, change)
	}
	return changes, rows.Err()
}

// CleanupOldSnapshots deletes snapshot rows older than the retention window,
// keeping the newest row per (shop_id, item_id) so "latest" state survives
// any retention setting.
func CleanupOldSnapshots(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	result, err := Pool().Exec(ctx, `
		DELETE FROM item_snapshots
		WHERE created_at < $1
		AND id NOT IN (
			SELECT MAX(id)
			FROM item_snapshots
			GROUP BY shop_id, item_id
		)
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup old snapshots: %w", err)
	}

	deleted := result.RowsAffected()
	log.Info().Int64("rows_deleted", deleted).Time("cutoff", cutoff).Msg("Cleaned up old snapshots")
	return deleted, nil
}

// CleanupOldChanges deletes change rows older than the retention window.
// Changes are the audit history consumers care about, so the default window
// is longer than the snapshot one.
func CleanupOldChanges(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	result, err := Pool().Exec(ctx, `
		DELETE FROM item_changes
		WHERE created_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup old changes: %w", err)
	}

	deleted := result.RowsAffected()
	log.Info().Int64("rows_deleted", deleted).Time("cutoff", cutoff).Msg("Cleaned up old changes")
	return deleted, nil
}
