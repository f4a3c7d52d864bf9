package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hawkerops/menu-sync/internal/database"
	"github.com/hawkerops/menu-sync/internal/diff"
	"github.com/hawkerops/menu-sync/internal/restosuite"
)

// Store is the persistence surface the pipeline needs. database.Store is the
// production implementation.
type Store interface {
	LatestSnapshots(ctx context.Context, shopID string) (map[string]*database.ItemSnapshot, error)
	WriteShopBatch(ctx context.Context, shopID string, snapshots []database.ItemSnapshot, changes []database.ItemChange) error
}

// shopWriteResult carries the per-shop counters back to the coordinator.
type shopWriteResult struct {
	ItemsFetched     int
	SnapshotsWritten int
	ChangesWritten   int
	SkippedSame      int
}

// processShop diffs one shop's fetched items against their latest stored
// snapshots and persists the results. In dry-run mode everything is computed
// and counted but nothing is written.
func processShop(ctx context.Context, store Store, runID, shopID string, items []restosuite.Item, dryRun bool) (shopWriteResult, error) {
	var result shopWriteResult
	result.ItemsFetched = len(items)
	if len(items) == 0 {
		return result, nil
	}

	latest, err := store.LatestSnapshots(ctx, shopID)
	if err != nil {
		return result, err
	}

	snapshots := make([]database.ItemSnapshot, 0, len(items))
	changes := make([]database.ItemChange, 0)

	// Upstream response order is preserved; it is the only ordering
	// guarantee the change history makes.
	for _, item := range items {
		current := diff.Record{
			ShopID:   shopID,
			ItemID:   item.ItemID.String(),
			Name:     item.ItemName,
			IsActive: item.IsActive,
			Price:    item.BasePrice.String(),
		}

		var prev *diff.Previous
		if snap, ok := latest[current.ItemID]; ok {
			prev = &diff.Previous{
				Record: diff.Record{
					ShopID:   snap.ShopID,
					ItemID:   snap.ItemID,
					Name:     snap.Name,
					IsActive: snap.IsActive,
					Price:    snap.Price,
				},
				Fingerprint: snap.Fingerprint,
			}
		}

		outcome := diff.Classify(current, prev)

		// Snapshots store the normalized field values; the raw upstream
		// record is retained verbatim in raw_json for audit.
		snapshots = append(snapshots, database.ItemSnapshot{
			RunID:       runID,
			ShopID:      shopID,
			ItemID:      current.ItemID,
			ItemUID:     item.ItemUID,
			Name:        diff.NormalizeName(current.Name),
			IsActive:    diff.NormalizeActive(current.IsActive),
			Price:       diff.NormalizePrice(current.Price),
			RawJSON:     item.Raw,
			Fingerprint: outcome.Fingerprint,
		})

		if outcome.Class == diff.Unchanged {
			result.SkippedSame++
			continue
		}

		payload, err := json.Marshal(outcome.Payload())
		if err != nil {
			return result, fmt.Errorf("encoding change payload for item %s: %w", current.ItemID, err)
		}
		changes = append(changes, database.ItemChange{
			RunID:      runID,
			ShopID:     shopID,
			ItemID:     current.ItemID,
			ItemUID:    item.ItemUID,
			ChangeJSON: payload,
		})
	}

	if !dryRun {
		if err := store.WriteShopBatch(ctx, shopID, snapshots, changes); err != nil {
			return result, err
		}
	}

	result.SnapshotsWritten = len(snapshots)
	result.ChangesWritten = len(changes)
	return result, nil
}
