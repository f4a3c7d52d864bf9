package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hawkerops/menu-sync/internal/cache"
	"github.com/hawkerops/menu-sync/internal/database"
	"github.com/hawkerops/menu-sync/internal/restosuite"
)

// fakeUpstream serves canned shop and item lists and counts calls.
type fakeUpstream struct {
	shops     []restosuite.Shop
	items     map[string][]restosuite.Item
	shopsErr  error
	itemsErr  error
	shopCalls atomic.Int64
	itemCalls atomic.Int64
}

func (f *fakeUpstream) GetShops(ctx context.Context, page, size int) ([]restosuite.Shop, error) {
	f.shopCalls.Add(1)
	if f.shopsErr != nil {
		return nil, f.shopsErr
	}
	return f.shops, nil
}

func (f *fakeUpstream) GetItems(ctx context.Context, shopID string, page, size int) ([]restosuite.Item, error) {
	f.itemCalls.Add(1)
	if f.itemsErr != nil {
		return nil, f.itemsErr
	}
	return f.items[shopID], nil
}

// fakeStore keeps the snapshot log in memory with the same latest-row
// semantics as the SQL store: highest id per (shop_id, item_id) wins.
type fakeStore struct {
	nextID     int64
	snapshots  map[string][]database.ItemSnapshot // keyed by shop id
	changes    []database.ItemChange
	batchCalls int
	writeErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{snapshots: make(map[string][]database.ItemSnapshot)}
}

func (s *fakeStore) LatestSnapshots(ctx context.Context, shopID string) (map[string]*database.ItemSnapshot, error) {
	latest := make(map[string]*database.ItemSnapshot)
	for i := range s.snapshots[shopID] {
		snap := &s.snapshots[shopID][i]
		if cur, ok := latest[snap.ItemID]; !ok || snap.ID > cur.ID {
			latest[snap.ItemID] = snap
		}
	}
	return latest, nil
}

func (s *fakeStore) WriteShopBatch(ctx context.Context, shopID string, snapshots []database.ItemSnapshot, changes []database.ItemChange) error {
	s.batchCalls++
	if s.writeErr != nil {
		return s.writeErr
	}
	for _, snap := range snapshots {
		s.nextID++
		snap.ID = s.nextID
		s.snapshots[shopID] = append(s.snapshots[shopID], snap)
	}
	s.changes = append(s.changes, changes...)
	return nil
}

func testShop(id, name string) restosuite.Shop {
	return restosuite.Shop{ShopID: restosuite.LooseString(id), ShopName: name}
}

func testItem(id, name string, active int, price string) restosuite.Item {
	return restosuite.Item{
		ItemID:    restosuite.LooseString(id),
		ItemUID:   "uid-" + id,
		ItemName:  name,
		IsActive:  active,
		BasePrice: restosuite.LooseString(price),
		Raw:       json.RawMessage(fmt.Sprintf(`{"itemId":%q,"itemName":%q}`, id, name)),
	}
}

func newTestCoordinator(upstream Upstream, store Store, shared cache.Cache) *Coordinator {
	return NewCoordinator(upstream, store, shared, Config{LockWait: 50 * time.Millisecond}, zerolog.Nop())
}

func TestRunFirstSyncCreatesEverything(t *testing.T) {
	upstream := &fakeUpstream{
		shops: []restosuite.Shop{testShop("2001", "Maxwell Road"), testShop("2002", "Amoy Street")},
		items: map[string][]restosuite.Item{
			"2001": {testItem("9001", "Chicken Rice", 1, "4.50"), testItem("9002", "Kopi", 1, "1.80")},
			"2002": {testItem("9003", "Teh", 0, "1.60")},
		},
	}
	store := newFakeStore()

	result, err := newTestCoordinator(upstream, store, cache.NewMemoryCache()).Run(context.Background(), Params{Page: 1, Size: 100})
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, result.Outcome)
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, 3, result.ItemsFetched)
	assert.Equal(t, 3, result.SnapshotsWritten)
	assert.Equal(t, 3, result.ChangesWritten, "every item is new on the first run")
	assert.Equal(t, 0, result.SkippedSame)

	require.Len(t, store.changes, 3)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(store.changes[0].ChangeJSON, &payload))
	assert.Equal(t, map[string]any{"created": true}, payload)
}

func TestRunSecondSyncIsIdempotent(t *testing.T) {
	upstream := &fakeUpstream{
		shops: []restosuite.Shop{testShop("2001", "Maxwell Road")},
		items: map[string][]restosuite.Item{
			"2001": {testItem("9001", "Chicken Rice", 1, "4.50")},
		},
	}
	store := newFakeStore()
	coordinator := newTestCoordinator(upstream, store, cache.NewMemoryCache())

	_, err := coordinator.Run(context.Background(), Params{Page: 1, Size: 100})
	require.NoError(t, err)

	result, err := coordinator.Run(context.Background(), Params{Page: 1, Size: 100})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, result.Outcome)
	assert.Equal(t, 0, result.ChangesWritten)
	assert.Equal(t, 1, result.SkippedSame)
	assert.Len(t, store.changes, 1, "only the first run's creation is logged")
}

func TestRunDetectsFieldChange(t *testing.T) {
	upstream := &fakeUpstream{
		shops: []restosuite.Shop{testShop("2001", "Maxwell Road")},
		items: map[string][]restosuite.Item{
			"2001": {testItem("9001", "Chicken Rice", 1, "4.50")},
		},
	}
	store := newFakeStore()
	coordinator := newTestCoordinator(upstream, store, cache.NewMemoryCache())

	_, err := coordinator.Run(context.Background(), Params{Page: 1, Size: 100})
	require.NoError(t, err)

	upstream.items["2001"] = []restosuite.Item{testItem("9001", "Chicken Rice", 1, "5.00")}
	result, err := coordinator.Run(context.Background(), Params{Page: 1, Size: 100})
	require.NoError(t, err)
	assert.Equal(t, 1, result.ChangesWritten)

	require.Len(t, store.changes, 2)
	var payload map[string]map[string]any
	require.NoError(t, json.Unmarshal(store.changes[1].ChangeJSON, &payload))
	require.Contains(t, payload, "price")
	assert.Equal(t, "4.50", payload["price"]["from"])
	assert.Equal(t, "5.00", payload["price"]["to"])
	assert.NotContains(t, payload, "name")
}

func TestRunSkipsWhenLockHeld(t *testing.T) {
	shared := cache.NewMemoryCache()
	cfg := Config{LockWait: 50 * time.Millisecond}.withDefaults()

	_, held, err := shared.TryLock(context.Background(), cfg.LockKey, time.Minute)
	require.NoError(t, err)
	require.True(t, held)

	upstream := &fakeUpstream{shops: []restosuite.Shop{testShop("2001", "Maxwell Road")}}
	result, err := newTestCoordinator(upstream, newFakeStore(), shared).Run(context.Background(), Params{Page: 1, Size: 100})
	require.NoError(t, err, "a denied lock is a successful no-op")

	assert.Equal(t, OutcomeSkippedLocked, result.Outcome)
	assert.EqualValues(t, 0, upstream.shopCalls.Load(), "no upstream traffic while another run holds the lock")
}

func TestRunSkipsDuringCooldown(t *testing.T) {
	shared := cache.NewMemoryCache()
	cfg := Config{}.withDefaults()

	until := time.Now().Add(time.Minute)
	require.NoError(t, shared.Set(context.Background(), cfg.CooldownKey,
		[]byte(fmt.Sprintf("%d", until.Unix())), time.Minute))

	upstream := &fakeUpstream{shops: []restosuite.Shop{testShop("2001", "Maxwell Road")}}
	result, err := newTestCoordinator(upstream, newFakeStore(), shared).Run(context.Background(), Params{Page: 1, Size: 100})
	require.NoError(t, err)

	assert.Equal(t, OutcomeSkippedCooldown, result.Outcome)
	assert.EqualValues(t, 0, upstream.shopCalls.Load())

	// The lock taken for the cooldown check is released on the way out.
	_, held, err := shared.TryLock(context.Background(), cfg.LockKey, time.Minute)
	require.NoError(t, err)
	assert.True(t, held)
}

func TestRunRateLimitRecordsCooldownAndSucceeds(t *testing.T) {
	shared := cache.NewMemoryCache()
	cfg := Config{}.withDefaults()

	upstream := &fakeUpstream{
		shopsErr: &restosuite.UpstreamError{Code: "42901", Message: "request frequency too high", RateLimited: true},
	}
	result, err := newTestCoordinator(upstream, newFakeStore(), shared).Run(context.Background(), Params{Page: 1, Size: 100})
	require.NoError(t, err, "a rate-limited run is not a failure")
	assert.Equal(t, OutcomeCompleted, result.Outcome)

	_, getErr := shared.Get(context.Background(), cfg.CooldownKey)
	require.NoError(t, getErr, "cooldown window must be recorded")

	// A follow-up run inside the window is suppressed.
	result, err = newTestCoordinator(upstream, newFakeStore(), shared).Run(context.Background(), Params{Page: 1, Size: 100})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkippedCooldown, result.Outcome)
	assert.EqualValues(t, 1, upstream.shopCalls.Load())
}

func TestRunFailureReleasesLock(t *testing.T) {
	shared := cache.NewMemoryCache()
	boom := errors.New("connection reset")
	upstream := &fakeUpstream{shopsErr: boom}

	_, err := newTestCoordinator(upstream, newFakeStore(), shared).Run(context.Background(), Params{Page: 1, Size: 100})
	require.Error(t, err)

	var syncErr *SyncError
	require.ErrorAs(t, err, &syncErr)
	assert.NotEmpty(t, syncErr.RunID)
	assert.ErrorIs(t, err, boom)

	cfg := Config{}.withDefaults()
	_, held, lockErr := shared.TryLock(context.Background(), cfg.LockKey, time.Minute)
	require.NoError(t, lockErr)
	assert.True(t, held, "lock must not leak after a failed run")
}

func TestRunStoreFailureWrapsSyncError(t *testing.T) {
	upstream := &fakeUpstream{
		shops: []restosuite.Shop{testShop("2001", "Maxwell Road")},
		items: map[string][]restosuite.Item{
			"2001": {testItem("9001", "Chicken Rice", 1, "4.50")},
		},
	}
	store := newFakeStore()
	store.writeErr = errors.New("deadlock detected")

	_, err := newTestCoordinator(upstream, store, cache.NewMemoryCache()).Run(context.Background(), Params{Page: 1, Size: 100})
	require.Error(t, err)

	var syncErr *SyncError
	require.ErrorAs(t, err, &syncErr)
	assert.ErrorIs(t, err, store.writeErr)
}

func TestRunDryRunWritesNothing(t *testing.T) {
	upstream := &fakeUpstream{
		shops: []restosuite.Shop{testShop("2001", "Maxwell Road")},
		items: map[string][]restosuite.Item{
			"2001": {testItem("9001", "Chicken Rice", 1, "4.50")},
		},
	}
	store := newFakeStore()

	result, err := newTestCoordinator(upstream, store, cache.NewMemoryCache()).Run(context.Background(), Params{Page: 1, Size: 100, DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, result.Outcome)
	assert.Equal(t, 1, result.ItemsFetched)
	assert.Equal(t, 1, result.ChangesWritten, "counters report what a real run would write")
	assert.Zero(t, store.batchCalls, "dry run never touches the store's write path")
	assert.Empty(t, store.changes)
}

func TestRunShopFilter(t *testing.T) {
	upstream := &fakeUpstream{
		shops: []restosuite.Shop{testShop("2001", "Maxwell Road"), testShop("2002", "Amoy Street")},
		items: map[string][]restosuite.Item{
			"2001": {testItem("9001", "Chicken Rice", 1, "4.50")},
			"2002": {testItem("9003", "Teh", 1, "1.60")},
		},
	}
	store := newFakeStore()

	result, err := newTestCoordinator(upstream, store, cache.NewMemoryCache()).Run(context.Background(), Params{Page: 1, Size: 100, ShopID: "2002"})
	require.NoError(t, err)

	assert.Equal(t, 1, result.ItemsFetched)
	assert.EqualValues(t, 1, upstream.itemCalls.Load(), "only the filtered shop is fetched")
	require.Len(t, store.changes, 1)
	assert.Equal(t, "9003", store.changes[0].ItemID)
}

func TestRunEmptyShopList(t *testing.T) {
	upstream := &fakeUpstream{}
	store := newFakeStore()

	result, err := newTestCoordinator(upstream, store, cache.NewMemoryCache()).Run(context.Background(), Params{Page: 1, Size: 100})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, result.Outcome)
	assert.Zero(t, result.ItemsFetched)
	assert.Zero(t, store.batchCalls)
}
