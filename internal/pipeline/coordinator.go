// Package pipeline orchestrates a full menu sync: shop list, per-shop item
// fetch, diff against stored snapshots, and persistence. A distributed lock
// guarantees that at most one run executes system-wide, and upstream
// rate-limit signals are converted into a cooldown window instead of a
// failure so scheduled re-invocations back off automatically.
package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/hawkerops/menu-sync/internal/cache"
	"github.com/hawkerops/menu-sync/internal/restosuite"
	"github.com/hawkerops/menu-sync/internal/telemetry"
)

// Outcome distinguishes "nothing to do right now" from actual completion.
// Skips are values, not errors: a denied lock or an active cooldown exits
// with status zero.
type Outcome string

const (
	OutcomeCompleted       Outcome = "completed"
	OutcomeSkippedLocked   Outcome = "skipped_locked"
	OutcomeSkippedCooldown Outcome = "skipped_cooldown"
)

// Upstream is the slice of the RestoSuite client the coordinator consumes.
type Upstream interface {
	GetShops(ctx context.Context, page, size int) ([]restosuite.Shop, error)
	GetItems(ctx context.Context, shopID string, page, size int) ([]restosuite.Item, error)
}

// Params are the caller-supplied knobs for one run.
type Params struct {
	Page   int
	Size   int
	ShopID string // optional single-shop filter
	DryRun bool
}

// Result is the outcome of one run with its accumulated counters.
type Result struct {
	Outcome          Outcome
	RunID            string
	ItemsFetched     int
	SnapshotsWritten int
	ChangesWritten   int
	SkippedSame      int
}

// SyncError wraps any unexpected failure during a run. Rate-limit signals
// never surface as SyncError; they become a cooldown.
type SyncError struct {
	RunID string
	Err   error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync run %s: %v", e.RunID, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// Config holds the coordinator's lock and cooldown settings.
type Config struct {
	LockKey     string        `mapstructure:"lock_key"`
	LockTTL     time.Duration `mapstructure:"lock_ttl"`
	LockWait    time.Duration `mapstructure:"lock_wait"`
	CooldownKey string        `mapstructure:"cooldown_key"`
	Cooldown    time.Duration `mapstructure:"cooldown"`
}

func (c Config) withDefaults() Config {
	if c.LockKey == "" {
		c.LockKey = "menu_sync:run_lock"
	}
	if c.LockTTL == 0 {
		c.LockTTL = 600 * time.Second
	}
	if c.LockWait == 0 {
		c.LockWait = 12 * time.Second
	}
	if c.CooldownKey == "" {
		c.CooldownKey = "menu_sync:cooldown_until"
	}
	if c.Cooldown == 0 {
		c.Cooldown = 120 * time.Second
	}
	return c
}

// Coordinator runs the sync. Concurrency comes only from separate
// invocations racing (scheduler vs. manual); the shared lock serializes
// them, and within one run everything is single-threaded.
type Coordinator struct {
	upstream Upstream
	store    Store
	shared   cache.Cache
	cfg      Config
	log      zerolog.Logger
}

// NewCoordinator wires a coordinator.
func NewCoordinator(upstream Upstream, store Store, shared cache.Cache, cfg Config, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		upstream: upstream,
		store:    store,
		shared:   shared,
		cfg:      cfg.withDefaults(),
		log:      log.With().Str("component", "coordinator").Logger(),
	}
}

// Run executes one sync. Return contract: a skip (lock denied, cooldown
// active) is a successful no-op; a rate-limited run records a cooldown and
// returns what it completed; anything else fails with SyncError after the
// lock is released.
func (c *Coordinator) Run(ctx context.Context, params Params) (Result, error) {
	start := time.Now()
	result := Result{RunID: start.UTC().Format("20060102150405")}
	logger := c.log.With().Str("run_id", result.RunID).Logger()

	lockOwner, acquired, err := c.shared.Lock(ctx, c.cfg.LockKey, c.cfg.LockTTL, c.cfg.LockWait)
	if err != nil {
		return result, &SyncError{RunID: result.RunID, Err: fmt.Errorf("acquiring sync lock: %w", err)}
	}
	if !acquired {
		logger.Info().Msg("Another sync is already running, skipping")
		result.Outcome = OutcomeSkippedLocked
		telemetry.ObserveRun(string(result.Outcome), 0, 0, 0, 0)
		return result, nil
	}
	defer func() {
		if err := c.shared.Unlock(context.WithoutCancel(ctx), c.cfg.LockKey, lockOwner); err != nil {
			logger.Warn().Err(err).Msg("Failed to release sync lock")
		}
	}()

	if until, active := c.cooldownUntil(ctx); active {
		logger.Info().Time("until", until).Msg("Rate-limit cooldown active, skipping")
		result.Outcome = OutcomeSkippedCooldown
		telemetry.ObserveRun(string(result.Outcome), 0, 0, 0, 0)
		return result, nil
	}

	logger.Info().
		Int("page", params.Page).
		Int("size", params.Size).
		Str("shop_filter", params.ShopID).
		Bool("dry_run", params.DryRun).
		Msg("Starting sync run")

	runErr := c.runLocked(ctx, params, &result, logger)
	if runErr != nil {
		if restosuite.IsRateLimited(runErr) {
			// Upstream flagged token abuse. Recording a cooldown and
			// succeeding is the whole point: a hard failure here would make
			// every scheduler tick re-authenticate and compound the ban.
			c.recordCooldown(ctx, logger)
			result.Outcome = OutcomeCompleted
			telemetry.ObserveRun(string(result.Outcome), time.Since(start), result.ItemsFetched, result.SnapshotsWritten, result.ChangesWritten)
			return result, nil
		}
		telemetry.ObserveRun("failed", time.Since(start), result.ItemsFetched, result.SnapshotsWritten, result.ChangesWritten)
		return result, &SyncError{RunID: result.RunID, Err: runErr}
	}

	result.Outcome = OutcomeCompleted
	logger.Info().
		Int("items_fetched", result.ItemsFetched).
		Int("snapshots_written", result.SnapshotsWritten).
		Int("changes_written", result.ChangesWritten).
		Int("skipped_same", result.SkippedSame).
		Dur("elapsed", time.Since(start)).
		Msg("Sync run complete")
	telemetry.ObserveRun(string(result.Outcome), time.Since(start), result.ItemsFetched, result.SnapshotsWritten, result.ChangesWritten)
	return result, nil
}

// runLocked is the main loop, entered only with the lock held and no active
// cooldown.
func (c *Coordinator) runLocked(ctx context.Context, params Params, result *Result, logger zerolog.Logger) error {
	shops, err := c.upstream.GetShops(ctx, params.Page, params.Size)
	if err != nil {
		return fmt.Errorf("fetching shop list: %w", err)
	}

	if params.ShopID != "" {
		filtered := shops[:0]
		for _, shop := range shops {
			if shop.ShopID.String() == params.ShopID {
				filtered = append(filtered, shop)
			}
		}
		shops = filtered
	}

	logger.Info().Int("shops", len(shops)).Msg("Processing shops")

	for _, shop := range shops {
		shopID := shop.ShopID.String()

		items, err := c.upstream.GetItems(ctx, shopID, params.Page, params.Size)
		if err != nil {
			return fmt.Errorf("fetching items for shop %s: %w", shopID, err)
		}

		shopResult, err := processShop(ctx, c.store, result.RunID, shopID, items, params.DryRun)
		result.ItemsFetched += shopResult.ItemsFetched
		result.SnapshotsWritten += shopResult.SnapshotsWritten
		result.ChangesWritten += shopResult.ChangesWritten
		result.SkippedSame += shopResult.SkippedSame
		if err != nil {
			return fmt.Errorf("processing shop %s: %w", shopID, err)
		}

		logger.Debug().
			Str("shop_id", shopID).
			Str("shop_name", shop.ShopName).
			Int("items", shopResult.ItemsFetched).
			Int("changes", shopResult.ChangesWritten).
			Int("skipped_same", shopResult.SkippedSame).
			Msg("Shop processed")
	}

	return nil
}

// cooldownUntil reports whether a rate-limit cooldown is active. The key's
// TTL enforces expiry; the stored value is the human-readable deadline.
func (c *Coordinator) cooldownUntil(ctx context.Context) (time.Time, bool) {
	value, err := c.shared.Get(ctx, c.cfg.CooldownKey)
	if err != nil {
		return time.Time{}, false
	}
	unix, err := strconv.ParseInt(string(value), 10, 64)
	if err != nil {
		return time.Time{}, true
	}
	return time.Unix(unix, 0), true
}

// recordCooldown stamps the cooldown window into the shared cache.
func (c *Coordinator) recordCooldown(ctx context.Context, logger zerolog.Logger) {
	until := time.Now().Add(c.cfg.Cooldown)
	value := []byte(strconv.FormatInt(until.Unix(), 10))
	if err := c.shared.Set(context.WithoutCancel(ctx), c.cfg.CooldownKey, value, c.cfg.Cooldown); err != nil {
		logger.Error().Err(err).Msg("Failed to record rate-limit cooldown")
		return
	}
	logger.Warn().Time("until", until).Msg("Upstream rate limit hit, cooldown recorded")
}
