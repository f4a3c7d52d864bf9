package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryCacheSetGet(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "v" {
		t.Errorf("Get = %q, want %q", got, "v")
	}
}

func TestMemoryCacheMiss(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()

	if _, err := c.Get(context.Background(), "absent"); err != ErrCacheMiss {
		t.Errorf("Get(absent) error = %v, want ErrCacheMiss", err)
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), 10*time.Millisecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	time.Sleep(25 * time.Millisecond)

	if _, err := c.Get(ctx, "k"); err != ErrCacheMiss {
		t.Errorf("Get after expiry error = %v, want ErrCacheMiss", err)
	}
}

func TestMemoryCacheDelete(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"), time.Minute)
	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := c.Get(ctx, "k"); err != ErrCacheMiss {
		t.Errorf("Get after delete error = %v, want ErrCacheMiss", err)
	}
}

func TestMemoryCacheTryLockExclusive(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	owner, ok, err := c.TryLock(ctx, "lock", time.Minute)
	if err != nil || !ok {
		t.Fatalf("First TryLock = (%v, %v), want acquired", ok, err)
	}
	if owner == "" {
		t.Fatal("First TryLock returned an empty owner token")
	}

	_, ok, err = c.TryLock(ctx, "lock", time.Minute)
	if err != nil {
		t.Fatalf("Second TryLock error: %v", err)
	}
	if ok {
		t.Error("Second TryLock acquired a held lock")
	}

	if err := c.Unlock(ctx, "lock", owner); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}

	_, ok, err = c.TryLock(ctx, "lock", time.Minute)
	if err != nil || !ok {
		t.Errorf("TryLock after Unlock = (%v, %v), want acquired", ok, err)
	}
}

func TestMemoryCacheLockExpires(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	if _, ok, _ := c.TryLock(ctx, "lock", 10*time.Millisecond); !ok {
		t.Fatal("First TryLock not acquired")
	}
	time.Sleep(25 * time.Millisecond)

	if _, ok, _ := c.TryLock(ctx, "lock", time.Minute); !ok {
		t.Error("TryLock after TTL expiry not acquired")
	}
}

func TestMemoryCacheStaleUnlockLeavesNewOwner(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	staleOwner, ok, err := c.TryLock(ctx, "lock", 10*time.Millisecond)
	if err != nil || !ok {
		t.Fatalf("First TryLock = (%v, %v), want acquired", ok, err)
	}
	time.Sleep(25 * time.Millisecond)

	// The lock expired and a second holder acquired it.
	newOwner, ok, err := c.TryLock(ctx, "lock", time.Minute)
	if err != nil || !ok {
		t.Fatalf("TryLock after expiry = (%v, %v), want acquired", ok, err)
	}

	// The first holder's late Unlock must not release the second holder's lock.
	if err := c.Unlock(ctx, "lock", staleOwner); err != nil {
		t.Fatalf("Stale Unlock failed: %v", err)
	}
	if _, ok, _ := c.TryLock(ctx, "lock", time.Minute); ok {
		t.Fatal("Stale Unlock released a lock owned by someone else")
	}

	// The current holder can still release it.
	if err := c.Unlock(ctx, "lock", newOwner); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	if _, ok, _ := c.TryLock(ctx, "lock", time.Minute); !ok {
		t.Error("TryLock after owner Unlock not acquired")
	}
}

func TestMemoryCacheUnlockEmptyOwnerIsNoOp(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	if _, ok, _ := c.TryLock(ctx, "lock", time.Minute); !ok {
		t.Fatal("TryLock not acquired")
	}
	if err := c.Unlock(ctx, "lock", ""); err != nil {
		t.Fatalf("Unlock with empty owner failed: %v", err)
	}
	if _, ok, _ := c.TryLock(ctx, "lock", time.Minute); ok {
		t.Error("Unlock with empty owner released a held lock")
	}
}

func TestMemoryCacheLockBoundedWait(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	if _, ok, _ := c.TryLock(ctx, "lock", time.Minute); !ok {
		t.Fatal("TryLock not acquired")
	}

	start := time.Now()
	_, ok, err := c.Lock(ctx, "lock", time.Minute, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Lock error: %v", err)
	}
	if ok {
		t.Error("Lock acquired a held lock")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Lock waited %v, want bounded wait", elapsed)
	}
}
