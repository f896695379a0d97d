package settings

import (
	"context"
	"errors"
	"testing"
)

type fakeConfigStore struct {
	values map[string]int
	err    error
	calls  int
}

func (s *fakeConfigStore) GetConfigInt(ctx context.Context, key string) (int, bool, error) {
	s.calls++
	if s.err != nil {
		return 0, false, s.err
	}
	v, ok := s.values[key]
	return v, ok, nil
}

func TestCacheServesStoredValue(t *testing.T) {
	store := &fakeConfigStore{values: map[string]int{KeyClipCreditCost: 5}}
	c := NewCache(store)

	cost, err := c.ClipCreditCost(context.Background())
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if cost != 5 {
		t.Errorf("expected 5, got %d", cost)
	}
}

func TestCacheFallsBackOnMissingKey(t *testing.T) {
	c := NewCache(&fakeConfigStore{values: map[string]int{}})

	cost, err := c.ClipCreditCost(context.Background())
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if cost != defaultClipCost {
		t.Errorf("expected default %d, got %d", defaultClipCost, cost)
	}

	reward, err := c.ReferralReward(context.Background())
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if reward != 0 {
		t.Errorf("missing reward key must mean no reward, got %d", reward)
	}
}

func TestCacheAvoidsRepeatFetches(t *testing.T) {
	store := &fakeConfigStore{values: map[string]int{KeyClipCreditCost: 2}}
	c := NewCache(store)

	for i := 0; i < 5; i++ {
		if _, err := c.ClipCreditCost(context.Background()); err != nil {
			t.Fatalf("get failed: %v", err)
		}
	}

	if store.calls != 1 {
		t.Errorf("expected 1 store fetch within TTL, got %d", store.calls)
	}
}

func TestCacheServesStaleOnError(t *testing.T) {
	store := &fakeConfigStore{values: map[string]int{KeyClipCreditCost: 3}}
	c := NewCache(store)

	if _, err := c.ClipCreditCost(context.Background()); err != nil {
		t.Fatalf("warm-up failed: %v", err)
	}

	// Drop the entry entirely and break the store: nothing to fall back
	// on, so the error surfaces.
	c.Invalidate(KeyClipCreditCost)
	store.err = errors.New("connection refused")

	if _, err := c.ClipCreditCost(context.Background()); err == nil {
		t.Fatal("expected error with no cached value")
	}

	// Repopulate, then expire by TTL only (entry kept): stale is served.
	store.err = nil
	if _, err := c.ClipCreditCost(context.Background()); err != nil {
		t.Fatalf("repopulate failed: %v", err)
	}
	c.mu.Lock()
	entry := c.values[KeyClipCreditCost]
	entry.fetchedAt = entry.fetchedAt.Add(-2 * defaultTTL)
	c.values[KeyClipCreditCost] = entry
	c.mu.Unlock()
	store.err = errors.New("connection refused")

	cost, err := c.ClipCreditCost(context.Background())
	if err != nil {
		t.Fatalf("stale read failed: %v", err)
	}
	if cost != 3 {
		t.Errorf("expected stale value 3, got %d", cost)
	}
}

func TestInvalidateForcesRefetch(t *testing.T) {
	store := &fakeConfigStore{values: map[string]int{KeyShareReward: 1}}
	c := NewCache(store)

	if _, err := c.ShareReward(context.Background()); err != nil {
		t.Fatalf("get failed: %v", err)
	}

	store.values[KeyShareReward] = 7
	c.Invalidate(KeyShareReward)

	reward, err := c.ShareReward(context.Background())
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if reward != 7 {
		t.Errorf("expected refetched 7, got %d", reward)
	}
}
