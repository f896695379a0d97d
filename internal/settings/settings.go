// Package settings exposes the admin-tunable amounts (clip cost, reward
// sizes) stored in app_config. Values are cached with a TTL; concurrent
// cache misses for the same key collapse into one DB fetch via
// singleflight, so there is no load flag to busy-wait on.
package settings

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	KeyClipCreditCost      = "clip_credit_cost"
	KeyReferralReward      = "referral_reward"
	KeyReferralSignupBonus = "referral_signup_bonus"
	KeyShareReward         = "share_reward"

	defaultTTL = time.Minute

	// A clip generation always costs at least something; the other
	// amounts default to 0, which means "no reward".
	defaultClipCost = 1
)

// Store is the read surface implemented by *db.DB.
type Store interface {
	GetConfigInt(ctx context.Context, key string) (value int, found bool, err error)
}

type cached struct {
	value     int
	fetchedAt time.Time
}

type Cache struct {
	store Store
	ttl   time.Duration

	mu     sync.RWMutex
	values map[string]cached
	group  singleflight.Group
}

func NewCache(store Store) *Cache {
	return &Cache{
		store:  store,
		ttl:    defaultTTL,
		values: make(map[string]cached),
	}
}

// get returns the cached value for key, fetching through singleflight on
// a miss or an expired entry. Missing keys resolve to fallback.
func (c *Cache) get(ctx context.Context, key string, fallback int) (int, error) {
	c.mu.RLock()
	entry, ok := c.values[key]
	c.mu.RUnlock()

	if ok && time.Since(entry.fetchedAt) < c.ttl {
		return entry.value, nil
	}

	result, err, _ := c.group.Do(key, func() (interface{}, error) {
		value, found, err := c.store.GetConfigInt(ctx, key)
		if err != nil {
			return 0, err
		}
		if !found {
			value = fallback
		}

		c.mu.Lock()
		c.values[key] = cached{value: value, fetchedAt: time.Now()}
		c.mu.Unlock()

		return value, nil
	})
	if err != nil {
		// Serve a stale value over failing the caller when we have one.
		if ok {
			return entry.value, nil
		}
		return 0, err
	}

	return result.(int), nil
}

// Invalidate drops a cached key so the next read refetches.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.values, key)
	c.mu.Unlock()
}

// ClipCreditCost is the debit taken per clip generation.
func (c *Cache) ClipCreditCost(ctx context.Context) (int, error) {
	return c.get(ctx, KeyClipCreditCost, defaultClipCost)
}

// ReferralReward is the credit the referrer earns on the referred
// account's first purchase. Zero means no reward.
func (c *Cache) ReferralReward(ctx context.Context) (int, error) {
	return c.get(ctx, KeyReferralReward, 0)
}

// ReferralSignupBonus is the credit the referred account earns at signup.
// Zero means no bonus.
func (c *Cache) ReferralSignupBonus(ctx context.Context) (int, error) {
	return c.get(ctx, KeyReferralSignupBonus, 0)
}

// ShareReward is the credit earned when a share submission is approved.
// Zero means no reward.
func (c *Cache) ShareReward(ctx context.Context) (int, error) {
	return c.get(ctx, KeyShareReward, 0)
}
