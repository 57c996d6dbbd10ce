package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	IPBanKeyPrefix  = "ipban:%s"
	WalletKeyPrefix = "wallet:%s:%s"
)

const (
	// IPBanTTL is short so a fresh ban is enforced quickly even without
	// explicit invalidation (e.g. bans written by another instance).
	IPBanTTL  = time.Minute
	WalletTTL = 30 * time.Second
)

func IPBanKey(ip string) string {
	return fmt.Sprintf(IPBanKeyPrefix, ip)
}

func WalletKey(userType, userID string) string {
	return fmt.Sprintf(WalletKeyPrefix, userType, userID)
}

// GetJSON attempts to get the key from Redis and unmarshal into dest.
// Returns (true, nil) if found and unmarshaled, (false, nil) if not found.
func GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	if client == nil {
		return false, nil
	}
	s, err := client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(s), dest); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON marshals v and sets the key with TTL.
func SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	if client == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return client.Set(ctx, key, b, ttl).Err()
}

// Aside tries Redis first, on miss it calls fetch (which should populate dest),
// then stores the result in Redis with ttl. fetch must write into dest.
func Aside(ctx context.Context, key string, dest any, ttl time.Duration, fetch func() error) error {
	found, err := GetJSON(ctx, key, dest)
	if err == nil && found {
		return nil
	}
	// Treat cache errors as misses; the source of truth is the database.

	if err := fetch(); err != nil {
		return err
	}

	// Store into cache (best-effort)
	_ = SetJSON(ctx, key, dest, ttl)
	return nil
}

// Invalidate removes a key, best-effort.
func Invalidate(ctx context.Context, key string) {
	if client != nil {
		client.Del(ctx, key)
	}
}

// InvalidateIPBan drops the cached ban state for an address.
func InvalidateIPBan(ctx context.Context, ip string) {
	Invalidate(ctx, IPBanKey(ip))
}

// InvalidateWallet drops the cached balance for a subject.
func InvalidateWallet(ctx context.Context, userType, userID string) {
	Invalidate(ctx, WalletKey(userType, userID))
}
