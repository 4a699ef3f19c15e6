// Package ban manages user bans in Redis. A ban is a key with a TTL:
//
//	Key:   ban:<userID>
//	Value: <reason>
//	TTL:   ban duration
//
// A rolling report counter per user drives the auto-ban escalation: three
// accepted reports inside 24 hours ban the user, with the duration growing on
// repeat offenses. Callers are expected to fail open on Redis errors — an
// unreachable Redis must never lock legitimate users out of matching.
package ban

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// BanPrefix is the Redis key prefix for ban records.
	BanPrefix = "ban:"

	// ReportsPrefix is the Redis key prefix for per-user report counters.
	ReportsPrefix = "reports:"

	// Escalating ban durations by offense count.
	BanFirst  = 15 * time.Minute
	BanSecond = 1 * time.Hour
	BanThird  = 24 * time.Hour

	// ReportsTTL is the lifetime of the report counter. A user with no new
	// reports for 24 hours starts from zero again.
	ReportsTTL = 24 * time.Hour

	// AutoBanThreshold is the number of reports within ReportsTTL that
	// triggers an automatic ban.
	AutoBanThreshold = 3
)

// Store manages ban records in Redis.
type Store struct {
	client *redis.Client
}

// NewStore creates a ban store using the provided Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// IsBanned checks whether a user is currently banned. It returns the ban
// state, the remaining seconds, and the recorded reason. Redis errors are
// returned so the caller can apply its fail-open policy.
func (s *Store) IsBanned(ctx context.Context, userID string) (bool, int, string, error) {
	key := BanPrefix + userID

	reason, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, 0, "", nil
	}
	if err != nil {
		return false, 0, "", err
	}

	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		// The ban exists but the TTL read failed. Report banned with zero
		// remaining rather than swallowing the ban.
		return true, 0, reason, nil
	}

	remaining := 0
	if ttl > 0 {
		remaining = int(ttl.Seconds())
	}
	return true, remaining, reason, nil
}

// Ban bans a user for the given duration. The record expires on its own.
func (s *Store) Ban(ctx context.Context, userID string, duration time.Duration, reason string) error {
	return s.client.Set(ctx, BanPrefix+userID, reason, duration).Err()
}

// Unban lifts a user's ban immediately.
func (s *Store) Unban(ctx context.Context, userID string) error {
	return s.client.Del(ctx, BanPrefix+userID).Err()
}

// escalationDuration maps an offense count to a ban duration.
func escalationDuration(offenseCount int) time.Duration {
	switch {
	case offenseCount <= 1:
		return BanFirst
	case offenseCount == 2:
		return BanSecond
	default:
		return BanThird
	}
}

// OffenseCount returns the user's current report counter, or zero when no
// counter exists (no reports recorded, or the window expired).
func (s *Store) OffenseCount(ctx context.Context, userID string) (int, error) {
	val, err := s.client.Get(ctx, ReportsPrefix+userID).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

// ReportAndCheck increments the user's report counter and applies an auto-ban
// once the counter reaches AutoBanThreshold inside the 24h window. The TTL is
// set only on the first increment so the window does not slide. It returns
// whether a ban was applied and for how long.
func (s *Store) ReportAndCheck(ctx context.Context, userID string) (bool, time.Duration, error) {
	key := ReportsPrefix + userID

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("ban: report incr: %w", err)
	}

	if count == 1 {
		if err := s.client.Expire(ctx, key, ReportsTTL).Err(); err != nil {
			return false, 0, fmt.Errorf("ban: report expire: %w", err)
		}
	}

	if count >= AutoBanThreshold {
		duration := escalationDuration(int(count) - AutoBanThreshold + 1)
		if err := s.Ban(ctx, userID, duration, "multiple_reports"); err != nil {
			return false, 0, fmt.Errorf("ban: report ban: %w", err)
		}
		return true, duration, nil
	}
	return false, 0, nil
}
