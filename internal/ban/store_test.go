package ban

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestStore connects to a local Redis and clears test keys. Tests using it
// skip when Redis is unreachable.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}

	cleanup := func() {
		for _, pattern := range []string{BanPrefix + "test_*", ReportsPrefix + "test_*"} {
			iter := client.Scan(ctx, 0, pattern, 100).Iterator()
			for iter.Next(ctx) {
				client.Del(ctx, iter.Val())
			}
		}
	}
	cleanup()
	t.Cleanup(func() {
		cleanup()
		client.Close()
	})
	return NewStore(client)
}

func TestIsBanned_NotBanned(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	banned, remaining, reason, err := store.IsBanned(ctx, "test_clean_user")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if banned {
		t.Errorf("expected not banned, got banned (remaining=%d reason=%q)", remaining, reason)
	}
}

func TestBanAndCheck(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	userID := "test_ban_check"

	if err := store.Ban(ctx, userID, 30*time.Second, "spam"); err != nil {
		t.Fatalf("Ban() error: %v", err)
	}

	banned, remaining, reason, err := store.IsBanned(ctx, userID)
	if err != nil {
		t.Fatalf("IsBanned() error: %v", err)
	}
	if !banned {
		t.Fatal("expected banned=true")
	}
	if reason != "spam" {
		t.Errorf("reason = %q, want %q", reason, "spam")
	}
	if remaining <= 0 || remaining > 30 {
		t.Errorf("remaining = %d, want in (0,30]", remaining)
	}
}

func TestUnban(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	userID := "test_unban"

	if err := store.Ban(ctx, userID, time.Minute, "explicit"); err != nil {
		t.Fatalf("Ban() error: %v", err)
	}
	if err := store.Unban(ctx, userID); err != nil {
		t.Fatalf("Unban() error: %v", err)
	}

	banned, _, _, err := store.IsBanned(ctx, userID)
	if err != nil {
		t.Fatalf("IsBanned() error: %v", err)
	}
	if banned {
		t.Error("user still banned after Unban")
	}
}

func TestReportAndCheck_ThresholdBan(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	userID := "test_threshold"

	// Two reports stay below the threshold.
	for i := 0; i < AutoBanThreshold-1; i++ {
		banned, _, err := store.ReportAndCheck(ctx, userID)
		if err != nil {
			t.Fatalf("ReportAndCheck() error: %v", err)
		}
		if banned {
			t.Fatalf("banned after %d reports, threshold is %d", i+1, AutoBanThreshold)
		}
	}

	// The third report trips the auto-ban with the first-offense duration.
	banned, duration, err := store.ReportAndCheck(ctx, userID)
	if err != nil {
		t.Fatalf("ReportAndCheck() error: %v", err)
	}
	if !banned {
		t.Fatal("expected auto-ban at threshold")
	}
	if duration != BanFirst {
		t.Errorf("duration = %v, want %v", duration, BanFirst)
	}

	isBanned, _, reason, err := store.IsBanned(ctx, userID)
	if err != nil {
		t.Fatalf("IsBanned() error: %v", err)
	}
	if !isBanned || reason != "multiple_reports" {
		t.Errorf("IsBanned = (%v, %q), want (true, multiple_reports)", isBanned, reason)
	}
}

func TestOffenseCount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	userID := "test_offense_count"

	count, err := store.OffenseCount(ctx, userID)
	if err != nil {
		t.Fatalf("OffenseCount() error: %v", err)
	}
	if count != 0 {
		t.Errorf("fresh counter = %d, want 0", count)
	}

	if _, _, err := store.ReportAndCheck(ctx, userID); err != nil {
		t.Fatalf("ReportAndCheck() error: %v", err)
	}
	count, err = store.OffenseCount(ctx, userID)
	if err != nil {
		t.Fatalf("OffenseCount() error: %v", err)
	}
	if count != 1 {
		t.Errorf("counter = %d after one report, want 1", count)
	}
}
