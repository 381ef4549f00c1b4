package verify

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestRedis connects to the local Redis on DB 15 and flushes it. Tests are
// skipped when Redis is not available.
func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}

	client.FlushDB(context.Background())
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})
	return client
}

func TestStatusStoreWarningsAccumulate(t *testing.T) {
	store := NewStatusStore(newTestRedis(t))
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		got, err := store.RecordFailure(ctx, "s-1", "anon-a")
		if err != nil {
			t.Fatalf("record failure: %v", err)
		}
		if got != want {
			t.Errorf("expected warning count %d, got %d", want, got)
		}
	}

	warnings, err := store.Warnings(ctx, "s-1", "anon-a")
	if err != nil || warnings != 3 {
		t.Errorf("expected 3 warnings, got %d (err=%v)", warnings, err)
	}
}

func TestStatusStoreSuccessResetsWarnings(t *testing.T) {
	store := NewStatusStore(newTestRedis(t))
	ctx := context.Background()

	if _, err := store.RecordFailure(ctx, "s-1", "anon-a"); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if _, err := store.RecordFailure(ctx, "s-1", "anon-a"); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if err := store.RecordSuccess(ctx, "s-1", "anon-a"); err != nil {
		t.Fatalf("record success: %v", err)
	}

	warnings, err := store.Warnings(ctx, "s-1", "anon-a")
	if err != nil || warnings != 0 {
		t.Errorf("expected warnings reset to 0, got %d (err=%v)", warnings, err)
	}

	// The next failure starts counting from scratch.
	got, _ := store.RecordFailure(ctx, "s-1", "anon-a")
	if got != 1 {
		t.Errorf("expected fresh count 1, got %d", got)
	}
}

func TestStatusStoreIsolatesParticipants(t *testing.T) {
	store := NewStatusStore(newTestRedis(t))
	ctx := context.Background()

	if _, err := store.RecordFailure(ctx, "s-1", "anon-a"); err != nil {
		t.Fatalf("record failure: %v", err)
	}

	warnings, _ := store.Warnings(ctx, "s-1", "anon-b")
	if warnings != 0 {
		t.Errorf("partner's warnings leaked: %d", warnings)
	}
	warnings, _ = store.Warnings(ctx, "s-2", "anon-a")
	if warnings != 0 {
		t.Errorf("other session's warnings leaked: %d", warnings)
	}
}

func TestStatusStoreLastChecked(t *testing.T) {
	store := NewStatusStore(newTestRedis(t))
	ctx := context.Background()

	ts, err := store.LastChecked(ctx, "s-1", "anon-a")
	if err != nil || ts != 0 {
		t.Errorf("expected 0 before any check, got %d (err=%v)", ts, err)
	}

	if err := store.RecordSuccess(ctx, "s-1", "anon-a"); err != nil {
		t.Fatalf("record success: %v", err)
	}
	ts, err = store.LastChecked(ctx, "s-1", "anon-a")
	if err != nil || ts == 0 {
		t.Errorf("expected a timestamp after a check, got %d (err=%v)", ts, err)
	}
}
