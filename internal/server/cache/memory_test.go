package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/achertok/contacthub/internal/common"
)

func TestMemory_SetGetDelete(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	ctx := context.Background()

	if err := m.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("Set error: %v", err)
	}

	got, err := m.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got != "v" {
		t.Fatalf("Get: got %q want %q", got, "v")
	}

	if err := m.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if _, err := m.Get(ctx, "k"); !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("expected ErrorNotFound after delete, got %v", err)
	}
}

func TestMemory_ExpiryIsLazy(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	ctx := context.Background()

	now := time.Now()
	m.Clock = func() time.Time { return now }

	if err := m.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("Set error: %v", err)
	}

	now = now.Add(59 * time.Second)
	if _, err := m.Get(ctx, "k"); err != nil {
		t.Fatalf("expected live entry, got %v", err)
	}

	now = now.Add(2 * time.Second)
	if _, err := m.Get(ctx, "k"); !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("expected ErrorNotFound past TTL, got %v", err)
	}
}

func TestMemory_IncrCreatesWithTTL(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	ctx := context.Background()

	now := time.Now()
	m.Clock = func() time.Time { return now }

	for want := int64(1); want <= 3; want++ {
		n, err := m.Incr(ctx, "cnt", time.Minute)
		if err != nil {
			t.Fatalf("Incr error: %v", err)
		}
		if n != want {
			t.Fatalf("Incr: got %d want %d", n, want)
		}
	}

	ttl, err := m.TTL(ctx, "cnt")
	if err != nil {
		t.Fatalf("TTL error: %v", err)
	}
	if ttl != time.Minute {
		t.Fatalf("TTL: got %v want %v", ttl, time.Minute)
	}

	// The counter window is fixed at creation: expiry clears the count.
	now = now.Add(time.Minute + time.Second)
	n, err := m.Incr(ctx, "cnt", time.Minute)
	if err != nil {
		t.Fatalf("Incr error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected fresh counter after window elapsed, got %d", n)
	}
}
