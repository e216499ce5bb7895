package revocation

import (
	"context"
	"testing"
	"time"

	"github.com/achertok/contacthub/internal/server/auth"
	"github.com/achertok/contacthub/internal/server/cache"
)

func TestStore_RevokeNonce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore(cache.NewMemory())

	issued := time.Now()
	revoked, err := s.IsRevoked(ctx, "u1", auth.PurposeRefresh, "nonce-1", issued)
	if err != nil {
		t.Fatalf("IsRevoked error: %v", err)
	}
	if revoked {
		t.Fatalf("fresh nonce reported revoked")
	}

	if err := s.RevokeNonce(ctx, "nonce-1", time.Hour); err != nil {
		t.Fatalf("RevokeNonce error: %v", err)
	}

	revoked, err = s.IsRevoked(ctx, "u1", auth.PurposeRefresh, "nonce-1", issued)
	if err != nil {
		t.Fatalf("IsRevoked error: %v", err)
	}
	if !revoked {
		t.Fatalf("expected nonce revoked")
	}
}

func TestStore_RevokeNonce_ExpiredTokenIsNoop(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := cache.NewMemory()
	s := NewStore(mem)

	if err := s.RevokeNonce(ctx, "nonce-x", -time.Minute); err != nil {
		t.Fatalf("RevokeNonce error: %v", err)
	}
	if _, err := mem.Get(ctx, noncePrefix+"nonce-x"); err == nil {
		t.Fatalf("expected no entry for an already-expired token")
	}
}

func TestStore_EntryExpiresWithTTL(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := cache.NewMemory()
	now := time.Now()
	mem.Clock = func() time.Time { return now }
	s := NewStore(mem)

	if err := s.RevokeNonce(ctx, "nonce-2", time.Minute); err != nil {
		t.Fatalf("RevokeNonce error: %v", err)
	}

	now = now.Add(2 * time.Minute)
	revoked, err := s.IsRevoked(ctx, "u1", auth.PurposeRefresh, "nonce-2", now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("IsRevoked error: %v", err)
	}
	if revoked {
		t.Fatalf("entry should have expired with its TTL")
	}
}

func TestStore_SubjectBulkRevocation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore(cache.NewMemory())

	before := time.Now().Add(-time.Minute)

	if err := s.RevokeSubject(ctx, "u1", auth.PurposeRefresh, time.Hour); err != nil {
		t.Fatalf("RevokeSubject error: %v", err)
	}

	// Issued before the bulk entry: revoked.
	revoked, err := s.IsRevoked(ctx, "u1", auth.PurposeRefresh, "old-nonce", before)
	if err != nil {
		t.Fatalf("IsRevoked error: %v", err)
	}
	if !revoked {
		t.Fatalf("expected pre-revocation token revoked")
	}

	// Issued after the bulk entry: valid.
	after := time.Now().Add(time.Minute)
	revoked, err = s.IsRevoked(ctx, "u1", auth.PurposeRefresh, "new-nonce", after)
	if err != nil {
		t.Fatalf("IsRevoked error: %v", err)
	}
	if revoked {
		t.Fatalf("post-revocation token reported revoked")
	}

	// Other purposes and subjects are untouched.
	if revoked, _ := s.IsRevoked(ctx, "u1", auth.PurposeAccess, "n", before); revoked {
		t.Fatalf("access purpose unexpectedly revoked")
	}
	if revoked, _ := s.IsRevoked(ctx, "u2", auth.PurposeRefresh, "n", before); revoked {
		t.Fatalf("other subject unexpectedly revoked")
	}
}
