package syncguard

import (
	"testing"
	"time"
)

func TestFingerprintIsStableAndScopedPerOperation(t *testing.T) {
	a := Fingerprint("tenant-1", "sync_users")
	b := Fingerprint("tenant-1", "sync_licenses")
	c := Fingerprint("tenant-2", "sync_users")

	if a == b {
		t.Fatalf("fingerprints for different operations on the same tenant must differ")
	}
	if a == c {
		t.Fatalf("fingerprints for different tenants must differ")
	}
	if Fingerprint("tenant-1", "sync_users") != a {
		t.Fatalf("fingerprint must be deterministic")
	}
}

func TestLimiterAllowsFirstAndThenThrottles(t *testing.T) {
	l := NewLimiter(time.Minute, 1)

	if !l.Allow("tenant-1:sync_users") {
		t.Fatalf("first call for a fresh key must be allowed")
	}
	if l.Allow("tenant-1:sync_users") {
		t.Fatalf("second call within the interval must be throttled")
	}
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	l := NewLimiter(time.Minute, 1)

	if !l.Allow("tenant-1:sync_users") {
		t.Fatalf("tenant-1 first call must be allowed")
	}
	if !l.Allow("tenant-2:sync_users") {
		t.Fatalf("tenant-2 is a distinct key and must not be throttled by tenant-1's usage")
	}
}
