package conflict

import (
	"net"
	"testing"
	"time"
)

func TestProbeCacheVerdicts(t *testing.T) {
	cache := NewProbeCache(time.Hour)
	clear := net.IPv4(10, 0, 0, 50)
	conflicted := net.IPv4(10, 0, 0, 51)

	if cache.IsClear(clear) || cache.IsConflict(clear) {
		t.Error("unknown IP should have no verdict")
	}

	cache.MarkClear(clear)
	cache.MarkConflict(conflicted)

	if !cache.IsClear(clear) {
		t.Error("IP should be clear after MarkClear")
	}
	if cache.IsConflict(clear) {
		t.Error("IP should not be conflict after MarkClear")
	}
	if !cache.IsConflict(conflicted) {
		t.Error("IP should be conflict after MarkConflict")
	}
	if cache.IsClear(conflicted) {
		t.Error("IP should not be clear after MarkConflict")
	}
}

func TestProbeCacheTTLExpiry(t *testing.T) {
	cache := NewProbeCache(10 * time.Millisecond)
	clear := net.IPv4(10, 0, 0, 50)
	conflicted := net.IPv4(10, 0, 0, 51)

	cache.MarkClear(clear)
	cache.MarkConflict(conflicted)
	if !cache.IsClear(clear) {
		t.Error("IP should be clear immediately after MarkClear")
	}

	time.Sleep(20 * time.Millisecond)

	if cache.IsClear(clear) {
		t.Error("clear verdict should expire after TTL")
	}
	if cache.IsConflict(conflicted) {
		t.Error("conflict verdict should expire after TTL")
	}
}

func TestProbeCacheOverwrite(t *testing.T) {
	cache := NewProbeCache(time.Hour)
	ip := net.IPv4(10, 0, 0, 50)

	cache.MarkClear(ip)
	cache.MarkConflict(ip)

	if cache.IsClear(ip) {
		t.Error("should not be clear after overwrite with conflict")
	}
	if !cache.IsConflict(ip) {
		t.Error("should be conflict after overwrite")
	}

	cache.MarkClear(ip)
	if !cache.IsClear(ip) {
		t.Error("should be clear after overwrite back")
	}
}

func TestProbeCacheInvalidate(t *testing.T) {
	cache := NewProbeCache(time.Hour)
	ip := net.IPv4(10, 0, 0, 50)

	cache.MarkConflict(ip)
	cache.Invalidate(ip)

	if cache.IsConflict(ip) {
		t.Error("IP should have no verdict after Invalidate")
	}

	// Invalidating an absent IP is a no-op.
	cache.Invalidate(net.IPv4(10, 0, 0, 99))
}

func TestProbeCacheCleanup(t *testing.T) {
	cache := NewProbeCache(10 * time.Millisecond)

	cache.MarkClear(net.IPv4(10, 0, 0, 50))
	cache.MarkConflict(net.IPv4(10, 0, 0, 51))
	cache.MarkClear(net.IPv4(10, 0, 0, 52))

	time.Sleep(20 * time.Millisecond)
	cache.Cleanup()

	for _, last := range []byte{50, 51, 52} {
		ip := net.IPv4(10, 0, 0, last)
		if cache.IsClear(ip) || cache.IsConflict(ip) {
			t.Errorf("entry for %s should be cleaned up", ip)
		}
	}
}
