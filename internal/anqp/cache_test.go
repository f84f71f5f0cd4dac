package anqp

import (
	"log/slog"
	"os"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// hessidNetwork keys by HESSID, so the key survives domain ID changes.
func hessidNetwork(domainID int) Network {
	return Network{
		SSID:     "corp-wifi",
		BSSID:    "aa:bb:cc:00:00:01",
		HESSID:   0x00c0ffee,
		DomainID: domainID,
	}
}

func realmElements(realm string) map[ElementType]Element {
	return map[ElementType]Element{
		ElementNAIRealm: &NAIRealmElement{Records: []RealmData{{Realms: []string{realm}}}},
	}
}

func cachedRealm(t *testing.T, e *Entry) string {
	t.Helper()
	elem, ok := e.Elements[ElementNAIRealm].(*NAIRealmElement)
	if !ok || len(elem.Records) == 0 || len(elem.Records[0].Realms) == 0 {
		t.Fatal("cached entry has no realm element")
	}
	return elem.Records[0].Realms[0]
}

func TestCacheInitiateOnlyFirst(t *testing.T) {
	c := NewCache(testLogger())
	n := hessidNetwork(5)

	if !c.Initiate(n) {
		t.Fatal("first Initiate = false, want true")
	}
	if c.Initiate(n) {
		t.Error("second Initiate = true, want false while placeholder is fresh")
	}

	if !c.Update(n, realmElements("example.com")) {
		t.Fatal("Update = false, want true")
	}
	if c.Initiate(n) {
		t.Error("Initiate after resolved Update = true, want false")
	}
}

func TestCacheInitiateAfterDomainChange(t *testing.T) {
	c := NewCache(testLogger())

	c.Update(hessidNetwork(5), realmElements("example.com"))

	if !c.Initiate(hessidNetwork(7)) {
		t.Error("Initiate with changed domain ID = false, want true")
	}
}

func TestCacheInitiateAfterPlaceholderExpires(t *testing.T) {
	c := NewCache(testLogger())
	n := hessidNetwork(5)

	c.Initiate(n)

	// Age the placeholder past its grace period.
	c.mu.Lock()
	c.entries[n.Key()].ExpiresAt = time.Now().Add(-time.Second)
	c.mu.Unlock()

	if !c.Initiate(n) {
		t.Error("Initiate on expired placeholder = false, want true")
	}
}

func TestCacheInitiateAfterResolvedEntryExpires(t *testing.T) {
	c := NewCache(testLogger())
	n := hessidNetwork(5)

	c.Update(n, realmElements("example.com"))
	if c.Initiate(n) {
		t.Fatal("Initiate on fresh resolved entry = true, want false")
	}

	// Age the resolved entry past its lifetime but ahead of the sweep.
	// It already reads as a miss, so it must not hold the gate shut.
	c.mu.Lock()
	c.entries[n.Key()].ExpiresAt = time.Now().Add(-time.Second)
	c.mu.Unlock()

	if _, ok := c.Entry(n); ok {
		t.Fatal("Entry on expired entry = hit, want miss")
	}
	if !c.Initiate(n) {
		t.Error("Initiate on expired resolved entry = false, want true")
	}
}

func TestCacheEntryRoundTrip(t *testing.T) {
	c := NewCache(testLogger())
	n := hessidNetwork(5)

	c.Update(n, realmElements("example.com"))

	e, ok := c.Entry(n)
	if !ok {
		t.Fatal("Entry after Update = miss, want hit")
	}
	if got := cachedRealm(t, e); got != "example.com" {
		t.Errorf("cached realm = %q, want example.com", got)
	}
	if e.DomainID != 5 {
		t.Errorf("entry domain = %d, want 5", e.DomainID)
	}
}

func TestCacheEntryDetachedFromCache(t *testing.T) {
	c := NewCache(testLogger())
	n := hessidNetwork(5)

	c.Update(n, realmElements("example.com"))

	e, ok := c.Entry(n)
	if !ok {
		t.Fatal("Entry after Update = miss, want hit")
	}
	delete(e.Elements, ElementNAIRealm)

	e2, ok := c.Entry(n)
	if !ok {
		t.Fatal("Entry after caller mutation = miss, want hit")
	}
	if got := cachedRealm(t, e2); got != "example.com" {
		t.Errorf("cached realm = %q, want example.com (caller mutated its own copy)", got)
	}
}

func TestCacheUpdateReplacesOnDomainChange(t *testing.T) {
	c := NewCache(testLogger())

	c.Update(hessidNetwork(5), realmElements("old.example.com"))
	if !c.Update(hessidNetwork(7), realmElements("new.example.com")) {
		t.Fatal("Update with changed domain = false, want true")
	}

	e, ok := c.Entry(hessidNetwork(7))
	if !ok {
		t.Fatal("Entry for new domain = miss, want hit")
	}
	if got := cachedRealm(t, e); got != "new.example.com" {
		t.Errorf("cached realm = %q, want new.example.com", got)
	}

	// The old domain's view is gone.
	if _, ok := c.Entry(hessidNetwork(5)); ok {
		t.Error("Entry for old domain = hit, want miss")
	}
}

func TestCacheUpdateNoOpInsideRecacheWindow(t *testing.T) {
	c := NewCache(testLogger())
	n := hessidNetwork(5)

	c.Update(n, realmElements("first.example.com"))
	if c.Update(n, realmElements("second.example.com")) {
		t.Error("Update inside recache window = true, want false")
	}

	e, _ := c.Entry(n)
	if got := cachedRealm(t, e); got != "first.example.com" {
		t.Errorf("cached realm = %q, want first.example.com (no-op update)", got)
	}
}

func TestCacheUpdateAfterRecacheWindow(t *testing.T) {
	c := NewCache(testLogger())
	n := hessidNetwork(5)

	c.Update(n, realmElements("first.example.com"))

	c.mu.Lock()
	c.entries[n.Key()].RecacheableAt = time.Now().Add(-time.Second)
	c.mu.Unlock()

	if !c.Update(n, realmElements("second.example.com")) {
		t.Fatal("Update past recache window = false, want true")
	}
	e, _ := c.Entry(n)
	if got := cachedRealm(t, e); got != "second.example.com" {
		t.Errorf("cached realm = %q, want second.example.com", got)
	}
}

func TestCacheEntryMisses(t *testing.T) {
	c := NewCache(testLogger())
	n := hessidNetwork(5)

	if _, ok := c.Entry(n); ok {
		t.Error("Entry on empty cache = hit, want miss")
	}

	c.Initiate(n)
	if _, ok := c.Entry(n); ok {
		t.Error("Entry on unresolved placeholder = hit, want miss")
	}

	c.Update(n, realmElements("example.com"))
	if _, ok := c.Entry(hessidNetwork(9)); ok {
		t.Error("Entry with mismatched domain = hit, want miss")
	}

	c.mu.Lock()
	c.entries[n.Key()].ExpiresAt = time.Now().Add(-time.Second)
	c.mu.Unlock()
	if _, ok := c.Entry(n); ok {
		t.Error("Entry on expired entry = hit, want miss")
	}
}

func TestCacheLifetimes(t *testing.T) {
	c := NewCache(testLogger())

	qualified := hessidNetwork(5)
	c.Update(qualified, realmElements("example.com"))
	e, _ := c.Entry(qualified)
	if got := e.ExpiresAt.Sub(e.InsertedAt); got != lifetimeQualified {
		t.Errorf("qualified lifetime = %v, want %v", got, lifetimeQualified)
	}

	// Zero-domain networks key per AP and stay short-lived.
	zero := Network{SSID: "corp-wifi", BSSID: "aa:bb:cc:00:00:02", DomainID: 0}
	c.Update(zero, realmElements("example.com"))
	e, _ = c.Entry(zero)
	if got := e.ExpiresAt.Sub(e.InsertedAt); got != lifetimeUnqualified {
		t.Errorf("zero-domain lifetime = %v, want %v", got, lifetimeUnqualified)
	}
}

func TestCacheClear(t *testing.T) {
	c := NewCache(testLogger())
	n := hessidNetwork(5)

	c.Update(n, realmElements("example.com"))
	c.Clear()

	if _, ok := c.Entry(n); ok {
		t.Error("Entry after Clear = hit, want miss")
	}
	if c.Len() != 0 {
		t.Errorf("Len after Clear = %d, want 0", c.Len())
	}
}

func TestCacheSweep(t *testing.T) {
	c := NewCache(testLogger())

	resolved := hessidNetwork(5)
	c.Update(resolved, realmElements("example.com"))
	c.Initiate(hessidNetwork(0)) // placeholder, 15s grace

	if got := c.Sweep(time.Now()); got != 0 {
		t.Errorf("immediate Sweep removed %d entries, want 0", got)
	}

	// Past the placeholder grace but inside the qualified lifetime.
	if got := c.Sweep(time.Now().Add(time.Minute)); got != 1 {
		t.Errorf("Sweep(+1m) removed %d entries, want 1", got)
	}
	if _, ok := c.Entry(resolved); !ok {
		t.Error("resolved entry swept early")
	}

	// Past everything.
	if got := c.Sweep(time.Now().Add(2 * time.Hour)); got != 1 {
		t.Errorf("Sweep(+2h) removed %d entries, want 1", got)
	}
	if c.Len() != 0 {
		t.Errorf("Len after full sweep = %d, want 0", c.Len())
	}
}
