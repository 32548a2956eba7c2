package cache

import (
	"testing"
	"time"

	"github.com/kamdental/dental-sync/internal/domain"
)

var testKey = domain.MappingKey{
	System:     "hygienist_sync",
	ExternalID: "KAMDENTAL_BAYTOWN",
	EntityType: domain.EntityClinic,
}

// withClock pins the cache clock to a controllable instant.
func withClock(c *Cache) *time.Time {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	return &now
}

func TestGet_MissOnEmpty(t *testing.T) {
	c := New(4*time.Hour, 5*time.Minute)
	if _, res := c.Get(testKey); res != Miss {
		t.Fatalf("res = %v; want Miss", res)
	}
	st := c.Stats()
	if st.Misses != 1 || st.Hits != 0 {
		t.Fatalf("stats = %+v; want 1 miss", st)
	}
}

func TestPutGet_PositiveHit(t *testing.T) {
	c := New(4*time.Hour, 5*time.Minute)
	c.Put(testKey, "clinic-77")

	id, res := c.Get(testKey)
	if res != Hit || id != "clinic-77" {
		t.Fatalf("got (%q, %v); want (clinic-77, Hit)", id, res)
	}
	st := c.Stats()
	if st.Hits != 1 || st.Size != 1 {
		t.Fatalf("stats = %+v; want 1 hit, size 1", st)
	}
}

func TestPositiveEntry_ExpiresAfterTTL(t *testing.T) {
	c := New(4*time.Hour, 5*time.Minute)
	now := withClock(c)

	c.Put(testKey, "clinic-77")
	*now = now.Add(4*time.Hour + time.Second)

	if _, res := c.Get(testKey); res != Miss {
		t.Fatalf("res = %v; want Miss after TTL expiry", res)
	}
}

func TestNegativeEntry_ShorterTTL(t *testing.T) {
	c := New(4*time.Hour, 5*time.Minute)
	now := withClock(c)

	c.PutNegative(testKey)

	// Within the negative window: served as a known unresolved result.
	if _, res := c.Get(testKey); res != NegativeHit {
		t.Fatalf("res = %v; want NegativeHit inside negative TTL", res)
	}

	// A mapping registered during the window is found after expiry without
	// any process restart.
	*now = now.Add(5*time.Minute + time.Second)
	if _, res := c.Get(testKey); res != Miss {
		t.Fatalf("res = %v; want Miss after negative TTL expiry", res)
	}
	c.Put(testKey, "clinic-77")
	if id, res := c.Get(testKey); res != Hit || id != "clinic-77" {
		t.Fatalf("got (%q, %v); want fresh positive hit", id, res)
	}
}

func TestPut_OverwritesNegative(t *testing.T) {
	c := New(4*time.Hour, 5*time.Minute)
	c.PutNegative(testKey)
	c.Put(testKey, "clinic-77")

	if id, res := c.Get(testKey); res != Hit || id != "clinic-77" {
		t.Fatalf("got (%q, %v); want positive entry to win", id, res)
	}
}

func TestInvalidateAndClear(t *testing.T) {
	c := New(4*time.Hour, 5*time.Minute)
	other := domain.MappingKey{System: "hygienist_sync", ExternalID: "adriane_fontenot", EntityType: domain.EntityProvider}

	c.Put(testKey, "clinic-77")
	c.Put(other, "prov-42")

	c.Invalidate(testKey)
	if _, res := c.Get(testKey); res != Miss {
		t.Fatal("invalidated key still present")
	}
	if _, res := c.Get(other); res != Hit {
		t.Fatal("unrelated key was evicted")
	}

	c.Clear()
	if st := c.Stats(); st.Size != 0 {
		t.Fatalf("size = %d after Clear; want 0", st.Size)
	}
}

func TestStats_PrunesExpired(t *testing.T) {
	c := New(4*time.Hour, 5*time.Minute)
	now := withClock(c)

	c.Put(testKey, "clinic-77")
	c.PutNegative(domain.MappingKey{System: "s", ExternalID: "x", EntityType: domain.EntityProvider})

	*now = now.Add(6 * time.Minute) // negative expired, positive alive
	if st := c.Stats(); st.Size != 1 {
		t.Fatalf("size = %d; want 1 after pruning expired negative", st.Size)
	}
}
