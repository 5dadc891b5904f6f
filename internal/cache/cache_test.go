package cache

import (
	"testing"
	"time"
)

func TestDisabledWhenTTLNonPositive(t *testing.T) {
	for _, ttl := range []time.Duration{0, -1 * time.Second} {
		c := New(ttl)
		if c.Enabled() {
			t.Fatalf("ttl %v: expected disabled", ttl)
		}
		c.Store("ref", "v")
		if _, ok := c.Lookup("ref"); ok {
			t.Fatalf("ttl %v: expected store to be a no-op", ttl)
		}
	}
}

func TestStoreThenLookupHits(t *testing.T) {
	c := New(time.Minute)
	c.Store("op://sec/stripe/key", "sk_live_123")

	v, ok := c.Lookup("op://sec/stripe/key")
	if !ok || v != "sk_live_123" {
		t.Fatalf("got (%q, %v), want (\"sk_live_123\", true)", v, ok)
	}
	if c.Size() != 1 {
		t.Fatalf("expected size 1, got %d", c.Size())
	}
}

func TestLookupEvictsExpiredEntry(t *testing.T) {
	c := New(time.Millisecond)
	c.Store("ref", "v")
	time.Sleep(5 * time.Millisecond)

	if _, ok := c.Lookup("ref"); ok {
		t.Fatal("expected expired entry to miss")
	}
	if c.Size() != 0 {
		t.Fatalf("expected eviction to remove the entry, size=%d", c.Size())
	}
}

func TestLookupMissUnknownReference(t *testing.T) {
	c := New(time.Minute)
	if _, ok := c.Lookup("unknown"); ok {
		t.Fatal("expected miss")
	}
}
