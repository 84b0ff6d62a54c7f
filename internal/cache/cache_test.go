package cache

import (
	"testing"
	"time"
)

func TestSetGet(t *testing.T) {
	c := New()
	c.Set("threads_false_", []string{"a", "b"}, time.Minute)

	v, ok := c.Get("threads_false_")
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	list, ok := v.([]string)
	if !ok || len(list) != 2 {
		t.Errorf("value = %v, want [a b]", v)
	}
}

func TestGetMissing(t *testing.T) {
	c := New()
	if _, ok := c.Get("nope"); ok {
		t.Error("Get() on missing key ok = true, want false")
	}
}

func TestExpiry(t *testing.T) {
	c := New()
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Set("k", "v", time.Minute)

	now = now.Add(61 * time.Second)
	if _, ok := c.Get("k"); ok {
		t.Error("Get() after TTL elapsed ok = true, want false")
	}
	// Expired read also removes the entry.
	if c.Len() != 0 {
		t.Errorf("Len() = %d after expired read, want 0", c.Len())
	}
}

func TestSetSweepsExpired(t *testing.T) {
	c := New()
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Set("old", 1, time.Second)
	now = now.Add(2 * time.Second)
	c.Set("fresh", 2, time.Minute)

	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1 (expired entry swept on write)", c.Len())
	}
	if _, ok := c.Get("fresh"); !ok {
		t.Error("fresh entry missing after sweep")
	}
}

func TestOverwrite(t *testing.T) {
	c := New()
	c.Set("k", "v1", time.Minute)
	c.Set("k", "v2", time.Minute)

	v, _ := c.Get("k")
	if v != "v2" {
		t.Errorf("value = %v, want v2 (last writer wins)", v)
	}
}
