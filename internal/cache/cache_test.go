package cache

import (
	"testing"
	"time"
)

func TestTTL_SetGet(t *testing.T) {
	t.Parallel()

	c := NewTTL[string, int](time.Minute)
	defer c.Close()

	c.Set("a", 1)
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("got (%d,%v), expected (1,true)", v, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Fatal("expected miss for absent key")
	}
}

func TestTTL_Expiry(t *testing.T) {
	t.Parallel()

	c := NewTTL[string, int](20 * time.Millisecond)
	defer c.Close()

	c.Set("a", 1)
	time.Sleep(50 * time.Millisecond)
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected entry to expire")
	}
}

func TestTTL_Purge(t *testing.T) {
	t.Parallel()

	c := NewTTL[string, int](time.Minute)
	defer c.Close()

	c.Set("a", 1)
	c.Set("b", 2)
	c.Purge()
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected miss after purge")
	}
	if _, ok := c.Get("b"); ok {
		t.Fatal("expected miss after purge")
	}
}

func TestTTL_Delete(t *testing.T) {
	t.Parallel()

	c := NewTTL[string, int](time.Minute)
	defer c.Close()

	c.Set("a", 1)
	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected miss after delete")
	}
	c.Close() // double close is safe
}
