package cache

import (
	"sync"
	"testing"
	"time"
)

func TestTTLCache_FreshHit(t *testing.T) {
	c := NewTTLCache[string](30 * time.Second)
	c.Set("https://dial.to", "manifest")

	result := c.Get("https://dial.to")
	if !result.Hit || !result.Present {
		t.Fatal("expected present cache hit")
	}
	if result.NeedsRefresh {
		t.Fatal("expected fresh, got needs refresh")
	}
	if result.Value != "manifest" {
		t.Fatalf("expected manifest, got %s", result.Value)
	}
}

func TestTTLCache_Miss(t *testing.T) {
	c := NewTTLCache[string](30 * time.Second)
	result := c.Get("nope")
	if result.Hit || result.Present {
		t.Fatal("expected miss")
	}
}

func TestTTLCache_NegativeEntry(t *testing.T) {
	c := NewTTLCache[string](30 * time.Second)
	c.SetNegative("https://broken.example", time.Minute)

	result := c.Get("https://broken.example")
	if !result.Hit {
		t.Fatal("expected hit for negative entry")
	}
	if result.Present {
		t.Fatal("expected negative entry to carry no value")
	}
	if _, ok := c.GetFresh("https://broken.example"); ok {
		t.Fatal("GetFresh must ignore negative entries")
	}
}

func TestTTLCache_StaleHit_OnlyOneRefreshSignal(t *testing.T) {
	c := NewTTLCache[int](time.Minute)
	base := time.Now()
	c.now = func() time.Time { return base }
	c.Set("k", 1)
	c.now = func() time.Time { return base.Add(2 * time.Minute) }

	refreshCount := 0
	for i := 0; i < 10; i++ {
		result := c.Get("k")
		if !result.Hit || result.Value != 1 {
			t.Fatal("expected stale value to be served")
		}
		if result.NeedsRefresh {
			refreshCount++
		}
	}
	if refreshCount != 1 {
		t.Fatalf("expected exactly 1 refresh signal, got %d", refreshCount)
	}
	if _, ok := c.GetFresh("k"); ok {
		t.Fatal("expected GetFresh to reject stale entry")
	}
}

func TestTTLCache_SetAfterStale_ResetsFreshness(t *testing.T) {
	c := NewTTLCache[int](time.Minute)
	base := time.Now()
	c.now = func() time.Time { return base }
	c.Set("k", 1)
	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	c.Set("k", 2)

	result := c.Get("k")
	if result.NeedsRefresh {
		t.Fatal("expected fresh after re-set")
	}
	if result.Value != 2 {
		t.Fatalf("expected 2, got %d", result.Value)
	}
}

func TestTTLCache_ReleaseRefresh_AllowsRetry(t *testing.T) {
	c := NewTTLCache[int](time.Minute)
	base := time.Now()
	c.now = func() time.Time { return base }
	c.Set("k", 1)
	c.now = func() time.Time { return base.Add(2 * time.Minute) }

	if !c.Get("k").NeedsRefresh {
		t.Fatal("expected first stale hit to signal refresh")
	}
	c.ReleaseRefresh("k")

	result := c.Get("k")
	if !result.NeedsRefresh {
		t.Fatal("expected refresh signal again after release")
	}
	if !result.Present || result.Value != 1 {
		t.Fatalf("expected stale value kept, got %+v", result)
	}
}

func TestTTLCache_Delete(t *testing.T) {
	c := NewTTLCache[int](30 * time.Second)
	c.Set("k", 1)
	c.Delete("k")
	if c.Get("k").Hit {
		t.Fatal("expected miss after delete")
	}
}

func TestTTLCache_ConcurrentAccess(t *testing.T) {
	c := NewTTLCache[int](30 * time.Second)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Set("k", i)
			c.Get("k")
			c.Delete("k")
		}(i)
	}
	wg.Wait()
}
