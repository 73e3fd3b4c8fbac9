package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestCacheSetPeekDelete(t *testing.T) {
	c := New(Options{TTL: 50 * time.Millisecond, MaxEntries: 10}, MetricsHooks{})

	c.Set("alpha", "value", 50*time.Millisecond)
	if val, ok := c.Peek("alpha"); !ok || val.(string) != "value" {
		t.Fatalf("expected peeked value")
	}

	c.Delete("alpha")
	if _, ok := c.Peek("alpha"); ok {
		t.Fatalf("expected key to be deleted")
	}
}

func TestCacheGetHitThenExpiry(t *testing.T) {
	c := New(Options{TTL: 20 * time.Millisecond, MaxEntries: 10}, MetricsHooks{})

	var mu sync.Mutex
	callCount := 0
	loader := func(_ context.Context, _ string) (interface{}, bool, error) {
		mu.Lock()
		defer mu.Unlock()
		callCount++
		return callCount, true, nil
	}

	val, ok, err := c.Get(context.Background(), "alpha", loader)
	if err != nil || !ok || val.(int) != 1 {
		t.Fatalf("expected first load, got %v %v %v", val, ok, err)
	}

	val, ok, err = c.Get(context.Background(), "alpha", loader)
	if err != nil || !ok || val.(int) != 1 {
		t.Fatalf("expected cache hit, got %v %v %v", val, ok, err)
	}

	time.Sleep(25 * time.Millisecond)
	val, ok, err = c.Get(context.Background(), "alpha", loader)
	if err != nil || !ok || val.(int) != 2 {
		t.Fatalf("expected reload after expiry, got %v %v %v", val, ok, err)
	}
}

func TestCacheDoesNotCacheErrors(t *testing.T) {
	c := New(Options{TTL: time.Minute, MaxEntries: 10}, MetricsHooks{})

	var mu sync.Mutex
	callCount := 0
	errBoom := errors.New("boom")
	loader := func(_ context.Context, _ string) (interface{}, bool, error) {
		mu.Lock()
		defer mu.Unlock()
		callCount++
		return nil, false, errBoom
	}

	if _, ok, err := c.Get(context.Background(), "neg", loader); ok || !errors.Is(err, errBoom) {
		t.Fatalf("expected loader error")
	}
	if _, ok, err := c.Get(context.Background(), "neg", loader); ok || !errors.Is(err, errBoom) {
		t.Fatalf("expected loader error on retry")
	}

	mu.Lock()
	defer mu.Unlock()
	if callCount != 2 {
		t.Fatalf("expected loader to run each time, got %d calls", callCount)
	}
}

func TestCacheMissingValueNotCached(t *testing.T) {
	c := New(Options{TTL: time.Minute, MaxEntries: 10}, MetricsHooks{})

	loader := func(_ context.Context, _ string) (interface{}, bool, error) {
		return nil, false, nil
	}

	if _, ok, err := c.Get(context.Background(), "absent", loader); ok || err != nil {
		t.Fatalf("expected ok=false without error")
	}
	if _, ok := c.Peek("absent"); ok {
		t.Fatalf("expected missing value not to be cached")
	}
}

func TestCacheEviction(t *testing.T) {
	c := New(Options{TTL: time.Minute, MaxEntries: 2}, MetricsHooks{})

	c.Set("first", "one", time.Minute)
	c.Set("second", "two", time.Minute)
	c.Set("third", "three", time.Minute)

	if _, ok := c.Peek("first"); ok {
		t.Fatalf("expected first entry to be evicted")
	}
	if _, ok := c.Peek("second"); !ok {
		t.Fatalf("expected second entry to remain")
	}
	if _, ok := c.Peek("third"); !ok {
		t.Fatalf("expected third entry to remain")
	}
}

func TestCacheHooksFire(t *testing.T) {
	var hits, misses int
	c := New(Options{TTL: time.Minute, MaxEntries: 10}, MetricsHooks{
		OnHit:  func(string) { hits++ },
		OnMiss: func(string) { misses++ },
	})

	loader := func(_ context.Context, _ string) (interface{}, bool, error) {
		return "v", true, nil
	}
	_, _, _ = c.Get(context.Background(), "k", loader)
	_, _, _ = c.Get(context.Background(), "k", loader)

	if misses != 1 || hits != 1 {
		t.Fatalf("expected 1 miss and 1 hit, got %d/%d", misses, hits)
	}
}
