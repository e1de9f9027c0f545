package ferrodb

import "testing"

func TestQueryCacheHitAndMiss(t *testing.T) {
	q := newQueryCache(4)
	if _, ok := q.get("SELECT 1", 0); ok {
		t.Fatalf("expected a miss on an empty cache")
	}

	plan := &cachedPlan{cookie: 1}
	q.put("SELECT 1", plan)

	got, ok := q.get("SELECT 1", 1)
	if !ok || got != plan {
		t.Fatalf("expected a hit with the matching cookie")
	}
}

func TestQueryCacheStaleCookieEvicts(t *testing.T) {
	q := newQueryCache(4)
	q.put("SELECT 1", &cachedPlan{cookie: 1})

	if _, ok := q.get("SELECT 1", 2); ok {
		t.Fatalf("expected a stale cookie to miss")
	}
	if _, ok := q.get("SELECT 1", 2); ok {
		t.Fatalf("expected the stale entry to have been evicted")
	}
}

func TestQueryCacheDefaultSize(t *testing.T) {
	q := newQueryCache(0)
	if q.c.Len() != 0 {
		t.Fatalf("expected a fresh cache to be empty")
	}
}
