package assets

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/media-registry/media-registry/internal/storage"
	"github.com/media-registry/media-registry/internal/storage/storagetest"
)

func newTestResolver(fake *storagetest.Fake) (*Resolver, *MemoryCache, *SuccessMetrics) {
	cache := NewMemoryCache(5 * time.Minute)
	metrics := NewSuccessMetrics()
	return NewResolver(fake, cache, metrics), cache, metrics
}

// ---------------------------------------------------------------------------
// Cache interaction
// ---------------------------------------------------------------------------

func TestResolve_CacheHitSkipsBackend(t *testing.T) {
	fake := storagetest.New()
	r, cache, _ := newTestResolver(fake)
	ctx := context.Background()

	cache.Put(ctx, "abc", storage.TypeVideo)

	rt, ok, err := r.Resolve(ctx, "abc")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !ok || rt != storage.TypeVideo {
		t.Errorf("Resolve() = (%q, %v), want (video, true)", rt, ok)
	}
	if n := fake.CallCount("lookup"); n != 0 {
		t.Errorf("backend lookups = %d, want 0 on a cache hit", n)
	}
}

func TestResolve_ColdThenCached(t *testing.T) {
	fake := storagetest.New()
	r, _, _ := newTestResolver(fake)
	ctx := context.Background()

	fake.SetLookup(storagetest.Key{ID: "abc", Type: storage.TypeRaw, Authenticated: true},
		&storage.AssetInfo{ID: "abc", Type: storage.TypeRaw}, nil)

	// Cold resolve probes image and video (both modes) before raw answers
	// in authenticated mode: 5 lookups total.
	rt, ok, err := r.Resolve(ctx, "abc")
	if err != nil || !ok || rt != storage.TypeRaw {
		t.Fatalf("cold Resolve() = (%q, %v, %v), want (raw, true, nil)", rt, ok, err)
	}
	if n := fake.CallCount("lookup"); n != 5 {
		t.Errorf("cold resolve lookups = %d, want 5", n)
	}

	// Second resolve answers from the cache without touching the backend.
	fake.Reset()
	rt, ok, err = r.Resolve(ctx, "abc")
	if err != nil || !ok || rt != storage.TypeRaw {
		t.Fatalf("cached Resolve() = (%q, %v, %v), want (raw, true, nil)", rt, ok, err)
	}
	if n := fake.CallCount("lookup"); n != 0 {
		t.Errorf("cached resolve lookups = %d, want 0", n)
	}
}

// ---------------------------------------------------------------------------
// Probe order and fallback
// ---------------------------------------------------------------------------

func TestResolve_ExhaustiveProbeOrder(t *testing.T) {
	fake := storagetest.New()
	r, _, _ := newTestResolver(fake)
	ctx := context.Background()

	rt, ok, err := r.Resolve(ctx, "ghost")
	if err != nil {
		t.Fatalf("Resolve() error = %v, exhaustion is not an error", err)
	}
	if ok || rt != storage.TypeUnknown {
		t.Errorf("Resolve() = (%q, %v), want (unknown, false)", rt, ok)
	}

	// Every type is probed authenticated first, then without the qualifier.
	calls := fake.Calls()
	if len(calls) != 6 {
		t.Fatalf("recorded %d lookups, want 6", len(calls))
	}
	wantOrder := []struct {
		rt   storage.ResourceType
		auth bool
	}{
		{storage.TypeImage, true}, {storage.TypeImage, false},
		{storage.TypeVideo, true}, {storage.TypeVideo, false},
		{storage.TypeRaw, true}, {storage.TypeRaw, false},
	}
	for i, want := range wantOrder {
		if calls[i].Type != want.rt || calls[i].Authenticated != want.auth {
			t.Errorf("lookup[%d] = (%q, auth=%v), want (%q, auth=%v)",
				i, calls[i].Type, calls[i].Authenticated, want.rt, want.auth)
		}
	}
}

func TestResolve_UnauthenticatedRetryFindsObject(t *testing.T) {
	fake := storagetest.New()
	r, cache, metrics := newTestResolver(fake)
	ctx := context.Background()

	// Indexed without the access qualifier; only the retry sees it.
	fake.SetLookup(storagetest.Key{ID: "abc", Type: storage.TypeVideo, Authenticated: false},
		&storage.AssetInfo{ID: "abc", Type: storage.TypeVideo}, nil)

	rt, ok, err := r.Resolve(ctx, "abc")
	if err != nil || !ok || rt != storage.TypeVideo {
		t.Fatalf("Resolve() = (%q, %v, %v), want (video, true, nil)", rt, ok, err)
	}
	if n := fake.CallCount("lookup"); n != 4 {
		t.Errorf("lookups = %d, want 4 (image both modes, video both modes)", n)
	}

	// Success writes through to the cache and the ranking.
	if cached, ok := cache.Get(ctx, "abc"); !ok || cached != storage.TypeVideo {
		t.Errorf("cache after resolve = (%q, %v), want (video, true)", cached, ok)
	}
	if metrics.Count(storage.TypeVideo) != 1 {
		t.Errorf("metrics count = %d, want 1", metrics.Count(storage.TypeVideo))
	}
}

func TestResolve_TransientErrorSkipsRetryAndContinues(t *testing.T) {
	fake := storagetest.New()
	r, _, _ := newTestResolver(fake)
	ctx := context.Background()

	// A non-not-found backend failure on image must not trigger the
	// unauthenticated image retry; the probe moves straight to video.
	fake.SetLookup(storagetest.Key{ID: "abc", Type: storage.TypeImage, Authenticated: true},
		nil, errors.New("backend returned 500"))
	fake.SetLookup(storagetest.Key{ID: "abc", Type: storage.TypeVideo, Authenticated: true},
		&storage.AssetInfo{ID: "abc", Type: storage.TypeVideo}, nil)

	rt, ok, err := r.Resolve(ctx, "abc")
	if err != nil || !ok || rt != storage.TypeVideo {
		t.Fatalf("Resolve() = (%q, %v, %v), want (video, true, nil)", rt, ok, err)
	}

	calls := fake.Calls()
	if len(calls) != 2 {
		t.Fatalf("recorded %d lookups, want 2", len(calls))
	}
	if calls[0].Type != storage.TypeImage || !calls[0].Authenticated {
		t.Errorf("lookup[0] = (%q, auth=%v), want (image, auth=true)", calls[0].Type, calls[0].Authenticated)
	}
	if calls[1].Type != storage.TypeVideo || !calls[1].Authenticated {
		t.Errorf("lookup[1] = (%q, auth=%v), want (video, auth=true)", calls[1].Type, calls[1].Authenticated)
	}
}

func TestResolve_AccessDeniedRetriesWithoutQualifier(t *testing.T) {
	fake := storagetest.New()
	r, _, _ := newTestResolver(fake)
	ctx := context.Background()

	// Access denied is not not-found: no unauthenticated retry for image.
	fake.SetLookup(storagetest.Key{ID: "abc", Type: storage.TypeImage, Authenticated: true},
		nil, storage.ErrAccessDenied)

	_, ok, err := r.Resolve(ctx, "abc")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if ok {
		t.Error("Resolve() confirmed a type with no positive lookup")
	}

	for _, c := range fake.Calls() {
		if c.Type == storage.TypeImage && !c.Authenticated {
			t.Error("access-denied answer must not trigger the unauthenticated retry")
		}
	}
}

// ---------------------------------------------------------------------------
// Network failures
// ---------------------------------------------------------------------------

func TestResolve_NetworkErrorAbortsImmediately(t *testing.T) {
	fake := storagetest.New()
	r, _, _ := newTestResolver(fake)
	ctx := context.Background()

	netErr := &storage.NetworkError{Op: "lookup", Err: errors.New("connection refused")}
	fake.SetLookup(storagetest.Key{ID: "abc", Type: storage.TypeImage, Authenticated: true},
		nil, netErr)

	_, ok, err := r.Resolve(ctx, "abc")
	if !storage.IsNetwork(err) {
		t.Fatalf("Resolve() error = %v, want a network error", err)
	}
	if ok {
		t.Error("Resolve() reported success alongside an error")
	}
	if n := fake.CallCount("lookup"); n != 1 {
		t.Errorf("lookups = %d, want 1 (no further probing once the host is unreachable)", n)
	}
}
