package assets

import (
	"sync"
	"testing"

	"github.com/media-registry/media-registry/internal/storage"
)

func typesEqual(a, b []storage.ResourceType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSuccessMetrics_DefaultOrdering(t *testing.T) {
	m := NewSuccessMetrics()

	got := m.Ordered()
	want := []storage.ResourceType{storage.TypeRaw, storage.TypeImage, storage.TypeVideo}
	if !typesEqual(got, want) {
		t.Errorf("Ordered() with no history = %v, want %v", got, want)
	}
}

func TestSuccessMetrics_ReordersByCount(t *testing.T) {
	m := NewSuccessMetrics()

	m.Increment(storage.TypeVideo)
	m.Increment(storage.TypeVideo)
	m.Increment(storage.TypeImage)

	got := m.Ordered()
	want := []storage.ResourceType{storage.TypeVideo, storage.TypeImage, storage.TypeRaw}
	if !typesEqual(got, want) {
		t.Errorf("Ordered() = %v, want %v", got, want)
	}
}

func TestSuccessMetrics_TieBreakIsStable(t *testing.T) {
	m := NewSuccessMetrics()

	// Image and video tie; raw stays ahead of both by count, and the tied
	// pair keeps the default relative order (image before video).
	m.Increment(storage.TypeRaw)
	m.Increment(storage.TypeRaw)
	m.Increment(storage.TypeImage)
	m.Increment(storage.TypeVideo)

	got := m.Ordered()
	want := []storage.ResourceType{storage.TypeRaw, storage.TypeImage, storage.TypeVideo}
	if !typesEqual(got, want) {
		t.Errorf("Ordered() = %v, want %v", got, want)
	}
}

func TestSuccessMetrics_IgnoresNonConcrete(t *testing.T) {
	m := NewSuccessMetrics()

	m.Increment(storage.TypeUnknown)
	m.Increment(storage.ResourceType("auto"))

	if n := m.Count(storage.TypeUnknown); n != 0 {
		t.Errorf("Count(unknown) = %d, want 0", n)
	}
	got := m.Ordered()
	if len(got) != 3 {
		t.Fatalf("Ordered() returned %d types, want 3", len(got))
	}
}

func TestSuccessMetrics_ConcurrentIncrements(t *testing.T) {
	m := NewSuccessMetrics()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Increment(storage.TypeImage)
			}
		}()
	}
	wg.Wait()

	if n := m.Count(storage.TypeImage); n != 1000 {
		t.Errorf("Count(image) = %d, want 1000", n)
	}
}
