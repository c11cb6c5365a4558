package assets

import (
	"sort"
	"sync"

	"github.com/media-registry/media-registry/internal/storage"
)

// defaultProbeRanking is the tie-break ordering for equal success counts.
// Raw leads because the dominant workload is arbitrary binary uploads.
var defaultProbeRanking = []storage.ResourceType{
	storage.TypeRaw,
	storage.TypeImage,
	storage.TypeVideo,
}

// SuccessMetrics counts confirmed successful operations per resource type.
// The counts are a pure ranking heuristic for probe order, never a
// correctness precondition; they only increase and reset on process restart.
type SuccessMetrics struct {
	mu     sync.Mutex
	counts map[storage.ResourceType]uint64
}

// NewSuccessMetrics returns an empty metrics set.
func NewSuccessMetrics() *SuccessMetrics {
	return &SuccessMetrics{
		counts: make(map[storage.ResourceType]uint64, 3),
	}
}

// Increment records one confirmed success against rt. Non-concrete types are
// ignored since they can never be probed.
func (m *SuccessMetrics) Increment(rt storage.ResourceType) {
	if !rt.IsConcrete() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[rt]++
}

// Count returns the current success count for rt.
func (m *SuccessMetrics) Count(rt storage.ResourceType) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[rt]
}

// Ordered returns all three resource types sorted by descending success
// count, ties broken by the fixed default ranking. With no recorded successes
// this is exactly the default ranking.
func (m *SuccessMetrics) Ordered() []storage.ResourceType {
	m.mu.Lock()
	counts := make(map[storage.ResourceType]uint64, len(m.counts))
	for rt, n := range m.counts {
		counts[rt] = n
	}
	m.mu.Unlock()

	out := make([]storage.ResourceType, len(defaultProbeRanking))
	copy(out, defaultProbeRanking)

	// The default ranking is the secondary key; stable sort preserves it
	// among equal counts.
	sort.SliceStable(out, func(i, j int) bool {
		return counts[out[i]] > counts[out[j]]
	})
	return out
}
