package assets

import (
	"context"
	"log/slog"
	"path"
	"strings"

	"github.com/media-registry/media-registry/internal/storage"
	"github.com/media-registry/media-registry/internal/telemetry"
)

// Mover renames an object to a new logical folder. The backend's rename verb
// demands a concrete resource type, so candidates are tried in confidence
// order: the caller's explicit type, the resolver's answer, the cache entry,
// and finally the metrics-ranked full domain. A rename is not transactional;
// a caller that fails a later step issues a compensating move itself.
type Mover struct {
	backend  storage.Backend
	cache    Cache
	metrics  *SuccessMetrics
	resolver *Resolver
	log      *slog.Logger
}

// MoveResult is the confirmed identity of a moved object.
type MoveResult struct {
	NewID string
	Type  storage.ResourceType
}

// NewMover builds a mover over the given backend.
func NewMover(backend storage.Backend, cache Cache, metrics *SuccessMetrics, resolver *Resolver) *Mover {
	return &Mover{
		backend:  backend,
		cache:    cache,
		metrics:  metrics,
		resolver: resolver,
		log:      slog.Default().With("component", "mover"),
	}
}

// newID computes the destination id: the trailing filename segment of
// currentID under the normalized folder. An empty folder means the root.
func newID(currentID, folder string) string {
	name := path.Base(currentID)
	folder = strings.Trim(folder, "/")
	if folder == "" {
		return name
	}
	return folder + "/" + name
}

// Move renames currentID into newFolder. An explicit concrete type is tried
// first; "auto" is rejected as a usage error since the rename verb cannot
// accept it. Success writes both the old and new id into the cache so either
// spelling resolves without another probe.
func (m *Mover) Move(ctx context.Context, currentID, newFolder string, explicit storage.ResourceType) (*MoveResult, error) {
	if explicit != storage.TypeUnknown && !explicit.IsConcrete() {
		return nil, &UsageError{Reason: "explicit resource type must be image, video, or raw"}
	}

	toID := newID(currentID, newFolder)

	candidates, err := m.candidates(ctx, currentID, explicit)
	if err != nil {
		return nil, err
	}

	var lastCause error
	for _, rt := range candidates {
		info, err := m.backend.Rename(ctx, currentID, toID, rt, true)
		if err == nil {
			confirmed := rt
			if info != nil && info.Type.IsConcrete() {
				confirmed = info.Type
			}
			m.cache.Put(ctx, currentID, confirmed)
			m.cache.Put(ctx, toID, confirmed)
			m.metrics.Increment(confirmed)
			telemetry.MovesTotal.WithLabelValues(string(confirmed), "ok").Inc()
			return &MoveResult{NewID: toID, Type: confirmed}, nil
		}
		if storage.IsNetwork(err) {
			return nil, err
		}
		m.log.Debug("rename attempt failed, trying next candidate",
			"from", currentID, "to", toID, "type", rt, "error", err)
		lastCause = err
	}

	telemetry.MovesTotal.WithLabelValues("", "failed").Inc()
	return nil, &MoveError{FromID: currentID, ToID: toID, LastCause: lastCause}
}

// candidates assembles the deduplicated type attempt order.
func (m *Mover) candidates(ctx context.Context, currentID string, explicit storage.ResourceType) ([]storage.ResourceType, error) {
	var order []storage.ResourceType
	seen := make(map[storage.ResourceType]bool, 3)
	add := func(rt storage.ResourceType) {
		if rt.IsConcrete() && !seen[rt] {
			seen[rt] = true
			order = append(order, rt)
		}
	}

	add(explicit)

	if len(order) == 0 {
		resolved, ok, err := m.resolver.Resolve(ctx, currentID)
		if err != nil {
			return nil, err
		}
		if ok {
			add(resolved)
		}
	}

	if cached, ok := m.cache.Get(ctx, currentID); ok {
		add(cached)
	}
	for _, rt := range m.metrics.Ordered() {
		add(rt)
	}
	return order, nil
}
