package assets

import (
	"context"
	"log/slog"

	"github.com/media-registry/media-registry/internal/storage"
	"github.com/media-registry/media-registry/internal/telemetry"
)

// Resolver determines the resource type of an object id. A valid cache entry
// answers immediately; otherwise the backend admin-lookup verb is probed
// across the type domain, first in authenticated mode and, after a not-found
// answer, again without the access qualifier. The unauthenticated retry
// compensates for the backend occasionally indexing authenticated uploads
// without the qualifier.
type Resolver struct {
	backend storage.Backend
	cache   Cache
	metrics *SuccessMetrics
	log     *slog.Logger
}

// NewResolver builds a resolver over the given backend and cache.
func NewResolver(backend storage.Backend, cache Cache, metrics *SuccessMetrics) *Resolver {
	return &Resolver{
		backend: backend,
		cache:   cache,
		metrics: metrics,
		log:     slog.Default().With("component", "resolver"),
	}
}

// probeOutcome is the classified result of one admin-lookup attempt. Keeping
// the classification a value keeps the probe loop a plain loop instead of
// error-driven branching.
type probeOutcome int

const (
	probeFound probeOutcome = iota
	probeNotFound
	probeError
)

// Resolve returns the object's resource type. The boolean is false when the
// whole domain was probed without a confirmation; that is not an error, the
// caller applies its own fallback. The error is non-nil only for network
// failures, which no amount of further probing can fix.
func (r *Resolver) Resolve(ctx context.Context, id string) (storage.ResourceType, bool, error) {
	if rt, ok := cachedLookup(ctx, r.cache, id); ok {
		return rt, true, nil
	}

	for _, rt := range storage.Types() {
		confirmed, outcome, err := r.probe(ctx, id, rt, true)
		if err != nil {
			return storage.TypeUnknown, false, err
		}
		if outcome == probeNotFound {
			// Retry this type without the access qualifier before moving on.
			confirmed, outcome, err = r.probe(ctx, id, rt, false)
			if err != nil {
				return storage.TypeUnknown, false, err
			}
		}
		if outcome == probeFound {
			r.cache.Put(ctx, id, confirmed)
			r.metrics.Increment(confirmed)
			return confirmed, true, nil
		}
	}
	return storage.TypeUnknown, false, nil
}

// probe performs a single admin-lookup attempt. Network failures come back as
// the error; every other failure is folded into the outcome so the caller's
// loop continues.
func (r *Resolver) probe(ctx context.Context, id string, rt storage.ResourceType, authenticated bool) (storage.ResourceType, probeOutcome, error) {
	info, err := r.backend.AdminLookup(ctx, id, rt, authenticated)
	switch {
	case err == nil:
		if !info.Type.IsConcrete() {
			// A lookup that answers without a concrete type confirms nothing.
			telemetry.TypeProbesTotal.WithLabelValues(string(rt), "miss").Inc()
			return storage.TypeUnknown, probeNotFound, nil
		}
		telemetry.TypeProbesTotal.WithLabelValues(string(rt), "hit").Inc()
		return info.Type, probeFound, nil

	case storage.IsNetwork(err):
		return storage.TypeUnknown, probeError, err

	case storage.IsNotFound(err):
		telemetry.TypeProbesTotal.WithLabelValues(string(rt), "miss").Inc()
		return storage.TypeUnknown, probeNotFound, nil

	default:
		// Transient backend errors never abort the probe loop; the next type
		// may still answer.
		telemetry.TypeProbesTotal.WithLabelValues(string(rt), "error").Inc()
		r.log.Debug("type probe failed, trying next type",
			"id", id, "type", rt, "authenticated", authenticated, "error", err)
		return storage.TypeUnknown, probeError, nil
	}
}
