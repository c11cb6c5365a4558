// Package assets is the resource-type resolution and retrieval core of the
// media registry. The blob backend demands a concrete resource type for
// almost every verb but never reliably reports one, so this package
// determines, caches, and ranks probable types per object id, runs downloads
// on a bounded worker pool with a hard ceiling, builds signed URLs locally,
// and implements move with multi-candidate fallback and cache coherence.
//
// The Facade is the only entry point collaborators use; the resolver,
// download executor, URL generator, and mover behind it share one type cache
// and one success-metrics ranking.
package assets

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/media-registry/media-registry/internal/config"
	"github.com/media-registry/media-registry/internal/storage"
)

// UploadOptions controls a facade upload.
type UploadOptions struct {
	// Folder is the logical destination folder; empty means the root.
	Folder string
	// Authenticated stores the asset behind signed-URL access.
	Authenticated bool
	// Type forces a resource type; TypeUnknown lets the backend detect it.
	Type storage.ResourceType
	// Format is the file format hint.
	Format string
}

// Facade composes the retrieval core behind the narrow surface the rest of
// the system calls.
type Facade struct {
	backend  storage.Backend
	cache    Cache
	metrics  *SuccessMetrics
	resolver *Resolver
	executor *Executor
	urls     *URLGenerator
	mover    *Mover
	log      *slog.Logger
}

// New wires the core components over the given backend according to the
// application configuration.
func New(cfg *config.Config, backend storage.Backend) (*Facade, error) {
	cache, err := NewCache(&cfg.Cache)
	if err != nil {
		return nil, err
	}

	metrics := NewSuccessMetrics()
	resolver := NewResolver(backend, cache, metrics)

	return &Facade{
		backend:  backend,
		cache:    cache,
		metrics:  metrics,
		resolver: resolver,
		executor: NewExecutor(&cfg.Download, backend, resolver, cache, metrics),
		urls:     NewURLGenerator(&cfg.Storage.CDN, backend, resolver),
		mover:    NewMover(backend, cache, metrics, resolver),
		log:      slog.Default().With("component", "assets"),
	}, nil
}

// Upload stores data and returns the confirmed asset identity. The object id
// is generated here so it is stable and opaque from the first moment; the
// backend's confirmed type seeds the cache immediately.
func (f *Facade) Upload(ctx context.Context, data []byte, opts UploadOptions) (*storage.UploadInfo, error) {
	info, err := f.backend.Upload(ctx, data, storage.UploadOptions{
		PublicID:      uuid.New().String(),
		Folder:        opts.Folder,
		Authenticated: opts.Authenticated,
		Type:          opts.Type,
		Format:        opts.Format,
	})
	if err != nil {
		return nil, err
	}

	if info.Type.IsConcrete() {
		f.cache.Put(ctx, info.ID, info.Type)
		f.metrics.Increment(info.Type)
	}
	return info, nil
}

// Download retrieves the object's bytes via the bounded worker pool.
func (f *Facade) Download(ctx context.Context, id string) ([]byte, error) {
	return f.executor.Download(ctx, id)
}

// Delete removes the object, discovering its type the same way every other
// verb does. Deleting an absent object is not a failure: the boolean is
// false and the error nil when no resource type holds the id.
func (f *Facade) Delete(ctx context.Context, id string) (bool, error) {
	order := make([]storage.ResourceType, 0, 3)
	if rt, ok, err := f.resolver.Resolve(ctx, id); err != nil {
		return false, err
	} else if ok {
		order = append(order, rt)
	}
	for _, rt := range f.metrics.Ordered() {
		if len(order) > 0 && order[0] == rt {
			continue
		}
		order = append(order, rt)
	}

	for _, rt := range order {
		err := f.backend.Destroy(ctx, id, rt, true)
		if err == nil {
			return true, nil
		}
		if storage.IsNetwork(err) {
			return false, err
		}
		if !storage.IsNotFound(err) && !storage.IsAccessDenied(err) {
			f.log.Debug("destroy attempt failed, trying next type", "id", id, "type", rt, "error", err)
		}
	}
	return false, nil
}

// URL builds a delivery URL without confirming the type. See URLGenerator.URL.
func (f *Facade) URL(id string, secure bool) (string, error) {
	return f.urls.URL(id, secure)
}

// URLWithType builds a delivery URL for a known type.
func (f *Facade) URLWithType(id string, secure bool, rt storage.ResourceType) (string, error) {
	return f.urls.URLWithType(id, secure, rt)
}

// SignedDownloadURL builds a time-limited download URL.
func (f *Facade) SignedDownloadURL(ctx context.Context, id string, expirationMinutes int64, rt storage.ResourceType, format string) (string, error) {
	return f.urls.SignedDownloadURL(ctx, id, expirationMinutes, rt, format)
}

// TransformURL builds a transformation delivery URL.
func (f *Facade) TransformURL(id string, secure bool, t Transform) (string, error) {
	return f.urls.TransformURL(id, secure, t)
}

// ResourceDetails returns the object's metadata, resolving the type when the
// caller does not supply one and retrying without the access qualifier on a
// not-found answer.
func (f *Facade) ResourceDetails(ctx context.Context, id string, rt storage.ResourceType) (*storage.AssetInfo, error) {
	if !rt.IsConcrete() {
		resolved, ok, err := f.resolver.Resolve(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &ObjectUnavailableError{ID: id}
		}
		rt = resolved
	}

	info, err := f.backend.AdminLookup(ctx, id, rt, true)
	if err != nil && storage.IsNotFound(err) {
		info, err = f.backend.AdminLookup(ctx, id, rt, false)
	}
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, &ObjectUnavailableError{ID: id}
		}
		return nil, err
	}
	return info, nil
}

// Move renames the object into a new folder. See Mover.Move.
func (f *Facade) Move(ctx context.Context, currentID, newFolder string, rt storage.ResourceType) (*MoveResult, error) {
	return f.mover.Move(ctx, currentID, newFolder, rt)
}

// Resolve exposes type resolution for collaborators that only need the type.
func (f *Facade) Resolve(ctx context.Context, id string) (storage.ResourceType, bool, error) {
	return f.resolver.Resolve(ctx, id)
}

// Close drains the download pool and releases the cache's resources.
func (f *Facade) Close() error {
	err := f.executor.Close()
	if closer, ok := f.cache.(interface{ Close() error }); ok {
		err = errors.Join(err, closer.Close())
	}
	return err
}
