package assets

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/media-registry/media-registry/internal/config"
	"github.com/media-registry/media-registry/internal/storage"
	"github.com/media-registry/media-registry/internal/storage/storagetest"
)

func newTestFacade(t *testing.T, fake *storagetest.Fake) *Facade {
	t.Helper()
	cfg := &config.Config{
		Storage: config.StorageConfig{
			CDN: *testCDNConfig(),
		},
		Cache: config.CacheConfig{
			Backend: "memory",
			TTL:     5 * time.Minute,
		},
		Download: config.DownloadConfig{
			Workers:       2,
			QueueSize:     10,
			Ceiling:       5 * time.Second,
			ShutdownGrace: time.Second,
		},
	}
	f, err := New(cfg, fake)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = f.Close() })
	return f
}

// ---------------------------------------------------------------------------
// Upload
// ---------------------------------------------------------------------------

func TestFacadeUpload_GeneratesIDAndSeedsCache(t *testing.T) {
	fake := storagetest.New()
	fake.UploadType = storage.TypeImage
	f := newTestFacade(t, fake)
	ctx := context.Background()

	info, err := f.Upload(ctx, []byte("payload"), UploadOptions{Folder: "photos"})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if !strings.HasPrefix(info.ID, "photos/") {
		t.Errorf("upload id = %q, want the folder prefix", info.ID)
	}
	if info.Type != storage.TypeImage {
		t.Errorf("confirmed type = %q, want image", info.Type)
	}

	// The confirmed type is already cached: resolving the fresh id must not
	// probe the backend.
	fake.Reset()
	rt, ok, err := f.Resolve(ctx, info.ID)
	if err != nil || !ok || rt != storage.TypeImage {
		t.Fatalf("Resolve() = (%q, %v, %v), want (image, true, nil)", rt, ok, err)
	}
	if n := fake.CallCount("lookup"); n != 0 {
		t.Errorf("lookups after upload = %d, want 0", n)
	}
}

// ---------------------------------------------------------------------------
// Download
// ---------------------------------------------------------------------------

func TestFacadeDownload(t *testing.T) {
	fake := storagetest.New()
	f := newTestFacade(t, fake)

	fake.SetFetch(storagetest.Key{ID: "abc", Type: storage.TypeRaw, Authenticated: true},
		[]byte("payload"), nil)

	data, err := f.Download(context.Background(), "abc")
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if !bytes.Equal(data, []byte("payload")) {
		t.Errorf("Download() = %q, want payload", data)
	}
}

// ---------------------------------------------------------------------------
// Delete
// ---------------------------------------------------------------------------

func TestFacadeDelete_AbsentObjectIsFalseNotError(t *testing.T) {
	fake := storagetest.New()
	f := newTestFacade(t, fake)

	deleted, err := f.Delete(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("Delete() error = %v, absence is not an error", err)
	}
	if deleted {
		t.Error("Delete() = true for an absent object, want false")
	}
	// Every type was attempted before giving up.
	if n := fake.CallCount("destroy"); n != 3 {
		t.Errorf("destroys = %d, want 3", n)
	}
}

func TestFacadeDelete_ResolvedTypeFirst(t *testing.T) {
	fake := storagetest.New()
	f := newTestFacade(t, fake)
	ctx := context.Background()

	fake.SetLookup(storagetest.Key{ID: "abc", Type: storage.TypeVideo, Authenticated: true},
		&storage.AssetInfo{ID: "abc", Type: storage.TypeVideo}, nil)
	fake.SetDestroy(storagetest.Key{ID: "abc", Type: storage.TypeVideo, Authenticated: true}, nil)

	deleted, err := f.Delete(ctx, "abc")
	if err != nil || !deleted {
		t.Fatalf("Delete() = (%v, %v), want (true, nil)", deleted, err)
	}
	if n := fake.CallCount("destroy"); n != 1 {
		t.Errorf("destroys = %d, want 1 against the resolved type", n)
	}
}

func TestFacadeDelete_NetworkErrorPropagates(t *testing.T) {
	fake := storagetest.New()
	f := newTestFacade(t, fake)

	fake.SetDestroy(storagetest.Key{ID: "abc", Type: storage.TypeRaw, Authenticated: true},
		&storage.NetworkError{Op: "destroy", Err: errors.New("connection refused")})

	_, err := f.Delete(context.Background(), "abc")
	if !storage.IsNetwork(err) {
		t.Fatalf("Delete() error = %v, want a network error", err)
	}
}

// ---------------------------------------------------------------------------
// Resource details
// ---------------------------------------------------------------------------

func TestFacadeResourceDetails_DualModeLookup(t *testing.T) {
	fake := storagetest.New()
	f := newTestFacade(t, fake)
	ctx := context.Background()

	// Known only without the access qualifier: the authenticated lookup
	// answers not-found and the unqualified retry serves the metadata.
	fake.SetLookup(storagetest.Key{ID: "abc", Type: storage.TypeRaw, Authenticated: false},
		&storage.AssetInfo{ID: "abc", Type: storage.TypeRaw, Format: "zip", Size: 1024}, nil)

	info, err := f.ResourceDetails(ctx, "abc", storage.TypeRaw)
	if err != nil {
		t.Fatalf("ResourceDetails() error = %v", err)
	}
	if info.Format != "zip" || info.Size != 1024 {
		t.Errorf("ResourceDetails() = %+v", info)
	}
}

func TestFacadeResourceDetails_ResolvesUnknownType(t *testing.T) {
	fake := storagetest.New()
	f := newTestFacade(t, fake)

	fake.SetLookup(storagetest.Key{ID: "abc", Type: storage.TypeImage, Authenticated: true},
		&storage.AssetInfo{ID: "abc", Type: storage.TypeImage, Format: "png"}, nil)

	info, err := f.ResourceDetails(context.Background(), "abc", storage.TypeUnknown)
	if err != nil {
		t.Fatalf("ResourceDetails() error = %v", err)
	}
	if info.Type != storage.TypeImage {
		t.Errorf("type = %q, want image", info.Type)
	}
}

func TestFacadeResourceDetails_AbsentObject(t *testing.T) {
	fake := storagetest.New()
	f := newTestFacade(t, fake)

	_, err := f.ResourceDetails(context.Background(), "ghost", storage.TypeUnknown)
	var unavailable *ObjectUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("ResourceDetails() error = %v, want *ObjectUnavailableError", err)
	}
}

// ---------------------------------------------------------------------------
// URL and move delegation
// ---------------------------------------------------------------------------

func TestFacadeURL(t *testing.T) {
	f := newTestFacade(t, storagetest.New())

	u, err := f.URL("abc", true)
	if err != nil {
		t.Fatalf("URL() error = %v", err)
	}
	if !strings.Contains(u, "/image/upload/") {
		t.Errorf("URL() = %q, want the image namespace", u)
	}
}

func TestFacadeMove(t *testing.T) {
	fake := storagetest.New()
	f := newTestFacade(t, fake)

	fake.SetRename(storagetest.Key{ID: "abc", Type: storage.TypeRaw, Authenticated: true},
		&storage.AssetInfo{ID: "abc", Type: storage.TypeRaw}, nil)

	res, err := f.Move(context.Background(), "abc", "archive", storage.TypeRaw)
	if err != nil {
		t.Fatalf("Move() error = %v", err)
	}
	if res.NewID != "archive/abc" {
		t.Errorf("NewID = %q, want archive/abc", res.NewID)
	}
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

func TestFacadeClose(t *testing.T) {
	fake := storagetest.New()
	cfg := &config.Config{
		Cache:    config.CacheConfig{Backend: "memory", TTL: time.Minute},
		Download: config.DownloadConfig{Workers: 1, ShutdownGrace: time.Second},
	}
	f, err := New(cfg, fake)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if _, err := f.Download(context.Background(), "abc"); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Download() after Close = %v, want ErrPoolClosed", err)
	}
}
