// Package storagetest provides a scriptable in-memory Backend implementation
// for tests. Each verb's outcome can be programmed per (id, type, access mode)
// so probe loops can be exercised against precise backend behaviors, and every
// call is recorded for assertions on probe counts and ordering.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/media-registry/media-registry/internal/storage"
)

// Key identifies a scripted outcome for a single verb invocation.
type Key struct {
	ID            string
	Type          storage.ResourceType
	Authenticated bool
}

// Call records one verb invocation against the fake.
type Call struct {
	Verb          string // "upload", "fetch", "lookup", "rename", "destroy"
	ID            string
	ToID          string // rename only
	Type          storage.ResourceType
	Authenticated bool
}

type lookupOutcome struct {
	info *storage.AssetInfo
	err  error
}

type fetchOutcome struct {
	data  []byte
	err   error
	block bool
}

// Fake is a Backend whose verb outcomes are scripted per key. Unscripted
// lookups, fetches, renames, and destroys return storage.ErrNotFound, which
// matches the common "wrong type namespace" backend answer.
type Fake struct {
	mu       sync.Mutex
	lookups  map[Key]lookupOutcome
	fetches  map[Key]fetchOutcome
	renames  map[Key]lookupOutcome
	destroys map[Key]error
	calls    []Call

	// UploadType is the type reported for unscripted uploads when the
	// caller requested auto-detection. Defaults to raw.
	UploadType storage.ResourceType
}

var _ storage.Backend = (*Fake)(nil)

// New returns an empty fake backend.
func New() *Fake {
	return &Fake{
		lookups:    make(map[Key]lookupOutcome),
		fetches:    make(map[Key]fetchOutcome),
		renames:    make(map[Key]lookupOutcome),
		destroys:   make(map[Key]error),
		UploadType: storage.TypeRaw,
	}
}

// SetLookup scripts AdminLookup for key. Pass a nil info with a non-nil err
// to script a failure.
func (f *Fake) SetLookup(k Key, info *storage.AssetInfo, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups[k] = lookupOutcome{info: info, err: err}
}

// SetFetch scripts Fetch for key.
func (f *Fake) SetFetch(k Key, data []byte, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches[k] = fetchOutcome{data: data, err: err}
}

// BlockFetch scripts Fetch for key to block until the caller's context is
// done, then return the context error. Used to exercise timeouts and
// cancellation.
func (f *Fake) BlockFetch(k Key) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches[k] = fetchOutcome{block: true}
}

// SetRename scripts Rename keyed by the source id and type.
func (f *Fake) SetRename(k Key, info *storage.AssetInfo, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renames[k] = lookupOutcome{info: info, err: err}
}

// SetDestroy scripts Destroy for key. A nil error scripts success.
func (f *Fake) SetDestroy(k Key, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroys[k] = err
}

// Calls returns a copy of all recorded calls in invocation order.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallCount returns how many calls of the given verb were recorded.
func (f *Fake) CallCount(verb string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Verb == verb {
			n++
		}
	}
	return n
}

// Reset clears recorded calls but keeps scripted outcomes.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *Fake) record(c Call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

// Upload stores nothing; it fabricates a plausible UploadInfo so facade
// tests can assert on id construction and type confirmation.
func (f *Fake) Upload(ctx context.Context, data []byte, opts storage.UploadOptions) (*storage.UploadInfo, error) {
	id := opts.PublicID
	if id == "" {
		id = uuid.New().String()
	}
	if opts.Folder != "" {
		id = opts.Folder + "/" + id
	}
	f.record(Call{Verb: "upload", ID: id, Type: opts.Type, Authenticated: opts.Authenticated})

	rt := opts.Type
	if !rt.IsConcrete() {
		f.mu.Lock()
		rt = f.UploadType
		f.mu.Unlock()
	}
	format := opts.Format
	if format == "" {
		format = "bin"
	}
	return &storage.UploadInfo{
		ID:        id,
		Type:      rt,
		Format:    format,
		Size:      int64(len(data)),
		Checksum:  fmt.Sprintf("%08x", len(data)),
		CreatedAt: time.Now(),
	}, nil
}

func (f *Fake) Fetch(ctx context.Context, id string, rt storage.ResourceType, authenticated bool) ([]byte, error) {
	f.record(Call{Verb: "fetch", ID: id, Type: rt, Authenticated: authenticated})

	f.mu.Lock()
	out, ok := f.fetches[Key{ID: id, Type: rt, Authenticated: authenticated}]
	f.mu.Unlock()
	if !ok {
		return nil, storage.ErrNotFound
	}
	if out.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return out.data, out.err
}

func (f *Fake) AdminLookup(ctx context.Context, id string, rt storage.ResourceType, authenticated bool) (*storage.AssetInfo, error) {
	f.record(Call{Verb: "lookup", ID: id, Type: rt, Authenticated: authenticated})

	f.mu.Lock()
	out, ok := f.lookups[Key{ID: id, Type: rt, Authenticated: authenticated}]
	f.mu.Unlock()
	if !ok {
		return nil, storage.ErrNotFound
	}
	return out.info, out.err
}

func (f *Fake) Rename(ctx context.Context, fromID, toID string, rt storage.ResourceType, authenticated bool) (*storage.AssetInfo, error) {
	f.record(Call{Verb: "rename", ID: fromID, ToID: toID, Type: rt, Authenticated: authenticated})

	f.mu.Lock()
	out, ok := f.renames[Key{ID: fromID, Type: rt, Authenticated: authenticated}]
	f.mu.Unlock()
	if !ok {
		return nil, storage.ErrNotFound
	}
	if out.err != nil {
		return nil, out.err
	}
	info := *out.info
	info.ID = toID
	return &info, nil
}

func (f *Fake) Destroy(ctx context.Context, id string, rt storage.ResourceType, authenticated bool) error {
	f.record(Call{Verb: "destroy", ID: id, Type: rt, Authenticated: authenticated})

	f.mu.Lock()
	err, ok := f.destroys[Key{ID: id, Type: rt, Authenticated: authenticated}]
	f.mu.Unlock()
	if !ok {
		return storage.ErrNotFound
	}
	return err
}
