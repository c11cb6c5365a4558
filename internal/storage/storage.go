// Package storage defines the Backend interface and common types for all blob
// storage backends in the media registry.
//
// Every backend addresses an asset by (object id, resource type): the remote
// APIs this registry fronts cannot fetch, rename, or delete an object without
// being told which of the three type namespaces it lives in. Backends never
// accept an unknown type — resolving one is the caller's job (see
// internal/assets).
//
// New backends are added by implementing the Backend interface and registering
// with the factory via an init() function in the backend's own package:
//
//	func init() {
//	    storage.Register("mybackend", func(cfg *config.Config) (Backend, error) {
//	        return NewMyBackend(cfg)
//	    })
//	}
//
// The main package imports each backend with a blank import to trigger init().
package storage

import (
	"context"
	"time"
)

// ResourceType is the namespace an asset lives in on the backend. The domain
// is closed: every stored object is exactly one of image, video, or raw.
type ResourceType string

const (
	TypeImage ResourceType = "image"
	TypeVideo ResourceType = "video"
	TypeRaw   ResourceType = "raw"

	// TypeUnknown is the zero value. It is never a valid argument to a
	// backend verb; callers must resolve it to a concrete type first.
	TypeUnknown ResourceType = ""
)

// Types returns the full resource-type domain in probe order.
func Types() []ResourceType {
	return []ResourceType{TypeImage, TypeVideo, TypeRaw}
}

// IsConcrete reports whether rt is one of the three addressable types.
// "auto" is how the remote upload API spells "detect it for me" and is
// treated the same as unknown: it can never be sent to a lookup or rename.
func (rt ResourceType) IsConcrete() bool {
	switch rt {
	case TypeImage, TypeVideo, TypeRaw:
		return true
	}
	return false
}

// ParseType normalizes a user-supplied type string. Unknown spellings and
// "auto" map to TypeUnknown.
func ParseType(s string) ResourceType {
	switch ResourceType(s) {
	case TypeImage:
		return TypeImage
	case TypeVideo:
		return TypeVideo
	case TypeRaw:
		return TypeRaw
	}
	return TypeUnknown
}

// UploadOptions controls where and how an asset is stored.
type UploadOptions struct {
	// PublicID is the caller-assigned object id (without folder prefix).
	// When empty the backend generates one.
	PublicID string
	// Folder is a logical path prefix; empty means the root.
	Folder string
	// Authenticated stores the asset behind signed-URL access.
	Authenticated bool
	// Type is the requested resource type; TypeUnknown lets the backend
	// detect it from the content.
	Type ResourceType
	// Format is the file format hint (e.g. "png", "mp4", "bin").
	Format string
}

// UploadInfo describes a stored asset after a successful upload.
type UploadInfo struct {
	// ID is the backend's identifier for the asset, including any folder
	// prefix (e.g. "invoices/3f2a...").
	ID        string
	Type      ResourceType
	Format    string
	Size      int64
	Checksum  string
	CreatedAt time.Time
}

// AssetInfo describes an existing asset as reported by an admin lookup.
type AssetInfo struct {
	ID        string
	Type      ResourceType
	Format    string
	Size      int64
	CreatedAt time.Time
}

// Backend is the narrow set of verbs the registry needs from a blob store.
// Every verb except Upload requires a concrete resource type; implementations
// may reject TypeUnknown outright.
//
// Error contract: verbs return ErrNotFound (possibly wrapped) when the
// (id, type) pair does not exist, a *NetworkError when the host is
// unreachable, and ErrAccessDenied when the access mode is wrong for the
// object. Anything else is a transient backend error.
type Backend interface {
	// Upload stores data and returns the asset's identity and confirmed type.
	Upload(ctx context.Context, data []byte, opts UploadOptions) (*UploadInfo, error)

	// Fetch retrieves the asset's bytes.
	Fetch(ctx context.Context, id string, rt ResourceType, authenticated bool) ([]byte, error)

	// AdminLookup retrieves asset metadata without downloading content.
	AdminLookup(ctx context.Context, id string, rt ResourceType, authenticated bool) (*AssetInfo, error)

	// Rename moves the asset to a new id within the same type namespace.
	Rename(ctx context.Context, fromID, toID string, rt ResourceType, authenticated bool) (*AssetInfo, error)

	// Destroy removes the asset.
	Destroy(ctx context.Context, id string, rt ResourceType, authenticated bool) error
}

// URLSigner is implemented by backends that can mint time-limited download
// URLs natively (S3 presign, GCS signed URLs, Azure SAS). The CDN backend does
// not implement it; its URLs are built locally by the URL generator.
type URLSigner interface {
	SignedURL(ctx context.Context, id string, rt ResourceType, ttl time.Duration) (string, error)
}
