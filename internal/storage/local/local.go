// Package local implements the local filesystem storage backend for the media
// registry. This backend is intended for development and single-node
// deployments only — it does not support horizontal scaling. Assets live under
// `<mode>/<type>/<id>` paths below the base directory, with a JSON sidecar
// holding the format and checksum the filesystem cannot carry itself.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/media-registry/media-registry/internal/config"
	"github.com/media-registry/media-registry/internal/storage"
	"github.com/media-registry/media-registry/pkg/checksum"
)

func init() {
	// Register local storage backend
	storage.Register("local", func(cfg *config.Config) (storage.Backend, error) {
		return New(&cfg.Storage.Local)
	})
}

// LocalStorage implements the Backend interface for local filesystem storage
type LocalStorage struct {
	basePath string
}

var _ storage.Backend = (*LocalStorage)(nil)

// sidecar is the metadata JSON written next to each asset file
type sidecar struct {
	Format    string    `json:"format"`
	Checksum  string    `json:"checksum"`
	CreatedAt time.Time `json:"created_at"`
}

// New creates a new local filesystem storage backend
func New(cfg *config.LocalStorageConfig) (*LocalStorage, error) {
	if cfg.BasePath == "" {
		return nil, fmt.Errorf("local base_path is required")
	}
	if err := os.MkdirAll(cfg.BasePath, 0750); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalStorage{basePath: cfg.BasePath}, nil
}

func (s *LocalStorage) assetPath(id string, rt storage.ResourceType, authenticated bool) string {
	return filepath.Join(s.basePath, filepath.FromSlash(storage.ObjectKey(id, rt, authenticated)))
}

func sidecarPath(assetPath string) string {
	return assetPath + ".meta.json"
}

// Upload stores an asset on the filesystem. An unknown requested type is
// detected from the content bytes.
func (s *LocalStorage) Upload(ctx context.Context, data []byte, opts storage.UploadOptions) (*storage.UploadInfo, error) {
	id := opts.PublicID
	if id == "" {
		id = uuid.New().String()
	}
	if opts.Folder != "" {
		id = opts.Folder + "/" + id
	}

	rt := opts.Type
	if !rt.IsConcrete() {
		rt = storage.DetectType(data)
	}
	format := opts.Format
	if format == "" {
		format = "bin"
	}

	sum := checksum.SHA256Hex(data)
	createdAt := time.Now().UTC()

	fullPath := s.assetPath(id, rt, opts.Authenticated)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0750); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0640); err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	meta, err := json.Marshal(sidecar{Format: format, Checksum: sum, CreatedAt: createdAt})
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := os.WriteFile(sidecarPath(fullPath), meta, 0640); err != nil {
		_ = os.Remove(fullPath)
		return nil, fmt.Errorf("failed to write metadata: %w", err)
	}

	return &storage.UploadInfo{
		ID:        id,
		Type:      rt,
		Format:    format,
		Size:      int64(len(data)),
		Checksum:  sum,
		CreatedAt: createdAt,
	}, nil
}

// Fetch retrieves an asset's bytes
func (s *LocalStorage) Fetch(ctx context.Context, id string, rt storage.ResourceType, authenticated bool) ([]byte, error) {
	if !rt.IsConcrete() {
		return nil, fmt.Errorf("fetch %s: resource type must be concrete", id)
	}

	data, err := os.ReadFile(s.assetPath(id, rt, authenticated))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("fetch %s/%s: %w", rt, id, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("fetch %s/%s: %w", rt, id, err)
	}
	return data, nil
}

func (s *LocalStorage) readSidecar(assetPath string) (sidecar, error) {
	var meta sidecar
	data, err := os.ReadFile(sidecarPath(assetPath))
	if err != nil {
		// Sidecar missing is tolerated so manually placed files still resolve
		return meta, nil
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("corrupt metadata sidecar: %w", err)
	}
	return meta, nil
}

// AdminLookup retrieves asset metadata from the file and its sidecar
func (s *LocalStorage) AdminLookup(ctx context.Context, id string, rt storage.ResourceType, authenticated bool) (*storage.AssetInfo, error) {
	if !rt.IsConcrete() {
		return nil, fmt.Errorf("lookup %s: resource type must be concrete", id)
	}

	fullPath := s.assetPath(id, rt, authenticated)
	stat, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("lookup %s/%s: %w", rt, id, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("lookup %s/%s: %w", rt, id, err)
	}

	meta, err := s.readSidecar(fullPath)
	if err != nil {
		return nil, fmt.Errorf("lookup %s/%s: %w", rt, id, err)
	}

	createdAt := meta.CreatedAt
	if createdAt.IsZero() {
		createdAt = stat.ModTime()
	}
	return &storage.AssetInfo{
		ID:        id,
		Type:      rt,
		Format:    meta.Format,
		Size:      stat.Size(),
		CreatedAt: createdAt,
	}, nil
}

// Rename moves an asset and its sidecar to a new id
func (s *LocalStorage) Rename(ctx context.Context, fromID, toID string, rt storage.ResourceType, authenticated bool) (*storage.AssetInfo, error) {
	if !rt.IsConcrete() {
		return nil, fmt.Errorf("rename %s: resource type must be concrete", fromID)
	}

	fromPath := s.assetPath(fromID, rt, authenticated)
	toPath := s.assetPath(toID, rt, authenticated)

	if _, err := os.Stat(fromPath); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("rename %s/%s: %w", rt, fromID, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("rename %s/%s: %w", rt, fromID, err)
	}

	if err := os.MkdirAll(filepath.Dir(toPath), 0750); err != nil {
		return nil, fmt.Errorf("rename %s/%s: %w", rt, fromID, err)
	}
	if err := os.Rename(fromPath, toPath); err != nil {
		return nil, fmt.Errorf("rename %s/%s: %w", rt, fromID, err)
	}
	// Sidecar moves best-effort; a missing one is tolerated on lookup
	_ = os.Rename(sidecarPath(fromPath), sidecarPath(toPath))

	return s.AdminLookup(ctx, toID, rt, authenticated)
}

// Destroy removes an asset and its sidecar, then prunes empty parent
// directories best-effort
func (s *LocalStorage) Destroy(ctx context.Context, id string, rt storage.ResourceType, authenticated bool) error {
	if !rt.IsConcrete() {
		return fmt.Errorf("destroy %s: resource type must be concrete", id)
	}

	fullPath := s.assetPath(id, rt, authenticated)
	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("destroy %s/%s: %w", rt, id, storage.ErrNotFound)
		}
		return fmt.Errorf("destroy %s/%s: %w", rt, id, err)
	}
	_ = os.Remove(sidecarPath(fullPath))

	dir := filepath.Dir(fullPath)
	for dir != s.basePath {
		if err := os.Remove(dir); err != nil {
			break
		}
		dir = filepath.Dir(dir)
	}
	return nil
}
