// Package gcs implements the Google Cloud Storage backend for the media
// registry. Assets live under `<mode>/<type>/<id>` object names; signed
// download URLs use the GCS V4 signing API. Supports Application Default
// Credentials, service account JSON keys, and Workload Identity Federation
// for keyless authentication in GKE environments.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	appconfig "github.com/media-registry/media-registry/internal/config"
	appstorage "github.com/media-registry/media-registry/internal/storage"
	"github.com/media-registry/media-registry/pkg/checksum"
)

func init() {
	// Register GCS storage backend
	appstorage.Register("gcs", func(cfg *appconfig.Config) (appstorage.Backend, error) {
		return New(&cfg.Storage.GCS)
	})
}

// GCSStorage implements the Backend interface for Google Cloud Storage
type GCSStorage struct {
	client *storage.Client
	bucket string
}

var _ appstorage.Backend = (*GCSStorage)(nil)
var _ appstorage.URLSigner = (*GCSStorage)(nil)

// New creates a new Google Cloud Storage backend
//
// Authentication methods:
//   - "default" or empty: Uses Application Default Credentials (ADC)
//   - "service_account": Uses a service account key file or JSON
//   - "workload_identity": Uses Workload Identity Federation
func New(cfg *appconfig.GCSStorageConfig) (*GCSStorage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket name is required")
	}

	ctx := context.Background()
	var opts []option.ClientOption

	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	authMethod := cfg.AuthMethod
	if authMethod == "" {
		if cfg.CredentialsFile != "" || cfg.CredentialsJSON != "" {
			authMethod = "service_account"
		} else {
			authMethod = "default"
		}
	}

	switch authMethod {
	case "service_account":
		if cfg.CredentialsJSON != "" {
			opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
		} else if cfg.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		} else {
			return nil, fmt.Errorf("credentials_file or credentials_json is required for service_account auth")
		}

	case "workload_identity", "default":
		// ADC handles GOOGLE_APPLICATION_CREDENTIALS, the metadata service,
		// and gcloud auth application-default login

	default:
		return nil, fmt.Errorf("unsupported auth_method: %s (must be 'default', 'service_account', or 'workload_identity')", authMethod)
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCSStorage{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// Close closes the GCS client
func (s *GCSStorage) Close() error {
	return s.client.Close()
}

// mapErr translates GCS client errors onto the storage error classes
func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("%s: %w", op, appstorage.ErrNotFound)
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 404:
			return fmt.Errorf("%s: %w", op, appstorage.ErrNotFound)
		case 401, 403:
			return fmt.Errorf("%s: %w", op, appstorage.ErrAccessDenied)
		}
	}
	if classified := appstorage.ClassifyNetwork(op, err); classified != err {
		return classified
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Upload stores an asset in GCS. An unknown requested type is detected from
// the content bytes.
func (s *GCSStorage) Upload(ctx context.Context, data []byte, opts appstorage.UploadOptions) (*appstorage.UploadInfo, error) {
	id := opts.PublicID
	if id == "" {
		id = uuid.New().String()
	}
	if opts.Folder != "" {
		id = opts.Folder + "/" + id
	}

	rt := opts.Type
	if !rt.IsConcrete() {
		rt = appstorage.DetectType(data)
	}
	format := opts.Format
	if format == "" {
		format = "bin"
	}

	sum := checksum.SHA256Hex(data)

	obj := s.client.Bucket(s.bucket).Object(appstorage.ObjectKey(id, rt, opts.Authenticated))
	writer := obj.NewWriter(ctx)
	writer.Metadata = map[string]string{
		"sha256": sum,
		"format": format,
	}

	if _, err := writer.Write(data); err != nil {
		return nil, mapErr("upload", err)
	}
	if err := writer.Close(); err != nil {
		return nil, mapErr("upload", err)
	}

	return &appstorage.UploadInfo{
		ID:        id,
		Type:      rt,
		Format:    format,
		Size:      int64(len(data)),
		Checksum:  sum,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Fetch retrieves an asset's bytes from GCS
func (s *GCSStorage) Fetch(ctx context.Context, id string, rt appstorage.ResourceType, authenticated bool) ([]byte, error) {
	if !rt.IsConcrete() {
		return nil, fmt.Errorf("fetch %s: resource type must be concrete", id)
	}

	obj := s.client.Bucket(s.bucket).Object(appstorage.ObjectKey(id, rt, authenticated))
	reader, err := obj.NewReader(ctx)
	if err != nil {
		return nil, mapErr(fmt.Sprintf("fetch %s/%s", rt, id), err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("fetch %s/%s: reading body: %w", rt, id, err)
	}
	return data, nil
}

// AdminLookup retrieves asset metadata from object attributes
func (s *GCSStorage) AdminLookup(ctx context.Context, id string, rt appstorage.ResourceType, authenticated bool) (*appstorage.AssetInfo, error) {
	if !rt.IsConcrete() {
		return nil, fmt.Errorf("lookup %s: resource type must be concrete", id)
	}

	obj := s.client.Bucket(s.bucket).Object(appstorage.ObjectKey(id, rt, authenticated))
	attrs, err := obj.Attrs(ctx)
	if err != nil {
		return nil, mapErr(fmt.Sprintf("lookup %s/%s", rt, id), err)
	}

	info := &appstorage.AssetInfo{
		ID:        id,
		Type:      rt,
		Size:      attrs.Size,
		CreatedAt: attrs.Created,
	}
	if attrs.Metadata != nil {
		info.Format = attrs.Metadata["format"]
	}
	return info, nil
}

// Rename moves an asset to a new id via copy plus delete
func (s *GCSStorage) Rename(ctx context.Context, fromID, toID string, rt appstorage.ResourceType, authenticated bool) (*appstorage.AssetInfo, error) {
	if !rt.IsConcrete() {
		return nil, fmt.Errorf("rename %s: resource type must be concrete", fromID)
	}

	bucket := s.client.Bucket(s.bucket)
	src := bucket.Object(appstorage.ObjectKey(fromID, rt, authenticated))
	dst := bucket.Object(appstorage.ObjectKey(toID, rt, authenticated))

	if _, err := dst.CopierFrom(src).Run(ctx); err != nil {
		return nil, mapErr(fmt.Sprintf("rename %s/%s", rt, fromID), err)
	}
	if err := src.Delete(ctx); err != nil {
		return nil, mapErr(fmt.Sprintf("rename %s/%s: delete source", rt, fromID), err)
	}

	return s.AdminLookup(ctx, toID, rt, authenticated)
}

// Destroy removes an asset
func (s *GCSStorage) Destroy(ctx context.Context, id string, rt appstorage.ResourceType, authenticated bool) error {
	if !rt.IsConcrete() {
		return fmt.Errorf("destroy %s: resource type must be concrete", id)
	}

	obj := s.client.Bucket(s.bucket).Object(appstorage.ObjectKey(id, rt, authenticated))
	if err := obj.Delete(ctx); err != nil {
		return mapErr(fmt.Sprintf("destroy %s/%s", rt, id), err)
	}
	return nil
}

// SignedURL returns a V4 signed download URL for a public asset.
// Requires the service account to have signBlob permissions.
func (s *GCSStorage) SignedURL(ctx context.Context, id string, rt appstorage.ResourceType, ttl time.Duration) (string, error) {
	if !rt.IsConcrete() {
		return "", fmt.Errorf("signed url %s: resource type must be concrete", id)
	}

	opts := &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(ttl),
	}

	url, err := s.client.Bucket(s.bucket).SignedURL(appstorage.ObjectKey(id, rt, false), opts)
	if err != nil {
		return "", fmt.Errorf("failed to generate signed URL: %w", err)
	}
	return url, nil
}
