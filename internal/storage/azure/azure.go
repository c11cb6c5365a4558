// Package azure implements the Azure Blob Storage backend for the media
// registry. Assets live under `<mode>/<type>/<id>` blob names; signed download
// URLs are time-limited SAS (Shared Access Signature) URLs generated on
// demand, so asset bytes are served by Azure rather than proxied through the
// registry.
package azure

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"
	"github.com/google/uuid"

	"github.com/media-registry/media-registry/internal/config"
	"github.com/media-registry/media-registry/internal/storage"
	"github.com/media-registry/media-registry/pkg/checksum"
)

func init() {
	// Register Azure storage backend
	storage.Register("azure", func(cfg *config.Config) (storage.Backend, error) {
		return New(&cfg.Storage.Azure)
	})
}

// AzureStorage implements the Backend interface for Azure Blob Storage
type AzureStorage struct {
	client        *azblob.Client
	containerName string
	accountName   string
	accountKey    string
}

var _ storage.Backend = (*AzureStorage)(nil)
var _ storage.URLSigner = (*AzureStorage)(nil)

// New creates a new Azure Blob Storage backend
func New(cfg *config.AzureStorageConfig) (*AzureStorage, error) {
	if cfg.AccountName == "" {
		return nil, fmt.Errorf("azure storage account name is required")
	}
	if cfg.AccountKey == "" {
		return nil, fmt.Errorf("azure storage account key is required")
	}
	if cfg.ContainerName == "" {
		return nil, fmt.Errorf("azure storage container name is required")
	}

	credential, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}

	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.AccountName)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure Blob client: %w", err)
	}

	return &AzureStorage{
		client:        client,
		containerName: cfg.ContainerName,
		accountName:   cfg.AccountName,
		accountKey:    cfg.AccountKey,
	}, nil
}

// mapErr translates Azure SDK errors onto the storage error classes
func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case 404:
			return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		case 401, 403:
			return fmt.Errorf("%s: %w", op, storage.ErrAccessDenied)
		}
	}
	if classified := storage.ClassifyNetwork(op, err); classified != err {
		return classified
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Upload stores an asset as a block blob. An unknown requested type is
// detected from the content bytes. The checksum and format travel in blob
// metadata since Azure only tracks MD5 natively.
func (s *AzureStorage) Upload(ctx context.Context, data []byte, opts storage.UploadOptions) (*storage.UploadInfo, error) {
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

	blobClient := s.blockBlobClient(storage.ObjectKey(id, rt, opts.Authenticated))
	_, err := blobClient.Upload(ctx, streaming.NopCloser(bytes.NewReader(data)), &blockblob.UploadOptions{
		Metadata: map[string]*string{
			"sha256": &sum,
			"format": &format,
		},
	})
	if err != nil {
		return nil, mapErr("upload", err)
	}

	return &storage.UploadInfo{
		ID:        id,
		Type:      rt,
		Format:    format,
		Size:      int64(len(data)),
		Checksum:  sum,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func (s *AzureStorage) blockBlobClient(key string) *blockblob.Client {
	return s.client.ServiceClient().NewContainerClient(s.containerName).NewBlockBlobClient(key)
}

// Fetch retrieves an asset's bytes
func (s *AzureStorage) Fetch(ctx context.Context, id string, rt storage.ResourceType, authenticated bool) ([]byte, error) {
	if !rt.IsConcrete() {
		return nil, fmt.Errorf("fetch %s: resource type must be concrete", id)
	}

	blobClient := s.client.ServiceClient().NewContainerClient(s.containerName).
		NewBlobClient(storage.ObjectKey(id, rt, authenticated))
	resp, err := blobClient.DownloadStream(ctx, nil)
	if err != nil {
		return nil, mapErr(fmt.Sprintf("fetch %s/%s", rt, id), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch %s/%s: reading body: %w", rt, id, err)
	}
	return data, nil
}

// AdminLookup retrieves asset metadata from blob properties
func (s *AzureStorage) AdminLookup(ctx context.Context, id string, rt storage.ResourceType, authenticated bool) (*storage.AssetInfo, error) {
	if !rt.IsConcrete() {
		return nil, fmt.Errorf("lookup %s: resource type must be concrete", id)
	}

	blobClient := s.client.ServiceClient().NewContainerClient(s.containerName).
		NewBlobClient(storage.ObjectKey(id, rt, authenticated))
	props, err := blobClient.GetProperties(ctx, nil)
	if err != nil {
		return nil, mapErr(fmt.Sprintf("lookup %s/%s", rt, id), err)
	}

	info := &storage.AssetInfo{ID: id, Type: rt}
	if props.ContentLength != nil {
		info.Size = *props.ContentLength
	}
	if props.CreationTime != nil {
		info.CreatedAt = *props.CreationTime
	}
	if props.Metadata != nil {
		if format, ok := props.Metadata["format"]; ok && format != nil {
			info.Format = *format
		}
	}
	return info, nil
}

// Rename moves an asset to a new id. Azure has no server-side rename for
// shared-key auth without a SAS source URL, so this fetches and re-uploads
// before deleting the source.
func (s *AzureStorage) Rename(ctx context.Context, fromID, toID string, rt storage.ResourceType, authenticated bool) (*storage.AssetInfo, error) {
	if !rt.IsConcrete() {
		return nil, fmt.Errorf("rename %s: resource type must be concrete", fromID)
	}

	info, err := s.AdminLookup(ctx, fromID, rt, authenticated)
	if err != nil {
		return nil, err
	}
	data, err := s.Fetch(ctx, fromID, rt, authenticated)
	if err != nil {
		return nil, err
	}

	if _, err := s.Upload(ctx, data, storage.UploadOptions{
		PublicID:      toID,
		Authenticated: authenticated,
		Type:          rt,
		Format:        info.Format,
	}); err != nil {
		return nil, mapErr(fmt.Sprintf("rename %s/%s", rt, fromID), err)
	}
	if err := s.Destroy(ctx, fromID, rt, authenticated); err != nil {
		return nil, mapErr(fmt.Sprintf("rename %s/%s: delete source", rt, fromID), err)
	}

	return s.AdminLookup(ctx, toID, rt, authenticated)
}

// Destroy removes an asset
func (s *AzureStorage) Destroy(ctx context.Context, id string, rt storage.ResourceType, authenticated bool) error {
	if !rt.IsConcrete() {
		return fmt.Errorf("destroy %s: resource type must be concrete", id)
	}

	blobClient := s.client.ServiceClient().NewContainerClient(s.containerName).
		NewBlobClient(storage.ObjectKey(id, rt, authenticated))
	if _, err := blobClient.Delete(ctx, nil); err != nil {
		return mapErr(fmt.Sprintf("destroy %s/%s", rt, id), err)
	}
	return nil
}

// SignedURL returns a time-limited SAS URL for a public asset
func (s *AzureStorage) SignedURL(ctx context.Context, id string, rt storage.ResourceType, ttl time.Duration) (string, error) {
	if !rt.IsConcrete() {
		return "", fmt.Errorf("signed url %s: resource type must be concrete", id)
	}

	credential, err := azblob.NewSharedKeyCredential(s.accountName, s.accountKey)
	if err != nil {
		return "", fmt.Errorf("failed to create credential for SAS: %w", err)
	}

	key := storage.ObjectKey(id, rt, false)
	sasPermissions := sas.BlobPermissions{Read: true}
	// Start slightly in the past to tolerate clock skew
	startTime := time.Now().UTC().Add(-5 * time.Minute)
	expiryTime := time.Now().UTC().Add(ttl)

	sasQueryParams, err := sas.BlobSignatureValues{
		Protocol:      sas.ProtocolHTTPS,
		StartTime:     startTime,
		ExpiryTime:    expiryTime,
		Permissions:   sasPermissions.String(),
		ContainerName: s.containerName,
		BlobName:      key,
	}.SignWithSharedKey(credential)
	if err != nil {
		return "", fmt.Errorf("failed to generate SAS token: %w", err)
	}

	blobURL := fmt.Sprintf("https://%s.blob.core.windows.net/%s/%s",
		s.accountName, s.containerName, url.PathEscape(key))
	return fmt.Sprintf("%s?%s", blobURL, sasQueryParams.Encode()), nil
}
