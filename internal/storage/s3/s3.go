// Package s3 implements the AWS S3-compatible storage backend for the media
// registry. It supports AWS S3, MinIO, DigitalOcean Spaces, and other
// S3-compatible services via a configurable endpoint. Assets live under
// `<mode>/<type>/<id>` keys, so lookups against the wrong type namespace
// answer not-found exactly like the managed CDN does. Signed download URLs use
// S3 presigning. Multiple authentication methods are supported: the default
// AWS credential chain (recommended for EC2/EKS with IAM roles), static
// key/secret, and AssumeRole for cross-account access.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	appconfig "github.com/media-registry/media-registry/internal/config"
	"github.com/media-registry/media-registry/internal/storage"
	"github.com/media-registry/media-registry/pkg/checksum"
)

func init() {
	// Register S3 storage backend
	storage.Register("s3", func(cfg *appconfig.Config) (storage.Backend, error) {
		return New(&cfg.Storage.S3)
	})
}

// S3Storage implements the Backend interface for S3-compatible storage
type S3Storage struct {
	client        *s3.Client
	presignClient *s3.PresignClient
	bucket        string
	region        string
	endpoint      string
}

var _ storage.Backend = (*S3Storage)(nil)
var _ storage.URLSigner = (*S3Storage)(nil)

// New creates a new S3-compatible storage backend
//
// Authentication methods:
//   - "default" or empty: Uses AWS default credential chain (env vars, shared config, IAM role, IMDS)
//   - "static": Uses explicit access key and secret key
//   - "assume_role": Assumes an IAM role (optionally with external ID for cross-account)
func New(cfg *appconfig.S3StorageConfig) (*S3Storage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket name is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3 region is required")
	}

	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(cfg.Region))

	authMethod := cfg.AuthMethod
	if authMethod == "" {
		// Backwards compatibility: if access keys are provided, use static auth
		if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
			authMethod = "static"
		} else {
			authMethod = "default"
		}
	}

	switch authMethod {
	case "static":
		if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
			return nil, fmt.Errorf("access_key_id and secret_access_key are required for static auth")
		}
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))

	case "assume_role":
		// AssumeRole credentials are configured after loading the base config

	case "default":
		// AWS default credential chain, no additional configuration needed

	default:
		return nil, fmt.Errorf("unsupported auth_method: %s (must be 'default', 'static', or 'assume_role')", authMethod)
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if authMethod == "assume_role" {
		if cfg.RoleARN == "" {
			return nil, fmt.Errorf("role_arn is required for assume_role auth")
		}

		stsClient := sts.NewFromConfig(awsCfg)

		var assumeRoleOpts []func(*stscreds.AssumeRoleOptions)
		if cfg.RoleSessionName != "" {
			assumeRoleOpts = append(assumeRoleOpts, func(o *stscreds.AssumeRoleOptions) {
				o.RoleSessionName = cfg.RoleSessionName
			})
		}
		if cfg.ExternalID != "" {
			assumeRoleOpts = append(assumeRoleOpts, func(o *stscreds.AssumeRoleOptions) {
				o.ExternalID = aws.String(cfg.ExternalID)
			})
		}

		provider := stscreds.NewAssumeRoleProvider(stsClient, cfg.RoleARN, assumeRoleOpts...)
		awsCfg.Credentials = aws.NewCredentialsCache(provider)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			// S3-compatible services want path-style addressing
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)

	return &S3Storage{
		client:        client,
		presignClient: s3.NewPresignClient(client),
		bucket:        cfg.Bucket,
		region:        cfg.Region,
		endpoint:      cfg.Endpoint,
	}, nil
}

// mapErr translates SDK errors onto the storage error classes
func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &notFound) {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		case "AccessDenied", "Forbidden":
			return fmt.Errorf("%s: %w", op, storage.ErrAccessDenied)
		}
	}
	if classified := storage.ClassifyNetwork(op, err); classified != err {
		return classified
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Upload stores an asset in S3. An unknown requested type is detected from
// the content bytes.
func (s *S3Storage) Upload(ctx context.Context, data []byte, opts storage.UploadOptions) (*storage.UploadInfo, error) {
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

	key := storage.ObjectKey(id, rt, opts.Authenticated)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		Metadata: map[string]string{
			"sha256": sum,
			"format": format,
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

// Fetch retrieves an asset's bytes from S3
func (s *S3Storage) Fetch(ctx context.Context, id string, rt storage.ResourceType, authenticated bool) ([]byte, error) {
	if !rt.IsConcrete() {
		return nil, fmt.Errorf("fetch %s: resource type must be concrete", id)
	}

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(storage.ObjectKey(id, rt, authenticated)),
	})
	if err != nil {
		return nil, mapErr(fmt.Sprintf("fetch %s/%s", rt, id), err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch %s/%s: reading body: %w", rt, id, err)
	}
	return data, nil
}

// AdminLookup retrieves asset metadata via HeadObject
func (s *S3Storage) AdminLookup(ctx context.Context, id string, rt storage.ResourceType, authenticated bool) (*storage.AssetInfo, error) {
	if !rt.IsConcrete() {
		return nil, fmt.Errorf("lookup %s: resource type must be concrete", id)
	}

	result, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(storage.ObjectKey(id, rt, authenticated)),
	})
	if err != nil {
		return nil, mapErr(fmt.Sprintf("lookup %s/%s", rt, id), err)
	}

	info := &storage.AssetInfo{ID: id, Type: rt}
	if result.ContentLength != nil {
		info.Size = *result.ContentLength
	}
	if result.LastModified != nil {
		info.CreatedAt = *result.LastModified
	}
	if result.Metadata != nil {
		info.Format = result.Metadata["format"]
	}
	return info, nil
}

// Rename moves an asset to a new id via copy plus delete. S3 has no native
// rename; a crash between the two calls leaves the object readable under both
// ids, which the registry tolerates.
func (s *S3Storage) Rename(ctx context.Context, fromID, toID string, rt storage.ResourceType, authenticated bool) (*storage.AssetInfo, error) {
	if !rt.IsConcrete() {
		return nil, fmt.Errorf("rename %s: resource type must be concrete", fromID)
	}

	fromKey := storage.ObjectKey(fromID, rt, authenticated)
	toKey := storage.ObjectKey(toID, rt, authenticated)

	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(toKey),
		CopySource: aws.String(fmt.Sprintf("%s/%s", s.bucket, fromKey)),
	})
	if err != nil {
		return nil, mapErr(fmt.Sprintf("rename %s/%s", rt, fromID), err)
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(fromKey),
	})
	if err != nil {
		return nil, mapErr(fmt.Sprintf("rename %s/%s: delete source", rt, fromID), err)
	}

	return s.AdminLookup(ctx, toID, rt, authenticated)
}

// Destroy removes an asset. S3 deletes are idempotent, so existence is
// checked first to honor the not-found contract.
func (s *S3Storage) Destroy(ctx context.Context, id string, rt storage.ResourceType, authenticated bool) error {
	if !rt.IsConcrete() {
		return fmt.Errorf("destroy %s: resource type must be concrete", id)
	}

	key := storage.ObjectKey(id, rt, authenticated)
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return mapErr(fmt.Sprintf("destroy %s/%s", rt, id), err)
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return mapErr(fmt.Sprintf("destroy %s/%s", rt, id), err)
	}
	return nil
}

// SignedURL returns a presigned download URL for a public asset
func (s *S3Storage) SignedURL(ctx context.Context, id string, rt storage.ResourceType, ttl time.Duration) (string, error) {
	if !rt.IsConcrete() {
		return "", fmt.Errorf("signed url %s: resource type must be concrete", id)
	}

	request, err := s.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(storage.ObjectKey(id, rt, false)),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = ttl
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return request.URL, nil
}

// EnsureBucket creates the bucket if it doesn't exist
func (s *S3Storage) EnsureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err == nil {
		return nil
	}

	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(s.bucket),
		CreateBucketConfiguration: &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.region),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}
