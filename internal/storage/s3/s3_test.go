package s3

import (
	"errors"
	"testing"

	"github.com/aws/smithy-go"

	appconfig "github.com/media-registry/media-registry/internal/config"
	"github.com/media-registry/media-registry/internal/storage"
)

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  appconfig.S3StorageConfig
	}{
		{"missing bucket", appconfig.S3StorageConfig{Region: "us-east-1"}},
		{"missing region", appconfig.S3StorageConfig{Bucket: "assets"}},
		{
			"unsupported auth method",
			appconfig.S3StorageConfig{Bucket: "assets", Region: "us-east-1", AuthMethod: "kerberos"},
		},
		{
			"static auth without keys",
			appconfig.S3StorageConfig{Bucket: "assets", Region: "us-east-1", AuthMethod: "static"},
		},
		{
			"assume_role without role arn",
			appconfig.S3StorageConfig{Bucket: "assets", Region: "us-east-1", AuthMethod: "assume_role"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(&tt.cfg); err == nil {
				t.Error("New() expected error")
			}
		})
	}
}

func TestMapErr(t *testing.T) {
	notFound := &smithy.GenericAPIError{Code: "NoSuchKey", Message: "no such key"}
	if err := mapErr("fetch", notFound); !storage.IsNotFound(err) {
		t.Errorf("mapErr(NoSuchKey) = %v, want ErrNotFound", err)
	}

	head404 := &smithy.GenericAPIError{Code: "NotFound", Message: "not found"}
	if err := mapErr("lookup", head404); !storage.IsNotFound(err) {
		t.Errorf("mapErr(NotFound) = %v, want ErrNotFound", err)
	}

	denied := &smithy.GenericAPIError{Code: "AccessDenied", Message: "forbidden"}
	if err := mapErr("fetch", denied); !storage.IsAccessDenied(err) {
		t.Errorf("mapErr(AccessDenied) = %v, want ErrAccessDenied", err)
	}

	other := errors.New("internal error")
	if err := mapErr("fetch", other); storage.IsNotFound(err) || storage.IsAccessDenied(err) || storage.IsNetwork(err) {
		t.Errorf("mapErr(other) over-classified: %v", err)
	}

	if mapErr("fetch", nil) != nil {
		t.Error("mapErr(nil) != nil")
	}
}
