package assets

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/media-registry/media-registry/internal/config"
	"github.com/media-registry/media-registry/internal/storage"
	"github.com/media-registry/media-registry/internal/storage/cdn"
	"github.com/media-registry/media-registry/internal/storage/storagetest"
)

func testCDNConfig() *config.CDNStorageConfig {
	return &config.CDNStorageConfig{
		CloudName:    "testcloud",
		APIKey:       "key123",
		APISecret:    "secret456",
		APIHost:      "api.mediacdn.example",
		DeliveryHost: "res.mediacdn.example",
	}
}

func newTestURLGenerator(fake *storagetest.Fake) *URLGenerator {
	cache := NewMemoryCache(5 * time.Minute)
	metrics := NewSuccessMetrics()
	return NewURLGenerator(testCDNConfig(), fake, NewResolver(fake, cache, metrics))
}

// ---------------------------------------------------------------------------
// Delivery URLs
// ---------------------------------------------------------------------------

func TestURL_GuessesImageNamespace(t *testing.T) {
	fake := storagetest.New()
	g := newTestURLGenerator(fake)

	u, err := g.URL("folder/abc", true)
	if err != nil {
		t.Fatalf("URL() error = %v", err)
	}
	if !strings.HasPrefix(u, "https://res.mediacdn.example/testcloud/image/upload/") {
		t.Errorf("URL() = %q, want the image namespace", u)
	}
	if !strings.HasSuffix(u, "/folder/abc") {
		t.Errorf("URL() = %q, want it to end with the object id", u)
	}
	// Building a URL never touches the backend.
	if n := fake.CallCount("lookup"); n != 0 {
		t.Errorf("backend lookups = %d, want 0", n)
	}
}

func TestURL_InsecureScheme(t *testing.T) {
	g := newTestURLGenerator(storagetest.New())

	u, err := g.URL("abc", false)
	if err != nil {
		t.Fatalf("URL() error = %v", err)
	}
	if !strings.HasPrefix(u, "http://") {
		t.Errorf("URL(secure=false) = %q, want http scheme", u)
	}
}

func TestURLWithType_RejectsNonConcrete(t *testing.T) {
	g := newTestURLGenerator(storagetest.New())

	for _, rt := range []storage.ResourceType{storage.TypeUnknown, storage.ResourceType("auto")} {
		_, err := g.URLWithType("abc", true, rt)
		var usage *UsageError
		if !errors.As(err, &usage) {
			t.Errorf("URLWithType(%q) error = %v, want *UsageError", rt, err)
		}
	}

	u, err := g.URLWithType("abc", true, storage.TypeVideo)
	if err != nil {
		t.Fatalf("URLWithType(video) error = %v", err)
	}
	if !strings.Contains(u, "/video/upload/") {
		t.Errorf("URLWithType(video) = %q, want the video namespace", u)
	}
}

func TestURL_MissingAccountConfig(t *testing.T) {
	fake := storagetest.New()
	cache := NewMemoryCache(5 * time.Minute)
	metrics := NewSuccessMetrics()
	cfg := testCDNConfig()
	cfg.APISecret = ""
	g := NewURLGenerator(cfg, fake, NewResolver(fake, cache, metrics))

	_, err := g.URL("abc", true)
	var remote *RemoteConfigError
	if !errors.As(err, &remote) {
		t.Fatalf("URL() error = %v, want *RemoteConfigError", err)
	}
	if remote.Missing != "api_secret" {
		t.Errorf("missing = %q, want api_secret", remote.Missing)
	}
}

// ---------------------------------------------------------------------------
// Signed download URLs
// ---------------------------------------------------------------------------

func TestSignedDownloadURL_ExpirationBounds(t *testing.T) {
	g := newTestURLGenerator(storagetest.New())
	ctx := context.Background()

	for _, minutes := range []int64{0, -1, math.MaxInt32, math.MaxInt64} {
		_, err := g.SignedDownloadURL(ctx, "abc", minutes, storage.TypeRaw, "bin")
		var usage *UsageError
		if !errors.As(err, &usage) {
			t.Errorf("SignedDownloadURL(minutes=%d) error = %v, want *UsageError", minutes, err)
		}
	}
}

func TestSignedDownloadURL_RawManualSignature(t *testing.T) {
	fake := storagetest.New()
	g := newTestURLGenerator(fake)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return fixed }

	u, err := g.SignedDownloadURL(context.Background(), "reports/q1", 30, storage.TypeRaw, "pdf")
	if err != nil {
		t.Fatalf("SignedDownloadURL() error = %v", err)
	}

	parsed, err := url.Parse(u)
	if err != nil {
		t.Fatalf("unparseable URL %q: %v", u, err)
	}
	if parsed.Host != "api.mediacdn.example" || parsed.Path != "/v1/testcloud/raw/download" {
		t.Errorf("URL = %q, want the raw download endpoint", u)
	}

	q := parsed.Query()
	if q.Get("public_id") != "reports/q1" || q.Get("format") != "pdf" {
		t.Errorf("query identity = (%q, %q)", q.Get("public_id"), q.Get("format"))
	}
	wantExpiry := fixed.Add(30 * time.Minute).Unix()
	if q.Get("expires_at") != strconv.FormatInt(wantExpiry, 10) {
		t.Errorf("expires_at = %q, want %d", q.Get("expires_at"), wantExpiry)
	}
	if q.Get("api_key") != "key123" {
		t.Errorf("api_key = %q", q.Get("api_key"))
	}

	// The signature must verify against the very parameters in the URL.
	if got, want := q.Get("signature"), cdn.SignParams(q, "secret456"); got != want {
		t.Errorf("signature = %q, want %q", got, want)
	}
}

func TestSignedDownloadURL_RawFormatDefaultsToBin(t *testing.T) {
	fake := storagetest.New()
	g := newTestURLGenerator(fake)

	// No format argument and no backend metadata: the raw URL still needs a
	// format, so "bin" is substituted.
	u, err := g.SignedDownloadURL(context.Background(), "abc", 5, storage.TypeRaw, "")
	if err != nil {
		t.Fatalf("SignedDownloadURL() error = %v", err)
	}
	parsed, _ := url.Parse(u)
	if got := parsed.Query().Get("format"); got != "bin" {
		t.Errorf("format = %q, want bin", got)
	}
}

func TestSignedDownloadURL_FormatFromAdminLookup(t *testing.T) {
	fake := storagetest.New()
	g := newTestURLGenerator(fake)

	fake.SetLookup(storagetest.Key{ID: "abc", Type: storage.TypeRaw, Authenticated: true},
		&storage.AssetInfo{ID: "abc", Type: storage.TypeRaw, Format: "zip"}, nil)

	u, err := g.SignedDownloadURL(context.Background(), "abc", 5, storage.TypeRaw, "")
	if err != nil {
		t.Fatalf("SignedDownloadURL() error = %v", err)
	}
	parsed, _ := url.Parse(u)
	if got := parsed.Query().Get("format"); got != "zip" {
		t.Errorf("format = %q, want zip from the admin lookup", got)
	}
}

func TestSignedDownloadURL_ImageUsesPrivateEndpoint(t *testing.T) {
	fake := storagetest.New()
	g := newTestURLGenerator(fake)

	u, err := g.SignedDownloadURL(context.Background(), "abc", 5, storage.TypeImage, "png")
	if err != nil {
		t.Fatalf("SignedDownloadURL() error = %v", err)
	}
	if !strings.Contains(u, "/image/download") {
		t.Errorf("URL = %q, want the image download endpoint", u)
	}
}

func TestSignedDownloadURL_ResolvesWhenTypeUnknown(t *testing.T) {
	fake := storagetest.New()
	g := newTestURLGenerator(fake)

	fake.SetLookup(storagetest.Key{ID: "abc", Type: storage.TypeVideo, Authenticated: true},
		&storage.AssetInfo{ID: "abc", Type: storage.TypeVideo, Format: "mp4"}, nil)

	u, err := g.SignedDownloadURL(context.Background(), "abc", 5, storage.TypeUnknown, "")
	if err != nil {
		t.Fatalf("SignedDownloadURL() error = %v", err)
	}
	if !strings.Contains(u, "/video/download") {
		t.Errorf("URL = %q, want the resolved video endpoint", u)
	}
}

func TestSignedDownloadURL_UnresolvableFallsBackToRaw(t *testing.T) {
	fake := storagetest.New()
	g := newTestURLGenerator(fake)

	u, err := g.SignedDownloadURL(context.Background(), "ghost", 5, storage.TypeUnknown, "")
	if err != nil {
		t.Fatalf("SignedDownloadURL() error = %v", err)
	}
	if !strings.Contains(u, "/raw/download") {
		t.Errorf("URL = %q, want the raw endpoint for an unresolvable object", u)
	}
}

func TestSignedDownloadURL_MissingCredentials(t *testing.T) {
	fake := storagetest.New()
	cache := NewMemoryCache(5 * time.Minute)
	metrics := NewSuccessMetrics()

	for _, tc := range []struct {
		name    string
		mutate  func(*config.CDNStorageConfig)
		missing string
	}{
		{"no secret", func(c *config.CDNStorageConfig) { c.APISecret = "" }, "api_secret"},
		{"no key", func(c *config.CDNStorageConfig) { c.APIKey = "" }, "api_key"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testCDNConfig()
			tc.mutate(cfg)
			g := NewURLGenerator(cfg, fake, NewResolver(fake, cache, metrics))

			_, err := g.SignedDownloadURL(context.Background(), "abc", 5, storage.TypeRaw, "bin")
			var remote *RemoteConfigError
			if !errors.As(err, &remote) {
				t.Fatalf("error = %v, want *RemoteConfigError", err)
			}
			if remote.Missing != tc.missing {
				t.Errorf("missing = %q, want %q", remote.Missing, tc.missing)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Transformations
// ---------------------------------------------------------------------------

func TestTransformURL(t *testing.T) {
	g := newTestURLGenerator(storagetest.New())

	u, err := g.TransformURL("abc", true, Transform{Width: 300, Height: 200, Crop: "fill", Quality: 80, Format: "webp"})
	if err != nil {
		t.Fatalf("TransformURL() error = %v", err)
	}
	want := "https://res.mediacdn.example/testcloud/image/upload/w_300,h_200,c_fill,q_80/abc.webp"
	if u != want {
		t.Errorf("TransformURL() = %q, want %q", u, want)
	}
}

func TestTransformURL_NoParameters(t *testing.T) {
	g := newTestURLGenerator(storagetest.New())

	u, err := g.TransformURL("abc", true, Transform{})
	if err != nil {
		t.Fatalf("TransformURL() error = %v", err)
	}
	want := "https://res.mediacdn.example/testcloud/image/upload/abc"
	if u != want {
		t.Errorf("TransformURL() = %q, want %q", u, want)
	}
	if strings.Contains(u, "//abc") {
		t.Errorf("TransformURL() = %q contains an empty transformation segment", u)
	}
}

func TestTransformURL_PartialParameters(t *testing.T) {
	g := newTestURLGenerator(storagetest.New())

	u, err := g.TransformURL("abc", false, Transform{Width: 100})
	if err != nil {
		t.Fatalf("TransformURL() error = %v", err)
	}
	want := fmt.Sprintf("http://%s/testcloud/image/upload/w_100/abc", "res.mediacdn.example")
	if u != want {
		t.Errorf("TransformURL() = %q, want %q", u, want)
	}
}
