package assets

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/media-registry/media-registry/internal/config"
	"github.com/media-registry/media-registry/internal/storage"
	"github.com/media-registry/media-registry/internal/storage/cdn"
)

// URLGenerator builds delivery and download URLs locally, without a network
// round trip on the common path. Signed download URLs for image and video
// assets delegate to the CDN's private-download helper; raw assets have no
// such endpoint, so their URLs are assembled and signed by hand.
type URLGenerator struct {
	cfg      *config.CDNStorageConfig
	backend  storage.Backend
	resolver *Resolver
	log      *slog.Logger
	now      func() time.Time
}

// NewURLGenerator builds a URL generator over the CDN account configuration.
func NewURLGenerator(cfg *config.CDNStorageConfig, backend storage.Backend, resolver *Resolver) *URLGenerator {
	return &URLGenerator{
		cfg:      cfg,
		backend:  backend,
		resolver: resolver,
		log:      slog.Default().With("component", "urlgen"),
		now:      time.Now,
	}
}

// URL builds a delivery URL without confirming the object's type: it takes
// the first type in probe order that formats cleanly, which in practice is
// the image namespace. Callers must tolerate a 404 on first use; the point of
// this path is a zero-round-trip answer for "just show me a URL".
func (g *URLGenerator) URL(id string, secure bool) (string, error) {
	var lastErr error
	for _, rt := range storage.Types() {
		u, err := g.deliveryURL(id, rt, secure)
		if err == nil {
			return u, nil
		}
		lastErr = err
	}
	return "", lastErr
}

// URLWithType builds a delivery URL for a caller-confirmed type, eliminating
// the guess. An unknown or "auto" type is a usage error.
func (g *URLGenerator) URLWithType(id string, secure bool, rt storage.ResourceType) (string, error) {
	if !rt.IsConcrete() {
		return "", &UsageError{Reason: fmt.Sprintf("resource type %q cannot address a delivery URL", rt)}
	}
	return g.deliveryURL(id, rt, secure)
}

func (g *URLGenerator) deliveryURL(id string, rt storage.ResourceType, secure bool) (string, error) {
	if g.cfg.CloudName == "" {
		return "", &RemoteConfigError{Missing: "cloud_name"}
	}
	if g.cfg.APISecret == "" {
		return "", &RemoteConfigError{Missing: "api_secret"}
	}

	scheme := "https"
	if !secure {
		scheme = "http"
	}
	sig := cdn.SignaturePath(id, g.cfg.APISecret)
	return fmt.Sprintf("%s://%s/%s/%s/upload/%s/%s",
		scheme, g.cfg.DeliveryHost, g.cfg.CloudName, rt, sig, id), nil
}

// maxExpirationMinutes caps the expiry horizon so the minutes-to-duration
// conversion can never overflow int64 nanoseconds.
const maxExpirationMinutes = math.MaxInt64 / int64(time.Minute)

// SignedDownloadURL builds a time-limited download URL. The type is resolved
// when not supplied; an unresolvable object is treated as raw since raw
// already means "unknown content". The format falls back to an admin lookup
// and finally to "bin" for raw assets.
func (g *URLGenerator) SignedDownloadURL(ctx context.Context, id string, expirationMinutes int64, rt storage.ResourceType, format string) (string, error) {
	if expirationMinutes <= 0 {
		return "", &UsageError{Reason: fmt.Sprintf("expiration must be positive, got %d minutes", expirationMinutes)}
	}
	if expirationMinutes > maxExpirationMinutes {
		return "", &UsageError{Reason: fmt.Sprintf("expiration of %d minutes overflows the expiry instant", expirationMinutes)}
	}
	if g.cfg.APISecret == "" {
		return "", &RemoteConfigError{Missing: "api_secret"}
	}
	if g.cfg.APIKey == "" {
		return "", &RemoteConfigError{Missing: "api_key"}
	}

	expiresAt := g.now().Add(time.Duration(expirationMinutes) * time.Minute)

	if !rt.IsConcrete() {
		resolved, ok, err := g.resolver.Resolve(ctx, id)
		if err != nil {
			return "", err
		}
		if ok {
			rt = resolved
		} else {
			rt = storage.TypeRaw
		}
	}

	if format == "" {
		format = g.lookupFormat(ctx, id, rt)
	}

	if rt == storage.TypeImage || rt == storage.TypeVideo {
		return cdn.PrivateDownloadURL(g.cfg, id, rt, format, expiresAt)
	}
	return g.rawDownloadURL(id, format, expiresAt), nil
}

// lookupFormat asks the backend for the asset's format, retrying without the
// access qualifier on not-found. Failures degrade to an empty format; the
// raw path substitutes "bin" and the CDN helpers tolerate the omission.
func (g *URLGenerator) lookupFormat(ctx context.Context, id string, rt storage.ResourceType) string {
	info, err := g.backend.AdminLookup(ctx, id, rt, true)
	if err != nil && storage.IsNotFound(err) {
		info, err = g.backend.AdminLookup(ctx, id, rt, false)
	}
	if err != nil {
		g.log.Debug("format lookup failed, proceeding without it", "id", id, "type", rt, "error", err)
		return ""
	}
	return info.Format
}

// rawDownloadURL hand-builds the signed download URL the CDN's helper cannot:
// parameters are assembled, canonically signed with the shared secret, and
// encoded into the query string exactly as the download endpoint verifies
// them.
func (g *URLGenerator) rawDownloadURL(id, format string, expiresAt time.Time) string {
	if format == "" {
		format = "bin"
	}

	params := url.Values{}
	params.Set("public_id", id)
	params.Set("format", format)
	params.Set("expires_at", strconv.FormatInt(expiresAt.Unix(), 10))
	params.Set("timestamp", strconv.FormatInt(g.now().Unix(), 10))
	params.Set("signature", cdn.SignParams(params, g.cfg.APISecret))
	params.Set("api_key", g.cfg.APIKey)

	return fmt.Sprintf("https://%s/v1/%s/raw/download?%s",
		g.cfg.APIHost, g.cfg.CloudName, params.Encode())
}

// Transform describes the optional delivery transformation parameters.
type Transform struct {
	Width   int
	Height  int
	Crop    string
	Quality int
	Format  string
}

// TransformURL builds a transformation delivery URL. Transformations only
// apply to visual assets, so the image namespace is used and no type
// resolution happens.
func (g *URLGenerator) TransformURL(id string, secure bool, t Transform) (string, error) {
	if g.cfg.CloudName == "" {
		return "", &RemoteConfigError{Missing: "cloud_name"}
	}

	var parts []string
	if t.Width > 0 {
		parts = append(parts, "w_"+strconv.Itoa(t.Width))
	}
	if t.Height > 0 {
		parts = append(parts, "h_"+strconv.Itoa(t.Height))
	}
	if t.Crop != "" {
		parts = append(parts, "c_"+t.Crop)
	}
	if t.Quality > 0 {
		parts = append(parts, "q_"+strconv.Itoa(t.Quality))
	}

	scheme := "https"
	if !secure {
		scheme = "http"
	}

	target := id
	if t.Format != "" {
		target = id + "." + t.Format
	}

	if len(parts) == 0 {
		return fmt.Sprintf("%s://%s/%s/image/upload/%s",
			scheme, g.cfg.DeliveryHost, g.cfg.CloudName, target), nil
	}
	return fmt.Sprintf("%s://%s/%s/image/upload/%s/%s",
		scheme, g.cfg.DeliveryHost, g.cfg.CloudName, strings.Join(parts, ","), target), nil
}
