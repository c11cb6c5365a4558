// Package cdn implements the managed media CDN storage backend. The CDN is
// the registry's primary blob store: assets are addressed by (resource type,
// object id), uploads can auto-detect the type, and all admin verbs require a
// signed request. The CDN's admin index is not always consistent about the
// access qualifier — an asset uploaded as authenticated is occasionally only
// findable without the qualifier — which is why the resolver in
// internal/assets probes both modes.
//
// Two separate HTTP clients are used — one for admin API calls and one for
// content fetches. Admin calls are small metadata round trips that should fail
// fast; fetches move asset bytes and get the full read timeout.
package cdn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/media-registry/media-registry/internal/config"
	"github.com/media-registry/media-registry/internal/storage"
)

func init() {
	// Register CDN storage backend
	storage.Register("cdn", func(cfg *config.Config) (storage.Backend, error) {
		return New(&cfg.Storage.CDN)
	})
}

// Client implements the Backend interface against the CDN's HTTP API
type Client struct {
	cfg         config.CDNStorageConfig
	apiBase     string
	deliverBase string
	apiClient   *http.Client
	fetchClient *http.Client
}

// New creates a new CDN backend client
func New(cfg *config.CDNStorageConfig) (*Client, error) {
	if cfg.CloudName == "" {
		return nil, fmt.Errorf("cdn cloud_name is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("cdn api_key is required")
	}
	if cfg.APISecret == "" {
		return nil, fmt.Errorf("cdn api_secret is required")
	}

	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 30 * time.Second
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
	}

	return &Client{
		cfg:         *cfg,
		apiBase:     hostURL(cfg.APIHost),
		deliverBase: hostURL(cfg.DeliveryHost),
		apiClient: &http.Client{
			Timeout:   readTimeout,
			Transport: transport,
		},
		fetchClient: &http.Client{
			Timeout:   readTimeout,
			Transport: transport,
		},
	}, nil
}

// hostURL normalizes a configured host into a base URL. A bare host gets
// https; a value that already carries a scheme is used as-is, which is what
// test servers hand out.
func hostURL(host string) string {
	if strings.Contains(host, "://") {
		return strings.TrimSuffix(host, "/")
	}
	return "https://" + host
}

// apiURL builds an admin API URL under the account's namespace
func (c *Client) apiURL(parts ...string) string {
	return fmt.Sprintf("%s/v1/%s/%s", c.apiBase, c.cfg.CloudName, strings.Join(parts, "/"))
}

// accessMode returns the CDN's spelling of the access qualifier
func accessMode(authenticated bool) string {
	if authenticated {
		return "authenticated"
	}
	return "upload"
}

// assetResponse is the CDN's JSON shape for upload, lookup, and rename results
type assetResponse struct {
	PublicID     string `json:"public_id"`
	ResourceType string `json:"resource_type"`
	Format       string `json:"format"`
	Bytes        int64  `json:"bytes"`
	Etag         string `json:"etag"`
	CreatedAt    string `json:"created_at"`
	Result       string `json:"result"`
}

func (r *assetResponse) toAssetInfo() *storage.AssetInfo {
	created, _ := time.Parse(time.RFC3339, r.CreatedAt)
	return &storage.AssetInfo{
		ID:        r.PublicID,
		Type:      storage.ParseType(r.ResourceType),
		Format:    r.Format,
		Size:      r.Bytes,
		CreatedAt: created,
	}
}

// do executes an API request and classifies the response. 404 maps to
// storage.ErrNotFound, 401/403 to storage.ErrAccessDenied, transport-level
// DNS/dial failures to *storage.NetworkError.
func (c *Client) do(req *http.Request, op string) (*assetResponse, error) {
	resp, err := c.apiClient.Do(req)
	if err != nil {
		return nil, storage.ClassifyNetwork(op, unwrapURLError(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%s: reading response: %w", op, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%s: %w", op, storage.ErrAccessDenied)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%s: cdn returned %d: %s", op, resp.StatusCode, truncate(body, 200))
	}

	var out assetResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%s: decoding response: %w", op, err)
	}
	return &out, nil
}

// unwrapURLError strips the *url.Error layer so network classification sees
// the underlying dial/DNS error.
func unwrapURLError(err error) error {
	if ue, ok := err.(*url.Error); ok {
		return ue.Err
	}
	return err
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// signedForm builds a form with timestamp, api_key, and signature added
func (c *Client) signedForm(params url.Values) url.Values {
	params.Set("timestamp", strconv.FormatInt(time.Now().Unix(), 10))
	params.Set("signature", SignParams(params, c.cfg.APISecret))
	params.Set("api_key", c.cfg.APIKey)
	return params
}

// Upload stores an asset on the CDN. An unknown type is sent as "auto" so the
// CDN detects it from the content; the confirmed type comes back in the
// response.
func (c *Client) Upload(ctx context.Context, data []byte, opts storage.UploadOptions) (*storage.UploadInfo, error) {
	publicID := opts.PublicID
	if publicID == "" {
		publicID = uuid.New().String()
	}

	typeSegment := "auto"
	if opts.Type.IsConcrete() {
		typeSegment = string(opts.Type)
	}

	params := url.Values{}
	params.Set("public_id", publicID)
	if opts.Folder != "" {
		params.Set("folder", opts.Folder)
	}
	if opts.Authenticated {
		params.Set("access_mode", "authenticated")
	}
	if opts.Format != "" {
		params.Set("format", opts.Format)
	}
	params = c.signedForm(params)

	endpoint := c.apiURL(typeSegment, "upload") + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.do(req, "upload")
	if err != nil {
		return nil, err
	}

	info := resp.toAssetInfo()
	return &storage.UploadInfo{
		ID:        info.ID,
		Type:      info.Type,
		Format:    info.Format,
		Size:      info.Size,
		Checksum:  resp.Etag,
		CreatedAt: info.CreatedAt,
	}, nil
}

// Fetch retrieves asset bytes via a delivery URL. Authenticated assets are
// fetched through a signed URL since the CDN refuses unsigned reads for them.
func (c *Client) Fetch(ctx context.Context, id string, rt storage.ResourceType, authenticated bool) ([]byte, error) {
	if !rt.IsConcrete() {
		return nil, fmt.Errorf("fetch %s: resource type must be concrete", id)
	}

	fetchURL := c.deliveryURL(id, rt, authenticated)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}

	resp, err := c.fetchClient.Do(req)
	if err != nil {
		return nil, storage.ClassifyNetwork("fetch", unwrapURLError(err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("fetch %s/%s: %w", rt, id, storage.ErrNotFound)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("fetch %s/%s: %w", rt, id, storage.ErrAccessDenied)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("fetch %s/%s: cdn returned %d", rt, id, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch %s/%s: reading body: %w", rt, id, err)
	}
	return data, nil
}

// deliveryURL builds the content URL for an asset. Authenticated delivery
// embeds the signature path component described in sign.go.
func (c *Client) deliveryURL(id string, rt storage.ResourceType, authenticated bool) string {
	mode := accessMode(authenticated)
	if !authenticated {
		return fmt.Sprintf("%s/%s/%s/%s/%s", c.deliverBase, c.cfg.CloudName, rt, mode, id)
	}
	sig := SignaturePath(id, c.cfg.APISecret)
	return fmt.Sprintf("%s/%s/%s/%s/%s/%s", c.deliverBase, c.cfg.CloudName, rt, mode, sig, id)
}

// AdminLookup retrieves asset metadata from the admin API
func (c *Client) AdminLookup(ctx context.Context, id string, rt storage.ResourceType, authenticated bool) (*storage.AssetInfo, error) {
	if !rt.IsConcrete() {
		return nil, fmt.Errorf("lookup %s: resource type must be concrete", id)
	}

	endpoint := c.apiURL("resources", string(rt), id)
	if authenticated {
		endpoint += "?access_mode=authenticated"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("lookup: %w", err)
	}
	req.SetBasicAuth(c.cfg.APIKey, c.cfg.APISecret)

	resp, err := c.do(req, fmt.Sprintf("lookup %s/%s", rt, id))
	if err != nil {
		return nil, err
	}
	return resp.toAssetInfo(), nil
}

// Rename moves an asset to a new public id within its type namespace
func (c *Client) Rename(ctx context.Context, fromID, toID string, rt storage.ResourceType, authenticated bool) (*storage.AssetInfo, error) {
	if !rt.IsConcrete() {
		return nil, fmt.Errorf("rename %s: resource type must be concrete", fromID)
	}

	params := url.Values{}
	params.Set("from_public_id", fromID)
	params.Set("to_public_id", toID)
	if authenticated {
		params.Set("access_mode", "authenticated")
	}
	params = c.signedForm(params)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.apiURL("resources", string(rt), "rename"), strings.NewReader(params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("rename: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.do(req, fmt.Sprintf("rename %s/%s", rt, fromID))
	if err != nil {
		return nil, err
	}
	return resp.toAssetInfo(), nil
}

// Destroy removes an asset. The CDN answers 200 with result "not found" for
// absent assets on some plans and 404 on others; both map to ErrNotFound.
func (c *Client) Destroy(ctx context.Context, id string, rt storage.ResourceType, authenticated bool) error {
	if !rt.IsConcrete() {
		return fmt.Errorf("destroy %s: resource type must be concrete", id)
	}

	params := url.Values{}
	params.Set("public_id", id)
	if authenticated {
		params.Set("access_mode", "authenticated")
	}
	params = c.signedForm(params)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.apiURL("resources", string(rt), "destroy"), strings.NewReader(params.Encode()))
	if err != nil {
		return fmt.Errorf("destroy: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.do(req, fmt.Sprintf("destroy %s/%s", rt, id))
	if err != nil {
		return err
	}
	if resp.Result != "" && resp.Result != "ok" {
		if resp.Result == "not found" {
			return fmt.Errorf("destroy %s/%s: %w", rt, id, storage.ErrNotFound)
		}
		return fmt.Errorf("destroy %s/%s: cdn result %q", rt, id, resp.Result)
	}
	return nil
}

// PrivateDownloadURL is the CDN's high-level signed download helper. It only
// addresses the image and video namespaces — the CDN has no private-download
// endpoint for raw assets, so callers needing a raw download URL must
// assemble and sign one manually (see internal/assets.URLGenerator).
func PrivateDownloadURL(cfg *config.CDNStorageConfig, id string, rt storage.ResourceType, format string, expiresAt time.Time) (string, error) {
	if rt != storage.TypeImage && rt != storage.TypeVideo {
		return "", fmt.Errorf("private download helper cannot address resource type %q", rt)
	}

	params := url.Values{}
	params.Set("public_id", id)
	params.Set("format", format)
	params.Set("expires_at", strconv.FormatInt(expiresAt.Unix(), 10))
	params.Set("timestamp", strconv.FormatInt(time.Now().Unix(), 10))
	params.Set("signature", SignParams(params, cfg.APISecret))
	params.Set("api_key", cfg.APIKey)

	return fmt.Sprintf("https://%s/v1/%s/%s/download?%s", cfg.APIHost, cfg.CloudName, rt, params.Encode()), nil
}
