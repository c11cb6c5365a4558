package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/media-registry/media-registry/internal/assets"
	"github.com/media-registry/media-registry/internal/config"
	"github.com/media-registry/media-registry/internal/storage"
	"github.com/media-registry/media-registry/internal/storage/storagetest"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newTestServer wires a router over a scriptable fake backend. Rate limiting
// is disabled so tests can issue as many requests as they like.
func newTestServer(t *testing.T, fake *storagetest.Fake) *gin.Engine {
	t.Helper()
	cfg := &config.Config{
		Storage: config.StorageConfig{
			CDN: config.CDNStorageConfig{
				CloudName:    "testcloud",
				APIKey:       "key123",
				APISecret:    "secret456",
				APIHost:      "api.mediacdn.example",
				DeliveryHost: "res.mediacdn.example",
			},
		},
		Cache: config.CacheConfig{Backend: "memory", TTL: 5 * time.Minute},
		Download: config.DownloadConfig{
			Workers:       2,
			QueueSize:     10,
			Ceiling:       5 * time.Second,
			ShutdownGrace: time.Second,
		},
	}

	facade, err := assets.New(cfg, fake)
	require.NoError(t, err)
	router, bg := NewRouter(cfg, fake, facade)
	t.Cleanup(bg.Shutdown)
	return router
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body []byte) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var decoded map[string]any
	if strings.Contains(w.Header().Get("Content-Type"), "application/json") {
		_ = json.Unmarshal(w.Body.Bytes(), &decoded)
	}
	return w, decoded
}

// ---- system endpoints -------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	r := newTestServer(t, storagetest.New())

	w, body := doJSON(t, r, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])
}

func TestReadyEndpoint(t *testing.T) {
	r := newTestServer(t, storagetest.New())

	// The fake answers not-found for the sentinel probe, which proves
	// reachability.
	w, body := doJSON(t, r, http.MethodGet, "/ready", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["ready"])
}

// ---- content ----------------------------------------------------------------

func TestUploadEndpoint(t *testing.T) {
	fake := storagetest.New()
	fake.UploadType = storage.TypeImage
	r := newTestServer(t, fake)

	req := httptest.NewRequest(http.MethodPost, "/v1/content?folder=photos", strings.NewReader("image bytes"))
	req.Header.Set("Content-Type", "application/octet-stream")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	id, _ := body["id"].(string)
	assert.True(t, strings.HasPrefix(id, "photos/"), "id %q should carry the folder prefix", id)
	assert.Equal(t, "image", body["type"])
}

func TestUploadEndpoint_EmptyBody(t *testing.T) {
	r := newTestServer(t, storagetest.New())

	req := httptest.NewRequest(http.MethodPost, "/v1/content", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDownloadEndpoint(t *testing.T) {
	fake := storagetest.New()
	r := newTestServer(t, fake)

	fake.SetFetch(storagetest.Key{ID: "folder/abc", Type: storage.TypeRaw, Authenticated: true},
		[]byte("payload"), nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/content/folder/abc", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "payload", w.Body.String())
}

func TestDownloadEndpoint_NotFound(t *testing.T) {
	r := newTestServer(t, storagetest.New())

	w, _ := doJSON(t, r, http.MethodGet, "/v1/content/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteEndpoint(t *testing.T) {
	fake := storagetest.New()
	r := newTestServer(t, fake)

	fake.SetDestroy(storagetest.Key{ID: "abc", Type: storage.TypeRaw, Authenticated: true}, nil)

	w, _ := doJSON(t, r, http.MethodDelete, "/v1/content/abc", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestDeleteEndpoint_AbsentIs404(t *testing.T) {
	r := newTestServer(t, storagetest.New())

	w, _ := doJSON(t, r, http.MethodDelete, "/v1/content/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// ---- urls -------------------------------------------------------------------

func TestURLEndpoint(t *testing.T) {
	r := newTestServer(t, storagetest.New())

	w, body := doJSON(t, r, http.MethodGet, "/v1/url/folder/abc", nil)
	require.Equal(t, http.StatusOK, w.Code)
	u, _ := body["url"].(string)
	assert.Contains(t, u, "/image/upload/")
	assert.True(t, strings.HasSuffix(u, "/folder/abc"), "url %q should end with the id", u)
}

func TestURLEndpoint_ExplicitTypeRejectsAuto(t *testing.T) {
	r := newTestServer(t, storagetest.New())

	// ParseType maps "auto" to unknown, which URLWithType rejects.
	w, _ := doJSON(t, r, http.MethodGet, "/v1/url/abc?type=auto", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSignedURLEndpoint(t *testing.T) {
	r := newTestServer(t, storagetest.New())

	w, body := doJSON(t, r, http.MethodGet, "/v1/signed-url/abc?minutes=30&type=raw&format=pdf", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	u, _ := body["url"].(string)
	assert.Contains(t, u, "/raw/download")
}

func TestSignedURLEndpoint_InvalidMinutes(t *testing.T) {
	r := newTestServer(t, storagetest.New())

	for _, q := range []string{"minutes=abc", "minutes=0", "minutes=-5"} {
		w, _ := doJSON(t, r, http.MethodGet, "/v1/signed-url/abc?"+q+"&type=raw", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, "query %q", q)
	}
}

func TestTransformURLEndpoint(t *testing.T) {
	r := newTestServer(t, storagetest.New())

	w, body := doJSON(t, r, http.MethodGet, "/v1/transform-url/abc?w=300&h=200&c=fill&q=80&f=webp", nil)
	require.Equal(t, http.StatusOK, w.Code)
	want := "https://res.mediacdn.example/testcloud/image/upload/w_300,h_200,c_fill,q_80/abc.webp"
	assert.Equal(t, want, body["url"])
}

// ---- details and move -------------------------------------------------------

func TestDetailsEndpoint(t *testing.T) {
	fake := storagetest.New()
	r := newTestServer(t, fake)

	fake.SetLookup(storagetest.Key{ID: "abc", Type: storage.TypeVideo, Authenticated: true},
		&storage.AssetInfo{ID: "abc", Type: storage.TypeVideo, Format: "mp4", Size: 2048}, nil)

	w, body := doJSON(t, r, http.MethodGet, "/v1/details/abc", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "video", body["type"])
	assert.Equal(t, "mp4", body["format"])
}

func TestDetailsEndpoint_NotFound(t *testing.T) {
	r := newTestServer(t, storagetest.New())

	w, _ := doJSON(t, r, http.MethodGet, "/v1/details/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMoveEndpoint(t *testing.T) {
	fake := storagetest.New()
	r := newTestServer(t, fake)

	fake.SetRename(storagetest.Key{ID: "invoices/abc", Type: storage.TypeRaw, Authenticated: true},
		&storage.AssetInfo{ID: "invoices/abc", Type: storage.TypeRaw}, nil)

	payload, _ := json.Marshal(map[string]string{"folder": "archive", "type": "raw"})
	w, body := doJSON(t, r, http.MethodPost, "/v1/move/invoices/abc", payload)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "archive/abc", body["new_id"])
}

func TestMoveEndpoint_ExhaustionIsConflict(t *testing.T) {
	r := newTestServer(t, storagetest.New())

	payload, _ := json.Marshal(map[string]string{"folder": "archive"})
	w, _ := doJSON(t, r, http.MethodPost, "/v1/move/ghost", payload)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestMoveEndpoint_AutoTypeRejected(t *testing.T) {
	r := newTestServer(t, storagetest.New())

	payload, _ := json.Marshal(map[string]string{"folder": "archive", "type": "auto"})
	w, _ := doJSON(t, r, http.MethodPost, "/v1/move/abc", payload)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
