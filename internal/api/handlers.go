// handlers.go maps the asset facade's verbs onto HTTP. Handlers stay thin:
// parameter parsing, one facade call, and a shared error-classification
// response helper. All probe/fallback intelligence lives in internal/assets.
package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/media-registry/media-registry/internal/assets"
	"github.com/media-registry/media-registry/internal/storage"
)

// maxUploadBytes bounds an upload request body. Large media belongs on a
// direct-to-store path, not through this API.
const maxUploadBytes = 100 << 20

// Handlers serves the asset API over a facade.
type Handlers struct {
	facade *assets.Facade
}

// NewHandlers builds the handler set.
func NewHandlers(facade *assets.Facade) *Handlers {
	return &Handlers{facade: facade}
}

// objectID extracts the object id from a Gin wildcard parameter. Gin includes
// the leading slash in wildcard values ("/invoices/3f2a"), which is not part
// of the id.
func objectID(c *gin.Context) string {
	return strings.TrimPrefix(c.Param("id"), "/")
}

// writeError translates the assets/storage error taxonomy into HTTP statuses.
func writeError(c *gin.Context, err error) {
	var usage *assets.UsageError
	var unavailable *assets.ObjectUnavailableError
	var timeout *assets.TimeoutError
	var canceled *assets.CanceledError
	var remoteCfg *assets.RemoteConfigError

	switch {
	case errors.As(err, &usage):
		c.JSON(http.StatusBadRequest, gin.H{"error": usage.Error()})
	case errors.As(err, &unavailable), storage.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": "object not found"})
	case errors.As(err, &timeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": timeout.Error()})
	case errors.As(err, &canceled):
		// 499 is the de-facto "client closed request" status.
		c.JSON(499, gin.H{"error": canceled.Error()})
	case errors.As(err, &remoteCfg), storage.IsNetwork(err):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage backend unavailable"})
	case storage.IsAccessDenied(err):
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// Upload stores a new asset. The body is either a multipart form with a
// "file" field or the raw object bytes. Optional query parameters: folder,
// type (image|video|raw, default auto-detect), format, authenticated.
func (h *Handlers) Upload(c *gin.Context) {
	data, err := readUploadBody(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty upload body"})
		return
	}

	opts := assets.UploadOptions{
		Folder:        c.Query("folder"),
		Authenticated: c.Query("authenticated") == "true",
		Type:          storage.ParseType(c.Query("type")),
		Format:        c.Query("format"),
	}

	info, err := h.facade.Upload(c.Request.Context(), data, opts)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":         info.ID,
		"type":       info.Type,
		"format":     info.Format,
		"size":       info.Size,
		"checksum":   info.Checksum,
		"created_at": info.CreatedAt,
	})
}

func readUploadBody(c *gin.Context) ([]byte, error) {
	reader := http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		file, _, err := c.Request.FormFile("file")
		if err != nil {
			return nil, errors.New("multipart upload requires a 'file' field")
		}
		defer file.Close()
		return io.ReadAll(io.LimitReader(file, maxUploadBytes))
	}
	return io.ReadAll(reader)
}

// Download streams the object's bytes.
func (h *Handlers) Download(c *gin.Context) {
	id := objectID(c)

	data, err := h.facade.Download(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.Data(http.StatusOK, "application/octet-stream", data)
}

// Delete removes the object. Deleting an absent object answers 404 without an
// error body distinction; the operation itself never fails on absence.
func (h *Handlers) Delete(c *gin.Context) {
	id := objectID(c)

	deleted, err := h.facade.Delete(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "object not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// URL returns a delivery URL. With a type query parameter the URL is exact;
// without one it is a best-effort guess the client must tolerate a 404 on.
func (h *Handlers) URL(c *gin.Context) {
	id := objectID(c)
	secure := c.DefaultQuery("secure", "true") != "false"

	var u string
	var err error
	if typeParam := c.Query("type"); typeParam != "" {
		u, err = h.facade.URLWithType(id, secure, storage.ParseType(typeParam))
	} else {
		u, err = h.facade.URL(id, secure)
	}
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": u})
}

// SignedDownloadURL returns a time-limited download URL. Query parameters:
// minutes (required, positive), type, format.
func (h *Handlers) SignedDownloadURL(c *gin.Context) {
	id := objectID(c)

	minutes, err := strconv.ParseInt(c.DefaultQuery("minutes", "60"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "minutes must be an integer"})
		return
	}

	u, err := h.facade.SignedDownloadURL(c.Request.Context(), id, minutes,
		storage.ParseType(c.Query("type")), c.Query("format"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"url":            u,
		"expires_in_min": minutes,
	})
}

// TransformURL returns a transformation delivery URL. Query parameters: w, h,
// c (crop mode), q (quality), f (target format), secure.
func (h *Handlers) TransformURL(c *gin.Context) {
	id := objectID(c)
	secure := c.DefaultQuery("secure", "true") != "false"

	t := assets.Transform{
		Width:   intQuery(c, "w"),
		Height:  intQuery(c, "h"),
		Crop:    c.Query("c"),
		Quality: intQuery(c, "q"),
		Format:  c.Query("f"),
	}

	u, err := h.facade.TransformURL(id, secure, t)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": u})
}

func intQuery(c *gin.Context, key string) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return 0
	}
	return v
}

// ResourceDetails returns the object's metadata.
func (h *Handlers) ResourceDetails(c *gin.Context) {
	id := objectID(c)

	info, err := h.facade.ResourceDetails(c.Request.Context(), id, storage.ParseType(c.Query("type")))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":         info.ID,
		"type":       info.Type,
		"format":     info.Format,
		"size":       info.Size,
		"created_at": info.CreatedAt,
	})
}

// moveRequest is the body of a move call.
type moveRequest struct {
	Folder string `json:"folder"`
	Type   string `json:"type"`
}

// Move renames the object into a new folder. The JSON body carries the target
// folder and an optional explicit resource type.
func (h *Handlers) Move(c *gin.Context) {
	id := objectID(c)

	var req moveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	explicit := storage.TypeUnknown
	if req.Type != "" {
		explicit = storage.ResourceType(req.Type)
	}

	res, err := h.facade.Move(c.Request.Context(), id, req.Folder, explicit)
	if err != nil {
		var moveErr *assets.MoveError
		if errors.As(err, &moveErr) {
			c.JSON(http.StatusConflict, gin.H{"error": moveErr.Error()})
			return
		}
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"new_id": res.NewID,
		"type":   res.Type,
	})
}
