package storage

import (
	"net/http"
	"strings"
)

// DetectType infers a resource type from content bytes. Blob-store backends
// use it to honor auto-detect uploads, which the managed CDN does server-side.
// Anything that does not sniff as an image or video MIME type is raw.
func DetectType(data []byte) ResourceType {
	ct := http.DetectContentType(data)
	switch {
	case strings.HasPrefix(ct, "image/"):
		return TypeImage
	case strings.HasPrefix(ct, "video/"):
		return TypeVideo
	}
	return TypeRaw
}

// ObjectKey builds the canonical blob-store key for an asset. The access mode
// and resource type are both part of the key so the same id can only be found
// under the (type, mode) pair it was stored with, mirroring the CDN's
// namespacing.
func ObjectKey(id string, rt ResourceType, authenticated bool) string {
	mode := "public"
	if authenticated {
		mode = "authenticated"
	}
	return mode + "/" + string(rt) + "/" + id
}
