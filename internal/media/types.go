package media

import (
	"context"
	"errors"
	"io"
	"mime"
	"path"
	"strings"
	"time"
)

// Category classifies stored media by its broad content type.
type Category string

const (
	CategoryImage Category = "image"
	CategoryVideo Category = "video"
)

// Item describes a stored media object. ID is the canonical
// "album/storedName" identifier used across the HTTP surface, the audit log,
// and the thumbnail area.
type Item struct {
	ID           string    `json:"id"`
	Album        string    `json:"album"`
	Name         string    `json:"name"`
	Category     Category  `json:"category"`
	SizeBytes    int64     `json:"sizeBytes"`
	CreatedAt    time.Time `json:"createdAt"`
	HasThumbnail bool      `json:"hasThumbnail"`
}

// Backend abstracts where media bytes live. Implementations must keep the
// original payload immutable once stored and report missing objects with
// ErrNotFound.
type Backend interface {
	// Store persists the payload under a freshly generated name inside the
	// album and returns the resulting item. The original file name only
	// contributes its extension; it is never stored verbatim.
	Store(ctx context.Context, album string, category Category, originalName string, src io.Reader) (Item, error)
	// Open returns a seekable reader over the stored payload together with
	// its metadata.
	Open(ctx context.Context, id string) (io.ReadSeekCloser, Item, error)
	// Delete removes the stored payload.
	Delete(ctx context.Context, id string) error
	// List enumerates every stored item, newest first.
	List(ctx context.Context) ([]Item, error)
	// Stage makes the payload available at a local filesystem path for
	// tooling that cannot consume a reader. The cleanup function must be
	// called once the path is no longer needed.
	Stage(ctx context.Context, id string) (string, func(), error)
	// StoreThumbnail saves a rendered JPEG preview for the item.
	StoreThumbnail(ctx context.Context, id string, jpeg []byte) error
	// DeleteThumbnail removes the preview if one exists. Missing previews
	// are not an error.
	DeleteThumbnail(ctx context.Context, id string) error
	// OpenThumbnail returns the stored JPEG preview for the item.
	OpenThumbnail(ctx context.Context, id string) (io.ReadSeekCloser, time.Time, error)
}

// ErrNotFound reports that the requested media object does not exist.
var ErrNotFound = errors.New("media not found")

// CategoryForContentType maps a declared MIME type to a media category.
func CategoryForContentType(contentType string) (Category, bool) {
	parsed, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		parsed = strings.ToLower(strings.TrimSpace(contentType))
	}
	switch {
	case strings.HasPrefix(parsed, "image/"):
		return CategoryImage, true
	case strings.HasPrefix(parsed, "video/"):
		return CategoryVideo, true
	default:
		return "", false
	}
}

// contentTypesByExtension covers the media extensions the server handles.
// The stdlib table is platform dependent and misses several video formats,
// so the common ones are pinned here.
var contentTypesByExtension = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mov":  "video/quicktime",
	".mkv":  "video/x-matroska",
	".m4v":  "video/x-m4v",
	".avi":  "video/x-msvideo",
}

// CategoryForFilename infers the category from a stored file's extension.
func CategoryForFilename(name string) (Category, bool) {
	ext := strings.ToLower(path.Ext(name))
	if ext == "" {
		return "", false
	}
	if contentType, ok := contentTypesByExtension[ext]; ok {
		return CategoryForContentType(contentType)
	}
	if contentType := mime.TypeByExtension(ext); contentType != "" {
		return CategoryForContentType(contentType)
	}
	return "", false
}

// ContentTypeForFilename resolves the MIME type served for a stored file.
func ContentTypeForFilename(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if contentType, ok := contentTypesByExtension[ext]; ok {
		return contentType
	}
	if contentType := mime.TypeByExtension(ext); contentType != "" {
		return contentType
	}
	return "application/octet-stream"
}
