package media

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultAlbum receives uploads that do not name an album.
	DefaultAlbum = "general"
	// thumbnailArea is the reserved album prefix holding rendered previews.
	// It is never listed and can never be uploaded to directly.
	thumbnailArea = ".thumbs"
)

var (
	albumPattern     = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)
	extensionPattern = regexp.MustCompile(`^\.[a-z0-9]{1,8}$`)
)

// SanitizeAlbum normalizes the requested album name. An empty request maps to
// DefaultAlbum; anything containing path separators, traversal sequences, or
// characters outside the allowed set is rejected.
func SanitizeAlbum(raw string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" {
		return DefaultAlbum, nil
	}
	if !albumPattern.MatchString(trimmed) {
		return "", fmt.Errorf("%w: %q", ErrBadAlbum, raw)
	}
	return trimmed, nil
}

// newStoredName builds a collision-free stored file name. The timestamp
// prefix keeps directory listings roughly chronological; the random component
// disambiguates same-nanosecond uploads.
func newStoredName(originalName string) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%d-%s%s", time.Now().UnixNano(), random, sanitizeExtension(originalName))
}

func sanitizeExtension(originalName string) string {
	ext := strings.ToLower(path.Ext(originalName))
	if !extensionPattern.MatchString(ext) {
		return ".bin"
	}
	return ext
}

// ParseID splits a canonical "album/storedName" identifier into its parts,
// rejecting anything that could escape the album it names.
func ParseID(id string) (album, name string, err error) {
	parts := strings.Split(id, "/")
	if len(parts) != 2 || parts[0] == "" {
		return "", "", fmt.Errorf("%w: %q", ErrBadMediaID, id)
	}
	album, err = SanitizeAlbum(parts[0])
	if err != nil {
		return "", "", fmt.Errorf("%w: %q", ErrBadMediaID, id)
	}
	name = parts[1]
	if name == "" || name != path.Base(name) || strings.HasPrefix(name, ".") {
		return "", "", fmt.Errorf("%w: %q", ErrBadMediaID, id)
	}
	return album, name, nil
}

// ItemID joins an album and stored name into the canonical identifier.
func ItemID(album, name string) string {
	return album + "/" + name
}
