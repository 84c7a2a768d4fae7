package media

import (
	"errors"
	"fmt"
)

const defaultMaxUploadBytes = 500 << 20

var (
	// ErrTooLarge reports an upload exceeding the configured size limit.
	ErrTooLarge = errors.New("upload exceeds size limit")
	// ErrUnsupportedType reports an upload whose content type is neither
	// image nor video.
	ErrUnsupportedType = errors.New("unsupported media type")
	// ErrBadAlbum reports an album name that failed sanitization.
	ErrBadAlbum = errors.New("invalid album name")
	// ErrBadMediaID reports a malformed media identifier.
	ErrBadMediaID = errors.New("invalid media id")
)

// Validator holds the pure-data upload acceptance policy. The zero value is
// not usable; construct via NewValidator.
type Validator struct {
	// MaxSizeBytes caps accepted uploads. Zero means unbounded; callers
	// opting into that should surface the risk at startup.
	MaxSizeBytes int64
	// Allowed restricts the accepted categories. Empty means both image
	// and video.
	Allowed []Category
}

// NewValidator builds a Validator with the provided size limit and category
// set. A zero limit falls back to the default; a negative limit disables the
// cap entirely.
func NewValidator(maxSizeBytes int64, allowed ...Category) Validator {
	if maxSizeBytes == 0 {
		maxSizeBytes = defaultMaxUploadBytes
	}
	if maxSizeBytes < 0 {
		maxSizeBytes = 0
	}
	return Validator{MaxSizeBytes: maxSizeBytes, Allowed: allowed}
}

func (v Validator) categoryAllowed(category Category) bool {
	if len(v.Allowed) == 0 {
		return true
	}
	for _, allowed := range v.Allowed {
		if allowed == category {
			return true
		}
	}
	return false
}

// Decision is the outcome of a successful validation.
type Decision struct {
	Category Category
	Album    string
}

// Accept checks an upload request against the policy. Checks run in a fixed
// order so callers always see the size violation first, then the type
// violation, then the album violation.
func (v Validator) Accept(contentType string, sizeBytes int64, album string) (Decision, error) {
	if v.MaxSizeBytes > 0 && sizeBytes > v.MaxSizeBytes {
		return Decision{}, fmt.Errorf("%w: %d bytes over limit %d", ErrTooLarge, sizeBytes, v.MaxSizeBytes)
	}
	category, ok := CategoryForContentType(contentType)
	if !ok || !v.categoryAllowed(category) {
		return Decision{}, fmt.Errorf("%w: %q", ErrUnsupportedType, contentType)
	}
	sanitized, err := SanitizeAlbum(album)
	if err != nil {
		return Decision{}, err
	}
	return Decision{Category: category, Album: sanitized}, nil
}
