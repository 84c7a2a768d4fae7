package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// LocalConfig is the pure-data configuration for a filesystem backend.
type LocalConfig struct {
	Root string
}

// LocalBackend stores media under a root directory, one subdirectory per
// album. Thumbnails live under a reserved area mirroring the album layout.
type LocalBackend struct {
	root string
}

// NewLocalBackend prepares the root directory and returns a filesystem
// backend rooted there.
func NewLocalBackend(cfg LocalConfig) (*LocalBackend, error) {
	root := strings.TrimSpace(cfg.Root)
	if root == "" {
		return nil, fmt.Errorf("media root directory required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create media root: %w", err)
	}
	return &LocalBackend{root: root}, nil
}

// Store writes the payload to a temporary file and renames it into place so a
// partially written upload never becomes visible.
func (b *LocalBackend) Store(ctx context.Context, album string, category Category, originalName string, src io.Reader) (Item, error) {
	sanitized, err := SanitizeAlbum(album)
	if err != nil {
		return Item{}, err
	}
	albumDir := filepath.Join(b.root, sanitized)
	if err := os.MkdirAll(albumDir, 0o755); err != nil {
		return Item{}, fmt.Errorf("create album directory: %w", err)
	}

	temp, err := os.CreateTemp(albumDir, ".upload-*")
	if err != nil {
		return Item{}, fmt.Errorf("create temp file: %w", err)
	}
	tempPath := temp.Name()
	written, err := io.Copy(temp, src)
	if closeErr := temp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tempPath)
		return Item{}, fmt.Errorf("write upload: %w", err)
	}
	if err := ctx.Err(); err != nil {
		_ = os.Remove(tempPath)
		return Item{}, err
	}

	name := newStoredName(fallbackName(originalName, category))
	finalPath := filepath.Join(albumDir, name)
	if err := os.Rename(tempPath, finalPath); err != nil {
		_ = os.Remove(tempPath)
		return Item{}, fmt.Errorf("finalize upload: %w", err)
	}
	return Item{
		ID:        ItemID(sanitized, name),
		Album:     sanitized,
		Name:      name,
		Category:  category,
		SizeBytes: written,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Open returns the payload reader and metadata for the item.
func (b *LocalBackend) Open(ctx context.Context, id string) (io.ReadSeekCloser, Item, error) {
	album, name, err := ParseID(id)
	if err != nil {
		return nil, Item{}, err
	}
	fullPath := filepath.Join(b.root, album, name)
	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Item{}, ErrNotFound
		}
		return nil, Item{}, fmt.Errorf("open media: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, Item{}, fmt.Errorf("stat media: %w", err)
	}
	return file, b.itemFromFile(album, name, info.Size(), info.ModTime()), nil
}

// Delete removes the stored payload. Missing payloads report ErrNotFound so
// callers can distinguish repeat deletes.
func (b *LocalBackend) Delete(ctx context.Context, id string) error {
	album, name, err := ParseID(id)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(b.root, album, name)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("delete media: %w", err)
	}
	return nil
}

// List walks every album directory and returns stored items newest first.
func (b *LocalBackend) List(ctx context.Context) ([]Item, error) {
	entries, err := os.ReadDir(b.root)
	if err != nil {
		return nil, fmt.Errorf("read media root: %w", err)
	}
	var items []Item
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		album := entry.Name()
		files, err := os.ReadDir(filepath.Join(b.root, album))
		if err != nil {
			return nil, fmt.Errorf("read album %s: %w", album, err)
		}
		for _, file := range files {
			if file.IsDir() || strings.HasPrefix(file.Name(), ".") {
				continue
			}
			info, err := file.Info()
			if err != nil {
				continue
			}
			items = append(items, b.itemFromFile(album, file.Name(), info.Size(), info.ModTime()))
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID > items[j].ID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return items, nil
}

// Stage exposes the stored payload's real path; no copy is needed for the
// filesystem backend.
func (b *LocalBackend) Stage(ctx context.Context, id string) (string, func(), error) {
	album, name, err := ParseID(id)
	if err != nil {
		return "", nil, err
	}
	fullPath := filepath.Join(b.root, album, name)
	if _, err := os.Stat(fullPath); err != nil {
		if os.IsNotExist(err) {
			return "", nil, ErrNotFound
		}
		return "", nil, fmt.Errorf("stat media: %w", err)
	}
	return fullPath, func() {}, nil
}

// StoreThumbnail writes the rendered preview under the reserved area.
func (b *LocalBackend) StoreThumbnail(ctx context.Context, id string, jpeg []byte) error {
	album, name, err := ParseID(id)
	if err != nil {
		return err
	}
	thumbDir := filepath.Join(b.root, thumbnailArea, album)
	if err := os.MkdirAll(thumbDir, 0o755); err != nil {
		return fmt.Errorf("create thumbnail directory: %w", err)
	}
	temp, err := os.CreateTemp(thumbDir, ".thumb-*")
	if err != nil {
		return fmt.Errorf("create thumbnail temp file: %w", err)
	}
	tempPath := temp.Name()
	_, err = temp.Write(jpeg)
	if closeErr := temp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("write thumbnail: %w", err)
	}
	if err := os.Rename(tempPath, filepath.Join(thumbDir, name+".jpg")); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("finalize thumbnail: %w", err)
	}
	return nil
}

// DeleteThumbnail removes the preview; absence is not an error.
func (b *LocalBackend) DeleteThumbnail(ctx context.Context, id string) error {
	album, name, err := ParseID(id)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(b.root, thumbnailArea, album, name+".jpg")); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete thumbnail: %w", err)
	}
	return nil
}

// OpenThumbnail returns the stored preview for the item.
func (b *LocalBackend) OpenThumbnail(ctx context.Context, id string) (io.ReadSeekCloser, time.Time, error) {
	album, name, err := ParseID(id)
	if err != nil {
		return nil, time.Time{}, err
	}
	file, err := os.Open(filepath.Join(b.root, thumbnailArea, album, name+".jpg"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, time.Time{}, ErrNotFound
		}
		return nil, time.Time{}, fmt.Errorf("open thumbnail: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, time.Time{}, fmt.Errorf("stat thumbnail: %w", err)
	}
	return file, info.ModTime(), nil
}

func (b *LocalBackend) itemFromFile(album, name string, size int64, modTime time.Time) Item {
	category, _ := CategoryForFilename(name)
	item := Item{
		ID:        ItemID(album, name),
		Album:     album,
		Name:      name,
		Category:  category,
		SizeBytes: size,
		CreatedAt: modTime.UTC(),
	}
	if _, err := os.Stat(filepath.Join(b.root, thumbnailArea, album, name+".jpg")); err == nil {
		item.HasThumbnail = true
	}
	return item
}

// fallbackName substitutes a category-appropriate extension when the
// uploaded file name carries none worth keeping.
func fallbackName(originalName string, category Category) string {
	if sanitizeExtension(originalName) != ".bin" {
		return originalName
	}
	switch category {
	case CategoryImage:
		return "upload.jpg"
	case CategoryVideo:
		return "upload.mp4"
	default:
		return "upload.bin"
	}
}
