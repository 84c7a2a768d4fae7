package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"golang.org/x/sync/errgroup"
)

// ObjectConfig is the pure-data configuration for an S3-compatible backend.
type ObjectConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// ObjectBackend stores media in an S3-compatible bucket. Keys mirror the
// local layout: "album/storedName" for payloads and a reserved prefix for
// thumbnails.
type ObjectBackend struct {
	client *minio.Client
	bucket string
}

// NewObjectBackend connects to the object store and ensures the bucket
// exists.
func NewObjectBackend(ctx context.Context, cfg ObjectConfig) (*ObjectBackend, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	bucket := strings.TrimSpace(cfg.Bucket)
	if endpoint == "" || bucket == "" {
		return nil, fmt.Errorf("object storage endpoint and bucket required")
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &ObjectBackend{client: client, bucket: bucket}, nil
}

// Store uploads the payload under a freshly generated key.
func (b *ObjectBackend) Store(ctx context.Context, album string, category Category, originalName string, src io.Reader) (Item, error) {
	sanitized, err := SanitizeAlbum(album)
	if err != nil {
		return Item{}, err
	}
	name := newStoredName(fallbackName(originalName, category))
	key := ItemID(sanitized, name)
	info, err := b.client.PutObject(ctx, b.bucket, key, src, -1, minio.PutObjectOptions{
		ContentType: ContentTypeForFilename(name),
	})
	if err != nil {
		return Item{}, fmt.Errorf("store object %s: %w", key, err)
	}
	return Item{
		ID:        key,
		Album:     sanitized,
		Name:      name,
		Category:  category,
		SizeBytes: info.Size,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Open returns a seekable reader over the object plus its metadata.
func (b *ObjectBackend) Open(ctx context.Context, id string) (io.ReadSeekCloser, Item, error) {
	album, name, err := ParseID(id)
	if err != nil {
		return nil, Item{}, err
	}
	key := ItemID(album, name)
	stat, err := b.client.StatObject(ctx, b.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, Item{}, translateObjectError(key, err)
	}
	object, err := b.client.GetObject(ctx, b.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, Item{}, translateObjectError(key, err)
	}
	category, _ := CategoryForFilename(name)
	return object, Item{
		ID:        key,
		Album:     album,
		Name:      name,
		Category:  category,
		SizeBytes: stat.Size,
		CreatedAt: stat.LastModified.UTC(),
	}, nil
}

// Delete removes the object; missing objects report ErrNotFound.
func (b *ObjectBackend) Delete(ctx context.Context, id string) error {
	album, name, err := ParseID(id)
	if err != nil {
		return err
	}
	key := ItemID(album, name)
	if _, err := b.client.StatObject(ctx, b.bucket, key, minio.StatObjectOptions{}); err != nil {
		return translateObjectError(key, err)
	}
	if err := b.client.RemoveObject(ctx, b.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

// List enumerates every stored object newest first, skipping the thumbnail
// area but using it to mark items that carry a preview. The payload and
// thumbnail scans run concurrently.
func (b *ObjectBackend) List(ctx context.Context) ([]Item, error) {
	var (
		thumbs map[string]struct{}
		items  []Item
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		thumbs = make(map[string]struct{})
		for object := range b.client.ListObjects(groupCtx, b.bucket, minio.ListObjectsOptions{
			Prefix:    thumbnailArea + "/",
			Recursive: true,
		}) {
			if object.Err != nil {
				return fmt.Errorf("list thumbnails: %w", object.Err)
			}
			thumbs[strings.TrimPrefix(strings.TrimSuffix(object.Key, ".jpg"), thumbnailArea+"/")] = struct{}{}
		}
		return nil
	})
	group.Go(func() error {
		for object := range b.client.ListObjects(groupCtx, b.bucket, minio.ListObjectsOptions{Recursive: true}) {
			if object.Err != nil {
				return fmt.Errorf("list objects: %w", object.Err)
			}
			if strings.HasPrefix(object.Key, thumbnailArea+"/") {
				continue
			}
			album, name, err := ParseID(object.Key)
			if err != nil {
				continue
			}
			category, _ := CategoryForFilename(name)
			items = append(items, Item{
				ID:        object.Key,
				Album:     album,
				Name:      name,
				Category:  category,
				SizeBytes: object.Size,
				CreatedAt: object.LastModified.UTC(),
			})
		}
		return nil
	})
	if err := group.Wait(); err != nil {
		return nil, err
	}

	for i := range items {
		_, items[i].HasThumbnail = thumbs[items[i].ID]
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID > items[j].ID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return items, nil
}

// Stage downloads the object to a temporary file for local tooling. The
// cleanup function removes the file.
func (b *ObjectBackend) Stage(ctx context.Context, id string) (string, func(), error) {
	album, name, err := ParseID(id)
	if err != nil {
		return "", nil, err
	}
	key := ItemID(album, name)
	temp, err := os.CreateTemp("", "mediavault-stage-*"+filepath.Ext(name))
	if err != nil {
		return "", nil, fmt.Errorf("create staging file: %w", err)
	}
	tempPath := temp.Name()
	_ = temp.Close()
	if err := b.client.FGetObject(ctx, b.bucket, key, tempPath, minio.GetObjectOptions{}); err != nil {
		_ = os.Remove(tempPath)
		return "", nil, translateObjectError(key, err)
	}
	return tempPath, func() { _ = os.Remove(tempPath) }, nil
}

// StoreThumbnail uploads the rendered preview under the reserved prefix.
func (b *ObjectBackend) StoreThumbnail(ctx context.Context, id string, jpeg []byte) error {
	album, name, err := ParseID(id)
	if err != nil {
		return err
	}
	key := thumbnailKey(album, name)
	if _, err := b.client.PutObject(ctx, b.bucket, key, bytes.NewReader(jpeg), int64(len(jpeg)), minio.PutObjectOptions{
		ContentType: "image/jpeg",
	}); err != nil {
		return fmt.Errorf("store thumbnail %s: %w", key, err)
	}
	return nil
}

// DeleteThumbnail removes the preview; absence is not an error.
func (b *ObjectBackend) DeleteThumbnail(ctx context.Context, id string) error {
	album, name, err := ParseID(id)
	if err != nil {
		return err
	}
	key := thumbnailKey(album, name)
	if err := b.client.RemoveObject(ctx, b.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		if errors.Is(translateObjectError(key, err), ErrNotFound) {
			return nil
		}
		return fmt.Errorf("delete thumbnail %s: %w", key, err)
	}
	return nil
}

// OpenThumbnail returns the stored preview for the item.
func (b *ObjectBackend) OpenThumbnail(ctx context.Context, id string) (io.ReadSeekCloser, time.Time, error) {
	album, name, err := ParseID(id)
	if err != nil {
		return nil, time.Time{}, err
	}
	key := thumbnailKey(album, name)
	stat, err := b.client.StatObject(ctx, b.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, time.Time{}, translateObjectError(key, err)
	}
	object, err := b.client.GetObject(ctx, b.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, time.Time{}, translateObjectError(key, err)
	}
	return object, stat.LastModified.UTC(), nil
}

func thumbnailKey(album, name string) string {
	return thumbnailArea + "/" + album + "/" + name + ".jpg"
}

func translateObjectError(key string, err error) error {
	response := minio.ToErrorResponse(err)
	if response.Code == "NoSuchKey" || response.StatusCode == 404 {
		return ErrNotFound
	}
	return fmt.Errorf("object %s: %w", key, err)
}
