package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"os/exec"

	"golang.org/x/image/draw"

	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// Renderer produces a JPEG preview from a staged media file.
type Renderer interface {
	Render(ctx context.Context, category Category, sourcePath string) ([]byte, error)
}

const (
	defaultThumbnailEdge    = 320
	defaultThumbnailQuality = 80
	defaultFFmpegBinary     = "ffmpeg"
)

// ThumbnailRenderer renders previews for both media categories: images are
// decoded and scaled in-process, videos hand a single frame grab to ffmpeg.
type ThumbnailRenderer struct {
	MaxEdge      int
	Quality      int
	FFmpegBinary string
}

// NewThumbnailRenderer returns a renderer with default sizing and the ffmpeg
// binary resolved from PATH.
func NewThumbnailRenderer() *ThumbnailRenderer {
	return &ThumbnailRenderer{
		MaxEdge:      defaultThumbnailEdge,
		Quality:      defaultThumbnailQuality,
		FFmpegBinary: defaultFFmpegBinary,
	}
}

// Render dispatches to the category-appropriate rendering path.
func (r *ThumbnailRenderer) Render(ctx context.Context, category Category, sourcePath string) ([]byte, error) {
	switch category {
	case CategoryImage:
		return r.renderImage(sourcePath)
	case CategoryVideo:
		return r.renderVideo(ctx, sourcePath)
	default:
		return nil, fmt.Errorf("no thumbnail renderer for category %q", category)
	}
}

func (r *ThumbnailRenderer) renderImage(sourcePath string) ([]byte, error) {
	file, err := os.Open(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("open source image: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	source, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("decode source image: %w", err)
	}

	bounds := source.Bounds()
	width, height := scaledDimensions(bounds.Dx(), bounds.Dy(), r.maxEdge())
	scaled := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), source, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: r.quality()}); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *ThumbnailRenderer) renderVideo(ctx context.Context, sourcePath string) ([]byte, error) {
	binary := r.FFmpegBinary
	if binary == "" {
		binary = defaultFFmpegBinary
	}
	edge := r.maxEdge()
	cmd := exec.CommandContext(ctx, binary,
		"-ss", "00:00:01",
		"-i", sourcePath,
		"-frames:v", "1",
		"-vf", fmt.Sprintf("scale=%d:-2", edge),
		"-c:v", "mjpeg",
		"-f", "image2pipe",
		"pipe:1",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg frame grab: %w: %s", err, stderr.String())
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg produced no frame for %s", sourcePath)
	}
	return stdout.Bytes(), nil
}

func (r *ThumbnailRenderer) maxEdge() int {
	if r.MaxEdge <= 0 {
		return defaultThumbnailEdge
	}
	return r.MaxEdge
}

func (r *ThumbnailRenderer) quality() int {
	if r.Quality <= 0 || r.Quality > 100 {
		return defaultThumbnailQuality
	}
	return r.Quality
}

func scaledDimensions(width, height, maxEdge int) (int, int) {
	if width <= 0 || height <= 0 {
		return maxEdge, maxEdge
	}
	if width <= maxEdge && height <= maxEdge {
		return width, height
	}
	if width >= height {
		scaled := height * maxEdge / width
		if scaled < 1 {
			scaled = 1
		}
		return maxEdge, scaled
	}
	scaled := width * maxEdge / height
	if scaled < 1 {
		scaled = 1
	}
	return scaled, maxEdge
}
