// Package imaging samples, rotates, crops and encodes still images for the
// export pipeline. Every file it produces is written to its scratch dir under
// a random name; it never modifies its inputs.
package imaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/heimdex/heimdex-crop/internal/crop"
)

// ErrUnsupportedFormat is returned for output formats other than jpeg and png.
var ErrUnsupportedFormat = errors.New("unsupported output format")

const defaultQuality = 90

// Config holds the codec settings.
type Config struct {
	ScratchDir string
	// Format is "jpeg" or "png".
	Format  string
	Quality int
	Logger  *slog.Logger
}

// Codec is the disintegration/imaging backed implementation of the export
// codec and cropper.
type Codec struct {
	scratchDir string
	format     imaging.Format
	ext        string
	quality    int
	logger     *slog.Logger
}

// NewCodec validates cfg and creates the scratch dir.
func NewCodec(cfg Config) (*Codec, error) {
	format, ext, err := parseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}
	if cfg.ScratchDir == "" {
		return nil, errors.New("scratch dir is required")
	}
	if err := os.MkdirAll(cfg.ScratchDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	quality := cfg.Quality
	if quality <= 0 || quality > 100 {
		quality = defaultQuality
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Codec{
		scratchDir: cfg.ScratchDir,
		format:     format,
		ext:        ext,
		quality:    quality,
		logger:     logger,
	}, nil
}

func parseFormat(name string) (imaging.Format, string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "jpeg", "jpg":
		return imaging.JPEG, ".jpg", nil
	case "png":
		return imaging.PNG, ".png", nil
	default:
		return 0, "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
	}
}

// Extension returns the extension of files the codec writes.
func (c *Codec) Extension() string {
	return c.ext
}

// Sample writes a copy of path whose shorter side is no smaller than
// preferredSize. Images already at or below that size keep their pixel
// dimensions.
func (c *Codec) Sample(ctx context.Context, path string, preferredSize int) (string, error) {
	img, err := c.Decode(ctx, path)
	if err != nil {
		return "", err
	}
	sampled := Downsample(img, preferredSize)
	c.logger.Debug("sampled image",
		"source_width", img.Bounds().Dx(),
		"source_height", img.Bounds().Dy(),
		"width", sampled.Bounds().Dx(),
		"height", sampled.Bounds().Dy(),
	)
	return c.write(ctx, sampled)
}

// Downsample shrinks img so its shorter side equals size, keeping the aspect
// ratio. It never upscales.
func Downsample(img image.Image, size int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if size <= 0 || min(w, h) <= size {
		return img
	}
	if w <= h {
		return imaging.Resize(img, size, 0, imaging.Lanczos)
	}
	return imaging.Resize(img, 0, size, imaging.Lanczos)
}

// Decode reads an image file, applying its EXIF orientation.
func (c *Codec) Decode(ctx context.Context, path string) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

// Rotate turns img clockwise by a multiple of 90 degrees. Other angles are
// rounded down to the previous quarter turn.
func (c *Codec) Rotate(img image.Image, degrees int) image.Image {
	return Rotate(img, degrees)
}

// Rotate is the stateless form of Codec.Rotate.
func Rotate(img image.Image, degrees int) image.Image {
	// imaging rotates counter-clockwise
	switch crop.NormalizeRotation(degrees / 90) {
	case 1:
		return imaging.Rotate270(img)
	case 2:
		return imaging.Rotate180(img)
	case 3:
		return imaging.Rotate90(img)
	default:
		return img
	}
}

// Encode serializes img in the configured output format.
func (c *Codec) Encode(ctx context.Context, img image.Image) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, c.format, imaging.JPEGQuality(c.quality)); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Crop cuts the normalized area out of the image at path. The area is
// resolved against the decoded pixel bounds, so it stays correct after
// sampling and rotation.
func (c *Codec) Crop(ctx context.Context, path string, area crop.Area) (string, error) {
	img, err := c.Decode(ctx, path)
	if err != nil {
		return "", err
	}
	rect := PixelRect(img.Bounds(), area)
	if rect.Empty() {
		return "", fmt.Errorf("crop area %+v is empty for %dx%d image", area, img.Bounds().Dx(), img.Bounds().Dy())
	}
	return c.write(ctx, imaging.Crop(img, rect))
}

// PixelRect maps a normalized area onto bounds, rounding to whole pixels.
func PixelRect(bounds image.Rectangle, area crop.Area) image.Rectangle {
	area = area.Clamp()
	w, h := float64(bounds.Dx()), float64(bounds.Dy())
	x0 := bounds.Min.X + roundInt(area.Left*w)
	y0 := bounds.Min.Y + roundInt(area.Top*h)
	x1 := x0 + roundInt(area.Width*w)
	y1 := y0 + roundInt(area.Height*h)
	return image.Rect(x0, y0, x1, y1).Intersect(bounds)
}

func roundInt(v float64) int {
	return int(math.Round(v))
}

func (c *Codec) write(ctx context.Context, img image.Image) (string, error) {
	data, err := c.Encode(ctx, img)
	if err != nil {
		return "", err
	}
	out := filepath.Join(c.scratchDir, uuid.NewString()+c.ext)
	if err := os.WriteFile(out, data, 0644); err != nil {
		return "", fmt.Errorf("write %s: %w", filepath.Base(out), err)
	}
	return out, nil
}
