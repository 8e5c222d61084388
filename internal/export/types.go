package export

import (
	"context"
	"errors"
	"image"

	"github.com/heimdex/heimdex-crop/internal/crop"
)

// ErrSourceUnavailable marks a selected image whose original file cannot
// be obtained. It ends the whole export run.
var ErrSourceUnavailable = errors.New("source file unavailable")

// Item is the result of exporting one selected asset. OutputPath is empty
// for pass-through items.
type Item struct {
	OutputPath string      `json:"output_path,omitempty"`
	Record     crop.Record `json:"record"`
}

// Passthrough reports whether no file was produced for the item.
func (i Item) Passthrough() bool {
	return i.OutputPath == ""
}

// Progress is emitted once before the first item and once after every
// item. Items only grows and Fraction ends at exactly 1.
type Progress struct {
	Items       []Item          `json:"items"`
	Selection   []crop.AssetRef `json:"selection"`
	AspectRatio float64         `json:"aspect_ratio"`
	Fraction    float64         `json:"fraction"`
}

// Done reports whether this is the final emission of a run.
func (p Progress) Done() bool {
	return p.Fraction >= 1
}

// Options tune a single export run.
type Options struct {
	// SkipCrop exports every asset as a pass-through item.
	SkipCrop bool
	// OutputDir, when set, receives the final output files.
	OutputDir string
}

// ParamSource exposes the finalized crop parameters.
type ParamSource interface {
	Get(id string) (crop.Record, bool)
	CurrentAspectRatio() float64
}

// AssetSource resolves the original file of an asset. Implementations
// wrap ErrSourceUnavailable when the file cannot be provided.
type AssetSource interface {
	SourceFile(ctx context.Context, asset crop.AssetRef) (string, error)
}

// Codec samples, decodes, rotates and encodes images.
type Codec interface {
	// Sample writes a new file whose limiting dimension is at least
	// preferredSize pixels, never upscaling the source.
	Sample(ctx context.Context, path string, preferredSize int) (string, error)
	Decode(ctx context.Context, path string) (image.Image, error)
	Rotate(img image.Image, degrees int) image.Image
	Encode(ctx context.Context, img image.Image) ([]byte, error)
	// Extension is the file extension of encoded output, including the dot.
	Extension() string
}

// Cropper cuts a normalized area out of an image file into a new file.
type Cropper interface {
	Crop(ctx context.Context, path string, area crop.Area) (string, error)
}
