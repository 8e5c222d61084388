package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"

	"github.com/google/uuid"

	"github.com/heimdex/heimdex-crop/internal/crop"
)

// Exporter turns a finalized selection into cropped output files.
// Runs are sequential; one run per store at a time.
type Exporter struct {
	params        ParamSource
	assets        AssetSource
	codec         Codec
	cropper       Cropper
	scratchDir    string
	preferredSize int
	logger        *slog.Logger
}

// Config wires an Exporter to its collaborators.
type Config struct {
	Params        ParamSource
	Assets        AssetSource
	Codec         Codec
	Cropper       Cropper
	ScratchDir    string
	PreferredSize int
	Logger        *slog.Logger
}

// NewExporter validates the configuration and prepares the scratch dir.
func NewExporter(cfg Config) (*Exporter, error) {
	switch {
	case cfg.Params == nil:
		return nil, errors.New("param source is required")
	case cfg.Assets == nil:
		return nil, errors.New("asset source is required")
	case cfg.Codec == nil:
		return nil, errors.New("codec is required")
	case cfg.Cropper == nil:
		return nil, errors.New("cropper is required")
	case cfg.PreferredSize <= 0:
		return nil, fmt.Errorf("preferred output size must be positive, got %d", cfg.PreferredSize)
	}
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = os.TempDir()
	}
	if err := os.MkdirAll(cfg.ScratchDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Exporter{
		params:        cfg.Params,
		assets:        cfg.Assets,
		codec:         cfg.Codec,
		cropper:       cfg.Cropper,
		scratchDir:    cfg.ScratchDir,
		preferredSize: cfg.PreferredSize,
		logger:        logger,
	}, nil
}

// Export returns a one-shot sequence of progress snapshots. Work happens
// while the caller ranges over it: the first snapshot (fraction 0) is
// produced before any asset is touched and each following one after an
// asset completes. Stopping the range, or cancelling ctx, prevents the
// next asset from starting. A failure is yielded as the last element.
func (e *Exporter) Export(ctx context.Context, selection []crop.AssetRef, opts Options) iter.Seq2[Progress, error] {
	selection = slices.Clone(selection)

	return func(yield func(Progress, error) bool) {
		if opts.OutputDir != "" {
			if err := ValidateOutputDir(opts.OutputDir); err != nil {
				yield(Progress{}, err)
				return
			}
		}

		total := len(selection)
		ratio := e.params.CurrentAspectRatio()
		items := make([]Item, 0, total)
		emit := func(fraction float64) bool {
			return yield(Progress{
				Items:       slices.Clone(items),
				Selection:   selection,
				AspectRatio: ratio,
				Fraction:    fraction,
			}, nil)
		}

		e.logger.Info("export started", "assets", total, "skip_crop", opts.SkipCrop)
		if !emit(0) {
			return
		}

		for i, asset := range selection {
			if err := ctx.Err(); err != nil {
				e.logger.Info("export cancelled", "completed", i, "assets", total)
				yield(Progress{}, err)
				return
			}

			item, err := e.exportAsset(ctx, i, asset, opts)
			if err != nil {
				e.logger.Error("export failed", "asset_id", asset.ID, "index", i, "error", err)
				yield(Progress{}, fmt.Errorf("export asset %s: %w", asset.ID, err))
				return
			}
			items = append(items, item)

			if !emit(fraction(i, total)) {
				return
			}
		}

		if total == 0 {
			emit(1)
		}
		e.logger.Info("export completed", "assets", total)
	}
}

// Collect drains a run and returns its final snapshot.
func Collect(seq iter.Seq2[Progress, error]) (Progress, error) {
	var last Progress
	for p, err := range seq {
		if err != nil {
			return last, err
		}
		last = p
	}
	return last, nil
}

// SampleSize is the limiting dimension requested from the sampler for a
// record zoomed by scale. Non-positive scales count as 1.
func SampleSize(preferred int, scale float64) int {
	if scale <= 0 {
		scale = crop.DefaultScale
	}
	return int(math.Ceil(float64(preferred) / scale))
}

func fraction(index, total int) float64 {
	if index >= total-1 {
		return 1
	}
	return float64(index+1) / float64(total)
}

func (e *Exporter) exportAsset(ctx context.Context, index int, asset crop.AssetRef, opts Options) (Item, error) {
	rec, ok := e.params.Get(asset.ID)
	if !ok {
		rec = crop.NewRecord(asset)
	}

	if opts.SkipCrop || !asset.IsImage() {
		e.logger.Debug("asset passed through", "asset_id", asset.ID, "kind", asset.Kind)
		return Item{Record: rec}, nil
	}

	src, err := e.assets.SourceFile(ctx, asset)
	if err != nil {
		return Item{}, err
	}

	// intermediates are ours to delete, the source never is
	discard := func(path string) {
		if path == "" || path == src {
			return
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			e.logger.Warn("failed to remove intermediate file", "path", path, "error", err)
		}
	}

	working, err := e.codec.Sample(ctx, src, SampleSize(e.preferredSize, rec.Scale))
	if err != nil {
		return Item{}, fmt.Errorf("sample: %w", err)
	}

	if turns := crop.NormalizeRotation(rec.Rotation); turns != 0 {
		rotated, err := e.rotate(ctx, working, turns)
		if err != nil {
			discard(working)
			return Item{}, err
		}
		if rotated != working {
			discard(working)
			working = rotated
		}
	}

	if rec.Area != nil {
		cropped, err := e.cropper.Crop(ctx, working, *rec.Area)
		if err != nil {
			discard(working)
			return Item{}, fmt.Errorf("crop: %w", err)
		}
		discard(working)
		working = cropped
	}

	if opts.OutputDir != "" {
		final, err := relocate(working, opts.OutputDir, outputName(index, asset.ID, filepath.Ext(working)))
		if err != nil {
			discard(working)
			return Item{}, err
		}
		working = final
	}

	e.logger.Debug("asset exported", "asset_id", asset.ID, "output", working)
	return Item{OutputPath: working, Record: rec}, nil
}

// rotate returns the path of a rotated copy of path. When the sample cannot
// be decoded the rotation is skipped and path itself is returned.
func (e *Exporter) rotate(ctx context.Context, path string, turns int) (string, error) {
	img, err := e.codec.Decode(ctx, path)
	if err != nil || img == nil {
		e.logger.Warn("cannot decode sample, exporting unrotated", "path", path, "error", err)
		return path, nil
	}

	data, err := e.codec.Encode(ctx, e.codec.Rotate(img, turns*90))
	if err != nil {
		return "", fmt.Errorf("encode rotated image: %w", err)
	}

	out := filepath.Join(e.scratchDir, uuid.NewString()+e.codec.Extension())
	if err := os.WriteFile(out, data, 0644); err != nil {
		return "", fmt.Errorf("write rotated image: %w", err)
	}
	return out, nil
}

func outputName(index int, assetID, ext string) string {
	name := SanitizeName(assetID, 80)
	if name == "" {
		name = "asset"
	}
	return fmt.Sprintf("%03d_%s%s", index+1, name, ext)
}

// relocate moves a finished output into dir, copying when a rename is not
// possible across filesystems.
func relocate(path, dir, name string) (string, error) {
	dst := filepath.Join(dir, name)
	if err := os.Rename(path, dst); err == nil {
		return dst, nil
	}

	in, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open output: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create output: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return "", fmt.Errorf("copy output: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("close output: %w", err)
	}
	in.Close()
	os.Remove(path)
	return dst, nil
}
