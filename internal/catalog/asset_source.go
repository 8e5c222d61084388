package catalog

import (
	"context"
	"fmt"
	"os"

	"github.com/heimdex/heimdex-crop/internal/crop"
	"github.com/heimdex/heimdex-crop/internal/export"
)

// AssetSource hands the exporter the original file of a cataloged asset.
type AssetSource struct {
	repo Repository
}

func NewAssetSource(repo Repository) *AssetSource {
	return &AssetSource{repo: repo}
}

// SourceFile returns the asset's path on disk. Unknown assets and files that
// have gone missing since the last scan both wrap export.ErrSourceUnavailable.
func (s *AssetSource) SourceFile(ctx context.Context, ref crop.AssetRef) (string, error) {
	asset, err := s.repo.GetAsset(ctx, ref.ID)
	if err != nil {
		return "", fmt.Errorf("lookup asset %s: %w", ref.ID, err)
	}
	if asset == nil {
		return "", fmt.Errorf("%w: asset %s is not cataloged", export.ErrSourceUnavailable, ref.ID)
	}

	info, err := os.Stat(asset.Path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", export.ErrSourceUnavailable, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", export.ErrSourceUnavailable, asset.Filename)
	}
	return asset.Path, nil
}
