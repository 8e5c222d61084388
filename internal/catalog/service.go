package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/heimdex/heimdex-crop/internal/crop"
	"github.com/heimdex/heimdex-crop/internal/ffmpeg"
)

const fingerprintSize = 64 * 1024

var (
	ErrSourceNotFound = errors.New("source not found")
	ErrAssetNotFound  = errors.New("asset not found")
)

// Prober reads video stream dimensions.
type Prober interface {
	Probe(ctx context.Context, path string) (*ffmpeg.ProbeResult, error)
}

type CatalogService interface {
	AddFolder(ctx context.Context, path, displayName string) (*Source, error)
	RemoveSource(ctx context.Context, id string) error
	GetSources(ctx context.Context) ([]*Source, error)
	GetSource(ctx context.Context, id string) (*Source, error)
	GetAssets(ctx context.Context, sourceID string) ([]*Asset, error)
	GetAsset(ctx context.Context, id string) (*Asset, error)
	CountAssets(ctx context.Context) (int, error)
	ResolveSelection(ctx context.Context, ids []string) ([]crop.AssetRef, error)
	ScanSource(ctx context.Context, sourceID string) (*Job, error)
	ExecuteScan(ctx context.Context, jobID, sourceID, path string) error
	StartJob(ctx context.Context, jobType, assetID string) (*Job, error)
}

type Service struct {
	repo   Repository
	prober Prober
	logger *slog.Logger
}

// NewService creates the catalog service. prober may be nil, in which case
// videos are cataloged without dimensions.
func NewService(repo Repository, prober Prober, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{repo: repo, prober: prober, logger: logger}
}

func (s *Service) AddFolder(ctx context.Context, path, displayName string) (*Source, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("path does not exist: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path is not a directory")
	}

	existing, err := s.repo.GetSourceByPath(ctx, absPath)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	if displayName == "" {
		displayName = filepath.Base(absPath)
	}

	source := &Source{
		ID:          NewID(),
		Type:        "folder",
		Path:        absPath,
		DisplayName: displayName,
		Present:     true,
		CreatedAt:   time.Now(),
	}

	if err := s.repo.CreateSource(ctx, source); err != nil {
		return nil, err
	}

	s.logger.Info("folder added", "source_id", source.ID, "path", absPath)
	return source, nil
}

func (s *Service) RemoveSource(ctx context.Context, id string) error {
	if err := s.repo.DeleteAssetsBySource(ctx, id); err != nil {
		return err
	}
	return s.repo.DeleteSource(ctx, id)
}

func (s *Service) GetSources(ctx context.Context) ([]*Source, error) {
	return s.repo.ListSources(ctx)
}

func (s *Service) GetSource(ctx context.Context, id string) (*Source, error) {
	return s.repo.GetSource(ctx, id)
}

func (s *Service) GetAssets(ctx context.Context, sourceID string) ([]*Asset, error) {
	return s.repo.GetAssetsBySource(ctx, sourceID)
}

func (s *Service) GetAsset(ctx context.Context, id string) (*Asset, error) {
	return s.repo.GetAsset(ctx, id)
}

func (s *Service) CountAssets(ctx context.Context) (int, error) {
	return s.repo.CountAssets(ctx)
}

// ResolveSelection maps asset IDs to crop references in the given order.
// An unknown ID fails the whole selection with ErrAssetNotFound.
func (s *Service) ResolveSelection(ctx context.Context, ids []string) ([]crop.AssetRef, error) {
	refs := make([]crop.AssetRef, 0, len(ids))
	for _, id := range ids {
		asset, err := s.repo.GetAsset(ctx, id)
		if err != nil {
			return nil, err
		}
		if asset == nil {
			return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, id)
		}
		refs = append(refs, asset.Ref())
	}
	return refs, nil
}

func (s *Service) ScanSource(ctx context.Context, sourceID string) (*Job, error) {
	source, err := s.repo.GetSource(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if source == nil {
		return nil, ErrSourceNotFound
	}

	now := time.Now()
	job := &Job{
		ID:        NewID(),
		Type:      JobTypeScan,
		Status:    JobStatusPending,
		SourceID:  sourceID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Info("scan job created", "job_id", job.ID, "source_id", sourceID)
	return job, nil
}

// StartJob records a job that runs immediately in the caller, such as an
// export stream or a render.
func (s *Service) StartJob(ctx context.Context, jobType, assetID string) (*Job, error) {
	now := time.Now()
	job := &Job{
		ID:        NewID(),
		Type:      jobType,
		Status:    JobStatusRunning,
		AssetID:   assetID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *Service) ExecuteScan(ctx context.Context, jobID, sourceID, path string) error {
	s.repo.UpdateJobStatus(ctx, jobID, JobStatusRunning, "")
	s.logger.Info("starting scan", "job_id", jobID, "path", path)

	var files []string
	err := filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() && strings.HasPrefix(d.Name(), ".") && p != path {
			return filepath.SkipDir
		}
		if _, ok := KindOf(d.Name()); ok && !d.IsDir() && !strings.HasPrefix(d.Name(), ".") {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		s.repo.UpdateJobStatus(ctx, jobID, JobStatusFailed, err.Error())
		return err
	}

	total := len(files)
	s.logger.Info("found media files", "count", total)

	for i, filePath := range files {
		select {
		case <-ctx.Done():
			s.repo.UpdateJobStatus(context.WithoutCancel(ctx), jobID, JobStatusFailed, "cancelled")
			return ctx.Err()
		default:
		}

		if err := s.processFile(ctx, sourceID, filePath); err != nil {
			s.logger.Warn("failed to process file", "path", filePath, "error", err)
		}

		progress := 0
		if total > 0 {
			progress = (i + 1) * 100 / total
		}
		s.repo.UpdateJobProgress(ctx, jobID, progress, i+1)
	}

	s.repo.UpdateJobStatus(ctx, jobID, JobStatusCompleted, "")
	s.logger.Info("scan completed", "job_id", jobID, "files_processed", total)
	return nil
}

func (s *Service) processFile(ctx context.Context, sourceID, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	kind, _ := KindOf(path)

	fingerprint, err := computeFingerprint(path)
	if err != nil {
		return err
	}

	asset := &Asset{
		ID:          NewID(),
		SourceID:    sourceID,
		Path:        path,
		Filename:    filepath.Base(path),
		Kind:        kind,
		Size:        info.Size(),
		Mtime:       info.ModTime(),
		Fingerprint: fingerprint,
		CreatedAt:   time.Now(),
	}

	asset.Width, asset.Height, err = s.dimensions(ctx, kind, path)
	if err != nil {
		s.logger.Warn("cannot determine dimensions", "path", path, "kind", kind, "error", err)
	}

	return s.repo.UpsertAsset(ctx, asset)
}

func (s *Service) dimensions(ctx context.Context, kind AssetKind, path string) (int, int, error) {
	switch kind {
	case KindImage:
		return imageDimensions(path)
	case KindVideo:
		if s.prober == nil {
			return 0, 0, nil
		}
		res, err := s.prober.Probe(ctx, path)
		if err != nil {
			return 0, 0, err
		}
		w, h := res.OrientedSize()
		return w, h, nil
	default:
		return 0, 0, nil
	}
}

// imageDimensions returns display dimensions. JPEGs are fully decoded so
// their EXIF orientation is honored; other formats only read the header.
func imageDimensions(path string) (int, int, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		img, err := imaging.Open(path, imaging.AutoOrientation(true))
		if err != nil {
			return 0, 0, err
		}
		return img.Bounds().Dx(), img.Bounds().Dy(), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}

func computeFingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	lr := io.LimitReader(f, fingerprintSize)
	if _, err := io.Copy(h, lr); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
