// Package preview serves exported and rendered files back to the picker UI,
// with byte-range support for video scrubbing. Only files below the
// configured roots are ever served.
package preview

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/heimdex/heimdex-crop/internal/logging"
)

var (
	ErrOutsideRoots = errors.New("path is outside the served directories")
	ErrNotFound     = errors.New("file not found")
)

type Server struct {
	roots  []string
	logger *slog.Logger
}

// NewServer serves files under roots. Relative roots are made absolute.
func NewServer(roots []string, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	abs := make([]string, 0, len(roots))
	for _, root := range roots {
		p, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("invalid preview root %q: %w", root, err)
		}
		abs = append(abs, p)
	}
	return &Server{roots: abs, logger: logger}, nil
}

// Resolve returns the cleaned absolute form of path when it lies inside one
// of the roots.
func (s *Server) Resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", ErrNotFound
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrOutsideRoots, err)
	}
	for _, root := range s.roots {
		rel, err := filepath.Rel(root, abs)
		if err != nil || rel == "." {
			continue
		}
		if rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return abs, nil
		}
	}
	return "", ErrOutsideRoots
}

// ServeFile writes the file at path, honoring a Range header. Client errors
// (outside roots, missing file, bad range) are answered directly; only
// server-side failures are returned.
func (s *Server) ServeFile(w http.ResponseWriter, r *http.Request, path string) error {
	resolved, err := s.Resolve(path)
	if err != nil {
		status := http.StatusForbidden
		if errors.Is(err, ErrNotFound) {
			status = http.StatusNotFound
		}
		s.logger.Warn("preview request rejected", "path", logging.SanitizePath(path), "error", err)
		http.Error(w, err.Error(), status)
		return nil
	}

	file, err := os.Open(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, ErrNotFound.Error(), http.StatusNotFound)
			return nil
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	if stat.IsDir() {
		http.Error(w, ErrNotFound.Error(), http.StatusNotFound)
		return nil
	}

	size := stat.Size()
	contentType := mime.TypeByExtension(filepath.Ext(resolved))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", contentType)

	parsed, err := ParseRange(r.Header.Get("Range"), size)
	switch {
	case errors.Is(err, ErrUnsatisfiable):
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "Range Not Satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return nil
	case errors.Is(err, ErrInvalidRange):
		// malformed ranges are ignored and the whole file is sent
		parsed = nil
	case err != nil:
		return err
	}

	if parsed == nil {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			io.Copy(w, file)
		}
		return nil
	}

	w.Header().Set("Content-Length", strconv.FormatInt(parsed.ContentLength(), 10))
	w.Header().Set("Content-Range", parsed.ContentRange(size))
	w.WriteHeader(http.StatusPartialContent)

	if r.Method == http.MethodHead {
		return nil
	}
	if _, err := file.Seek(parsed.Start, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}
	io.CopyN(w, file, parsed.ContentLength())
	return nil
}
