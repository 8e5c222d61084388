package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// ErrInvalidOutputDir is wrapped by every ValidateOutputDir failure.
var ErrInvalidOutputDir = errors.New("invalid output dir")

// SanitizeName turns an asset identifier into a file-name fragment. Control
// characters are dropped, anything outside letters, digits and a few
// punctuation marks becomes '_', and the result is capped at maxLen runes.
func SanitizeName(s string, maxLen int) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsControl(r):
		case allowedNameRune(r):
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	cleaned := strings.TrimSpace(b.String())
	if runes := []rune(cleaned); maxLen > 0 && len(runes) > maxLen {
		cleaned = string(runes[:maxLen])
	}
	return cleaned
}

func allowedNameRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	return strings.ContainsRune(" -_.,()", r)
}

// ValidateOutputDir accepts only clean, traversal-free paths to an
// existing directory.
func ValidateOutputDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return fmt.Errorf("%w: path is required", ErrInvalidOutputDir)
	}

	for _, part := range strings.Split(filepath.ToSlash(dir), "/") {
		if part == ".." {
			return fmt.Errorf("%w: path traversal is not allowed", ErrInvalidOutputDir)
		}
	}
	if filepath.Clean(dir) != dir {
		return fmt.Errorf("%w: path must be clean", ErrInvalidOutputDir)
	}

	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		return fmt.Errorf("%w: %s does not exist", ErrInvalidOutputDir, dir)
	case err != nil:
		return fmt.Errorf("%w: %v", ErrInvalidOutputDir, err)
	case !info.IsDir():
		return fmt.Errorf("%w: %s is not a directory", ErrInvalidOutputDir, dir)
	}
	return nil
}
