package export

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSanitizeName_ControlChars(t *testing.T) {
	got := SanitizeName(" A\nB\rC\tD\x00 ", 100)
	if strings.ContainsAny(got, "\n\r\t\x00") {
		t.Fatalf("sanitize output contains control chars: %q", got)
	}
	if got != "ABCD" {
		t.Fatalf("SanitizeName() = %q, want ABCD", got)
	}
}

func TestSanitizeName_MaxLength(t *testing.T) {
	got := SanitizeName("abcdefghijklmnopqrstuvwxyz", 10)
	if len([]rune(got)) != 10 {
		t.Fatalf("expected length 10, got %d (%q)", len([]rune(got)), got)
	}
}

func TestSanitizeName_AssetIdentifiers(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"content://media/external/images/42", "content___media_external_images_42"},
		{"IMG_0001.HEIC", "IMG_0001.HEIC"},
		{"bad<>|\"name", "bad____name"},
		{"Az09 -_.,()", "Az09 -_.,()"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := SanitizeName(tt.in, 100); got != tt.want {
				t.Fatalf("SanitizeName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestValidateOutputDir_Valid(t *testing.T) {
	dir := t.TempDir()
	if err := ValidateOutputDir(dir); err != nil {
		t.Fatalf("ValidateOutputDir(%q) error = %v, want nil", dir, err)
	}
}

func TestValidateOutputDir_Invalid(t *testing.T) {
	base := t.TempDir()
	filePath := filepath.Join(base, "file.txt")
	if err := os.WriteFile(filePath, []byte("x"), 0o644); err != nil {
		t.Fatalf("failed to create file: %v", err)
	}

	tests := []struct {
		name string
		dir  string
	}{
		{"empty", "  "},
		{"missing", filepath.Join(base, "missing")},
		{"traversal", "/tmp/../etc"},
		{"unclean", base + "/./"},
		{"not a dir", filePath},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOutputDir(tt.dir)
			if !errors.Is(err, ErrInvalidOutputDir) {
				t.Fatalf("ValidateOutputDir(%q) error = %v, want ErrInvalidOutputDir", tt.dir, err)
			}
		})
	}
}
