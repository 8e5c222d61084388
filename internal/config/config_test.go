package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		EnvPort, EnvLogLevel, EnvDataDir, EnvConfigFile, EnvAspectRatios,
		EnvPreferredOutputSize, EnvOutputFormat, EnvJPEGQuality, EnvKeepParams,
		EnvFFmpegPath, EnvFFprobePath, EnvRenderTimeout, EnvHeadless,
	} {
		t.Setenv(key, "")
	}
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestNew_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != DefaultPort {
		t.Errorf("Port() = %d, want %d", cfg.Port(), DefaultPort)
	}
	if cfg.PreferredOutputSize() != DefaultPreferredOutputSize {
		t.Errorf("PreferredOutputSize() = %d", cfg.PreferredOutputSize())
	}
	if cfg.OutputFormat() != "jpeg" || cfg.JPEGQuality() != DefaultJPEGQuality {
		t.Errorf("format = %s quality = %d", cfg.OutputFormat(), cfg.JPEGQuality())
	}
	if cfg.KeepParams() || cfg.Headless() {
		t.Error("keep params and headless should default to false")
	}
	ratios := cfg.AspectRatios()
	if len(ratios) != len(DefaultAspectRatios) || !approx(ratios[0], 16.0/9.0) {
		t.Errorf("AspectRatios() = %v", ratios)
	}
	if cfg.RenderTimeout() != DefaultRenderTimeout*time.Second {
		t.Errorf("RenderTimeout() = %s", cfg.RenderTimeout())
	}
}

func TestNew_EnvOverrides(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Setenv(EnvPort, "9000")
	t.Setenv(EnvDataDir, dir)
	t.Setenv(EnvAspectRatios, "1:1, 1.5")
	t.Setenv(EnvPreferredOutputSize, "2048")
	t.Setenv(EnvOutputFormat, "PNG")
	t.Setenv(EnvKeepParams, "true")
	t.Setenv(EnvHeadless, "1")
	t.Setenv(EnvRenderTimeout, "60")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != 9000 {
		t.Errorf("Port() = %d, want 9000", cfg.Port())
	}
	if cfg.DBPath() != filepath.Join(dir, DBFilename) {
		t.Errorf("DBPath() = %s", cfg.DBPath())
	}
	if cfg.ScratchDir() != filepath.Join(dir, "scratch") || cfg.OutputDir() != filepath.Join(dir, "outputs") {
		t.Errorf("ScratchDir() = %s OutputDir() = %s", cfg.ScratchDir(), cfg.OutputDir())
	}
	if r := cfg.AspectRatios(); len(r) != 2 || r[0] != 1 || r[1] != 1.5 {
		t.Errorf("AspectRatios() = %v, want [1 1.5]", r)
	}
	if cfg.PreferredOutputSize() != 2048 || cfg.OutputFormat() != "png" {
		t.Errorf("size = %d format = %s", cfg.PreferredOutputSize(), cfg.OutputFormat())
	}
	if !cfg.KeepParams() || !cfg.Headless() {
		t.Error("keep params and headless should be true")
	}
	if cfg.RenderTimeout() != time.Minute {
		t.Errorf("RenderTimeout() = %s, want 1m", cfg.RenderTimeout())
	}
}

func TestNew_InvalidEnv(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"port not a number", EnvPort, "abc"},
		{"port out of range", EnvPort, "70000"},
		{"bad ratio", EnvAspectRatios, "16:0"},
		{"empty ratios", EnvAspectRatios, " , "},
		{"zero output size", EnvPreferredOutputSize, "0"},
		{"gif output", EnvOutputFormat, "gif"},
		{"quality too high", EnvJPEGQuality, "101"},
		{"keep params not bool", EnvKeepParams, "maybe"},
		{"negative timeout", EnvRenderTimeout, "-5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)
			if _, err := New(); err == nil {
				t.Fatalf("New() with %s=%q should fail", tt.key, tt.value)
			}
		})
	}
}

func TestNew_ConfigFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
port = 8800
aspect_ratios = ["3:2", "2:3"]
preferred_output_size = 720
output_format = "png"
keep_params = true
ffmpeg_path = "/opt/ffmpeg/bin/ffmpeg"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvConfigFile, path)
	t.Setenv(EnvPort, "8900")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != 8900 {
		t.Errorf("Port() = %d, environment should win over the file", cfg.Port())
	}
	if r := cfg.AspectRatios(); len(r) != 2 || !approx(r[0], 1.5) || !approx(r[1], 2.0/3.0) {
		t.Errorf("AspectRatios() = %v", r)
	}
	if cfg.PreferredOutputSize() != 720 || cfg.OutputFormat() != "png" || !cfg.KeepParams() {
		t.Errorf("file values not applied: size=%d format=%s keep=%v",
			cfg.PreferredOutputSize(), cfg.OutputFormat(), cfg.KeepParams())
	}
	if cfg.FFmpegPath() != "/opt/ffmpeg/bin/ffmpeg" {
		t.Errorf("FFmpegPath() = %s", cfg.FFmpegPath())
	}
	if cfg.ConfigFile() != path {
		t.Errorf("ConfigFile() = %s, want %s", cfg.ConfigFile(), path)
	}
}

func TestNew_ConfigFileErrors(t *testing.T) {
	dir := t.TempDir()
	unknown := filepath.Join(dir, "unknown.toml")
	os.WriteFile(unknown, []byte(`colour = "blue"`), 0644)
	broken := filepath.Join(dir, "broken.toml")
	os.WriteFile(broken, []byte(`port = `), 0644)

	for _, path := range []string{filepath.Join(dir, "missing.toml"), unknown, broken} {
		t.Run(filepath.Base(path), func(t *testing.T) {
			clearEnv(t)
			t.Setenv(EnvConfigFile, path)
			if _, err := New(); err == nil {
				t.Fatalf("New() with config file %s should fail", path)
			}
		})
	}
}

func TestParseAspectRatios(t *testing.T) {
	got, err := ParseAspectRatios([]string{"16:9", " 1 ", "0.8", ""})
	if err != nil {
		t.Fatalf("ParseAspectRatios() error = %v", err)
	}
	if len(got) != 3 || !approx(got[0], 16.0/9.0) || got[1] != 1 || got[2] != 0.8 {
		t.Errorf("ParseAspectRatios() = %v", got)
	}

	for _, bad := range []string{"abc", "-1", "4:x", "0:3"} {
		if _, err := ParseAspectRatios([]string{bad}); err == nil {
			t.Errorf("ParseAspectRatios(%q) should fail", bad)
		}
	}
}
