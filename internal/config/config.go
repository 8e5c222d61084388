// Package config provides configuration management for the crop agent.
// Configuration is built from defaults, an optional TOML file and
// environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	// Default values
	DefaultPort                = 8787
	DefaultLogLevel            = "info"
	DefaultDataDir             = ".heimdex"
	DefaultPreferredOutputSize = 1080
	DefaultOutputFormat        = "jpeg"
	DefaultJPEGQuality         = 90
	DefaultRenderTimeout       = 1800 // seconds

	// Environment variable names
	EnvPort                = "HEIMDEX_PORT"
	EnvLogLevel            = "HEIMDEX_LOG_LEVEL"
	EnvDataDir             = "HEIMDEX_DATA_DIR"
	EnvConfigFile          = "HEIMDEX_CONFIG_FILE"
	EnvAspectRatios        = "HEIMDEX_ASPECT_RATIOS"
	EnvPreferredOutputSize = "HEIMDEX_PREFERRED_OUTPUT_SIZE"
	EnvOutputFormat        = "HEIMDEX_OUTPUT_FORMAT"
	EnvJPEGQuality         = "HEIMDEX_JPEG_QUALITY"
	EnvKeepParams          = "HEIMDEX_KEEP_PARAMS"
	EnvFFmpegPath          = "HEIMDEX_FFMPEG_PATH"
	EnvFFprobePath         = "HEIMDEX_FFPROBE_PATH"
	EnvRenderTimeout       = "HEIMDEX_RENDER_TIMEOUT"
	EnvHeadless            = "HEIMDEX_HEADLESS"

	// Database filename
	DBFilename = "heimdex.db"
)

// DefaultAspectRatios is the crop frame cycle used when none is configured.
var DefaultAspectRatios = []string{"16:9", "4:3", "1:1", "4:5", "9:16"}

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	ScratchDir() string
	OutputDir() string
	AspectRatios() []float64
	PreferredOutputSize() int
	OutputFormat() string
	JPEGQuality() int
	KeepParams() bool
	FFmpegPath() string
	FFprobePath() string
	RenderTimeout() time.Duration
	Headless() bool
}

// fileConfig is the TOML file layout. Zero values leave the default alone.
type fileConfig struct {
	Port                int      `toml:"port"`
	LogLevel            string   `toml:"log_level"`
	DataDir             string   `toml:"data_dir"`
	AspectRatios        []string `toml:"aspect_ratios"`
	PreferredOutputSize int      `toml:"preferred_output_size"`
	OutputFormat        string   `toml:"output_format"`
	JPEGQuality         int      `toml:"jpeg_quality"`
	KeepParams          *bool    `toml:"keep_params"`
	FFmpegPath          string   `toml:"ffmpeg_path"`
	FFprobePath         string   `toml:"ffprobe_path"`
	RenderTimeout       int      `toml:"render_timeout_seconds"`
	Headless            *bool    `toml:"headless"`
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port                int
	logLevel            string
	dataDir             string
	aspectRatios        []float64
	preferredOutputSize int
	outputFormat        string
	jpegQuality         int
	keepParams          bool
	ffmpegPath          string
	ffprobePath         string
	renderTimeout       time.Duration
	headless            bool
	configFile          string
}

// New creates a new EnvConfig with defaults, the optional config file and
// environment variable overrides applied, then validates it.
func New() (*EnvConfig, error) {
	ratios, err := ParseAspectRatios(DefaultAspectRatios)
	if err != nil {
		return nil, err
	}
	cfg := &EnvConfig{
		port:                DefaultPort,
		logLevel:            DefaultLogLevel,
		dataDir:             defaultDataDir(),
		aspectRatios:        ratios,
		preferredOutputSize: DefaultPreferredOutputSize,
		outputFormat:        DefaultOutputFormat,
		jpegQuality:         DefaultJPEGQuality,
		renderTimeout:       DefaultRenderTimeout * time.Second,
	}

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *EnvConfig) loadFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var fc fileConfig
	if err := toml.NewDecoder(file).DisallowUnknownFields().Decode(&fc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	c.configFile = path

	if fc.Port != 0 {
		c.port = fc.Port
	}
	if fc.LogLevel != "" {
		c.logLevel = fc.LogLevel
	}
	if fc.DataDir != "" {
		c.dataDir = fc.DataDir
	}
	if len(fc.AspectRatios) > 0 {
		ratios, err := ParseAspectRatios(fc.AspectRatios)
		if err != nil {
			return fmt.Errorf("config %s: %w", path, err)
		}
		c.aspectRatios = ratios
	}
	if fc.PreferredOutputSize != 0 {
		c.preferredOutputSize = fc.PreferredOutputSize
	}
	if fc.OutputFormat != "" {
		c.outputFormat = fc.OutputFormat
	}
	if fc.JPEGQuality != 0 {
		c.jpegQuality = fc.JPEGQuality
	}
	if fc.KeepParams != nil {
		c.keepParams = *fc.KeepParams
	}
	if fc.FFmpegPath != "" {
		c.ffmpegPath = fc.FFmpegPath
	}
	if fc.FFprobePath != "" {
		c.ffprobePath = fc.FFprobePath
	}
	if fc.RenderTimeout != 0 {
		c.renderTimeout = time.Duration(fc.RenderTimeout) * time.Second
	}
	if fc.Headless != nil {
		c.headless = *fc.Headless
	}
	return nil
}

func (c *EnvConfig) loadEnv() error {
	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		c.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		c.logLevel = ll
	}

	if dd := os.Getenv(EnvDataDir); dd != "" {
		c.dataDir = dd
	}

	if ar := os.Getenv(EnvAspectRatios); ar != "" {
		ratios, err := ParseAspectRatios(strings.Split(ar, ","))
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvAspectRatios, err)
		}
		c.aspectRatios = ratios
	}

	if v := os.Getenv(EnvPreferredOutputSize); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPreferredOutputSize, err)
		}
		c.preferredOutputSize = n
	}

	if v := os.Getenv(EnvOutputFormat); v != "" {
		c.outputFormat = v
	}

	if v := os.Getenv(EnvJPEGQuality); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvJPEGQuality, err)
		}
		c.jpegQuality = n
	}

	if v := os.Getenv(EnvKeepParams); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvKeepParams, err)
		}
		c.keepParams = b
	}

	if v := os.Getenv(EnvFFmpegPath); v != "" {
		c.ffmpegPath = v
	}
	if v := os.Getenv(EnvFFprobePath); v != "" {
		c.ffprobePath = v
	}

	if v := os.Getenv(EnvRenderTimeout); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvRenderTimeout, err)
		}
		c.renderTimeout = time.Duration(n) * time.Second
	}

	if v := os.Getenv(EnvHeadless); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvHeadless, err)
		}
		c.headless = b
	}
	return nil
}

func (c *EnvConfig) validate() error {
	var errs []error
	if c.port < 1 || c.port > 65535 {
		errs = append(errs, fmt.Errorf("port must be between 1 and 65535, got %d", c.port))
	}
	if len(c.aspectRatios) == 0 {
		errs = append(errs, errors.New("at least one aspect ratio is required"))
	}
	if c.preferredOutputSize <= 0 {
		errs = append(errs, fmt.Errorf("preferred output size must be positive, got %d", c.preferredOutputSize))
	}
	switch strings.ToLower(c.outputFormat) {
	case "jpeg", "jpg", "png":
	default:
		errs = append(errs, fmt.Errorf("output format must be jpeg or png, got %q", c.outputFormat))
	}
	if c.jpegQuality < 1 || c.jpegQuality > 100 {
		errs = append(errs, fmt.Errorf("jpeg quality must be between 1 and 100, got %d", c.jpegQuality))
	}
	if c.renderTimeout <= 0 {
		errs = append(errs, fmt.Errorf("render timeout must be positive, got %s", c.renderTimeout))
	}
	return errors.Join(errs...)
}

// ParseAspectRatios accepts "W:H" pairs or plain decimals, in order.
func ParseAspectRatios(values []string) ([]float64, error) {
	ratios := make([]float64, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		r, err := parseAspectRatio(v)
		if err != nil {
			return nil, err
		}
		ratios = append(ratios, r)
	}
	if len(ratios) == 0 {
		return nil, errors.New("at least one aspect ratio is required")
	}
	return ratios, nil
}

func parseAspectRatio(s string) (float64, error) {
	w, h, isPair := strings.Cut(s, ":")
	if !isPair {
		r, err := strconv.ParseFloat(s, 64)
		if err != nil || r <= 0 {
			return 0, fmt.Errorf("invalid aspect ratio %q", s)
		}
		return r, nil
	}
	fw, err1 := strconv.ParseFloat(strings.TrimSpace(w), 64)
	fh, err2 := strconv.ParseFloat(strings.TrimSpace(h), 64)
	if err1 != nil || err2 != nil || fw <= 0 || fh <= 0 {
		return 0, fmt.Errorf("invalid aspect ratio %q", s)
	}
	return fw / fh, nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// ScratchDir holds export intermediates and outputs not moved elsewhere.
func (c *EnvConfig) ScratchDir() string {
	return filepath.Join(c.dataDir, "scratch")
}

// OutputDir receives rendered videos.
func (c *EnvConfig) OutputDir() string {
	return filepath.Join(c.dataDir, "outputs")
}

func (c *EnvConfig) AspectRatios() []float64 {
	out := make([]float64, len(c.aspectRatios))
	copy(out, c.aspectRatios)
	return out
}

func (c *EnvConfig) PreferredOutputSize() int {
	return c.preferredOutputSize
}

func (c *EnvConfig) OutputFormat() string {
	return strings.ToLower(c.outputFormat)
}

func (c *EnvConfig) JPEGQuality() int {
	return c.jpegQuality
}

// KeepParams reports whether crop parameters survive reopening the picker.
func (c *EnvConfig) KeepParams() bool {
	return c.keepParams
}

func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpegPath
}

func (c *EnvConfig) FFprobePath() string {
	return c.ffprobePath
}

func (c *EnvConfig) RenderTimeout() time.Duration {
	return c.renderTimeout
}

func (c *EnvConfig) Headless() bool {
	return c.headless
}

// ConfigFile is the TOML file that was loaded, if any.
func (c *EnvConfig) ConfigFile() string {
	return c.configFile
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
