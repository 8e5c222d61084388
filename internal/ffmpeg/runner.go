package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	maxStderrBytes = 8 * 1024 // 8 KB tail of stderr kept for diagnostics
)

// ErrNoVideoStream is returned by Probe for files without a video stream.
var ErrNoVideoStream = errors.New("no video stream")

// Runner executes ffprobe and ffmpeg.
type Runner interface {
	// Probe reads stream metadata of a media file.
	Probe(ctx context.Context, path string) (*ProbeResult, error)

	// Render writes in to out with the given -vf filter chain. An empty
	// chain copies the video through a plain re-encode.
	Render(ctx context.Context, in, out, filterChain string) (RunResult, error)

	// RunDoctor checks that the binaries run and reports their versions.
	RunDoctor(ctx context.Context) (*Capabilities, error)
}

// Config holds the runner's configuration.
type Config struct {
	FFmpegPath    string // empty = "ffmpeg" on PATH
	FFprobePath   string // empty = "ffprobe" on PATH
	ProbeTimeout  time.Duration
	RenderTimeout time.Duration
	DoctorTimeout time.Duration
	Logger        *slog.Logger
	DebugPaths    bool // if true, log full file paths; otherwise sanitise
}

// DefaultConfig returns production-ready defaults.
func DefaultConfig(logger *slog.Logger) Config {
	return Config{
		ProbeTimeout:  30 * time.Second,
		RenderTimeout: 30 * time.Minute,
		DoctorTimeout: 10 * time.Second,
		Logger:        logger,
	}
}

// SubprocessRunner is the production implementation of Runner.
type SubprocessRunner struct {
	cfg     Config
	ffmpeg  string
	ffprobe string
}

// NewRunner resolves both binaries. A missing ffprobe is an error because
// the catalog cannot size videos without it.
func NewRunner(cfg Config) (*SubprocessRunner, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	ffmpeg, err := resolveBinary(cfg.FFmpegPath, "ffmpeg")
	if err != nil {
		return nil, err
	}
	ffprobe, err := resolveBinary(cfg.FFprobePath, "ffprobe")
	if err != nil {
		return nil, err
	}

	cfg.Logger.Info("ffmpeg runner initialised", "ffmpeg", ffmpeg, "ffprobe", ffprobe)
	return &SubprocessRunner{cfg: cfg, ffmpeg: ffmpeg, ffprobe: ffprobe}, nil
}

// Probe runs ffprobe and parses its JSON output.
func (r *SubprocessRunner) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.ProbeTimeout)
	defer cancel()

	var stdout bytes.Buffer
	result := r.exec(ctx, r.ffprobe, &stdout,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	if !result.IsSuccess() {
		return nil, fmt.Errorf("ffprobe %s exited %d: %s", r.safePath(path), result.ExitCode, result.StderrTail)
	}
	return parseProbe(stdout.Bytes())
}

// Render re-encodes in into out through filterChain.
func (r *SubprocessRunner) Render(ctx context.Context, in, out, filterChain string) (RunResult, error) {
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return RunResult{}, fmt.Errorf("cannot create output dir: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.RenderTimeout)
	defer cancel()

	result := r.exec(ctx, r.ffmpeg, io.Discard, renderArgs(in, out, filterChain)...)
	result.OutputPath = out
	if !result.IsSuccess() {
		os.Remove(out)
		return result, fmt.Errorf("ffmpeg exited %d: %s", result.ExitCode, truncate(result.StderrTail, 512))
	}
	return result, nil
}

func renderArgs(in, out, filterChain string) []string {
	args := []string{"-hide_banner", "-nostdin", "-y", "-i", in}
	if filterChain != "" {
		args = append(args, "-vf", filterChain)
	}
	return append(args, "-c:a", "copy", out)
}

// RunDoctor asks both binaries for their version banner.
func (r *SubprocessRunner) RunDoctor(ctx context.Context) (*Capabilities, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.DoctorTimeout)
	defer cancel()

	caps := &Capabilities{ProbedAt: time.Now()}

	var out bytes.Buffer
	if res := r.exec(ctx, r.ffmpeg, &out, "-hide_banner", "-version"); res.IsSuccess() {
		caps.FFmpeg = true
		caps.FFmpegVersion = parseVersion(out.String())
	}
	out.Reset()
	if res := r.exec(ctx, r.ffprobe, &out, "-hide_banner", "-version"); res.IsSuccess() {
		caps.FFprobe = true
		caps.FFprobeVersion = parseVersion(out.String())
	}

	if !caps.FFmpeg && !caps.FFprobe {
		return nil, errors.New("neither ffmpeg nor ffprobe could be executed")
	}

	r.cfg.Logger.Info("ffmpeg doctor probe complete",
		"ffmpeg", caps.FFmpegVersion,
		"ffprobe", caps.FFprobeVersion,
	)
	return caps, nil
}

// exec is the core subprocess execution helper.
func (r *SubprocessRunner) exec(ctx context.Context, bin string, stdout io.Writer, args ...string) RunResult {
	start := time.Now()

	cmd := exec.CommandContext(ctx, bin, args...)

	// Capture stderr with bounded buffer
	var stderrBuf bytes.Buffer
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: maxStderrBytes}
	cmd.Stdout = stdout

	r.cfg.Logger.Debug("executing command", "bin", filepath.Base(bin), "args", len(args))

	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	stderrTail := stderrBuf.String()
	if exitCode == 0 {
		r.cfg.Logger.Debug("command succeeded",
			"bin", filepath.Base(bin),
			"duration_ms", elapsed.Milliseconds(),
		)
	} else {
		if stderrTail == "" && err != nil {
			stderrTail = err.Error()
		}
		r.cfg.Logger.Warn("command failed",
			"bin", filepath.Base(bin),
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", truncate(stderrTail, 512),
		)
	}

	return RunResult{
		ExitCode:   exitCode,
		StderrTail: stderrTail,
		Duration:   elapsed,
	}
}

func (r *SubprocessRunner) safePath(path string) string {
	if r.cfg.DebugPaths {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Base(path)
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return filepath.Base(path)
}

func parseProbe(data []byte) (*ProbeResult, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("cannot parse ffprobe JSON: %w", err)
	}

	for _, s := range out.Streams {
		if s.CodecType != "video" {
			continue
		}
		res := &ProbeResult{
			Width:     s.Width,
			Height:    s.Height,
			Codec:     s.CodecName,
			FrameRate: parseFrameRate(s.AvgFrameRate),
			Rotation:  streamRotation(s),
		}
		res.Duration, _ = strconv.ParseFloat(out.Format.Duration, 64)
		if res.Duration == 0 {
			res.Duration, _ = strconv.ParseFloat(s.Duration, 64)
		}
		return res, nil
	}
	return nil, ErrNoVideoStream
}

// streamRotation prefers the display matrix side data over the legacy
// rotate tag.
func streamRotation(s probeStream) int {
	for _, sd := range s.SideDataList {
		if sd.Rotation != 0 {
			return sd.Rotation
		}
	}
	if v, ok := s.Tags["rotate"]; ok {
		if deg, err := strconv.Atoi(v); err == nil {
			return deg
		}
	}
	return 0
}

// parseFrameRate turns ffprobe's "30000/1001" notation into a float.
func parseFrameRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		f, _ := strconv.ParseFloat(s, 64)
		return f
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}

func parseVersion(banner string) string {
	line, _, _ := strings.Cut(banner, "\n")
	fields := strings.Fields(line)
	// "ffmpeg version 6.1.1 Copyright ..."
	if len(fields) >= 3 && fields[1] == "version" {
		return fields[2]
	}
	return strings.TrimSpace(line)
}

// resolveBinary finds a usable executable.
func resolveBinary(preferred, fallback string) (string, error) {
	name := preferred
	if name == "" {
		name = fallback
	}
	p, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("cannot locate %s: %w", name, err)
	}
	return p, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		// Keep only the tail
		b := lw.w.Bytes()
		lw.w.Reset()
		lw.w.Write(b[len(b)-lw.limit:])
	}
	return n, nil
}
