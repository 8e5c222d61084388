// Package ffmpeg runs ffprobe and ffmpeg as subprocesses: probing media
// dimensions for the catalog and rendering non-still assets through a crop
// filter chain.
package ffmpeg

import "time"

// ProbeResult is the subset of ffprobe output the agent uses.
type ProbeResult struct {
	Duration  float64 `json:"duration"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Codec     string  `json:"codec"`
	FrameRate float64 `json:"frame_rate"`
	// Rotation is the display rotation in degrees from stream metadata.
	Rotation int `json:"rotation"`
}

// OrientedSize returns the display dimensions, swapping width and height for
// sideways streams.
func (p ProbeResult) OrientedSize() (int, int) {
	switch ((p.Rotation % 360) + 360) % 360 {
	case 90, 270:
		return p.Height, p.Width
	default:
		return p.Width, p.Height
	}
}

// Capabilities reports which binaries are usable, as found by the doctor.
type Capabilities struct {
	FFmpeg         bool      `json:"ffmpeg"`
	FFprobe        bool      `json:"ffprobe"`
	FFmpegVersion  string    `json:"ffmpeg_version,omitempty"`
	FFprobeVersion string    `json:"ffprobe_version,omitempty"`
	ProbedAt       time.Time `json:"probed_at"`
}

// CanRender reports whether renders can be attempted.
func (c Capabilities) CanRender() bool { return c.FFmpeg }

// RunResult is the structured outcome of a subprocess.
type RunResult struct {
	ExitCode   int           `json:"exit_code"`
	OutputPath string        `json:"output_path,omitempty"`
	StderrTail string        `json:"stderr_tail,omitempty"` // last N bytes of stderr
	Duration   time.Duration `json:"duration"`
}

// IsSuccess returns true when the subprocess exited cleanly.
func (r RunResult) IsSuccess() bool { return r.ExitCode == 0 }

// ffprobe -print_format json shapes
type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

type probeStream struct {
	CodecType    string            `json:"codec_type"`
	CodecName    string            `json:"codec_name"`
	Width        int               `json:"width"`
	Height       int               `json:"height"`
	AvgFrameRate string            `json:"avg_frame_rate"`
	Duration     string            `json:"duration"`
	Tags         map[string]string `json:"tags"`
	SideDataList []struct {
		Rotation int `json:"rotation"`
	} `json:"side_data_list"`
}
