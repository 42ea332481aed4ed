package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"syscall"
	"time"
)

// DefaultProbeTimeout bounds a single ffprobe invocation.
const DefaultProbeTimeout = 30 * time.Second

// FFprobe implements Prober using the ffprobe CLI.
type FFprobe struct {
	ffprobePath string
	timeout     time.Duration
}

// NewFFprobe creates a prober. If ffprobePath is empty it defaults to
// "ffprobe"; a non-positive timeout uses DefaultProbeTimeout.
func NewFFprobe(ffprobePath string, timeout time.Duration) *FFprobe {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &FFprobe{ffprobePath: ffprobePath, timeout: timeout}
}

var _ Prober = (*FFprobe)(nil)

type probeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		Duration  string `json:"duration"`
	} `json:"streams"`
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		Size       string `json:"size"`
		BitRate    string `json:"bit_rate"`
	} `json:"format"`
}

// Probe returns duration and stream metadata for path.
func (p *FFprobe) Probe(ctx context.Context, path string) (Info, error) {
	out, err := p.run(ctx, path)
	// A resource-temporarily-unavailable spawn is the one failure worth a
	// single retry.
	if errors.Is(err, syscall.EAGAIN) {
		out, err = p.run(ctx, path)
	}
	if err != nil {
		return Info{}, err
	}
	return parseProbeOutput(out)
}

func (p *FFprobe) run(ctx context.Context, path string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	// #nosec G204 - ffprobePath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		// Spawn errors keep their syscall cause so Probe can retry EAGAIN.
		return nil, fmt.Errorf("%w: start: %w", ErrProbeFailed, err)
	}
	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrProbeFailed, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %w: %s", ErrProbeFailed, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return stdout.Bytes(), nil
}

func parseProbeOutput(data []byte) (Info, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return Info{}, fmt.Errorf("%w: parse output: %w", ErrProbeFailed, err)
	}
	if len(out.Streams) == 0 {
		return Info{}, fmt.Errorf("%w: no media streams", ErrProbeFailed)
	}

	info := Info{
		Duration:   parseSeconds(out.Format.Duration),
		FormatName: out.Format.FormatName,
		SizeBytes:  parseInt(out.Format.Size),
		BitRate:    parseInt(out.Format.BitRate),
	}
	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			if !info.HasVideo {
				info.Width, info.Height = s.Width, s.Height
			}
			info.HasVideo = true
		case "audio":
			info.HasAudio = true
		default:
			continue
		}
		// Fall back to the first stream duration when the container has none.
		if info.Duration == 0 {
			info.Duration = parseSeconds(s.Duration)
		}
	}
	if !info.HasVideo && !info.HasAudio {
		return Info{}, fmt.Errorf("%w: no audio or video streams", ErrProbeFailed)
	}
	return info, nil
}

// parseSeconds treats absent, "N/A", and negative values as unknown (0).
func parseSeconds(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func parseInt(s string) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}
