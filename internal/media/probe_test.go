package media

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleProbeJSON = `{
  "streams": [
    {"codec_type": "video", "width": 1920, "height": 1080, "duration": "12.000000"},
    {"codec_type": "audio", "duration": "12.010000"}
  ],
  "format": {"format_name": "mov,mp4,m4a,3gp,3g2,mj2", "duration": "12.010000", "size": "1048576", "bit_rate": "698000"}
}`

func TestParseProbeOutput(t *testing.T) {
	info, err := parseProbeOutput([]byte(sampleProbeJSON))
	require.NoError(t, err)

	assert.InDelta(t, 12.01, info.Duration, 0.0001)
	assert.Equal(t, 1920, info.Width)
	assert.Equal(t, 1080, info.Height)
	assert.Equal(t, int64(1048576), info.SizeBytes)
	assert.Equal(t, int64(698000), info.BitRate)
	assert.True(t, info.HasVideo)
	assert.True(t, info.HasAudio)
}

func TestParseProbeOutput_MissingDuration(t *testing.T) {
	info, err := parseProbeOutput([]byte(`{
  "streams": [{"codec_type": "video", "width": 640, "height": 360, "duration": "N/A"}],
  "format": {"format_name": "matroska,webm", "duration": "N/A"}
}`))
	require.NoError(t, err)
	assert.Zero(t, info.Duration)
	assert.Equal(t, 640, info.Width)
}

func TestParseProbeOutput_StreamDurationFallback(t *testing.T) {
	info, err := parseProbeOutput([]byte(`{
  "streams": [{"codec_type": "audio", "duration": "3.5"}],
  "format": {"format_name": "ogg"}
}`))
	require.NoError(t, err)
	assert.InDelta(t, 3.5, info.Duration, 0.0001)
	assert.False(t, info.HasVideo)
}

func TestParseProbeOutput_Failures(t *testing.T) {
	tests := map[string]string{
		"not json":          "this is not json",
		"no streams":        `{"streams": [], "format": {}}`,
		"only data streams": `{"streams": [{"codec_type": "data"}], "format": {}}`,
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := parseProbeOutput([]byte(data))
			assert.ErrorIs(t, err, ErrProbeFailed)
		})
	}
}

func TestFFprobe_Probe(t *testing.T) {
	bin := writeFakeTool(t, "ffprobe", "cat <<'JSON'\n"+sampleProbeJSON+"\nJSON")

	info, err := NewFFprobe(bin, time.Second).Probe(context.Background(), "/any/input.mp4")
	require.NoError(t, err)
	assert.InDelta(t, 12.01, info.Duration, 0.0001)
}

func TestFFprobe_NonZeroExit(t *testing.T) {
	bin := writeFakeTool(t, "ffprobe", `echo "moov atom not found" >&2; exit 1`)

	_, err := NewFFprobe(bin, time.Second).Probe(context.Background(), "/any/input.mp4")
	require.ErrorIs(t, err, ErrProbeFailed)
	assert.Contains(t, err.Error(), "moov atom not found")
}

func TestFFprobe_Timeout(t *testing.T) {
	bin := writeFakeTool(t, "ffprobe", `exec sleep 30`)

	start := time.Now()
	_, err := NewFFprobe(bin, 200*time.Millisecond).Probe(context.Background(), "/any/input.mp4")
	assert.ErrorIs(t, err, ErrProbeFailed)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestFFprobe_MissingBinary(t *testing.T) {
	_, err := NewFFprobe("/nonexistent/ffprobe", time.Second).Probe(context.Background(), "in.mp4")
	assert.ErrorIs(t, err, ErrProbeFailed)
}

func TestNewFFprobe_Defaults(t *testing.T) {
	p := NewFFprobe("", 0)
	assert.Equal(t, "ffprobe", p.ffprobePath)
	assert.Equal(t, DefaultProbeTimeout, p.timeout)
}
