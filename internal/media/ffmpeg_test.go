package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/vidcompress/internal/preset"
)

// writeFakeTool writes an executable shell script standing in for ffmpeg or
// ffprobe and returns its path.
func writeFakeTool(t *testing.T, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell-script fakes need a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), name)
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755)) // #nosec G306 - test helper must be executable
	return path
}

// writeInput creates a source file of the given size.
func writeInput(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.mp4")
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o600))
	return path
}

func mustPreset(t *testing.T, key string) preset.Preset {
	t.Helper()
	p, err := preset.Default().Get(key)
	require.NoError(t, err)
	return p
}

// progressRecorder collects ticks delivered by Transcode.
type progressRecorder struct {
	mu    sync.Mutex
	ticks []Progress
}

func (r *progressRecorder) record(p Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticks = append(r.ticks, p)
}

func (r *progressRecorder) all() []Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Progress(nil), r.ticks...)
}

const lastArgAsOutput = `for a; do out="$a"; done`

func TestNewFFmpeg(t *testing.T) {
	t.Run("default path", func(t *testing.T) {
		f := NewFFmpeg("")
		assert.Equal(t, "ffmpeg", f.ffmpegPath)
		assert.Equal(t, defaultStderrTail, f.stderrTail)
	})

	t.Run("options", func(t *testing.T) {
		f := NewFFmpeg("/usr/local/bin/ffmpeg", WithThreads(2), WithMaxDuration(time.Minute), WithStderrTail(64))
		assert.Equal(t, "/usr/local/bin/ffmpeg", f.ffmpegPath)
		assert.Equal(t, 2, f.threads)
		assert.Equal(t, time.Minute, f.maxDuration)
		assert.Equal(t, 64, f.stderrTail)
	})
}

func TestBuildArgs_VideoPreset(t *testing.T) {
	f := NewFFmpeg("", WithThreads(2))
	args := f.BuildArgs(TranscodeRequest{
		InputPath:  "/tmp/in.mp4",
		OutputPath: "/tmp/out.mp4",
		Preset:     mustPreset(t, "balanced"),
	})
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "-i /tmp/in.mp4")
	assert.Contains(t, joined, "-c:v libx264 -crf 24 -preset fast")
	assert.Contains(t, joined, "-maxrate 1500k -bufsize 3000k")
	assert.Contains(t, joined, "-vf scale='min(1920,iw)':-2")
	assert.Contains(t, joined, "-c:a aac -b:a 128k")
	assert.Contains(t, joined, "-movflags +faststart")
	assert.Contains(t, joined, "-threads 2")
	assert.Contains(t, joined, "-progress pipe:1 -nostats")
	assert.NotContains(t, joined, "-vn")
	assert.Equal(t, "/tmp/out.mp4", args[len(args)-1])
}

func TestBuildArgs_KeepsSourceResolution(t *testing.T) {
	f := NewFFmpeg("")
	args := f.BuildArgs(TranscodeRequest{InputPath: "in", OutputPath: "out", Preset: mustPreset(t, "high")})

	assert.NotContains(t, args, "-vf")
	assert.NotContains(t, args, "-threads")
	assert.Contains(t, strings.Join(args, " "), "-crf 20 -preset medium")
}

func TestBuildArgs_AudioPreset(t *testing.T) {
	f := NewFFmpeg("")
	args := f.BuildArgs(TranscodeRequest{InputPath: "in", OutputPath: "out.m4a", Preset: mustPreset(t, "audio")})
	joined := strings.Join(args, " ")

	assert.Contains(t, args, "-vn")
	assert.NotContains(t, joined, "-c:v")
	assert.NotContains(t, joined, "-crf")
	assert.Contains(t, joined, "-b:a 128k")
}

func TestScaleFilter(t *testing.T) {
	assert.Equal(t, "scale='min(1280,iw)':-2", scaleFilter(preset.Resolution{Width: 1280}))
	assert.Equal(t, "scale='min(1280,iw)':'min(720,ih)'", scaleFilter(preset.Resolution{Width: 1280, Height: 720}))
}

func TestTranscode_Success(t *testing.T) {
	bin := writeFakeTool(t, "ffmpeg", lastArgAsOutput+`
printf 'frame=1\nout_time_us=1000000\nprogress=continue\n'
printf 'out_time_us=3000000\nprogress=continue\n'
printf 'out_time_us=2000000\nprogress=continue\n'
printf 'out_time_us=5000000\nprogress=end\n'
printf 'compressed' > "$out"`)

	in := writeInput(t, 100)
	out := filepath.Join(t.TempDir(), "out.mp4")
	rec := &progressRecorder{}

	stats, err := NewFFmpeg(bin).Transcode(context.Background(), TranscodeRequest{
		InputPath:    in,
		OutputPath:   out,
		Preset:       mustPreset(t, "balanced"),
		DurationHint: 4,
	}, rec.record)
	require.NoError(t, err)

	assert.Equal(t, int64(100), stats.InputBytes)
	assert.Equal(t, int64(len("compressed")), stats.OutputBytes)
	assert.InDelta(t, 90.0, stats.ReductionPercent, 0.001)

	ticks := rec.all()
	require.Len(t, ticks, 5)
	assert.InDelta(t, 25.0, ticks[0].Percent, 0.001)
	assert.InDelta(t, 75.0, ticks[1].Percent, 0.001)
	assert.InDelta(t, 75.0, ticks[2].Percent, 0.001, "backwards timestamps must not lower the percent")
	assert.InDelta(t, 100.0, ticks[3].Percent, 0.001)
	assert.False(t, ticks[3].Done, "the end marker is not the final tick")
	assert.InDelta(t, 100.0, ticks[4].Percent, 0.001)
	assert.True(t, ticks[4].Done)
	for i := 1; i < len(ticks); i++ {
		assert.GreaterOrEqual(t, ticks[i].Percent, ticks[i-1].Percent)
	}
}

func TestTranscode_EndsAtHundredWithoutEndMarker(t *testing.T) {
	bin := writeFakeTool(t, "ffmpeg", lastArgAsOutput+`
printf 'out_time_us=1000000\nprogress=continue\n'
printf 'x' > "$out"`)

	rec := &progressRecorder{}
	_, err := NewFFmpeg(bin).Transcode(context.Background(), TranscodeRequest{
		InputPath:    writeInput(t, 10),
		OutputPath:   filepath.Join(t.TempDir(), "out.mp4"),
		Preset:       mustPreset(t, "low"),
		DurationHint: 10,
	}, rec.record)
	require.NoError(t, err)

	ticks := rec.all()
	require.Len(t, ticks, 2)
	assert.InDelta(t, 10.0, ticks[0].Percent, 0.001)
	assert.InDelta(t, 100.0, ticks[1].Percent, 0.001)
	assert.True(t, ticks[1].Done)
}

func TestTranscode_UnknownDurationIsIndeterminate(t *testing.T) {
	bin := writeFakeTool(t, "ffmpeg", lastArgAsOutput+`
printf 'out_time=00:00:01.500000\nprogress=continue\n'
printf 'out_time=00:00:03.000000\nprogress=end\n'
printf 'x' > "$out"`)

	rec := &progressRecorder{}
	_, err := NewFFmpeg(bin).Transcode(context.Background(), TranscodeRequest{
		InputPath:  writeInput(t, 10),
		OutputPath: filepath.Join(t.TempDir(), "out.mp4"),
		Preset:     mustPreset(t, "low"),
	}, rec.record)
	require.NoError(t, err)

	ticks := rec.all()
	require.Len(t, ticks, 3)
	for _, tick := range ticks {
		assert.True(t, tick.Indeterminate)
		assert.Zero(t, tick.Percent)
	}
	assert.Equal(t, 1500*time.Millisecond, ticks[0].Elapsed)
	assert.Equal(t, 3*time.Second, ticks[1].Elapsed)
	assert.True(t, ticks[2].Done)
}

func TestTranscode_FailureAfterEndMarkerHasNoFinalTick(t *testing.T) {
	bin := writeFakeTool(t, "ffmpeg", `
printf 'out_time_us=5000000\nprogress=end\n'
exit 1`)

	rec := &progressRecorder{}
	_, err := NewFFmpeg(bin).Transcode(context.Background(), TranscodeRequest{
		InputPath:    writeInput(t, 10),
		OutputPath:   filepath.Join(t.TempDir(), "out.mp4"),
		Preset:       mustPreset(t, "low"),
		DurationHint: 10,
	}, rec.record)

	var te *TranscodeError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, ReasonNonZeroExit, te.Reason)

	ticks := rec.all()
	require.Len(t, ticks, 1)
	assert.InDelta(t, 50.0, ticks[0].Percent, 0.001)
	for _, tick := range ticks {
		assert.False(t, tick.Done)
	}
}

func TestTranscode_NonZeroExitKeepsStderrTail(t *testing.T) {
	bin := writeFakeTool(t, "ffmpeg", `
i=0
while [ $i -lt 100 ]; do printf 'noise-noise-' >&2; i=$((i+1)); done
printf 'Invalid data found when processing input' >&2
exit 1`)

	_, err := NewFFmpeg(bin).Transcode(context.Background(), TranscodeRequest{
		InputPath:  writeInput(t, 10),
		OutputPath: filepath.Join(t.TempDir(), "out.mp4"),
		Preset:     mustPreset(t, "low"),
	}, nil)
	require.Error(t, err)

	var te *TranscodeError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, ReasonNonZeroExit, te.Reason)
	assert.LessOrEqual(t, len(te.Stderr), defaultStderrTail)
	assert.True(t, strings.HasSuffix(te.Stderr, "Invalid data found when processing input"))
	assert.ErrorIs(t, err, ErrTranscodeFailed)
	assert.NotErrorIs(t, err, ErrCancelled)
}

func TestTranscode_EmptyOutput(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		bin := writeFakeTool(t, "ffmpeg", `exit 0`)
		_, err := NewFFmpeg(bin).Transcode(context.Background(), TranscodeRequest{
			InputPath:  writeInput(t, 10),
			OutputPath: filepath.Join(t.TempDir(), "out.mp4"),
			Preset:     mustPreset(t, "low"),
		}, nil)

		var te *TranscodeError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, ReasonEmptyOutput, te.Reason)
	})

	t.Run("zero bytes", func(t *testing.T) {
		bin := writeFakeTool(t, "ffmpeg", lastArgAsOutput+`
: > "$out"`)
		_, err := NewFFmpeg(bin).Transcode(context.Background(), TranscodeRequest{
			InputPath:  writeInput(t, 10),
			OutputPath: filepath.Join(t.TempDir(), "out.mp4"),
			Preset:     mustPreset(t, "low"),
		}, nil)

		var te *TranscodeError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, ReasonEmptyOutput, te.Reason)
	})
}

func TestTranscode_Timeout(t *testing.T) {
	bin := writeFakeTool(t, "ffmpeg", `exec sleep 30`)

	start := time.Now()
	_, err := NewFFmpeg(bin, WithMaxDuration(200*time.Millisecond)).Transcode(context.Background(), TranscodeRequest{
		InputPath:  writeInput(t, 10),
		OutputPath: filepath.Join(t.TempDir(), "out.mp4"),
		Preset:     mustPreset(t, "low"),
	}, nil)

	require.Error(t, err)
	assert.True(t, TimedOut(err), "expected timeout, got %v", err)
	assert.NotErrorIs(t, err, ErrCancelled)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestTranscode_WithinTimeBudget(t *testing.T) {
	bin := writeFakeTool(t, "ffmpeg", lastArgAsOutput+`
printf 'out_time_us=1000000\nprogress=continue\n'
printf 'x' > "$out"`)

	stats, err := NewFFmpeg(bin, WithMaxDuration(30*time.Second)).Transcode(context.Background(), TranscodeRequest{
		InputPath:    writeInput(t, 10),
		OutputPath:   filepath.Join(t.TempDir(), "out.mp4"),
		Preset:       mustPreset(t, "low"),
		DurationHint: 2,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.OutputBytes)
}

func TestTranscode_CancelKillsProcess(t *testing.T) {
	bin := writeFakeTool(t, "ffmpeg", `
printf 'out_time_us=1000000\nprogress=continue\n'
exec sleep 30`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := TranscodeRequest{
		InputPath:    writeInput(t, 10),
		OutputPath:   filepath.Join(t.TempDir(), "out.mp4"),
		Preset:       mustPreset(t, "low"),
		DurationHint: 10,
	}
	ticked := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		_, err := NewFFmpeg(bin).Transcode(ctx, req, func(Progress) {
			select {
			case ticked <- struct{}{}:
			default:
			}
		})
		done <- err
	}()

	select {
	case <-ticked:
	case <-time.After(5 * time.Second):
		t.Fatal("no progress tick before cancel")
	}
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrCancelled)
		assert.NotErrorIs(t, err, ErrTranscodeFailed)
	case <-time.After(5 * time.Second):
		t.Fatal("encoder was not terminated after cancel")
	}
}

func TestTranscode_InvalidRequest(t *testing.T) {
	_, err := NewFFmpeg("").Transcode(context.Background(), TranscodeRequest{}, nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestTranscode_MissingInput(t *testing.T) {
	_, err := NewFFmpeg("").Transcode(context.Background(), TranscodeRequest{
		InputPath:  filepath.Join(t.TempDir(), "missing.mp4"),
		OutputPath: filepath.Join(t.TempDir(), "out.mp4"),
		Preset:     mustPreset(t, "low"),
	}, nil)

	var te *TranscodeError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, ReasonSpawn, te.Reason)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
