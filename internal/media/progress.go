package media

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// progressTracker turns ffmpeg "-progress" key=value lines into Progress
// ticks. A block of keys is terminated by a "progress=continue" or
// "progress=end" line, which is when a tick is emitted. The closing 100%
// tick only comes from finish, once the exit status is known.
type progressTracker struct {
	duration float64
	elapsed  time.Duration
	percent  float64
	done     bool
}

func newProgressTracker(durationSeconds float64) *progressTracker {
	if durationSeconds < 0 || math.IsNaN(durationSeconds) || math.IsInf(durationSeconds, 0) {
		durationSeconds = 0
	}
	return &progressTracker{duration: durationSeconds}
}

// feed consumes one line and reports whether a tick is ready.
func (t *progressTracker) feed(line string) (Progress, bool) {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return Progress{}, false
	}

	switch key {
	case "out_time_us", "out_time_ms":
		// Both keys are microseconds; out_time_ms is misnamed upstream.
		if us, err := strconv.ParseInt(value, 10, 64); err == nil && us >= 0 {
			t.advance(time.Duration(us) * time.Microsecond)
		}
	case "out_time":
		if d, ok := parseClock(value); ok {
			t.advance(d)
		}
	case "progress":
		if t.done {
			return Progress{}, false
		}
		return t.current(), true
	}
	return Progress{}, false
}

// finish returns the closing tick of a successful run. It reports 100
// when the duration is known and is emitted at most once.
func (t *progressTracker) finish() (Progress, bool) {
	if t.done {
		return Progress{}, false
	}
	t.done = true
	if t.duration > 0 {
		t.percent = 100
	}
	return t.current(), true
}

func (t *progressTracker) advance(d time.Duration) {
	if d <= t.elapsed {
		return
	}
	t.elapsed = d
	if t.duration > 0 {
		pct := math.Min(100, d.Seconds()/t.duration*100)
		if pct > t.percent {
			t.percent = pct
		}
	}
}

func (t *progressTracker) current() Progress {
	return Progress{
		Percent:       t.percent,
		Elapsed:       t.elapsed,
		Indeterminate: t.duration <= 0,
		Done:          t.done,
	}
}

// parseClock parses ffmpeg's HH:MM:SS.micro timestamps.
func parseClock(s string) (time.Duration, bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 {
		return 0, false
	}
	sec, err := strconv.ParseFloat(parts[2], 64)
	if err != nil || sec < 0 {
		return 0, false
	}
	total := float64(h)*3600 + float64(m)*60 + sec
	return time.Duration(total * float64(time.Second)), true
}
