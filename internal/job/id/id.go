// Package id provides unique identifier generation for jobs.
package id

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// Generate creates a new unique, time-sortable job ID.
// Format: job-<lowercase ulid>
// Example: job-01hgw2bbg0000000000000000
func Generate() string {
	return GenerateAt(time.Now())
}

// GenerateAt creates a job ID whose timestamp component is t.
func GenerateAt(t time.Time) string {
	mu.Lock()
	defer mu.Unlock()
	return "job-" + strings.ToLower(ulid.MustNew(ulid.Timestamp(t), entropy).String())
}

// Time extracts the creation time encoded in a job ID.
func Time(jobID string) (time.Time, bool) {
	raw, ok := strings.CutPrefix(jobID, "job-")
	if !ok {
		return time.Time{}, false
	}
	u, err := ulid.ParseStrict(strings.ToUpper(raw))
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(u.Time()), true
}
