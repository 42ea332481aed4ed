// Package server provides the read-mostly HTTP status API: health, stats,
// the preset catalog and per-user job views.
package server

import (
	"time"

	"github.com/maauso/vidcompress/internal/hoststats"
	"github.com/maauso/vidcompress/internal/job"
	"github.com/maauso/vidcompress/internal/preset"
)

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// RootResponse is the service banner served at /.
type RootResponse struct {
	Service   string   `json:"service"`
	Version   string   `json:"version"`
	Endpoints []string `json:"endpoints"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
	Endpoints []string  `json:"endpoints"`
}

// StatsResponse summarises the jobs and temp files of the process.
type StatsResponse struct {
	// ActiveJobs counts jobs not yet in a terminal state.
	ActiveJobs int `json:"active_jobs"`

	// JobsByState counts every tracked job by state.
	JobsByState map[job.State]int `json:"jobs_by_state"`

	// TempFiles is the number of files in the temp workspace, or -1 when
	// it could not be read.
	TempFiles int `json:"temp_files"`

	MaxConcurrentTranscodes int `json:"max_concurrent_transcodes"`

	// Host is omitted when the host could not be sampled.
	Host *hoststats.Snapshot `json:"host,omitempty"`
}

// PresetsResponse lists the preset catalog in display order.
type PresetsResponse struct {
	Presets []preset.Preset `json:"presets"`
}

// JobResponse wraps a job snapshot.
type JobResponse struct {
	Job job.View `json:"job"`
}

// CancelResponse is returned when a cancellation was recorded.
type CancelResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}
