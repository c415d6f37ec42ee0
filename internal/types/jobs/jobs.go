package jobs

import (
	"path/filepath"
	"strings"
	"time"
)

// Status is the lifecycle state of a conversion job.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
	StatusNotFound  Status = "NOT_FOUND"
)

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Format is a supported output container.
type Format string

const (
	FormatMP4  Format = "mp4"
	FormatAVI  Format = "avi"
	FormatMOV  Format = "mov"
	FormatWebM Format = "webm"
	FormatMKV  Format = "mkv"
)

// SupportedFormats is the closed set of output formats.
var SupportedFormats = []Format{FormatMP4, FormatAVI, FormatMOV, FormatWebM, FormatMKV}

// ParseFormat normalizes s and reports whether it names a supported format.
func ParseFormat(s string) (Format, bool) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, supported := range SupportedFormats {
		if f == supported {
			return f, true
		}
	}
	return "", false
}

// Job is the payload handed from intake to the workers through the queue.
type Job struct {
	ID            string    `json:"id"`
	UploadName    string    `json:"upload_name"`
	Format        Format    `json:"format"`
	Compression   float64   `json:"compression"`
	NotifyAddress string    `json:"notify_address,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// OutputName is the name of the converted artifact this job produces.
func (j Job) OutputName() string {
	return ConvertedName(j.UploadName, j.Format)
}

// ConvertedName derives the converted artifact name from an upload name:
// "clip.mp4" converted to webm becomes "clip_converted.webm".
func ConvertedName(uploadName string, format Format) string {
	stem := strings.TrimSuffix(uploadName, filepath.Ext(uploadName))
	return stem + "_converted." + string(format)
}

// Result is the job record kept by the result backend.
type Result struct {
	Status     Status    `json:"status"`
	URL        string    `json:"url,omitempty"`
	Error      string    `json:"error,omitempty"`
	OutputName string    `json:"output_name,omitempty"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
}

// Succeeded builds a terminal success result.
func Succeeded(outputName, url string) Result {
	return Result{Status: StatusSucceeded, OutputName: outputName, URL: url}
}

// Failed builds a terminal failure result.
func Failed(reason string) Result {
	return Result{Status: StatusFailed, Error: reason}
}

// Handle is returned to the submitter once a job is enqueued.
type Handle struct {
	JobID string `json:"job_id"`
}
