package domain

import (
	"errors"
	"time"
)

// JobID identifies one acquisition job.
type JobID string

type JobKind string

const (
	KindDownload JobKind = "download"
	KindExtract  JobKind = "extract"
	KindBoth     JobKind = "both"
)

// Valid reports whether the kind is one of the recognized values.
func (k JobKind) Valid() bool {
	switch k {
	case KindDownload, KindExtract, KindBoth:
		return true
	default:
		return false
	}
}

// InvolvesDownload reports whether the kind runs the download engine.
func (k JobKind) InvolvesDownload() bool {
	return k == KindDownload || k == KindBoth
}

// InvolvesExtract reports whether the kind runs the extraction engine.
func (k JobKind) InvolvesExtract() bool {
	return k == KindExtract || k == KindBoth
}

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status is final. Terminal states are sticky.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// CombineStatuses resolves a job's terminal status from its phase outcomes.
// Precedence: failed > cancelled > completed.
func CombineStatuses(phases ...JobStatus) JobStatus {
	combined := JobCompleted
	for _, s := range phases {
		switch s {
		case JobFailed:
			return JobFailed
		case JobCancelled:
			combined = JobCancelled
		}
	}
	return combined
}

// BatchInfo mirrors the ledger state driving the current download phase.
type BatchInfo struct {
	TotalVideos     int `json:"total_videos"`
	DownloadedCount int `json:"downloaded_count"`
	PendingCount    int `json:"pending_count"`
	BatchSize       int `json:"batch_size"`
}

// PhaseProgress tracks one of a job's two independent phases. Completed is a
// position counter: it advances for failures too, while Failed counts them.
type PhaseProgress struct {
	Status    JobStatus  `json:"status"`
	Total     int        `json:"total"`
	Completed int        `json:"completed"`
	Failed    int        `json:"failed"`
	Batch     *BatchInfo `json:"batch,omitempty"`
}

type Job struct {
	ID          JobID         `json:"job_id"`
	PlaylistID  PlaylistID    `json:"playlist_id"`
	Kind        JobKind       `json:"kind"`
	Status      JobStatus     `json:"status"`
	Download    PhaseProgress `json:"download"`
	Extract     PhaseProgress `json:"extract"`
	Error       string        `json:"error,omitempty"`
	LogPath     string        `json:"log_path,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// Progress is the aggregate percentage across both phases.
func (j Job) Progress() int {
	total := j.Download.Total + j.Extract.Total
	if total < 1 {
		total = 1
	}
	return 100 * (j.Download.Completed + j.Extract.Completed) / total
}

// Validate checks domain invariants for Job.
func (j Job) Validate() error {
	if j.ID == "" {
		return errors.New("job id is required")
	}
	if j.PlaylistID <= 0 {
		return errors.New("playlist id must be positive")
	}
	if !j.Kind.Valid() {
		return errors.New("invalid kind: " + string(j.Kind))
	}
	switch j.Status {
	case JobPending, JobRunning, JobCompleted, JobFailed, JobCancelled:
	case "":
		return errors.New("status is required")
	default:
		return errors.New("invalid status: " + string(j.Status))
	}
	for _, phase := range []PhaseProgress{j.Download, j.Extract} {
		if phase.Completed < 0 || phase.Failed < 0 || phase.Total < 0 {
			return errors.New("phase counters must not be negative")
		}
	}
	return nil
}
