package domain

// Wire event types pushed to stream subscribers as {"type": ..., "data": ...}.
const (
	EventTypePlaylistUpdated = "playlist_updated"
	EventTypeJobProgress     = "job_progress"
	EventTypeLog             = "log"
	EventTypeJobTerminal     = "job_terminal"
	EventTypePong            = "pong"
)

// Event is anything the bus fans out to stream subscribers.
type Event interface {
	EventType() string
}

// PlaylistUpdatedEvent is emitted exactly once per playlist mutation.
type PlaylistUpdatedEvent struct {
	PlaylistID PlaylistID `json:"playlist_id"`
}

func (PlaylistUpdatedEvent) EventType() string { return EventTypePlaylistUpdated }

// JobProgressEvent carries a full job snapshot with the derived aggregate.
type JobProgressEvent struct {
	Job
	Progress int `json:"progress"`
}

func (JobProgressEvent) EventType() string { return EventTypeJobProgress }

// NewJobProgressEvent snapshots a job for publication.
func NewJobProgressEvent(job Job) JobProgressEvent {
	return JobProgressEvent{Job: job, Progress: job.Progress()}
}

// LogEvent mirrors one persisted job log line.
type LogEvent struct {
	JobID      JobID      `json:"job_id"`
	PlaylistID PlaylistID `json:"playlist_id"`
	Line       string     `json:"line"`
}

func (LogEvent) EventType() string { return EventTypeLog }

// JobTerminalEvent is emitted exactly once when a job reaches a final state.
type JobTerminalEvent struct {
	JobID      JobID      `json:"job_id"`
	PlaylistID PlaylistID `json:"playlist_id"`
	Status     JobStatus  `json:"status"`
	Error      string     `json:"error,omitempty"`
}

func (JobTerminalEvent) EventType() string { return EventTypeJobTerminal }
