package joblog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"playlistsync/internal/domain"
)

const stampLayout = "2006-01-02 15:04:05"

// PathFor returns the log file location for a job under the base download
// path.
func PathFor(base string, id domain.JobID) string {
	return filepath.Join(base, "logs", fmt.Sprintf("job_%s.log", id))
}

// Writer appends timestamped lines to a job's log file. Every line is
// synced so a live tail never lags, and mirrored to the optional sink for
// event streaming.
type Writer struct {
	mu     sync.Mutex
	file   *os.File
	path   string
	mirror func(line string)
}

// Open creates <base>/logs if needed and opens the job's log file for
// appending.
func Open(base string, id domain.JobID, mirror func(line string)) (*Writer, error) {
	path := PathFor(base, id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("joblog: create logs dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("joblog: open %s: %w", path, err)
	}
	return &Writer{file: f, path: path, mirror: mirror}, nil
}

// Path returns the log file location.
func (w *Writer) Path() string {
	return w.path
}

// Printf formats one log line, stamps it with the current UTC time, writes
// and syncs it. Write failures are swallowed so logging never takes down a
// job.
func (w *Writer) Printf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	line := fmt.Sprintf("[%s UTC] %s", time.Now().UTC().Format(stampLayout), msg)

	w.mu.Lock()
	if w.file != nil {
		fmt.Fprintln(w.file, line)
		w.file.Sync()
	}
	mirror := w.mirror
	w.mu.Unlock()

	if mirror != nil {
		mirror(line)
	}
}

// Close releases the file handle. Further Printf calls become mirror-only.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// Tail returns the last n lines of a log file. A missing file yields no
// lines, matching a job that has not written anything yet.
func Tail(path string, n int) ([]string, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("joblog: read %s: %w", path, err)
	}

	trimmed := strings.TrimRight(string(raw), "\n")
	if trimmed == "" {
		return []string{}, nil
	}
	lines := strings.Split(trimmed, "\n")
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}
