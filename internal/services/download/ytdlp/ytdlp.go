package ytdlp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"playlistsync/internal/domain"
	"playlistsync/internal/domain/ports"
)

// OutputTemplate is the fixed naming contract for downloaded videos. The
// archive and the extraction engine both rely on the bracketed ID marker.
const OutputTemplate = "%(title)s [%(id)s].%(ext)s"

const defaultMetadataTimeout = 120 * time.Second

var progressRe = regexp.MustCompile(`\[download\]\s+([\d.]+)%`)

// Runner shells out to yt-dlp for playlist metadata and single-video
// downloads.
type Runner struct {
	binary          string
	metadataTimeout time.Duration
}

// New builds a Runner. An empty binary falls back to "yt-dlp" on PATH; a
// non-positive timeout falls back to the default.
func New(binary string, metadataTimeout time.Duration) *Runner {
	bin := strings.TrimSpace(binary)
	if bin == "" {
		bin = "yt-dlp"
	}
	if metadataTimeout <= 0 {
		metadataTimeout = defaultMetadataTimeout
	}
	return &Runner{binary: bin, metadataTimeout: metadataTimeout}
}

// FetchPlaylistMetadata lists a playlist without downloading anything.
func (r *Runner) FetchPlaylistMetadata(ctx context.Context, url string) (domain.PlaylistMetadata, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return domain.PlaylistMetadata{}, fmt.Errorf("%w: playlist url is required", domain.ErrInvalidInput)
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.metadataTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, r.binary,
		"--flat-playlist",
		"--dump-single-json",
		"--no-warnings",
		url,
	)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return domain.PlaylistMetadata{}, ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return domain.PlaylistMetadata{}, fmt.Errorf("%w: %s", domain.ErrDownloader, msg)
	}

	meta, err := parsePlaylistJSON(stdout.Bytes())
	if err != nil {
		return domain.PlaylistMetadata{}, fmt.Errorf("%w: parse playlist listing: %s", domain.ErrDownloader, err)
	}
	return meta, nil
}

// DownloadOne fetches a single video into targetDir using the fixed output
// template. Progress and terminal outcomes are delivered synchronously
// through the sink; the sink always receives a finished or error event.
func (r *Runner) DownloadOne(ctx context.Context, videoURL, targetDir string, opts ports.DownloadOptions, sink ports.ProgressSink) error {
	if sink == nil {
		sink = noopSink{}
	}
	if opts.CookiesFile != "" && opts.UseBrowserCookies {
		return fmt.Errorf("%w: cookies_file and use_browser_cookies are mutually exclusive", domain.ErrInvalidInput)
	}

	args := buildDownloadArgs(videoURL, targetDir, opts)
	cmd := exec.CommandContext(ctx, r.binary, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: stdout pipe: %s", domain.ErrDownloader, err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		msg := err.Error()
		sink.OnProgress(ports.ProgressError, msg)
		return fmt.Errorf("%w: %s", domain.ErrDownloader, msg)
	}

	var errorLines []string
	var destination string
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "ERROR:"):
			errorLines = append(errorLines, strings.TrimSpace(strings.TrimPrefix(line, "ERROR:")))
		case strings.HasPrefix(line, "[download] Destination:"):
			destination = strings.TrimSpace(strings.TrimPrefix(line, "[download] Destination:"))
			sink.OnProgress(ports.ProgressDownloading, line)
		case progressRe.MatchString(line):
			sink.OnProgress(ports.ProgressDownloading, line)
		}
	}

	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		sink.OnProgress(ports.ProgressError, "cancelled")
		return ctx.Err()
	}
	if waitErr != nil {
		msg := strings.Join(errorLines, "; ")
		if msg == "" {
			msg = waitErr.Error()
		}
		sink.OnProgress(ports.ProgressError, msg)
		return fmt.Errorf("%w: %s", domain.ErrDownloader, msg)
	}

	sink.OnProgress(ports.ProgressFinished, destination)
	return nil
}

func buildDownloadArgs(videoURL, targetDir string, opts ports.DownloadOptions) []string {
	args := []string{
		"--newline",
		"--no-playlist",
		"-o", filepath.Join(targetDir, OutputTemplate),
	}
	switch {
	case opts.CookiesFile != "":
		args = append(args, "--cookies", opts.CookiesFile)
	case opts.UseBrowserCookies && opts.BrowserName != "":
		args = append(args, "--cookies-from-browser", opts.BrowserName)
	}
	return append(args, videoURL)
}

type playlistPayload struct {
	Title   string         `json:"title"`
	Entries []entryPayload `json:"entries"`
}

type entryPayload struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// parsePlaylistJSON converts a flat playlist dump into the domain listing.
// Placeholder titles mean the platform will refuse the download, so those
// entries are marked unavailable up front.
func parsePlaylistJSON(data []byte) (domain.PlaylistMetadata, error) {
	var payload playlistPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return domain.PlaylistMetadata{}, err
	}

	entries := make([]domain.VideoEntry, 0, len(payload.Entries))
	for _, e := range payload.Entries {
		if e.ID == "" {
			continue
		}
		url := e.URL
		if url == "" {
			url = fmt.Sprintf("https://www.youtube.com/watch?v=%s", e.ID)
		}
		entries = append(entries, domain.VideoEntry{
			ID:        e.ID,
			Title:     e.Title,
			URL:       url,
			Available: entryAvailable(e.Title),
		})
	}
	return domain.PlaylistMetadata{Title: payload.Title, Entries: entries}, nil
}

func entryAvailable(title string) bool {
	switch strings.TrimSpace(title) {
	case "", "[Private video]", "[Deleted video]":
		return false
	default:
		return true
	}
}

type noopSink struct{}

func (noopSink) OnProgress(ports.ProgressStatus, string) {}
