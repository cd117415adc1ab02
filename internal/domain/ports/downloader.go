package ports

import (
	"context"

	"playlistsync/internal/domain"
)

// ProgressStatus is the per-video state reported through a ProgressSink.
type ProgressStatus string

const (
	ProgressDownloading ProgressStatus = "downloading"
	ProgressFinished    ProgressStatus = "finished"
	ProgressError       ProgressStatus = "error"
)

// ProgressSink receives per-video progress callbacks from the downloader.
// Dispatch is synchronous from the adapter; implementations own all state
// mutation and must not block.
type ProgressSink interface {
	OnProgress(status ProgressStatus, message string)
}

// DownloadOptions carries the authentication options for a download run.
// CookiesFile and UseBrowserCookies are mutually exclusive.
type DownloadOptions struct {
	CookiesFile       string
	UseBrowserCookies bool
	BrowserName       string
}

// MetadataFetcher fetches remote playlist metadata. The call blocks until
// the external tool returns or its fetch timeout expires.
type MetadataFetcher interface {
	FetchPlaylistMetadata(ctx context.Context, url string) (domain.PlaylistMetadata, error)
}

// VideoDownloader downloads a single video into targetDir under the fixed
// "<title> [<id>].<ext>" naming contract. The sink always receives a
// terminal finished or error event.
type VideoDownloader interface {
	DownloadOne(ctx context.Context, videoURL, targetDir string, opts DownloadOptions, sink ProgressSink) error
}
