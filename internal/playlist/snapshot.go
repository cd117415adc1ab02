package playlist

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"playlistsync/internal/domain"
)

const (
	snapshotDirName     = "playlist_info_snapshot"
	snapshotFileName    = "playlist_info.json"
	snapshotStampLayout = "20060102_150405"
	dateLayout          = "2006-01-02"
)

// snapshotPath returns the current snapshot file inside a playlist folder.
func snapshotPath(dir string) string {
	return filepath.Join(dir, snapshotDirName, snapshotFileName)
}

// snapshotFresh reports whether the current snapshot was written on the same
// local day as now. A missing file is stale.
func snapshotFresh(dir string, now time.Time) bool {
	info, err := os.Stat(snapshotPath(dir))
	if err != nil {
		return false
	}
	return info.ModTime().Format(dateLayout) == now.Format(dateLayout)
}

// writeSnapshot persists metadata as the current snapshot plus a timestamped
// historical copy.
func writeSnapshot(dir string, meta domain.PlaylistMetadata, now time.Time) error {
	snapDir := filepath.Join(dir, snapshotDirName)
	if err := os.MkdirAll(snapDir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	stamped := fmt.Sprintf("playlist_info_%s.json", now.Format(snapshotStampLayout))
	for _, name := range []string{snapshotFileName, stamped} {
		if err := os.WriteFile(filepath.Join(snapDir, name), data, 0o644); err != nil {
			return fmt.Errorf("write snapshot %s: %w", name, err)
		}
	}
	return nil
}

// readSnapshot loads the current snapshot from a playlist folder.
func readSnapshot(dir string) (domain.PlaylistMetadata, error) {
	data, err := os.ReadFile(snapshotPath(dir))
	if err != nil {
		return domain.PlaylistMetadata{}, err
	}
	var meta domain.PlaylistMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return domain.PlaylistMetadata{}, fmt.Errorf("parse snapshot: %w", err)
	}
	return meta, nil
}
