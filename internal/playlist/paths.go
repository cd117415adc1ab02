package playlist

import (
	"fmt"
	"path/filepath"
	"strings"

	"playlistsync/internal/domain"
)

// FolderName returns the on-disk directory name for a playlist. Fetched
// titles are used as-is apart from path separators and control characters;
// titles that sanitize away entirely fall back to "playlist_<id>".
func FolderName(title string, id domain.PlaylistID) string {
	name := sanitizeTitle(title)
	// "." and ".." would escape the download root as path components.
	if name == "" || name == "." || name == ".." {
		return fmt.Sprintf("playlist_%d", id)
	}
	return name
}

// Dir returns the playlist folder under the download root.
func Dir(base string, p domain.Playlist) string {
	return filepath.Join(base, FolderName(p.Title, p.ID))
}

// AudioDir returns the nested audio output folder inside the playlist folder.
func AudioDir(base string, p domain.Playlist) string {
	name := FolderName(p.Title, p.ID)
	return filepath.Join(base, name, name)
}

func sanitizeTitle(title string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case r == '/' || r == '\\':
			b.WriteRune('_')
		case r < 0x20 || r == 0x7f:
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
