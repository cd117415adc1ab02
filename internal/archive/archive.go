package archive

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// DefaultSourceTag is the platform tag written before each video ID.
const DefaultSourceTag = "youtube"

const fileName = "archive.txt"

var videoExts = []string{".mp4", ".mkv", ".webm", ".m4v"}

// IsVideoFile reports whether name carries one of the downloadable video
// extensions.
func IsVideoFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, v := range videoExts {
		if ext == v {
			return true
		}
	}
	return false
}

// Archive is the per-playlist append-only record of video IDs known to have
// a verified local file. One line per entry: "<source-tag> <video_id>".
// Single writer under the playlist serialization token.
type Archive struct {
	mu        sync.Mutex
	dir       string
	path      string
	sourceTag string
	file      *os.File
	ids       map[string]struct{}
	order     []string
}

// Open loads (or creates) the archive file inside the playlist folder and
// keeps the handle positioned for appends.
func Open(dir, sourceTag string) (*Archive, error) {
	if sourceTag == "" {
		sourceTag = DefaultSourceTag
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("archive: create playlist dir: %w", err)
	}

	path := filepath.Join(dir, fileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", path, err)
	}

	a := &Archive{
		dir:       dir,
		path:      path,
		sourceTag: sourceTag,
		file:      f,
		ids:       make(map[string]struct{}),
	}

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		id := fields[len(fields)-1]
		if _, ok := a.ids[id]; ok {
			continue
		}
		a.ids[id] = struct{}{}
		a.order = append(a.order, id)
	}
	if err := scanner.Err(); err != nil {
		f.Close()
		return nil, fmt.Errorf("archive: read %s: %w", path, err)
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, fmt.Errorf("archive: seek %s: %w", path, err)
	}
	return a, nil
}

// ReadIDs loads the archived ID set from a playlist folder without creating
// the folder or the file. A missing archive yields an empty set.
func ReadIDs(dir string) (map[string]struct{}, error) {
	f, err := os.Open(filepath.Join(dir, fileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]struct{}{}, nil
		}
		return nil, fmt.Errorf("archive: open %s: %w", filepath.Join(dir, fileName), err)
	}
	defer f.Close()

	ids := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		ids[fields[len(fields)-1]] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("archive: read %s: %w", filepath.Join(dir, fileName), err)
	}
	return ids, nil
}

// Close releases the append handle.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	return err
}

// Contains reports whether the ID has an archive entry.
func (a *Archive) Contains(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.ids[id]
	return ok
}

// Len returns the number of archived IDs.
func (a *Archive) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.order)
}

// IDs returns the archived IDs in append order.
func (a *Archive) IDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.order))
	copy(out, a.order)
	return out
}

// IDSet returns the archived IDs as a set.
func (a *Archive) IDSet() map[string]struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]struct{}, len(a.ids))
	for id := range a.ids {
		out[id] = struct{}{}
	}
	return out
}

// Append records an ID, writing one line and syncing before returning.
// No-op if the ID is already present.
func (a *Archive) Append(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.ids[id]; ok {
		return nil
	}
	if a.file == nil {
		return fmt.Errorf("archive: closed")
	}
	if _, err := fmt.Fprintf(a.file, "%s %s\n", a.sourceTag, id); err != nil {
		return fmt.Errorf("archive: append %s: %w", id, err)
	}
	if err := a.file.Sync(); err != nil {
		return fmt.Errorf("archive: sync: %w", err)
	}
	a.ids[id] = struct{}{}
	a.order = append(a.order, id)
	return nil
}

// Remove deletes an ID by rewriting the file atomically. Used when the
// backing video file went missing and the video should be re-downloaded.
func (a *Archive) Remove(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.ids[id]; !ok {
		return nil
	}

	kept := make([]string, 0, len(a.order)-1)
	for _, existing := range a.order {
		if existing != id {
			kept = append(kept, existing)
		}
	}

	tmp := a.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("archive: rewrite: %w", err)
	}
	for _, existing := range kept {
		if _, err := fmt.Fprintf(f, "%s %s\n", a.sourceTag, existing); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("archive: rewrite: %w", err)
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("archive: rewrite sync: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("archive: rewrite close: %w", err)
	}

	if a.file != nil {
		a.file.Close()
		a.file = nil
	}
	if err := os.Rename(tmp, a.path); err != nil {
		return fmt.Errorf("archive: rewrite rename: %w", err)
	}

	reopened, err := os.OpenFile(a.path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("archive: reopen: %w", err)
	}
	a.file = reopened
	a.order = kept
	delete(a.ids, id)
	return nil
}

// FileOnDisk looks for a video file named with the ID marker and returns
// its base name. The marker search avoids glob metacharacter pitfalls with
// bracketed IDs.
func (a *Archive) FileOnDisk(id string) (string, bool) {
	return findVideoByID(a.dir, id)
}

// DiskIDSet scans the playlist folder once and returns the IDs embedded in
// video filenames. The download template puts the bracketed ID last, so the
// trailing bracket pair is taken; files that slipped past this parse are
// still caught by the per-ID FileOnDisk check.
func (a *Archive) DiskIDSet() (map[string]struct{}, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return nil, fmt.Errorf("archive: scan %s: %w", a.dir, err)
	}
	ids := make(map[string]struct{})
	for _, entry := range entries {
		if entry.IsDir() || !IsVideoFile(entry.Name()) {
			continue
		}
		base := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		open := strings.LastIndex(base, "[")
		if open < 0 || !strings.HasSuffix(base, "]") {
			continue
		}
		if id := base[open+1 : len(base)-1]; id != "" {
			ids[id] = struct{}{}
		}
	}
	return ids, nil
}

// VerifyFile is the post-download existence check.
func (a *Archive) VerifyFile(id string) (string, bool) {
	return findVideoByID(a.dir, id)
}

// ShouldDownload applies the decision rule: download iff the ID is not
// archived or its file is absent from disk. When the archive has the entry
// but only an old-format file exists, a best-effort title-match rename
// restores the ID marker; the returned renamed value carries the new base
// name when that happened. A failed rename comes back as an error with
// download true, so the caller can log it and fetch the video again.
func (a *Archive) ShouldDownload(id, title string) (download bool, renamed string, err error) {
	if !a.Contains(id) {
		return true, "", nil
	}
	if _, ok := findVideoByID(a.dir, id); ok {
		return false, "", nil
	}
	newName, ok, err := a.reconcileLegacy(id, title)
	if err != nil {
		return true, "", err
	}
	if ok {
		return false, newName, nil
	}
	return true, "", nil
}

// reconcileLegacy renames "<title>.<ext>" to "<title> [<id>].<ext>" when a
// normalized title match scores at or above the accept threshold. Never
// deletes; a rename failure is surfaced and otherwise treated as not found.
func (a *Archive) reconcileLegacy(id, title string) (string, bool, error) {
	if strings.TrimSpace(title) == "" {
		return "", false, nil
	}
	normTitle := normalizeTitle(title)
	if normTitle == "" {
		return "", false, nil
	}

	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return "", false, nil
	}

	bestScore := 0
	bestName := ""
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	for _, name := range names {
		if !IsVideoFile(name) || strings.Contains(name, "[") {
			continue
		}
		base := strings.TrimSuffix(name, filepath.Ext(name))
		score := scoreTitleMatch(normTitle, normalizeTitle(base))
		if score > bestScore {
			bestScore = score
			bestName = name
		}
	}
	if bestScore < 70 || bestName == "" {
		return "", false, nil
	}

	ext := filepath.Ext(bestName)
	base := strings.TrimSuffix(bestName, ext)
	newName := fmt.Sprintf("%s [%s]%s", base, id, ext)
	if err := os.Rename(filepath.Join(a.dir, bestName), filepath.Join(a.dir, newName)); err != nil {
		return "", false, fmt.Errorf("archive: rename legacy file %s: %w", bestName, err)
	}
	return newName, true, nil
}

func findVideoByID(dir, id string) (string, bool) {
	if id == "" {
		return "", false
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	marker := "[" + id + "]"
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.Contains(name, marker) && IsVideoFile(name) {
			return name, true
		}
	}
	return "", false
}

// normalizeTitle lowercases and strips everything but letters and digits so
// that punctuation and spacing differences do not defeat the match. Letters
// from any script count; titles are not Latin-only.
func normalizeTitle(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// scoreTitleMatch grades a normalized remote title against a normalized
// file base name: exact 100, contained in the file name 95, prefix 90,
// fuzzy prefix 70.
func scoreTitleMatch(title, file string) int {
	if title == "" || file == "" {
		return 0
	}
	if title == file {
		return 100
	}
	if strings.Contains(file, title) {
		return 95
	}
	if strings.HasPrefix(title, file) {
		return 90
	}
	shorter := len(title)
	if len(file) < shorter {
		shorter = len(file)
	}
	common := commonPrefixLen(title, file)
	if shorter >= 5 && common*10 >= shorter*7 {
		return 70
	}
	return 0
}

func commonPrefixLen(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}
