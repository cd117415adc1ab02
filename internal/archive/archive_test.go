package archive

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func mustOpen(t *testing.T, dir string) *Archive {
	t.Helper()
	a, err := Open(dir, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func writeVideo(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestOpenCreatesFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "My Playlist")
	a := mustOpen(t, dir)

	if a.Len() != 0 {
		t.Fatalf("expected empty archive, got %d entries", a.Len())
	}
	if _, err := os.Stat(filepath.Join(dir, "archive.txt")); err != nil {
		t.Fatalf("archive file not created: %v", err)
	}
}

func TestAppendAndReload(t *testing.T) {
	dir := t.TempDir()
	a := mustOpen(t, dir)

	for _, id := range []string{"aaa111", "bbb222", "ccc333"} {
		if err := a.Append(id); err != nil {
			t.Fatalf("Append(%s): %v", id, err)
		}
	}
	if err := a.Append("bbb222"); err != nil {
		t.Fatalf("duplicate Append: %v", err)
	}
	if a.Len() != 3 {
		t.Fatalf("expected 3 entries after duplicate append, got %d", a.Len())
	}

	raw, err := os.ReadFile(filepath.Join(dir, "archive.txt"))
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	want := "youtube aaa111\nyoutube bbb222\nyoutube ccc333\n"
	if string(raw) != want {
		t.Fatalf("archive contents = %q, want %q", raw, want)
	}

	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	reloaded := mustOpen(t, dir)
	got := reloaded.IDs()
	if len(got) != 3 || got[0] != "aaa111" || got[1] != "bbb222" || got[2] != "ccc333" {
		t.Fatalf("reloaded IDs = %v", got)
	}
}

func TestOpenSkipsBlankAndMalformedLines(t *testing.T) {
	dir := t.TempDir()
	content := "youtube aaa111\n\n   \nbbb222\nyoutube aaa111\n"
	if err := os.WriteFile(filepath.Join(dir, "archive.txt"), []byte(content), 0o644); err != nil {
		t.Fatalf("seed archive: %v", err)
	}

	a := mustOpen(t, dir)
	got := a.IDs()
	if len(got) != 2 || got[0] != "aaa111" || got[1] != "bbb222" {
		t.Fatalf("IDs = %v, want [aaa111 bbb222]", got)
	}
}

func TestRemoveRewritesAndKeepsAppending(t *testing.T) {
	dir := t.TempDir()
	a := mustOpen(t, dir)

	for _, id := range []string{"one", "two", "three"} {
		if err := a.Append(id); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := a.Remove("two"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if a.Contains("two") {
		t.Fatal("removed ID still present")
	}
	if err := a.Append("four"); err != nil {
		t.Fatalf("Append after Remove: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "archive.txt"))
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	want := "youtube one\nyoutube three\nyoutube four\n"
	if string(raw) != want {
		t.Fatalf("archive contents = %q, want %q", raw, want)
	}
}

func TestRemoveMissingIsNoop(t *testing.T) {
	a := mustOpen(t, t.TempDir())
	if err := a.Remove("ghost"); err != nil {
		t.Fatalf("Remove on absent ID: %v", err)
	}
}

func TestFileOnDiskMatchesBracketedID(t *testing.T) {
	dir := t.TempDir()
	a := mustOpen(t, dir)

	writeVideo(t, dir, "Some Talk [abc-123_XY].mp4")
	writeVideo(t, dir, "Other Clip [zzz999].webm")
	writeVideo(t, dir, "Notes [abc-123_XY].txt")

	name, ok := a.FileOnDisk("abc-123_XY")
	if !ok {
		t.Fatal("expected file match for abc-123_XY")
	}
	if name != "Some Talk [abc-123_XY].mp4" {
		t.Fatalf("matched %q", name)
	}
	if _, ok := a.FileOnDisk("missing"); ok {
		t.Fatal("unexpected match for absent ID")
	}
}

func TestFileOnDiskIgnoresNonVideoExtensions(t *testing.T) {
	dir := t.TempDir()
	a := mustOpen(t, dir)

	writeVideo(t, dir, "Clip [vid1].mp3")
	writeVideo(t, dir, "Clip [vid1].part")
	if _, ok := a.FileOnDisk("vid1"); ok {
		t.Fatal("non-video extension should not verify")
	}

	writeVideo(t, dir, "Clip [vid1].MKV")
	if _, ok := a.FileOnDisk("vid1"); !ok {
		t.Fatal("extension match should be case-insensitive")
	}
}

func TestShouldDownloadWhenNotArchived(t *testing.T) {
	dir := t.TempDir()
	a := mustOpen(t, dir)
	writeVideo(t, dir, "Clip [vid1].mp4")

	download, renamed, err := a.ShouldDownload("vid1", "Clip")
	if err != nil {
		t.Fatalf("ShouldDownload: %v", err)
	}
	if !download || renamed != "" {
		t.Fatalf("unarchived ID must download, got download=%v renamed=%q", download, renamed)
	}
}

func TestShouldDownloadSkipsArchivedWithFile(t *testing.T) {
	dir := t.TempDir()
	a := mustOpen(t, dir)
	if err := a.Append("vid1"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	writeVideo(t, dir, "Clip [vid1].mp4")

	download, renamed, err := a.ShouldDownload("vid1", "Clip")
	if err != nil {
		t.Fatalf("ShouldDownload: %v", err)
	}
	if download || renamed != "" {
		t.Fatalf("archived ID with file must skip, got download=%v renamed=%q", download, renamed)
	}
}

func TestShouldDownloadAgainWhenFileMissing(t *testing.T) {
	dir := t.TempDir()
	a := mustOpen(t, dir)
	if err := a.Append("vid1"); err != nil {
		t.Fatalf("Append: %v", err)
	}

	download, _, err := a.ShouldDownload("vid1", "Totally Unrelated Name")
	if err != nil {
		t.Fatalf("ShouldDownload: %v", err)
	}
	if !download {
		t.Fatal("archived ID without file must download again")
	}
}

func TestShouldDownloadRenamesLegacyFile(t *testing.T) {
	dir := t.TempDir()
	a := mustOpen(t, dir)
	if err := a.Append("dCWj-XGQcXs"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	writeVideo(t, dir, "Zubaida.mp4")

	download, renamed, err := a.ShouldDownload("dCWj-XGQcXs", "Zubaida")
	if err != nil {
		t.Fatalf("ShouldDownload: %v", err)
	}
	if download {
		t.Fatal("legacy match must not re-download")
	}
	if renamed != "Zubaida [dCWj-XGQcXs].mp4" {
		t.Fatalf("renamed = %q", renamed)
	}
	if _, err := os.Stat(filepath.Join(dir, "Zubaida [dCWj-XGQcXs].mp4")); err != nil {
		t.Fatalf("renamed file missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "Zubaida.mp4")); !os.IsNotExist(err) {
		t.Fatalf("old file should be gone, stat err = %v", err)
	}

	download, renamed, err = a.ShouldDownload("dCWj-XGQcXs", "Zubaida")
	if err != nil {
		t.Fatalf("second ShouldDownload: %v", err)
	}
	if download || renamed != "" {
		t.Fatal("second call must see the renamed file")
	}
}

func TestShouldDownloadLegacyMatchIgnoresPunctuation(t *testing.T) {
	dir := t.TempDir()
	a := mustOpen(t, dir)
	if err := a.Append("vid1"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	writeVideo(t, dir, "Hello, World! (Live).mkv")

	download, renamed, err := a.ShouldDownload("vid1", "Hello World Live")
	if err != nil {
		t.Fatalf("ShouldDownload: %v", err)
	}
	if download {
		t.Fatal("punctuation differences must still match")
	}
	if renamed != "Hello, World! (Live) [vid1].mkv" {
		t.Fatalf("renamed = %q", renamed)
	}
}

func TestShouldDownloadRenamesLegacyCyrillicTitle(t *testing.T) {
	dir := t.TempDir()
	a := mustOpen(t, dir)
	if err := a.Append("vid1"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	writeVideo(t, dir, "Привет Мир.mp4")

	download, renamed, err := a.ShouldDownload("vid1", "Привет Мир")
	if err != nil {
		t.Fatalf("ShouldDownload: %v", err)
	}
	if download {
		t.Fatal("exact non-Latin title match must not re-download")
	}
	if renamed != "Привет Мир [vid1].mp4" {
		t.Fatalf("renamed = %q", renamed)
	}
	if _, err := os.Stat(filepath.Join(dir, "Привет Мир [vid1].mp4")); err != nil {
		t.Fatalf("renamed file missing: %v", err)
	}
}

func TestShouldDownloadReportsFailedRename(t *testing.T) {
	dir := t.TempDir()
	a := mustOpen(t, dir)
	if err := a.Append("vid1"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	writeVideo(t, dir, "My Talk.mp4")
	// A directory squatting on the rename target makes os.Rename fail.
	if err := os.Mkdir(filepath.Join(dir, "My Talk [vid1].mp4"), 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	download, renamed, err := a.ShouldDownload("vid1", "My Talk")
	if err == nil {
		t.Fatal("failed rename must be reported")
	}
	if !download || renamed != "" {
		t.Fatalf("failed rename must fall back to download, got download=%v renamed=%q", download, renamed)
	}
	if _, statErr := os.Stat(filepath.Join(dir, "My Talk.mp4")); statErr != nil {
		t.Fatalf("legacy file must survive the failed rename: %v", statErr)
	}
}

func TestScoreTitleMatch(t *testing.T) {
	cases := []struct {
		name  string
		title string
		file  string
		want  int
	}{
		{"exact", "hello", "hello", 100},
		{"contained", "hello", "xxhelloxx", 95},
		{"prefix", "helloworld", "hello", 90},
		{"fuzzy prefix", "helloworlds", "helloworldz", 70},
		{"too different", "helloworld", "goodbye", 0},
		{"short fuzzy rejected", "abc", "abd", 0},
		{"empty", "", "hello", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := scoreTitleMatch(tc.title, tc.file); got != tc.want {
				t.Fatalf("scoreTitleMatch(%q, %q) = %d, want %d", tc.title, tc.file, got, tc.want)
			}
		})
	}
}

func TestNormalizeTitle(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Hello, World! (Live)", "helloworldlive"},
		{"UPPER lower 123", "upperlower123"},
		{"Привет, Мир!", "приветмир"},
		{"Café del Mar — Vol. 2", "cafédelmarvol2"},
		{"千と千尋の神隠し", "千と千尋の神隠し"},
		{"---", ""},
	}
	for _, tc := range cases {
		if got := normalizeTitle(tc.in); got != tc.want {
			t.Fatalf("normalizeTitle(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestLegacyRenamePicksBestScore(t *testing.T) {
	dir := t.TempDir()
	a := mustOpen(t, dir)
	if err := a.Append("vid1"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	writeVideo(t, dir, "My Talk extended cut.mp4")
	writeVideo(t, dir, "My Talk.mp4")

	_, renamed, err := a.ShouldDownload("vid1", "My Talk")
	if err != nil {
		t.Fatalf("ShouldDownload: %v", err)
	}
	if renamed != "My Talk [vid1].mp4" {
		t.Fatalf("renamed = %q, want exact match winner", renamed)
	}
	if _, err := os.Stat(filepath.Join(dir, "My Talk extended cut.mp4")); err != nil {
		t.Fatalf("runner-up file must stay untouched: %v", err)
	}
}

func TestLegacyRenameSkipsBracketedFiles(t *testing.T) {
	dir := t.TempDir()
	a := mustOpen(t, dir)
	if err := a.Append("vid1"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	writeVideo(t, dir, "My Talk [other].mp4")

	download, renamed, err := a.ShouldDownload("vid1", "My Talk")
	if err != nil {
		t.Fatalf("ShouldDownload: %v", err)
	}
	if !download || renamed != "" {
		t.Fatal("files already carrying an ID marker are not rename candidates")
	}
}

func TestIsVideoFile(t *testing.T) {
	for name, want := range map[string]bool{
		"a.mp4":  true,
		"a.MKV":  true,
		"a.webm": true,
		"a.m4v":  true,
		"a.mp3":  false,
		"a.part": false,
		"a":      false,
	} {
		if got := IsVideoFile(name); got != want {
			t.Fatalf("IsVideoFile(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestIDSetIsACopy(t *testing.T) {
	a := mustOpen(t, t.TempDir())
	if err := a.Append("vid1"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	set := a.IDSet()
	delete(set, "vid1")
	if !a.Contains("vid1") {
		t.Fatal("mutating the returned set must not affect the archive")
	}
	if !strings.Contains(strings.Join(a.IDs(), ","), "vid1") {
		t.Fatal("IDs lost vid1")
	}
}

func TestReadIDsWithoutArchive(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "never-created")

	ids, err := ReadIDs(dir)
	if err != nil {
		t.Fatalf("ReadIDs: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected empty set, got %v", ids)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatal("ReadIDs must not create the playlist folder")
	}
}

func TestReadIDsMatchesArchive(t *testing.T) {
	dir := t.TempDir()
	a := mustOpen(t, dir)
	for _, id := range []string{"aaa", "bbb"} {
		if err := a.Append(id); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	ids, err := ReadIDs(dir)
	if err != nil {
		t.Fatalf("ReadIDs: %v", err)
	}
	for _, id := range []string{"aaa", "bbb"} {
		if _, ok := ids[id]; !ok {
			t.Fatalf("ReadIDs missing %s", id)
		}
	}
	if len(ids) != 2 {
		t.Fatalf("ReadIDs returned %d ids", len(ids))
	}
}

func TestDiskIDSet(t *testing.T) {
	dir := t.TempDir()
	a := mustOpen(t, dir)
	writeVideo(t, dir, "First [aaa].mp4")
	writeVideo(t, dir, "Second part [two] [bbb].mkv")
	writeVideo(t, dir, "No marker.mp4")
	writeVideo(t, dir, "Not video [ccc].txt")

	ids, err := a.DiskIDSet()
	if err != nil {
		t.Fatalf("DiskIDSet: %v", err)
	}
	for _, id := range []string{"aaa", "bbb"} {
		if _, ok := ids[id]; !ok {
			t.Fatalf("DiskIDSet missing %s: %v", id, ids)
		}
	}
	if len(ids) != 2 {
		t.Fatalf("DiskIDSet returned %v", ids)
	}
}
