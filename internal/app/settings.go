package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"playlistsync/internal/domain"
	"playlistsync/internal/domain/ports"
)

const (
	MinExtractionWorkers = 1
	MaxExtractionWorkers = 16
	MinBatchSize         = 1
	MaxBatchSize         = 1000
)

var supportedBrowsers = map[string]bool{
	"chrome":  true,
	"firefox": true,
	"edge":    true,
	"safari":  true,
}

// Settings is the runtime configuration shared by the download and
// extraction engines. Unlike Config it can change while the service is
// running; engines read it through the SettingsManager at job start.
type Settings struct {
	BaseDownloadPath     string             `json:"base_download_path"`
	AudioExtractMode     domain.ExtractMode `json:"audio_extract_mode"`
	MaxExtractionWorkers int                `json:"max_extraction_workers"`
	BatchSize            int                `json:"batch_size"`
	CookiesFile          string             `json:"cookies_file"`
	UseBrowserCookies    bool               `json:"use_browser_cookies"`
	BrowserName          string             `json:"browser_name"`
}

func DefaultSettings() Settings {
	return Settings{
		AudioExtractMode:     domain.ExtractCopy,
		MaxExtractionWorkers: 4,
		BatchSize:            100,
	}
}

func (s Settings) Validate() error {
	if !s.AudioExtractMode.Valid() {
		return fmt.Errorf("%w: unknown audio_extract_mode %q", domain.ErrInvalidInput, s.AudioExtractMode)
	}
	if s.MaxExtractionWorkers < MinExtractionWorkers || s.MaxExtractionWorkers > MaxExtractionWorkers {
		return fmt.Errorf("%w: max_extraction_workers must be between %d and %d",
			domain.ErrInvalidInput, MinExtractionWorkers, MaxExtractionWorkers)
	}
	if s.BatchSize < MinBatchSize || s.BatchSize > MaxBatchSize {
		return fmt.Errorf("%w: batch_size must be between %d and %d",
			domain.ErrInvalidInput, MinBatchSize, MaxBatchSize)
	}
	if s.BrowserName != "" && !supportedBrowsers[s.BrowserName] {
		return fmt.Errorf("%w: unsupported browser_name %q", domain.ErrInvalidInput, s.BrowserName)
	}
	if s.UseBrowserCookies && s.CookiesFile != "" {
		return fmt.Errorf("%w: cookies_file and use_browser_cookies are mutually exclusive", domain.ErrInvalidInput)
	}
	if s.UseBrowserCookies && s.BrowserName == "" {
		return fmt.Errorf("%w: use_browser_cookies requires browser_name", domain.ErrInvalidInput)
	}
	return nil
}

func (s Settings) normalized() Settings {
	s.BaseDownloadPath = strings.TrimSpace(s.BaseDownloadPath)
	if s.BaseDownloadPath != "" {
		s.BaseDownloadPath = filepath.Clean(s.BaseDownloadPath)
	}
	s.CookiesFile = strings.TrimSpace(s.CookiesFile)
	s.BrowserName = strings.ToLower(strings.TrimSpace(s.BrowserName))
	return s
}

// LibraryUsage reports how much disk the configured library occupies.
type LibraryUsage struct {
	BasePath  string    `json:"base_path"`
	Exists    bool      `json:"exists"`
	SizeBytes int64     `json:"size_bytes"`
	DiskBytes int64     `json:"disk_bytes"`
	ScannedAt time.Time `json:"scanned_at"`
}

// SettingsView is the API representation of the runtime settings.
type SettingsView struct {
	Settings
	NeedsSetup bool         `json:"needs_setup"`
	Usage      LibraryUsage `json:"usage"`
}

// SettingsManager guards the runtime settings and persists them to a
// KEY=VALUE file so they survive restarts. Updates are written to disk
// first and applied in memory only after the write succeeds.
type SettingsManager struct {
	mu      sync.RWMutex
	path    string
	current Settings
}

// LoadSettingsManager reads the settings file at path. A missing file
// is not an error; the manager starts with defaults and NeedsSetup
// reports true until a base download path is configured.
func LoadSettingsManager(path string) (*SettingsManager, error) {
	current := DefaultSettings()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read settings file: %w", err)
	default:
		current, err = parseSettings(data, current)
		if err != nil {
			return nil, fmt.Errorf("settings file %s: %w", path, err)
		}
		current = current.normalized()
		if err := current.Validate(); err != nil {
			return nil, fmt.Errorf("settings file %s: %w", path, err)
		}
	}
	return &SettingsManager{path: path, current: current}, nil
}

func (m *SettingsManager) Get() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

func (m *SettingsManager) View() SettingsView {
	current := m.Get()
	return SettingsView{
		Settings:   current,
		NeedsSetup: needsSetup(current.BaseDownloadPath),
		Usage:      scanLibraryUsage(current.BaseDownloadPath),
	}
}

// Update validates, persists, and applies the new settings. The file on
// disk and the in-memory state never diverge: a failed write leaves the
// previous settings in effect.
func (m *SettingsManager) Update(next Settings) error {
	next = next.normalized()
	if err := next.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := writeSettingsFile(m.path, next); err != nil {
		return fmt.Errorf("persist settings: %w", err)
	}
	m.current = next
	return nil
}

// NeedsSetup reports whether the service still lacks a usable base
// download path. Jobs cannot be created while this is true.
func (m *SettingsManager) NeedsSetup() bool {
	return needsSetup(m.Get().BaseDownloadPath)
}

func (m *SettingsManager) BasePath() string {
	return m.Get().BaseDownloadPath
}

func (m *SettingsManager) BatchSize() int {
	return m.Get().BatchSize
}

func (m *SettingsManager) MaxExtractionWorkers() int {
	return m.Get().MaxExtractionWorkers
}

func (m *SettingsManager) ExtractMode() domain.ExtractMode {
	return m.Get().AudioExtractMode
}

func (m *SettingsManager) DownloadOptions() ports.DownloadOptions {
	current := m.Get()
	return ports.DownloadOptions{
		CookiesFile:       current.CookiesFile,
		UseBrowserCookies: current.UseBrowserCookies,
		BrowserName:       current.BrowserName,
	}
}

func needsSetup(basePath string) bool {
	if basePath == "" {
		return true
	}
	info, err := os.Stat(basePath)
	return err != nil || !info.IsDir()
}

func parseSettings(data []byte, base Settings) (Settings, error) {
	s := base
	for _, raw := range strings.Split(string(data), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return Settings{}, fmt.Errorf("%w: malformed settings line %q", domain.ErrInvalidInput, line)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch key {
		case "base_download_path":
			s.BaseDownloadPath = value
		case "audio_extract_mode":
			s.AudioExtractMode = domain.ExtractMode(value)
		case "max_extraction_workers":
			parsed, err := strconv.Atoi(value)
			if err != nil {
				return Settings{}, fmt.Errorf("%w: max_extraction_workers: %q is not a number", domain.ErrInvalidInput, value)
			}
			s.MaxExtractionWorkers = parsed
		case "batch_size":
			parsed, err := strconv.Atoi(value)
			if err != nil {
				return Settings{}, fmt.Errorf("%w: batch_size: %q is not a number", domain.ErrInvalidInput, value)
			}
			s.BatchSize = parsed
		case "cookies_file":
			s.CookiesFile = value
		case "use_browser_cookies":
			parsed, err := strconv.ParseBool(value)
			if err != nil {
				return Settings{}, fmt.Errorf("%w: use_browser_cookies: %q is not a boolean", domain.ErrInvalidInput, value)
			}
			s.UseBrowserCookies = parsed
		case "browser_name":
			s.BrowserName = value
		default:
			// Unknown keys are skipped so older builds can read newer files.
		}
	}
	return s, nil
}

func encodeSettings(s Settings) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "base_download_path=%s\n", s.BaseDownloadPath)
	fmt.Fprintf(&b, "audio_extract_mode=%s\n", s.AudioExtractMode)
	fmt.Fprintf(&b, "max_extraction_workers=%d\n", s.MaxExtractionWorkers)
	fmt.Fprintf(&b, "batch_size=%d\n", s.BatchSize)
	fmt.Fprintf(&b, "cookies_file=%s\n", s.CookiesFile)
	fmt.Fprintf(&b, "use_browser_cookies=%t\n", s.UseBrowserCookies)
	fmt.Fprintf(&b, "browser_name=%s\n", s.BrowserName)
	return []byte(b.String())
}

func writeSettingsFile(path string, s Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(encodeSettings(s)); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func scanLibraryUsage(basePath string) LibraryUsage {
	usage := LibraryUsage{
		BasePath:  basePath,
		ScannedAt: time.Now().UTC(),
	}
	if basePath == "" {
		return usage
	}

	info, err := os.Stat(basePath)
	if err != nil || !info.IsDir() {
		return usage
	}
	usage.Exists = true

	var logical, onDisk int64
	_ = filepath.WalkDir(basePath, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil || d.IsDir() {
			return nil
		}
		fileInfo, err := d.Info()
		if err != nil {
			return nil
		}
		logical += fileInfo.Size()
		onDisk += fileDiskBytes(fileInfo)
		return nil
	})
	usage.SizeBytes = logical
	usage.DiskBytes = onDisk
	return usage
}
