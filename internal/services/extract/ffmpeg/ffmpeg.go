package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"playlistsync/internal/domain"
)

// CodecProber reports the audio codec of a media file. The opus mode uses
// it to decide between stream copy and re-encoding.
type CodecProber interface {
	AudioCodec(ctx context.Context, path string) (string, error)
}

// Extractor shells out to ffmpeg to pull audio tracks out of downloaded
// videos.
type Extractor struct {
	binary string
	prober CodecProber
}

// New builds an Extractor. An empty binary falls back to "ffmpeg" on PATH.
// The prober may be nil, in which case opus extraction always re-encodes.
func New(binary string, prober CodecProber) *Extractor {
	bin := strings.TrimSpace(binary)
	if bin == "" {
		bin = "ffmpeg"
	}
	return &Extractor{binary: bin, prober: prober}
}

// ExtractOne produces dst from src according to mode. A non-empty dst is
// treated as already done. Output lands in a same-directory temp file that
// is renamed into place only on success, so readers never observe a
// half-written target.
func (e *Extractor) ExtractOne(ctx context.Context, src, dst string, mode domain.ExtractMode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: unknown extract mode %q", domain.ErrInvalidInput, mode)
	}
	if strings.TrimSpace(src) == "" || strings.TrimSpace(dst) == "" {
		return fmt.Errorf("%w: source and target paths are required", domain.ErrInvalidInput)
	}
	if info, err := os.Stat(dst); err == nil && info.Size() > 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("%w: create target dir: %s", domain.ErrExtractor, err)
	}

	codecArgs := e.codecArgs(ctx, src, mode)
	tmp := tempTarget(dst)

	args := []string{"-y", "-hide_banner", "-loglevel", "error", "-i", src}
	args = append(args, codecArgs...)
	args = append(args, tmp)

	cmd := exec.CommandContext(ctx, e.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		os.Remove(tmp)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return fmt.Errorf("%w: %s", domain.ErrExtractor, msg)
	}

	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: finalize %s: %s", domain.ErrExtractor, dst, err)
	}
	return nil
}

func (e *Extractor) codecArgs(ctx context.Context, src string, mode domain.ExtractMode) []string {
	switch mode {
	case domain.ExtractMP3Best:
		return []string{"-vn", "-codec:a", "libmp3lame", "-qscale:a", "0"}
	case domain.ExtractMP3High:
		return []string{"-vn", "-codec:a", "libmp3lame", "-qscale:a", "2"}
	case domain.ExtractOpus:
		if e.prober != nil {
			if codec, err := e.prober.AudioCodec(ctx, src); err == nil && codec == "opus" {
				return []string{"-vn", "-acodec", "copy"}
			}
		}
		return []string{"-vn", "-acodec", "libopus"}
	default:
		return []string{"-vn", "-acodec", "copy"}
	}
}

// tempTarget keeps the real extension so ffmpeg still infers the container.
func tempTarget(dst string) string {
	ext := filepath.Ext(dst)
	return strings.TrimSuffix(dst, ext) + ".part" + ext
}
