package ffprobe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"playlistsync/internal/domain"
)

const maxProbeTimeout = 30 * time.Second

// Prober answers codec questions about local media files.
type Prober struct {
	binary string
}

// New builds a Prober. An empty binary falls back to "ffprobe" on PATH.
func New(binary string) *Prober {
	bin := strings.TrimSpace(binary)
	if bin == "" {
		bin = "ffprobe"
	}
	return &Prober{binary: bin}
}

// AudioCodec returns the codec name of the first audio stream.
func (p *Prober) AudioCodec(ctx context.Context, path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("%w: file path is required", domain.ErrInvalidInput)
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, maxProbeTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, p.binary,
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-select_streams", "a",
		path,
	)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return "", fmt.Errorf("ffprobe failed: %w", err)
		}
		return "", fmt.Errorf("ffprobe failed: %w: %s", err, msg)
	}

	codec, err := parseAudioCodec(stdout.Bytes())
	if err != nil {
		return "", fmt.Errorf("ffprobe output parse failed: %w", err)
	}
	return codec, nil
}

type probePayload struct {
	Streams []probeStream `json:"streams"`
}

type probeStream struct {
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
}

func parseAudioCodec(data []byte) (string, error) {
	var payload probePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", err
	}
	for _, stream := range payload.Streams {
		if stream.CodecType == "audio" && stream.CodecName != "" {
			return stream.CodecName, nil
		}
	}
	return "", fmt.Errorf("no audio stream found")
}
