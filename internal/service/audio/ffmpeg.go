package audio

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/voicedesk/assistant/backend/internal/config"
)

// FFmpegTranscoder shells out to ffmpeg. Each call works in its own temporary
// directory which is removed before Transcode returns.
type FFmpegTranscoder struct {
	path       string
	sampleRate int
	tempDir    string
	logger     *slog.Logger
}

func NewFFmpegTranscoder(cfg config.AudioConfig, logger *slog.Logger) *FFmpegTranscoder {
	path := cfg.FFmpegPath
	if path == "" {
		path = "ffmpeg"
	}
	rate := cfg.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	return &FFmpegTranscoder{
		path:       path,
		sampleRate: rate,
		tempDir:    cfg.TempDir,
		logger:     logger.With(slog.String("component", "ffmpeg")),
	}
}

// Available reports whether the ffmpeg binary can be found.
func (t *FFmpegTranscoder) Available() bool {
	_, err := exec.LookPath(t.path)
	return err == nil
}

func (t *FFmpegTranscoder) Transcode(ctx context.Context, input []byte, format Format) ([]byte, error) {
	dir, err := os.MkdirTemp(t.tempDir, "audio-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			t.logger.Warn("remove temp dir failed", slog.String("dir", dir), slog.Any("error", err))
		}
	}()

	ext := string(format)
	if ext == "" {
		ext = "bin"
	}
	inPath := filepath.Join(dir, "input."+ext)
	outPath := filepath.Join(dir, "output.pcm")

	if err := os.WriteFile(inPath, input, 0o600); err != nil {
		return nil, fmt.Errorf("write input: %w", err)
	}

	cmd := exec.CommandContext(ctx, t.path,
		"-hide_banner", "-loglevel", "error", "-nostdin", "-y",
		"-i", inPath,
		"-ar", strconv.Itoa(t.sampleRate), "-ac", "1",
		"-f", "s16le", "-acodec", "pcm_s16le",
		outPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg %s: %w: %s", format, err, bytes.TrimSpace(stderr.Bytes()))
	}

	pcm, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("read ffmpeg output: %w", err)
	}
	return pcm, nil
}
