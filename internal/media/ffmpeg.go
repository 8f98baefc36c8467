// Package media extracts transcribable audio from uploaded video.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrNoAudio is returned when ffmpeg succeeds but produces an empty track.
var ErrNoAudio = errors.New("video contains no audio")

type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// Extractor shells out to ffmpeg to turn a video into mono 16 kHz WAV.
type Extractor struct {
	ffmpegPath string
	tmpDir     string
	run        runFunc
}

func NewExtractor(ffmpegPath string) *Extractor {
	if strings.TrimSpace(ffmpegPath) == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Extractor{
		ffmpegPath: ffmpegPath,
		run:        runCommand,
	}
}

// ExtractAudio writes video to a scratch directory, converts it and returns
// the WAV bytes. The scratch directory is always removed.
func (e *Extractor) ExtractAudio(ctx context.Context, video []byte, filename string) ([]byte, error) {
	if len(video) == 0 {
		return nil, errors.New("empty video payload")
	}

	dir, err := os.MkdirTemp(e.tmpDir, "meetscribe-upload-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	in := filepath.Join(dir, "input"+safeExt(filename))
	out := filepath.Join(dir, "audio_16k.wav")
	if err := os.WriteFile(in, video, 0o600); err != nil {
		return nil, fmt.Errorf("write upload: %w", err)
	}

	stderr, err := e.run(ctx, e.ffmpegPath,
		"-y", "-i", in,
		"-vn",
		"-ac", "1", "-ar", "16000",
		"-f", "wav",
		out,
	)
	if err != nil {
		if detail := lastLine(stderr); detail != "" {
			return nil, fmt.Errorf("ffmpeg: %w: %s", err, detail)
		}
		return nil, fmt.Errorf("ffmpeg: %w", err)
	}

	audio, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("read extracted audio: %w", err)
	}
	// A bare 44-byte RIFF header carries no samples.
	if len(audio) <= 44 {
		return nil, ErrNoAudio
	}
	return audio, nil
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stderr.Bytes(), err
}

func safeExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	if len(ext) < 2 || len(ext) > 6 {
		return ".bin"
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ".bin"
		}
	}
	return ext
}

func lastLine(b []byte) string {
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
