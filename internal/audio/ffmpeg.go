// ABOUTME: ffmpeg wrapper that converts audio files between the formats the relay uses
// ABOUTME: Opus at 32 kbit/s for channel voice notes and mp3 for collected samples

package audio

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Format is a target container/codec.
type Format string

const (
	FormatOpus Format = "opus"
	FormatMP3  Format = "mp3"
)

// FFmpeg runs the ffmpeg binary.
type FFmpeg struct {
	Binary string
}

// NewFFmpeg uses binary, or "ffmpeg" from PATH when empty.
func NewFFmpeg(binary string) FFmpeg {
	if binary == "" {
		binary = "ffmpeg"
	}
	return FFmpeg{Binary: binary}
}

// Convert writes src to dst in format, overwriting dst.
func (f FFmpeg) Convert(ctx context.Context, src, dst string, format Format) error {
	args, err := convertArgs(src, dst, format)
	if err != nil {
		return err
	}
	out, err := exec.CommandContext(ctx, f.Binary, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg convert failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func convertArgs(src, dst string, format Format) ([]string, error) {
	args := []string{"-y", "-loglevel", "error", "-i", src}
	switch format {
	case FormatOpus:
		args = append(args, "-c:a", "libopus", "-b:a", "32k", "-f", "opus")
	case FormatMP3:
		args = append(args, "-c:a", "libmp3lame", "-q:a", "2", "-f", "mp3")
	default:
		return nil, fmt.Errorf("unsupported audio format %q", format)
	}
	return append(args, dst), nil
}
