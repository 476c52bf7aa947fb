// ABOUTME: SpeechRenderer produces channel-ready voice notes from draft text
// ABOUTME: Synthesizes mp3, converts it to Opus, and names the file like a recorded voice note

package audio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-relay/internal/fsstore"
)

// Synthesizer renders text to mp3 audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, voiceID, text string) ([]byte, error)
}

// SpeechRenderer writes rendered voice notes into one output directory.
type SpeechRenderer struct {
	synth     Synthesizer
	converter Converter
	outputDir string
	now       func() time.Time
}

// NewSpeechRenderer creates outputDir if needed.
func NewSpeechRenderer(synth Synthesizer, converter Converter, outputDir string) (*SpeechRenderer, error) {
	if err := os.MkdirAll(outputDir, fsstore.DirPerm); err != nil {
		return nil, fmt.Errorf("creating speech output directory: %w", err)
	}
	return &SpeechRenderer{
		synth:     synth,
		converter: converter,
		outputDir: outputDir,
		now:       time.Now,
	}, nil
}

// Render speaks text with voiceID and returns the path of the Opus file.
func (r *SpeechRenderer) Render(ctx context.Context, voiceID, text string) (string, error) {
	mp3, err := r.synth.Synthesize(ctx, voiceID, text)
	if err != nil {
		return "", fmt.Errorf("synthesizing speech: %w", err)
	}

	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	name := fmt.Sprintf("PTT-%s-%s", r.now().UTC().Format("20060102"), id)

	srcPath := filepath.Join(r.outputDir, "."+name+".mp3")
	if err := os.WriteFile(srcPath, mp3, fsstore.FilePerm); err != nil {
		return "", fmt.Errorf("writing synthesized audio: %w", err)
	}
	defer os.Remove(srcPath)

	dst := filepath.Join(r.outputDir, name+".opus")
	if err := r.converter.Convert(ctx, srcPath, dst, FormatOpus); err != nil {
		_ = fsstore.RemoveIfExists(dst)
		return "", fmt.Errorf("converting speech to opus: %w", err)
	}
	return dst, nil
}
