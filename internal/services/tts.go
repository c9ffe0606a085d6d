package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// TTSService — common interface for text-to-speech providers.
// ElevenLabs is preferred; the OpenAI speech API is the fallback so a single
// OPENAI_API_KEY deployment still narrates.
// ---------------------------------------------------------------------------

// TTSResponse is the common response type from any TTS provider.
type TTSResponse struct {
	AudioData []byte
	Format    string // "mp3", "wav", etc.
}

// TTSService is the interface that any TTS provider must implement.
// voiceStyle is a human-readable delivery hint (e.g. "slow and mysterious");
// providers may ignore it.
type TTSService interface {
	GenerateSpeech(ctx context.Context, text, voiceStyle string) (*TTSResponse, error)
}

// FileSynthesizer adapts a TTSService to the pipeline's path-based contract:
// synthesized audio is written to the temp directory and handed over as a
// file path, never as a live object.
type FileSynthesizer struct {
	TTS TTSService
	Dir string
}

func (f *FileSynthesizer) Synthesize(ctx context.Context, text, voiceStyle string) (string, error) {
	resp, err := f.TTS.GenerateSpeech(ctx, text, voiceStyle)
	if err != nil {
		return "", err
	}

	ext := resp.Format
	if ext == "" {
		ext = "mp3"
	}
	path := filepath.Join(f.Dir, fmt.Sprintf("narration_%s.%s", uuid.New().String(), ext))
	if err := os.WriteFile(path, resp.AudioData, 0644); err != nil {
		return "", fmt.Errorf("write narration audio: %w", err)
	}
	return path, nil
}
