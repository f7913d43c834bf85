// Package media converts between text and speech.
package media

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/comigor/escal8-go/internal/apperr"
	"github.com/comigor/escal8-go/internal/logger"
)

const (
	sttUnavailableText  = "[Voice message received - please configure OPENAI_API_KEY for speech-to-text]"
	sttUnavailableError = "STT requires OpenAI API key"

	tempSuffix = ".webm"
)

// Synthesizer turns text into encoded audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) ([]byte, error)
}

// Transcriber turns an audio file into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// Transcript is the speech-to-text answer. Success is false when no
// transcriber is configured or the transcriber failed.
type Transcript struct {
	Text    string `json:"text"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Converter runs TTS through the voice provider and STT through the LLM
// provider. A nil transcriber disables STT.
type Converter struct {
	synth        Synthesizer
	transcriber  Transcriber
	defaultVoice string
	tempDir      string
	logger       *slog.Logger
}

func NewConverter(synth Synthesizer, transcriber Transcriber, defaultVoice string) *Converter {
	return &Converter{
		synth:        synth,
		transcriber:  transcriber,
		defaultVoice: defaultVoice,
		logger:       logger.For("media"),
	}
}

// TextToSpeech returns MP3 audio for text. An empty voiceID uses the default
// voice.
func (c *Converter) TextToSpeech(ctx context.Context, text, voiceID string) ([]byte, error) {
	if strings.TrimSpace(voiceID) == "" {
		voiceID = c.defaultVoice
	}
	audio, err := c.synth.Synthesize(ctx, text, voiceID)
	if err != nil {
		c.logger.Error("tts failed", "voice_id", voiceID, "error", err)
		return nil, apperr.Upstream("elevenlabs", fmt.Errorf("TTS Error: %w", err))
	}
	return audio, nil
}

// SpeechToText transcribes audio. Transcription problems are reported in the
// Transcript; only local I/O failures are returned as errors.
func (c *Converter) SpeechToText(ctx context.Context, audio io.Reader) (*Transcript, error) {
	if c.transcriber == nil {
		return unavailable(), nil
	}

	path, err := c.spool(audio)
	if err != nil {
		return nil, fmt.Errorf("STT Error: %w", err)
	}
	defer func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			c.logger.Warn("remove temp audio failed", "path", path, "error", err)
		}
	}()

	text, err := c.transcriber.Transcribe(ctx, path)
	if err != nil {
		c.logger.Warn("transcription failed", "error", err)
		return unavailable(), nil
	}
	return &Transcript{Text: text, Success: true}, nil
}

// spool copies audio to a temp file the transcriber can open by name.
func (c *Converter) spool(audio io.Reader) (string, error) {
	f, err := os.CreateTemp(c.tempDir, "escal8-stt-*"+tempSuffix)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, audio); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func unavailable() *Transcript {
	return &Transcript{Text: sttUnavailableText, Success: false, Error: sttUnavailableError}
}
