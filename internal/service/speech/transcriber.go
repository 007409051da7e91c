package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/voicedesk/assistant/backend/internal/config"
)

// OutcomeKind classifies a transcription result.
type OutcomeKind int

const (
	OutcomeText OutcomeKind = iota
	OutcomeNoSpeech
	OutcomeFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeText:
		return "text"
	case OutcomeNoSpeech:
		return "no_speech"
	case OutcomeFailure:
		return "failure"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// Outcome is the result of one transcription. Text is set only for
// OutcomeText and Err only for OutcomeFailure.
type Outcome struct {
	Kind OutcomeKind
	Text string
	Err  error
}

func Text(text string) Outcome { return Outcome{Kind: OutcomeText, Text: text} }
func NoSpeech() Outcome { return Outcome{Kind: OutcomeNoSpeech} }
func Failure(err error) Outcome { return Outcome{Kind: OutcomeFailure, Err: err} }

// Transcriber converts WAV audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte) Outcome
}

var ErrNotConfigured = errors.New("speech recognition is not configured")

// WhisperTranscriber calls an OpenAI compatible transcription endpoint.
type WhisperTranscriber struct {
	client   openai.Client
	model    string
	language string
	logger   *slog.Logger
}

// NewWhisperTranscriber builds the shared client once; it is safe for
// concurrent use by all sessions.
func NewWhisperTranscriber(cfg config.SpeechConfig, logger *slog.Logger, opts ...option.RequestOption) (*WhisperTranscriber, error) {
	if !cfg.Enabled() {
		return nil, ErrNotConfigured
	}

	clientOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		clientOpts = append(clientOpts, option.WithRequestTimeout(cfg.Timeout))
	}
	clientOpts = append(clientOpts, opts...)

	model := cfg.Model
	if model == "" {
		model = openai.AudioModelWhisper1
	}

	return &WhisperTranscriber{
		client:   openai.NewClient(clientOpts...),
		model:    model,
		language: cfg.Language,
		logger:   logger.With(slog.String("component", "whisper")),
	}, nil
}

func (t *WhisperTranscriber) Transcribe(ctx context.Context, wav []byte) Outcome {
	if len(wav) == 0 {
		return NoSpeech()
	}

	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
		Model: t.model,
	}
	if t.language != "" {
		params.Language = openai.String(t.language)
	}

	resp, err := t.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return Failure(fmt.Errorf("transcribe: %w", err))
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		t.logger.DebugContext(ctx, "no speech detected", slog.Int("bytes", len(wav)))
		return NoSpeech()
	}
	return Text(text)
}
