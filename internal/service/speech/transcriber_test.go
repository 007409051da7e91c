package speech

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicedesk/assistant/backend/internal/config"
)

func newTestTranscriber(t *testing.T, handler http.HandlerFunc) *WhisperTranscriber {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	tr, err := NewWhisperTranscriber(config.SpeechConfig{
		APIKey:  "sk-test",
		BaseURL: srv.URL + "/",
		Model:   "whisper-1",
		Timeout: 5 * time.Second,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)), option.WithMaxRetries(0))
	require.NoError(t, err)
	return tr
}

func TestWhisperTranscriberText(t *testing.T) {
	tr := newTestTranscriber(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/transcriptions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"text":"  hello there  "}`)
	})

	out := tr.Transcribe(context.Background(), []byte("RIFF....WAVE"))
	assert.Equal(t, OutcomeText, out.Kind)
	assert.Equal(t, "hello there", out.Text)
	assert.NoError(t, out.Err)
}

func TestWhisperTranscriberNoSpeech(t *testing.T) {
	tr := newTestTranscriber(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"text":"   "}`)
	})

	out := tr.Transcribe(context.Background(), []byte("RIFF....WAVE"))
	assert.Equal(t, OutcomeNoSpeech, out.Kind)
	assert.Empty(t, out.Text)
}

func TestWhisperTranscriberFailure(t *testing.T) {
	tr := newTestTranscriber(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":{"message":"upstream down","type":"server_error"}}`)
	})

	out := tr.Transcribe(context.Background(), []byte("RIFF....WAVE"))
	assert.Equal(t, OutcomeFailure, out.Kind)
	assert.Error(t, out.Err)
}

func TestNewWhisperTranscriberRequiresKey(t *testing.T) {
	_, err := NewWhisperTranscriber(config.SpeechConfig{}, slog.Default())
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestOutcomeKindString(t *testing.T) {
	assert.Equal(t, "no_speech", OutcomeNoSpeech.String())
	assert.Equal(t, "failure", Failure(assert.AnError).Kind.String())
}
