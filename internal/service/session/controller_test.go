package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicedesk/assistant/backend/internal/config"
	"github.com/voicedesk/assistant/backend/internal/metrics"
	"github.com/voicedesk/assistant/backend/internal/model/conversation"
	"github.com/voicedesk/assistant/backend/internal/model/speech"
	"github.com/voicedesk/assistant/backend/internal/model/user"
	"github.com/voicedesk/assistant/backend/internal/service/auth"
	convstore "github.com/voicedesk/assistant/backend/internal/service/conversation"
	speechsvc "github.com/voicedesk/assistant/backend/internal/service/speech"
)

const waitTimeout = 2 * time.Second

var (
	alice       = user.Identity{ID: 7, Name: "Alice", Email: "alice@example.com"}
	bobIdentity = user.Identity{ID: 8, Name: "Bob", Email: "bob@example.com"}
)

// fakeTransport is an in-memory connection. Closing the inbound channel
// simulates a client disconnect.
type fakeTransport struct {
	in  chan []byte
	out chan map[string]any

	mu          sync.Mutex
	closed      bool
	closeCode   int
	closeReason string
	lateWrites  int
	done        chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:   make(chan []byte, 16),
		out:  make(chan map[string]any, 64),
		done: make(chan struct{}),
	}
}

func (f *fakeTransport) ReadMessage(ctx context.Context) ([]byte, error) {
	select {
	case raw, ok := <-f.in:
		if !ok {
			return nil, io.EOF
		}
		return raw, nil
	case <-f.done:
		return nil, errors.New("use of closed connection")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) WriteJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		f.lateWrites++
		return errors.New("write on closed connection")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var msg map[string]any
	if err := json.Unmarshal(raw, &msg); err != nil {
		return err
	}
	f.out <- msg
	return nil
}

func (f *fakeTransport) Close(code int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("already closed")
	}
	f.closed = true
	f.closeCode = code
	f.closeReason = reason
	close(f.done)
	return nil
}

func (f *fakeTransport) closeFrame() (bool, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed, f.closeCode
}

type authFunc func(ctx context.Context, token string) (user.Identity, error)

func (f authFunc) Resolve(ctx context.Context, token string) (user.Identity, error) {
	return f(ctx, token)
}

func acceptAlice(_ context.Context, token string) (user.Identity, error) {
	switch token {
	case "":
		return user.Identity{}, &auth.RejectedError{Reason: auth.ReasonMissingToken, Err: auth.ErrMissingToken}
	case "good":
		return alice, nil
	case "broken-directory":
		return user.Identity{}, &auth.RejectedError{Reason: auth.ReasonInternal, Err: errors.New("db down")}
	default:
		return user.Identity{}, &auth.RejectedError{Reason: auth.ReasonInvalidToken, Err: auth.ErrInvalidToken}
	}
}

type decodeFunc func(ctx context.Context, payload string) ([]byte, error)

func (f decodeFunc) Decode(ctx context.Context, payload string) ([]byte, error) { return f(ctx, payload) }

func passthroughDecoder(_ context.Context, payload string) ([]byte, error) {
	return []byte(payload), nil
}

type transcribeFunc func(ctx context.Context, wav []byte) speechsvc.Outcome

func (f transcribeFunc) Transcribe(ctx context.Context, wav []byte) speechsvc.Outcome {
	return f(ctx, wav)
}

// echoTranscriber treats the payload as the spoken text.
func echoTranscriber(_ context.Context, wav []byte) speechsvc.Outcome {
	if len(wav) == 0 || string(wav) == "silence" {
		return speechsvc.NoSpeech()
	}
	return speechsvc.Text(string(wav))
}

type recordingGenerator struct {
	mu        sync.Mutex
	histories [][]conversation.HistoryEntry
	running   atomic.Int32
	maxActive atomic.Int32
	err       error
	block     chan struct{}
}

func (g *recordingGenerator) Generate(ctx context.Context, text string, history []conversation.HistoryEntry, identity *user.Identity) (string, error) {
	active := g.running.Add(1)
	defer g.running.Add(-1)
	for {
		old := g.maxActive.Load()
		if active <= old || g.maxActive.CompareAndSwap(old, active) {
			break
		}
	}

	g.mu.Lock()
	g.histories = append(g.histories, history)
	g.mu.Unlock()

	if g.block != nil {
		select {
		case <-g.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if g.err != nil {
		return "", g.err
	}
	if identity == nil {
		return "", errors.New("identity missing")
	}
	time.Sleep(time.Millisecond)
	return "reply to " + text, nil
}

func (g *recordingGenerator) calls() [][]conversation.HistoryEntry {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([][]conversation.HistoryEntry(nil), g.histories...)
}

type failingStore struct {
	*convstore.MemoryStore
	appendErr error
}

func (s failingStore) Append(ctx context.Context, identity user.Identity, input, reply string) (conversation.Turn, error) {
	if s.appendErr != nil {
		return conversation.Turn{}, s.appendErr
	}
	return s.MemoryStore.Append(ctx, identity, input, reply)
}

type harness struct {
	t     *testing.T
	ctrl  *Controller
	tr    *fakeTransport
	store *convstore.MemoryStore
	gen   *recordingGenerator
	done  chan error
}

type option func(*Dependencies)

func newHarness(t *testing.T, opts ...option) *harness {
	t.Helper()
	store := convstore.NewMemoryStore()
	gen := &recordingGenerator{}
	deps := Dependencies{
		Auth:        authFunc(acceptAlice),
		Decoder:     decodeFunc(passthroughDecoder),
		Transcriber: transcribeFunc(echoTranscriber),
		Generator:   gen,
		Store:       store,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&deps)
	}

	cfg := config.DefaultSessionConfig()
	ctrl, err := NewController(cfg, deps)
	require.NoError(t, err)

	return &harness{t: t, ctrl: ctrl, tr: newFakeTransport(), store: store, gen: gen, done: make(chan error, 1)}
}

func (h *harness) serve(token string) {
	go func() {
		h.done <- h.ctrl.Serve(context.Background(), h.tr, token)
	}()
}

func (h *harness) connect() map[string]any {
	h.t.Helper()
	h.serve("good")
	ack := h.next()
	require.Equal(h.t, speech.TypeConnectionEstablished, ack["type"])
	return ack
}

func (h *harness) send(raw string) {
	h.tr.in <- []byte(raw)
}

func (h *harness) sendAudio(text string, timestamp any) {
	msg := map[string]any{"type": "audio_data", "audio_data": text}
	if timestamp != nil {
		msg["timestamp"] = timestamp
	}
	raw, err := json.Marshal(msg)
	require.NoError(h.t, err)
	h.tr.in <- raw
}

func (h *harness) next() map[string]any {
	h.t.Helper()
	select {
	case msg := <-h.tr.out:
		return msg
	case <-time.After(waitTimeout):
		h.t.Fatal("timed out waiting for reply")
		return nil
	}
}

func (h *harness) disconnect() error {
	h.t.Helper()
	close(h.tr.in)
	return h.wait()
}

func (h *harness) wait() error {
	h.t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(waitTimeout):
		h.t.Fatal("session did not finish")
		return nil
	}
}

func (h *harness) count() int64 {
	n, err := h.store.Count(context.Background(), alice)
	require.NoError(h.t, err)
	return n
}

func TestHandshakeRejections(t *testing.T) {
	cases := []struct {
		token string
		code  int
	}{
		{"", speech.CloseMissingToken},
		{"forged", speech.CloseInvalidToken},
		{"broken-directory", speech.CloseInternalError},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprintf("code %d", tc.code), func(t *testing.T) {
			m := metrics.New()
			h := newHarness(t, func(d *Dependencies) { d.Metrics = m })
			h.serve(tc.token)

			err := h.wait()
			require.Error(t, err)

			closed, code := h.tr.closeFrame()
			assert.True(t, closed)
			assert.Equal(t, tc.code, code)
			assert.Empty(t, h.tr.out, "no message may be sent before identity resolution")
			assert.Zero(t, h.ctrl.Registry().Active())
			assert.Zero(t, testutil.ToFloat64(m.ActiveSessions))
		})
	}
}

func TestConnectionEstablished(t *testing.T) {
	h := newHarness(t)
	ack := h.connect()

	assert.Equal(t, map[string]any{"id": float64(7), "name": "Alice", "email": "alice@example.com"}, ack["user"])
	assert.NotEmpty(t, ack["session_id"])
	assert.Equal(t, 1, h.ctrl.Registry().Active())

	require.NoError(t, h.disconnect())
	assert.Zero(t, h.ctrl.Registry().Active())
}

func TestMalformedMessagesKeepSessionActive(t *testing.T) {
	h := newHarness(t)
	h.connect()

	h.send(`{"type":"bogus"}`)
	h.send(`{"type":"start_recording"}`)
	h.send(`not json at all`)
	h.send(`{"type":"audio_data"}`)
	h.send(`{"type":"stop_recording"}`)

	first := h.next()
	assert.Equal(t, "error", first["type"])
	assert.Equal(t, "Unknown message type: bogus", first["message"])

	second := h.next()
	assert.Equal(t, "recording_started", second["type"])
	assert.Equal(t, "Recording started successfully", second["message"])

	third := h.next()
	assert.Equal(t, "error", third["type"])
	assert.Equal(t, "Invalid JSON format", third["message"])

	fourth := h.next()
	assert.Equal(t, "No audio data provided", fourth["message"])

	fifth := h.next()
	assert.Equal(t, "recording_stopped", fifth["type"])

	assert.Empty(t, h.gen.calls(), "no downstream calls for rejected messages")
	require.NoError(t, h.disconnect())
}

func TestAudioPipelinePersistsAndReplies(t *testing.T) {
	m := metrics.New()
	h := newHarness(t, func(d *Dependencies) { d.Metrics = m })
	h.connect()

	h.sendAudio("hello", map[string]any{"client": 1712345})
	reply := h.next()

	assert.Equal(t, "transcription", reply["type"])
	assert.Equal(t, "hello", reply["text"])
	assert.Equal(t, "reply to hello", reply["llm_response"])
	assert.Equal(t, map[string]any{"client": float64(1712345)}, reply["timestamp"])
	assert.NotContains(t, reply, "message")

	recent, err := h.store.Recent(context.Background(), alice, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "hello", recent[0].UserText)
	assert.Equal(t, "reply to hello", recent[0].LLMResponse)

	require.NoError(t, h.disconnect())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Pipelines.WithLabelValues(metrics.PipelineOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Messages.WithLabelValues(speech.TypeAudioData)))
}

func TestTimestampOmittedWhenAbsent(t *testing.T) {
	h := newHarness(t)
	h.connect()

	h.sendAudio("hello", nil)
	reply := h.next()
	assert.NotContains(t, reply, "timestamp")
	require.NoError(t, h.disconnect())
}

func TestNoSpeechDoesNotPersist(t *testing.T) {
	h := newHarness(t)
	h.connect()

	h.sendAudio("silence", 5)
	reply := h.next()

	assert.Equal(t, "transcription", reply["type"])
	assert.Equal(t, "", reply["text"])
	assert.Equal(t, "", reply["llm_response"])
	assert.Equal(t, "No speech detected in audio", reply["message"])
	assert.Equal(t, float64(5), reply["timestamp"])
	assert.Zero(t, h.count())
	assert.Empty(t, h.gen.calls())
	require.NoError(t, h.disconnect())
}

func TestPipelineFailuresAreReportedNotPersisted(t *testing.T) {
	cases := []struct {
		name  string
		opt   option
		stage string
	}{
		{"decode", func(d *Dependencies) {
			d.Decoder = decodeFunc(func(context.Context, string) ([]byte, error) {
				return nil, errors.New("corrupt container")
			})
		}, speech.StageDecode},
		{"transcription", func(d *Dependencies) {
			d.Transcriber = transcribeFunc(func(context.Context, []byte) speechsvc.Outcome {
				return speechsvc.Failure(errors.New("429 rate limited"))
			})
		}, speech.StageTranscription},
		{"generation", func(d *Dependencies) {
			d.Generator = &recordingGenerator{err: errors.New("upstream timeout")}
		}, speech.StageGeneration},
		{"persistence", func(d *Dependencies) {
			d.Store = failingStore{MemoryStore: d.Store.(*convstore.MemoryStore), appendErr: errors.New("disk full")}
		}, speech.StagePersistence},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, tc.opt)
			h.connect()

			h.sendAudio("hello", nil)
			reply := h.next()
			assert.Equal(t, "error", reply["type"])
			assert.Equal(t, tc.stage, reply["stage"])
			assert.Equal(t, "Error processing audio: "+tc.stage+" failed", reply["message"])
			assert.Zero(t, h.count(), "no turn may be persisted on failure")

			// The session stays usable.
			h.send(`{"type":"start_recording"}`)
			assert.Equal(t, "recording_started", h.next()["type"])
			require.NoError(t, h.disconnect())
		})
	}
}

func TestPanicBecomesServerError(t *testing.T) {
	h := newHarness(t, func(d *Dependencies) {
		d.Decoder = decodeFunc(func(context.Context, string) ([]byte, error) {
			panic("nil codec")
		})
	})
	h.connect()

	h.sendAudio("hello", nil)
	reply := h.next()
	assert.Equal(t, "error", reply["type"])
	assert.Equal(t, "Server error: nil codec", reply["message"])

	h.send(`{"type":"stop_recording"}`)
	assert.Equal(t, "recording_stopped", h.next()["type"])
	require.NoError(t, h.disconnect())
}

func TestHistoryWindowIsChronological(t *testing.T) {
	h := newHarness(t)
	h.connect()

	for i := 0; i < 12; i++ {
		h.sendAudio(fmt.Sprintf("q%02d", i), nil)
	}
	for i := 0; i < 12; i++ {
		assert.Equal(t, fmt.Sprintf("q%02d", i), h.next()["text"])
	}
	require.NoError(t, h.disconnect())

	calls := h.gen.calls()
	require.Len(t, calls, 12)
	assert.Empty(t, calls[0])

	last := calls[11]
	require.Len(t, last, 10)
	for i, entry := range last {
		assert.Equal(t, fmt.Sprintf("q%02d", i+1), entry.InputText)
		assert.Equal(t, fmt.Sprintf("reply to q%02d", i+1), entry.ReplyText)
	}
	assert.Equal(t, int32(1), h.gen.maxActive.Load(), "a session processes one message at a time")
}

func TestDisconnectMidPipelineSendsNothing(t *testing.T) {
	gen := &recordingGenerator{block: make(chan struct{})}
	h := newHarness(t, func(d *Dependencies) { d.Generator = gen })
	h.connect()

	h.sendAudio("hello", nil)
	require.Eventually(t, func() bool { return len(gen.calls()) == 1 }, waitTimeout, 5*time.Millisecond)

	require.NoError(t, h.disconnect())

	assert.Empty(t, h.tr.out)
	h.tr.mu.Lock()
	assert.Zero(t, h.tr.lateWrites)
	h.tr.mu.Unlock()
	assert.Zero(t, h.count())
}

func TestRegistryCloseAll(t *testing.T) {
	h := newHarness(t)
	h.connect()

	h.ctrl.Registry().CloseAll(speech.CloseGoingAway, speech.ReasonShutdown)
	require.NoError(t, h.wait())

	closed, code := h.tr.closeFrame()
	assert.True(t, closed)
	assert.Equal(t, speech.CloseGoingAway, code)
	assert.Zero(t, h.ctrl.Registry().Active())
}

func TestNewControllerRequiresDependencies(t *testing.T) {
	_, err := NewController(config.DefaultSessionConfig(), Dependencies{})
	assert.Error(t, err)
}
