package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/voicedesk/assistant/backend/internal/config"
	"github.com/voicedesk/assistant/backend/internal/metrics"
	"github.com/voicedesk/assistant/backend/internal/model/conversation"
	"github.com/voicedesk/assistant/backend/internal/model/speech"
	"github.com/voicedesk/assistant/backend/internal/model/user"
	"github.com/voicedesk/assistant/backend/internal/service/auth"
	speechsvc "github.com/voicedesk/assistant/backend/internal/service/speech"
)

// Authenticator resolves the connection token to an identity.
type Authenticator interface {
	Resolve(ctx context.Context, token string) (user.Identity, error)
}

// Decoder turns an encoded audio payload into WAV.
type Decoder interface {
	Decode(ctx context.Context, payload string) ([]byte, error)
}

// Generator produces the assistant reply.
type Generator interface {
	Generate(ctx context.Context, text string, history []conversation.HistoryEntry, identity *user.Identity) (string, error)
}

// Store is the part of the conversation store the pipeline needs.
type Store interface {
	Append(ctx context.Context, identity user.Identity, input, reply string) (conversation.Turn, error)
	Recent(ctx context.Context, identity user.Identity, limit int) ([]conversation.Turn, error)
}

// Recorder receives session and pipeline events.
type Recorder interface {
	SessionOpened()
	SessionClosed()
	SessionRejected(outcome string)
	MessageReceived(msgType string)
	PipelineFinished(outcome string, elapsed time.Duration)
}

// Dependencies are the process-wide collaborators shared by all sessions.
type Dependencies struct {
	Auth        Authenticator
	Decoder     Decoder
	Transcriber speechsvc.Transcriber
	Generator   Generator
	Store       Store
	Metrics     Recorder
	Logger      *slog.Logger
}

// Controller runs sessions. One Controller serves every connection.
type Controller struct {
	cfg      config.SessionConfig
	deps     Dependencies
	registry *Registry
	logger   *slog.Logger
}

const inboundBuffer = 16

func NewController(cfg config.SessionConfig, deps Dependencies) (*Controller, error) {
	switch {
	case deps.Auth == nil:
		return nil, errors.New("session: authenticator is required")
	case deps.Decoder == nil:
		return nil, errors.New("session: audio decoder is required")
	case deps.Transcriber == nil:
		return nil, errors.New("session: transcriber is required")
	case deps.Generator == nil:
		return nil, errors.New("session: generator is required")
	case deps.Store == nil:
		return nil, errors.New("session: conversation store is required")
	}
	if deps.Metrics == nil {
		deps.Metrics = nopRecorder{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.PipelineTimeout <= 0 {
		cfg.PipelineTimeout = config.DefaultSessionConfig().PipelineTimeout
	}
	if cfg.HistoryLimit < 0 {
		cfg.HistoryLimit = 0
	}

	return &Controller{
		cfg:      cfg,
		deps:     deps,
		registry: NewRegistry(),
		logger:   deps.Logger.With(slog.String("component", "session")),
	}, nil
}

// Registry returns the live session registry.
func (c *Controller) Registry() *Registry {
	return c.registry
}

// Serve runs one connection from handshake to close and returns when the
// session is CLOSED. A rejected handshake returns the authentication error;
// a client disconnect returns nil.
func (c *Controller) Serve(ctx context.Context, transport Transport, token string) error {
	sess := newSession(ctx, transport, c.logger)
	defer sess.cancel()

	if err := sess.transition(StateAuthenticating); err != nil {
		sess.close(speech.CloseInternalError, speech.ReasonInternal)
		return err
	}

	identity, err := c.deps.Auth.Resolve(sess.ctx, token)
	if err != nil {
		code, reason, outcome := rejection(err)
		c.deps.Metrics.SessionRejected(outcome)
		sess.log().Info("handshake rejected", slog.String("reason", string(auth.ReasonOf(err))), slog.Int("close_code", code))
		sess.close(code, reason)
		return fmt.Errorf("handshake: %w", err)
	}

	if err := sess.activate(identity); err != nil {
		sess.close(speech.CloseInternalError, speech.ReasonInternal)
		return err
	}

	c.registry.add(sess)
	c.deps.Metrics.SessionOpened()
	defer func() {
		c.registry.remove(sess.ID)
		c.deps.Metrics.SessionClosed()
	}()

	log := sess.log()
	log.Info("session established")

	ack := speech.NewConnectionEstablished(sess.ID, speech.UserInfo{ID: identity.ID, Name: identity.Name, Email: identity.Email})
	if err := sess.send(ack); err != nil {
		log.Warn("send acknowledgment failed", slog.Any("error", err))
		sess.close(speech.CloseInternalError, speech.ReasonInternal)
		return nil
	}

	frames := make(chan []byte, inboundBuffer)
	readerDone := make(chan struct{})
	go c.readLoop(sess, frames, readerDone)

	c.workLoop(sess, frames)

	sess.close(speech.CloseNormal, "")
	<-readerDone
	log.Info("session closed")
	return nil
}

// readLoop feeds frames to the worker until the transport fails. A read
// error ends the session.
func (c *Controller) readLoop(sess *Session, frames chan<- []byte, done chan<- struct{}) {
	defer close(done)
	defer close(frames)

	for {
		raw, err := sess.transport.ReadMessage(sess.ctx)
		if err != nil {
			if sess.markClosed() {
				sess.log().Info("transport closed", slog.Any("error", err))
			}
			return
		}

		select {
		case frames <- raw:
		case <-sess.ctx.Done():
			return
		}
	}
}

// workLoop handles one frame at a time so turns of a session are persisted
// in the order their audio arrived.
func (c *Controller) workLoop(sess *Session, frames <-chan []byte) {
	for {
		select {
		case <-sess.ctx.Done():
			return
		case raw, ok := <-frames:
			if !ok || sess.State() != StateActive {
				return
			}
			c.dispatch(sess, raw)
		}
	}
}

// dispatch handles one inbound frame and emits exactly one reply. Faults are
// reported to the client; none of them end the session.
func (c *Controller) dispatch(sess *Session, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			sess.log().Error("message handler panic", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			c.reply(sess, speech.NewServerError(fmt.Errorf("%v", r)))
		}
	}()

	msg, err := speech.ParseInbound(raw)
	if err != nil {
		c.deps.Metrics.MessageReceived("invalid")
		sess.log().Debug("rejected inbound message", slog.Any("error", err))
		c.reply(sess, protocolError(err))
		return
	}
	c.deps.Metrics.MessageReceived(speech.TypeOf(msg))

	switch m := msg.(type) {
	case speech.StartRecording:
		c.reply(sess, speech.NewRecordingStarted())
	case speech.StopRecording:
		c.reply(sess, speech.NewRecordingStopped())
	case speech.AudioData:
		c.reply(sess, c.processAudio(sess, m))
	}
}

func (c *Controller) reply(sess *Session, v any) {
	if err := sess.send(v); err != nil {
		if errors.Is(err, errSessionClosed) {
			sess.log().Debug("reply dropped after close")
			return
		}
		sess.log().Warn("write failed", slog.Any("error", err))
		sess.close(speech.CloseInternalError, speech.ReasonInternal)
	}
}

func protocolError(err error) speech.Error {
	var unknown *speech.UnknownTypeError
	switch {
	case errors.As(err, &unknown):
		return speech.NewUnknownTypeError(unknown.Type)
	case errors.Is(err, speech.ErrNoAudioData):
		return speech.NewError(speech.MessageNoAudioData)
	case errors.Is(err, speech.ErrInvalidJSON):
		return speech.NewError(speech.MessageInvalidJSON)
	default:
		return speech.NewServerError(err)
	}
}

// rejection maps an authentication failure to its close frame and metric.
func rejection(err error) (int, string, string) {
	switch auth.ReasonOf(err) {
	case auth.ReasonMissingToken:
		return speech.CloseMissingToken, speech.ReasonMissingToken, metrics.SessionRejectedMissing
	case auth.ReasonInvalidToken, auth.ReasonExpiredToken, auth.ReasonUnknownSubject:
		return speech.CloseInvalidToken, speech.ReasonInvalidToken, metrics.SessionRejectedInvalid
	default:
		return speech.CloseInternalError, speech.ReasonInternal, metrics.SessionRejectedInternal
	}
}

type nopRecorder struct{}

func (nopRecorder) SessionOpened() {}
func (nopRecorder) SessionClosed() {}
func (nopRecorder) SessionRejected(string) {}
func (nopRecorder) MessageReceived(string) {}
func (nopRecorder) PipelineFinished(string, time.Duration) {}
