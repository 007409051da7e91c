package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/voicedesk/assistant/backend/internal/model/user"
)

// Transport is one client connection. ReadMessage is called from a single
// goroutine; WriteJSON and Close may be called concurrently with it.
type Transport interface {
	ReadMessage(ctx context.Context) ([]byte, error)
	WriteJSON(v any) error
	Close(code int, reason string) error
}

var errSessionClosed = errors.New("session closed")

// Session is the server side state of one connection. It lives only as long
// as the connection and is never persisted.
type Session struct {
	ID string

	mu       sync.RWMutex
	state    State
	identity user.Identity

	transport Transport
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	logger    *slog.Logger
}

func newSession(parent context.Context, transport Transport, logger *slog.Logger) *Session {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		ID:        id,
		state:     StateConnecting,
		transport: transport,
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger.With(slog.String("session_id", id)),
	}
}

// Context is cancelled when the session closes.
func (s *Session) Context() context.Context {
	return s.ctx
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Identity returns the identity resolved during the handshake. It is the zero
// value before the session becomes ACTIVE.
func (s *Session) Identity() user.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

func (s *Session) transition(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !canTransition(s.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s.state, to)
	}
	s.state = to
	return nil
}

// activate binds the identity and enters ACTIVE. The identity cannot change
// afterwards since ACTIVE is only reachable once.
func (s *Session) activate(identity user.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !canTransition(s.state, StateActive) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s.state, StateActive)
	}
	s.identity = identity
	s.state = StateActive
	s.logger = s.logger.With(slog.Int64("user_id", identity.ID))
	return nil
}

// markClosed moves the session to CLOSED and cancels in-flight work. It
// reports whether this call performed the transition.
func (s *Session) markClosed() bool {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return false
	}
	s.state = StateClosed
	s.mu.Unlock()

	s.cancel()
	return true
}

// close marks the session CLOSED and closes the transport exactly once. The
// first caller's code wins; the context is cancelled after the close frame is
// claimed.
func (s *Session) close(code int, reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()

		if err := s.transport.Close(code, reason); err != nil {
			s.log().Debug("transport close failed", slog.Any("error", err))
		}
	})
	s.cancel()
}

// send writes v unless the session has left ACTIVE. Nothing is written to a
// closed transport.
func (s *Session) send(v any) error {
	if s.State() != StateActive {
		return errSessionClosed
	}
	return s.transport.WriteJSON(v)
}

func (s *Session) log() *slog.Logger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logger
}
