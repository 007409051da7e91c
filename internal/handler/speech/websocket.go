package speech

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/voicedesk/assistant/backend/internal/config"
	"github.com/voicedesk/assistant/backend/internal/service/auth"
	"github.com/voicedesk/assistant/backend/internal/service/session"
)

// Server 会话服务接口
type Server interface {
	Serve(ctx context.Context, transport session.Transport, token string) error
}

// WebSocketHandler WebSocket语音会话处理器
type WebSocketHandler struct {
	sessions Server
	cfg      config.SessionConfig
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(sessions Server, cfg config.SessionConfig, logger *slog.Logger) *WebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketHandler{
		sessions: sessions,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		logger: logger.With(slog.String("component", "websocket")),
	}
}

// RegisterWebSocketRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterWebSocketRoutes(r chi.Router) {
	r.Get("/ws/audio", h.handleWebSocket)
	r.Get("/ws/chat", h.handleWebSocket)
}

// handleWebSocket 升级连接并交给会话控制器。鉴权在升级之后进行，
// 这样拒绝时客户端能收到带关闭码的关闭帧。
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := auth.ExtractToken(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.Any("error", err), slog.String("remote", r.RemoteAddr))
		return
	}

	transport := newTransport(conn, h.cfg)
	defer transport.shutdown()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go transport.pingLoop(ctx)

	if err := h.sessions.Serve(ctx, transport, token); err != nil {
		h.logger.Debug("session ended with error", slog.Any("error", err), slog.String("remote", r.RemoteAddr))
	}
}

// transport adapts a gorilla connection to session.Transport. Gorilla allows
// one concurrent reader and one concurrent writer, so writes are serialized.
type transport struct {
	conn *websocket.Conn
	cfg  config.SessionConfig

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newTransport(conn *websocket.Conn, cfg config.SessionConfig) *transport {
	t := &transport{conn: conn, cfg: cfg}
	if cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(cfg.MaxMessageBytes)
	}
	t.extendReadDeadline()
	conn.SetPongHandler(func(string) error {
		t.extendReadDeadline()
		return nil
	})
	return t
}

func (t *transport) extendReadDeadline() {
	if t.cfg.ReadTimeout > 0 {
		_ = t.conn.SetReadDeadline(time.Now().Add(t.cfg.ReadTimeout))
	}
}

func (t *transport) writeDeadline() time.Time {
	if t.cfg.WriteTimeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(t.cfg.WriteTimeout)
}

// ReadMessage returns the next text or binary frame.
func (t *transport) ReadMessage(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		kind, data, err := t.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		t.extendReadDeadline()
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (t *transport) WriteJSON(v any) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	_ = t.conn.SetWriteDeadline(t.writeDeadline())
	return t.conn.WriteJSON(v)
}

// Close sends a close frame with code and reason, then drops the connection.
func (t *transport) Close(code int, reason string) error {
	var err error
	t.closeOnce.Do(func() {
		deadline := t.writeDeadline()
		if deadline.IsZero() {
			deadline = time.Now().Add(time.Second)
		}
		msg := websocket.FormatCloseMessage(code, reason)
		if werr := t.conn.WriteControl(websocket.CloseMessage, msg, deadline); werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
			err = werr
		}
		if cerr := t.conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
	})
	return err
}

func (t *transport) shutdown() {
	_ = t.Close(websocket.CloseNormalClosure, "")
}

// pingLoop 定期发送ping消息
func (t *transport) pingLoop(ctx context.Context) {
	if t.cfg.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.conn.WriteControl(websocket.PingMessage, nil, t.writeDeadline()); err != nil {
				return
			}
		}
	}
}
