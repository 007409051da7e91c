package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/voicedesk/assistant/backend/internal/middleware"
	"github.com/voicedesk/assistant/backend/internal/model/conversation"
	"github.com/voicedesk/assistant/backend/internal/model/user"
	"github.com/voicedesk/assistant/backend/pkg/utils"
)

// Store 会话记录的读取与清理接口
type Store interface {
	List(ctx context.Context, identity user.Identity) ([]conversation.Turn, error)
	Count(ctx context.Context, identity user.Identity) (int64, error)
	Clear(ctx context.Context, identity user.Identity) (int64, error)
}

// Handler 会话记录的HTTP处理器，路由需挂在 RequireBearer 之后
type Handler struct {
	store  Store
	logger *slog.Logger
}

// New 创建会话记录处理器
func New(store Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: store, logger: logger.With(slog.String("component", "conversation_api"))}
}

// RegisterRoutes 注册会话记录相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/conversations", h.handleList)
	r.Delete("/conversations/clear", h.handleClear)
	r.Get("/protected-example", h.handleProtectedExample)
}

type turnView struct {
	ID          int64     `json:"id"`
	UserText    string    `json:"user_text"`
	LLMResponse string    `json:"llm_response"`
	CreatedAt   time.Time `json:"created_at"`
}

// handleList 返回当前用户的全部记录，最新的在前
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}

	turns, err := h.store.List(r.Context(), identity)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list conversations failed", slog.Int64("user_id", identity.ID), slog.Any("error", err))
		utils.RespondError(w, http.StatusInternalServerError, "failed to load conversations")
		return
	}

	views := make([]turnView, 0, len(turns))
	for _, t := range turns {
		views = append(views, turnView{ID: t.ID, UserText: t.UserText, LLMResponse: t.LLMResponse, CreatedAt: t.CreatedAt})
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"conversations": views})
}

// handleClear 删除当前用户的全部记录
func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}

	deleted, err := h.store.Clear(r.Context(), identity)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "clear conversations failed", slog.Int64("user_id", identity.ID), slog.Any("error", err))
		utils.RespondError(w, http.StatusInternalServerError, "failed to clear conversations")
		return
	}

	h.logger.InfoContext(r.Context(), "conversations cleared", slog.Int64("user_id", identity.ID), slog.Int64("deleted", deleted))
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Successfully cleared %d conversations", deleted),
		"deleted": deleted,
	})
}

func (h *Handler) handleProtectedExample(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}

	count, err := h.store.Count(r.Context(), identity)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "count conversations failed", slog.Int64("user_id", identity.ID), slog.Any("error", err))
		utils.RespondError(w, http.StatusInternalServerError, "failed to count conversations")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"message":            fmt.Sprintf("Hello %s!", identity.DisplayName()),
		"user_id":            identity.ID,
		"email":              identity.Email,
		"conversation_count": count,
		"authenticated":      true,
	})
}

func (h *Handler) identity(w http.ResponseWriter, r *http.Request) (user.Identity, bool) {
	identity, err := middleware.MustIdentity(r)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "route mounted without authentication", slog.String("path", r.URL.Path))
		utils.RespondError(w, http.StatusUnauthorized, "Authorization header is required")
		return user.Identity{}, false
	}
	return identity, true
}
