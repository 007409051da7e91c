package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/voicedesk/assistant/backend/internal/handler/conversation"
	"github.com/voicedesk/assistant/backend/internal/handler/speech"
	"github.com/voicedesk/assistant/backend/internal/metrics"
	middlewarePkg "github.com/voicedesk/assistant/backend/internal/middleware"
	"github.com/voicedesk/assistant/backend/pkg/utils"
)

// Dependencies 路由所需的服务
type Dependencies struct {
	Sessions      *speech.WebSocketHandler
	Conversations conversation.Store
	Auth          middlewarePkg.Authenticator
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  slog.NewLogLogger(logger.Handler(), slog.LevelInfo),
		NoColor: true,
	}))
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(middlewarePkg.CORS)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Websocket routes authenticate after the upgrade so rejections carry a close code.
	if deps.Sessions != nil {
		deps.Sessions.RegisterWebSocketRoutes(r)
	}

	r.Route("/api", func(api chi.Router) {
		api.Use(middlewarePkg.RequireBearer(deps.Auth, logger))

		if deps.Conversations != nil {
			conversation.New(deps.Conversations, logger).RegisterRoutes(api)
		}
	})

	return r
}
