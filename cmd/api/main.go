package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/voicedesk/assistant/backend/internal/config"
	"github.com/voicedesk/assistant/backend/internal/handler"
	wshandler "github.com/voicedesk/assistant/backend/internal/handler/speech"
	"github.com/voicedesk/assistant/backend/internal/metrics"
	speechModel "github.com/voicedesk/assistant/backend/internal/model/speech"
	"github.com/voicedesk/assistant/backend/internal/service/ai"
	"github.com/voicedesk/assistant/backend/internal/service/audio"
	"github.com/voicedesk/assistant/backend/internal/service/auth"
	"github.com/voicedesk/assistant/backend/internal/service/conversation"
	"github.com/voicedesk/assistant/backend/internal/service/session"
	"github.com/voicedesk/assistant/backend/internal/service/speech"
	"github.com/voicedesk/assistant/backend/internal/storage"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load .env file, continuing with system environment variables only", slog.Any("error", err))
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	db, err := storage.Open(cfg.Database, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := storage.Close(db); err != nil {
			logger.Warn("close database failed", slog.Any("error", err))
		}
	}()
	if err := storage.Migrate(db); err != nil {
		return err
	}

	if !cfg.Auth.Enabled() {
		return errors.New("AUTH_SIGNING_KEY 未配置，无法校验访问令牌")
	}
	gate, err := auth.NewGate(cfg.Auth, auth.NewGormUserDirectory(db), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize token gate: %w", err)
	}

	transcoder := audio.NewFFmpegTranscoder(cfg.Audio, logger)
	if !transcoder.Available() {
		logger.Warn("ffmpeg not found, only WAV uploads can be decoded", slog.String("path", cfg.Audio.FFmpegPath))
	}
	decoder := audio.NewDecoder(transcoder, cfg.Audio.SampleRate)

	transcriber, err := speech.NewWhisperTranscriber(cfg.Speech, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize speech recognition: %w", err)
	}

	generator, err := ai.NewGenerator(ctx, cfg.AI, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize response generation: %w", err)
	}
	logger.Info("AI service initialized", slog.String("provider", cfg.AI.Provider), slog.String("model", cfg.AI.Model))

	store := conversation.NewGormStore(db)
	collectors := metrics.New()

	controller, err := session.NewController(cfg.Session, session.Dependencies{
		Auth:        gate,
		Decoder:     decoder,
		Transcriber: transcriber,
		Generator:   generator,
		Store:       store,
		Metrics:     collectors,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	router := handler.NewRouter(handler.Dependencies{
		Sessions:      wshandler.NewWebSocketHandler(controller, cfg.Session, logger),
		Conversations: store,
		Auth:          gate,
		Metrics:       collectors,
		Logger:        logger,
	})

	return startServer(ctx, cfg.Server, router, controller.Registry(), logger)
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level, AddSource: cfg.AddSource}

	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, sessions *session.Registry, logger *slog.Logger) error {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	// Shutdown does not track hijacked connections.
	srv.RegisterOnShutdown(func() {
		sessions.CloseAll(speechModel.CloseGoingAway, speechModel.ReasonShutdown)
	})

	logger.Info("voice assistant backend listening", slog.String("addr", addr))
	return runServer(ctx, srv)
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
