package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"chat-relay/internal/chat"
	"chat-relay/internal/config"
	grpcserver "chat-relay/internal/grpc"
	"chat-relay/internal/handlers"
	"chat-relay/internal/likes"
	"chat-relay/internal/middleware"
	"chat-relay/internal/observability"
	"chat-relay/internal/rabbitmq"
	"chat-relay/internal/repositories"
	"chat-relay/internal/telemetry"
	"chat-relay/internal/ws"
)

const (
	auditRoutingKey = "audit.chat"
	shutdownTimeout = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.OTLPEndpoint != "" {
		shutdownTracing, err := observability.InitTracing(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer func() {
			tctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = shutdownTracing(tctx)
		}()
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, log)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	log.Info().
		Str("mode", rabbitmq.PublisherMode(publisher)).
		Str("reason", rabbitmq.PublisherNoopReason(publisher)).
		Msg("event bus ready")

	identity, err := cfg.IdentityProvider()
	if err != nil {
		return err
	}

	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	hub := ws.NewHub(log)
	engine := chat.NewEngine(store, likes.NewAggregator(), hub, identity, chat.Config{
		HistoryWindow:    cfg.HistoryWindow,
		RetentionHorizon: cfg.RetentionHorizon,
		ValidateImages:   cfg.ValidateImages,
	}, log)

	audit := telemetry.NewAuditEmitter(publisher, auditRoutingKey, cfg.ServiceName, cfg.Env, log)
	chatWS := ws.NewChatWebSocketHandler(engine, audit, ws.HandlerConfig{
		QueueSize:       cfg.SendBuffer,
		MaxMessageBytes: cfg.MaxMessageBytes,
		AllowedOrigins:  cfg.Origins(),
	}, log)
	chatHandler := handlers.NewChatHandler(engine)

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// middlewares
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(observability.HTTPMetricsMiddleware())
	router.Use(middleware.RequestLogger(log))

	authMiddleware := middleware.AuthMiddleware(identity)

	router.GET("/ws", chatWS.Handle)
	router.POST("/check-token", chatHandler.CheckToken)
	router.GET("/api/history", authMiddleware, chatHandler.History)
	router.GET("/healthz", chatHandler.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handlers.RegisterDebugRoutes(router, audit, cfg.IsDevelopment())

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("store", cfg.StoreBackend).Msg("chat relay listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var health *grpcserver.HealthServer
	if cfg.GRPCPort != "" {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			return fmt.Errorf("listen grpc on %s: %w", cfg.GRPCPort, err)
		}
		health = grpcserver.NewHealthServer(cfg.ServiceName, log)
		go func() {
			if err := health.Serve(lis); err != nil {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown requested")
	case serveErr = <-errCh:
		log.Error().Err(serveErr).Msg("server failed")
	}

	if health != nil {
		health.SetServing(false)
	}
	closed := hub.CloseAll()
	log.Info().Int("sessions", closed).Msg("closed websocket sessions")

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	if health != nil {
		health.Stop()
	}
	return serveErr
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(level).With().Timestamp().Str("service", cfg.ServiceName).Logger()
}

func openStore(cfg *config.Config, log zerolog.Logger) (repositories.MessageRepository, error) {
	switch cfg.StoreBackend {
	case "badger":
		repo, err := repositories.OpenBadgerMessageRepo(filepath.Join(cfg.DataDir, "badger"), log)
		if err != nil {
			return nil, fmt.Errorf("open badger store: %w", err)
		}
		return repo, nil
	default:
		repo, err := repositories.NewFileMessageRepo(cfg.DataDir, log)
		if err != nil {
			return nil, fmt.Errorf("open file store: %w", err)
		}
		return repo, nil
	}
}
