package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-livepoll/backend/config"
	"github.com/aura-livepoll/backend/internal/auth"
	"github.com/aura-livepoll/backend/internal/chat"
	"github.com/aura-livepoll/backend/internal/dispatch"
	"github.com/aura-livepoll/backend/internal/memstore"
	"github.com/aura-livepoll/backend/internal/metrics"
	"github.com/aura-livepoll/backend/internal/middleware"
	"github.com/aura-livepoll/backend/internal/models"
	"github.com/aura-livepoll/backend/internal/observability"
	"github.com/aura-livepoll/backend/internal/polls"
	"github.com/aura-livepoll/backend/internal/realtime"
	"github.com/aura-livepoll/backend/internal/sessions"
	"github.com/aura-livepoll/backend/pkg/database"
	"github.com/aura-livepoll/backend/pkg/queue"
	"github.com/aura-livepoll/backend/pkg/redis"
	"github.com/aura-livepoll/backend/pkg/response"
)

type stores struct {
	auth     auth.Store
	sessions sessions.Store
	polls    polls.Store
	chat     chat.Store
	close    func()
}

func openStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*stores, error) {
	if cfg.StoreDriver == "memory" {
		logger.Warn("using in-memory store; state is lost on restart")
		mem := memstore.New()
		return &stores{auth: mem, sessions: mem, polls: mem, chat: mem, close: func() {}}, nil
	}
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &stores{
		auth:     auth.NewRepository(pool),
		sessions: sessions.NewRepository(pool),
		polls:    polls.NewRepository(pool),
		chat:     chat.NewRepository(pool),
		close:    pool.Close,
	}, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config: " + err.Error())
	}
	logger := newLogger(cfg.Observability.LogLevel)
	defer logger.Sync()

	flush, err := observability.InitSentry(cfg.Observability.SentryDSN, cfg.Observability.Env, cfg.Observability.Release)
	if err != nil {
		logger.Warn("sentry disabled", zap.Error(err))
	} else {
		defer flush()
	}

	ctx := context.Background()
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("store", zap.Error(err))
	}
	defer st.close()

	// Redis is optional: it backs the archive queue and cross-instance fan-out.
	var redisClient *redis.Client
	if rc, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger); err != nil {
		logger.Warn("redis unavailable; archive jobs and fan-out disabled", zap.Error(err))
	} else {
		redisClient = rc
		defer redisClient.Close()
	}

	manager := sessions.NewManager(st.sessions, sessions.Options{
		KickCooldown:           cfg.Session.KickCooldown,
		CodeLength:             cfg.Session.JoinCodeLength,
		CodeRetries:            cfg.Session.JoinCodeRetries,
		DefaultMaxParticipants: cfg.Session.DefaultMaxParticipants,
	}, logger.Named("sessions"))
	engine := polls.NewEngine(manager, st.polls, polls.Options{
		DefaultDuration: cfg.Poll.DefaultDuration,
		MaxDuration:     cfg.Poll.MaxDuration,
		MaxOptions:      cfg.Poll.MaxOptions,
		RevotePolicy:    polls.RevotePolicy(cfg.Poll.RevotePolicy),
	}, logger.Named("polls"))
	manager.SetPollCloser(engine)
	relay := chat.NewRelay(manager, st.chat, cfg.Chat.MaxLength, cfg.Chat.HistoryLimit, logger.Named("chat"))

	hub := realtime.NewHub(logger.Named("hub"), manager)
	hub.SetPresenceHandler(func(userID uuid.UUID) {
		manager.Touch(context.Background(), userID)
	})
	dispatcher := dispatch.New(manager, engine, relay, hub, logger.Named("dispatch"))
	manager.SetSink(dispatcher)

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	if redisClient != nil {
		manager.SetArchiver(queue.NewQueue(redisClient.Client, logger))
		if cfg.Redis.Fanout {
			fanout := realtime.NewRedisRelay(redisClient.Client, hub, logger.Named("fanout"))
			dispatcher.SetFanout(fanout)
			go func() {
				if err := fanout.Run(bgCtx); err != nil && bgCtx.Err() == nil {
					logger.Error("redis fan-out stopped", zap.Error(err))
				}
			}()
			logger.Info("redis fan-out enabled")
		}
	}

	if err := manager.Restore(ctx); err != nil {
		logger.Fatal("restore sessions", zap.Error(err))
	}
	if err := engine.Restore(ctx); err != nil {
		logger.Fatal("restore polls", zap.Error(err))
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	authHandler := auth.NewHandler(st.auth, jwtService, manager, logger.Named("auth"))
	sessionHandler := sessions.NewHandler(manager, hub, logger.Named("sessions"))
	pollHandler := polls.NewHandler(engine, logger.Named("polls"))
	chatHandler := chat.NewHandler(relay, logger.Named("chat"))

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	router.POST("/auth/join", authHandler.Join)

	teacher := middleware.RequireRole(models.RoleTeacher)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.GET("/auth/me", authHandler.Me)

		api.POST("/sessions", teacher, sessionHandler.Create)
		api.POST("/sessions/join", sessionHandler.Join)
		api.POST("/sessions/leave", sessionHandler.Leave)
		api.GET("/sessions/current", sessionHandler.Current)
		api.GET("/sessions/history", teacher, sessionHandler.History)
		api.GET("/sessions/:id/participants", sessionHandler.Participants)
		api.POST("/sessions/:id/end", teacher, sessionHandler.End)
		api.POST("/sessions/:id/kick/:userId", teacher, sessionHandler.Kick)
		api.GET("/sessions/:id/stats", teacher, sessionHandler.Stats)

		api.POST("/sessions/:id/polls", teacher, pollHandler.Create)
		api.GET("/sessions/:id/polls/current", pollHandler.Current)
		api.GET("/sessions/:id/polls/history", pollHandler.History)
		api.POST("/sessions/:id/polls/end", teacher, pollHandler.End)
		api.POST("/polls/:id/vote", pollHandler.Vote)

		api.GET("/sessions/:id/messages", chatHandler.List)
		api.POST("/sessions/:id/messages", chatHandler.Send)
		api.DELETE("/messages/:id", chatHandler.Delete)
	}

	// WebSocket (token in query or Authorization header)
	router.GET("/ws", realtime.ServeWs(hub, jwtService, dispatcher, cfg.Server.WSSendBuffer, logger.Named("ws")))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	bgCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger(level string) *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		config.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, _ := config.Build()
	return logger
}
