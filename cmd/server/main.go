// Package main runs the election HTTP server with WebSocket change feeds and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/univote/backend/config"
	"github.com/univote/backend/internal/auth"
	"github.com/univote/backend/internal/election"
	"github.com/univote/backend/internal/middleware"
	"github.com/univote/backend/internal/realtime"
	"github.com/univote/backend/internal/worker"
	"github.com/univote/backend/pkg/database"
	"github.com/univote/backend/pkg/queue"
	"github.com/univote/backend/pkg/redis"
	"github.com/univote/backend/pkg/response"
	"github.com/univote/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), int32(cfg.Database.MaxConns), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.Region != "" {
		s3Client, err = storage.NewS3(ctx, storage.S3Config{
			Region:          cfg.AWS.Region,
			AccessKeyID:     cfg.AWS.AccessKeyID,
			SecretAccessKey: cfg.AWS.SecretAccessKey,
			ImagesBucket:    cfg.AWS.ImagesBucket,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
			s3Client = nil
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)
	jobQueue := queue.NewQueue(rdb.Client, logger)

	// Auth
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, cfg.Auth.AdminInviteCode, logger)

	// Election
	opts := []election.Option{
		election.WithNotifier(hub),
		election.WithCleanupQueue(jobQueue),
		election.WithCache(cfg.Election.CacheSize, time.Duration(cfg.Election.CacheTTLSeconds)*time.Second),
		election.WithHistoryLimit(cfg.Election.HistoryDefaultSize),
	}
	if s3Client != nil {
		opts = append(opts, election.WithImageStore(s3Client))
	}
	electionSvc := election.NewService(election.NewRepository(pool), logger, opts...)
	electionHandler := election.NewHandler(electionSvc, logger)

	// Change feed: other instances' writes invalidate this instance's catalog cache.
	hub.SetEventHandler(electionSvc.HandleChange)
	if err := hub.Start(election.TopicContestants, election.TopicVotes, election.TopicElection); err != nil {
		logger.Fatal("subscribe change feed", zap.Error(err))
	}
	defer hub.Close()

	var voteLimiter *middleware.RateLimiter
	if cfg.Election.VotesPerMinute > 0 {
		voteLimiter = middleware.NewRateLimiter(cfg.Election.VotesPerMinute, cfg.Election.VoteBurst)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			response.ServiceUnavailable(c, "database unavailable")
			return
		}
		if err := rdb.Client.Ping(ctx).Err(); err != nil {
			response.ServiceUnavailable(c, "redis unavailable")
			return
		}
		response.OK(c, gin.H{"status": "ok"})
	})

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	// Public election views
	router.GET("/results", electionHandler.PublicResults)
	router.GET("/election/status", electionHandler.Status)

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.GET("/posts", electionHandler.ListPosts)
		api.GET("/contestants", electionHandler.ListContestants)
		electionHandler.RegisterBallotRoutes(api, middleware.RateLimit(voteLimiter))

		api.GET("/users", middleware.RequireAdmin(), authHandler.List)
	}

	admin := router.Group("/admin")
	admin.Use(middleware.JWT(jwtService), middleware.RequireAdmin())
	{
		admin.POST("/posts", electionHandler.CreatePost)
		admin.DELETE("/posts/:id", electionHandler.DeletePost)
		admin.POST("/contestants", electionHandler.CreateContestant)
		admin.DELETE("/contestants/:id", electionHandler.DeleteContestant)
		admin.POST("/contestants/:id/adjust", electionHandler.Adjust)
		admin.PUT("/contestants/:id/votes", electionHandler.SetVotes)
		admin.POST("/votes/reset", electionHandler.Reset)
		admin.GET("/votes", electionHandler.History)
		admin.POST("/election/announce", electionHandler.Announce)
		admin.POST("/election/withdraw", electionHandler.Withdraw)
		admin.GET("/results", electionHandler.Board)
		admin.GET("/results/:post_id", electionHandler.Ranking)
		admin.GET("/stats", electionHandler.Stats)
		admin.GET("/tally/audit", electionHandler.Audit)
		admin.GET("/tally/adjustments", electionHandler.Adjustments)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, logger, jwtService.Resolve, map[string]bool{
		election.TopicContestants: false,
		election.TopicElection:    false,
		election.TopicVotes:       true,
	}))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Background image cleanup, when images are stored at all
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if s3Client != nil {
		go worker.NewImageCleanupProcessor(s3Client, jobQueue, logger).Run(workerCtx)
		logger.Info("image cleanup worker started")
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
