package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/luminahq/research-server/internal/auth"
	"github.com/luminahq/research-server/internal/chat"
	"github.com/luminahq/research-server/internal/config"
	"github.com/luminahq/research-server/internal/events"
	"github.com/luminahq/research-server/internal/logger"
	"github.com/luminahq/research-server/internal/queue"
	"github.com/luminahq/research-server/internal/research"
	"github.com/luminahq/research-server/internal/storage/pg"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	config.LoadConfig()

	appLogger := logger.New(logger.FromConfig(config.AppConfig.LogLevel, config.AppConfig.LogFormat))

	appLogger.Info("setting gin mode", slog.String("mode", config.AppConfig.GinMode))
	gin.SetMode(config.AppConfig.GinMode)

	// Initialize database.
	db, err := pg.InitDatabase(config.AppConfig.DatabaseURL)
	if err != nil {
		appLogger.Error("failed to initialize database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer db.DB.Close()

	// Connect to NATS. The connection carries both the durable task stream
	// and the agent update fan-out.
	nc, err := nats.Connect(config.AppConfig.NatsURL,
		nats.Name("research-server-"+logger.GetInstanceID()),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second))
	if err != nil {
		appLogger.Error("failed to connect to NATS", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer nc.Close()

	publisher, err := queue.NewPublisher(nc, appLogger)
	if err != nil {
		appLogger.Error("failed to initialize task queue", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Real-time event plumbing: registry holds this instance's sockets, the
	// bridge fans NATS updates into it, the emitter publishes server-side
	// events (completion) onto the same subject.
	registry := events.NewRegistry(appLogger)
	bridge := events.NewBridge(nc, registry, appLogger)
	if err := bridge.Start(); err != nil {
		appLogger.Error("failed to start event bridge", slog.String("error", err.Error()))
		os.Exit(1)
	}
	emitter := events.NewEmitter(nc, appLogger)

	// Services and handlers.
	chatService := chat.NewService(db.Store, publisher, config.AppConfig.Generation, appLogger)
	chatHandler := chat.NewHandler(chatService, appLogger)

	researchService := research.NewService(db.Store, publisher, emitter,
		config.AppConfig.RetryReenqueue, config.AppConfig.Generation, appLogger)
	researchHandler := research.NewHandler(researchService, appLogger)

	wsHandler := events.NewHandler(registry, appLogger)
	authMiddleware := auth.NewMiddleware(config.AppConfig.JWTSecret)

	router := gin.Default()
	router.Use(corsMiddleware(config.AppConfig.CORSAllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		if err := db.DB.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "database": "down"})
			return
		}
		if !nc.IsConnected() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "nats": "down"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/ws", authMiddleware.RequireAuth(), wsHandler.Serve)

	api := router.Group("/api/v1")

	user := api.Group("/")
	user.Use(authMiddleware.RequireAuth())
	{
		chats := user.Group("/chats")
		{
			chats.POST("", chatHandler.CreateChat)
			chats.GET("", chatHandler.ListChats)
			chats.GET("/:chatId", chatHandler.GetChat)
			chats.PATCH("/:chatId", chatHandler.RenameChat)
			chats.DELETE("/:chatId", chatHandler.DeleteChat)
			chats.GET("/:chatId/messages", chatHandler.ListMessages)
			chats.POST("/:chatId/messages", chatHandler.PostMessage)
		}

		researchGroup := user.Group("/research")
		{
			researchGroup.GET("/:requestId", researchHandler.GetRequest)
			researchGroup.POST("/:requestId/retry", researchHandler.Retry)
		}
	}

	worker := api.Group("/worker")
	worker.Use(auth.RequireWorkerSecret(config.AppConfig.WorkerSecret))
	{
		worker.POST("/research/:requestId/result", researchHandler.SubmitResult)
		worker.POST("/chats/:chatId/messages", chatHandler.AppendWorkerMessage)
	}

	port := ":" + config.AppConfig.Port
	srv := &http.Server{
		Addr:    port,
		Handler: router,
	}

	go func() {
		appLogger.Info("server listening", slog.String("addr", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("failed to start server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("shutting down server")

	if err := bridge.Stop(); err != nil {
		appLogger.Warn("failed to stop event bridge", slog.String("error", err.Error()))
	}

	ctx, cancel := context.WithTimeout(context.Background(),
		time.Duration(config.AppConfig.ServerShutdownTimeoutSeconds)*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("server forced to shutdown", slog.String("error", err.Error()))
		os.Exit(1)
	}

	appLogger.Info("server exited")
}

// corsMiddleware applies the configured allowed origins. "*" allows any
// origin; otherwise the request origin must match the comma-separated list.
func corsMiddleware(allowedOrigins string) gin.HandlerFunc {
	allowAll := allowedOrigins == "*" || allowedOrigins == ""
	origins := strings.Split(allowedOrigins, ",")

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		switch {
		case allowAll:
			c.Header("Access-Control-Allow-Origin", "*")
		case origin != "":
			for _, allowed := range origins {
				if strings.TrimSpace(allowed) == origin {
					c.Header("Access-Control-Allow-Origin", origin)
					c.Header("Vary", "Origin")
					break
				}
			}
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, "+auth.WorkerSecretHeader)

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
