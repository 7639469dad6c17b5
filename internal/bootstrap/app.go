// Package bootstrap assembles the relay: configuration, logging, the room
// registry and hub, the HTTP surface, and the optional Redis-backed extras
// (rate limiting, background room audits).
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	httpHandler "collaborative-diagram/internal/handler/http"
	wsHandler "collaborative-diagram/internal/handler/websocket"
	"collaborative-diagram/internal/hub"
	"collaborative-diagram/internal/middleware"
	"collaborative-diagram/internal/registry"
	"collaborative-diagram/internal/tasks"
	"collaborative-diagram/internal/worker"
)

// Config is loaded from the environment (with .env support). The relay keeps
// all collaboration state in process memory; Redis is optional and only
// powers rate limiting and the periodic room audit.
type Config struct {
	ServerPort        string
	LogLevel          string
	AppEnv            string
	CORSAllowedOrigin string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RateLimitMax    int
	RateLimitWindow time.Duration
}

// RedisEnabled reports whether the optional Redis-backed components run.
func (c *Config) RedisEnabled() bool { return c.RedisAddr != "" }

// LoadConfig reads configuration from the environment.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load() // .env is optional

	cfg := &Config{
		ServerPort:        os.Getenv("SERVER_PORT"),
		LogLevel:          os.Getenv("LOG_LEVEL"),
		AppEnv:            os.Getenv("APP_ENV"),
		CORSAllowedOrigin: os.Getenv("CORS_ALLOWED_ORIGIN"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RateLimitMax:      100,
		RateLimitWindow:   1 * time.Second,
	}
	cfg.RedisDB, _ = strconv.Atoi(os.Getenv("REDIS_DB"))

	if cfg.ServerPort == "" {
		cfg.ServerPort = "3001"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.AppEnv == "" {
		cfg.AppEnv = "development"
	}
	if cfg.CORSAllowedOrigin == "" {
		cfg.CORSAllowedOrigin = "http://localhost:4200"
	}
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		logrus.Warnf("Invalid LOG_LEVEL '%s', using 'info'", cfg.LogLevel)
		cfg.LogLevel = "info"
	}
	return cfg, nil
}

// App holds every component of the running relay.
type App struct {
	Config   *Config
	Log      *logrus.Logger
	Registry *registry.RoomRegistry
	Hub      *hub.Hub

	HttpServer  *http.Server
	RedisClient *redis.Client
	AsynqClient *asynq.Client
	AsynqServer *worker.WorkerServer

	redisClientOpt asynq.RedisClientOpt
	scheduler      *asynq.Scheduler
}

// NewApp initializes all components without starting them.
func NewApp() (*App, error) {
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, err
	}

	log := logrus.New()
	if cfg.AppEnv == "production" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	logLevel, _ := logrus.ParseLevel(cfg.LogLevel)
	log.SetLevel(logLevel)
	log.SetOutput(os.Stdout)
	log.Info("Configuration loaded")

	reg := registry.NewRoomRegistry()
	hubInstance := hub.NewHub(reg)

	healthHandler := httpHandler.NewHealthHandler(reg)
	socketHandler := wsHandler.NewHandler(hubInstance)

	app := &App{
		Config:   cfg,
		Log:      log,
		Registry: reg,
		Hub:      hubInstance,
	}

	if cfg.RedisEnabled() {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.RedisAddr, err)
		}
		app.RedisClient = redisClient
		app.redisClientOpt = asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}
		app.AsynqClient = asynq.NewClient(app.redisClientOpt)
		app.AsynqServer = worker.NewWorkerServer(app.redisClientOpt, reg, log)
		log.Info("Redis-backed components initialized")
	} else {
		log.Info("REDIS_ADDR not set, rate limiting and room audits disabled")
	}

	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(log))
	router.Use(corsMiddleware(cfg.CORSAllowedOrigin))
	if app.RedisClient != nil {
		router.Use(middleware.RateLimit(app.RedisClient, cfg.RateLimitMax, cfg.RateLimitWindow))
	}

	router.GET("/health", healthHandler.Health)
	router.GET("/ws", socketHandler.HandleConnection)

	app.HttpServer = &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	log.Info("Application assembled")
	return app, nil
}

// Start launches the hub loop, the optional worker and scheduler, and the
// HTTP server.
func (a *App) Start() {
	go a.Hub.Run()
	a.Log.Info("Hub routine started")

	if a.AsynqServer != nil {
		go a.AsynqServer.Start()
		a.registerPeriodicTasks()
	}

	go func() {
		a.Log.Infof("HTTP server listening on %s", a.HttpServer.Addr)
		if err := a.HttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()
}

func (a *App) registerPeriodicTasks() {
	a.scheduler = asynq.NewScheduler(a.redisClientOpt, &asynq.SchedulerOpts{})

	payload, err := tasks.NewRoomAuditTask()
	if err != nil {
		a.Log.Errorf("Failed to create room audit payload: %v", err)
		return
	}
	task := asynq.NewTask(tasks.TypeRoomAudit, payload)

	const schedule = "@every 5m"
	entryID, err := a.scheduler.Register(schedule, task, asynq.Queue("default"))
	if err != nil {
		a.Log.Errorf("Could not register room audit task: %v", err)
		return
	}
	a.Log.Infof("Room audit registered with schedule '%s' (EntryID: %s)", schedule, entryID)

	go func() {
		if err := a.scheduler.Run(); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
			a.Log.Errorf("Scheduler stopped with error: %v", err)
		}
	}()
}

// Shutdown stops everything gracefully. In-memory room state is discarded by
// design; there is nothing to flush.
func (a *App) Shutdown() {
	a.Log.Info("Shutting down application")

	if a.scheduler != nil {
		a.scheduler.Shutdown()
	}
	if a.AsynqServer != nil {
		a.AsynqServer.Shutdown()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.HttpServer.Shutdown(ctx); err != nil {
		a.Log.Errorf("Error shutting down HTTP server: %v", err)
	}

	a.Hub.Stop()

	if a.AsynqClient != nil {
		if err := a.AsynqClient.Close(); err != nil {
			a.Log.Errorf("Error closing asynq client: %v", err)
		}
	}
	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Log.Errorf("Error closing Redis connection: %v", err)
		}
	}
	a.Log.Info("Application shutdown complete")
}

// LoggerMiddleware logs every HTTP request through logrus.
func LoggerMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()
		latency := time.Since(startTime)
		statusCode := c.Writer.Status()
		path := c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			path = path + "?" + c.Request.URL.RawQuery
		}

		entry := log.WithFields(logrus.Fields{
			"status_code": statusCode,
			"latency_ms":  latency.Milliseconds(),
			"client_ip":   c.ClientIP(),
			"method":      c.Request.Method,
			"path":        path,
		})
		switch {
		case statusCode >= 500:
			entry.Error("Server error")
		case statusCode >= 400:
			entry.Warn("Client error")
		default:
			entry.Info("Request handled")
		}
	}
}

func corsMiddleware(allowedOrigin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
