package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dialoque/server/internal/api"
	"dialoque/server/internal/config"
	"dialoque/server/internal/conversation"
	"dialoque/server/internal/export"
	"dialoque/server/internal/llm"
	"dialoque/server/internal/logger"
	"dialoque/server/internal/repository/mongo"
	"dialoque/server/internal/service"
	"dialoque/server/internal/session"
	"dialoque/server/internal/storage"
	"dialoque/server/internal/summarize"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func main() {
	// --- Configuration ---
	cfg, err := config.LoadConfig(".")
	if err != nil {
		panic("could not load config: " + err.Error())
	}
	if err := cfg.Validate(); err != nil {
		panic("invalid config: " + err.Error())
	}

	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		panic("could not create logger: " + err.Error())
	}
	defer log.Sync()
	log.Info("Starting DiaLoque server", "address", cfg.Server.Address, "apiStyle", cfg.OpenAI.APIStyle)

	// --- Database Connection ---
	dbClient, err := mongo.ConnectDB(cfg.Database.URI)
	if err != nil {
		log.Fatal("Could not connect to MongoDB", "error", err.Error())
	}
	defer func() {
		if err := mongo.DisconnectDB(dbClient); err != nil {
			log.Error("Failed to disconnect MongoDB", "error", err.Error())
		}
	}()
	appDB := dbClient.Database(cfg.Database.Name)

	// --- Ensure Indexes ---
	// Unique indexes back the duplicate checks, so this runs before serving.
	indexCtx, cancelIndex := context.WithTimeout(context.Background(), time.Minute)
	if err := mongo.EnsureIndexes(indexCtx, appDB); err != nil {
		log.Fatal("Could not create indexes", "error", err.Error())
	}
	cancelIndex()

	// --- Initialize Storage ---
	storageCtx, cancelStorage := context.WithTimeout(context.Background(), 30*time.Second)
	fileStorage, err := storage.NewS3Storage(storageCtx, cfg.S3, log)
	cancelStorage()
	if err != nil {
		log.Fatal("Failed to initialize S3 storage", "error", err.Error())
	}

	// --- Session State ---
	var sessions session.Store
	if cfg.Redis.Addr == "" {
		log.Warn("redis.addr is empty; wizard state is kept in process memory")
		sessions = session.NewMemoryStore()
	} else {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancelPing()
		if err != nil {
			log.Fatal("Could not connect to Redis", "addr", cfg.Redis.Addr, "error", err.Error())
		}
		defer rdb.Close()
		sessions = session.NewRedisStore(rdb, cfg.JWT.Expiration)
	}

	// --- Generation Backend ---
	provider, err := llm.NewProvider(llm.Config{
		APIKey:   cfg.OpenAI.APIKey,
		BaseURL:  cfg.OpenAI.BaseURL,
		APIStyle: cfg.OpenAI.APIStyle,
	}, log)
	if err != nil {
		log.Fatal("Invalid OpenAI configuration", "error", err.Error())
	}
	if cfg.OpenAI.APIKey == "" {
		log.Warn("OPENAI_API_KEY is not set; summaries and chat will fail until it is configured")
	}
	summarizer := summarize.NewClient(provider, log)
	chat := conversation.NewClient(provider, log)
	exporter := export.NewExporter(cfg.Export.Compress)

	// --- Initialize Repositories ---
	userRepo := mongo.NewMongoUserRepository(appDB)
	assignmentRepo := mongo.NewMongoAssignmentRepository(appDB)
	submissionRepo := mongo.NewMongoSubmissionRepository(appDB)
	messageRepo := mongo.NewMongoMessageRepository(appDB)
	tx := mongo.NewTransactor(dbClient, cfg.Database.UseTransactions)

	// --- Initialize Services ---
	authService := service.NewAuthService(userRepo, sessions, cfg.JWT.Secret, cfg.JWT.Expiration, log)
	adminService := service.NewAdminService(userRepo, authService, log)
	lecturerService := service.NewLecturerService(assignmentRepo, submissionRepo, messageRepo, tx, fileStorage, summarizer, log)
	studentService := service.NewStudentService(assignmentRepo, submissionRepo, messageRepo, tx, fileStorage, summarizer, chat, exporter, log)

	seedCtx, cancelSeed := context.WithTimeout(context.Background(), 10*time.Second)
	if err := authService.EnsureAdmin(seedCtx, cfg.Admin.Username, cfg.Admin.Email, cfg.Admin.Password); err != nil {
		log.Error("Failed to seed admin account", "error", err.Error())
	}
	cancelSeed()

	// --- Initialize Gin Engine ---
	if logger.IsProduction(cfg.Log.Mode) {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.MaxMultipartMemory = cfg.Server.MaxUploadBytes
	router.Use(gin.Recovery(), api.RequestLogger(log), api.CORS(cfg.Server.CORSOrigins))

	api.SetupRoutes(router, api.RouteOptions{
		JWTSecret:      cfg.JWT.Secret,
		TokenTTL:       cfg.JWT.Expiration,
		CookieSecure:   cfg.Server.CookieSecure,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	}, authService, adminService, lecturerService, studentService, sessions, log)

	// --- Start HTTP Server ---
	// Generation calls have no deadline of their own, so writes get a wide
	// timeout.
	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful Shutdown ---
	go func() {
		log.Info("Server listening", "address", cfg.Server.Address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("ListenAndServe error", "error", err.Error())
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("Server forced to shutdown", "error", err.Error())
	}
	log.Info("Server exiting.")
}
