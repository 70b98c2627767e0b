package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "backend/api/swagger" // swagger docs
	"backend/internal/config"
	"backend/internal/database"
	"backend/internal/directory"
	"backend/internal/handler"
	"backend/internal/mailer"
	"backend/internal/middleware"
	"backend/internal/repository"
	"backend/internal/service"
	"backend/internal/websocket"
	"backend/pkg/cache"
	"backend/pkg/logger"
)

// @title           Stationery Requisition API
// @version         1.0
// @description     Purchase requisition workflow: catalog, approval, notifications.
// @host            localhost:8080
// @BasePath        /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	if err := godotenv.Load("configs/.env"); err != nil {
		log.Println("No configs/.env file found or error loading it")
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("FATAL: load config: %v", err)
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		log.Fatalf("FATAL: init logger: %v", err)
	}
	defer logger.Sync()

	middleware.InitJWTSecret(cfg.Server.JWTSecret)

	db, err := database.NewConnection(cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to connect to database", zap.Error(err))
		os.Exit(1)
	}

	// Idempotency store: Redis when configured, in-process otherwise.
	var idemStore cache.Store
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(rootCtx).Err(); err != nil {
			logger.Error("failed to connect to redis", zap.Error(err))
			os.Exit(1)
		}
		idemStore = cache.NewRedisStore(client, "")
		logger.Info("idempotency store: redis", zap.String("addr", cfg.Redis.Addr))
	} else {
		mem := cache.NewMemoryStore()
		mem.StartSweeper(rootCtx, cfg.Approval.IdempotencyTTL)
		idemStore = mem
		logger.Info("idempotency store: in-memory")
	}

	// Repositories
	txm := repository.NewTransactionManager(db)
	userRepo := repository.NewUserRepository(db)
	directoryRepo := repository.NewDirectoryRepository(db)
	productRepo := repository.NewProductRepository(db)
	requisitionRepo := repository.NewRequisitionRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	// External collaborators
	var authenticator directory.Authenticator
	if cfg.LDAP.Enabled {
		authenticator = directory.NewLDAPAuthenticator(cfg.LDAP)
	}
	mail := mailer.NewSMTPMailer(cfg.SMTP)

	// Websocket hub for in-app pushes
	hub := websocket.NewHub()
	go hub.Run()

	// Services
	resolver := service.NewApproverResolver(directoryRepo, cfg.Approval.Policy, cfg.Approval.FallbackContact)
	notificationService, err := service.NewNotificationService(
		notificationRepo, userRepo, directoryRepo, mail, hub, cfg.Dispatch.PoolSize)
	if err != nil {
		logger.Error("failed to start notification dispatcher", zap.Error(err))
		os.Exit(1)
	}
	defer notificationService.Close()

	userService := service.NewUserService(userRepo, directoryRepo, authenticator, cfg.LDAP.Enabled)
	productService := service.NewProductService(txm, productRepo, auditRepo)
	requisitionService := service.NewRequisitionService(
		txm, requisitionRepo, userRepo, auditRepo, resolver, notificationService,
		idemStore, cfg.Approval.IdempotencyTTL)

	// Router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(gzip.Gzip(gzip.DefaultCompression))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Idempotency-Key"},
		AllowCredentials: true,
	}))

	api := router.Group("")
	handler.NewUserHandler(userService).RegisterRoutes(api)
	handler.NewProductHandler(productService).RegisterRoutes(api)
	handler.NewRequisitionHandler(requisitionService).RegisterRoutes(api)
	handler.NewNotificationHandler(notificationService, cfg.Dispatch.MaxAttempts).RegisterRoutes(api)
	handler.NewAuditHandler(auditRepo).RegisterRoutes(api)

	router.GET("/ws", func(c *gin.Context) {
		websocket.ServeWs(hub, c, middleware.GetJWTSecret())
	})
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", zap.Error(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}
}
