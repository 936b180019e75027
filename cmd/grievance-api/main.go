package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/manit-portal/grievance-api/api/swagger"
	"github.com/manit-portal/grievance-api/internal/handler"
	"github.com/manit-portal/grievance-api/internal/middleware"
	"github.com/manit-portal/grievance-api/internal/models"
	"github.com/manit-portal/grievance-api/internal/repository"
	"github.com/manit-portal/grievance-api/internal/service"
	"github.com/manit-portal/grievance-api/pkg/cache"
	"github.com/manit-portal/grievance-api/pkg/config"
	"github.com/manit-portal/grievance-api/pkg/database"
	"github.com/manit-portal/grievance-api/pkg/logger"
	"github.com/manit-portal/grievance-api/pkg/mailer"
	corsmiddleware "github.com/manit-portal/grievance-api/pkg/middleware/cors"
	reqidmiddleware "github.com/manit-portal/grievance-api/pkg/middleware/requestid"
)

// @title MANIT Grievance Portal API
// @version 1.0.0
// @description Grievance lifecycle service with time-based escalation
// @BasePath /api
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	grievanceRepo := repository.NewGrievanceRepository(db)
	userRepo := repository.NewUserRepository(db)

	metricsSvc := service.NewMetricsService()

	var cacheRepo service.CacheRepository
	if cfg.Statistics.CacheEnabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, statistics caching disabled", zap.Error(err))
		} else {
			repo := repository.NewCacheRepository(redisClient, logr)
			defer repo.Close() //nolint:errcheck
			cacheRepo = repo
		}
	}
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Statistics.CacheTTL, logr, cacheRepo != nil)

	validate := validator.New()
	sender := mailer.NewSMTPSender(cfg.SMTP, logr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	notificationSvc := service.NewNotificationService(sender, userRepo, logr)
	notificationSvc.Start(ctx)
	defer notificationSvc.Stop()

	authSvc := service.NewAuthService(userRepo, sender, validate, logr, service.AuthConfig{
		TokenSecret: cfg.JWT.Secret,
		TokenExpiry: cfg.JWT.Expiration,
		ClientURL:   cfg.ClientURL,
	})
	grievanceSvc := service.NewGrievanceService(grievanceRepo, userRepo, cacheSvc, metricsSvc, notificationSvc, validate, logr)
	userSvc := service.NewUserService(userRepo, logr)

	if cfg.Escalation.SweepEnabled {
		sweeper := service.NewEscalationSweeper(grievanceRepo, notificationSvc, metricsSvc, cfg.Escalation.SweepInterval, cfg.Escalation.SweepBatch, logr)
		go sweeper.Run(ctx)
	}

	authHandler := handler.NewAuthHandler(authSvc)
	grievanceHandler := handler.NewGrievanceHandler(grievanceSvc)
	userHandler := handler.NewUserHandler(userSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", authHandler.Login)
		auth.GET("/verify-email/:token", authHandler.VerifyEmail)
		auth.POST("/resend-verification", authHandler.ResendVerification)
		auth.POST("/forgot-password", authHandler.ForgotPassword)
		auth.POST("/reset-password", authHandler.ResetPassword)
	}

	grievances := api.Group("/grievances", middleware.JWT(authSvc))
	{
		// Fixed paths are registered before the :id parameter routes.
		grievances.GET("/statistics", grievanceHandler.Statistics)
		grievances.GET("/export", grievanceHandler.Export)

		grievances.POST("",
			middleware.RequireRoles(models.RoleStudent),
			middleware.Audit(userRepo, models.AuditActionGrievanceSubmit, "grievances"),
			grievanceHandler.Submit)
		grievances.GET("", grievanceHandler.List)
		grievances.GET("/:id", grievanceHandler.Get)
		grievances.PATCH("/:id/status",
			middleware.RequireStaff(),
			middleware.Audit(userRepo, models.AuditActionGrievanceUpdate, "grievances"),
			grievanceHandler.UpdateStatus)
		grievances.POST("/:id/escalate",
			middleware.RequireRoles(models.RoleDepartmentAdmin, models.RoleHOD),
			middleware.Audit(userRepo, models.AuditActionGrievanceEscalate, "grievances"),
			grievanceHandler.Escalate)
		grievances.POST("/:id/comments",
			middleware.Audit(userRepo, models.AuditActionGrievanceComment, "grievances"),
			grievanceHandler.AddComment)
	}

	users := api.Group("/users", middleware.JWT(authSvc))
	{
		users.GET("/me", userHandler.Me)
		users.GET("/staff",
			middleware.RequireRoles(models.RoleDirector, models.RoleDean),
			userHandler.ListStaff)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}
