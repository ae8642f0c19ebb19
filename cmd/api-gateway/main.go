package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/sma-tatib-api/api/swagger"
	"github.com/noah-isme/sma-tatib-api/internal/handler"
	"github.com/noah-isme/sma-tatib-api/internal/middleware"
	"github.com/noah-isme/sma-tatib-api/internal/models"
	"github.com/noah-isme/sma-tatib-api/internal/repository"
	"github.com/noah-isme/sma-tatib-api/internal/service"
	"github.com/noah-isme/sma-tatib-api/pkg/cache"
	"github.com/noah-isme/sma-tatib-api/pkg/config"
	"github.com/noah-isme/sma-tatib-api/pkg/database"
	"github.com/noah-isme/sma-tatib-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-tatib-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-tatib-api/pkg/middleware/requestid"
)

// @title SMA Tatib API
// @version 0.1.0
// @description Student discipline recording and escalation service
// @BasePath /
// @schemes http

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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect database", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, derived-data cache disabled", "error", err)
		redisClient = nil
	}
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	userRepo := repository.NewUserRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	typeRepo := repository.NewViolationTypeRepository(db)
	recordRepo := repository.NewViolationRecordRepository(db)
	caseRepo := repository.NewCaseRepository(db)
	coachingRepo := repository.NewCoachingRuleRepository(db)

	validate := validator.New()
	metricsSvc := service.NewMetricsService()
	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "sma-tatib-api",
		Audience:           []string{"sma-tatib"},
	})
	letterSvc := service.NewLetterService(studentRepo, cfg.Letters, logr)
	matcher := service.NewFrequencyMatcher(logr)
	engineSvc := service.NewEngineService(db, matcher, typeRepo, recordRepo, caseRepo, studentRepo, letterSvc, metricsSvc, logr)
	coachingSvc := service.NewCoachingService(coachingRepo, validate, logr)
	violationSvc := service.NewViolationService(recordRepo, studentRepo, typeRepo, engineSvc, coachingSvc, cacheRepo, cfg.Engine, logr)
	typeSvc := service.NewViolationTypeService(typeRepo, db, logr)
	caseSvc := service.NewCaseService(caseRepo, studentRepo, cacheRepo, db, cfg.Letters, logr)
	studentSvc := service.NewStudentService(studentRepo, logr)

	authHandler := handler.NewAuthHandler(authSvc)
	studentHandler := handler.NewStudentHandler(studentSvc)
	typeHandler := handler.NewViolationTypeHandler(typeSvc)
	violationHandler := handler.NewViolationHandler(violationSvc)
	coachingHandler := handler.NewCoachingRuleHandler(coachingSvc)
	caseHandler := handler.NewCaseHandler(caseSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ready", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "database unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)
	authed := auth.Group("", middleware.JWT(authSvc))
	authed.POST("/logout", authHandler.Logout)
	authed.POST("/change-password", authHandler.ChangePassword)
	authed.GET("/me", authHandler.Me)

	staff := middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin, models.RoleTeacher)
	admin := middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin)

	students := api.Group("/students", middleware.JWT(authSvc), staff)
	students.GET("", studentHandler.List)
	students.GET("/:id", studentHandler.Get)
	students.GET("/:id/discipline-summary", violationHandler.Summary)

	types := api.Group("/violation-types", middleware.JWT(authSvc))
	types.GET("", staff, typeHandler.List)
	types.GET("/:id", staff, typeHandler.Get)
	types.POST("", admin, middleware.Audit(userRepo, models.AuditActionRuleChange, "violation-types"), typeHandler.Create)
	types.PUT("/:id", admin, middleware.Audit(userRepo, models.AuditActionRuleChange, "violation-types"), typeHandler.Update)
	types.PUT("/:id/rules", admin, middleware.Audit(userRepo, models.AuditActionRuleChange, "frequency-rules"), typeHandler.ReplaceRules)
	types.PATCH("/:id/active", admin, middleware.Audit(userRepo, models.AuditActionRuleChange, "violation-types"), typeHandler.SetActive)

	violations := api.Group("/violations", middleware.JWT(authSvc), staff)
	violations.GET("", violationHandler.List)
	violations.GET("/export", violationHandler.ExportRecap)
	violations.POST("", middleware.Audit(userRepo, models.AuditActionViolationRecord, "violations"), violationHandler.Record)
	violations.PATCH("/:id", middleware.Audit(userRepo, models.AuditActionViolationEdit, "violations"), violationHandler.Update)
	violations.DELETE("/:id", middleware.Audit(userRepo, models.AuditActionViolationDelete, "violations"), violationHandler.Delete)

	coachingRules := api.Group("/coaching-rules", middleware.JWT(authSvc))
	coachingRules.GET("", staff, coachingHandler.List)
	coachingRules.GET("/preview", staff, coachingHandler.Preview)
	coachingRules.POST("", admin, middleware.Audit(userRepo, models.AuditActionRuleChange, "coaching-rules"), coachingHandler.Create)
	coachingRules.PUT("/:id", admin, middleware.Audit(userRepo, models.AuditActionRuleChange, "coaching-rules"), coachingHandler.Update)
	coachingRules.DELETE("/:id", admin, middleware.Audit(userRepo, models.AuditActionRuleChange, "coaching-rules"), coachingHandler.Delete)

	cases := api.Group("/cases", middleware.JWT(authSvc), staff)
	cases.GET("", caseHandler.List)
	cases.GET("/:id", caseHandler.Get)
	cases.GET("/:id/letter", caseHandler.Letter)
	cases.PATCH("/:id/status", middleware.Audit(userRepo, models.AuditActionCaseTransition, "cases"), caseHandler.Transition)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
