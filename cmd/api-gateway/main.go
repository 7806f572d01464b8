package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	_ "github.com/edumanage/edumanage-api/api/swagger"
	"github.com/edumanage/edumanage-api/internal/handler"
	"github.com/edumanage/edumanage-api/internal/repository"
	"github.com/edumanage/edumanage-api/internal/router"
	"github.com/edumanage/edumanage-api/internal/service"
	"github.com/edumanage/edumanage-api/pkg/cache"
	"github.com/edumanage/edumanage-api/pkg/config"
	"github.com/edumanage/edumanage-api/pkg/database"
	"github.com/edumanage/edumanage-api/pkg/jobs"
	"github.com/edumanage/edumanage-api/pkg/logger"
	"github.com/edumanage/edumanage-api/pkg/storage"
)

// @title EduManage API
// @version 1.0.0
// @description Course administration backend covering accounts, courses, enrollment, assignments, grading, attendance, messaging and reporting.
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
	sugar := logr.Sugar()

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		sugar.Fatalw("failed to connect to postgres", "error", err)
	}

	// Redis is optional: without it the read caches are disabled and every
	// request falls through to postgres.
	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		sugar.Warnw("redis unavailable, caching disabled", "error", err)
		redisClient = nil
	}

	blobs, err := storage.NewLocalStorage(cfg.Uploads.StorageDir)
	if err != nil {
		sugar.Fatalw("failed to prepare upload storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Uploads.SignedURLSecret, cfg.Uploads.SignedURLTTL)

	userRepo := repository.NewUserRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	configurationRepo := repository.NewConfigurationRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	assignmentRepo := repository.NewAssignmentRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	gradeRepo := repository.NewGradeRepository(db)
	attendanceRepo := repository.NewAttendanceRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	uploadRepo := repository.NewUploadRepository(db)
	dashboardRepo := repository.NewDashboardRepository(db)

	validate := validator.New()
	metricsSvc := service.NewMetricsService()
	cacheSvc := service.NewCacheService(
		repository.NewCacheRepository(redisClient, logr),
		metricsSvc,
		cfg.Cache.PublicConfigTTL,
		logr,
		redisClient != nil,
	)

	configurationSvc := service.NewConfigurationService(configurationRepo, auditRepo, userRepo, cacheSvc, validate, logr, cfg.Cache.PublicConfigTTL)

	notificationSvc := service.NewNotificationService(notificationRepo, configurationSvc, logr, jobs.Options{
		Workers:    cfg.Jobs.Workers,
		BufferSize: cfg.Jobs.QueueSize,
		Logger:     logr,
	})
	notificationSvc.Start(context.Background())

	authSvc := service.NewAuthService(userRepo, auditRepo, configurationSvc, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "edumanage-api",
		Audience:           []string{"edumanage"},
	})
	userSvc := service.NewUserService(userRepo, auditRepo, validate, logr)
	courseSvc := service.NewCourseService(courseRepo, auditRepo, configurationSvc, validate, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, courseRepo, auditRepo, configurationSvc, notificationSvc, logr)
	assignmentSvc := service.NewAssignmentService(assignmentRepo, courseRepo, enrollmentRepo, auditRepo, validate, logr)
	submissionSvc := service.NewSubmissionService(submissionRepo, assignmentRepo, courseRepo, enrollmentRepo, auditRepo, configurationSvc, notificationSvc, validate, logr)
	gradeSvc := service.NewGradeService(gradeRepo, courseRepo, enrollmentRepo, auditRepo, configurationSvc, notificationSvc, validate, logr)
	attendanceSvc := service.NewAttendanceService(attendanceRepo, courseRepo, enrollmentRepo, auditRepo, configurationSvc, validate, logr)
	messageSvc := service.NewMessageService(messageRepo, userRepo, auditRepo, notificationSvc, validate, logr)
	uploadSvc := service.NewUploadService(uploadRepo, blobs, courseRepo, enrollmentRepo, auditRepo, configurationSvc, signer, cfg.APIPrefix, logr)
	dashboardSvc := service.NewDashboardService(dashboardRepo, userRepo, enrollmentRepo, cacheSvc, cfg.Cache.DashboardTTL, logr)
	reportSvc := service.NewReportService(gradeSvc, attendanceSvc, courseSvc, gradeRepo, attendanceRepo, configurationSvc, nil, nil, logr)

	engine := router.Setup(router.Handlers{
		Auth:           handler.NewAuthHandler(authSvc),
		Users:          handler.NewUserHandler(userSvc),
		Configurations: handler.NewConfigurationHandler(configurationSvc, nil),
		Courses:        handler.NewCourseHandler(courseSvc),
		Enrollments:    handler.NewEnrollmentHandler(enrollmentSvc),
		Assignments:    handler.NewAssignmentHandler(assignmentSvc),
		Submissions:    handler.NewSubmissionHandler(submissionSvc),
		Grades:         handler.NewGradeHandler(gradeSvc),
		Attendance:     handler.NewAttendanceHandler(attendanceSvc),
		Messages:       handler.NewMessageHandler(messageSvc),
		Notifications:  handler.NewNotificationHandler(notificationSvc),
		Uploads:        handler.NewUploadHandler(uploadSvc),
		Reports:        handler.NewReportHandler(reportSvc),
		Dashboard:      handler.NewDashboardHandler(dashboardSvc),
		Ops:            handler.NewMetricsHandler(metricsSvc, db, redisClient),
	}, router.Deps{
		Config:    cfg,
		Logger:    logr,
		Auth:      authSvc,
		Metrics:   metricsSvc,
		AuditRepo: auditRepo,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		sugar.Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	sugar.Infow("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		sugar.Errorw("graceful shutdown failed", "error", err)
	}

	notificationSvc.Stop()
	if err := db.Close(); err != nil {
		sugar.Warnw("failed to close database", "error", err)
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			sugar.Warnw("failed to close redis", "error", err)
		}
	}
	sugar.Infow("server stopped")
}
