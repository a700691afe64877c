package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	_ "github.com/noah-isme/discipline-portal-api/api/swagger"
	"github.com/noah-isme/discipline-portal-api/internal/handler"
	"github.com/noah-isme/discipline-portal-api/internal/repository"
	"github.com/noah-isme/discipline-portal-api/internal/router"
	"github.com/noah-isme/discipline-portal-api/internal/service"
	"github.com/noah-isme/discipline-portal-api/pkg/cache"
	"github.com/noah-isme/discipline-portal-api/pkg/config"
	"github.com/noah-isme/discipline-portal-api/pkg/database"
	"github.com/noah-isme/discipline-portal-api/pkg/jobs"
	"github.com/noah-isme/discipline-portal-api/pkg/logger"
	"github.com/noah-isme/discipline-portal-api/pkg/mail"
)

const shutdownTimeout = 15 * time.Second

// @title Disciplinary Committee Portal API
// @version 1.0.0
// @description Approval workflow and authority reconciliation for the disciplinary committee portal
// @BasePath /api/v1
// @schemes http https
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

	if err := run(cfg, logr); err != nil {
		logr.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logr *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	if cfg.Database.RunMigrations {
		if err := database.RunMigrations(db.DB, logr); err != nil {
			return err
		}
	}

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, identity cache disabled", zap.Error(err))
		redisClient = nil
	}
	cacheRepo := repository.NewCacheRepository(redisClient, "portal:")
	defer cacheRepo.Close() //nolint:errcheck

	metrics := service.NewMetricsService()
	validate := validator.New()

	credentialRepo := repository.NewCredentialRepository(db)
	profileRepo := repository.NewProfileRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	caseRepo := repository.NewCaseRepository(db)
	punishmentRepo := repository.NewPunishmentRepository(db)
	approvalRepo := repository.NewApprovalRequestRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Cache.IdentityTTL, logr, redisClient != nil)
	identities := service.NewIdentityDirectory(profileRepo, cacheSvc, logr)

	corrections := jobs.NewQueue("role-corrections", jobs.QueueConfig{
		Workers:        cfg.Auth.CorrectionWorkers,
		BufferSize:     cfg.Auth.CorrectionQueueSize,
		DisableRetries: true,
		Logger:         logr,
	})
	mailQueue := jobs.NewQueue("mail", jobs.QueueConfig{
		Workers:    1,
		MaxRetries: 3,
		RetryDelay: 5 * time.Second,
		Logger:     logr,
	})

	reconciler := service.NewAuthorityReconciler(profileRepo, identities, auditRepo, metrics, logr,
		service.WithCorrectionQueue(corrections),
		service.WithCredentialLookup(credentialRepo),
		service.WithOperatorEmails(cfg.Auth.OperatorEmails),
	)
	authSvc := service.NewAuthService(credentialRepo, reconciler, auditRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
	})

	userSvc := service.NewUserService(credentialRepo, profileRepo, auditRepo, identities, validate, logr)
	caseSvc := service.NewCaseService(studentRepo, caseRepo, auditRepo, logr)
	punishmentSvc := service.NewPunishmentService(punishmentRepo, auditRepo, logr)
	notifier := service.NewNotificationService(mail.New(cfg.Mail, logr), mailQueue, cfg.Mail.FollowUpRecipients, logr)

	approvalSvc := service.NewApprovalService(approvalRepo, identities, auditRepo, metrics, logr,
		service.WithApprovalAdapters(service.DefaultApprovalAdapters(userSvc, caseSvc, punishmentSvc, validate)),
		service.WithMaterializationNotifier(notifier),
		service.WithAbandonedAfter(cfg.Approvals.AbandonedAfter),
	)
	exportSvc := service.NewExportService(approvalRepo, identities, logr)

	engine := router.New(router.Dependencies{
		Config:    cfg,
		Logger:    logr,
		Metrics:   metrics,
		Tokens:    authSvc,
		Resolver:  reconciler,
		Auth:      handler.NewAuthHandler(authSvc),
		Approvals: handler.NewApprovalHandler(approvalSvc, exportSvc),
		Direct:    handler.NewDirectHandler(approvalSvc),
		Health: handler.NewMetricsHandler(metrics, map[string]handler.Pinger{
			"postgres": db,
			"redis":    handler.PingFunc(cacheRepo.Ping),
		}),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	corrections.Start(gctx)
	mailQueue.Start(gctx)

	g.Go(func() error {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logr.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		corrections.Stop()
		mailQueue.Stop()
		return err
	})

	return g.Wait()
}
