package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"gorm.io/gorm"

	"approval-workflow-service/internal/clients"
	"approval-workflow-service/internal/config"
	approvalevents "approval-workflow-service/internal/events"
	"approval-workflow-service/internal/handlers"
	"approval-workflow-service/internal/jobs"
	"approval-workflow-service/internal/locks"
	"approval-workflow-service/internal/middleware"
	"approval-workflow-service/internal/models"
	"approval-workflow-service/internal/repository"
	"approval-workflow-service/internal/seeders"
	"approval-workflow-service/internal/services"
	"approval-workflow-service/internal/tracing"

	"github.com/Tesseract-Nexus/go-shared/events"
	gosharedmw "github.com/Tesseract-Nexus/go-shared/middleware"
	"github.com/Tesseract-Nexus/go-shared/rbac"
)

// @title Approval Workflow API
// @version 1.0.0
// @description Multi-level approval workflow service for monetary requests
// @termsOfService http://swagger.io/terms/

// @contact.name API Support
// @contact.url http://www.example.com/support
// @contact.email support@example.com

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8099
// @BasePath /api/v1

// @securityDefinitions.bearer BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

func main() {
	// Load environment variables
	envErr := godotenv.Load()

	// Initialize configuration and logger
	cfg := config.Load()
	logger := config.NewLogger(cfg)
	if envErr != nil {
		logger.Info("No .env file found, using system environment variables")
	}

	// Install the tracer provider before anything captures a tracer
	shutdownTracing, err := tracing.Init(context.Background(), tracing.Options{
		ServiceName:    "approval-workflow-service",
		ServiceVersion: cfg.ServiceVersion,
		Exporter:       cfg.TracingExporter,
	})
	if err != nil {
		logger.Fatal("Failed to initialize tracing:", err)
	}
	logger.WithField("exporter", cfg.TracingExporter).Info("Tracing initialized")

	// Initialize database
	db, err := config.InitDB(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to database:", err)
	}

	// Run database migrations
	logger.Info("Running database migrations...")
	if err := db.AutoMigrate(
		&models.ApprovalLevelPolicy{},
		&models.ApprovalRequest{},
		&models.ApprovalStep{},
		&models.ApprovalHistoryEntry{},
		&models.ApprovalAuditLog{},
		&models.DirectoryUser{},
		&models.OrgUnit{},
	); err != nil {
		logger.Fatalf("Failed to run migrations: %v", err)
	}
	logger.Info("Database migrations completed")

	// Initialize repositories
	policyRepo := repository.NewPolicyRepository(db)
	requestRepo := repository.NewRequestRepository(db)

	if cfg.SeedGlobalPolicies {
		seedCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := seeders.SeedGlobalPolicies(seedCtx, policyRepo, logger); err != nil {
			logger.WithError(err).Error("Failed to seed global approval policies")
		}
		cancel()
	}

	// Directory source for approver resolution
	var directory services.Directory
	switch cfg.DirectorySource {
	case config.DirectorySourceStaffService:
		directory = clients.NewDirectoryClient(cfg.StaffServiceURL)
		logger.WithField("url", cfg.StaffServiceURL).Info("Resolving approvers through staff-service")
	default:
		directory = repository.NewDirectoryRepository(db)
		logger.Info("Resolving approvers from the local directory tables")
	}

	// Per-request locks
	var locker locks.Locker
	redisClient := config.InitRedis(cfg, logger)
	if redisClient != nil {
		locker = locks.NewRedisLocker(redisClient, cfg.LockTTL, 50, 100*time.Millisecond)
	} else {
		locker = locks.NewLocalLocker()
	}

	// Initialize event publisher (optional - service works without NATS)
	var publisher approvalevents.ApprovalPublisher
	if cfg.NATSURL != "" {
		publisherConfig := events.DefaultPublisherConfig(cfg.NATSURL)
		publisherConfig.Name = "approval-workflow-service"
		natsPublisher, err := events.NewPublisher(publisherConfig, logger)
		if err != nil {
			logger.Warnf("Failed to initialize event publisher: %v. Events will not be published.", err)
		} else {
			logger.Info("Event publisher initialized")
			publisher = natsPublisher
			// Ensure approval stream exists
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := natsPublisher.EnsureStream(ctx, events.StreamApprovals, []string{"approval.>"}); err != nil {
				logger.Warnf("Failed to ensure approval stream: %v", err)
			}
			cancel()
		}
	} else {
		logger.Info("NATS_URL not configured, event publishing disabled")
	}
	notifier := approvalevents.NewNotifier(publisher, logger)

	// RBAC middleware
	rbacMiddleware := rbac.NewMiddlewareWithURL(cfg.StaffServiceURL, nil)
	logger.Info("RBAC middleware initialized")

	// Initialize services
	chainResolver := services.NewPolicyResolver(policyRepo, logger)
	approverResolver := services.NewApproverResolver(directory, logger)
	approvalService := services.NewApprovalService(requestRepo, chainResolver, approverResolver, locker, notifier, logger)
	policyService := services.NewPolicyService(policyRepo, logger)

	// Reminders need a broker to reach approvers
	var reminderJob *jobs.ReminderJob
	if publisher != nil && cfg.ReminderInterval > 0 {
		reminderJob = jobs.NewReminderJob(requestRepo, notifier, cfg.ReminderInterval, cfg.ReminderAfter, logger)
		go reminderJob.Start(context.Background())
	} else {
		logger.Info("Approval reminders disabled")
	}

	// Initialize handlers
	approvalHandler := handlers.NewApprovalHandler(approvalService)
	policyHandler := handlers.NewPolicyHandler(policyService)
	globalPolicyHandler := handlers.NewGlobalPolicyHandler(policyService)

	router := setupRouter(cfg, db, rbacMiddleware, approvalHandler, policyHandler, globalPolicyHandler)

	// Start server
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("Approval workflow service starting on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server:", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	if reminderJob != nil {
		reminderJob.Stop()
	}

	// Let in-flight notifications reach the broker
	notifier.Wait()

	if redisClient != nil {
		_ = redisClient.Close()
	}

	if err := shutdownTracing(ctx); err != nil {
		logger.WithError(err).Warn("Failed to flush traces")
	}

	logger.Info("Server shutdown complete")
}

func setupRouter(
	cfg *config.Config,
	db *gorm.DB,
	rbacMiddleware *rbac.Middleware,
	approvalHandler *handlers.ApprovalHandler,
	policyHandler *handlers.PolicyHandler,
	globalPolicyHandler *handlers.PolicyHandler,
) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.CORSOrigins))

	// Health check endpoints (no auth required)
	router.GET("/health", handlers.HealthCheck)
	router.GET("/ready", handlers.ReadinessCheck(db))

	// Protected API routes
	api := router.Group("/api/v1")

	// Istio validates the JWT and injects x-jwt-claim-* headers
	api.Use(gosharedmw.IstioAuth(gosharedmw.IstioAuthConfig{
		RequireAuth:        true,
		AllowLegacyHeaders: false,
		SkipPaths:          []string{"/health", "/ready", "/metrics", "/swagger"},
	}))
	api.Use(middleware.TenantMiddleware())
	api.Use(middleware.ActorMiddleware())

	read := rbacMiddleware.RequirePermission(rbac.PermissionApprovalsRead)
	manage := rbacMiddleware.RequirePermission(rbac.PermissionApprovalsManage)

	// Approval endpoints
	{
		api.POST("/approvals", rbacMiddleware.RequirePermission(rbac.PermissionApprovalsCreate), approvalHandler.CreateRequest)
		api.GET("/approvals/pending", read, approvalHandler.ListPendingRequests)
		api.GET("/approvals/my-requests", approvalHandler.ListMyRequests) // No special permission needed for own requests
		api.GET("/approvals/:id", read, approvalHandler.GetRequest)
		api.POST("/approvals/:id/submit", approvalHandler.SubmitRequest) // Only requester can submit
		api.POST("/approvals/:id/cancel", approvalHandler.CancelRequest) // Only requester can cancel
		api.POST("/approvals/:id/approve", rbacMiddleware.RequirePermission(rbac.PermissionApprovalsApprove), approvalHandler.ApproveRequest)
		api.POST("/approvals/:id/reject", rbacMiddleware.RequirePermission(rbac.PermissionApprovalsReject), approvalHandler.RejectRequest)
		api.GET("/approvals/:id/can-approve", approvalHandler.CanApprove)
		api.GET("/approvals/:id/history", read, approvalHandler.GetHistory)
		api.GET("/approvals/:id/audit", read, approvalHandler.GetAuditTrail)
		api.GET("/approval-chain/preview", read, approvalHandler.PreviewChain)
	}

	// Admin endpoints for policy management
	admin := api.Group("/admin", manage)
	{
		admin.POST("/approvals/:id/close", approvalHandler.CloseRequest)

		admin.GET("/approval-policies", policyHandler.ListPolicies)
		admin.POST("/approval-policies", policyHandler.CreatePolicy)
		admin.POST("/approval-policies/copy-global", policyHandler.CopyGlobalPolicies)
		admin.POST("/approval-policies/reset", policyHandler.ResetPolicies)
		admin.GET("/approval-policies/:id", policyHandler.GetPolicy)
		admin.PUT("/approval-policies/:id", policyHandler.UpdatePolicy)
		admin.DELETE("/approval-policies/:id", policyHandler.DeletePolicy)

		// Every uncustomized tenant resolves against the global set, so only
		// platform owners may change it
		platformOwner := middleware.PlatformOwnerMiddleware()
		admin.GET("/global-approval-policies", globalPolicyHandler.ListPolicies)
		admin.GET("/global-approval-policies/:id", globalPolicyHandler.GetPolicy)
		admin.POST("/global-approval-policies", platformOwner, globalPolicyHandler.CreatePolicy)
		admin.PUT("/global-approval-policies/:id", platformOwner, globalPolicyHandler.UpdatePolicy)
		admin.DELETE("/global-approval-policies/:id", platformOwner, globalPolicyHandler.DeletePolicy)
	}

	// Swagger documentation
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return router
}
