package router

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/discipline-portal-api/internal/handler"
	"github.com/noah-isme/discipline-portal-api/internal/middleware"
	"github.com/noah-isme/discipline-portal-api/internal/models"
	"github.com/noah-isme/discipline-portal-api/internal/service"
	"github.com/noah-isme/discipline-portal-api/pkg/config"
	"github.com/noah-isme/discipline-portal-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/discipline-portal-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/discipline-portal-api/pkg/middleware/requestid"
)

// Dependencies groups everything the HTTP surface needs.
type Dependencies struct {
	Config   *config.Config
	Logger   *zap.Logger
	Metrics  *service.MetricsService
	Tokens   middleware.TokenValidator
	Resolver middleware.IdentityResolver

	Auth      *handler.AuthHandler
	Approvals *handler.ApprovalHandler
	Direct    *handler.DirectHandler
	Health    *handler.MetricsHandler
}

// New builds the gin engine with every route mounted.
func New(deps Dependencies) *gin.Engine {
	cfg := deps.Config
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(deps.Logger))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	if deps.Metrics != nil {
		r.Use(middleware.Metrics(deps.Metrics))
	}

	r.GET("/health", deps.Health.Health)
	r.GET("/ready", deps.Health.Ready)
	r.GET("/metrics", deps.Health.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/login", deps.Auth.Login)
	auth.POST("/refresh", deps.Auth.Refresh)

	secured := api.Group("")
	secured.Use(middleware.JWT(deps.Tokens), middleware.Identity(deps.Resolver))

	secured.POST("/auth/logout", deps.Auth.Logout)
	secured.GET("/auth/me", deps.Auth.Me)

	superAdmin := middleware.RequireRoles(models.RoleSuperAdmin)

	if cfg.Approvals.Enabled {
		approvals := secured.Group("/approval-requests")
		approvals.POST("", middleware.RequireAtLeast(models.RoleBoardMember), deps.Approvals.Submit)
		approvals.GET("/pending", superAdmin, deps.Approvals.ListPending)
		approvals.GET("/export", superAdmin, deps.Approvals.Export)
		approvals.GET("/:id", deps.Approvals.Get)
		approvals.POST("/:id/decision", superAdmin, deps.Approvals.Decide)
		approvals.POST("/:id/materialize", superAdmin, deps.Approvals.Retry)
	}

	secured.POST("/users", superAdmin, deps.Direct.CreateUser)
	secured.PATCH("/users/:id", superAdmin, deps.Direct.UpdateUser)
	secured.POST("/cases", superAdmin, deps.Direct.CreateCase)
	secured.POST("/punishments", superAdmin, deps.Direct.CreatePunishment)

	return r
}
