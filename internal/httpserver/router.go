package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"contractsvc/internal/handler"
	"contractsvc/pkg/circuitbreaker"
	"contractsvc/pkg/config"
	"contractsvc/pkg/otel"
	"contractsvc/pkg/rbac"
)

// Pinger reports whether a dependency is ready to serve.
type Pinger interface {
	Ping(ctx context.Context) error
}

type BrokerConn interface {
	IsConnected() bool
}

type BreakerReporter interface {
	BreakerState() circuitbreaker.State
}

// Readiness lists what /readyz looks at. DB is required; Broker is set when
// admin replay publishes to RabbitMQ. The workspace breaker is reported but
// never fails readiness because room provisioning is best effort.
type Readiness struct {
	DB        Pinger
	Broker    BrokerConn
	Workspace BreakerReporter
}

type Handlers struct {
	Contract  *handler.ContractHandler
	Milestone *handler.MilestoneHandler
	Template  *handler.TemplateHandler
	// Admin is nil when the outbox is not backed by Postgres.
	Admin *handler.AdminHandler
}

type Router struct {
	Engine *gin.Engine
}

func NewRouter(h Handlers, jwtSecret string, rl config.RateLimitConfig, ready Readiness, logger *zap.Logger) *Router {
	r := gin.New()
	r.Use(gin.Recovery(), TraceMiddleware(), MetricsMiddleware(), LoggerMiddleware(logger))

	// Health endpoints (放在最前面)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 1*time.Second)
		defer cancel()

		body := gin.H{"status": "ready"}
		if ready.Workspace != nil {
			body["workspace_breaker"] = ready.Workspace.BreakerState().String()
		}
		if err := ready.DB.Ping(ctx); err != nil {
			body["status"] = "db_not_ready"
			body["error"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
		if ready.Broker != nil && !ready.Broker.IsConnected() {
			body["status"] = "mq_not_ready"
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
		c.JSON(http.StatusOK, body)
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	var limiter *userLimiter
	if rl.Enabled {
		limiter = newUserLimiter(rl.RPS, rl.Burst, 0)
	}

	// Protected
	api := r.Group("/api")
	api.Use(AuthMiddleware(jwtSecret), RateLimitMiddleware(limiter, logger))
	{
		api.POST("/contracts", h.Contract.CreateContract)
		api.GET("/contracts", h.Contract.MyContracts)
		api.GET("/contracts/:id", h.Contract.GetContract)
		api.PUT("/contracts/:id/status", h.Contract.UpdateStatus)

		api.GET("/contracts/:id/milestones", h.Milestone.List)
		api.POST("/contracts/:id/milestones", h.Milestone.Add)
		api.PUT("/milestones/:id/status", h.Milestone.UpdateStatus)
		api.PUT("/milestones/:id/submit", h.Milestone.Submit)
		api.PUT("/milestones/:id/accept", h.Milestone.Accept)
		api.PUT("/milestones/:id/reject", h.Milestone.Reject)
		api.PUT("/milestones/:id/start", h.Milestone.Start)

		api.GET("/jobs/:id/milestones", h.Template.ListJobMilestones)
		api.POST("/jobs/:id/milestones", h.Template.CreateJobMilestone)
		api.GET("/proposals/:id/milestones", h.Template.ListProposalMilestones)
		api.POST("/proposals/:id/milestones", h.Template.CreateProposalMilestone)
	}

	if h.Admin != nil {
		admin := r.Group("/admin")
		admin.Use(AuthMiddleware(jwtSecret), RequirePermission(rbac.PermissionReplayOutbox))
		{
			admin.POST("/outbox/replay", h.Admin.ReplayOutboxEvent)
			admin.POST("/outbox/replay-failed", h.Admin.ReplayFailedEvents)
		}
	}

	return &Router{Engine: r}
}

// Handler wraps the gin engine with the OpenTelemetry HTTP middleware.
func (r *Router) Handler() http.Handler {
	return otel.HTTPMiddleware(r.Engine)
}
