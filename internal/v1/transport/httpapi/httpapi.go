// Package httpapi is the stateless REST adapter plus the WebSocket upgrade
// sharing its listener. Every authenticated REST request extracts a bearer token,
// maps body + path onto an engine command, and serializes the result; the
// WebSocket side reuses the framed adapter's command table via
// internal/v1/transport/command, with TLS (not the AEAD envelope) as the
// confidentiality layer.
package httpapi

import (
	"strconv"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/lairchat/server/internal/v1/engine"
	"github.com/lairchat/server/internal/v1/health"
	"github.com/lairchat/server/internal/v1/metrics"
	"github.com/lairchat/server/internal/v1/middleware"
	"github.com/lairchat/server/internal/v1/ratelimit"
	"github.com/lairchat/server/internal/v1/transport/command"
)

// Deps bundles everything the HTTP adapter serves.
type Deps struct {
	Engine         *engine.Engine
	Commands       *command.Router // shared command table for /ws
	Limiter        *ratelimit.RateLimiter
	Health         *health.Handler
	AllowedOrigins []string
}

// NewRouter builds the Gin engine with the full REST + WebSocket surface.
func NewRouter(deps Deps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(otelgin.Middleware("lairchat-http"))
	router.Use(countRequests())

	corsConfig := cors.DefaultConfig()
	if len(deps.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = deps.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization")
	router.Use(cors.New(corsConfig))

	h := &handlers{engine: deps.Engine}
	authn := requireAuth(deps.Engine)

	// Probes and metrics live at the root as well as under the API prefix:
	// orchestrators poll the short paths, API clients the long ones.
	for _, g := range []*gin.RouterGroup{&router.RouterGroup, router.Group("/api/v1")} {
		g.GET("/health", deps.Health.Liveness)
		g.GET("/ready", deps.Health.Readiness)
		g.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	ws := &wsHandler{commands: deps.Commands, limiter: deps.Limiter, allowedOrigins: deps.AllowedOrigins}
	router.GET("/ws", ws.serve)

	api := router.Group("/api/v1")

	authGroup := api.Group("/auth", deps.Limiter.Middleware(ratelimit.BucketAuth))
	{
		authGroup.POST("/register", h.register)
		authGroup.POST("/login", h.login)
		authGroup.POST("/refresh", authn, h.refresh)
		authGroup.POST("/logout", authn, h.logout)
		authGroup.POST("/change-password", authn, h.changePassword)
	}

	general := api.Group("", authn, deps.Limiter.Middleware(ratelimit.BucketGeneral))
	{
		general.GET("/users/me", h.getMe)
		general.PATCH("/users/me", h.updateProfile)
		general.GET("/users", h.listUsers)
		general.GET("/users/:id", h.getUser)

		general.POST("/rooms", h.createRoom)
		general.GET("/rooms", h.listRooms)
		general.GET("/rooms/:id", h.getRoom)
		general.PATCH("/rooms/:id", h.updateRoom)
		general.DELETE("/rooms/:id", h.deleteRoom)
		general.POST("/rooms/:id/join", h.joinRoom)
		general.POST("/rooms/:id/leave", h.leaveRoom)
		general.POST("/rooms/:id/transfer", h.transferOwnership)
		general.GET("/rooms/:id/members", h.listMembers)

		general.GET("/messages", h.listMessages)
		general.PATCH("/messages/:id", h.editMessage)
		general.DELETE("/messages/:id", h.deleteMessage)

		general.POST("/invitations", h.createInvitation)
		general.GET("/invitations", h.listInvitations)
		general.POST("/invitations/:id/accept", h.acceptInvitation)
		general.POST("/invitations/:id/decline", h.declineInvitation)

		general.GET("/admin/stats", h.adminStats)
		general.POST("/admin/broadcast", h.adminBroadcast)
	}

	messaging := api.Group("", authn, deps.Limiter.Middleware(ratelimit.BucketMessaging))
	{
		messaging.POST("/messages", h.sendMessage)
	}

	return router
}

// countRequests feeds the lairchat_http_requests_total counter, labeled by
// route template and status class.
func countRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status()/100) + "xx"
		metrics.HTTPRequests.WithLabelValues(route, status).Inc()
	}
}
