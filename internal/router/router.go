package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/classworks/assess-backend/internal/config"
	"github.com/classworks/assess-backend/internal/handler"
	"github.com/classworks/assess-backend/internal/middleware"
	"github.com/classworks/assess-backend/internal/response"
	"github.com/classworks/assess-backend/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Session *handler.SessionHandler
	Lab     *handler.LabHandler
	Events  *handler.EventsHandler
	WS      *handler.WSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Apply brotli middleware globally. SSE and WebSocket routes are skipped
	// inside the middleware itself.
	router.Use(middleware.Brotli())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// Rate limiter for save-heavy routes (120 requests per minute per IP):
	// answer saves and lab auto-saves arrive continuously from open tabs.
	saveLimiter := middleware.NewRateLimiter(120, time.Minute)

	// ─── Course API (JWT + Single Device) ──────────────────────────────
	courseAPI := router.Group("/api/v1/courses/:course_id")
	courseAPI.Use(
		middleware.RequireStudentJWT(authService),
		middleware.CheckSingleDeviceLogin(authService),
	)
	{
		// Assessment sessions
		courseAPI.GET("/assessments/:item_id/session", handlers.Session.Detect)
		courseAPI.POST("/assessments/:item_id/session/start", handlers.Session.StartSession)
		courseAPI.POST("/sessions/:session_id/answers", saveLimiter.Middleware(), handlers.Session.SaveAnswer)
		courseAPI.GET("/sessions/:session_id/state", handlers.Session.GetState)
		courseAPI.POST("/sessions/:session_id/submit", handlers.Session.SubmitSession)
		courseAPI.POST("/sessions/:session_id/exit", handlers.Session.ExitSession)
		courseAPI.GET("/sessions/:session_id/events", handlers.Events.SessionEventsSSE)

		// Labs
		courseAPI.PUT("/labs/:lab_id", saveLimiter.Middleware(), handlers.Lab.SaveLab)
		courseAPI.GET("/labs/:lab_id", handlers.Lab.LoadLab)
	}

	// ─── WebSocket Group (Student WS Auth) ─────────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireStudentWSAuth(authService))
	{
		ws.GET("/courses/:course_id/sessions/:session_id/track", handlers.WS.TrackSession)
	}

	return router
}
