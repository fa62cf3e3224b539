package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-portal/internal/config"
	"github.com/stemsi/exstem-portal/internal/handler"
	"github.com/stemsi/exstem-portal/internal/middleware"
	"github.com/stemsi/exstem-portal/internal/response"
	"github.com/stemsi/exstem-portal/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth        *handler.AuthHandler
	Exam        *handler.ExamHandler
	ExamSession *handler.ExamSessionHandler
	WS          *handler.WSHandler
	System      *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	examSessions *service.ExamSessionService,
	handlers *Handlers,
	cfg *config.Config,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())
	router.Use(response.AccessLog(log))
	router.Use(middleware.Brotli())

	router.GET("/health", handlers.System.Health)

	// ─── 1. Auth Group ─────────────────────────────────────────────────
	loginLimiter := middleware.NewRateLimiter(10, time.Minute)
	auth := router.Group("/api/v1/auth")
	auth.Use(middleware.NoStore())
	{
		auth.POST("/login", loginLimiter.Middleware(), handlers.Auth.Login)
		auth.POST("/logout", handlers.Auth.Logout)
		auth.GET("/me", middleware.RequireAuthenticated(authService), handlers.Auth.Me)
	}

	// ─── 2. Catalog Group ──────────────────────────────────────────────
	exams := router.Group("/api/v1/exams")
	exams.Use(middleware.NoStore(), middleware.RequireAuthenticated(authService))
	{
		exams.GET("", handlers.Exam.ListExams)
		exams.POST("/:exam_id/start", handlers.Exam.StartExam)
	}

	// ─── 3. Exam Session Group ─────────────────────────────────────────
	exam := router.Group("/api/v1/exam")
	exam.Use(middleware.NoStore(), middleware.RequireAuthenticated(authService))
	{
		exam.GET("/state", handlers.ExamSession.GetState)

		actions := exam.Group("")
		actions.Use(middleware.RequireExamController(examSessions))
		actions.POST("/answers", handlers.ExamSession.SelectAnswer)
		actions.POST("/submit", handlers.ExamSession.Submit)
		actions.POST("/retry", handlers.ExamSession.Retry)
	}

	// ─── 4. WebSocket Group ────────────────────────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireAuthenticated(authService))
	{
		ws.GET("/exam/stream", handlers.WS.ExamStream)
	}

	return router
}
