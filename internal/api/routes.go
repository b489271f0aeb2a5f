package api

import (
	"net/http"
	"time"

	"dialoque/server/internal/domain"
	"dialoque/server/internal/llm"
	"dialoque/server/internal/logger"
	"dialoque/server/internal/service"
	"dialoque/server/internal/session"

	"github.com/gin-gonic/gin"
)

// RouteOptions carries the HTTP settings the handlers need.
type RouteOptions struct {
	JWTSecret      string
	TokenTTL       time.Duration
	CookieSecure   bool
	MaxUploadBytes int64
}

func SetupRoutes(
	router *gin.Engine,
	opts RouteOptions,
	authService service.AuthService,
	adminService service.AdminService,
	lecturerService service.LecturerService,
	studentService service.StudentService,
	sessions session.Store,
	log *logger.Logger,
) {
	authHandler := NewAuthHandler(authService, opts.CookieSecure, opts.TokenTTL)
	adminHandler := NewAdminHandler(adminService)
	lecturerHandler := NewLecturerHandler(lecturerService, opts.MaxUploadBytes)
	studentHandler := NewStudentHandler(studentService, sessions, opts.MaxUploadBytes, log)

	authMiddleware := AuthMiddleware(opts.JWTSecret)

	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	apiV1 := router.Group("/api/v1")
	{
		authGroup := apiV1.Group("/auth")
		{
			authGroup.POST("/register", authHandler.Register)
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/logout", authMiddleware, authHandler.Logout)
		}
	}

	protected := apiV1.Group("")
	protected.Use(authMiddleware)
	{
		protected.GET("/me", authHandler.Me)
		protected.GET("/models", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"models":         llm.Models,
				"defaultSummary": llm.DefaultSummaryModel,
				"defaultChat":    llm.DefaultChatModel,
			})
		})

		// --- Lecturer Routes ---
		lecturerGroup := protected.Group("/lecturer")
		lecturerGroup.Use(RoleMiddleware(domain.RoleLecturer, domain.RoleAdmin))
		{
			lecturerGroup.GET("/assignments", lecturerHandler.ListAssignments)
			lecturerGroup.POST("/assignments", lecturerHandler.CreateAssignment)
			lecturerGroup.GET("/assignments/:id", lecturerHandler.GetAssignment)
			lecturerGroup.PUT("/assignments/:id", lecturerHandler.UpdateAssignment)
			lecturerGroup.DELETE("/assignments/:id", lecturerHandler.DeleteAssignment)
			lecturerGroup.POST("/assignments/:id/summary", lecturerHandler.SummarizeBrief)
			lecturerGroup.GET("/assignments/:id/submissions", lecturerHandler.ListSubmissions)
			lecturerGroup.GET("/assignments/:id/documents/:slot", lecturerHandler.DownloadDocument)
			lecturerGroup.POST("/assignments/:id/prompts", lecturerHandler.AddPrompt)
			lecturerGroup.PUT("/assignments/:id/prompts/:promptId", lecturerHandler.UpdatePrompt)
			lecturerGroup.DELETE("/assignments/:id/prompts/:promptId", lecturerHandler.DeletePrompt)
		}

		// --- Student Routes ---
		// Any signed-in user may walk the wizard; staff use it to preview.
		studentGroup := protected.Group("/student")
		{
			studentGroup.GET("/assignments", studentHandler.ListAssignments)
			studentGroup.GET("/dashboard", studentHandler.Dashboard)
			studentGroup.POST("/select", studentHandler.Select)
			studentGroup.POST("/submissions", studentHandler.Upload)
			studentGroup.GET("/submissions/:id/file", studentHandler.DownloadSubmission)
			studentGroup.POST("/submissions/:id/messages", studentHandler.SendMessage)
			studentGroup.POST("/submissions/:id/restart", studentHandler.Restart)
			studentGroup.GET("/submissions/:id/export", studentHandler.Export)
		}

		// --- Admin Routes ---
		adminGroup := protected.Group("/admin")
		adminGroup.Use(RoleMiddleware(domain.RoleAdmin))
		{
			adminGroup.GET("/users", adminHandler.ListUsers)
			adminGroup.POST("/users", adminHandler.CreateUser)
			adminGroup.PUT("/users/:id", adminHandler.UpdateUser)
			adminGroup.DELETE("/users/:id", adminHandler.DeleteUser)
			adminGroup.PUT("/users/:id/role", adminHandler.SetRole)
			adminGroup.PUT("/users/:id/active", adminHandler.SetActive)
		}
	}
}
