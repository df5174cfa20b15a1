package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"docpipe/internal/config"
	"docpipe/internal/domain"
	"docpipe/internal/handler"
	"docpipe/internal/logger"
	"docpipe/internal/middleware"

	_ "docpipe/docs"
)

// Handlers groups the HTTP handlers mounted by Setup.
type Handlers struct {
	File     *handler.FileHandler
	Artifact *handler.ArtifactHandler
	Project  *handler.ProjectHandler
	Question *handler.QuestionHandler
	Callback *handler.CallbackHandler
	Health   *handler.HealthHandler
}

// Setup configures the Gin engine with all routes and middleware.
func Setup(cfg *config.Config, h Handlers, log *logger.Logger) *gin.Engine {
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	r.Use(middleware.CORS(cfg.CORS.AllowedOrigins))

	// Health checks and operations
	r.GET("/healthz", h.Health.Liveness)
	r.GET("/readyz", h.Health.Readiness)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	v1 := r.Group("/api/v1")

	// Parse service callbacks authenticate with the token in their URL.
	v1.POST("/callbacks/:file_id/hash/:content_hash/preprocess_complete", h.Callback.PreprocessComplete)

	protected := v1.Group("")
	protected.Use(middleware.Auth(cfg.JWT))

	files := protected.Group("/files")
	files.POST("", h.File.Upload)
	files.GET("/status", h.File.BatchStatus)
	files.GET("/:id/status", h.File.Status)
	for _, kind := range domain.ArtifactKinds {
		files.GET("/:id/"+string(kind), h.Artifact.Artifact(kind))
		files.HEAD("/:id/"+string(kind), h.Artifact.Artifact(kind))
	}
	files.POST("/:id/schemas", h.File.AttachSchemas)
	files.DELETE("/:id/schemas/:schema_id", h.File.DetachSchema)
	files.POST("/:id/rerun", h.File.Rerun)
	files.POST("/:id/cancel", h.File.Cancel)
	files.DELETE("/:id", h.File.Delete)

	protected.GET("/file/:id/result/:format", h.Artifact.Result)

	projects := protected.Group("/projects")
	projects.POST("/:id/cancel", h.Project.Cancel)
	projects.DELETE("/:id", h.Project.Delete)

	protected.PUT("/questions/:id/answer", h.Question.EditAnswer)

	return r
}
