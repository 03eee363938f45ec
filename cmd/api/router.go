package api

import (
	"net/http"
	"time"

	authdelivery "mailrecall-backend/internal/auth/delivery"
	authusecase "mailrecall-backend/internal/auth/usecase"
	emaildelivery "mailrecall-backend/internal/email/delivery"
	"mailrecall-backend/pkg/metrics"
	"mailrecall-backend/pkg/observability"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

func SetupRoutes(r *gin.Engine, tokens authusecase.TokenService, emailHandler *emaildelivery.EmailHandler) {
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		// Health check (no auth required)
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})

		// Search routes (protected)
		search := api.Group("/search")
		search.Use(authdelivery.AuthMiddleware(tokens))
		{
			search.POST("/semantic", emailHandler.SemanticSearch)
			search.GET("/suggestions", emailHandler.GetSearchSuggestions)
		}

		// Index routes (protected)
		index := api.Group("/index")
		index.Use(authdelivery.AuthMiddleware(tokens))
		{
			index.POST("/ingest", emailHandler.IngestEmails)
			index.DELETE("/:emailId", emailHandler.DeleteEmbedding)
		}
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		}

		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requestLogger logs one line per request and opens a server span around it.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}

		ctx, span := observability.StartSpan(c.Request.Context(), c.Request.Method+" "+route,
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", route),
		)
		defer span.End()
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
		}
		switch {
		case status >= http.StatusInternalServerError:
			logger.Error("[HTTP] Request failed", fields...)
		case status >= http.StatusBadRequest:
			logger.Warn("[HTTP] Request rejected", fields...)
		default:
			logger.Info("[HTTP] Request", fields...)
		}
	}
}

// NewEngine builds the gin engine with the shared middleware stack and routes.
func NewEngine(tokens authusecase.TokenService, emailHandler *emaildelivery.EmailHandler, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), corsMiddleware(), metrics.GinMiddleware(), requestLogger(logger))
	SetupRoutes(r, tokens, emailHandler)
	return r
}
