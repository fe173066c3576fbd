package http

import (
	"errors"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/saker-ai/audiosync/internal/group"
	"github.com/saker-ai/audiosync/internal/observe"
	"github.com/saker-ai/audiosync/internal/ws"
	"github.com/saker-ai/audiosync/webassets"
)

// Deps are the components the router exposes.
type Deps struct {
	Groups  *group.Manager
	Hub     *ws.Hub
	Metrics *observe.Metrics
	// ServeMetrics mounts the Prometheus handler on /metrics.
	ServeMetrics bool
}

// NewRouter builds the monitoring API.
func NewRouter(deps Deps, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	router := gin.New()
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger, deps.Metrics))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.GET("/streams", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"groups": snapshot(deps.Groups)})
	})
	api.GET("/streams/:id", func(c *gin.Context) {
		if deps.Groups == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "stream not found"})
			return
		}
		s, ok := deps.Groups.Stream(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "stream not found"})
			return
		}
		c.JSON(http.StatusOK, s.Stats())
	})
	api.POST("/groups/:id/drop", func(c *gin.Context) {
		if deps.Groups == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": group.ErrGroupNotFound.Error()})
			return
		}
		drop, err := strconv.ParseBool(c.DefaultQuery("drop", "true"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "drop must be a boolean"})
			return
		}
		if err := deps.Groups.SetDrop(c.Param("id"), drop); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, group.ErrGroupNotFound) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		logger.Info("stream group drop flag changed", zap.String("group", c.Param("id")), zap.Bool("drop", drop))
		c.JSON(http.StatusOK, gin.H{"group": c.Param("id"), "drop": drop})
	})

	if deps.ServeMetrics {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	if deps.Hub != nil {
		router.GET("/ws/packets", func(c *gin.Context) {
			deps.Hub.Handle(c.Writer, c.Request)
		})
	}

	mountEmbeddedMonitor(router, logger)
	return router
}

func snapshot(groups *group.Manager) []group.Snapshot {
	if groups == nil {
		return []group.Snapshot{}
	}
	return groups.Snapshot()
}

func mountEmbeddedMonitor(router *gin.Engine, logger *zap.Logger) {
	root, err := webassets.Subdir("monitor")
	if err != nil {
		logger.Warn("embedded monitor page unavailable", zap.Error(err))
		return
	}
	indexHTML, err := fs.ReadFile(root, "index.html")
	if err != nil {
		logger.Warn("missing embedded monitor index.html", zap.Error(err))
		return
	}
	router.GET("/", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
	})
}

func requestLogger(logger *zap.Logger, metrics *observe.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		if metrics != nil {
			metrics.HTTPRequestDuration.Record(c.Request.Context(), latency.Seconds(),
				metric.WithAttributes(
					attribute.String("method", c.Request.Method),
					attribute.String("path", path),
				))
		}
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("query", c.Request.URL.RawQuery),
			zap.String("client_ip", c.ClientIP()),
			zap.Int("status", c.Writer.Status()),
			zap.Int("bytes", c.Writer.Size()),
			zap.Duration("latency", latency),
			zap.String("user_agent", c.Request.UserAgent()),
		)
	}
}
