// Package runtime assembles the shared services of an audiosync process: the
// stream group registry, the packet monitor hub and the HTTP API.
package runtime

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	appconfig "github.com/saker-ai/audiosync/internal/config"
	"github.com/saker-ai/audiosync/internal/group"
	apphttp "github.com/saker-ai/audiosync/internal/http"
	"github.com/saker-ai/audiosync/internal/observe"
	"github.com/saker-ai/audiosync/internal/ws"
)

// Server owns the long-lived services. The HTTP listener only exists when
// http.enabled is set.
type Server struct {
	cfg     appconfig.Config
	logger  *zap.Logger
	metrics *observe.Metrics
	groups  *group.Manager
	hub     *ws.Hub
	server  *http.Server
}

// New builds the services for cfg. metrics may be nil.
func New(cfg appconfig.Config, logger *zap.Logger, metrics *observe.Metrics) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		groups:  group.NewManager(),
	}
	if cfg.Monitor.Enabled || cfg.HTTP.Enabled {
		s.hub = ws.NewHub(logger, s.groups, ws.Options{
			Opus:    cfg.Monitor.Enabled,
			Bitrate: cfg.Monitor.Bitrate,
		})
	}
	if cfg.HTTP.Enabled {
		router := apphttp.NewRouter(apphttp.Deps{
			Groups:       s.groups,
			Hub:          s.hub,
			Metrics:      metrics,
			ServeMetrics: cfg.Metrics.Enabled,
		}, logger)
		s.server = &http.Server{
			Addr:    cfg.HTTP.Addr,
			Handler: router,
		}
	}
	logger.Info("audiosync runtime configured",
		zap.String("root_dir", cfg.RootDir),
		zap.Bool("http", cfg.HTTP.Enabled),
		zap.String("http_addr", cfg.HTTP.Addr),
		zap.Bool("monitor", cfg.Monitor.Enabled),
	)
	return s
}

// Groups returns the stream group registry.
func (s *Server) Groups() *group.Manager { return s.groups }

// Hub returns the packet monitor hub, nil when neither the API nor the
// monitor is enabled.
func (s *Server) Hub() *ws.Hub { return s.hub }

// Run serves HTTP until Shutdown. It returns immediately when HTTP is
// disabled.
func (s *Server) Run() error {
	if s == nil || s.server == nil {
		return nil
	}
	return ignoreServerClosed(listen(s.server, s.cfg.HTTP, s.logger))
}

// Addr returns the configured listen address, empty without HTTP.
func (s *Server) Addr() string {
	if s == nil || s.server == nil {
		return ""
	}
	return s.server.Addr
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}
	return ignoreServerClosed(s.server.Shutdown(ctx))
}

func ignoreServerClosed(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
