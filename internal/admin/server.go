// Package admin serves health, session status and metrics over HTTP.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/streamctl/internal/auth"
	"github.com/danmuck/streamctl/internal/control"
	"github.com/danmuck/streamctl/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// StatusSource is anything that can describe the live control stream.
type StatusSource interface {
	Status() control.Status
}

type Config struct {
	Listen      string
	CorsOrigins []string
	// Token, when set, is required as a bearer token on /status and /metrics.
	Token string
}

type Server struct {
	cfg     Config
	router  *gin.Engine
	started time.Time
	source  StatusSource
}

func New(cfg Config, source StatusSource) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		cfg:     cfg,
		router:  gin.New(),
		started: time.Now(),
		source:  source,
	}
	s.router.Use(gin.Recovery())
	s.router.Use(observability.RequestLogger(log.Logger))
	s.router.Use(observability.RequestMetricsMiddleware())
	if origins := normalizeOrigins(cfg.CorsOrigins); len(origins) > 0 {
		s.router.Use(cors.New(cors.Config{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet},
			AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
			MaxAge:       12 * time.Hour,
		}))
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "streamctl",
			"uptime":  time.Since(s.started).Round(time.Second).String(),
		})
	})

	guarded := s.router.Group("/")
	if token := strings.TrimSpace(s.cfg.Token); token != "" {
		guarded.Use(auth.Require(auth.StaticToken{Token: token}))
	}

	guarded.GET("/status", func(c *gin.Context) {
		if s.source == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no control stream"})
			return
		}
		c.JSON(http.StatusOK, s.source.Status())
	})

	guarded.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Run serves on cfg.Listen until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	log.Info().Str("addr", ln.Addr().String()).Msg("admin http listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		if v := strings.TrimSpace(origin); v != "" {
			out = append(out, v)
		}
	}
	return out
}
