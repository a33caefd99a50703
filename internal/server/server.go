package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/keagan/eclipper/internal/config"
	"github.com/keagan/eclipper/internal/engine"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Backend serves the bytes behind the routes
type Backend interface {
	Clip(ctx context.Context, start, end float64) ([]byte, error)
	Frame(pts int64) ([]byte, bool)
}

// Server exposes cached clips and preview frames to a local player over
// HTTP with byte-range support
type Server struct {
	backend Backend
	cfg     config.ServerConfig
	logger  zerolog.Logger
	router  *gin.Engine
	http    *http.Server
}

// New creates a server and registers its routes
func New(backend Backend, cfg config.ServerConfig, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		backend: backend,
		cfg:     cfg,
		logger:  logger.With().Str("component", "server").Logger(),
		router:  gin.New(),
	}
	s.router.Use(gin.Recovery(), s.requestLogger(), allowAnyOrigin())
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/clip", s.getClip)
	s.router.GET("/frame/:pts", s.getFrame)
	s.router.GET("/healthz", s.health)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Handler returns the router for use with an existing http.Server
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves in the background.
// The bound address is returned, which matters for port 0.
func (s *Server) Start() (string, error) {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}

	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("server stopped")
		}
	}()

	addr := "http://" + ln.Addr().String()
	s.logger.Info().Str("address", addr).Msg("listening")
	return addr, nil
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// getClip handles GET /clip?start=&end=
func (s *Server) getClip(c *gin.Context) {
	start, errStart := strconv.ParseFloat(c.Query("start"), 64)
	end, errEnd := strconv.ParseFloat(c.Query("end"), 64)
	if errStart != nil || errEnd != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "start and end must be numbers of seconds",
		})
		return
	}

	data, err := s.backend.Clip(c.Request.Context(), start, end)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, engine.ErrNoVideo) {
			status = http.StatusNotFound
		}
		s.logger.Error().Err(err).Float64("start", start).Float64("end", end).Msg("failed to serve clip")
		c.JSON(status, gin.H{
			"error":   "Failed to produce clip",
			"details": err.Error(),
		})
		return
	}

	// ServeContent answers single ranges with 206 and sets Accept-Ranges
	http.ServeContent(c.Writer, c.Request, "", time.Time{}, bytes.NewReader(data))
}

// getFrame handles GET /frame/:pts. Unknown frames get an empty 200.
func (s *Server) getFrame(c *gin.Context) {
	pts, err := strconv.ParseInt(c.Param("pts"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid pts",
		})
		return
	}

	data, ok := s.backend.Frame(pts)
	if !ok {
		c.Status(http.StatusOK)
		return
	}
	c.Data(http.StatusOK, "image/bmp", data)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	}
}

// allowAnyOrigin lets a webview on another origin load media
func allowAnyOrigin() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Next()
	}
}
