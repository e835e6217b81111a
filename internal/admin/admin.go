// Package admin serves the HTTP surface next to the receiver: liveness,
// metrics, transfer history and downloads of received files.
package admin

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/edgeshare/internal/auth"
	"github.com/danmuck/edgeshare/internal/history"
	"github.com/danmuck/edgeshare/internal/observability"
	"github.com/danmuck/edgeshare/internal/protocol/header"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const (
	AppName         = "edgeshare"
	DefaultAddr     = "127.0.0.1:8080"
	shutdownTimeout = 5 * time.Second
)

var ErrInvalidName = errors.New("admin: invalid file name")

// Version is reported by /ping and /health.
var Version = "0.1.0"

type Config struct {
	Addr        string
	DeviceName  string
	CORSOrigins []string
	// Token guards /transfers and /download when set.
	Token       string
	ReceivedDir string
}

// Ping is the /ping body. Peers scanning the network match on App.
type Ping struct {
	App        string `json:"app"`
	DeviceName string `json:"device_name"`
	Version    string `json:"version"`
}

// Lister is the read side of the history store.
type Lister interface {
	List(ctx context.Context, f history.Filter) ([]history.Transfer, error)
}

type Server struct {
	cfg     Config
	store   Lister
	router  *gin.Engine
	started time.Time
}

func New(cfg Config, store Lister) *Server {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = DefaultAddr
	}
	if strings.TrimSpace(cfg.DeviceName) == "" {
		cfg.DeviceName = deviceName()
	}

	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CORSOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{cfg: cfg, store: store, router: r, started: time.Now()}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.cfg.Addr).Msg("admin.Run listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) registerRoutes() {
	s.router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, Ping{
			App:        AppName,
			DeviceName: s.cfg.DeviceName,
			Version:    Version,
		})
	})

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"version": Version,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	guarded := s.router.Group("/", s.requireToken())
	guarded.GET("/transfers", s.listTransfers)
	guarded.GET("/download/:name", s.download)
}

func (s *Server) requireToken() gin.HandlerFunc {
	if s.cfg.Token == "" {
		return func(c *gin.Context) { c.Next() }
	}
	validator := auth.StaticToken{Token: s.cfg.Token}
	return func(c *gin.Context) {
		token, err := auth.BearerToken(c.GetHeader("Authorization"))
		if err == nil {
			err = validator.Validate(token)
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

func (s *Server) listTransfers(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history disabled"})
		return
	}
	var f history.Filter
	if raw := c.Query("direction"); raw != "" {
		dir, err := history.ParseDirection(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		f.Direction = dir
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		f.Limit = n
	}

	list, err := s.store.List(c.Request.Context(), f)
	if err != nil {
		log.Error().Err(err).Msg("admin.listTransfers failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transfers": list})
}

func (s *Server) download(c *gin.Context) {
	name := c.Param("name")
	path, err := s.resolve(name)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}
	c.FileAttachment(path, name)
}

// resolve maps a download name to a file directly inside ReceivedDir.
func (s *Server) resolve(name string) (string, error) {
	if s.cfg.ReceivedDir == "" {
		return "", ErrInvalidName
	}
	// Same rule the receiver applies to announced names.
	if header.ValidName(name) != nil || name != filepath.Base(name) {
		return "", ErrInvalidName
	}
	return filepath.Join(s.cfg.ReceivedDir, name), nil
}

func deviceName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "unknown"
	}
	return host
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
