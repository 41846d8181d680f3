package statusserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the gin HTTP surface exposing a run's live status, grounded on
// the teacher's cmd/server/main.go router assembly (health check + metrics
// endpoint + a plain http.Server wrapping gin's handler) and graceful
// shutdown pattern.
type Server struct {
	store Store
	log   *slog.Logger
	http  *http.Server
}

// New builds a Server bound to addr (":8090"-style), reading status from
// store.
func New(addr string, store Store, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/status", func(c *gin.Context) {
		status, ok := store.Latest()
		if !ok {
			c.JSON(http.StatusNoContent, gin.H{})
			return
		}
		c.JSON(http.StatusOK, status)
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return &Server{
		store: store,
		log:   log,
		http: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start runs the server in a background goroutine, matching the teacher's
// srv.ListenAndServe goroutine-plus-log pattern.
func (s *Server) Start() {
	go func() {
		s.log.Info("status server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("status server exited", "error", err)
		}
	}()
}

// Shutdown gracefully stops the server, matching the teacher's
// context.WithTimeout + srv.Shutdown shutdown sequence.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
