// Package adminserver is a small graceful-shutdown control plane for the
// automated solver servers (httpchallenge, dnschallenge): a single
// /shutdown endpoint that triggers a caller-supplied cancellation instead
// of just logging that a signal arrived.
package adminserver

import (
	"context"
	"log"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
)

// Server exposes GET /shutdown, which invokes Cancel exactly once.
type Server struct {
	addr   string
	http   *http.Server
	cancel context.CancelFunc
	once   sync.Once
}

// New creates an admin server bound to addr that calls cancel when
// /shutdown is hit.
func New(addr string, cancel context.CancelFunc) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	s := &Server{addr: addr, cancel: cancel}
	engine.GET("/shutdown", s.handleShutdown)
	s.http = &http.Server{Addr: addr, Handler: engine}
	return s
}

func (s *Server) handleShutdown(c *gin.Context) {
	log.Println("adminserver: received shutdown signal")
	s.once.Do(s.cancel)
	c.JSON(http.StatusOK, gin.H{"message": "shutting down"})
}

// Start begins serving in the background.
func (s *Server) Start() {
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("adminserver: server error: %v", err)
		}
	}()
	log.Printf("adminserver: serving on %s", s.addr)
}

// Stop shuts the admin server itself down.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
