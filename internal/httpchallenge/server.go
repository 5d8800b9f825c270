// Package httpchallenge is an automated HTTP-01 transport: a gin server
// that serves key authorizations directly at
// /.well-known/acme-challenge/<token>, for operators who can bind the
// validated host themselves instead of publishing files by hand.
package httpchallenge

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/mmaker/acmeclient/internal/acmeclient"
)

// Server publishes key authorizations for HTTP-01 validation.
type Server struct {
	addr   string
	engine *gin.Engine
	http   *http.Server

	mu     sync.Mutex
	tokens map[string]string
}

// New creates a Server bound to addr (e.g. ":80"). It does not start
// listening until Start is called.
func New(addr string) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		addr:   addr,
		engine: gin.New(),
		tokens: make(map[string]string),
	}
	s.engine.GET("/.well-known/acme-challenge/:token", s.handle)
	return s
}

func (s *Server) handle(c *gin.Context) {
	token := c.Param("token")
	s.mu.Lock()
	keyAuth, ok := s.tokens[token]
	s.mu.Unlock()
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}
	c.Data(http.StatusOK, "text/plain", []byte(keyAuth))
}

// Publish makes keyAuth available at /.well-known/acme-challenge/token.
func (s *Server) Publish(token, keyAuth string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = keyAuth
}

// Start begins serving in the background.
func (s *Server) Start() error {
	s.http = &http.Server{Addr: s.addr, Handler: s.engine}
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("httpchallenge: server error: %v", err)
		}
	}()
	log.Printf("httpchallenge: serving on %s", s.addr)
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Solver is an acmeclient.Solver that publishes key authorizations by
// serving them directly rather than logging and waiting for a human.
type Solver struct {
	Server *Server
	Domain string
}

func (s *Solver) Name() string { return "http-01" }

func (s *Solver) Select(challenges []acmeclient.Challenge) (acmeclient.Challenge, bool) {
	for _, ch := range challenges {
		if ch.Type == "http-01" {
			return ch, true
		}
	}
	return acmeclient.Challenge{}, false
}

func (s *Solver) Solve(domain string, ch acmeclient.Challenge, keyAuth string) error {
	s.Server.Publish(ch.Token, keyAuth)
	log.Printf("httpchallenge: serving key authorization for %s at %s", domain,
		fmt.Sprintf("/.well-known/acme-challenge/%s", ch.Token))
	return nil
}
