// Package redirect answers HTTP requests for hosted domains with a
// permanent redirect to the configured target.
package redirect

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/semihalev/zlog/v2"

	"github.com/sexfrance/Authorative-DNS-server/config"
	"github.com/sexfrance/Authorative-DNS-server/registry"
)

// Server type
type Server struct {
	addr   string
	target string
	reg    *registry.Registry
}

// New return new redirect server
func New(cfg *config.Config, reg *registry.Registry) *Server {
	return &Server{
		addr:   net.JoinHostPort(cfg.BindAddress, strconv.Itoa(cfg.HTTPRedirectPort)),
		target: cfg.RedirectTarget,
		reg:    reg,
	}
}

// ServeHTTP redirects requests for any known host, whatever its
// verification state, and answers 404 for everything else.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	host := strings.ToLower(r.Host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	if _, ok := s.reg.Get(host); ok {
		w.Header().Set("Location", s.target)
		w.WriteHeader(http.StatusMovedPermanently)
		return
	}

	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte("Not found"))
}

// Run starts the redirect server and stops it when the context is done.
func (s *Server) Run(ctx context.Context) {
	srv := &http.Server{
		Addr:    s.addr,
		Handler: s,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Error("Start redirect server failed", "error", err.Error())
		}
	}()

	zlog.Info("HTTP redirect server listening...", "addr", s.addr, "target", s.target)

	go func() {
		<-ctx.Done()

		zlog.Info("Redirect server stopping...", "addr", s.addr)

		srvCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(srvCtx); err != nil {
			zlog.Error("Shutdown redirect server failed", "error", err.Error())
		}
	}()
}
