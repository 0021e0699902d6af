// Package api serves the admin HTTP endpoints: health, stats, domain
// management and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/semihalev/zlog/v2"

	"github.com/sexfrance/Authorative-DNS-server/config"
	"github.com/sexfrance/Authorative-DNS-server/registry"
)

// Pusher propagates registry changes to the record-of-truth.
type Pusher interface {
	Configured() bool
	PushAndReload(ctx context.Context) error
}

// API type
type API struct {
	addr   string
	reg    *registry.Registry
	pusher Pusher
	router *gin.Engine
}

type addRequest struct {
	Domain  string `json:"domain"`
	IP      string `json:"ip"`
	Discord bool   `json:"discord"`
}

// New return new api
func New(cfg *config.Config, reg *registry.Registry, pusher Pusher) *API {
	gin.SetMode(gin.ReleaseMode)

	a := &API{
		addr:   cfg.API,
		reg:    reg,
		pusher: pusher,
		router: gin.New(),
	}

	a.router.Use(gin.Recovery())

	a.router.GET("/health", a.health)
	a.router.GET("/stats", a.stats)
	a.router.GET("/domains", a.listDomains)
	a.router.POST("/domains", a.addDomain)
	a.router.DELETE("/domains/:domain", a.removeDomain)
	a.router.POST("/domains/:domain/verify", a.verifyDomain)
	a.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.router.NoRoute(func(ctx *gin.Context) {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})

	return a
}

// Handler exposes the router for tests.
func (a *API) Handler() http.Handler {
	return a.router
}

func (a *API) health(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (a *API) stats(ctx *gin.Context) {
	st := a.reg.Stats()
	st.SupabaseConnected = a.pusher != nil && a.pusher.Configured()

	ctx.JSON(http.StatusOK, st)
}

func (a *API) listDomains(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, a.reg.List())
}

func (a *API) addDomain(ctx *gin.Context) {
	var req addRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return
	}

	if req.Domain == "" || req.IP == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Missing domain or ip"})
		return
	}

	if err := a.reg.Add(ctx.Request.Context(), req.Domain, req.IP, req.Discord); err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	a.pushAsync()

	ctx.JSON(http.StatusOK, gin.H{"status": "added"})
}

func (a *API) removeDomain(ctx *gin.Context) {
	domain := ctx.Param("domain")

	if err := a.reg.Remove(ctx.Request.Context(), domain); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": "Domain not found"})
			return
		}

		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	a.pushAsync()

	ctx.JSON(http.StatusOK, gin.H{"status": "removed"})
}

func (a *API) verifyDomain(ctx *gin.Context) {
	domain := ctx.Param("domain")

	if _, ok := a.reg.Get(domain); !ok {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "Domain not found"})
		return
	}

	ok := a.reg.VerifyDomain(ctx.Request.Context(), domain)

	ctx.JSON(http.StatusOK, gin.H{"domain": registry.Canonical(domain), "verified": ok})
}

func (a *API) pushAsync() {
	if a.pusher == nil || !a.pusher.Configured() {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := a.pusher.PushAndReload(ctx); err != nil {
			zlog.Error("Push to record-of-truth failed", "error", err.Error())
		}
	}()
}

// Run API server
func (a *API) Run(ctx context.Context) {
	if a.addr == "" {
		return
	}

	srv := &http.Server{
		Addr:    a.addr,
		Handler: a.router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Error("Start API server failed", "error", err.Error())
		}
	}()

	zlog.Info("API server listening...", "addr", a.addr)

	go func() {
		<-ctx.Done()

		zlog.Info("API server stopping...", "addr", a.addr)

		apiCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(apiCtx); err != nil {
			zlog.Error("Shutdown API server failed", "error", err.Error())
		}
	}()
}
