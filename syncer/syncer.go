// Package syncer reconciles the local store with the external
// record-of-truth: a pull at boot, periodic pushes of verification
// state, and a registry reload after every push.
package syncer

import (
	"context"
	"time"

	"github.com/semihalev/zlog/v2"

	"github.com/sexfrance/Authorative-DNS-server/config"
	"github.com/sexfrance/Authorative-DNS-server/registry"
	"github.com/sexfrance/Authorative-DNS-server/remote"
	"github.com/sexfrance/Authorative-DNS-server/store"
)

// RemoteClient is the surface of the record-of-truth the syncer uses.
type RemoteClient interface {
	Configured() bool
	List(ctx context.Context) ([]remote.Domain, error)
	ListPendingNSCheck(ctx context.Context) ([]remote.Domain, error)
	Patch(ctx context.Context, id string, fields map[string]any) error
}

// Syncer drives both directions of the reconciliation.
type Syncer struct {
	store    store.Store
	remote   RemoteClient
	registry *registry.Registry

	defaultMailIP string
	discordMailIP string
	interval      time.Duration

	now func() time.Time
}

// New returns a syncer. The registry may be nil in tests that only
// exercise pull/push.
func New(cfg *config.Config, st store.Store, rc RemoteClient, reg *registry.Registry) *Syncer {
	return &Syncer{
		store:         st,
		remote:        rc,
		registry:      reg,
		defaultMailIP: cfg.DefaultMailIP(),
		discordMailIP: cfg.DiscordMailIP(),
		interval:      cfg.RemoteSyncInterval(),
		now:           time.Now,
	}
}

// Configured reports whether a record-of-truth endpoint is set.
func (s *Syncer) Configured() bool {
	return s.remote.Configured()
}

// Pull imports every active remote row into the store and patches the
// remote pending flag from our verification state. Runs once at boot.
func (s *Syncer) Pull(ctx context.Context) error {
	if !s.remote.Configured() {
		return nil
	}

	rows, err := s.remote.List(ctx)
	if err != nil {
		return err
	}

	for _, row := range rows {
		if !row.Active {
			continue
		}

		ip := s.defaultMailIP
		if row.Discord {
			ip = s.discordMailIP
		}

		if err := s.store.Upsert(ctx, row.Domain, ip, row.Discord); err != nil {
			zlog.Error("Pull upsert failed", "domain", row.Domain, "error", err.Error())
			continue
		}

		local, err := s.store.Get(ctx, row.Domain)
		if err != nil || local == nil {
			continue
		}

		fields := map[string]any{
			"pending_ns_check": !local.Verified,
			"updated_at":       s.now().UTC().Format(time.RFC3339),
		}
		if err := s.remote.Patch(ctx, row.ID, fields); err != nil {
			zlog.Error("Pull patch failed", "domain", row.Domain, "error", err.Error())
		}
	}

	zlog.Info("Synced domains from record-of-truth", "count", len(rows))

	return nil
}

// Push writes local verification state back to the record-of-truth.
// The remote originates rows: local-only domains are logged, never
// created there.
func (s *Syncer) Push(ctx context.Context) error {
	if !s.remote.Configured() {
		return nil
	}

	rows, err := s.remote.List(ctx)
	if err != nil {
		return err
	}

	byDomain := make(map[string]remote.Domain, len(rows))
	for _, row := range rows {
		byDomain[registry.Canonical(row.Domain)] = row
	}

	locals, err := s.store.ListEnabled(ctx)
	if err != nil {
		return err
	}

	for _, local := range locals {
		row, ok := byDomain[registry.Canonical(local.Domain)]
		if !ok {
			zlog.Warn("Domain exists locally but not in record-of-truth", "domain", local.Domain)
			continue
		}

		fields := map[string]any{
			"pending_ns_check": !local.Verified,
			"discord":          local.Discord,
			"updated_at":       s.now().UTC().Format(time.RFC3339),
		}
		if err := s.remote.Patch(ctx, row.ID, fields); err != nil {
			zlog.Error("Push patch failed", "domain", local.Domain, "error", err.Error())
		}
	}

	zlog.Info("Synced local state to record-of-truth")

	return nil
}

// PushAndReload pushes, then reloads the registry so out-of-band
// store changes propagate.
func (s *Syncer) PushAndReload(ctx context.Context) error {
	if err := s.Push(ctx); err != nil {
		return err
	}

	if s.registry != nil {
		return s.registry.LoadFromStore(ctx)
	}

	return nil
}

// DiscoverPending runs single-name discovery for remote rows still
// flagged pending_ns_check that the registry does not know yet.
func (s *Syncer) DiscoverPending(ctx context.Context) error {
	if !s.remote.Configured() || s.registry == nil {
		return nil
	}

	rows, err := s.remote.ListPendingNSCheck(ctx)
	if err != nil {
		return err
	}

	for _, row := range rows {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.registry.Discover(ctx, row.Domain); err != nil {
			zlog.Error("Discovery failed", "domain", row.Domain, "error", err.Error())
		}
	}

	return nil
}

// Run pushes on a fixed interval until the context is done.
func (s *Syncer) Run(ctx context.Context) {
	zlog.Info("Starting record-of-truth sync loop", "interval", s.interval.String())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.PushAndReload(ctx); err != nil {
				zlog.Error("Record-of-truth sync failed", "error", err.Error())
			}
		}
	}
}
