// Package registry owns the in-memory projection of the served domain
// set. Every read and mutation goes through the Registry; the map is
// guarded by a single RWMutex that is never held across store or
// lookup I/O.
package registry

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/semihalev/zlog/v2"

	"github.com/sexfrance/Authorative-DNS-server/config"
	"github.com/sexfrance/Authorative-DNS-server/store"
)

// VerificationStatus of a domain's delegation to our nameservers.
type VerificationStatus uint8

const (
	// StatusVerified admits the record to query answering.
	StatusVerified VerificationStatus = iota
	// StatusPending means no successful probe has confirmed delegation yet.
	StatusPending
	// StatusGrace means a previously verified domain lost delegation and
	// is still served until the grace period ends.
	StatusGrace
	// StatusFailed means the domain is not delegated to us.
	StatusFailed
)

func (s VerificationStatus) String() string {
	switch s {
	case StatusVerified:
		return "verified"
	case StatusPending:
		return "pending"
	case StatusGrace:
		return "grace"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// ErrNotFound is returned when a domain is not in the registry.
var ErrNotFound = errors.New("domain not found")

// DomainRecord is the registry state for one domain.
// GraceEnds is non-nil iff Status is StatusGrace.
type DomainRecord struct {
	Domain       string
	IP           string
	Enabled      bool
	Discord      bool
	Status       VerificationStatus
	GraceEnds    *time.Time
	LastVerified *time.Time
	Nameservers  []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (r *DomainRecord) clone() DomainRecord {
	c := *r
	if r.GraceEnds != nil {
		t := *r.GraceEnds
		c.GraceEnds = &t
	}
	if r.LastVerified != nil {
		t := *r.LastVerified
		c.LastVerified = &t
	}
	c.Nameservers = append([]string(nil), r.Nameservers...)
	return c
}

// Lookuper issues outbound NS lookups against the public DNS.
type Lookuper interface {
	LookupNS(ctx context.Context, domain string) ([]string, error)
}

// Registry is the single owner of the in-memory domain map.
type Registry struct {
	mu      sync.RWMutex
	domains map[string]*DomainRecord

	store  store.Store
	lookup Lookuper

	nameservers   []string
	defaultMailIP string
	discordMailIP string
	gracePeriod   time.Duration

	now func() time.Time
}

// New returns a registry backed by the given store and lookuper.
func New(cfg *config.Config, st store.Store, lk Lookuper) *Registry {
	return &Registry{
		domains:       make(map[string]*DomainRecord),
		store:         st,
		lookup:        lk,
		nameservers:   append([]string(nil), cfg.Nameservers...),
		defaultMailIP: cfg.DefaultMailIP(),
		discordMailIP: cfg.DiscordMailIP(),
		gracePeriod:   cfg.GracePeriod(),
		now:           time.Now,
	}
}

// Canonical lowercases a domain name and strips whitespace and the
// trailing dot. All registry keys and lookups use this form.
func Canonical(domain string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimSpace(domain), "."))
}

// LoadFromStore replaces the in-memory map with fresh records built
// from the store's enabled rows.
func (r *Registry) LoadFromStore(ctx context.Context) error {
	rows, err := r.store.ListEnabled(ctx)
	if err != nil {
		return err
	}

	domains := make(map[string]*DomainRecord, len(rows))

	for _, row := range rows {
		name := Canonical(row.Domain)

		status := StatusPending
		if row.Verified {
			status = StatusVerified
		}

		ip := row.IPAddress
		if row.Discord {
			// stored ip is ignored for the Discord pool
			ip = r.discordMailIP
		}

		rec := &DomainRecord{
			Domain:       name,
			IP:           ip,
			Enabled:      row.Enabled,
			Discord:      row.Discord,
			Status:       status,
			LastVerified: row.LastVerified,
			Nameservers:  append([]string(nil), row.Nameservers...),
			CreatedAt:    row.CreatedAt,
			UpdatedAt:    row.UpdatedAt,
		}

		domains[name] = rec
	}

	r.mu.Lock()
	r.domains = domains
	r.mu.Unlock()

	zlog.Info("Loaded domains from store", "count", len(domains))

	return nil
}

// Get returns a cloned snapshot of the record for a domain.
func (r *Registry) Get(domain string) (DomainRecord, bool) {
	name := Canonical(domain)

	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.domains[name]
	if !ok {
		return DomainRecord{}, false
	}

	return rec.clone(), true
}

// List returns the canonical names of all registered domains.
func (r *Registry) List() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.domains))
	for name := range r.domains {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)

	return names
}

// SnapshotAll returns cloned records for stats and verifier iteration.
func (r *Registry) SnapshotAll() []DomainRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := make([]DomainRecord, 0, len(r.domains))
	for _, rec := range r.domains {
		records = append(records, rec.clone())
	}

	return records
}

// Add creates a Pending record and writes it through to the store.
// When discord is set the IP is forced to the Discord mail pool.
func (r *Registry) Add(ctx context.Context, domain, ip string, discord bool) error {
	name := Canonical(domain)

	if discord {
		ip = r.discordMailIP
	}

	if err := r.store.Upsert(ctx, name, ip, discord); err != nil {
		return err
	}

	now := r.now()
	rec := &DomainRecord{
		Domain:    name,
		IP:        ip,
		Enabled:   true,
		Discord:   discord,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.mu.Lock()
	r.domains[name] = rec
	r.mu.Unlock()

	zlog.Info("Added domain", "domain", name, "ip", ip, "discord", discord)

	return nil
}

// Remove deletes the in-memory entry and soft-disables the store row.
func (r *Registry) Remove(ctx context.Context, domain string) error {
	name := Canonical(domain)

	r.mu.Lock()
	_, ok := r.domains[name]
	if !ok {
		r.mu.Unlock()
		zlog.Warn("Domain not found", "domain", name)
		return ErrNotFound
	}
	delete(r.domains, name)
	r.mu.Unlock()

	if err := r.store.Disable(ctx, name); err != nil {
		return err
	}

	zlog.Info("Removed domain", "domain", name)

	return nil
}

// Stats are the registry counters served by the admin API.
type Stats struct {
	TotalDomains        int  `json:"total_domains"`
	VerifiedDomains     int  `json:"verified_domains"`
	PendingVerification int  `json:"pending_verification"`
	GracePeriod         int  `json:"grace_period"`
	DiscordDomains      int  `json:"discord_domains"`
	SupabaseConnected   bool `json:"supabase_connected"`
}

// Stats computes counters from a snapshot. SupabaseConnected is left
// for the caller, the registry does not know about the remote.
func (r *Registry) Stats() Stats {
	var st Stats

	for _, rec := range r.SnapshotAll() {
		st.TotalDomains++

		if rec.Discord {
			st.DiscordDomains++
		}

		if !rec.Enabled {
			continue
		}

		switch rec.Status {
		case StatusVerified:
			st.VerifiedDomains++
		case StatusPending:
			st.PendingVerification++
		case StatusGrace:
			st.GracePeriod++
		}
	}

	return st
}

// matchesNameservers reports whether at least one observed NS name
// contains one of our configured nameserver names as a substring.
func (r *Registry) matchesNameservers(observed []string) bool {
	for _, ns := range observed {
		ns = strings.ToLower(ns)
		for _, ours := range r.nameservers {
			if strings.Contains(ns, ours) {
				return true
			}
		}
	}
	return false
}
