package registry

import (
	"context"
	"strings"

	"github.com/semihalev/zlog/v2"
)

// Discover checks whether an unknown domain already delegates to our
// nameservers and, if so, registers it as Verified. The IP pool is
// chosen by whether the name contains "discord".
func (r *Registry) Discover(ctx context.Context, domain string) error {
	name := Canonical(domain)

	r.mu.RLock()
	_, exists := r.domains[name]
	r.mu.RUnlock()
	if exists {
		return nil
	}

	observed, err := r.lookup.LookupNS(ctx, name)
	if err != nil {
		zlog.Warn("Failed to discover domain", "domain", name, "error", err.Error())
		return nil
	}

	if !r.matchesNameservers(observed) {
		return nil
	}

	discord := strings.Contains(name, "discord")
	ip := r.defaultMailIP
	if discord {
		ip = r.discordMailIP
	}

	if err := r.store.Upsert(ctx, name, ip, discord); err != nil {
		return err
	}

	now := r.now()
	rec := &DomainRecord{
		Domain:       name,
		IP:           ip,
		Enabled:      true,
		Discord:      discord,
		Status:       StatusVerified,
		LastVerified: &now,
		Nameservers:  append([]string(nil), observed...),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	r.mu.Lock()
	r.domains[name] = rec
	r.mu.Unlock()

	zlog.Info("Discovered and added domain", "domain", name, "discord", discord)

	return nil
}

// VerifyDomain runs one NS probe for a domain and commits the state
// transition it implies. The lookup happens with no lock held; the
// commit reacquires the write lock. Returns whether delegation to our
// nameservers was observed.
func (r *Registry) VerifyDomain(ctx context.Context, domain string) bool {
	name := Canonical(domain)

	r.mu.RLock()
	_, exists := r.domains[name]
	r.mu.RUnlock()
	if !exists {
		return false
	}

	observed, err := r.lookup.LookupNS(ctx, name)
	if err != nil {
		zlog.Warn("Failed to verify domain", "domain", name, "error", err.Error())
		observed = nil
	}

	ok := err == nil && r.matchesNameservers(observed)

	res := r.commitVerification(name, observed, ok, err != nil)

	// store writes happen after the lock is released
	switch {
	case res.storeVerify:
		if serr := r.store.UpdateVerification(ctx, name, true, observed); serr != nil {
			zlog.Error("Failed to update store for domain", "domain", name, "error", serr.Error())
		}
	case res.storeDisable:
		if serr := r.store.Disable(ctx, name); serr != nil {
			zlog.Error("Failed to disable domain in store", "domain", name, "error", serr.Error())
		}
	}

	return ok
}

// VerifyAll verifies every registered domain sequentially.
func (r *Registry) VerifyAll(ctx context.Context) {
	for _, name := range r.List() {
		if ctx.Err() != nil {
			return
		}
		r.VerifyDomain(ctx, name)
	}
}

type commitResult struct {
	storeVerify  bool
	storeDisable bool
}

// commitVerification applies one transition of the verification state
// machine under the write lock and reports which store writes the
// caller must issue afterwards.
//
//	          ok=true    ok=false                      lookup error
//	Verified  Verified   Grace (ends = now + grace)    Pending
//	Pending   Verified   Pending                       Failed
//	Grace     Verified   Failed after ends, else Grace Failed
//	Failed    Verified   Failed                        Failed
func (r *Registry) commitVerification(name string, observed []string, ok, lookupErr bool) commitResult {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.domains[name]
	if !exists {
		return commitResult{}
	}

	rec.LastVerified = &now
	rec.Nameservers = append([]string(nil), observed...)
	rec.UpdatedAt = now

	switch {
	case lookupErr:
		if rec.Status == StatusVerified {
			rec.Status = StatusPending
		} else {
			rec.Status = StatusFailed
		}
		rec.GraceEnds = nil

	case ok:
		if rec.Status != StatusVerified {
			zlog.Info("Domain verified with correct nameservers", "domain", name)
		}
		rec.Status = StatusVerified
		rec.GraceEnds = nil
		return commitResult{storeVerify: true}

	default: // delegation not observed
		switch rec.Status {
		case StatusVerified:
			ends := now.Add(r.gracePeriod)
			rec.Status = StatusGrace
			rec.GraceEnds = &ends
			zlog.Warn("Domain lost nameservers, starting grace period", "domain", name, "ends", ends)

		case StatusGrace:
			if rec.GraceEnds != nil && now.After(*rec.GraceEnds) {
				rec.Status = StatusFailed
				rec.GraceEnds = nil
				rec.Enabled = false
				delete(r.domains, name)
				zlog.Warn("Domain grace period expired, disabling", "domain", name)
				return commitResult{storeDisable: true}
			}

		case StatusPending:
			// stays pending until the first successful probe

		case StatusFailed:
			rec.GraceEnds = nil
		}
	}

	return commitResult{}
}
