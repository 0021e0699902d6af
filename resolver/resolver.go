// Package resolver issues outbound NS lookups against the public DNS
// through the system's configured resolvers.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

const resolvconf = "/etc/resolv.conf"

// fallbackServers are used when resolv.conf cannot be read.
var fallbackServers = []string{"8.8.8.8:53", "1.1.1.1:53"}

// Resolver performs recursive lookups through upstream servers.
type Resolver struct {
	servers []string
	client  *dns.Client
}

// New returns a resolver using the resolv.conf servers, falling back
// to public resolvers when the file is unreadable.
func New(timeout time.Duration) *Resolver {
	servers := fallbackServers

	if cc, err := dns.ClientConfigFromFile(resolvconf); err == nil && len(cc.Servers) > 0 {
		servers = make([]string, 0, len(cc.Servers))
		for _, s := range cc.Servers {
			servers = append(servers, net.JoinHostPort(s, cc.Port))
		}
	}

	return &Resolver{
		servers: servers,
		client:  &dns.Client{Net: "udp", Timeout: timeout},
	}
}

// LookupNS returns the NS names currently published for a domain. The
// first responsive upstream wins; a non-success rcode is an error. An
// empty result with a nil error means the delegation is answerable but
// carries no NS records.
func (r *Resolver) LookupNS(ctx context.Context, domain string) ([]string, error) {
	req := new(dns.Msg)
	req.SetQuestion(dns.Fqdn(domain), dns.TypeNS)
	req.RecursionDesired = true

	var lastErr error

	for _, server := range r.servers {
		resp, _, err := r.client.ExchangeContext(ctx, req, server)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.Rcode != dns.RcodeSuccess {
			lastErr = fmt.Errorf("ns lookup for %s failed with %s", domain, dns.RcodeToString[resp.Rcode])
			continue
		}

		var names []string
		for _, rr := range resp.Answer {
			if ns, ok := rr.(*dns.NS); ok {
				names = append(names, strings.ToLower(ns.Ns))
			}
		}

		return names, nil
	}

	if lastErr == nil {
		lastErr = errors.New("no upstream servers configured")
	}

	return nil, lastErr
}
