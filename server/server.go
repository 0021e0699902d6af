// Package server is the authoritative UDP DNS responder. Answers are
// synthesized per query from the registry; nothing is served from zone
// files or caches.
package server

import (
	"net"
	"strconv"

	"github.com/miekg/dns"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/semihalev/zlog/v2"

	"github.com/sexfrance/Authorative-DNS-server/config"
	"github.com/sexfrance/Authorative-DNS-server/registry"
)

// Server type
type Server struct {
	addr string

	cfg *config.Config
	reg *registry.Registry

	acl    *accessList
	limits *limiterStore

	queries *prometheus.CounterVec
}

// New return new server
func New(cfg *config.Config, reg *registry.Registry) *Server {
	s := &Server{
		addr:   net.JoinHostPort(cfg.BindAddress, strconv.Itoa(cfg.Port)),
		cfg:    cfg,
		reg:    reg,
		acl:    newAccessList(cfg.AccessList),
		limits: newLimiterStore(limiterCacheSize, cfg.ClientRateLimit),
		queries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dns_queries_total",
				Help: "How many DNS queries processed",
			},
			[]string{"qtype", "rcode"},
		),
	}

	_ = prometheus.Register(s.queries)

	return s
}

// Run starts the UDP listener.
func (s *Server) Run() {
	go s.ListenAndServeDNS("udp")
}

// ListenAndServeDNS starts a server on the configured address and
// invokes the handler for incoming queries.
func (s *Server) ListenAndServeDNS(network string) {
	zlog.Info("DNS server listening...", "net", network, "addr", s.addr)

	server := &dns.Server{
		Addr:      s.addr,
		Net:       network,
		Handler:   s,
		UDPSize:   dns.MinMsgSize,
		ReusePort: true,
	}

	if err := server.ListenAndServe(); err != nil {
		zlog.Error("DNS listener failed", "net", network, "addr", s.addr, "error", err.Error())
	}
}

// ServeDNS implements the dns.Handler interface. Clients outside the
// access list or over their rate limit are dropped without a reply.
func (s *Server) ServeDNS(w dns.ResponseWriter, req *dns.Msg) {
	client := remoteIP(w.RemoteAddr())

	if !s.acl.allowed(client) {
		zlog.Debug("Dropped query from unlisted client", "client", w.RemoteAddr().String())
		return
	}

	if !s.limits.allow(client) {
		zlog.Debug("Dropped query over client rate limit", "client", w.RemoteAddr().String())
		return
	}

	msg := s.handle(req)

	if len(req.Question) > 0 {
		s.queries.With(prometheus.Labels{
			"qtype": dns.TypeToString[req.Question[0].Qtype],
			"rcode": dns.RcodeToString[msg.Rcode],
		}).Inc()
	}

	if err := w.WriteMsg(msg); err != nil {
		zlog.Error("Error sending DNS response", "error", err.Error())
	}
}

func remoteIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.IP
	case *net.TCPAddr:
		return a.IP
	}

	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return nil
	}

	return net.ParseIP(host)
}
