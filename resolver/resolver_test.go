package resolver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runTestServer(t *testing.T, handler dns.HandlerFunc) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &dns.Server{PacketConn: pc, Handler: handler}

	go func() { _ = srv.ActivateAndServe() }()

	t.Cleanup(func() { _ = srv.Shutdown() })

	return pc.LocalAddr().String()
}

func Test_LookupNS(t *testing.T) {
	addr := runTestServer(t, func(w dns.ResponseWriter, req *dns.Msg) {
		msg := new(dns.Msg)
		msg.SetReply(req)

		msg.Answer = append(msg.Answer,
			&dns.NS{
				Hdr: dns.RR_Header{Name: req.Question[0].Name, Rrtype: dns.TypeNS, Class: dns.ClassINET, Ttl: 300},
				Ns:  "NS1.Cybertemp.XYZ.",
			},
			&dns.NS{
				Hdr: dns.RR_Header{Name: req.Question[0].Name, Rrtype: dns.TypeNS, Class: dns.ClassINET, Ttl: 300},
				Ns:  "ns2.cybertemp.xyz.",
			},
		)

		_ = w.WriteMsg(msg)
	})

	r := New(time.Second)
	r.servers = []string{addr}

	names, err := r.LookupNS(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"ns1.cybertemp.xyz.", "ns2.cybertemp.xyz."}, names)
}

func Test_LookupNSEmpty(t *testing.T) {
	addr := runTestServer(t, func(w dns.ResponseWriter, req *dns.Msg) {
		msg := new(dns.Msg)
		msg.SetReply(req)
		_ = w.WriteMsg(msg)
	})

	r := New(time.Second)
	r.servers = []string{addr}

	names, err := r.LookupNS(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func Test_LookupNSRcodeError(t *testing.T) {
	addr := runTestServer(t, func(w dns.ResponseWriter, req *dns.Msg) {
		msg := new(dns.Msg)
		msg.SetReply(req)
		msg.Rcode = dns.RcodeNameError
		_ = w.WriteMsg(msg)
	})

	r := New(time.Second)
	r.servers = []string{addr}

	_, err := r.LookupNS(context.Background(), "example.com")
	assert.Error(t, err)
}

func Test_LookupNSNoServers(t *testing.T) {
	r := New(time.Second)
	r.servers = nil

	_, err := r.LookupNS(context.Background(), "example.com")
	assert.Error(t, err)
}
