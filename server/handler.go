package server

import (
	"net"
	"strings"

	"github.com/miekg/dns"
	"github.com/semihalev/zlog/v2"

	"github.com/sexfrance/Authorative-DNS-server/registry"
)

const (
	spfRecord   = "v=spf1 a mx include:_spf.google.com -all"
	dmarcRecord = "v=DMARC1; p=none;"
)

// handle builds the response for one message. The response mirrors the
// request's ID, opcode and RD flag; non-query opcodes get NOTIMP.
// Questions are processed in order; once any question sets REFUSED the
// rcode stays REFUSED.
func (s *Server) handle(req *dns.Msg) *dns.Msg {
	msg := new(dns.Msg)
	msg.SetReply(req)
	msg.Question = req.Question

	if req.Opcode != dns.OpcodeQuery {
		msg.Rcode = dns.RcodeNotImplemented
		return msg
	}

	msg.Authoritative = true

	refused := false

	for _, q := range req.Question {
		zlog.Debug("DNS query", "qname", q.Name, "qtype", dns.TypeToString[q.Qtype])

		switch q.Qtype {
		case dns.TypeA:
			refused = s.answerA(q, msg) || refused
		case dns.TypeMX:
			refused = s.answerMX(q, msg) || refused
		case dns.TypeTXT:
			refused = s.answerTXT(q, msg) || refused
		case dns.TypeNS:
			refused = s.answerNS(q, msg) || refused
		case dns.TypeAAAA:
			// no IPv6 answers, empty success
		default:
			// unsupported types contribute nothing
		}
	}

	if refused {
		msg.Rcode = dns.RcodeRefused
	}

	return msg
}

// serveGate returns the record for a qname and whether the question
// must be refused (record exists but is not enabled and verified).
func (s *Server) serveGate(qname string) (registry.DomainRecord, bool, bool) {
	rec, ok := s.reg.Get(qname)
	if !ok {
		return registry.DomainRecord{}, false, false
	}

	if !rec.Enabled || rec.Status != registry.StatusVerified {
		return registry.DomainRecord{}, false, true
	}

	return rec, true, false
}

func (s *Server) answerA(q dns.Question, msg *dns.Msg) bool {
	qname := registry.Canonical(q.Name)

	rec, ok, refused := s.serveGate(qname)
	if refused {
		return true
	}
	if !ok {
		return false
	}

	if ip := net.ParseIP(rec.IP); ip != nil && ip.To4() != nil {
		msg.Answer = append(msg.Answer, &dns.A{
			Hdr: s.header(q.Name, dns.TypeA),
			A:   ip.To4(),
		})
	}

	// mail subdomains answer a second A with the pool address of the
	// base domain
	if qname == "mail" || strings.HasPrefix(qname, "mail.") {
		base := s.cfg.SiteDomain
		if qname != "mail" {
			base = strings.TrimPrefix(qname, "mail.")
		}

		if parent, ok := s.reg.Get(base); ok {
			mailIP := s.cfg.DefaultMailIP()
			if parent.Discord {
				mailIP = s.cfg.DiscordMailIP()
			}

			if ip := net.ParseIP(mailIP); ip != nil && ip.To4() != nil {
				msg.Answer = append(msg.Answer, &dns.A{
					Hdr: s.header(q.Name, dns.TypeA),
					A:   ip.To4(),
				})
			}
		}
	}

	return false
}

func (s *Server) answerMX(q dns.Question, msg *dns.Msg) bool {
	qname := registry.Canonical(q.Name)

	rec, ok, refused := s.serveGate(qname)
	if refused {
		return true
	}
	if !ok {
		return false
	}

	var target string
	if rec.Discord {
		target = "mail." + qname + ".discord." + s.cfg.SiteDomain
	} else {
		target = strings.ReplaceAll(s.cfg.MailServer, "{domain}", qname)
	}

	mx := dns.Fqdn(target)

	msg.Answer = append(msg.Answer,
		&dns.MX{
			Hdr:        s.header(q.Name, dns.TypeMX),
			Preference: s.cfg.MXPriority,
			Mx:         mx,
		},
		// wildcard coverage for subdomain mail
		&dns.MX{
			Hdr:        s.header("*."+q.Name, dns.TypeMX),
			Preference: s.cfg.MXPriority,
			Mx:         mx,
		},
	)

	return false
}

func (s *Server) answerTXT(q dns.Question, msg *dns.Msg) bool {
	qname := registry.Canonical(q.Name)

	_, ok, refused := s.serveGate(qname)
	if refused {
		return true
	}
	if !ok {
		return false
	}

	msg.Answer = append(msg.Answer,
		&dns.TXT{
			Hdr: s.header(q.Name, dns.TypeTXT),
			Txt: []string{spfRecord},
		},
		&dns.TXT{
			Hdr: s.header("_dmarc."+q.Name, dns.TypeTXT),
			Txt: []string{dmarcRecord},
		},
	)

	return false
}

func (s *Server) answerNS(q dns.Question, msg *dns.Msg) bool {
	qname := registry.Canonical(q.Name)

	_, ok, refused := s.serveGate(qname)
	if refused {
		return true
	}
	if !ok {
		return false
	}

	for _, ns := range s.cfg.Nameservers {
		msg.Answer = append(msg.Answer, &dns.NS{
			Hdr: s.header(q.Name, dns.TypeNS),
			Ns:  dns.Fqdn(ns),
		})
	}

	return false
}

func (s *Server) header(name string, rrtype uint16) dns.RR_Header {
	return dns.RR_Header{
		Name:   dns.Fqdn(name),
		Rrtype: rrtype,
		Class:  dns.ClassINET,
		Ttl:    s.cfg.DefaultTTL,
	}
}
