// Package dnschallenge is an automated DNS-01 transport: an authoritative
// nameserver answering TXT _acme-challenge.<domain> (and A <domain>, for
// CAs that resolve the validated name against a self-hosted test zone)
// instead of requiring the operator to publish records by hand. State
// that used to live in package globals is kept on a Server instead, so
// concurrent runs don't share mutable state.
package dnschallenge

import (
	"context"
	"log"
	"net"
	"sync"

	"github.com/miekg/dns"

	"github.com/mmaker/acmeclient/internal/acmeclient"
)

// Server answers A and TXT queries for one issuance run's domains.
type Server struct {
	addr   string
	record string // IP address to answer A queries with
	server *dns.Server

	mu  sync.Mutex
	txt map[string]string // fqdn -> TXT value
}

// New creates a Server bound to addr (e.g. "0.0.0.0:53") that answers A
// queries with record.
func New(addr, record string) *Server {
	return &Server{
		addr:   addr,
		record: record,
		txt:    make(map[string]string),
	}
}

// PublishTXT sets the TXT value answered for _acme-challenge.<domain>.
func (s *Server) PublishTXT(domain, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txt[dns.Fqdn("_acme-challenge."+domain)] = value
}

func (s *Server) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	msg := dns.Msg{}
	msg.SetReply(r)
	if len(r.Question) == 0 {
		_ = w.WriteMsg(&msg)
		return
	}
	q := r.Question[0]
	switch q.Qtype {
	case dns.TypeA:
		msg.Authoritative = true
		msg.Answer = append(msg.Answer, &dns.A{
			Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
			A:   net.ParseIP(s.record),
		})
	case dns.TypeTXT:
		msg.Authoritative = true
		s.mu.Lock()
		value, ok := s.txt[q.Name]
		s.mu.Unlock()
		if ok {
			msg.Answer = append(msg.Answer, &dns.TXT{
				Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: 60},
				Txt: []string{value},
			})
		}
		log.Printf("dnschallenge: TXT query for %s", q.Name)
	}
	if err := w.WriteMsg(&msg); err != nil {
		log.Printf("dnschallenge: write error: %v", err)
	}
}

// Start begins serving UDP in the background.
func (s *Server) Start() error {
	s.server = &dns.Server{Addr: s.addr, Net: "udp", Handler: s}
	go func() {
		if err := s.server.ListenAndServe(); err != nil {
			log.Printf("dnschallenge: server error: %v", err)
		}
	}()
	log.Printf("dnschallenge: serving on %s", s.addr)
	return nil
}

// Stop shuts the nameserver down.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.ShutdownContext(ctx)
}

// Solver is an acmeclient.Solver that publishes key authorizations as TXT
// records directly rather than logging and waiting for a human.
type Solver struct {
	Server *Server
}

func (s *Solver) Name() string { return "dns-01" }

func (s *Solver) Select(challenges []acmeclient.Challenge) (acmeclient.Challenge, bool) {
	for _, ch := range challenges {
		if ch.Type == "dns-01" {
			return ch, true
		}
	}
	return acmeclient.Challenge{}, false
}

func (s *Solver) Solve(domain string, ch acmeclient.Challenge, keyAuth string) error {
	value := acmeclient.DNS01Value(keyAuth)
	s.Server.PublishTXT(domain, value)
	log.Printf("dnschallenge: publishing TXT _acme-challenge.%s = %s", domain, value)
	return nil
}
