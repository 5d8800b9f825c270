package acmeclient

import (
	"bufio"
	"crypto/rsa"
	"fmt"
	"io"
	"log"
	"os"
)

// Solver selects a challenge out of an authorization's challenges array
// and drives the side effect that publishes its key authorization. Each
// challenge type gets its own implementation so new ones can be added
// without touching the issuance flow.
type Solver interface {
	// Name is the challenge type this solver handles, e.g. "http-01".
	Name() string
	// Select returns the first challenge this solver can handle, or
	// false if none match.
	Select(challenges []Challenge) (Challenge, bool)
	// Solve publishes the key authorization for domain/challenge and
	// blocks until the artifact is in place (or returns SolverFailed).
	Solve(domain string, ch Challenge, keyAuth string) error
}

func selectByType(typ string, challenges []Challenge) (Challenge, bool) {
	for _, ch := range challenges {
		if ch.Type == typ {
			return ch, true
		}
	}
	return Challenge{}, false
}

// keyAuthorization is the value the CA checks for at the challenge
// artifact: the challenge token joined to the account key's thumbprint.
func keyAuthorization(token string, key *rsa.PublicKey) string {
	return token + "." + jwkThumbprint(key)
}

// DNS01Value derives the TXT record value for a DNS-01 key authorization:
// base64url(sha256(KA)), unpadded. Exported so transports that publish
// the TXT record themselves don't need to re-derive the hash.
func DNS01Value(keyAuth string) string {
	return b64.EncodeToString(sha256Sum([]byte(keyAuth)))
}

// HTTP01Solver is the default HTTP-01 solver: it logs the file that must
// be published and blocks on operator confirmation before reporting the
// challenge as solved.
type HTTP01Solver struct {
	// Confirm reads one line from the operator as confirmation that the
	// artifact was published. Defaults to reading stdin.
	Confirm func() error
}

func (s *HTTP01Solver) Name() string { return "http-01" }

func (s *HTTP01Solver) Select(challenges []Challenge) (Challenge, bool) {
	return selectByType("http-01", challenges)
}

func (s *HTTP01Solver) Solve(domain string, ch Challenge, keyAuth string) error {
	path := fmt.Sprintf(".well-known/acme-challenge/%s", ch.Token)
	log.Printf("acme: publish %q under http://%s/%s with body:\n%s", path, domain, path, keyAuth)
	return s.confirm()
}

func (s *HTTP01Solver) confirm() error {
	if s.Confirm != nil {
		return s.Confirm()
	}
	return waitForKeypress()
}

// DNS01Solver is the default DNS-01 solver: it logs the TXT record that
// must be published and blocks on operator confirmation.
type DNS01Solver struct {
	Confirm func() error
}

func (s *DNS01Solver) Name() string { return "dns-01" }

func (s *DNS01Solver) Select(challenges []Challenge) (Challenge, bool) {
	return selectByType("dns-01", challenges)
}

func (s *DNS01Solver) Solve(domain string, ch Challenge, keyAuth string) error {
	name := fmt.Sprintf("_acme-challenge.%s", domain)
	log.Printf("acme: publish TXT %q with value %q", name, DNS01Value(keyAuth))
	return s.confirm()
}

func (s *DNS01Solver) confirm() error {
	if s.Confirm != nil {
		return s.Confirm()
	}
	return waitForKeypress()
}

func waitForKeypress() error {
	log.Println("acme: press enter once the record is published...")
	reader := bufio.NewReader(os.Stdin)
	_, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return solverFailed(err.Error())
	}
	return nil
}
