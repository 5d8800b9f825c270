package acmeclient

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

func readAll(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// DefaultDirectoryURL is the production CA directory used when
// Config.DirectoryURL is left empty.
const DefaultDirectoryURL = "https://acme-v01.api.letsencrypt.org/directory"

const defaultPollInterval = 60 * time.Second

// Config carries GetCrt's optional parameters plus the hooks tests need to
// substitute a mock CA, a fake clock, and a poll cap.
type Config struct {
	DirectoryURL string
	Solver       Solver
	Client       HTTPClient

	PollInterval time.Duration
	Sleep        func(time.Duration)
	// MaxPolls caps the number of poll attempts per domain; 0 means
	// unbounded, since some CAs can take arbitrarily long to validate.
	MaxPolls int
}

func (c *Config) withDefaults() *Config {
	cfg := *c
	if cfg.DirectoryURL == "" {
		cfg.DirectoryURL = DefaultDirectoryURL
	}
	if cfg.Solver == nil {
		cfg.Solver = &DNS01Solver{}
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}
	return &cfg
}

// GetCrt drives the full ACME v1-style issuance handshake and returns the
// issued certificate as PEM. Directory defaults to the production CA;
// solver defaults to the built-in DNS-01 solver.
func GetCrt(accountKeyPEM, csrPEM []byte, cfg *Config) (string, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg = cfg.withDefaults()

	session, err := newSession(cfg.Client, accountKeyPEM, csrPEM, cfg.DirectoryURL)
	if err != nil {
		return "", err
	}

	if err := session.register(); err != nil {
		return "", err
	}

	for _, domain := range session.csr.domains {
		if err := session.authorizeDomain(domain, cfg); err != nil {
			return "", err
		}
	}

	return session.finalize()
}

// register performs new-reg and, if the CA returns a terms link, accepts
// it. 409 (existing account) skips terms acceptance entirely, since the
// CA gives no Location for an account that already exists.
func (s *Session) register() error {
	payload, err := json.Marshal(newRegPayload{Resource: "new-reg"})
	if err != nil {
		return err
	}

	status, headers, body, err := s.authenticatedPost("new-reg", s.dir.NewReg, payload)
	if err != nil {
		return err
	}

	switch status {
	case http.StatusCreated:
		accountURL := headers.Get("Location")
		termsURL := parseTermsLink(headers)
		if accountURL == "" || termsURL == "" {
			log.Println("acme: new account created, no terms link, proceeding")
			return nil
		}
		return s.acceptTerms(accountURL, termsURL)
	case http.StatusConflict:
		log.Println("acme: existing account, skipping terms acceptance")
		return nil
	default:
		return unexpectedStatus("new-reg", status, body)
	}
}

func (s *Session) acceptTerms(accountURL, termsURL string) error {
	payload, err := json.Marshal(termsAcceptPayload{Resource: "reg", Agreement: termsURL})
	if err != nil {
		return err
	}
	status, _, body, err := s.authenticatedPost("reg", accountURL, payload)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusAccepted, http.StatusConflict:
		return nil
	default:
		return unexpectedStatus("reg", status, body)
	}
}

// parseTermsLink finds a Link header whose relation is the absolute URI
// "terms-of-service".
func parseTermsLink(headers http.Header) string {
	for _, link := range headers.Values("Link") {
		for _, part := range strings.Split(link, ",") {
			part = strings.TrimSpace(part)
			segs := strings.Split(part, ";")
			if len(segs) < 2 {
				continue
			}
			uri := strings.Trim(strings.TrimSpace(segs[0]), "<>")
			for _, param := range segs[1:] {
				param = strings.TrimSpace(param)
				if param == `rel="terms-of-service"` || param == "rel=terms-of-service" {
					return uri
				}
			}
		}
	}
	return ""
}

// authorizeDomain runs the per-domain new-authz → challenge → poll
// sub-flow. Processing stops (returns the first error) without advancing
// to later domains or to new-cert.
func (s *Session) authorizeDomain(domain string, cfg *Config) error {
	auth, err := s.requestAuthorization(domain)
	if err != nil {
		return err
	}

	ch, ok := cfg.Solver.Select(auth.Challenges)
	if !ok {
		return newErr(NoSupportedChallenge, nil)
	}
	if ch.Token == "" || ch.URI == "" {
		return newErr(MalformedJson, nil)
	}

	keyAuth := keyAuthorization(ch.Token, &s.key.PublicKey)
	if err := cfg.Solver.Solve(domain, ch, keyAuth); err != nil {
		return err
	}

	if err := s.acknowledgeChallenge(ch, cfg.Solver.Name(), keyAuth); err != nil {
		return err
	}

	return s.pollChallenge(ch, cfg)
}

func (s *Session) requestAuthorization(domain string) (*AuthorizationResponse, error) {
	payload, err := json.Marshal(newAuthzPayload{
		Resource:   "new-authz",
		Identifier: Identifier{Type: "dns", Value: domain},
	})
	if err != nil {
		return nil, err
	}
	status, _, body, err := s.authenticatedPost("new-authz", s.dir.NewAuthz, payload)
	if err != nil {
		return nil, err
	}
	if status != http.StatusCreated {
		return nil, unexpectedStatus("new-authz", status, body)
	}
	var auth AuthorizationResponse
	if err := json.Unmarshal(body, &auth); err != nil {
		return nil, newErr(MalformedJson, err)
	}
	return &auth, nil
}

// acknowledgeChallenge POSTs the challenge acknowledgement. The response
// status is deliberately not inspected here: the nonce refresh it carries
// is the only thing that matters before polling starts.
func (s *Session) acknowledgeChallenge(ch Challenge, challengeType, keyAuth string) error {
	payload, err := json.Marshal(challengePayload{
		Resource:         "challenge",
		Type:             challengeType,
		KeyAuthorization: keyAuth,
	})
	if err != nil {
		return err
	}
	_, _, _, err = s.authenticatedPost("challenge", ch.URI, payload)
	return err
}

// pollChallenge polls the challenge URL until it reports "valid", reports
// anything other than pending/valid as ChallengeRejected, or exhausts
// Config.MaxPolls (if set).
func (s *Session) pollChallenge(ch Challenge, cfg *Config) error {
	attempts := 0
	for {
		resp, err := s.client.Get(ch.URI)
		if err != nil {
			return err
		}
		body, err := readAll(resp)
		if err != nil {
			return err
		}

		var poll pollStatus
		if len(body) > 0 {
			if err := json.Unmarshal(body, &poll); err != nil {
				return newErr(MalformedJson, err)
			}
		}

		switch poll.Status {
		case "", "pending":
			attempts++
			if cfg.MaxPolls > 0 && attempts >= cfg.MaxPolls {
				return newErr(ChallengeRejected, fmt.Errorf("exceeded %d poll attempts", cfg.MaxPolls))
			}
			cfg.Sleep(cfg.PollInterval)
		case "valid":
			return nil
		default:
			return newErr(ChallengeRejected, fmt.Errorf("status %q", poll.Status))
		}
	}
}

// finalize submits the CSR and decodes the returned DER certificate as
// PEM. Never called until every domain has reached "valid" (enforced by
// GetCrt's sequential loop above).
func (s *Session) finalize() (string, error) {
	payload, err := json.Marshal(newCertPayload{
		Resource: "new-cert",
		Csr:      b64.EncodeToString(s.csr.der),
	})
	if err != nil {
		return "", err
	}
	status, _, body, err := s.authenticatedPost("new-cert", s.dir.NewCert, payload)
	if err != nil {
		return "", err
	}
	if status != http.StatusCreated {
		return "", unexpectedStatus("new-cert", status, body)
	}
	return certDERToPEM(body)
}
