package acmeclient

import (
	"bytes"
	"crypto/rsa"
	"encoding/json"
	"io"
	"log"
	"net/http"
)

// HTTPClient is the transport the core needs: GET and POST with response
// header access. *http.Client satisfies it as-is.
type HTTPClient interface {
	Get(url string) (*http.Response, error)
	Post(url, contentType string, body io.Reader) (*http.Response, error)
}

// Session holds the account key, CSR, directory, and the single mutable
// nonce slot for one issuance run. The nonce is unexported: only
// authenticatedPost may advance it, so the chain can't be driven out of
// order from outside the package.
type Session struct {
	key    *rsa.PrivateKey
	csr    *csrInfo
	dir    Directory
	nonce  string
	client HTTPClient
}

type csrInfo struct {
	der     []byte
	domains []string
}

// newSession fetches the CA directory and the bootstrap nonce, and
// validates the account key and CSR.
func newSession(client HTTPClient, accountKeyPEM, csrPEM []byte, directoryURL string) (*Session, error) {
	key, err := ParseAccountKey(accountKeyPEM)
	if err != nil {
		return nil, err
	}
	csr, err := ParseCSR(csrPEM)
	if err != nil {
		return nil, err
	}
	domains := csrDomains(csr)

	dir, nonce, err := fetchDirectory(client, directoryURL)
	if err != nil {
		return nil, err
	}

	log.Printf("acme: discovered directory at %s", directoryURL)

	return &Session{
		key:    key,
		csr:    &csrInfo{der: csr.Raw, domains: domains},
		dir:    dir,
		nonce:  nonce,
		client: client,
	}, nil
}

// fetchDirectory GETs the CA directory and reads the bootstrap nonce off
// Replay-Nonce.
func fetchDirectory(client HTTPClient, url string) (Directory, string, error) {
	resp, err := client.Get(url)
	if err != nil {
		return Directory{}, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Directory{}, "", err
	}
	if resp.StatusCode != http.StatusOK {
		return Directory{}, "", unexpectedStatus("directory", resp.StatusCode, body)
	}

	var dir Directory
	if err := json.Unmarshal(body, &dir); err != nil {
		return Directory{}, "", newErr(MalformedJson, err)
	}

	nonce := resp.Header.Get("Replay-Nonce")
	if nonce == "" {
		return Directory{}, "", newErr(NoNonce, nil)
	}
	return dir, nonce, nil
}

// authenticatedPost signs payload as a flattened JWS under the session's
// current nonce, POSTs it to url, then consumes the response's
// Replay-Nonce as the new current nonce. This is the one place the
// nonce-monotonicity invariant is enforced: every request after this one
// observes exactly the nonce this response handed back.
func (s *Session) authenticatedPost(endpoint, url string, payload []byte) (int, http.Header, []byte, error) {
	jws, err := buildJWS(s.key, payload, s.nonce)
	if err != nil {
		return 0, nil, nil, err
	}
	body, err := json.Marshal(jws)
	if err != nil {
		return 0, nil, nil, err
	}

	log.Printf("acme: POST %s (%s)", url, endpoint)

	resp, err := s.client.Post(url, "application/jose+json", bytes.NewReader(body))
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, err
	}

	nonce := resp.Header.Get("Replay-Nonce")
	if nonce == "" {
		return 0, nil, nil, newErr(NoNonce, nil)
	}
	s.nonce = nonce

	return resp.StatusCode, resp.Header, respBody, nil
}
