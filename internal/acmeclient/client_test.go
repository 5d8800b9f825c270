package acmeclient

import (
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func noWaitSolver(challengeType string) Solver {
	confirm := func() error { return nil }
	if challengeType == "dns-01" {
		return &DNS01Solver{Confirm: confirm}
	}
	return &HTTP01Solver{Confirm: confirm}
}

func selfSignedDER(t *testing.T) []byte {
	t.Helper()
	key := testKey(t)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "example.com"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate: %v", err)
	}
	return der
}

func writeJSON(w http.ResponseWriter, status int, nonce string, v interface{}) {
	if nonce != "" {
		w.Header().Set("Replay-Nonce", nonce)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Full happy-path run against a single domain using HTTP-01.
func TestGetCrt_HappyPathSingleDomainHTTP01(t *testing.T) {
	mux := http.NewServeMux()
	var server *httptest.Server

	mux.HandleFunc("/directory", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, "N0", Directory{
			NewAuthz:   server.URL + "/new-authz",
			NewReg:     server.URL + "/new-reg",
			NewCert:    server.URL + "/new-cert",
			RevokeCert: server.URL + "/revoke-cert",
		})
	})
	mux.HandleFunc("/new-reg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", server.URL+"/account")
		w.Header().Set("Link", fmt.Sprintf(`<%s/terms>; rel="terms-of-service"`, server.URL))
		writeJSON(w, 201, "N1", map[string]string{})
	})
	mux.HandleFunc("/account", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 202, "N2", map[string]string{})
	})
	mux.HandleFunc("/new-authz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 201, "N3", AuthorizationResponse{
			Status: "pending",
			Challenges: []Challenge{
				{Type: "http-01", Token: "tok", URI: server.URL + "/chal"},
			},
		})
	})
	mux.HandleFunc("/chal", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			writeJSON(w, 202, "N4", map[string]string{})
			return
		}
		writeJSON(w, 200, "", pollStatus{Status: "valid"})
	})
	der := selfSignedDER(t)
	mux.HandleFunc("/new-cert", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Replay-Nonce", "N5")
		w.WriteHeader(201)
		_, _ = w.Write(der)
	})

	server = httptest.NewServer(mux)
	defer server.Close()

	csrPEM := buildCSR(t, "example.com", nil)
	keyPEM := pemKey(t, testKey(t))

	cfg := &Config{
		DirectoryURL: server.URL + "/directory",
		Solver:       noWaitSolver("http-01"),
		Client:       server.Client(),
	}
	out, err := GetCrt(keyPEM, csrPEM, cfg)
	if err != nil {
		t.Fatalf("GetCrt: %v", err)
	}
	if !strings.Contains(out, "-----BEGIN CERTIFICATE-----") {
		t.Fatalf("output is not a PEM certificate: %q", out)
	}
	if strings.Count(out, "-----BEGIN CERTIFICATE-----") != 1 {
		t.Fatalf("expected exactly one CERTIFICATE block, got: %q", out)
	}
}

// An existing account (409 on new-reg) skips terms acceptance and proceeds straight to new-authz.
func TestGetCrt_ExistingAccountSkipsTerms(t *testing.T) {
	mux := http.NewServeMux()
	var server *httptest.Server
	authzCalled := false

	mux.HandleFunc("/directory", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, "N0", Directory{
			NewAuthz: server.URL + "/new-authz",
			NewReg:   server.URL + "/new-reg",
			NewCert:  server.URL + "/new-cert",
		})
	})
	mux.HandleFunc("/new-reg", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 409, "N1", map[string]string{})
	})
	mux.HandleFunc("/account", func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("terms acceptance should be skipped on 409")
	})
	mux.HandleFunc("/new-authz", func(w http.ResponseWriter, r *http.Request) {
		authzCalled = true
		writeJSON(w, 500, "N2", map[string]string{"error": "stop here"})
	})

	server = httptest.NewServer(mux)
	defer server.Close()

	csrPEM := buildCSR(t, "example.com", nil)
	keyPEM := pemKey(t, testKey(t))

	cfg := &Config{DirectoryURL: server.URL + "/directory", Solver: noWaitSolver("http-01"), Client: server.Client()}
	_, err := GetCrt(keyPEM, csrPEM, cfg)
	if err == nil {
		t.Fatal("expected error from the deliberately-failing new-authz mock")
	}
	if !authzCalled {
		t.Fatal("expected new-authz to be reached, proving terms acceptance was skipped")
	}
}

// A directory response with no Replay-Nonce header is fatal.
func TestGetCrt_MissingNonce(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/directory", func(w http.ResponseWriter, r *http.Request) {
		// deliberately omit Replay-Nonce
		writeJSON(w, 200, "", Directory{})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	csrPEM := buildCSR(t, "example.com", nil)
	keyPEM := pemKey(t, testKey(t))

	cfg := &Config{DirectoryURL: server.URL + "/directory", Solver: noWaitSolver("http-01"), Client: server.Client()}
	_, err := GetCrt(keyPEM, csrPEM, cfg)
	assertKind(t, err, NoNonce)
}

// An authorization offering no challenge type the solver supports.
func TestGetCrt_NoSupportedChallenge(t *testing.T) {
	mux := http.NewServeMux()
	var server *httptest.Server
	mux.HandleFunc("/directory", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, "N0", Directory{
			NewAuthz: server.URL + "/new-authz",
			NewReg:   server.URL + "/new-reg",
			NewCert:  server.URL + "/new-cert",
		})
	})
	mux.HandleFunc("/new-reg", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 409, "N1", map[string]string{})
	})
	mux.HandleFunc("/new-authz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 201, "N2", AuthorizationResponse{
			Challenges: []Challenge{{Type: "tls-sni-01", Token: "tok", URI: server.URL + "/chal"}},
		})
	})

	server = httptest.NewServer(mux)
	defer server.Close()

	csrPEM := buildCSR(t, "example.com", nil)
	keyPEM := pemKey(t, testKey(t))

	cfg := &Config{DirectoryURL: server.URL + "/directory", Solver: noWaitSolver("http-01"), Client: server.Client()}
	_, err := GetCrt(keyPEM, csrPEM, cfg)
	assertKind(t, err, NoSupportedChallenge)
}

// Polling reports pending twice before valid; the sleeper should be invoked exactly twice.
func TestGetCrt_PollingPendingThenValid(t *testing.T) {
	mux := http.NewServeMux()
	var server *httptest.Server
	pollCount := 0

	mux.HandleFunc("/directory", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, "N0", Directory{
			NewAuthz: server.URL + "/new-authz",
			NewReg:   server.URL + "/new-reg",
			NewCert:  server.URL + "/new-cert",
		})
	})
	mux.HandleFunc("/new-reg", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 409, "N1", map[string]string{})
	})
	mux.HandleFunc("/new-authz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 201, "N2", AuthorizationResponse{
			Challenges: []Challenge{{Type: "dns-01", Token: "tok", URI: server.URL + "/chal"}},
		})
	})
	mux.HandleFunc("/chal", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			writeJSON(w, 202, "N3", map[string]string{})
			return
		}
		pollCount++
		if pollCount < 3 {
			writeJSON(w, 200, "", pollStatus{Status: "pending"})
			return
		}
		writeJSON(w, 200, "", pollStatus{Status: "valid"})
	})
	der := selfSignedDER(t)
	mux.HandleFunc("/new-cert", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Replay-Nonce", "N4")
		w.WriteHeader(201)
		_, _ = w.Write(der)
	})

	server = httptest.NewServer(mux)
	defer server.Close()

	csrPEM := buildCSR(t, "example.com", nil)
	keyPEM := pemKey(t, testKey(t))

	sleeps := 0
	cfg := &Config{
		DirectoryURL: server.URL + "/directory",
		Solver:       noWaitSolver("dns-01"),
		Client:       server.Client(),
		Sleep:        func(time.Duration) { sleeps++ },
	}
	_, err := GetCrt(keyPEM, csrPEM, cfg)
	if err != nil {
		t.Fatalf("GetCrt: %v", err)
	}
	if sleeps != 2 {
		t.Fatalf("sleeper invoked %d times, want 2", sleeps)
	}
}

// With two domains, the second domain's new-authz fails and new-cert is never reached.
func TestGetCrt_MultiDomainSecondFails(t *testing.T) {
	mux := http.NewServeMux()
	var server *httptest.Server
	authzCalls := 0
	newCertCalled := false

	mux.HandleFunc("/directory", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, "N0", Directory{
			NewAuthz: server.URL + "/new-authz",
			NewReg:   server.URL + "/new-reg",
			NewCert:  server.URL + "/new-cert",
		})
	})
	mux.HandleFunc("/new-reg", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 409, "N1", map[string]string{})
	})
	mux.HandleFunc("/new-authz", func(w http.ResponseWriter, r *http.Request) {
		authzCalls++
		if authzCalls == 1 {
			writeJSON(w, 201, fmt.Sprintf("N%d", authzCalls+1), AuthorizationResponse{
				Challenges: []Challenge{{Type: "http-01", Token: "tok-a", URI: server.URL + "/chal"}},
			})
			return
		}
		writeJSON(w, 500, fmt.Sprintf("N%d", authzCalls+1), map[string]string{"error": "boom"})
	})
	mux.HandleFunc("/chal", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			writeJSON(w, 202, "N10", map[string]string{})
			return
		}
		writeJSON(w, 200, "", pollStatus{Status: "valid"})
	})
	mux.HandleFunc("/new-cert", func(w http.ResponseWriter, r *http.Request) {
		newCertCalled = true
		writeJSON(w, 201, "N99", map[string]string{})
	})

	server = httptest.NewServer(mux)
	defer server.Close()

	csrPEM := buildCSR(t, "a.example", []string{"a.example", "b.example"})
	keyPEM := pemKey(t, testKey(t))

	cfg := &Config{DirectoryURL: server.URL + "/directory", Solver: noWaitSolver("http-01"), Client: server.Client()}
	_, err := GetCrt(keyPEM, csrPEM, cfg)
	ae, ok := err.(*AcmeError)
	if !ok || ae.Kind != UnexpectedStatus || ae.Endpoint != "new-authz" || ae.Code != 500 {
		t.Fatalf("err = %+v, want UnexpectedStatus(new-authz, 500, ...)", err)
	}
	if authzCalls != 2 {
		t.Fatalf("new-authz called %d times, want 2 (one per domain, stopping at failure)", authzCalls)
	}
	if newCertCalled {
		t.Fatal("new-cert must not be called when a domain authorization fails")
	}
}
