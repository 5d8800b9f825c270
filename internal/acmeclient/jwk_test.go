package acmeclient

import (
	"crypto/rsa"
	"math/big"
	"testing"
)

// RFC 7638 Appendix A.1 test vector.
const rfc7638N = "0vx7agoebGcQSuuPiLJXZptN9nndrQmbXEps2aiAFbWhM78LhWx4cbbfAAtVT86zwu1RK7aPFFxuhDR1L6tSoc_BJECPebWKRXjBZCiFV4n3oknjhMstn64tZ_2W-5JsGY4Hc5n9yBXArwl93lqt7_RN5w6Cf0h4QyQ5v-65YGjQR0_FDW2QvzqY368QQMicAtaSqzs8KJZgnYb9c7d0zgdAZHzu6qMQvRL5hajrn1n91CbOpbISD08qNLyrdkt-bFTWhAI4vMQFh6WeZu0fM4lFd2NcRwr3XPksINHaQ-G_xBniIqbw0Ls1jF44-csFCur-kEgU8awapJzKnqDKgw"
const rfc7638Thumbprint = "NzbLsXh8uDCcd-6MNwXF4W_7noWXFZAfHkxZsRGC9Xs"

func rfc7638Key(t *testing.T) *rsa.PublicKey {
	t.Helper()
	nBytes, err := b64.DecodeString(rfc7638N)
	if err != nil {
		t.Fatalf("decode n: %v", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: 65537,
	}
}

func TestThumbprintMatchesRFC7638Vector(t *testing.T) {
	got := jwkThumbprint(rfc7638Key(t))
	if got != rfc7638Thumbprint {
		t.Fatalf("thumbprint = %q, want %q", got, rfc7638Thumbprint)
	}
}

func TestCanonicalJWKOrderingAndStability(t *testing.T) {
	key := rfc7638Key(t)
	a := canonicalJWK(key)
	b := canonicalJWK(key)
	if string(a) != string(b) {
		t.Fatalf("canonicalJWK is not deterministic: %q vs %q", a, b)
	}
	want := `{"e":"` + b64.EncodeToString([]byte{1, 0, 1}) + `","kty":"RSA","n":"` + rfc7638N + `"}`
	if string(a) != want {
		t.Fatalf("canonicalJWK = %q, want %q", a, want)
	}
}

func TestKeyAuthorizationShape(t *testing.T) {
	key := rfc7638Key(t)
	ka := keyAuthorization("tok", key)
	want := "tok." + rfc7638Thumbprint
	if ka != want {
		t.Fatalf("keyAuthorization = %q, want %q", ka, want)
	}

	dnsVal := DNS01Value(ka)
	if dnsVal == "" || dnsVal == ka {
		t.Fatalf("DNS01Value should hash the key authorization, got %q", dnsVal)
	}
}
