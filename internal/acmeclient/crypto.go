package acmeclient

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
)

// ParseAccountKey parses exactly one RSA private key out of a PEM blob.
// No RSA key, or more than one, is BadKey. PEM blocks that do not hold an
// RSA private key (other key types, certificates) are skipped.
func ParseAccountKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	var found *rsa.PrivateKey
	rest := pemBytes
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		key, err := parseAnyRSAKey(block)
		if err != nil {
			continue
		}
		if found != nil {
			return nil, newErr(BadKey, nil)
		}
		found = key
	}
	if found == nil {
		return nil, newErr(BadKey, nil)
	}
	return found, nil
}

func parseAnyRSAKey(block *pem.Block) (*rsa.PrivateKey, error) {
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, newErr(BadKey, nil)
	}
	return rsaKey, nil
}

// SignRS256 produces a PKCS#1 v1.5 signature over the SHA-256 digest of
// data.
func SignRS256(key *rsa.PrivateKey, data []byte) ([]byte, error) {
	digest := sha256Sum(data)
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest)
	if err != nil {
		return nil, err
	}
	return sig, nil
}

func sha256Sum(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// ParseCSR parses exactly one CSR out of a PEM blob. Zero or more than one
// is BadCsr.
func ParseCSR(pemBytes []byte) (*x509.CertificateRequest, error) {
	var found *x509.CertificateRequest
	rest := pemBytes
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE REQUEST" && block.Type != "NEW CERTIFICATE REQUEST" {
			continue
		}
		csr, err := x509.ParseCertificateRequest(block.Bytes)
		if err != nil {
			continue
		}
		if found != nil {
			return nil, newErr(BadCsr, nil)
		}
		found = csr
	}
	if found == nil {
		return nil, newErr(BadCsr, nil)
	}
	return found, nil
}

// csrDomains returns the CSR's subject common name followed by its SAN DNS
// names, in declaration order, de-duplicated. Domains are authorized one
// at a time in this order, and the first failure stops the run.
func csrDomains(csr *x509.CertificateRequest) []string {
	seen := map[string]bool{}
	var domains []string
	add := func(d string) {
		if d == "" || seen[d] {
			return
		}
		seen[d] = true
		domains = append(domains, d)
	}
	add(csr.Subject.CommonName)
	for _, d := range csr.DNSNames {
		add(d)
	}
	return domains
}

// certDERToPEM wraps a returned DER certificate in a PEM CERTIFICATE
// block, failing BadCert if the DER is unparseable.
func certDERToPEM(der []byte) (string, error) {
	if _, err := x509.ParseCertificate(der); err != nil {
		return "", newErr(BadCert, err)
	}
	block := &pem.Block{Type: "CERTIFICATE", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}
