package acmeclient

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
)

var b64 = base64.URLEncoding.WithPadding(base64.NoPadding)

// jwkJSON is the encodable form of an RSA JWK, used both as the `jwk`
// member of a JWS protected header and as the input to the thumbprint
// hash. Field order (e, kty, n) is lexicographic, which is also the
// order encoding/json emits struct fields in, so marshaling this struct
// directly produces the RFC 7638 canonical form with no whitespace.
type jwkJSON struct {
	E   string `json:"e"`
	Kty string `json:"kty"`
	N   string `json:"n"`
}

func jwkOf(pub *rsa.PublicKey) jwkJSON {
	return jwkJSON{
		E:   b64.EncodeToString(bigEndianUint(pub.E)),
		Kty: "RSA",
		N:   b64.EncodeToString(pub.N.Bytes()),
	}
}

// bigEndianUint encodes a small positive int (the RSA public exponent) as
// big-endian bytes with no leading zero byte.
func bigEndianUint(v int) []byte {
	if v == 0 {
		return []byte{0}
	}
	var out []byte
	for v > 0 {
		out = append([]byte{byte(v & 0xff)}, out...)
		v >>= 8
	}
	return out
}

// canonicalJWK returns the RFC 7638 canonical JSON form of an RSA public
// key: keys in lexicographic order (e, kty, n), no whitespace, big-endian
// unsigned integers with no leading zero bytes, unpadded base64url.
func canonicalJWK(pub *rsa.PublicKey) []byte {
	// jwkJSON holds only strings, so Marshal never errors.
	b, _ := json.Marshal(jwkOf(pub))
	return b
}

// jwkThumbprint is base64url(sha256(canonicalJWK)), unpadded, per RFC 7638.
func jwkThumbprint(pub *rsa.PublicKey) string {
	sum := sha256Sum(canonicalJWK(pub))
	return b64.EncodeToString(sum)
}
