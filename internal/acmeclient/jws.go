package acmeclient

import (
	"crypto/rsa"
	"encoding/json"
)

// JWSMessage is the flattened JWS envelope the CA expects on every POST.
type JWSMessage struct {
	Protected string `json:"protected"`
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
}

// protectedHeader is the JWS protected header: alg, embedded jwk, nonce.
// Key ordering in the marshaled JSON has no wire significance to the CA,
// but nonce must always be present.
type protectedHeader struct {
	Alg   string  `json:"alg"`
	Jwk   jwkJSON `json:"jwk"`
	Nonce string  `json:"nonce"`
}

// buildJWS signs payload with key under the given nonce and returns the
// flattened JWS message.
func buildJWS(key *rsa.PrivateKey, payload []byte, nonce string) (*JWSMessage, error) {
	headerJSON, err := json.Marshal(protectedHeader{
		Alg:   "RS256",
		Jwk:   jwkOf(&key.PublicKey),
		Nonce: nonce,
	})
	if err != nil {
		return nil, err
	}
	protected := b64.EncodeToString(headerJSON)
	encodedPayload := b64.EncodeToString(payload)

	signingInput := protected + "." + encodedPayload
	sig, err := SignRS256(key, []byte(signingInput))
	if err != nil {
		return nil, err
	}

	return &JWSMessage{
		Protected: protected,
		Payload:   encodedPayload,
		Signature: b64.EncodeToString(sig),
	}, nil
}
