package acmeclient

// Wire-shape structs for the v1-style ACME exchange. Field names and JSON
// shapes match the CA's wire protocol exactly, including its literal
// "resource" discriminators.

// Directory is the CA's endpoint listing, fetched once per session.
type Directory struct {
	NewAuthz   string `json:"new-authz"`
	NewReg     string `json:"new-reg"`
	NewCert    string `json:"new-cert"`
	RevokeCert string `json:"revoke-cert"`
}

// Identifier is the `{"type":"dns","value":"<domain>"}` pair used in
// new-authz requests.
type Identifier struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Challenge is one element of an authorization's `challenges` array.
type Challenge struct {
	Type  string `json:"type"`
	URI   string `json:"uri"`
	Token string `json:"token"`
}

// AuthorizationResponse is the body of a new-authz response. Challenge
// polls are read into pollStatus instead.
type AuthorizationResponse struct {
	Status     string      `json:"status"`
	Challenges []Challenge `json:"challenges"`
}

// newRegPayload is the literal `new-reg` request body.
type newRegPayload struct {
	Resource string `json:"resource"`
}

// termsAcceptPayload accepts the CA's terms of service.
type termsAcceptPayload struct {
	Resource  string `json:"resource"`
	Agreement string `json:"agreement"`
}

// newAuthzPayload requests authorization for one domain.
type newAuthzPayload struct {
	Resource   string     `json:"resource"`
	Identifier Identifier `json:"identifier"`
}

// challengePayload acknowledges a challenge, publishing the key
// authorization. The `type` field is required by the CA even though the
// RFC draft at the time did not call for it; it is preserved verbatim.
type challengePayload struct {
	Resource         string `json:"resource"`
	Type             string `json:"type"`
	KeyAuthorization string `json:"keyAuthorization"`
}

// newCertPayload submits the DER CSR, base64url-encoded.
type newCertPayload struct {
	Resource string `json:"resource"`
	Csr      string `json:"csr"`
}

// pollStatus is the minimal shape read back off a challenge-poll GET; only
// Status is inspected.
type pollStatus struct {
	Status string `json:"status"`
}
