package model

// SecurityStatus is the classification a resolver assigns to a domain.
type SecurityStatus string

const (
	// StatusSecure means at least one non-revoked certificate exists for the domain.
	StatusSecure SecurityStatus = "secure"
	// StatusInsecure means the input is a valid domain with no valid certificate.
	StatusInsecure SecurityStatus = "insecure"
	// StatusUnknown means the input was empty or not a domain.
	StatusUnknown SecurityStatus = "unknown"
)

// Resolution is the answer to "is this domain currently secure?".
type Resolution struct {
	Input       string         `json:"input"`
	Host        string         `json:"host,omitempty"`
	Status      SecurityStatus `json:"status"`
	Certificate *Certificate   `json:"certificate,omitempty"`
	Candidates  int            `json:"candidates"` // non-revoked certificates for Host
}
