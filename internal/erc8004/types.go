// Package erc8004 wraps the ERC-8004 identity, reputation and validation
// registries: agent registration and discovery, feedback and attestations.
package erc8004

import (
	"net/http"

	xerrors "BNBChain-AgentKit/internal/errors"
)

// RegistrationType is the schema identifier of registration documents.
const RegistrationType = "https://eips.ethereum.org/EIPS/eip-8004#registration-v1"

// TrustModel names a trust mechanism an agent supports.
type TrustModel string

const (
	TrustReputation            TrustModel = "reputation"
	TrustCryptoEconomic        TrustModel = "crypto-economic"
	TrustTEEAttestation        TrustModel = "tee-attestation"
	TrustVerifiableCredentials TrustModel = "verifiable-credentials"
)

// ValidTrustModel reports whether m is one of the known models.
func ValidTrustModel(m TrustModel) bool {
	switch m {
	case TrustReputation, TrustCryptoEconomic, TrustTEEAttestation, TrustVerifiableCredentials:
		return true
	}
	return false
}

// Service is an endpoint advertised by an agent, e.g. A2A or MCP.
type Service struct {
	Name     string `json:"name"`
	Endpoint string `json:"endpoint"`
	Version  string `json:"version,omitempty"`
}

// RegistrationRef links a registration document to its on-chain token.
type RegistrationRef struct {
	AgentID       uint64 `json:"agentId"`
	AgentRegistry string `json:"agentRegistry"`
}

// Registration is the JSON document stored as the agent URI.
type Registration struct {
	Type           string            `json:"type"`
	Name           string            `json:"name"`
	Description    string            `json:"description"`
	Image          string            `json:"image,omitempty"`
	Services       []Service         `json:"services"`
	X402Support    bool              `json:"x402Support"`
	Active         bool              `json:"active"`
	Registrations  []RegistrationRef `json:"registrations"`
	SupportedTrust []TrustModel      `json:"supportedTrust"`
}

// AgentIdentity describes an agent token.
type AgentIdentity struct {
	AgentID          uint64        `json:"agentId"`
	Owner            string        `json:"owner"`
	AgentURI         string        `json:"agentURI"`
	Chain            string        `json:"chain"`
	RegistrationData *Registration `json:"registrationData,omitempty"`
}

// MetadataEntry is an on-chain key/value pair; values are stored as UTF-8
// bytes.
type MetadataEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Feedback is one reputation entry.
type Feedback struct {
	Reviewer  string `json:"reviewer"`
	Score     int    `json:"score"`
	Comment   string `json:"comment"`
	Timestamp int64  `json:"timestamp"`
}

// ReputationSummary aggregates an agent's feedback.
type ReputationSummary struct {
	AgentID        uint64     `json:"agentId"`
	AverageScore   int64      `json:"averageScore"`
	FeedbackCount  int        `json:"feedbackCount"`
	RecentFeedback []Feedback `json:"recentFeedback"`
}

// ValidationRecord is one attestation.
type ValidationRecord struct {
	Validator       string `json:"validator"`
	AttestationType string `json:"attestationType"`
	AttestationData string `json:"attestationData"`
	Timestamp       int64  `json:"timestamp"`
}

// ValidationStatus lists the attestations found for an agent.
type ValidationStatus struct {
	AgentID   uint64             `json:"agentId"`
	Validated bool               `json:"validated"`
	Records   []ValidationRecord `json:"records"`
}

// CommonAttestationTypes are checked by ValidationManager.Status.
var CommonAttestationTypes = []string{"identity", "capability", "security", "compliance"}

const (
	CodeAgentNotRegistered   xerrors.Code = "AGENT_NOT_REGISTERED"
	CodeRegistryNotDeployed  xerrors.Code = "REGISTRY_NOT_DEPLOYED"
	CodeRegistrationNotFound xerrors.Code = "REGISTRATION_EVENT_NOT_FOUND"
)

func init() {
	xerrors.Register(CodeAgentNotRegistered, xerrors.Attributes{
		Message:    "no agent registered",
		Severity:   xerrors.SeverityInfo,
		HTTPStatus: http.StatusConflict,
	})
	xerrors.Register(CodeRegistryNotDeployed, xerrors.Attributes{
		Message:    "registry not deployed on this chain",
		Severity:   xerrors.SeverityInfo,
		HTTPStatus: http.StatusBadRequest,
	})
	xerrors.Register(CodeRegistrationNotFound, xerrors.Attributes{
		Message:  "registration event not found in transaction receipt",
		Severity: xerrors.SeverityWarning,
		Alert:    true,
	})
}
