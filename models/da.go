package models

import "time"

/*
	Records submitted to the availability-attestation network. A submission
	yields a commitment identifier; the commitment walks a strict
	three-state machine driven entirely by polling:

		pending -> confirmed -> finalized

	No transition skips a state and no transition runs backward. A
	finalized commitment is immutable.
*/

type DAStatus string

const (
	DAStatusPending   DAStatus = "pending"
	DAStatusConfirmed DAStatus = "confirmed"
	DAStatusFinalized DAStatus = "finalized"
)

// Raw status codes as reported by the attestation network.
const (
	DAStatusCodePending   = 0
	DAStatusCodeConfirmed = 1
	DAStatusCodeFinalized = 2
)

// StatusFromCode maps the network's raw numeric status onto the enum.
// Unknown codes default to pending: fail safe toward "not yet final".
func StatusFromCode(code int) DAStatus {
	switch code {
	case DAStatusCodeConfirmed:
		return DAStatusConfirmed
	case DAStatusCodeFinalized:
		return DAStatusFinalized
	default:
		return DAStatusPending
	}
}

// Rank orders statuses for monotonicity checks. Higher never regresses
// to lower.
func (s DAStatus) Rank() int {
	switch s {
	case DAStatusConfirmed:
		return 1
	case DAStatusFinalized:
		return 2
	default:
		return 0
	}
}

// SecurityParams govern how many network participants must attest before
// a submission is considered confirmed. Sent with every dispersal.
type SecurityParams struct {
	QuorumID              uint32 `json:"quorumId"`
	AdversaryThreshold    uint8  `json:"adversaryThreshold"`    // percent
	ConfirmationThreshold uint8  `json:"confirmationThreshold"` // percent
}

type DACommitment struct {
	Commitment string   `json:"commitment"`
	BlobHash   string   `json:"blobHash"`
	DataSize   int64    `json:"dataSize"`
	Status     DAStatus `json:"status"`
	BatchID    string   `json:"batchId,omitempty"`
	QuorumID   uint32   `json:"quorumId,omitempty"`
}

// DASubmission is the immediate result of a successful submit.
// EstimatedFinalization is a best-effort wall-clock estimate, not a
// guarantee.
type DASubmission struct {
	Commitment            string    `json:"commitment"`
	BlobHash              string    `json:"blobHash"`
	BatchID               string    `json:"batchId"`
	DataSize              int64     `json:"dataSize"`
	EstimatedFinalization time.Time `json:"estimatedFinalization"`
}

// Lifecycle statuses a DA record may carry.
const (
	LifecycleIssued      = "issued"
	LifecyclePaid        = "paid"
	LifecycleTransferred = "transferred"
	LifecycleRecycled    = "recycled"
	LifecycleExpired     = "expired"
)

type DeviceInfo struct {
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	SerialNumber string `json:"serialNumber,omitempty"`
	Category     string `json:"category,omitempty"`
}

type PurchaseInfo struct {
	Merchant   string    `json:"merchant,omitempty"`
	PriceCents int64     `json:"priceCents,omitempty"`
	Currency   string    `json:"currency,omitempty"`
	Date       time.Time `json:"date,omitempty"`
}

type WarrantyInfo struct {
	Provider  string    `json:"provider,omitempty"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
	Terms     string    `json:"terms,omitempty"`
}

type SustainabilityInfo struct {
	CarbonGrams    int64  `json:"carbonGrams,omitempty"`
	RecycledRatio  string `json:"recycledRatio,omitempty"`
	EnergyRating   string `json:"energyRating,omitempty"`
	RepairabilityX int    `json:"repairabilityIndex,omitempty"`
}

type ProofBlock struct {
	MerkleRoot string   `json:"merkleRoot"`
	Signatures []string `json:"signatures,omitempty"`
	Issuer     string   `json:"issuer,omitempty"`
}

type AttachmentRef struct {
	Name     string `json:"name"`
	RootHash string `json:"rootHash"`
	Size     int64  `json:"size,omitempty"`
	Type     string `json:"type,omitempty"`
}

type LifecycleEvent struct {
	Status string    `json:"status"`
	At     time.Time `json:"at"`
	Note   string    `json:"note,omitempty"`
}

type LifecycleBlock struct {
	Status  string           `json:"status"`
	History []LifecycleEvent `json:"history,omitempty"`
}

// DARecord is the structured document handed to the attestation network.
// It must serialize to fewer bytes than the configured max blob size.
type DARecord struct {
	ID             string             `json:"id"`
	Device         DeviceInfo         `json:"device"`
	Purchase       PurchaseInfo       `json:"purchase,omitempty"`
	Warranty       WarrantyInfo       `json:"warranty,omitempty"`
	Sustainability SustainabilityInfo `json:"sustainability,omitempty"`
	Technical      map[string]string  `json:"technical,omitempty"`
	Proofs         ProofBlock         `json:"proofs"`
	Attachments    []AttachmentRef    `json:"attachments,omitempty"`
	Lifecycle      LifecycleBlock     `json:"lifecycle"`
	CreatedAt      time.Time          `json:"createdAt"`
	UpdatedAt      time.Time          `json:"updatedAt,omitempty"`
}
