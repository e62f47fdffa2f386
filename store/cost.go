package store

import "github.com/StrandLabs/strand/config"

// CostEstimate is a pre-upload quote. Figures are advisory; actual
// network charges are settled by the ledger at submission time.
type CostEstimate struct {
	SizeBytes    int64   `json:"sizeBytes"`
	StorageCost  float64 `json:"storageCost"`
	NetworkFee   float64 `json:"networkFee"`
	TotalCost    float64 `json:"totalCost"`
	EstimatedGas uint64  `json:"estimatedGas"`
}

// Estimator prices an upload from its size alone. It is pure: no
// network calls, no state, and it never fails. Nonsensical input falls
// back to a conservative single-byte quote rather than an error.
type Estimator struct {
	cfg config.Cost
}

func NewEstimator(cfg config.Cost) *Estimator {
	return &Estimator{cfg: cfg}
}

func (e *Estimator) Estimate(sizeBytes int64) CostEstimate {
	if sizeBytes <= 0 {
		sizeBytes = 1
	}

	storage := e.cfg.Base + float64(sizeBytes)*e.cfg.PerByte

	// Gas scales with whole kilobytes, rounded up.
	kb := uint64(sizeBytes) / 1000
	if uint64(sizeBytes)%1000 != 0 {
		kb++
	}

	return CostEstimate{
		SizeBytes:    sizeBytes,
		StorageCost:  storage,
		NetworkFee:   e.cfg.NetworkFee,
		TotalCost:    storage + e.cfg.NetworkFee,
		EstimatedGas: kb * e.cfg.PerKBGas,
	}
}
