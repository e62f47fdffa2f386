package da

import (
	"encoding/json"
	"time"

	"github.com/StrandLabs/strand/models"
	"github.com/pkg/errors"
)

var validLifecycleStatuses = map[string]bool{
	models.LifecycleIssued:      true,
	models.LifecyclePaid:        true,
	models.LifecycleTransferred: true,
	models.LifecycleRecycled:    true,
	models.LifecycleExpired:     true,
}

// ValidateRecord checks the structural invariants a record must satisfy
// before dispersal: identity, device block, a populated proof block and
// a known lifecycle status.
func ValidateRecord(record *models.DARecord) error {
	if record == nil {
		return errors.New("record is nil")
	}
	if record.ID == "" {
		return errors.New("record id is required")
	}
	if record.Device.Manufacturer == "" {
		return errors.New("device manufacturer is required")
	}
	if record.Device.Model == "" {
		return errors.New("device model is required")
	}
	if record.Proofs.MerkleRoot == "" {
		return errors.New("proof block is missing its merkle root")
	}
	if !validLifecycleStatuses[record.Lifecycle.Status] {
		return errors.Errorf("unknown lifecycle status '%s'", record.Lifecycle.Status)
	}
	if record.CreatedAt.IsZero() {
		return errors.New("record creation time is required")
	}
	for i, ref := range record.Attachments {
		if ref.RootHash == "" {
			return errors.Errorf("attachment %d is missing its root hash", i)
		}
	}
	return nil
}

// MarshalRecord validates and serializes a record for dispersal,
// stamping UpdatedAt.
func MarshalRecord(record *models.DARecord) ([]byte, error) {
	if err := ValidateRecord(record); err != nil {
		return nil, errors.Wrap(err, "record validation failed")
	}
	record.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(record)
	if err != nil {
		return nil, errors.Wrap(err, "record serialization failed")
	}
	return data, nil
}

// UnmarshalRecord parses dispersed bytes back into a record. Structural
// validation is the caller's choice.
func UnmarshalRecord(data []byte) (*models.DARecord, error) {
	var record models.DARecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, errors.Wrap(err, "payload is not a structured record")
	}
	return &record, nil
}
