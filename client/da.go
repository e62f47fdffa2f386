package client

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/StrandLabs/strand/models"
)

// SubmitRecord disperses a structured record to the availability
// network through the gateway.
func (c *Client) SubmitRecord(ctx context.Context, record *models.DARecord) (*models.DASubmission, error) {
	var result struct {
		Success               bool      `json:"success"`
		Commitment            string    `json:"commitment"`
		BlobHash              string    `json:"blobHash"`
		BatchID               string    `json:"batchId"`
		EstimatedFinalization time.Time `json:"estimatedFinalization"`
	}
	if err := c.doRequest(ctx, http.MethodPost, "/da/submit", nil, record, &result); err != nil {
		return nil, err
	}
	return &models.DASubmission{
		Commitment:            result.Commitment,
		BlobHash:              result.BlobHash,
		BatchID:               result.BatchID,
		EstimatedFinalization: result.EstimatedFinalization,
	}, nil
}

// SubmitRecordBatch disperses many records; per-item outcomes are
// isolated in the result slots.
func (c *Client) SubmitRecordBatch(ctx context.Context, records []models.DARecord) ([]models.DASubmissionResult, error) {
	var result struct {
		Success bool                        `json:"success"`
		Results []models.DASubmissionResult `json:"results"`
	}
	payload := map[string]any{"receipts": records}
	if err := c.doRequest(ctx, http.MethodPost, "/da/submit-batch", nil, payload, &result); err != nil {
		return nil, err
	}
	return result.Results, nil
}

// Retrieve fetches dispersed bytes by commitment. verified reports
// whether the payload parsed as a structurally valid record. The
// gateway sends verified records as raw JSON and anything else as
// base64 bytes.
func (c *Client) Retrieve(ctx context.Context, commitment string) ([]byte, bool, error) {
	var result struct {
		Success  bool            `json:"success"`
		Data     json.RawMessage `json:"data"`
		Verified bool            `json:"verified"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/da/retrieve/"+commitment, nil, nil, &result); err != nil {
		return nil, false, err
	}
	if result.Verified {
		return []byte(result.Data), true, nil
	}
	var data []byte
	if err := json.Unmarshal(result.Data, &data); err != nil {
		return nil, false, err
	}
	return data, false, nil
}

// Verify is the boolean availability probe.
func (c *Client) Verify(ctx context.Context, commitment string) (bool, error) {
	var result struct {
		Success   bool `json:"success"`
		Available bool `json:"available"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/da/verify/"+commitment, nil, nil, &result); err != nil {
		return false, err
	}
	return result.Available, nil
}

// Status reports the commitment's attestation status.
func (c *Client) Status(ctx context.Context, commitment string) (models.DAStatus, error) {
	var result struct {
		Success bool            `json:"success"`
		Status  models.DAStatus `json:"status"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/da/status/"+commitment, nil, nil, &result); err != nil {
		return "", err
	}
	return result.Status, nil
}

// EstimateCost quotes an upload of the given size.
func (c *Client) EstimateCost(ctx context.Context, sizeBytes int64) (float64, uint64, error) {
	var result struct {
		Success     bool    `json:"success"`
		Cost        float64 `json:"cost"`
		GasEstimate uint64  `json:"gasEstimate"`
	}
	payload := map[string]any{"dataSize": sizeBytes}
	if err := c.doRequest(ctx, http.MethodPost, "/da/estimate-cost", nil, payload, &result); err != nil {
		return 0, 0, err
	}
	return result.Cost, result.GasEstimate, nil
}
