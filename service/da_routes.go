package service

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/StrandLabs/strand/da"
	"github.com/StrandLabs/strand/models"
	"github.com/StrandLabs/strand/store"
	"github.com/pkg/errors"
)

func (s *Service) daSubmitHandler(w http.ResponseWriter, r *http.Request) {
	var record models.DARecord
	if err := decodeBody(r, &record); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := da.ValidateRecord(&record); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Timeouts.Submit)
	defer cancel()

	sub, err := s.da.SubmitRecord(ctx, &record)
	if err != nil {
		s.writeError(w, statusForStoreError(err), err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":               true,
		"commitment":            sub.Commitment,
		"blobHash":              sub.BlobHash,
		"batchId":               sub.BatchID,
		"estimatedFinalization": sub.EstimatedFinalization,
	})
}

func (s *Service) daSubmitBatchHandler(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Receipts []models.DARecord `json:"receipts"`
	}
	if err := decodeBody(r, &payload); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(payload.Receipts) == 0 {
		s.writeError(w, http.StatusBadRequest, "receipts must not be empty")
		return
	}

	// Records that fail validation take their failure slot without ever
	// reaching the network; only the valid remainder is dispersed.
	results := make([]models.DASubmissionResult, len(payload.Receipts))
	var (
		validPayloads [][]byte
		validIndexes  []int
	)
	for i := range payload.Receipts {
		results[i].Index = i
		data, err := da.MarshalRecord(&payload.Receipts[i])
		if err != nil {
			results[i].Error = err.Error()
			continue
		}
		validPayloads = append(validPayloads, data)
		validIndexes = append(validIndexes, i)
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Timeouts.Submit)
	defer cancel()

	submitted := s.batch.BatchSubmitDA(ctx, s.da, validPayloads)
	for j, res := range submitted {
		res.Index = validIndexes[j]
		results[res.Index] = res
	}

	successful := 0
	for _, res := range results {
		if res.Success {
			successful++
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":    successful == len(results),
		"total":      len(results),
		"successful": successful,
		"failed":     len(results) - successful,
		"results":    results,
	})
}

func (s *Service) daRetrieveHandler(w http.ResponseWriter, r *http.Request) {
	commitment := r.PathValue("commitment")

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Timeouts.Transfer)
	defer cancel()

	start := time.Now()
	data, verified, err := s.da.Retrieve(ctx, commitment, 0)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// A verified payload is a well-formed JSON record; return it as-is.
	// Anything else travels as base64 bytes.
	var wire any = data
	if verified {
		wire = json.RawMessage(data)
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"data":          wire,
		"verified":      verified,
		"retrievalTime": time.Since(start).String(),
	})
}

func (s *Service) daVerifyHandler(w http.ResponseWriter, r *http.Request) {
	commitment := r.PathValue("commitment")

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Timeouts.Probe)
	defer cancel()

	available := s.da.CheckAvailability(ctx, commitment)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"available": available,
	})
}

func (s *Service) daStatusHandler(w http.ResponseWriter, r *http.Request) {
	commitment := r.PathValue("commitment")

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Timeouts.Probe)
	defer cancel()

	c, err := s.da.GetCommitment(ctx, commitment)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "unknown commitment")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		models.DACommitment
	}{Success: true, DACommitment: *c})
}

func (s *Service) daEstimateCostHandler(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		DataSize int64 `json:"dataSize"`
	}
	if err := decodeBody(r, &payload); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	estimate := s.cost.Estimate(payload.DataSize)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"cost":        estimate.TotalCost,
		"gasEstimate": estimate.EstimatedGas,
		"breakdown":   estimate,
	})
}
