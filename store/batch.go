package store

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/StrandLabs/strand/models"
	"golang.org/x/sync/errgroup"
)

// daSubmitConcurrency bounds parallel availability submissions so one
// batch cannot saturate the disperser connection.
const daSubmitConcurrency = 5

// DASubmitter is the slice of the availability service the coordinator
// needs. Satisfied by da.Service.
type DASubmitter interface {
	Submit(ctx context.Context, data []byte) (*models.DASubmission, error)
}

// UploadItem is one named payload within a batch upload.
type UploadItem struct {
	Name     string
	MimeType string
	Payload  io.Reader
}

// BatchCoordinator runs multi-item operations with per-item isolation.
// One failing item never aborts the rest; every item's outcome lands in
// its own result slot and the summary is always produced.
type BatchCoordinator struct {
	logger *slog.Logger
	blobs  *BlobStore
}

func NewBatchCoordinator(logger *slog.Logger, blobs *BlobStore) *BatchCoordinator {
	return &BatchCoordinator{
		logger: logger.WithGroup("batch"),
		blobs:  blobs,
	}
}

// BatchUpload uploads the items in order. Uploads run sequentially: the
// storage network ledger serializes registrations per signer, so
// parallel submissions would only contend.
func (c *BatchCoordinator) BatchUpload(ctx context.Context, items []UploadItem, ownerRef string) *models.BatchResult {
	result := &models.BatchResult{
		Total: len(items),
		Items: make([]models.BatchItemResult, len(items)),
	}

	for i, item := range items {
		slot := &result.Items[i]
		slot.Index = i
		slot.Name = item.Name

		blob, err := c.uploadOne(ctx, item, ownerRef)
		if err != nil {
			slot.Error = err.Error()
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", item.Name, err))
			c.logger.Warn("batch item failed", "index", i, "name", item.Name, "error", err)
			continue
		}

		slot.Success = true
		slot.Size = blob.Size
		slot.RootHash = blob.RootHash
		slot.TxHash = blob.TxHash
		result.Successful++
	}

	result.Success = result.Failed == 0
	c.logger.Info("batch upload finished", "total", result.Total, "successful", result.Successful, "failed", result.Failed)
	return result
}

func (c *BatchCoordinator) uploadOne(ctx context.Context, item UploadItem, ownerRef string) (*models.Blob, error) {
	if ownerRef == "" {
		return c.blobs.Upload(ctx, item.Payload)
	}
	blob, _, err := c.blobs.UploadAttachment(ctx, item.Payload, item.Name, item.MimeType, ownerRef)
	if err != nil && !IsKVWriteFailure(err) {
		return nil, err
	}
	// A metadata write failure is non-fatal; the blob is stored.
	return blob, nil
}

// BatchSubmitDA submits the payloads to the availability network with
// bounded concurrency. Results keep submission order regardless of
// completion order.
func (c *BatchCoordinator) BatchSubmitDA(ctx context.Context, submitter DASubmitter, payloads [][]byte) []models.DASubmissionResult {
	results := make([]models.DASubmissionResult, len(payloads))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(daSubmitConcurrency)

	for i, payload := range payloads {
		g.Go(func() error {
			slot := &results[i]
			slot.Index = i

			sub, err := submitter.Submit(gctx, payload)
			if err != nil {
				slot.Error = err.Error()
				return nil // item isolation: never cancel the group
			}

			slot.Success = true
			slot.Commitment = sub.Commitment
			slot.BlobHash = sub.BlobHash
			slot.BatchID = sub.BatchID
			slot.EstimatedFinalization = sub.EstimatedFinalization
			return nil
		})
	}
	_ = g.Wait()

	return results
}
