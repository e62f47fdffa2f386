package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/StrandLabs/strand/models"
	"github.com/StrandLabs/strand/transport"
	"github.com/pkg/errors"
)

// Overlay keys for attachment metadata. The index entry is written in
// the same transaction as the record so enumeration never observes a
// record without its index or vice versa.
const (
	attachmentKeyPrefix = "att:"
	attachmentIdxPrefix = "att-idx:"
)

type BlobStoreConfig struct {
	Logger   *slog.Logger
	Client   transport.Client
	Selector *NodeSelector

	Signer       string
	FlowContract string

	MaxFileSize    int64
	MetadataStream uint64
	StagingDir     string
}

// BlobStore performs content-addressed uploads and proof-checked
// downloads against the storage network.
type BlobStore struct {
	logger    *slog.Logger
	client    transport.Client
	selector  *NodeSelector
	addresser *ContentAddresser

	signer       string
	flowContract string

	maxFileSize    int64
	metadataStream uint64
	stagingDir     string
}

func NewBlobStore(cfg BlobStoreConfig) *BlobStore {
	return &BlobStore{
		logger:         cfg.Logger.WithGroup("blob_store"),
		client:         cfg.Client,
		selector:       cfg.Selector,
		addresser:      NewContentAddresser(DefaultChunkSize),
		signer:         cfg.Signer,
		flowContract:   cfg.FlowContract,
		maxFileSize:    cfg.MaxFileSize,
		metadataStream: cfg.MetadataStream,
		stagingDir:     cfg.StagingDir,
	}
}

// Upload stages the payload, computes its content tree, selects storage
// nodes and registers the blob. The signer gate and the size gate both
// run before any network traffic.
func (b *BlobStore) Upload(ctx context.Context, payload io.Reader) (*models.Blob, error) {
	if b.signer == "" {
		return nil, ErrNoSigner
	}

	tmp, err := os.CreateTemp(b.stagingDir, "strand-upload-*")
	if err != nil {
		return nil, errors.Wrap(ErrUploadFailed, fmt.Sprintf("could not stage payload: %v", err))
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	// The tree walk and the staging copy share one pass over the input.
	rootHash, size, err := b.addresser.ComputeTree(io.TeeReader(payload, tmp))
	if err != nil {
		return nil, err
	}
	if b.maxFileSize > 0 && size > b.maxFileSize {
		return nil, errors.Wrapf(ErrPayloadTooLarge, "%d bytes exceeds limit of %d", size, b.maxFileSize)
	}

	nodes, err := b.selector.Select(ctx, 0, 0, nil)
	if err != nil {
		return nil, err
	}

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, errors.Wrap(ErrUploadFailed, fmt.Sprintf("could not rewind staged payload: %v", err))
	}

	txHash, err := b.client.SubmitBlob(ctx, rootHash, tmp, size, nodes)
	if err != nil {
		b.logger.Error("blob submission failed", "rootHash", rootHash, "size", size, "error", err)
		return nil, errors.Wrap(ErrUploadFailed, err.Error())
	}

	b.logger.Info("blob uploaded", "rootHash", rootHash, "size", size, "txHash", txHash)
	return &models.Blob{
		RootHash:   rootHash,
		TxHash:     txHash,
		Size:       size,
		UploadedAt: time.Now().UTC(),
	}, nil
}

// Download retrieves a blob by root hash. With proof checking enabled
// the payload's content tree is recomputed and compared against the
// requested root; a mismatch is rejected, never returned.
func (b *BlobStore) Download(ctx context.Context, rootHash string, withProof bool) ([]byte, error) {
	data, err := b.client.FetchBlob(ctx, rootHash)
	if err != nil {
		if errors.Is(err, transport.ErrNotFound) {
			return nil, errors.Wrap(ErrDownloadFailed, "unknown root hash")
		}
		return nil, errors.Wrap(ErrDownloadFailed, err.Error())
	}

	if withProof {
		computed, err := b.addresser.ComputeRoot(data)
		if err != nil {
			return nil, errors.Wrap(ErrProofVerification, err.Error())
		}
		if computed != rootHash {
			b.logger.Warn("proof verification rejected payload", "requested", rootHash, "computed", computed)
			return nil, errors.Wrapf(ErrProofVerification, "payload hashes to %s", computed)
		}
	}

	return data, nil
}

// UploadAttachment uploads a named file and records its metadata in the
// overlay. The blob upload is authoritative; a metadata write failure is
// reported through ErrKVWriteFailed alongside the successful blob so
// callers can log it without failing the upload.
func (b *BlobStore) UploadAttachment(ctx context.Context, payload io.Reader, name, mimeType, ownerRef string) (*models.Blob, *models.AttachmentMetadata, error) {
	blob, err := b.Upload(ctx, payload)
	if err != nil {
		return nil, nil, err
	}
	blob.MimeType = mimeType

	meta := &models.AttachmentMetadata{
		Name:       name,
		Size:       blob.Size,
		Type:       mimeType,
		RootHash:   blob.RootHash,
		UploadedAt: blob.UploadedAt,
		TxHash:     blob.TxHash,
		OwnerRef:   ownerRef,
	}

	if err := b.writeAttachmentMetadata(ctx, meta); err != nil {
		b.logger.Warn("attachment metadata write failed, blob is stored", "rootHash", blob.RootHash, "owner", ownerRef, "error", err)
		return blob, meta, errors.Wrap(ErrKVWriteFailed, err.Error())
	}

	return blob, meta, nil
}

func (b *BlobStore) writeAttachmentMetadata(ctx context.Context, meta *models.AttachmentMetadata) error {
	if b.flowContract == "" {
		return ErrFlowNotConfigured
	}

	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	ops := []models.KVOperation{
		{
			StreamID: b.metadataStream,
			Key:      attachmentKeyPrefix + meta.RootHash,
			Value:    string(raw),
			Op:       models.KVOpSet,
		},
		{
			StreamID: b.metadataStream,
			Key:      fmt.Sprintf("%s%s:%s", attachmentIdxPrefix, meta.OwnerRef, meta.RootHash),
			Value:    meta.RootHash,
			Op:       models.KVOpSet,
		},
	}

	_, err = b.client.KVBatch(ctx, ops)
	return err
}

// Attachments enumerates the metadata records tied to an owner via the
// overlay index. Records the index points at but which fail to load are
// skipped with a warning rather than failing the listing.
func (b *BlobStore) Attachments(ctx context.Context, ownerRef string) ([]models.AttachmentMetadata, error) {
	prefix := fmt.Sprintf("%s%s:", attachmentIdxPrefix, ownerRef)
	keys, err := b.client.KVIterate(ctx, b.metadataStream, prefix, 0, 0)
	if err != nil {
		return nil, errors.Wrap(err, "could not enumerate attachment index")
	}

	out := make([]models.AttachmentMetadata, 0, len(keys))
	for _, key := range keys {
		rootHash := key[len(prefix):]
		raw, err := b.client.KVGet(ctx, b.metadataStream, attachmentKeyPrefix+rootHash)
		if err != nil {
			b.logger.Warn("attachment record missing for indexed hash", "rootHash", rootHash, "error", err)
			continue
		}
		var meta models.AttachmentMetadata
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			b.logger.Warn("attachment record is corrupt", "rootHash", rootHash, "error", err)
			continue
		}
		out = append(out, meta)
	}
	return out, nil
}
