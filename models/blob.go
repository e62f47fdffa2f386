package models

import "time"

// Blob is the record returned for a successful content-addressed upload.
// RootHash is a deterministic function of the payload bytes; re-uploading
// identical bytes yields the same RootHash but may yield a new TxHash.
type Blob struct {
	// RootHash is the canonical content identifier derived from the
	// payload's chunked merkle tree. 64 hex characters.
	RootHash string `json:"rootHash"`
	// TxHash identifies the ledger transaction that registered the upload.
	TxHash string `json:"txHash"`
	// Size is the payload size in bytes.
	Size int64 `json:"size"`
	// MimeType is set for attachment uploads, empty otherwise.
	MimeType string `json:"mimeType,omitempty"`
	// UploadedAt is when the network accepted the upload.
	UploadedAt time.Time `json:"uploadedAt"`
}

// StorageNode is a candidate participant for a single upload or KV
// operation. Selections are ephemeral; nodes are re-selected per call.
type StorageNode struct {
	NodeID    string `json:"nodeId"`
	Endpoint  string `json:"endpoint"`
	Capacity  int64  `json:"capacity"`
	Available bool   `json:"available"`
}

// AttachmentMetadata describes a blob tied to a logical owner. It is
// written into the KV overlay; the blob itself is the source of truth,
// the metadata record is best-effort.
type AttachmentMetadata struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	Type       string    `json:"type"`
	RootHash   string    `json:"rootHash"`
	UploadedAt time.Time `json:"uploadedAt"`
	TxHash     string    `json:"txHash"`
	OwnerRef   string    `json:"ownerRef"`
}
