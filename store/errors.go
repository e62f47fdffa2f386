package store

import "errors"

/*
	Every failure surfaced by the storage layer maps onto one of these
	sentinels so callers can branch with errors.Is without string
	matching. Wrapped causes carry the detail.
*/

var (
	// ErrNoSigner is returned before any network traffic when a write
	// operation runs without a configured signing credential.
	ErrNoSigner = errors.New("no signing credential configured")

	// ErrTreeGeneration is returned when the content tree for a payload
	// cannot be computed.
	ErrTreeGeneration = errors.New("content tree generation failed")

	// ErrNodeSelection is returned when the network yields no usable
	// storage nodes.
	ErrNodeSelection = errors.New("storage node selection failed")

	// ErrUploadFailed wraps any failure between node selection and the
	// ledger transaction confirming the upload.
	ErrUploadFailed = errors.New("blob upload failed")

	// ErrDownloadFailed wraps retrieval failures, including unknown root
	// hashes.
	ErrDownloadFailed = errors.New("blob download failed")

	// ErrProofVerification is returned when downloaded bytes do not
	// reproduce the requested root hash.
	ErrProofVerification = errors.New("proof verification failed")

	// ErrPayloadTooLarge is returned before any network traffic when a
	// payload exceeds the configured maximum.
	ErrPayloadTooLarge = errors.New("payload exceeds maximum size")

	// ErrFlowNotConfigured is returned when a KV mutation runs without a
	// configured flow contract.
	ErrFlowNotConfigured = errors.New("flow contract not configured")

	// ErrKVWriteFailed marks a metadata write that failed after the blob
	// itself was safely stored. Non-fatal for the upload.
	ErrKVWriteFailed = errors.New("kv metadata write failed")

	// ErrNotFound is returned for reads of keys or hashes that do not
	// exist.
	ErrNotFound = errors.New("not found")
)

// IsKVWriteFailure reports whether the error is the non-fatal
// metadata-write failure a caller should log and otherwise ignore.
func IsKVWriteFailure(err error) bool {
	return errors.Is(err, ErrKVWriteFailed)
}
