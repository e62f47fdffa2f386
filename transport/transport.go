package transport

import (
	"context"
	"errors"
	"io"

	"github.com/StrandLabs/strand/models"
)

/*
	The transport is the boundary to the storage and availability networks.
	Everything above it (blob store, KV overlay, DA service) is written
	against this interface; two implementations exist:

	  - Remote: HTTP client against the real network endpoints.
	  - Local:  badger-backed in-process network for development and tests,
	            used automatically when no RPC endpoint is configured.

	Timeouts are the caller's concern; every method takes a context and a
	timed-out call surfaces the same way a remote failure does.
*/

var (
	ErrNotFound    = errors.New("not found on network")
	ErrUnavailable = errors.New("network unavailable")
)

type Client interface {
	// SelectNodes queries the network directory for candidate storage
	// nodes. The returned set excludes the given node ids. An empty
	// candidate set is an error, never an empty success.
	SelectNodes(ctx context.Context, segment, replicas uint64, excluded []string) ([]models.StorageNode, error)

	// SubmitBlob registers payload bytes under the given root hash with
	// the selected nodes and returns the ledger transaction hash.
	SubmitBlob(ctx context.Context, rootHash string, payload io.Reader, size int64, nodes []models.StorageNode) (string, error)

	// FetchBlob retrieves the payload bytes for a root hash.
	FetchBlob(ctx context.Context, rootHash string) ([]byte, error)

	// KVGet reads a single overlay entry. ErrNotFound when the key was
	// never written or was deleted.
	KVGet(ctx context.Context, streamID uint64, key string) (string, error)

	// KVBatch folds the operations into one overlay transaction. The
	// transaction succeeds or fails as a whole; the tx hash is returned
	// on success.
	KVBatch(ctx context.Context, ops []models.KVOperation) (string, error)

	// KVIterate lists keys under a prefix within a stream, when the
	// backing store supports prefix scans.
	KVIterate(ctx context.Context, streamID uint64, prefix string, offset, limit int) ([]string, error)

	// Disperse submits data to the availability-attestation network and
	// returns (commitment, blobHash, batchID).
	Disperse(ctx context.Context, data []byte, sec models.SecurityParams) (string, string, string, error)

	// RetrieveDispersal fetches previously dispersed data by commitment.
	RetrieveDispersal(ctx context.Context, commitment string, blobIndex int) ([]byte, error)

	// DispersalStatus returns the network's raw numeric status code for
	// a commitment.
	DispersalStatus(ctx context.Context, commitment string) (int, error)

	// DispersalExists is a cheap existence probe; no payload transfer.
	DispersalExists(ctx context.Context, commitment string) (bool, error)

	// BlockNumber reports the network's current ledger height.
	BlockNumber(ctx context.Context) (uint64, error)

	// Ping checks liveness of the primary endpoint.
	Ping(ctx context.Context) error

	Close() error
}
