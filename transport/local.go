package transport

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/StrandLabs/strand/models"
	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

/*
	Local is the in-process fallback network: a badger-backed
	implementation of the transport used when no remote endpoints are
	configured, and by tests. It mimics the remote network's observable
	behavior, including the pending -> confirmed -> finalized walk of
	dispersed blobs, which is driven by wall-clock delays.
*/

const (
	localBlobPrefix = "blob:"
	localKVPrefix   = "kv:"
	localDAPrefix   = "da:"

	defaultLocalNodeCount = 8
)

type LocalConfig struct {
	Directory string
	Logger    *slog.Logger

	// Delays before a dispersed commitment reads as confirmed and then
	// finalized. Zero values pick development-friendly defaults.
	ConfirmAfter  time.Duration
	FinalizeAfter time.Duration

	NodeCount int
}

type Local struct {
	logger *slog.Logger
	db     *badger.DB
	cfg    LocalConfig
	nodes  []models.StorageNode
}

var _ Client = (*Local)(nil)

type dispersalRecord struct {
	Data        []byte                `json:"data"`
	BlobHash    string                `json:"blob_hash"`
	BatchID     string                `json:"batch_id"`
	Security    models.SecurityParams `json:"security"`
	SubmittedAt time.Time             `json:"submitted_at"`
}

func NewLocal(cfg LocalConfig) (*Local, error) {
	if cfg.Directory == "" {
		return nil, fmt.Errorf("directory cannot be empty")
	}
	if err := os.MkdirAll(cfg.Directory, 0755); err != nil {
		return nil, fmt.Errorf("could not create local transport directory: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.WithGroup("local_transport")

	db, err := badger.Open(badger.DefaultOptions(cfg.Directory).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("could not open local transport store: %w", err)
	}

	if cfg.ConfirmAfter == 0 {
		cfg.ConfirmAfter = 500 * time.Millisecond
	}
	if cfg.FinalizeAfter <= cfg.ConfirmAfter {
		cfg.FinalizeAfter = cfg.ConfirmAfter * 4
	}
	if cfg.NodeCount <= 0 {
		cfg.NodeCount = defaultLocalNodeCount
	}

	// Synthetic node directory. Stable ids so exclusion sets behave the
	// same across calls.
	nodes := make([]models.StorageNode, 0, cfg.NodeCount)
	for i := 0; i < cfg.NodeCount; i++ {
		nodes = append(nodes, models.StorageNode{
			NodeID:    fmt.Sprintf("local-node-%d", i),
			Endpoint:  fmt.Sprintf("local://node-%d", i),
			Capacity:  1 << 30,
			Available: true,
		})
	}

	logger.Info("Local transport initialized", "directory", cfg.Directory, "nodes", cfg.NodeCount)

	return &Local{
		logger: logger,
		db:     db,
		cfg:    cfg,
		nodes:  nodes,
	}, nil
}

func (l *Local) Close() error {
	return l.db.Close()
}

func newTxHash() string {
	sum := sha256.Sum256([]byte(uuid.NewString()))
	return hex.EncodeToString(sum[:])
}

func (l *Local) SelectNodes(ctx context.Context, segment, replicas uint64, excluded []string) ([]models.StorageNode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	skip := make(map[string]bool, len(excluded))
	for _, id := range excluded {
		skip[id] = true
	}

	// Segment rotates the starting point so distinct segments spread
	// across the directory.
	selected := make([]models.StorageNode, 0, replicas)
	for i := 0; i < len(l.nodes) && uint64(len(selected)) < replicas; i++ {
		n := l.nodes[(int(segment)+i)%len(l.nodes)]
		if skip[n.NodeID] || !n.Available {
			continue
		}
		selected = append(selected, n)
	}
	return selected, nil
}

func (l *Local) SubmitBlob(ctx context.Context, rootHash string, payload io.Reader, size int64, nodes []models.StorageNode) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := io.ReadAll(payload)
	if err != nil {
		return "", fmt.Errorf("could not read blob payload: %w", err)
	}
	if int64(len(data)) != size {
		return "", fmt.Errorf("blob size mismatch: expected %d, got %d", size, len(data))
	}

	err = l.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(localBlobPrefix+rootHash), data)
	})
	if err != nil {
		return "", errors.Wrap(err, "could not store blob")
	}
	return newTxHash(), nil
}

func (l *Local) FetchBlob(ctx context.Context, rootHash string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var data []byte
	err := l.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(localBlobPrefix + rootHash))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func localKVKey(streamID uint64, key string) []byte {
	return []byte(fmt.Sprintf("%s%d:%s", localKVPrefix, streamID, key))
}

func (l *Local) KVGet(ctx context.Context, streamID uint64, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var value []byte
	err := l.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(localKVKey(streamID, key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return "", err
	}
	return string(value), nil
}

func (l *Local) KVBatch(ctx context.Context, ops []models.KVOperation) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(ops) == 0 {
		return "", fmt.Errorf("ops cannot be empty for KVBatch")
	}
	for _, op := range ops {
		if !op.ValidOp() {
			return "", fmt.Errorf("invalid kv operation '%s' for key '%s'", op.Op, op.Key)
		}
		if op.Key == "" {
			return "", fmt.Errorf("kv operation is missing a key")
		}
	}

	// Single badger transaction: the batch succeeds or fails whole.
	err := l.db.Update(func(txn *badger.Txn) error {
		for _, op := range ops {
			k := localKVKey(op.StreamID, op.Key)
			switch op.Op {
			case models.KVOpSet:
				if err := txn.Set(k, []byte(op.Value)); err != nil {
					return err
				}
			case models.KVOpDelete:
				if err := txn.Delete(k); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return "", errors.Wrap(err, "kv batch transaction failed")
	}
	return newTxHash(), nil
}

func (l *Local) KVIterate(ctx context.Context, streamID uint64, prefix string, offset, limit int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	scanPrefix := localKVKey(streamID, prefix)
	strip := len(localKVKey(streamID, ""))

	keys := []string{}
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		skipped := 0
		for it.Seek(scanPrefix); it.ValidForPrefix(scanPrefix); it.Next() {
			if skipped < offset {
				skipped++
				continue
			}
			if limit > 0 && len(keys) >= limit {
				break
			}
			k := it.Item().KeyCopy(nil)
			keys = append(keys, string(k[strip:]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (l *Local) Disperse(ctx context.Context, data []byte, sec models.SecurityParams) (string, string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", "", err
	}
	sum := sha256.Sum256(data)
	blobHash := hex.EncodeToString(sum[:])
	commitment := newTxHash()
	batchID := uuid.NewString()

	record := dispersalRecord{
		Data:        data,
		BlobHash:    blobHash,
		BatchID:     batchID,
		Security:    sec,
		SubmittedAt: time.Now().UTC(),
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return "", "", "", fmt.Errorf("could not marshal dispersal record: %w", err)
	}

	err = l.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(localDAPrefix+commitment), raw)
	})
	if err != nil {
		return "", "", "", errors.Wrap(err, "could not store dispersal")
	}
	return commitment, blobHash, batchID, nil
}

func (l *Local) getDispersal(commitment string) (*dispersalRecord, error) {
	var record dispersalRecord
	err := l.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(localDAPrefix + commitment))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, &record)
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (l *Local) RetrieveDispersal(ctx context.Context, commitment string, blobIndex int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	record, err := l.getDispersal(commitment)
	if err != nil {
		return nil, err
	}
	// The local network stores one blob per commitment; any index beyond
	// zero does not exist.
	if blobIndex != 0 {
		return nil, ErrNotFound
	}
	return bytes.Clone(record.Data), nil
}

func (l *Local) DispersalStatus(ctx context.Context, commitment string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	record, err := l.getDispersal(commitment)
	if err != nil {
		return 0, err
	}
	elapsed := time.Since(record.SubmittedAt)
	switch {
	case elapsed >= l.cfg.FinalizeAfter:
		return models.DAStatusCodeFinalized, nil
	case elapsed >= l.cfg.ConfirmAfter:
		return models.DAStatusCodeConfirmed, nil
	default:
		return models.DAStatusCodePending, nil
	}
}

func (l *Local) DispersalExists(ctx context.Context, commitment string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := l.getDispersal(commitment)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (l *Local) BlockNumber(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	// The local network has no chain; report a height derived from time
	// so callers observing progress see it advance.
	return uint64(time.Now().Unix()), nil
}

func (l *Local) Ping(ctx context.Context) error {
	return ctx.Err()
}
