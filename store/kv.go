package store

import (
	"context"
	"log/slog"

	"github.com/StrandLabs/strand/models"
	"github.com/StrandLabs/strand/transport"
	"github.com/pkg/errors"
)

// KVStore is the stream-scoped mutable overlay. Reads need no
// credential; every mutation requires both a signer and a flow contract
// and fails fast before any network traffic when either is absent.
type KVStore struct {
	logger       *slog.Logger
	client       transport.Client
	signer       string
	flowContract string
}

func NewKVStore(logger *slog.Logger, client transport.Client, signer, flowContract string) *KVStore {
	return &KVStore{
		logger:       logger.WithGroup("kv_store"),
		client:       client,
		signer:       signer,
		flowContract: flowContract,
	}
}

func (k *KVStore) writeGate() error {
	if k.signer == "" {
		return ErrNoSigner
	}
	if k.flowContract == "" {
		return ErrFlowNotConfigured
	}
	return nil
}

// Read fetches a single entry. ErrNotFound covers both never-written and
// deleted keys; the overlay does not distinguish them.
func (k *KVStore) Read(ctx context.Context, streamID uint64, key string) (string, error) {
	value, err := k.client.KVGet(ctx, streamID, key)
	if err != nil {
		if errors.Is(err, transport.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", errors.Wrap(err, "kv read failed")
	}
	return value, nil
}

// Write sets one key. Internally a single-operation batch so the write
// path is identical to BatchWrite.
func (k *KVStore) Write(ctx context.Context, streamID uint64, key, value string) (string, error) {
	return k.BatchWrite(ctx, []models.KVOperation{{
		StreamID: streamID,
		Key:      key,
		Value:    value,
		Op:       models.KVOpSet,
	}})
}

// Delete removes one key. Deleting an absent key succeeds; the overlay
// transaction is applied regardless.
func (k *KVStore) Delete(ctx context.Context, streamID uint64, key string) (string, error) {
	return k.BatchWrite(ctx, []models.KVOperation{{
		StreamID: streamID,
		Key:      key,
		Op:       models.KVOpDelete,
	}})
}

// BatchWrite folds the operations into one overlay transaction and
// returns its hash. The batch succeeds or fails as a whole.
func (k *KVStore) BatchWrite(ctx context.Context, ops []models.KVOperation) (string, error) {
	if err := k.writeGate(); err != nil {
		return "", err
	}
	if len(ops) == 0 {
		return "", errors.New("no operations to apply")
	}
	for _, op := range ops {
		if op.Key == "" {
			return "", errors.New("kv operation is missing a key")
		}
		if !op.ValidOp() {
			return "", errors.Errorf("unknown kv operation '%s'", op.Op)
		}
	}

	txHash, err := k.client.KVBatch(ctx, ops)
	if err != nil {
		k.logger.Error("kv batch failed", "operations", len(ops), "error", err)
		return "", errors.Wrap(err, "kv batch failed")
	}

	k.logger.Debug("kv batch applied", "operations", len(ops), "txHash", txHash)
	return txHash, nil
}
