package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"github.com/StrandLabs/strand/models"
	"github.com/StrandLabs/strand/transport"
)

// mockTransport is an in-memory network double. Call counters let tests
// assert that precondition failures never reach the network.
type mockTransport struct {
	mu sync.Mutex

	blobs map[string][]byte
	kv    map[string]string

	selectCalls int
	submitCalls int
	kvCalls     int

	failSelect bool
	failSubmit bool
	failKV     bool
	emptySet   bool

	// tamper corrupts fetched blob bytes to exercise proof rejection.
	tamper bool
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		blobs: map[string][]byte{},
		kv:    map[string]string{},
	}
}

func (m *mockTransport) networkCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selectCalls + m.submitCalls + m.kvCalls
}

func (m *mockTransport) SelectNodes(ctx context.Context, segment, replicas uint64, excluded []string) ([]models.StorageNode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selectCalls++
	if m.failSelect {
		return nil, fmt.Errorf("directory unreachable")
	}
	if m.emptySet {
		return nil, nil
	}
	nodes := make([]models.StorageNode, 0, replicas)
	for i := uint64(0); i < replicas; i++ {
		nodes = append(nodes, models.StorageNode{
			NodeID:    fmt.Sprintf("mock-node-%d", i),
			Endpoint:  fmt.Sprintf("mock://node-%d", i),
			Capacity:  1 << 20,
			Available: true,
		})
	}
	return nodes, nil
}

func (m *mockTransport) SubmitBlob(ctx context.Context, rootHash string, payload io.Reader, size int64, nodes []models.StorageNode) (string, error) {
	data, err := io.ReadAll(payload)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitCalls++
	if m.failSubmit {
		return "", fmt.Errorf("submission rejected")
	}
	m.blobs[rootHash] = data
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func (m *mockTransport) FetchBlob(ctx context.Context, rootHash string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[rootHash]
	if !ok {
		return nil, transport.ErrNotFound
	}
	out := append([]byte(nil), data...)
	if m.tamper && len(out) > 0 {
		out[0] ^= 0xff
	}
	return out, nil
}

func (m *mockTransport) kvKey(streamID uint64, key string) string {
	return fmt.Sprintf("%d:%s", streamID, key)
}

func (m *mockTransport) KVGet(ctx context.Context, streamID uint64, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.kv[m.kvKey(streamID, key)]
	if !ok {
		return "", transport.ErrNotFound
	}
	return value, nil
}

func (m *mockTransport) KVBatch(ctx context.Context, ops []models.KVOperation) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kvCalls++
	if m.failKV {
		return "", fmt.Errorf("kv node unreachable")
	}
	for _, op := range ops {
		k := m.kvKey(op.StreamID, op.Key)
		switch op.Op {
		case models.KVOpSet:
			m.kv[k] = op.Value
		case models.KVOpDelete:
			delete(m.kv, k)
		}
	}
	return "mock-tx-hash", nil
}

func (m *mockTransport) KVIterate(ctx context.Context, streamID uint64, prefix string, offset, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	streamPrefix := m.kvKey(streamID, prefix)
	keys := []string{}
	for k := range m.kv {
		if len(k) >= len(streamPrefix) && k[:len(streamPrefix)] == streamPrefix {
			keys = append(keys, k[len(m.kvKey(streamID, "")):])
		}
	}
	return keys, nil
}

func (m *mockTransport) Disperse(ctx context.Context, data []byte, sec models.SecurityParams) (string, string, string, error) {
	return "", "", "", fmt.Errorf("not supported by mock")
}

func (m *mockTransport) RetrieveDispersal(ctx context.Context, commitment string, blobIndex int) ([]byte, error) {
	return nil, transport.ErrNotFound
}

func (m *mockTransport) DispersalStatus(ctx context.Context, commitment string) (int, error) {
	return 0, transport.ErrNotFound
}

func (m *mockTransport) DispersalExists(ctx context.Context, commitment string) (bool, error) {
	return false, nil
}

func (m *mockTransport) BlockNumber(ctx context.Context) (uint64, error) {
	return 42, nil
}

func (m *mockTransport) Ping(ctx context.Context) error { return nil }

func (m *mockTransport) Close() error { return nil }
