package transport

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/StrandLabs/strand/models"
	"github.com/pkg/errors"
)

func newTestLocal(t *testing.T) *Local {
	t.Helper()
	l, err := NewLocal(LocalConfig{
		Directory:     t.TempDir(),
		ConfirmAfter:  30 * time.Millisecond,
		FinalizeAfter: 80 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("could not open local transport: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestLocalBlobRoundTrip(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	payload := []byte("the payload bytes")
	txHash, err := l.SubmitBlob(ctx, "root-1", bytes.NewReader(payload), int64(len(payload)), nil)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if txHash == "" {
		t.Fatal("tx hash is empty")
	}

	got, err := l.FetchBlob(ctx, "root-1")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("fetched bytes differ")
	}

	if _, err := l.FetchBlob(ctx, "no-such-root"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLocalSubmitBlobSizeMismatch(t *testing.T) {
	l := newTestLocal(t)

	_, err := l.SubmitBlob(context.Background(), "root-1", bytes.NewReader([]byte("abc")), 99, nil)
	if err == nil {
		t.Fatal("size mismatch should fail")
	}
}

func TestLocalNodeSelection(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	nodes, err := l.SelectNodes(ctx, 1, 3, nil)
	if err != nil {
		t.Fatalf("selection failed: %v", err)
	}
	if len(nodes) != 3 {
		t.Fatalf("expected 3 nodes, got %d", len(nodes))
	}

	excluded := []string{nodes[0].NodeID, nodes[1].NodeID}
	again, err := l.SelectNodes(ctx, 1, 3, excluded)
	if err != nil {
		t.Fatalf("selection with exclusions failed: %v", err)
	}
	for _, n := range again {
		for _, ex := range excluded {
			if n.NodeID == ex {
				t.Fatalf("excluded node %s was selected", ex)
			}
		}
	}
}

func TestLocalKV(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	ops := []models.KVOperation{
		{StreamID: 5, Key: "alpha", Value: "1", Op: models.KVOpSet},
		{StreamID: 5, Key: "beta", Value: "2", Op: models.KVOpSet},
		{StreamID: 6, Key: "alpha", Value: "other stream", Op: models.KVOpSet},
	}
	if _, err := l.KVBatch(ctx, ops); err != nil {
		t.Fatalf("batch failed: %v", err)
	}

	value, err := l.KVGet(ctx, 5, "alpha")
	if err != nil || value != "1" {
		t.Fatalf("expected alpha=1, got '%s' (%v)", value, err)
	}

	keys, err := l.KVIterate(ctx, 5, "", 0, 0)
	if err != nil {
		t.Fatalf("iterate failed: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("stream 5 should hold 2 keys, got %v", keys)
	}

	if _, err := l.KVBatch(ctx, []models.KVOperation{{StreamID: 5, Key: "alpha", Op: models.KVOpDelete}}); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := l.KVGet(ctx, 5, "alpha"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}

	if _, err := l.KVBatch(ctx, nil); err == nil {
		t.Fatal("empty batch should fail")
	}
	if _, err := l.KVBatch(ctx, []models.KVOperation{{StreamID: 1, Key: "k", Op: "merge"}}); err == nil {
		t.Fatal("unknown verb should fail")
	}
}

func TestLocalDispersalLifecycle(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	commitment, blobHash, batchID, err := l.Disperse(ctx, []byte("attested payload"), models.SecurityParams{QuorumID: 1})
	if err != nil {
		t.Fatalf("disperse failed: %v", err)
	}
	if commitment == "" || blobHash == "" || batchID == "" {
		t.Fatal("dispersal identifiers are incomplete")
	}

	exists, err := l.DispersalExists(ctx, commitment)
	if err != nil || !exists {
		t.Fatalf("dispersal should exist: %v", err)
	}
	exists, err = l.DispersalExists(ctx, "missing")
	if err != nil || exists {
		t.Fatalf("unknown commitment should read false, nil: %v %v", exists, err)
	}

	data, err := l.RetrieveDispersal(ctx, commitment, 0)
	if err != nil || string(data) != "attested payload" {
		t.Fatalf("retrieval failed: %q %v", data, err)
	}
	if _, err := l.RetrieveDispersal(ctx, commitment, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("index beyond zero should not exist, got %v", err)
	}

	// Walk the full state machine on the configured clock.
	code, err := l.DispersalStatus(ctx, commitment)
	if err != nil || code != models.DAStatusCodePending {
		t.Fatalf("expected pending immediately, got %d (%v)", code, err)
	}

	deadline := time.Now().Add(2 * time.Second)
	sawConfirmed := false
	for time.Now().Before(deadline) {
		code, err = l.DispersalStatus(ctx, commitment)
		if err != nil {
			t.Fatalf("status poll failed: %v", err)
		}
		if code == models.DAStatusCodeConfirmed {
			sawConfirmed = true
		}
		if code == models.DAStatusCodeFinalized {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if code != models.DAStatusCodeFinalized {
		t.Fatalf("commitment never finalized, last code %d", code)
	}
	if !sawConfirmed {
		t.Fatal("state machine skipped the confirmed stage")
	}
}
