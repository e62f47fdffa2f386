package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/StrandLabs/strand/config"
	"github.com/StrandLabs/strand/da"
	"github.com/StrandLabs/strand/models"
	"github.com/StrandLabs/strand/store"
	"github.com/StrandLabs/strand/transport"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.GenerateConfig()
	cfg.Network.LocalDir = t.TempDir()
	cfg.Network.Signer = "test-signer"
	cfg.Network.FlowContract = "0xflow"
	cfg.Storage.StagingDir = t.TempDir()
	cfg.Storage.MetadataStream = 9
	return cfg
}

func newTestGateway(t *testing.T, cfg *config.Config) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	client, err := transport.NewLocal(transport.LocalConfig{
		Directory:     cfg.Network.LocalDir,
		Logger:        logger,
		ConfirmAfter:  20 * time.Millisecond,
		FinalizeAfter: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("could not open local transport: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	selector := store.NewNodeSelector(logger, client, cfg.Storage.SegmentNumber, cfg.Storage.ReplicaCount)
	blobs := store.NewBlobStore(store.BlobStoreConfig{
		Logger:         logger,
		Client:         client,
		Selector:       selector,
		Signer:         cfg.Network.Signer,
		FlowContract:   cfg.Network.FlowContract,
		MaxFileSize:    cfg.Storage.MaxFileSize,
		MetadataStream: cfg.Storage.MetadataStream,
		StagingDir:     cfg.Storage.StagingDir,
	})
	daService := da.New(logger, client, cfg.DA)
	t.Cleanup(daService.Stop)

	svc := New(Config{
		Logger:   logger,
		Cfg:      cfg,
		Client:   client,
		Blobs:    blobs,
		KV:       store.NewKVStore(logger, client, cfg.Network.Signer, cfg.Network.FlowContract),
		Selector: selector,
		Batch:    store.NewBatchCoordinator(logger, blobs),
		Cost:     store.NewEstimator(cfg.Cost),
		DA:       daService,
	})
	t.Cleanup(func() { svc.health.Stop() })
	return svc.Routes()
}

type filePart struct {
	field       string
	name        string
	contentType string
	data        []byte
}

func multipartBody(t *testing.T, parts []filePart, values map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for _, p := range parts {
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, p.field, p.name))
		h.Set("Content-Type", p.contentType)
		part, err := writer.CreatePart(h)
		if err != nil {
			t.Fatalf("could not build part: %v", err)
		}
		if _, err := part.Write(p.data); err != nil {
			t.Fatalf("could not write part: %v", err)
		}
	}
	for k, v := range values {
		writer.WriteField(k, v)
	}
	writer.Close()
	return &buf, writer.FormDataContentType()
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("could not marshal body: %v", err)
		}
		reqBody = bytes.NewBuffer(raw)
	} else {
		reqBody = &bytes.Buffer{}
	}

	req := httptest.NewRequest(method, path, reqBody)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Header().Get("Content-Type") == "application/json" {
		json.Unmarshal(rec.Body.Bytes(), &decoded)
	}
	return rec, decoded
}

func TestUploadAndDownloadRoutes(t *testing.T) {
	handler := newTestGateway(t, testConfig(t))

	payload := []byte("route level payload")
	body, contentType := multipartBody(t, []filePart{
		{field: "file", name: "note.txt", contentType: "text/plain", data: payload},
	}, nil)

	req := httptest.NewRequest(http.MethodPost, "/storage/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("upload returned %d: %s", rec.Code, rec.Body.String())
	}
	var uploadResp struct {
		Success  bool   `json:"success"`
		RootHash string `json:"rootHash"`
		TxHash   string `json:"txHash"`
		Filename string `json:"filename"`
		Size     int64  `json:"size"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &uploadResp); err != nil {
		t.Fatalf("upload response is not JSON: %v", err)
	}
	if !uploadResp.Success || len(uploadResp.RootHash) != 64 || uploadResp.TxHash == "" {
		t.Fatalf("upload response incomplete: %+v", uploadResp)
	}
	if uploadResp.Filename != "note.txt" || uploadResp.Size != int64(len(payload)) {
		t.Fatalf("upload response metadata wrong: %+v", uploadResp)
	}

	dlReq := httptest.NewRequest(http.MethodGet, "/storage/download/"+uploadResp.RootHash+"?filename=note.txt", nil)
	dlRec := httptest.NewRecorder()
	handler.ServeHTTP(dlRec, dlReq)

	if dlRec.Code != http.StatusOK {
		t.Fatalf("download returned %d: %s", dlRec.Code, dlRec.Body.String())
	}
	if !bytes.Equal(dlRec.Body.Bytes(), payload) {
		t.Fatal("downloaded bytes differ")
	}
	if cd := dlRec.Header().Get("Content-Disposition"); cd != `attachment; filename="note.txt"` {
		t.Fatalf("unexpected content disposition: %s", cd)
	}

	missRec, missBody := doJSON(t, handler, http.MethodGet, "/storage/download/"+"0000000000000000000000000000000000000000000000000000000000000000", nil)
	if missRec.Code != http.StatusNotFound {
		t.Fatalf("unknown root returned %d", missRec.Code)
	}
	if missBody["success"] != false {
		t.Fatalf("error body should carry success:false: %v", missBody)
	}
}

func TestUploadRejectsDisallowedMime(t *testing.T) {
	handler := newTestGateway(t, testConfig(t))

	body, contentType := multipartBody(t, []filePart{
		{field: "file", name: "tool.exe", contentType: "application/x-msdownload", data: []byte("MZ")},
	}, nil)

	req := httptest.NewRequest(http.MethodPost, "/storage/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("disallowed mime returned %d", rec.Code)
	}
}

func TestUploadMultipleRoute(t *testing.T) {
	handler := newTestGateway(t, testConfig(t))

	parts := []filePart{
		{field: "files", name: "a.txt", contentType: "text/plain", data: []byte("alpha")},
		{field: "files", name: "b.txt", contentType: "text/plain", data: []byte("beta")},
	}
	body, contentType := multipartBody(t, parts, nil)

	req := httptest.NewRequest(http.MethodPost, "/storage/upload-multiple", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("upload-multiple returned %d: %s", rec.Code, rec.Body.String())
	}
	var result models.BatchResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("response is not a batch result: %v", err)
	}
	if !result.Success || result.Total != 2 || result.Successful != 2 {
		t.Fatalf("unexpected batch result: %+v", result)
	}

	// Over the ten file cap.
	var many []filePart
	for i := 0; i < 11; i++ {
		many = append(many, filePart{field: "files", name: fmt.Sprintf("f%d.txt", i), contentType: "text/plain", data: []byte("x")})
	}
	body, contentType = multipartBody(t, many, nil)
	req = httptest.NewRequest(http.MethodPost, "/storage/upload-multiple", body)
	req.Header.Set("Content-Type", contentType)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("file cap not enforced, got %d", rec.Code)
	}
}

func TestReceiptAttachmentRoutes(t *testing.T) {
	handler := newTestGateway(t, testConfig(t))

	payload := bytes.Repeat([]byte("p"), 12288)
	body, contentType := multipartBody(t, []filePart{
		{field: "file", name: "invoice.pdf", contentType: "application/pdf", data: payload},
	}, nil)

	req := httptest.NewRequest(http.MethodPost, "/storage/receipt/user-42/attachment", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("attachment upload returned %d: %s", rec.Code, rec.Body.String())
	}

	listRec, listBody := doJSON(t, handler, http.MethodGet, "/storage/receipt/user-42/attachments", nil)
	if listRec.Code != http.StatusOK {
		t.Fatalf("listing returned %d", listRec.Code)
	}
	attachments, ok := listBody["attachments"].([]any)
	if !ok || len(attachments) != 1 {
		t.Fatalf("expected one attachment: %v", listBody)
	}
	entry := attachments[0].(map[string]any)
	if entry["name"] != "invoice.pdf" || entry["size"] != float64(12288) {
		t.Fatalf("attachment metadata wrong: %v", entry)
	}
}

func TestKVRoutes(t *testing.T) {
	handler := newTestGateway(t, testConfig(t))

	rec, respBody := doJSON(t, handler, http.MethodPost, "/storage/kv", models.KVPayload{
		StreamID: 4, Key: "color", Value: "green",
	})
	if rec.Code != http.StatusOK || respBody["success"] != true {
		t.Fatalf("kv write failed: %d %v", rec.Code, respBody)
	}
	if respBody["txHash"] == "" {
		t.Fatal("kv write returned no tx hash")
	}

	rec, respBody = doJSON(t, handler, http.MethodGet, "/storage/kv/4/color", nil)
	if rec.Code != http.StatusOK || respBody["value"] != "green" {
		t.Fatalf("kv read failed: %d %v", rec.Code, respBody)
	}

	rec, _ = doJSON(t, handler, http.MethodGet, "/storage/kv/4/absent", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing key returned %d", rec.Code)
	}

	rec, respBody = doJSON(t, handler, http.MethodPost, "/storage/kv/batch", map[string]any{
		"operations": []models.KVOperation{
			{StreamID: 4, Key: "a", Value: "1", Op: models.KVOpSet},
			{StreamID: 4, Key: "color", Op: models.KVOpDelete},
		},
	})
	if rec.Code != http.StatusOK || respBody["success"] != true {
		t.Fatalf("kv batch failed: %d %v", rec.Code, respBody)
	}

	rec, _ = doJSON(t, handler, http.MethodGet, "/storage/kv/4/color", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatal("batched delete did not apply")
	}

	rec, _ = doJSON(t, handler, http.MethodPost, "/storage/kv/batch", map[string]any{"operations": []models.KVOperation{}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty batch returned %d", rec.Code)
	}
}

func TestNodesSelectRoute(t *testing.T) {
	handler := newTestGateway(t, testConfig(t))

	rec, respBody := doJSON(t, handler, http.MethodGet, "/storage/nodes/select?expectedReplicas=3", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("node selection returned %d: %v", rec.Code, respBody)
	}
	nodes, ok := respBody["nodes"].([]any)
	if !ok || len(nodes) != 3 {
		t.Fatalf("expected 3 nodes: %v", respBody)
	}

	rec, _ = doJSON(t, handler, http.MethodGet, "/storage/nodes/select?expectedReplicas=abc", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad replicas param returned %d", rec.Code)
	}
}

func TestHealthRoute(t *testing.T) {
	handler := newTestGateway(t, testConfig(t))

	rec, respBody := doJSON(t, handler, http.MethodGet, "/storage/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health returned %d", rec.Code)
	}
	if respBody["healthy"] != true {
		t.Fatalf("local network should read healthy: %v", respBody)
	}
	details := respBody["details"].(map[string]any)
	if details["walletConfigured"] != true || details["uploadsEnabled"] != true {
		t.Fatalf("wallet details wrong: %v", details)
	}
}

func TestDARoutes(t *testing.T) {
	handler := newTestGateway(t, testConfig(t))

	record := models.DARecord{
		ID:        "receipt-9",
		Device:    models.DeviceInfo{Manufacturer: "Shift", Model: "Phone 8"},
		Proofs:    models.ProofBlock{MerkleRoot: "cafe"},
		Lifecycle: models.LifecycleBlock{Status: models.LifecycleIssued},
		CreatedAt: time.Now().UTC(),
	}

	rec, respBody := doJSON(t, handler, http.MethodPost, "/da/submit", record)
	if rec.Code != http.StatusOK || respBody["success"] != true {
		t.Fatalf("da submit failed: %d %v", rec.Code, respBody)
	}
	commitment, _ := respBody["commitment"].(string)
	if commitment == "" {
		t.Fatalf("submit returned no commitment: %v", respBody)
	}

	rec, respBody = doJSON(t, handler, http.MethodGet, "/da/verify/"+commitment, nil)
	if rec.Code != http.StatusOK || respBody["available"] != true {
		t.Fatalf("verify failed: %d %v", rec.Code, respBody)
	}

	rec, respBody = doJSON(t, handler, http.MethodGet, "/da/status/"+commitment, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status failed: %d %v", rec.Code, respBody)
	}
	if respBody["status"] != string(models.DAStatusPending) {
		t.Fatalf("fresh commitment should be pending: %v", respBody)
	}
	if respBody["commitment"] != commitment {
		t.Fatalf("status does not echo the commitment: %v", respBody)
	}
	if hash, _ := respBody["blobHash"].(string); hash == "" {
		t.Fatalf("status is missing the blob hash: %v", respBody)
	}
	if size, _ := respBody["dataSize"].(float64); size <= 0 {
		t.Fatalf("status is missing the data size: %v", respBody)
	}

	rec, respBody = doJSON(t, handler, http.MethodGet, "/da/retrieve/"+commitment, nil)
	if rec.Code != http.StatusOK || respBody["verified"] != true {
		t.Fatalf("retrieve failed: %d %v", rec.Code, respBody)
	}
	// A verified payload comes back as the record itself, not base64.
	retrieved, ok := respBody["data"].(map[string]any)
	if !ok || retrieved["id"] != "receipt-9" {
		t.Fatalf("verified payload should be the raw record: %v", respBody["data"])
	}

	rec, _ = doJSON(t, handler, http.MethodGet, "/da/status/unknown-commitment", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown commitment returned %d", rec.Code)
	}

	// Invalid record never reaches the network.
	bad := record
	bad.Device.Manufacturer = ""
	rec, _ = doJSON(t, handler, http.MethodPost, "/da/submit", bad)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid record returned %d", rec.Code)
	}
}

func TestDASubmitBatchRoute(t *testing.T) {
	handler := newTestGateway(t, testConfig(t))

	good := models.DARecord{
		ID:        "receipt-a",
		Device:    models.DeviceInfo{Manufacturer: "Fairphone", Model: "FP4"},
		Proofs:    models.ProofBlock{MerkleRoot: "01"},
		Lifecycle: models.LifecycleBlock{Status: models.LifecyclePaid},
		CreatedAt: time.Now().UTC(),
	}
	bad := good
	bad.ID = ""

	rec, respBody := doJSON(t, handler, http.MethodPost, "/da/submit-batch", map[string]any{
		"receipts": []models.DARecord{good, bad, good},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("submit-batch returned %d: %v", rec.Code, respBody)
	}
	if respBody["success"] != false || respBody["successful"] != float64(2) || respBody["failed"] != float64(1) {
		t.Fatalf("unexpected summary: %v", respBody)
	}
	results := respBody["results"].([]any)
	slot := results[1].(map[string]any)
	if slot["success"] != false || slot["error"] == "" {
		t.Fatalf("invalid record's slot should carry the failure: %v", slot)
	}
}

func TestEstimateCostRoute(t *testing.T) {
	handler := newTestGateway(t, testConfig(t))

	rec, respBody := doJSON(t, handler, http.MethodPost, "/da/estimate-cost", map[string]any{"dataSize": 10000})
	if rec.Code != http.StatusOK || respBody["success"] != true {
		t.Fatalf("estimate failed: %d %v", rec.Code, respBody)
	}
	if respBody["cost"].(float64) <= 0 {
		t.Fatalf("estimate has no cost: %v", respBody)
	}
	if respBody["gasEstimate"].(float64) <= 0 {
		t.Fatalf("estimate has no gas: %v", respBody)
	}

	// Nonsense size still quotes.
	rec, respBody = doJSON(t, handler, http.MethodPost, "/da/estimate-cost", map[string]any{"dataSize": -5})
	if rec.Code != http.StatusOK || respBody["success"] != true {
		t.Fatalf("nonsense size should still quote: %d %v", rec.Code, respBody)
	}
}

func TestMinimalConfigServesTraffic(t *testing.T) {
	// A config carrying only the required fields must still come out of
	// LoadConfig with working rate limiters.
	content := fmt.Sprintf("httpBinding: \"127.0.0.1:9000\"\nnetwork:\n  localDir: %q\n  signer: \"test-signer\"\n", t.TempDir())
	path := filepath.Join(t.TempDir(), "strand.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("could not write config: %v", err)
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	handler := newTestGateway(t, cfg)

	rec, respBody := doJSON(t, handler, http.MethodPost, "/da/estimate-cost", map[string]any{"dataSize": 1000})
	if rec.Code != http.StatusOK || respBody["success"] != true {
		t.Fatalf("minimal config rejected traffic: %d %v", rec.Code, respBody)
	}
}

func TestRateLimiting(t *testing.T) {
	cfg := testConfig(t)
	cfg.RateLimiters.System = config.RateLimiterConfig{Limit: 1, Burst: 1}
	handler := newTestGateway(t, cfg)

	first, _ := doJSON(t, handler, http.MethodGet, "/storage/health", nil)
	if first.Code != http.StatusOK {
		t.Fatalf("first request should pass, got %d", first.Code)
	}
	second, respBody := doJSON(t, handler, http.MethodGet, "/storage/health", nil)
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request should be limited, got %d", second.Code)
	}
	if respBody["success"] != false {
		t.Fatalf("limited response should carry success:false: %v", respBody)
	}
}
