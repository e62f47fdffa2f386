package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/StrandLabs/strand/models"
	"github.com/pkg/errors"
)

// RemoteConfig names the network endpoints. Any empty optional endpoint
// falls back to the RPC URL.
type RemoteConfig struct {
	RPCURL       string
	IndexerURL   string
	RetrieverURL string
	KVNodeURL    string
	DisperserURL string
	Signer       string
	SkipVerify   bool
	Logger       *slog.Logger
}

type Remote struct {
	cfg        RemoteConfig
	httpClient *http.Client
	logger     *slog.Logger
}

var _ Client = (*Remote)(nil)

func NewRemote(cfg RemoteConfig) (*Remote, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url cannot be empty")
	}
	if cfg.IndexerURL == "" {
		cfg.IndexerURL = cfg.RPCURL
	}
	if cfg.RetrieverURL == "" {
		cfg.RetrieverURL = cfg.RPCURL
	}
	if cfg.KVNodeURL == "" {
		cfg.KVNodeURL = cfg.RPCURL
	}
	if cfg.DisperserURL == "" {
		cfg.DisperserURL = cfg.RPCURL
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.WithGroup("transport")

	httpClient := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.SkipVerify},
		},
	}

	logger.Info("Remote transport initialized",
		"rpc_url", cfg.RPCURL,
		"kv_node_url", cfg.KVNodeURL,
		"disperser_url", cfg.DisperserURL,
		"tls_skip_verify", cfg.SkipVerify)

	return &Remote{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

func (r *Remote) Close() error { return nil }

// doRequest performs one JSON request against a base URL. A nil target
// discards the response body; a nil body sends no payload.
func (r *Remote) doRequest(ctx context.Context, method, baseURL, path string, queryParams map[string]string, body any, target any) error {
	base, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("failed to parse base url '%s': %w", baseURL, err)
	}
	reqURL := base.ResolveReference(&url.URL{Path: path})

	if len(queryParams) > 0 {
		q := reqURL.Query()
		for k, v := range queryParams {
			q.Set(k, v)
		}
		reqURL.RawQuery = q.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body for %s %s: %w", method, path, err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request %s %s: %w", method, reqURL.String(), err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.cfg.Signer != "" {
		req.Header.Set("Authorization", r.cfg.Signer)
	}

	r.logger.Debug("Sending request", "method", method, "url", reqURL.String())

	resp, err := r.httpClient.Do(req)
	if err != nil {
		// A timeout is reported identically to a remote failure.
		return errors.Wrapf(ErrUnavailable, "%s %s: %v", method, reqURL.String(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		r.logger.Warn("Received non-2xx status code",
			"method", method, "url", reqURL.String(), "status_code", resp.StatusCode)
		return fmt.Errorf("server returned status %d for %s %s: %s",
			resp.StatusCode, method, reqURL.String(), strings.TrimSpace(string(raw)))
	}

	if target != nil {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return fmt.Errorf("failed to decode response body for %s %s: %w", method, reqURL.String(), err)
		}
	}
	return nil
}

func (r *Remote) SelectNodes(ctx context.Context, segment, replicas uint64, excluded []string) ([]models.StorageNode, error) {
	params := map[string]string{
		"segment":  strconv.FormatUint(segment, 10),
		"replicas": strconv.FormatUint(replicas, 10),
	}
	if len(excluded) > 0 {
		params["excluded"] = strings.Join(excluded, ",")
	}
	var response struct {
		Nodes []models.StorageNode `json:"nodes"`
	}
	if err := r.doRequest(ctx, http.MethodGet, r.cfg.IndexerURL, "v1/nodes/select", params, nil, &response); err != nil {
		return nil, err
	}
	return response.Nodes, nil
}

func (r *Remote) SubmitBlob(ctx context.Context, rootHash string, payload io.Reader, size int64, nodes []models.StorageNode) (string, error) {
	base, err := url.Parse(r.cfg.RPCURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse rpc url: %w", err)
	}
	reqURL := base.ResolveReference(&url.URL{Path: "v1/blob/submit"})
	q := reqURL.Query()
	q.Set("root", rootHash)
	q.Set("size", strconv.FormatInt(size, 10))
	nodeIDs := make([]string, 0, len(nodes))
	for _, n := range nodes {
		nodeIDs = append(nodeIDs, n.NodeID)
	}
	if len(nodeIDs) > 0 {
		q.Set("nodes", strings.Join(nodeIDs, ","))
	}
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL.String(), payload)
	if err != nil {
		return "", fmt.Errorf("failed to create blob submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.ContentLength = size
	if r.cfg.Signer != "" {
		req.Header.Set("Authorization", r.cfg.Signer)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrapf(ErrUnavailable, "blob submit %s: %v", rootHash, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("blob submit returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var response struct {
		TxHash string `json:"txHash"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", fmt.Errorf("failed to decode blob submit response: %w", err)
	}
	return response.TxHash, nil
}

func (r *Remote) FetchBlob(ctx context.Context, rootHash string) ([]byte, error) {
	base, err := url.Parse(r.cfg.RetrieverURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse retriever url: %w", err)
	}
	reqURL := base.ResolveReference(&url.URL{Path: "v1/blob/" + rootHash})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob fetch request: %w", err)
	}
	if r.cfg.Signer != "" {
		req.Header.Set("Authorization", r.cfg.Signer)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(ErrUnavailable, "blob fetch %s: %v", rootHash, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("blob fetch returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (r *Remote) KVGet(ctx context.Context, streamID uint64, key string) (string, error) {
	var response struct {
		Data string `json:"data"`
	}
	path := fmt.Sprintf("v1/kv/%d/%s", streamID, url.PathEscape(key))
	if err := r.doRequest(ctx, http.MethodGet, r.cfg.KVNodeURL, path, nil, nil, &response); err != nil {
		return "", err
	}
	return response.Data, nil
}

func (r *Remote) KVBatch(ctx context.Context, ops []models.KVOperation) (string, error) {
	if len(ops) == 0 {
		return "", fmt.Errorf("ops cannot be empty for KVBatch")
	}
	payload := struct {
		Operations []models.KVOperation `json:"operations"`
	}{Operations: ops}

	var response struct {
		TxHash string `json:"txHash"`
	}
	if err := r.doRequest(ctx, http.MethodPost, r.cfg.KVNodeURL, "v1/kv/batch", nil, payload, &response); err != nil {
		return "", err
	}
	return response.TxHash, nil
}

func (r *Remote) KVIterate(ctx context.Context, streamID uint64, prefix string, offset, limit int) ([]string, error) {
	params := map[string]string{
		"prefix": prefix,
		"offset": strconv.Itoa(offset),
		"limit":  strconv.Itoa(limit),
	}
	var response struct {
		Data []string `json:"data"`
	}
	path := fmt.Sprintf("v1/kv/%d/iterate", streamID)
	if err := r.doRequest(ctx, http.MethodGet, r.cfg.KVNodeURL, path, params, nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

func (r *Remote) Disperse(ctx context.Context, data []byte, sec models.SecurityParams) (string, string, string, error) {
	payload := struct {
		Data     string                `json:"data"` // base64
		Security models.SecurityParams `json:"security"`
	}{
		Data:     base64.StdEncoding.EncodeToString(data),
		Security: sec,
	}
	var response struct {
		Commitment string `json:"commitment"`
		BlobHash   string `json:"blobHash"`
		BatchID    string `json:"batchId"`
	}
	if err := r.doRequest(ctx, http.MethodPost, r.cfg.DisperserURL, "v1/disperse", nil, payload, &response); err != nil {
		return "", "", "", err
	}
	return response.Commitment, response.BlobHash, response.BatchID, nil
}

func (r *Remote) RetrieveDispersal(ctx context.Context, commitment string, blobIndex int) ([]byte, error) {
	params := map[string]string{"index": strconv.Itoa(blobIndex)}
	var response struct {
		Data string `json:"data"` // base64
	}
	path := "v1/disperse/" + url.PathEscape(commitment)
	if err := r.doRequest(ctx, http.MethodGet, r.cfg.DisperserURL, path, params, nil, &response); err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(response.Data)
}

func (r *Remote) DispersalStatus(ctx context.Context, commitment string) (int, error) {
	var response struct {
		Status int `json:"status"`
	}
	path := "v1/disperse/" + url.PathEscape(commitment) + "/status"
	if err := r.doRequest(ctx, http.MethodGet, r.cfg.DisperserURL, path, nil, nil, &response); err != nil {
		return 0, err
	}
	return response.Status, nil
}

func (r *Remote) DispersalExists(ctx context.Context, commitment string) (bool, error) {
	path := "v1/disperse/" + url.PathEscape(commitment) + "/exists"
	var response struct {
		Exists bool `json:"exists"`
	}
	if err := r.doRequest(ctx, http.MethodGet, r.cfg.DisperserURL, path, nil, nil, &response); err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return response.Exists, nil
}

func (r *Remote) BlockNumber(ctx context.Context) (uint64, error) {
	var response struct {
		BlockNumber uint64 `json:"blockNumber"`
	}
	if err := r.doRequest(ctx, http.MethodGet, r.cfg.RPCURL, "v1/block-number", nil, nil, &response); err != nil {
		return 0, err
	}
	return response.BlockNumber, nil
}

func (r *Remote) Ping(ctx context.Context) error {
	return r.doRequest(ctx, http.MethodGet, r.cfg.RPCURL, "v1/ping", nil, nil, nil)
}
