package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/StrandLabs/strand/models"
	"github.com/pkg/errors"
)

// UploadResult mirrors the gateway's single-upload response.
type UploadResult struct {
	Success  bool   `json:"success"`
	RootHash string `json:"rootHash"`
	TxHash   string `json:"txHash"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	Type     string `json:"type"`
}

// Upload sends one file to the gateway.
func (c *Client) Upload(ctx context.Context, name string, payload io.Reader) (*UploadResult, error) {
	var result UploadResult
	err := c.doMultipart(ctx, "/storage/upload", "file", []NamedPayload{{Name: name, Payload: payload}}, nil, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// UploadMultiple sends up to ten files in one request.
func (c *Client) UploadMultiple(ctx context.Context, files []NamedPayload) (*models.BatchResult, error) {
	var result models.BatchResult
	err := c.doMultipart(ctx, "/storage/upload-multiple", "files", files, nil, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// UploadBatch sends up to twenty files, optionally tagged to an owner.
func (c *Client) UploadBatch(ctx context.Context, files []NamedPayload, ownerRef string) (*models.BatchResult, error) {
	var form map[string]string
	if ownerRef != "" {
		form = map[string]string{"ownerRef": ownerRef}
	}
	var result models.BatchResult
	err := c.doMultipart(ctx, "/storage/upload-batch", "files", files, form, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Download fetches blob bytes by root hash. The gateway verifies the
// content proof before the first byte is returned.
func (c *Client) Download(ctx context.Context, rootHash string) ([]byte, error) {
	reqURL := c.baseURL.ResolveReference(&url.URL{Path: "/storage/download/" + rootHash})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "could not build request")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "download request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("download failed with status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// UploadAttachment uploads a file scoped to an owner id.
func (c *Client) UploadAttachment(ctx context.Context, ownerRef, name string, payload io.Reader) (*UploadResult, error) {
	var result UploadResult
	path := fmt.Sprintf("/storage/receipt/%s/attachment", ownerRef)
	err := c.doMultipart(ctx, path, "file", []NamedPayload{{Name: name, Payload: payload}}, nil, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Attachments lists the attachment metadata recorded for an owner.
func (c *Client) Attachments(ctx context.Context, ownerRef string) ([]models.AttachmentMetadata, error) {
	var result struct {
		Success     bool                        `json:"success"`
		Attachments []models.AttachmentMetadata `json:"attachments"`
	}
	path := fmt.Sprintf("/storage/receipt/%s/attachments", ownerRef)
	if err := c.doRequest(ctx, http.MethodGet, path, nil, nil, &result); err != nil {
		return nil, err
	}
	return result.Attachments, nil
}

// KVWrite sets one overlay key.
func (c *Client) KVWrite(ctx context.Context, streamID uint64, key, value string) (string, error) {
	var result struct {
		Success bool   `json:"success"`
		TxHash  string `json:"txHash"`
	}
	payload := models.KVPayload{StreamID: streamID, Key: key, Value: value}
	if err := c.doRequest(ctx, http.MethodPost, "/storage/kv", nil, payload, &result); err != nil {
		return "", err
	}
	return result.TxHash, nil
}

// KVRead fetches one overlay key. ErrNotFound when absent.
func (c *Client) KVRead(ctx context.Context, streamID uint64, key string) (string, error) {
	var result struct {
		Success bool   `json:"success"`
		Value   string `json:"value"`
	}
	path := fmt.Sprintf("/storage/kv/%d/%s", streamID, key)
	if err := c.doRequest(ctx, http.MethodGet, path, nil, nil, &result); err != nil {
		return "", err
	}
	return result.Value, nil
}

// KVBatch applies the operations as one overlay transaction.
func (c *Client) KVBatch(ctx context.Context, ops []models.KVOperation) (string, error) {
	var result struct {
		Success bool   `json:"success"`
		TxHash  string `json:"txHash"`
	}
	payload := map[string]any{"operations": ops}
	if err := c.doRequest(ctx, http.MethodPost, "/storage/kv/batch", nil, payload, &result); err != nil {
		return "", err
	}
	return result.TxHash, nil
}

// SelectNodes asks the gateway for candidate storage nodes.
func (c *Client) SelectNodes(ctx context.Context, segment, replicas uint64, excluded []string) ([]models.StorageNode, error) {
	params := map[string]string{}
	if segment > 0 {
		params["segmentNumber"] = strconv.FormatUint(segment, 10)
	}
	if replicas > 0 {
		params["expectedReplicas"] = strconv.FormatUint(replicas, 10)
	}
	if len(excluded) > 0 {
		params["excludedNodes"] = strings.Join(excluded, ",")
	}

	var result struct {
		Success bool                 `json:"success"`
		Nodes   []models.StorageNode `json:"nodes"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/storage/nodes/select", params, nil, &result); err != nil {
		return nil, err
	}
	return result.Nodes, nil
}

// HealthReport mirrors the gateway health response.
type HealthReport struct {
	Success bool `json:"success"`
	Healthy bool `json:"healthy"`
	Details struct {
		RPCURL           string `json:"rpcUrl"`
		IndexerURL       string `json:"indexerUrl"`
		KVNodeURL        string `json:"kvNodeUrl"`
		BlockNumber      uint64 `json:"blockNumber"`
		WalletConfigured bool   `json:"walletConfigured"`
		UploadsEnabled   bool   `json:"uploadsEnabled"`
	} `json:"details"`
}

// Health probes the gateway.
func (c *Client) Health(ctx context.Context) (*HealthReport, error) {
	var report HealthReport
	if err := c.doRequest(ctx, http.MethodGet, "/storage/health", nil, nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}
