package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
)

const defaultTimeout = 60 * time.Second

var (
	ErrNotFound    = errors.New("not found")
	ErrRateLimited = errors.New("rate limited by gateway")
)

type Config struct {
	// BaseURL of the gateway, e.g. "http://127.0.0.1:8420".
	BaseURL    string
	SkipVerify bool
	Timeout    time.Duration
	Logger     *slog.Logger
}

// Client is the API client for the strand gateway.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     *slog.Logger
}

func New(cfg *Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("baseURL cannot be empty")
	}
	baseURL, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("could not parse baseURL '%s': %w", cfg.BaseURL, err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}

	httpClient := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.SkipVerify},
		},
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger.WithGroup("strand_client"),
	}, nil
}

// doRequest performs one JSON round trip against the gateway. A nil
// target discards the response body.
func (c *Client) doRequest(ctx context.Context, method, path string, queryParams map[string]string, body any, target any) error {
	reqURL := c.baseURL.ResolveReference(&url.URL{Path: path})
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
			return errors.Wrap(err, "could not marshal request body")
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), reqBody)
	if err != nil {
		return errors.Wrap(err, "could not build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "request to %s failed", path)
	}
	defer resp.Body.Close()

	return c.decodeResponse(resp, path, target)
}

func (c *Client) decodeResponse(resp *http.Response, path string, target any) error {
	switch resp.StatusCode {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusTooManyRequests:
		return ErrRateLimited
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "could not read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return errors.Errorf("%s: %s", path, apiErr.Error)
		}
		return errors.Errorf("%s: unexpected status %d", path, resp.StatusCode)
	}

	if target == nil {
		return nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return errors.Wrapf(err, "could not decode response from %s", path)
	}
	return nil
}

// doMultipart uploads named files under the given field and decodes the
// JSON response into target.
func (c *Client) doMultipart(ctx context.Context, path, field string, files []NamedPayload, formValues map[string]string, target any) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	for _, f := range files {
		part, err := writer.CreateFormFile(field, f.Name)
		if err != nil {
			return errors.Wrap(err, "could not build multipart body")
		}
		if _, err := io.Copy(part, f.Payload); err != nil {
			return errors.Wrapf(err, "could not stage '%s'", f.Name)
		}
	}
	for k, v := range formValues {
		if err := writer.WriteField(k, v); err != nil {
			return errors.Wrap(err, "could not build multipart body")
		}
	}
	if err := writer.Close(); err != nil {
		return errors.Wrap(err, "could not finish multipart body")
	}

	reqURL := c.baseURL.ResolveReference(&url.URL{Path: path})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL.String(), &buf)
	if err != nil {
		return errors.Wrap(err, "could not build request")
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "request to %s failed", path)
	}
	defer resp.Body.Close()

	return c.decodeResponse(resp, path, target)
}

// NamedPayload is one file within a multipart upload.
type NamedPayload struct {
	Name    string
	Payload io.Reader
}
