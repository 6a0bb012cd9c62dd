// Package remote implements the HTTP side of the sync engine: raw image
// download, multipart upload, and the product list/detail API.
//
// The core packages never talk HTTP directly; they consume this client
// through the narrow Fetcher/Poster interfaces in internal/transfer and the
// detail-fetch interface in internal/syncer, so tests can substitute fakes.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/feizhan1/uxp-plugin-sub000/internal/catalog"
	"github.com/feizhan1/uxp-plugin-sub000/internal/syncer"
	"github.com/feizhan1/uxp-plugin-sub000/internal/transfer"
)

// DefaultTimeout bounds each HTTP request. Retry policy lives in the
// orchestrators, not here.
const DefaultTimeout = 30 * time.Second

// ProductSummary is one entry of the remote product list.
type ProductSummary struct {
	ApplyCode string `json:"applyCode"`
	Name      string `json:"name,omitempty"`
	Status    string `json:"status,omitempty"`
}

// Client talks to the remote product system.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *log.Logger
}

// NewClient creates a Client for the given API base URL.
//
// If timeout is zero, DefaultTimeout is used. If logger is nil, a default
// logger writing to stderr is used.
func NewClient(baseURL string, timeout time.Duration, logger *log.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL cannot be empty")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}, nil
}

// apiResponse is the remote system's standard envelope.
type apiResponse struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// Fetch downloads the raw bytes behind an image URL. Implements
// transfer.Fetcher.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", url, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s returned status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body of %s: %w", url, err)
	}
	return data, nil
}

// PostMultipart uploads file bytes as a multipart form. Implements
// transfer.Poster. The file goes into the "file" part; fields become plain
// form values.
func (c *Client) PostMultipart(ctx context.Context, url, filename string, data []byte, fields map[string]string) (*transfer.UploadResponse, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("failed to write field %s: %w", k, err)
		}
	}
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write file part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload to %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upload returned status %d", resp.StatusCode)
	}

	var env apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to decode upload response: %w", err)
	}
	if env.Code != 0 {
		return nil, fmt.Errorf("upload rejected: %s (code %d)", env.Msg, env.Code)
	}

	var remoteURL string
	if err := json.Unmarshal(env.Data, &remoteURL); err != nil {
		return nil, fmt.Errorf("failed to decode upload URL: %w", err)
	}
	return &transfer.UploadResponse{URL: remoteURL}, nil
}

// ProductList fetches the remote product list.
func (c *Client) ProductList(ctx context.Context) ([]ProductSummary, error) {
	var list []ProductSummary
	if err := c.getJSON(ctx, c.baseURL+"/products", &list); err != nil {
		return nil, err
	}
	return list, nil
}

// ProductRefs fetches the product list in the form the sync coordinator
// consumes. Implements daemon.Lister.
func (c *Client) ProductRefs(ctx context.Context) ([]syncer.ProductRef, error) {
	list, err := c.ProductList(ctx)
	if err != nil {
		return nil, err
	}
	refs := make([]syncer.ProductRef, 0, len(list))
	for _, p := range list {
		refs = append(refs, syncer.ProductRef{
			ApplyCode: p.ApplyCode,
			Name:      p.Name,
			Status:    p.Status,
		})
	}
	return refs, nil
}

// ProductDetail fetches the full metadata (all three image collections) for
// one product. Implements syncer.DetailFetcher.
func (c *Client) ProductDetail(ctx context.Context, applyCode string) (*catalog.Product, error) {
	if applyCode == "" {
		return nil, fmt.Errorf("applyCode cannot be empty")
	}
	var p catalog.Product
	if err := c.getJSON(ctx, c.baseURL+"/products/"+applyCode, &p); err != nil {
		return nil, err
	}
	if p.ApplyCode == "" {
		p.ApplyCode = applyCode
	}
	return &p, nil
}

// getJSON performs a GET, unwraps the response envelope and decodes the
// data payload into out.
func (c *Client) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", url, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", url, resp.StatusCode)
	}

	var env apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", url, err)
	}
	if env.Code != 0 {
		return fmt.Errorf("%s rejected: %s (code %d)", url, env.Msg, env.Code)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode payload from %s: %w", url, err)
	}
	return nil
}
