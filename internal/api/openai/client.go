package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tjfontaine/responses-relay/internal/domain"
)

const (
	// DefaultBaseURL is used when no base URL override is configured.
	DefaultBaseURL = "https://api.openai.com/v1"

	defaultUserAgent = "responses-relay/1.0"
	assistantsBeta   = "assistants=v2"
)

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimSuffix(baseURL, "/")
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// Client is a custom HTTP client for the OpenAI Responses and Vector Store APIs.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new OpenAI API client.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the upstream base URL in use.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// RequestOptions contains per-request options.
type RequestOptions struct {
	// UserAgent is the User-Agent header to send with the request.
	// If set, it will be forwarded as-is to the upstream API.
	UserAgent string
}

// CreateResponseStream sends a streaming Responses request. The returned
// stream must be closed by the caller. Non-2xx answers are returned as
// *domain.APIError before any event is read.
func (c *Client) CreateResponseStream(ctx context.Context, req *ResponseRequest, opts *RequestOptions) (*ResponseStream, error) {
	req.Stream = true

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/responses", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.setHeaders(httpReq, opts)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, upstreamError(resp.StatusCode, respBody)
	}

	return NewResponseStream(resp.Body), nil
}

// CreateVectorStoreFile attaches an uploaded file to a vector store.
func (c *Client) CreateVectorStoreFile(ctx context.Context, vectorStoreID string, req *CreateVectorStoreFileRequest, opts *RequestOptions) (*VectorStoreFile, error) {
	if vectorStoreID == "" {
		return nil, domain.ErrMissingParameter("vector_store_id")
	}
	if req == nil || req.FileID == "" {
		return nil, domain.ErrMissingParameter("file_id")
	}

	var result VectorStoreFile
	path := "/vector_stores/" + url.PathEscape(vectorStoreID) + "/files"
	if err := c.doJSON(ctx, http.MethodPost, path, nil, req, opts, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListVectorStoreFiles returns one page of files attached to a vector store.
func (c *Client) ListVectorStoreFiles(ctx context.Context, vectorStoreID string, params *ListVectorStoreFilesParams, opts *RequestOptions) (*VectorStoreFileList, error) {
	if vectorStoreID == "" {
		return nil, domain.ErrMissingParameter("vector_store_id")
	}

	var result VectorStoreFileList
	path := "/vector_stores/" + url.PathEscape(vectorStoreID) + "/files"
	if err := c.doJSON(ctx, http.MethodGet, path, params.values(), nil, opts, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// RetrieveVectorStore fetches vector store metadata.
func (c *Client) RetrieveVectorStore(ctx context.Context, vectorStoreID string, opts *RequestOptions) (*VectorStore, error) {
	if vectorStoreID == "" {
		return nil, domain.ErrMissingParameter("vector_store_id")
	}

	var result VectorStore
	path := "/vector_stores/" + url.PathEscape(vectorStoreID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, nil, opts, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (p *ListVectorStoreFilesParams) values() url.Values {
	if p == nil {
		return nil
	}
	q := url.Values{}
	set := func(key, value string) {
		if value != "" {
			q.Set(key, value)
		}
	}
	set("limit", p.Limit)
	set("order", p.Order)
	set("after", p.After)
	set("before", p.Before)
	set("filter", p.Filter)
	return q
}

// doJSON performs a vector store round trip and decodes the 200 body into out.
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, in any, opts *RequestOptions, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reqBody io.Reader
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	c.setHeaders(httpReq, opts)
	httpReq.Header.Set("OpenAI-Beta", assistantsBeta)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return upstreamError(resp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request, opts *RequestOptions) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	// Set User-Agent - forward the incoming user agent if provided
	if opts != nil && opts.UserAgent != "" {
		req.Header.Set("User-Agent", opts.UserAgent)
	} else {
		req.Header.Set("User-Agent", defaultUserAgent)
	}
}
