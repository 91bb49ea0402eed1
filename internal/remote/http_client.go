package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// HTTPConfig holds connection settings for the HTTP document backend.
type HTTPConfig struct {
	BaseURL string // e.g. https://sync.example.com/v1
	Token   string // bearer token, empty for guest mode
}

// HTTPClient implements DocumentStore against a JSON-over-HTTP backend.
//
// Endpoints:
//
//	PUT  {base}/collections/{collection}/{id}   write a document
//	GET  {base}/collections/{collection}?since=&until=   read a range
//	GET  {base}/time                            trusted time probe
//
// Push delivery is handled out of band; Subscribe keeps a local handler
// registry that Dispatch feeds from whatever transport carries pushes.
type HTTPClient struct {
	config     *HTTPConfig
	httpClient *http.Client

	mu       sync.Mutex
	nextSub  int
	handlers map[string]map[int]ChangeHandler // collection -> id -> handler
}

// NewHTTPClient creates a new HTTPClient.
func NewHTTPClient(config *HTTPConfig) *HTTPClient {
	return &HTTPClient{
		config: config,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		handlers: make(map[string]map[int]ChangeHandler),
	}
}

// Write uploads a document into a collection.
func (c *HTTPClient) Write(ctx context.Context, collection, id string, data interface{}) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	endpoint := fmt.Sprintf("%s/collections/%s/%s",
		c.config.BaseURL, url.PathEscape(collection), url.PathEscape(id))
	req, err := c.newRequest(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("write request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("write failed with status %d: %s", resp.StatusCode, string(msg))
	}
	return nil
}

// ReadRange returns documents whose timestamp falls inside [sinceMs, untilMs).
func (c *HTTPClient) ReadRange(ctx context.Context, collection string, sinceMs, untilMs int64) ([]Document, error) {
	endpoint := fmt.Sprintf("%s/collections/%s?since=%d&until=%d",
		c.config.BaseURL, url.PathEscape(collection), sinceMs, untilMs)
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("read request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("read failed with status %d: %s", resp.StatusCode, string(msg))
	}

	var docs []Document
	if err := json.NewDecoder(resp.Body).Decode(&docs); err != nil {
		return nil, fmt.Errorf("failed to decode documents: %w", err)
	}
	return docs, nil
}

// Probe returns the server's authoritative time in unix ms.
func (c *HTTPClient) Probe(ctx context.Context) (int64, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.config.BaseURL+"/time", nil)
	if err != nil {
		return 0, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("time probe failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("time probe failed with status %d: %s", resp.StatusCode, string(msg))
	}

	var payload struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("failed to decode probe response: %w", err)
	}
	return payload.ServerTime, nil
}

// Subscribe registers a change handler for a collection.
func (c *HTTPClient) Subscribe(collection string, handler ChangeHandler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSub
	c.nextSub++
	if c.handlers[collection] == nil {
		c.handlers[collection] = make(map[int]ChangeHandler)
	}
	c.handlers[collection][id] = handler

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers[collection], id)
	}
}

// Dispatch delivers a pushed document to every subscriber of its
// collection. Called by the transport layer that receives pushes.
func (c *HTTPClient) Dispatch(collection string, doc Document) {
	c.mu.Lock()
	handlers := make([]ChangeHandler, 0, len(c.handlers[collection]))
	for _, h := range c.handlers[collection] {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(collection, doc)
	}
}

func (c *HTTPClient) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}
	return req, nil
}
