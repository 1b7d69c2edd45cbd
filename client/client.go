package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

const (
	defaultTimeout   = 3 * time.Second
	requesterHeader  = "X-Requester"
	defaultUserAgent = "pairdata-client"
)

// PairedData is a pairing as served by the API.
type PairedData struct {
	Parent      string   `json:"parent"`
	Fields      []string `json:"fields"`
	Filename    string   `json:"filename"`
	UID         string   `json:"uid"`
	Hash        string   `json:"hash"`
	IsRemoteURL bool     `json:"is_remote_url"`
	MimeType    string   `json:"mimetype"`
	URL         string   `json:"url"`
}

type DataSharing struct {
	Enabled bool     `json:"enabled"`
	Fields  []string `json:"fields"`
	Users   []string `json:"users"`
}

type CreateRequest struct {
	Parent   string   `json:"parent"`
	Filename string   `json:"filename"`
	Fields   []string `json:"fields,omitempty"`
}

// SharingChanges leaves nil attributes untouched.
type SharingChanges struct {
	Enabled *bool     `json:"enabled,omitempty"`
	Fields  *[]string `json:"fields,omitempty"`
	Users   *[]string `json:"users,omitempty"`
}

// Changes leaves nil attributes untouched.
type Changes struct {
	Filename *string   `json:"filename,omitempty"`
	Fields   *[]string `json:"fields,omitempty"`
}

// APIError is a non-2xx response. Errors holds field keyed reasons when the server sent them.
type APIError struct {
	StatusCode int
	Errors     map[string][]string
	Message    string
}

func (e *APIError) Error() string {
	if len(e.Errors) > 0 {
		parts := make([]string, 0, len(e.Errors))
		for field, reasons := range e.Errors {
			parts = append(parts, field+": "+strings.Join(reasons, "; "))
		}
		return fmt.Sprintf("pairdata: status %d: %s", e.StatusCode, strings.Join(parts, ", "))
	}
	return fmt.Sprintf("pairdata: status %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	client    *http.Client
	cache     *cache.Cache
	userAgent string
	baseURL   string
	requester string
}

type listEntry struct {
	etag    string
	records []PairedData
}

// New returns a client for the API at baseURL acting as requester.
func New(baseURL, requester string) *Client {
	httpClient := http.Client{
		Timeout: defaultTimeout,
	}

	c := &Client{
		client:    &httpClient,
		cache:     cache.New(10*time.Minute, 15*time.Minute),
		userAgent: defaultUserAgent,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		requester: requester,
	}
	httpClient.Transport = c
	return c
}

func (c *Client) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", c.userAgent)
	if c.requester != "" {
		req.Header.Set(requesterHeader, c.requester)
	}
	return http.DefaultTransport.RoundTrip(req)
}

func pairedDataPath(assetUID string, rest ...string) string {
	path := "/api/v2/assets/" + url.PathEscape(assetUID) + "/paired-data"
	for _, r := range rest {
		path += "/" + url.PathEscape(r)
	}
	return path
}

func (c *Client) HttpRequest(ctx context.Context, method, path string, body any, header http.Header) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %v", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to perform request: %v", err)
	}
	return resp, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, response any, expected int) error {
	resp, err := c.HttpRequest(ctx, method, path, body, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != expected {
		return decodeError(resp)
	}
	if response == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(response); err != nil {
		return fmt.Errorf("failed to decode response: %v", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		apiErr.Message = err.Error()
		return apiErr
	}

	var message struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &message) == nil && message.Error != "" {
		apiErr.Message = message.Error
		return apiErr
	}
	var fields map[string][]string
	if json.Unmarshal(raw, &fields) == nil && len(fields) > 0 {
		apiErr.Errors = fields
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(string(raw))
	return apiErr
}

// ListPairedData lists the pairings of assetUID. Responses are revalidated by ETag.
func (c *Client) ListPairedData(ctx context.Context, assetUID string) ([]PairedData, error) {
	cacheKey := "paired-data:" + assetUID

	header := http.Header{}
	var cached listEntry
	if x, found := c.cache.Get(cacheKey); found {
		cached = x.(listEntry)
		header.Set("If-None-Match", cached.etag)
	}

	resp, err := c.HttpRequest(ctx, http.MethodGet, pairedDataPath(assetUID), nil, header)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotModified:
		return cached.records, nil
	case http.StatusOK:
	default:
		return nil, decodeError(resp)
	}

	var records []PairedData
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to decode response: %v", err)
	}
	if etag := resp.Header.Get("ETag"); etag != "" {
		c.cache.Set(cacheKey, listEntry{etag: etag, records: records}, cache.DefaultExpiration)
	}
	return records, nil
}

// GetPairedData fetches a pairing by its identifier or its parent's uid.
func (c *Client) GetPairedData(ctx context.Context, assetUID, key string) (PairedData, error) {
	var pd PairedData
	err := c.doJSON(ctx, http.MethodGet, pairedDataPath(assetUID, key), nil, &pd, http.StatusOK)
	return pd, err
}

func (c *Client) CreatePairedData(ctx context.Context, assetUID string, req CreateRequest) (PairedData, error) {
	var pd PairedData
	err := c.doJSON(ctx, http.MethodPost, pairedDataPath(assetUID), req, &pd, http.StatusCreated)
	if err == nil {
		c.cache.Delete("paired-data:" + assetUID)
	}
	return pd, err
}

func (c *Client) UpdatePairedData(ctx context.Context, assetUID, key string, changes Changes) (PairedData, error) {
	var pd PairedData
	err := c.doJSON(ctx, http.MethodPatch, pairedDataPath(assetUID, key), changes, &pd, http.StatusOK)
	if err == nil {
		c.cache.Delete("paired-data:" + assetUID)
	}
	return pd, err
}

func (c *Client) DeletePairedData(ctx context.Context, assetUID, identifier string) error {
	err := c.doJSON(ctx, http.MethodDelete, pairedDataPath(assetUID, identifier), nil, nil, http.StatusNoContent)
	if err == nil {
		c.cache.Delete("paired-data:" + assetUID)
	}
	return err
}

func (c *Client) GetDataSharing(ctx context.Context, assetUID string) (DataSharing, error) {
	var sharing DataSharing
	err := c.doJSON(ctx, http.MethodGet, "/api/v2/assets/"+url.PathEscape(assetUID)+"/data-sharing", nil, &sharing, http.StatusOK)
	return sharing, err
}

func (c *Client) UpdateDataSharing(ctx context.Context, assetUID string, changes SharingChanges) (DataSharing, error) {
	var updated DataSharing
	err := c.doJSON(ctx, http.MethodPatch, "/api/v2/assets/"+url.PathEscape(assetUID)+"/data-sharing", changes, &updated, http.StatusOK)
	return updated, err
}
