// Package httpapi is the client side of the wire contract in spec.md §6:
// every request the sync engine, full-pull loop, and embeddings store
// make against the server.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/noteweave/outlinesync/internal/types"
)

// Client is a small credentialed JSON HTTP client. It classifies each
// failure into the retryable/permanent/auth taxonomy
// (types.ClassifyHTTPStatus, types.NetworkError) but carries no
// retry/backoff logic of its own — any retry decision is left to its
// callers (internal/syncengine, internal/scheduler).
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New constructs a Client against baseURL using httpClient. Pass nil to
// use http.DefaultClient.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return types.NetworkError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return types.ClassifyHTTPStatus(resp.StatusCode, fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg))))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// AuthMe probes the current authenticated user.
func (c *Client) AuthMe(ctx context.Context) (*AuthMeResponse, error) {
	var out AuthMeResponse
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListArticles fetches the server's article index.
func (c *Client) ListArticles(ctx context.Context) ([]types.IndexRow, error) {
	var out []types.IndexRow
	if err := c.do(ctx, http.MethodGet, "/api/articles", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetArticle fetches one full article, including docJson.
func (c *Client) GetArticle(ctx context.Context, id string) (*ArticleResponse, error) {
	var out ArticleResponse
	path := "/api/articles/" + url.PathEscape(id)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetInboxArticle fetches the reserved inbox article.
func (c *Client) GetInboxArticle(ctx context.Context) (*ArticleResponse, error) {
	var out ArticleResponse
	if err := c.do(ctx, http.MethodGet, "/api/articles/inbox?include_history=0", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SaveDocJSON performs a bulk docJson save.
func (c *Client) SaveDocJSON(ctx context.Context, articleID string, docJSON json.RawMessage) (*SaveDocJSONResponse, error) {
	var out SaveDocJSONResponse
	path := "/api/articles/" + url.PathEscape(articleID) + "/doc-json/save"
	if err := c.do(ctx, http.MethodPut, path, map[string]json.RawMessage{"docJson": docJSON}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateArticle creates a new article from an opaque payload (title,
// parent, position) and returns the server's assigned id and fields.
func (c *Client) CreateArticle(ctx context.Context, payload json.RawMessage) (*ArticleResponse, error) {
	var out ArticleResponse
	if err := c.do(ctx, http.MethodPost, "/api/articles", json.RawMessage(payload), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Compact sends the combined delete+upsert request for one article.
func (c *Client) Compact(ctx context.Context, articleID string, req CompactRequest) (*CompactResponse, error) {
	var out CompactResponse
	path := "/api/articles/" + url.PathEscape(articleID) + "/sync/compact"
	if err := c.do(ctx, http.MethodPut, path, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StructureSnapshot sends a structural snapshot for one article.
func (c *Client) StructureSnapshot(ctx context.Context, articleID string, req StructureSnapshotRequest) (*StructureSnapshotResponse, error) {
	var out StructureSnapshotResponse
	path := "/api/articles/" + url.PathEscape(articleID) + "/structure/snapshot"
	if err := c.do(ctx, http.MethodPut, path, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TreeOp performs one of the opaque structural tree operations. payload
// is the op's opaque body (e.g. direction, target parent/position); pass
// nil for ops that carry none.
func (c *Client) TreeOp(ctx context.Context, articleID string, kind TreeOpKind, payload json.RawMessage) error {
	path := "/api/articles/" + url.PathEscape(articleID) + "/" + string(kind)
	var body interface{}
	if payload != nil {
		body = payload
	}
	return c.do(ctx, http.MethodPost, path, body, nil)
}

// GetEmbeddings fetches section embeddings for an article, optionally
// restricted to ids.
func (c *Client) GetEmbeddings(ctx context.Context, articleID string, ids []string) (*EmbeddingsResponse, error) {
	path := "/api/articles/" + url.PathEscape(articleID) + "/embeddings"
	if len(ids) > 0 {
		q := url.Values{}
		q.Set("ids", strings.Join(ids, ","))
		path += "?" + q.Encode()
	}
	var out EmbeddingsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// QueryEmbedding encodes a semantic search query server-side.
func (c *Client) QueryEmbedding(ctx context.Context, q string) ([]float32, error) {
	query := url.Values{}
	query.Set("q", q)
	var out QueryEmbeddingResponse
	path := "/api/search/semantic/query-embedding?" + query.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Embedding, nil
}

// ClientLog ships an opaque diagnostics payload.
func (c *Client) ClientLog(ctx context.Context, payload interface{}) error {
	return c.do(ctx, http.MethodPost, "/api/client/log", payload, nil)
}

// FetchMedia downloads one same-origin uploads asset by its path
// (spec.md §4.7: "fetch same-origin uploads"). path is expected to
// already be a same-origin-relative path, e.g. "/uploads/abc123.png".
func (c *Client) FetchMedia(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, types.NetworkError(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return nil, types.ClassifyHTTPStatus(resp.StatusCode, fmt.Errorf("GET %s: %d", path, resp.StatusCode))
	}
	return io.ReadAll(resp.Body)
}
