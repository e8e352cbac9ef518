// Package client talks to the object store over HTTP.
//
// Every fetched commit and node is cached. Commits and nodes are immutable,
// so cached entries are served without revalidation; node entries only ever
// upgrade from info to full. Concurrent requests for the same object share
// a single HTTP round trip.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/shatterbird/birdfs/internal/logging"
	"github.com/shatterbird/birdfs/internal/metrics"
	"github.com/shatterbird/birdfs/pkg/cache"
	"github.com/shatterbird/birdfs/pkg/models"
	"github.com/shatterbird/birdfs/pkg/protocol"
	"github.com/shatterbird/birdfs/pkg/retry"
)

// Endpoint labels used in logs and metrics.
const (
	endpointCommits = "commits"
	endpointCommit  = "commit"
	endpointNode    = "node"
	endpointInfo    = "node_info"
	endpointBlob    = "blob"
)

// Client is a read-only object store client.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	retryConfig retry.Config

	store *cache.Store
	blobs *cache.BlobCache
	group singleflight.Group
}

// Config holds client configuration.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	RetryConfig retry.Config

	// Store caches commits and nodes; a fresh one is created when nil.
	Store *cache.Store
	// Blobs caches blob bytes; nil disables blob caching.
	Blobs *cache.BlobCache
	// HTTPClient overrides the default transport.
	HTTPClient *http.Client
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}
	if cfg.Store == nil {
		cfg.Store = cache.NewStore()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				DisableCompression:  true,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}

	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:  httpClient,
		retryConfig: cfg.RetryConfig,
		store:       cfg.Store,
		blobs:       cfg.Blobs,
	}
}

// Store returns the commit and node cache.
func (c *Client) Store() *cache.Store {
	return c.store
}

// ListCommits returns every commit the store holds. The listing itself is
// not cached, but each commit is added to the cache by oid.
func (c *Client) ListCommits(ctx context.Context) ([]*models.Commit, error) {
	v, err, shared := c.group.Do("commits", func() (any, error) {
		var commits []*models.Commit
		if err := c.getJSON(ctx, endpointCommits, protocol.CommitsPath, &commits); err != nil {
			return nil, err
		}
		for _, commit := range commits {
			c.store.PutCommit(commit)
		}
		return commits, nil
	})
	if shared {
		metrics.RecordCoalescedFetch(endpointCommits)
	}
	if err != nil {
		return nil, err
	}
	return v.([]*models.Commit), nil
}

// GetCommit returns the commit with the given oid, or ErrNotFound.
func (c *Client) GetCommit(ctx context.Context, oid string) (*models.Commit, error) {
	if commit, ok := c.store.Commit(oid); ok {
		metrics.RecordCacheLookup("commit", true)
		return commit, nil
	}
	metrics.RecordCacheLookup("commit", false)

	v, err, shared := c.group.Do("commit:"+oid, func() (any, error) {
		var commit models.Commit
		if err := c.getJSON(ctx, endpointCommit, protocol.CommitByOID(oid), &commit); err != nil {
			return nil, err
		}
		if commit.OID == "" {
			commit.OID = oid
		}
		c.store.PutCommit(&commit)
		return &commit, nil
	})
	if shared {
		metrics.RecordCoalescedFetch(endpointCommit)
	}
	if err != nil {
		return nil, err
	}
	return v.(*models.Commit), nil
}

// GetNode returns the full node for id, fetching it unless a full copy is
// cached. An info-only cache entry is upgraded.
func (c *Client) GetNode(ctx context.Context, id models.ID) (*models.Node, error) {
	if n, ok := c.store.FullNode(id); ok {
		metrics.RecordCacheLookup("node", true)
		return n, nil
	}
	metrics.RecordCacheLookup("node", false)

	v, err, shared := c.group.Do("node:"+id.String(), func() (any, error) {
		var n models.Node
		if err := c.getJSON(ctx, endpointNode, protocol.Node(id, false), &n); err != nil {
			return nil, err
		}
		if !n.Full() {
			return nil, fmt.Errorf("%s %s: response has no content", endpointNode, id)
		}
		if err := checkID(endpointNode, id, &n); err != nil {
			return nil, err
		}
		return c.store.PutNode(&n), nil
	})
	if shared {
		metrics.RecordCoalescedFetch(endpointNode)
	}
	if err != nil {
		return nil, err
	}
	return v.(*models.Node), nil
}

// GetNodeInfo returns id and kind for a node. Any cached entry satisfies it;
// a full entry is never replaced by the short form.
func (c *Client) GetNodeInfo(ctx context.Context, id models.ID) (models.NodeInfo, error) {
	if n, level := c.store.Node(id); level != cache.LevelNone {
		metrics.RecordCacheLookup("node_info", true)
		return n.NodeInfo, nil
	}
	metrics.RecordCacheLookup("node_info", false)

	v, err, shared := c.group.Do("info:"+id.String(), func() (any, error) {
		var n models.Node
		if err := c.getJSON(ctx, endpointInfo, protocol.Node(id, true), &n); err != nil {
			return nil, err
		}
		if err := checkID(endpointInfo, id, &n); err != nil {
			return nil, err
		}
		return c.store.PutNode(&n), nil
	})
	if shared {
		metrics.RecordCoalescedFetch(endpointInfo)
	}
	if err != nil {
		return models.NodeInfo{}, err
	}
	return v.(*models.Node).NodeInfo, nil
}

// GetBlob returns the raw bytes of a blob.
func (c *Client) GetBlob(ctx context.Context, id models.ID) ([]byte, error) {
	if data, ok := c.blobs.Get(id.String()); ok {
		metrics.RecordCacheLookup("blob", true)
		return data, nil
	}
	metrics.RecordCacheLookup("blob", false)

	v, err, shared := c.group.Do("blob:"+id.String(), func() (any, error) {
		data, err := c.get(ctx, endpointBlob, protocol.Blob(id))
		if err != nil {
			return nil, err
		}
		metrics.RecordBlobBytes(len(data))
		if err := c.blobs.Put(id.String(), data); err != nil {
			logging.WithContext(ctx).Warn("blob cache write failed",
				zap.String("blob", id.String()), zap.Error(err))
		}
		return data, nil
	})
	if shared {
		metrics.RecordCoalescedFetch(endpointBlob)
	}
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// checkID fills in a missing response id and rejects one naming a different
// node, so entries are only ever cached under the id that was asked for.
func checkID(endpoint string, id models.ID, n *models.Node) error {
	if n.ID.IsZero() {
		n.ID = id
		return nil
	}
	if n.ID != id {
		return fmt.Errorf("%s %s: response is for node %s", endpoint, id, n.ID)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, endpoint, path string, out any) error {
	data, err := c.get(ctx, endpoint, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", endpoint, err)
	}
	return nil
}

// get performs a GET with retries and returns the decoded body.
func (c *Client) get(ctx context.Context, endpoint, path string) ([]byte, error) {
	log := logging.WithContext(ctx)

	return retry.DoWithResult(ctx, c.retryConfig, func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Accept-Encoding", "gzip")

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			metrics.RecordStoreRequest(endpoint, 0, time.Since(start))
			log.Debug("store request failed", zap.String("path", path), zap.Error(err))
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, retry.Retryable(fmt.Errorf("%s: %w", endpoint, err))
		}
		defer resp.Body.Close()

		body, err := readBody(resp)
		metrics.RecordStoreRequest(endpoint, resp.StatusCode, time.Since(start))
		log.Debug("store request",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.Duration("duration", time.Since(start)),
		)
		if err != nil {
			return nil, retry.Retryable(fmt.Errorf("%s: read response: %w", endpoint, err))
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil, fmt.Errorf("%s %s: %w", endpoint, path, ErrNotFound)
		case resp.StatusCode < 200 || resp.StatusCode > 299:
			herr := &HTTPError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: body}
			if herr.Retryable() {
				return nil, retry.Retryable(herr)
			}
			return nil, herr
		}
		return body, nil
	})
}

func readBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gr.Close()
		reader = gr
	}
	return io.ReadAll(reader)
}

// AsHTTPError extracts an *HTTPError from err.
func AsHTTPError(err error) (*HTTPError, bool) {
	var herr *HTTPError
	if errors.As(err, &herr) {
		return herr, true
	}
	return nil, false
}
