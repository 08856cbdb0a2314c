// Package engine talks to a remote node-graph generation engine: it uploads
// input assets, submits graphs, polls job history and fetches artifacts.
package engine

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	apiKeyHeader = "X-API-Key"

	defaultUploadTimeout  = 120 * time.Second
	defaultRequestTimeout = 60 * time.Second
	defaultFetchTimeout   = 300 * time.Second
)

// Client is a connection to one engine deployment. A Client carries a client
// id generated at construction and is safe for concurrent use.
type Client struct {
	base     string
	prefix   string
	apiKey   string
	clientID string

	http   *http.Client
	logger *zap.Logger

	uploadTimeout  time.Duration
	requestTimeout time.Duration
	fetchTimeout   time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithAPIPrefix sets the path prefix of hosted deployments, e.g. "/api".
func WithAPIPrefix(prefix string) ClientOption {
	return func(c *Client) {
		c.prefix = "/" + strings.Trim(prefix, "/")
		if c.prefix == "/" {
			c.prefix = ""
		}
	}
}

// WithAPIKey sends key in the X-API-Key header of engine calls.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) { c.apiKey = key }
}

// WithClientID overrides the generated client id.
func WithClientID(id string) ClientOption {
	return func(c *Client) {
		if id != "" {
			c.clientID = id
		}
	}
}

// WithHTTPClient replaces the pooled client. Redirect handling is forced
// off on the given client's copy.
func WithHTTPClient(cl *http.Client) ClientOption {
	return func(c *Client) {
		if cl != nil {
			cp := *cl
			cp.CheckRedirect = noRedirect
			c.http = &cp
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTimeouts sets the per-call timeouts. Zero values keep the defaults.
func WithTimeouts(upload, request, fetch time.Duration) ClientOption {
	return func(c *Client) {
		if upload > 0 {
			c.uploadTimeout = upload
		}
		if request > 0 {
			c.requestTimeout = request
		}
		if fetch > 0 {
			c.fetchTimeout = fetch
		}
	}
}

// NewClient creates a client for the engine at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		base:     strings.TrimRight(baseURL, "/"),
		clientID: uuid.NewString(),
		http: &http.Client{
			Transport:     newTransport(),
			CheckRedirect: noRedirect,
		},
		logger:         zap.NewNop(),
		uploadTimeout:  defaultUploadTimeout,
		requestTimeout: defaultRequestTimeout,
		fetchTimeout:   defaultFetchTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

func noRedirect(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

// ClientID returns the id sent with submissions and websocket connections.
func (c *Client) ClientID() string { return c.clientID }

// Session returns a client with a fresh client id that shares c's
// connection pool and settings. Each job run gets its own session so the
// engine can address its progress events to that run alone.
func (c *Client) Session() *Client {
	cp := *c
	cp.clientID = uuid.NewString()
	return &cp
}

// Logger returns the client's logger.
func (c *Client) Logger() *zap.Logger { return c.logger }

func (c *Client) endpoint(path string, query url.Values) string {
	u := c.base + c.prefix + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body []byte, contentType string) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, r)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}
	return req, nil
}

// do sends req and reads the whole body.
func (c *Client) do(req *http.Request) (int, http.Header, []byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, resp.Header, nil, err
	}
	return resp.StatusCode, resp.Header, body, nil
}

func statusOK(code int) bool { return code >= 200 && code < 300 }

func snippet(b []byte) string {
	const max = 200
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
