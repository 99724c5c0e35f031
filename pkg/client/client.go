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

	"github.com/hashicorp/go-hclog"

	"github.com/metaparticle-io/container-lib/pkg/types"
)

const DefaultRequestTimeout = 10 * time.Second

// talks the lock protocol to one lock server as one owner
type Client struct {
	baseURL string
	ownerID string
	http    *http.Client
	logger  hclog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(l hclog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func NewClient(baseURL, ownerID string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		ownerID: ownerID,
		http:    &http.Client{Timeout: DefaultRequestTimeout},
		logger:  hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) OwnerID() string {
	return c.ownerID
}

// server answer to one request
// Lease is set when the body carried a lock object (200, and 409 on a held lock)
// Message is set for error bodies
type Response struct {
	StatusCode int
	Lease      *types.Lease
	Message    string
}

func (c *Client) Get(ctx context.Context, name string) (*Response, error) {
	return c.do(ctx, http.MethodGet, c.lockURL(name), nil)
}

// creates the lock, the server answers 409 if it exists
func (c *Client) Post(ctx context.Context, name string) (*Response, error) {
	body, err := json.Marshal(types.ToObject(&types.Lease{Name: name, Owner: c.ownerID}))
	if err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodPost, c.baseURL+"/locks", body)
}

// claims or renews the lock
func (c *Client) Put(ctx context.Context, name string) (*Response, error) {
	return c.do(ctx, http.MethodPut, c.lockURL(name), nil)
}

func (c *Client) lockURL(name string) string {
	return c.baseURL + "/locks/" + url.PathEscape(name)
}

func (c *Client) do(ctx context.Context, method, target string, body []byte) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set(types.OwnerHeader, c.ownerID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	out := &Response{StatusCode: resp.StatusCode}

	var payload struct {
		types.Object
		Message string `json:"message"`
	}
	if len(data) == 0 || json.Unmarshal(data, &payload) != nil {
		//not ours, keep the raw body for the logs
		out.Message = strings.TrimSpace(string(data))
		return out, nil
	}

	out.Message = payload.Message
	if payload.Metadata.Name != "" {
		lease, err := payload.Object.Lease()
		if err != nil {
			return nil, err
		}
		out.Lease = lease
	}

	c.logger.Trace("lock response", "method", method, "url", target, "status", resp.StatusCode)
	return out, nil
}
