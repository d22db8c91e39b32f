// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/jllopis/ergon/pkg/errors"
	"github.com/jllopis/ergon/pkg/resilience"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultRetries  = 2
	defaultBackoff  = 200 * time.Millisecond
	defaultCacheTTL = 30 * time.Second
)

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithRetry configures retry count and initial backoff.
func WithRetry(retries int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		if retries >= 0 {
			c.retry.MaxAttempts = retries + 1
		}
		if backoff > 0 {
			c.retry.InitialDelay = backoff
		}
	}
}

// WithToolCacheTTL sets how long tool listings are cached. Zero disables
// caching.
func WithToolCacheTTL(ttl time.Duration) ClientOption {
	return func(c *Client) {
		if ttl >= 0 {
			c.cacheTTL = ttl
		}
	}
}

// Client talks to an external MCP server.
type Client struct {
	mcpClient client.MCPClient
	timeout   time.Duration
	retry     resilience.RetryConfig
	cacheTTL  time.Duration

	mu          sync.Mutex
	toolsCache  []mcp.Tool
	cacheExpiry time.Time
}

// NewClient wraps an initialized mcp-go client.
func NewClient(c client.MCPClient, opts ...ClientOption) *Client {
	retry := resilience.DefaultRetryConfig().WithInitialDelay(defaultBackoff)
	retry.MaxAttempts = defaultRetries + 1
	cl := &Client{
		mcpClient: c,
		timeout:   defaultTimeout,
		retry:     retry,
		cacheTTL:  defaultCacheTTL,
	}
	for _, opt := range opts {
		opt(cl)
	}
	return cl
}

// NewStdioClient starts command as a subprocess and speaks MCP over its
// stdio.
func NewStdioClient(ctx context.Context, command string, args, env []string, opts ...ClientOption) (*Client, error) {
	c, err := client.NewStdioMCPClient(command, env, args...)
	if err != nil {
		return nil, errors.New(errors.CodeProcessSpawn, "start mcp server", err).WithContext("command", command)
	}
	return initialize(ctx, c, opts...)
}

// NewHTTPClient connects to a streamable HTTP MCP endpoint.
func NewHTTPClient(ctx context.Context, url string, opts ...ClientOption) (*Client, error) {
	c, err := client.NewStreamableHttpClient(url)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "create mcp http client", err).WithContext("url", url)
	}
	return initialize(ctx, c, opts...)
}

func initialize(ctx context.Context, c *client.Client, opts ...ClientOption) (*Client, error) {
	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return nil, errors.New(errors.CodeInternal, "start mcp client", err)
	}
	initCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: "ergon", Version: "0.1.0"}
	if _, err := c.Initialize(initCtx, req); err != nil {
		_ = c.Close()
		return nil, errors.New(errors.CodeInternal, "initialize mcp session", err)
	}
	return NewClient(c, opts...), nil
}

// ListTools returns the tools offered by the server.
func (c *Client) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	if cached := c.cachedTools(); cached != nil {
		return cached, nil
	}
	var res *mcp.ListToolsResult
	err := c.do(ctx, func(ctx context.Context) (err error) {
		res, err = c.mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
		return err
	})
	if err != nil {
		return nil, err
	}
	c.storeTools(res.Tools)
	return res.Tools, nil
}

// CallTool invokes a tool on the server.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	var res *mcp.CallToolResult
	err := c.do(ctx, func(ctx context.Context) (err error) {
		res, err = c.mcpClient.CallTool(ctx, req)
		return err
	})
	return res, err
}

// Close ends the session.
func (c *Client) Close() error {
	return c.mcpClient.Close()
}

// do runs call with the per-request timeout, retrying failures other than
// cancellation.
func (c *Client) do(ctx context.Context, call func(context.Context) error) error {
	rc := c.retry.WithIsRecoverable(func(err error) bool {
		return ctx.Err() == nil && !stderrors.Is(err, context.Canceled)
	})
	return rc.Do(ctx, func() error {
		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		return call(reqCtx)
	})
}

func (c *Client) cachedTools() []mcp.Tool {
	if c.cacheTTL == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.toolsCache) == 0 || time.Now().After(c.cacheExpiry) {
		return nil
	}
	return append([]mcp.Tool(nil), c.toolsCache...)
}

func (c *Client) storeTools(tools []mcp.Tool) {
	if c.cacheTTL == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toolsCache = append([]mcp.Tool(nil), tools...)
	c.cacheExpiry = time.Now().Add(c.cacheTTL)
}
