package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"relayd/internal/domain"
)

// StreamableHTTPTransport connects to backends over the streamable HTTP
// protocol, injecting per-server auth headers on every request.
type StreamableHTTPTransport struct {
	logger *zap.Logger
}

func NewStreamableHTTPTransport(logger *zap.Logger) *StreamableHTTPTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamableHTTPTransport{logger: logger}
}

func (t *StreamableHTTPTransport) Connect(ctx context.Context, spec domain.ServerSpec) (Conn, error) {
	endpoint := strings.TrimSpace(spec.Endpoint)
	if endpoint == "" {
		return nil, errors.New("server endpoint is required")
	}

	roundTripper, err := buildHeaderRoundTripper(spec)
	if err != nil {
		return nil, err
	}

	transport := &mcp.StreamableClientTransport{
		Endpoint:   endpoint,
		HTTPClient: &http.Client{Transport: roundTripper},
	}
	mcpConn, err := transport.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect streamable http: %w", err)
	}

	return newWireConn(mcpConn, t.logger.Named("conn").With(zap.String("server", spec.ID))), nil
}

func buildHeaderRoundTripper(spec domain.ServerSpec) (http.RoundTripper, error) {
	headers := http.Header{}
	if spec.ProtocolVersion != "" {
		headers.Set("Mcp-Protocol-Version", spec.ProtocolVersion)
	}
	for key, value := range spec.Headers {
		name := http.CanonicalHeaderKey(strings.TrimSpace(key))
		if name == "" {
			return nil, errors.New("server headers contain empty key")
		}
		headers.Set(name, value)
	}

	base := http.DefaultTransport
	if base == nil {
		return nil, errors.New("default http transport is nil")
	}
	return &headerRoundTripper{base: base, headers: headers}, nil
}

type headerRoundTripper struct {
	base    http.RoundTripper
	headers http.Header
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	for key, values := range h.headers {
		req.Header.Del(key)
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	return h.base.RoundTrip(req)
}

// wireConn adapts an mcp.Connection to the Conn interface. Calls are matched
// to responses by request id; notifications and unsolicited server calls
// arriving in between are skipped (server calls with a valid id get a
// method-not-found answer so the peer does not hang).
type wireConn struct {
	conn    mcp.Connection
	pending map[string]chan callResult
	logger  *zap.Logger

	mu        sync.Mutex
	readOnce  sync.Once
	closeOnce sync.Once
	cancel    context.CancelFunc
	closed    chan struct{}
}

type callResult struct {
	resp *jsonrpc.Response
	err  error
}

func newWireConn(conn mcp.Connection, logger *zap.Logger) *wireConn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &wireConn{
		conn:    conn,
		pending: make(map[string]chan callResult),
		logger:  logger,
		cancel:  cancel,
		closed:  make(chan struct{}),
	}
	go c.readLoop(ctx)
	return c
}

func (c *wireConn) Call(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	if c.isClosed() {
		return nil, domain.ErrConnectionClosed
	}
	if !req.ID.IsValid() {
		return nil, errors.New("request id is required")
	}
	key, err := idKey(req.ID)
	if err != nil {
		return nil, err
	}

	resultCh := make(chan callResult, 1)
	c.mu.Lock()
	if c.pending == nil {
		c.mu.Unlock()
		return nil, domain.ErrConnectionClosed
	}
	c.pending[key] = resultCh
	c.mu.Unlock()

	if err := c.conn.Write(ctx, req); err != nil {
		c.removePending(key)
		return nil, fmt.Errorf("write request: %w", err)
	}

	select {
	case result := <-resultCh:
		return result.resp, result.err
	case <-ctx.Done():
		c.removePending(key)
		return nil, ctx.Err()
	}
}

func (c *wireConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.cancel()
		err = c.conn.Close()
		c.failPending(domain.ErrConnectionClosed)
	})
	return err
}

func (c *wireConn) readLoop(ctx context.Context) {
	for {
		msg, err := c.conn.Read(ctx)
		if err != nil {
			c.failPending(fmt.Errorf("read: %w", err))
			return
		}
		switch typed := msg.(type) {
		case *jsonrpc.Response:
			c.dispatchResponse(typed)
		case *jsonrpc.Request:
			if typed.ID.IsValid() {
				c.rejectServerCall(ctx, typed)
			}
			// notifications are dropped; catalog refresh is registry-driven
		}
	}
}

func (c *wireConn) dispatchResponse(resp *jsonrpc.Response) {
	key, err := idKey(resp.ID)
	if err != nil {
		c.logger.Debug("drop response with invalid id", zap.Error(err))
		return
	}
	c.mu.Lock()
	ch := c.pending[key]
	delete(c.pending, key)
	c.mu.Unlock()
	if ch == nil {
		c.logger.Debug("drop response with no pending call", zap.String("id", key))
		return
	}
	ch <- callResult{resp: resp}
}

func (c *wireConn) rejectServerCall(ctx context.Context, req *jsonrpc.Request) {
	resp := &jsonrpc.Response{
		ID: req.ID,
		Error: &jsonrpc.Error{
			Code:    -32601,
			Message: fmt.Sprintf("method %q not supported", req.Method),
		},
	}
	if err := c.conn.Write(ctx, resp); err != nil {
		c.logger.Warn("respond to server call failed", zap.String("method", req.Method), zap.Error(err))
	}
}

func (c *wireConn) removePending(key string) {
	c.mu.Lock()
	delete(c.pending, key)
	c.mu.Unlock()
}

func (c *wireConn) failPending(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, ch := range pending {
		ch <- callResult{err: err}
	}
}

func (c *wireConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func idKey(id jsonrpc.ID) (string, error) {
	raw, err := json.Marshal(id.Raw())
	if err != nil {
		return "", fmt.Errorf("marshal id: %w", err)
	}
	return string(raw), nil
}
