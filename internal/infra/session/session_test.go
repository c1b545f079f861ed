package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"

	"relayd/internal/domain"
)

type fakeConn struct {
	handler func(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error)

	mu     sync.Mutex
	closed bool
}

func (c *fakeConn) Call(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	return c.handler(ctx, req)
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type fakeTransport struct {
	mu         sync.Mutex
	conn       Conn
	connectErr error
	connects   int
}

func (t *fakeTransport) Connect(ctx context.Context, spec domain.ServerSpec) (Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connects++
	if t.connectErr != nil {
		return nil, t.connectErr
	}
	return t.conn, nil
}

func initializeResult(t *testing.T, protocolVersion string) json.RawMessage {
	t.Helper()
	result, err := json.Marshal(&mcp.InitializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities: &mcp.ServerCapabilities{
			Tools: &mcp.ToolCapabilities{ListChanged: true},
		},
		ServerInfo: &mcp.Implementation{Name: "fake", Version: "0.0.1"},
	})
	require.NoError(t, err)
	return result
}

func handshakeConn(t *testing.T, protocolVersion string, onCall func(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error)) *fakeConn {
	t.Helper()
	return &fakeConn{handler: func(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
		if req.Method == "initialize" {
			return &jsonrpc.Response{ID: req.ID, Result: initializeResult(t, protocolVersion)}, nil
		}
		if onCall == nil {
			t.Fatalf("unexpected call %s", req.Method)
		}
		return onCall(ctx, req)
	}}
}

func testRuntimeConfig() domain.RuntimeConfig {
	return domain.RuntimeConfig{
		HandshakeTimeoutSeconds: 5,
		InvokeTimeoutSeconds:    1,
		ReconnectBaseSeconds:    1,
		ReconnectMaxSeconds:     2,
		ReconnectMaxRetries:     2,
		RefreshConcurrency:      2,
	}
}

func TestSessionConnectHandshake(t *testing.T) {
	spec := domain.ServerSpec{ID: "alpha", Endpoint: "http://alpha", ProtocolVersion: domain.DefaultProtocolVersion}
	transport := &fakeTransport{conn: handshakeConn(t, domain.DefaultProtocolVersion, nil)}
	sess := newSession(spec, transport, testRuntimeConfig(), nil, nil)

	require.Equal(t, domain.SessionDisconnected, sess.State())
	require.NoError(t, sess.Connect(context.Background()))
	require.Equal(t, domain.SessionReady, sess.State())

	info := sess.Info()
	require.NotNil(t, info.Capabilities.Tools)
	require.True(t, info.Capabilities.Tools.ListChanged)
	require.Empty(t, info.LastError)
}

func TestSessionConnectProtocolMismatch(t *testing.T) {
	spec := domain.ServerSpec{ID: "alpha", Endpoint: "http://alpha", ProtocolVersion: domain.DefaultProtocolVersion}
	transport := &fakeTransport{conn: handshakeConn(t, "2024-11-05", nil)}
	sess := newSession(spec, transport, testRuntimeConfig(), nil, nil)

	err := sess.Connect(context.Background())
	require.ErrorIs(t, err, domain.ErrProtocolMismatch)
	require.Contains(t, err.Error(), "2024-11-05")
	require.Equal(t, domain.SessionFailed, sess.State())
}

func TestSessionConnectTransportFailure(t *testing.T) {
	spec := domain.ServerSpec{ID: "alpha", Endpoint: "http://alpha"}
	transport := &fakeTransport{connectErr: context.DeadlineExceeded}
	sess := newSession(spec, transport, testRuntimeConfig(), nil, nil)

	err := sess.Connect(context.Background())
	require.Error(t, err)
	code, ok := domain.CodeFrom(err)
	require.True(t, ok)
	require.Equal(t, domain.CodeUnavailable, code)
	require.Equal(t, domain.SessionFailed, sess.State())
}

func TestSessionInvokeNotReady(t *testing.T) {
	spec := domain.ServerSpec{ID: "alpha", Endpoint: "http://alpha"}
	sess := newSession(spec, &fakeTransport{}, testRuntimeConfig(), nil, nil)

	_, err := sess.Invoke(context.Background(), "ping", nil)
	require.ErrorIs(t, err, domain.ErrServerUnavailable)
}

func TestSessionInvokePreservesRemoteError(t *testing.T) {
	const rejection = "missing credential reference on node Send Email"
	conn := handshakeConn(t, domain.DefaultProtocolVersion, func(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
		require.Equal(t, "tools/call", req.Method)
		return &jsonrpc.Response{
			ID:    req.ID,
			Error: &jsonrpc.Error{Code: -32002, Message: rejection},
		}, nil
	})
	spec := domain.ServerSpec{ID: "alpha", Endpoint: "http://alpha", ProtocolVersion: domain.DefaultProtocolVersion}
	sess := newSession(spec, &fakeTransport{conn: conn}, testRuntimeConfig(), nil, nil)
	require.NoError(t, sess.Connect(context.Background()))

	_, err := sess.Invoke(context.Background(), "create_workflow", json.RawMessage(`{}`))
	var invErr *domain.InvocationError
	require.ErrorAs(t, err, &invErr)
	require.Equal(t, domain.InvocationRemote, invErr.Kind)
	require.Equal(t, int64(-32002), invErr.Code)
	require.Equal(t, rejection, invErr.Message)

	// A remote rejection is not a connection loss.
	require.Equal(t, domain.SessionReady, sess.State())
}

func TestSessionInvokeTimeout(t *testing.T) {
	conn := handshakeConn(t, domain.DefaultProtocolVersion, func(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	spec := domain.ServerSpec{ID: "alpha", Endpoint: "http://alpha", ProtocolVersion: domain.DefaultProtocolVersion}
	sess := newSession(spec, &fakeTransport{conn: conn}, testRuntimeConfig(), nil, nil)
	require.NoError(t, sess.Connect(context.Background()))

	started := time.Now()
	_, err := sess.Invoke(context.Background(), "slow_tool", nil)
	var invErr *domain.InvocationError
	require.ErrorAs(t, err, &invErr)
	require.Equal(t, domain.InvocationTimeout, invErr.Kind)
	require.Contains(t, invErr.Message, "slow_tool")
	require.GreaterOrEqual(t, time.Since(started), time.Second)

	// The deadline firing does not tear the session down.
	require.Equal(t, domain.SessionReady, sess.State())
}

func TestSessionInvokeConnectionLoss(t *testing.T) {
	var downCalls int
	conn := handshakeConn(t, domain.DefaultProtocolVersion, func(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
		return nil, domain.ErrConnectionClosed
	})
	spec := domain.ServerSpec{ID: "alpha", Endpoint: "http://alpha", ProtocolVersion: domain.DefaultProtocolVersion}
	sess := newSession(spec, &fakeTransport{conn: conn}, testRuntimeConfig(), nil, nil)
	sess.onDown = func(*Session) { downCalls++ }
	require.NoError(t, sess.Connect(context.Background()))

	_, err := sess.Invoke(context.Background(), "ping", nil)
	var invErr *domain.InvocationError
	require.ErrorAs(t, err, &invErr)
	require.Equal(t, domain.InvocationTransport, invErr.Kind)
	require.Equal(t, domain.SessionDisconnected, sess.State())
	require.Equal(t, 1, downCalls)
}

func TestSessionListToolsPaginates(t *testing.T) {
	page := func(names []string, next string) json.RawMessage {
		tools := make([]*mcp.Tool, 0, len(names))
		for _, name := range names {
			tools = append(tools, &mcp.Tool{
				Name:        name,
				Description: "does " + name,
				InputSchema: map[string]any{"type": "object"},
			})
		}
		payload, err := json.Marshal(&mcp.ListToolsResult{Tools: tools, NextCursor: next})
		require.NoError(t, err)
		return payload
	}

	calls := 0
	conn := handshakeConn(t, domain.DefaultProtocolVersion, func(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
		require.Equal(t, "tools/list", req.Method)
		calls++
		if calls == 1 {
			return &jsonrpc.Response{ID: req.ID, Result: page([]string{"create_workflow"}, "page2")}, nil
		}
		return &jsonrpc.Response{ID: req.ID, Result: page([]string{"list_workflows"}, "")}, nil
	})
	spec := domain.ServerSpec{ID: "n8n", Endpoint: "http://n8n", ProtocolVersion: domain.DefaultProtocolVersion}
	sess := newSession(spec, &fakeTransport{conn: conn}, testRuntimeConfig(), nil, nil)
	require.NoError(t, sess.Connect(context.Background()))

	tools, err := sess.ListTools(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, calls)
	require.Len(t, tools, 2)
	require.Equal(t, "n8n.create_workflow", tools[0].QualifiedName)
	require.Equal(t, "n8n", tools[0].ServerID)
	require.JSONEq(t, `{"type":"object"}`, string(tools[0].InputSchema))
}

func TestSessionConnectIdempotentWhenReady(t *testing.T) {
	spec := domain.ServerSpec{ID: "alpha", Endpoint: "http://alpha", ProtocolVersion: domain.DefaultProtocolVersion}
	transport := &fakeTransport{conn: handshakeConn(t, domain.DefaultProtocolVersion, nil)}
	sess := newSession(spec, transport, testRuntimeConfig(), nil, nil)

	require.NoError(t, sess.Connect(context.Background()))
	require.NoError(t, sess.Connect(context.Background()))
	require.Equal(t, 1, transport.connects)
}
