package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"relayd/internal/domain"
)

// Session is one authenticated connection to a tool-providing backend. It
// owns the initialize handshake and per-call invocation, and moves through
// disconnected → handshaking → ready ⇄ invoking, with failed on handshake
// errors and unavailable once the registry's retry budget is spent.
type Session struct {
	spec      domain.ServerSpec
	transport Transport
	metrics   domain.Metrics
	logger    *zap.Logger

	handshakeTimeout time.Duration
	invokeTimeout    time.Duration

	// onDown is invoked (outside the lock) when an established connection is
	// lost; the registry uses it to schedule a reconnect.
	onDown func(*Session)

	mu          sync.Mutex
	state       domain.SessionState
	conn        Conn
	caps        domain.ServerCapabilities
	connectedAt time.Time
	retryCount  int
	lastErr     error
	busy        int

	reqBuilder requestBuilder
}

func newSession(spec domain.ServerSpec, transport Transport, cfg domain.RuntimeConfig, metrics domain.Metrics, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = domain.NopMetrics{}
	}
	handshakeTimeout := time.Duration(cfg.HandshakeTimeoutSeconds) * time.Second
	if handshakeTimeout <= 0 {
		handshakeTimeout = domain.DefaultHandshakeTimeoutSeconds * time.Second
	}
	invokeTimeout := time.Duration(cfg.InvokeTimeoutSeconds) * time.Second
	if invokeTimeout <= 0 {
		invokeTimeout = domain.DefaultInvokeTimeoutSeconds * time.Second
	}
	return &Session{
		spec:             spec,
		transport:        transport,
		metrics:          metrics,
		logger:           logger.Named("session").With(zap.String("server", spec.ID)),
		handshakeTimeout: handshakeTimeout,
		invokeTimeout:    invokeTimeout,
		state:            domain.SessionDisconnected,
	}
}

func (s *Session) ID() string {
	return s.spec.ID
}

func (s *Session) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Info() domain.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := domain.SessionInfo{
		ServerID:     s.spec.ID,
		Endpoint:     s.spec.Endpoint,
		State:        s.state,
		RetryCount:   s.retryCount,
		ConnectedAt:  s.connectedAt,
		Capabilities: s.caps,
	}
	if s.lastErr != nil {
		info.LastError = s.lastErr.Error()
	}
	return info
}

// Connect opens the transport and performs the capability handshake. It is a
// no-op when the session is already ready, and refuses to resurrect an
// unavailable session.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case domain.SessionReady, domain.SessionInvoking:
		s.mu.Unlock()
		return nil
	case domain.SessionUnavailable:
		s.mu.Unlock()
		return domain.E(domain.CodeUnavailable, "session.connect", "session is unavailable", domain.ErrServerUnavailable)
	case domain.SessionHandshaking:
		s.mu.Unlock()
		return domain.E(domain.CodeFailedPrecond, "session.connect", "handshake already in progress", nil)
	}
	s.setStateLocked(domain.SessionHandshaking)
	s.mu.Unlock()

	connectCtx, cancel := context.WithTimeout(ctx, s.handshakeTimeout)
	defer cancel()

	conn, err := s.transport.Connect(connectCtx, s.spec)
	if err != nil {
		s.fail(err)
		return domain.E(domain.CodeUnavailable, "session.connect", "", err)
	}

	caps, err := s.handshake(connectCtx, conn)
	if err != nil {
		_ = conn.Close()
		s.fail(err)
		if errors.Is(err, domain.ErrProtocolMismatch) {
			return err
		}
		return domain.E(domain.CodeUnavailable, "session.connect", "", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.caps = caps
	s.connectedAt = time.Now()
	s.lastErr = nil
	s.setStateLocked(domain.SessionReady)
	s.mu.Unlock()

	s.logger.Info("session ready", zap.String("endpoint", s.spec.Endpoint))
	return nil
}

func (s *Session) handshake(ctx context.Context, conn Conn) (domain.ServerCapabilities, error) {
	protocolVersion := s.spec.ProtocolVersion
	if protocolVersion == "" {
		protocolVersion = domain.DefaultProtocolVersion
	}

	params := &mcp.InitializeParams{
		ProtocolVersion: protocolVersion,
		ClientInfo: &mcp.Implementation{
			Name:    "relayd",
			Version: "0.1.0",
		},
		Capabilities: &mcp.ClientCapabilities{},
	}
	req, err := s.reqBuilder.Build(s.spec.ID, "initialize", params)
	if err != nil {
		return domain.ServerCapabilities{}, err
	}

	resp, err := conn.Call(ctx, req)
	if err != nil {
		return domain.ServerCapabilities{}, fmt.Errorf("initialize: %w", err)
	}
	if resp.Error != nil {
		return domain.ServerCapabilities{}, fmt.Errorf("initialize error: %w", resp.Error)
	}
	if len(resp.Result) == 0 {
		return domain.ServerCapabilities{}, errors.New("initialize response missing result")
	}

	var result mcp.InitializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return domain.ServerCapabilities{}, fmt.Errorf("decode initialize result: %w", err)
	}
	if result.ProtocolVersion != protocolVersion {
		return domain.ServerCapabilities{}, fmt.Errorf("%w: server answered %q, wanted %q",
			domain.ErrProtocolMismatch, result.ProtocolVersion, protocolVersion)
	}
	return mapCapabilities(result.Capabilities), nil
}

// ListTools fetches the server's declared tool descriptors, paginating until
// the cursor is exhausted. Names come back qualified with the server id.
func (s *Session) ListTools(ctx context.Context) ([]domain.ToolDescriptor, error) {
	conn, err := s.readyConn()
	if err != nil {
		return nil, err
	}

	var tools []domain.ToolDescriptor
	cursor := ""
	for {
		req, err := s.reqBuilder.Build(s.spec.ID, "tools/list", &mcp.ListToolsParams{Cursor: cursor})
		if err != nil {
			return nil, err
		}
		resp, err := conn.Call(ctx, req)
		if err != nil {
			s.handleConnLoss(err)
			return nil, domain.E(domain.CodeUnavailable, "session.listTools", "", err)
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("tools/list error: %w", resp.Error)
		}

		var result mcp.ListToolsResult
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			return nil, fmt.Errorf("decode tools/list result: %w", err)
		}
		for _, tool := range result.Tools {
			if tool == nil || tool.Name == "" {
				continue
			}
			descriptor, err := describeTool(s.spec.ID, tool)
			if err != nil {
				s.logger.Warn("skip tool", zap.String("tool", tool.Name), zap.Error(err))
				continue
			}
			tools = append(tools, descriptor)
		}
		if result.NextCursor == "" {
			break
		}
		cursor = result.NextCursor
	}
	return tools, nil
}

// Invoke routes one tools/call through the session under its own deadline.
// The remote error detail is preserved verbatim; a fired deadline surfaces
// as a timeout invocation error so callers never wait unbounded.
func (s *Session) Invoke(ctx context.Context, tool string, arguments json.RawMessage) (json.RawMessage, error) {
	conn, err := s.readyConn()
	if err != nil {
		return nil, err
	}

	s.beginInvoke()
	defer s.endInvoke()

	callCtx, cancel := context.WithTimeout(ctx, s.invokeTimeout)
	defer cancel()

	params := &mcp.CallToolParams{
		Name:      tool,
		Arguments: arguments,
	}
	req, err := s.reqBuilder.Build(s.spec.ID, "tools/call", params)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	resp, err := conn.Call(callCtx, req)
	s.metrics.ObserveInvoke(s.spec.ID, tool, time.Since(started), err)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, &domain.InvocationError{
				Kind:    domain.InvocationTimeout,
				Message: fmt.Sprintf("tool %q exceeded %s deadline", tool, s.invokeTimeout),
			}
		}
		s.handleConnLoss(err)
		return nil, &domain.InvocationError{
			Kind:    domain.InvocationTransport,
			Message: err.Error(),
		}
	}
	if resp.Error != nil {
		invErr := &domain.InvocationError{
			Kind:    domain.InvocationRemote,
			Message: resp.Error.Error(),
		}
		var wireErr *jsonrpc.Error
		if errors.As(resp.Error, &wireErr) {
			invErr.Code = wireErr.Code
			invErr.Message = wireErr.Message
		}
		return nil, invErr
	}
	return resp.Result, nil
}

// Close tears the session down and returns it to disconnected.
func (s *Session) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.setStateLocked(domain.SessionDisconnected)
	s.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (s *Session) readyConn() (Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.SessionReady && s.state != domain.SessionInvoking {
		return nil, domain.E(domain.CodeUnavailable, "session",
			fmt.Sprintf("server %q is %s", s.spec.ID, s.state), domain.ErrServerUnavailable)
	}
	return s.conn, nil
}

func (s *Session) beginInvoke() {
	s.mu.Lock()
	s.busy++
	if s.state == domain.SessionReady {
		s.setStateLocked(domain.SessionInvoking)
	}
	s.mu.Unlock()
}

func (s *Session) endInvoke() {
	s.mu.Lock()
	if s.busy > 0 {
		s.busy--
	}
	if s.busy == 0 && s.state == domain.SessionInvoking {
		s.setStateLocked(domain.SessionReady)
	}
	s.mu.Unlock()
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.setStateLocked(domain.SessionFailed)
	s.mu.Unlock()
}

func (s *Session) markUnavailable(err error) {
	s.mu.Lock()
	if err != nil {
		s.lastErr = err
	}
	conn := s.conn
	s.conn = nil
	s.setStateLocked(domain.SessionUnavailable)
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// handleConnLoss transitions an established session back to disconnected and
// lets the registry schedule a reconnect. Call errors that are not
// connection-level (deadline on the caller's own context) do not count.
func (s *Session) handleConnLoss(err error) {
	if !errors.Is(err, domain.ErrConnectionClosed) {
		return
	}
	s.mu.Lock()
	if s.state != domain.SessionReady && s.state != domain.SessionInvoking {
		s.mu.Unlock()
		return
	}
	conn := s.conn
	s.conn = nil
	s.lastErr = err
	s.setStateLocked(domain.SessionDisconnected)
	onDown := s.onDown
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	s.logger.Warn("connection lost", zap.Error(err))
	if onDown != nil {
		onDown(s)
	}
}

func (s *Session) bumpRetry() int {
	s.mu.Lock()
	s.retryCount++
	count := s.retryCount
	s.mu.Unlock()
	return count
}

func (s *Session) resetRetry() {
	s.mu.Lock()
	s.retryCount = 0
	s.mu.Unlock()
}

func (s *Session) setStateLocked(state domain.SessionState) {
	s.state = state
	s.metrics.ObserveSessionState(s.spec.ID, state)
}

func describeTool(serverID string, tool *mcp.Tool) (domain.ToolDescriptor, error) {
	var schema json.RawMessage
	if tool.InputSchema != nil {
		raw, err := json.Marshal(tool.InputSchema)
		if err != nil {
			return domain.ToolDescriptor{}, fmt.Errorf("marshal input schema: %w", err)
		}
		schema = raw
	}
	return domain.ToolDescriptor{
		QualifiedName: domain.QualifyToolName(serverID, tool.Name),
		BareName:      tool.Name,
		ServerID:      serverID,
		Description:   tool.Description,
		InputSchema:   schema,
	}, nil
}

func mapCapabilities(caps *mcp.ServerCapabilities) domain.ServerCapabilities {
	out := domain.ServerCapabilities{}
	if caps == nil {
		return out
	}
	if caps.Tools != nil {
		out.Tools = &domain.ToolsCapability{ListChanged: caps.Tools.ListChanged}
	}
	if caps.Resources != nil {
		out.Resources = &domain.ResourcesCapability{
			Subscribe:   caps.Resources.Subscribe,
			ListChanged: caps.Resources.ListChanged,
		}
	}
	if caps.Prompts != nil {
		out.Prompts = &domain.PromptsCapability{ListChanged: caps.Prompts.ListChanged}
	}
	if caps.Logging != nil {
		out.Logging = &domain.LoggingCapability{}
	}
	return out
}
