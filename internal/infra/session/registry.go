package session

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"relayd/internal/domain"
)

// Registry owns every configured session and its add/remove/reconnect
// lifecycle. Failed sessions are retried with bounded exponential backoff on
// a background goroutine; spending the budget parks the session in
// unavailable, which only removes its tools from the catalog. Membership and
// state changes are broadcast to subscribers so the aggregator can rebuild.
type Registry struct {
	transport Transport
	cfg       domain.RuntimeConfig
	metrics   domain.Metrics
	logger    *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	subs     map[chan struct{}]struct{}
	closed   bool
	stop     chan struct{}
	wg       sync.WaitGroup
}

func NewRegistry(transport Transport, cfg domain.RuntimeConfig, metrics domain.Metrics, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = domain.NopMetrics{}
	}
	return &Registry{
		transport: transport,
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger.Named("registry"),
		sessions:  make(map[string]*Session),
		subs:      make(map[chan struct{}]struct{}),
		stop:      make(chan struct{}),
	}
}

// AddServer registers a backend and performs the initial handshake. A
// protocol mismatch is terminal and leaves nothing registered. A transport
// failure keeps the session registered in failed state with background
// reconnects running, and still reports the error to the caller.
func (r *Registry) AddServer(ctx context.Context, spec domain.ServerSpec) error {
	if strings.TrimSpace(spec.ID) == "" {
		return domain.E(domain.CodeInvalidArgument, "registry.addServer", "server id is required", nil)
	}

	sess := newSession(spec, r.transport, r.cfg, r.metrics, r.logger)
	sess.onDown = r.scheduleReconnect

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return domain.E(domain.CodeUnavailable, "registry.addServer", "registry is closed", nil)
	}
	if _, exists := r.sessions[spec.ID]; exists {
		r.mu.Unlock()
		return domain.E(domain.CodeAlreadyExists, "registry.addServer",
			"server "+spec.ID+" already registered", domain.ErrDuplicateServer)
	}
	r.sessions[spec.ID] = sess
	r.mu.Unlock()

	err := sess.Connect(ctx)
	switch {
	case err == nil:
		r.notify()
		return nil
	case errors.Is(err, domain.ErrProtocolMismatch):
		r.mu.Lock()
		delete(r.sessions, spec.ID)
		r.mu.Unlock()
		return err
	default:
		r.scheduleReconnect(sess)
		r.notify()
		return err
	}
}

// RemoveServer tears the session down and triggers a catalog rebuild.
func (r *Registry) RemoveServer(id string) error {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return domain.E(domain.CodeNotFound, "registry.removeServer", "server "+id+" is not registered", domain.ErrServerNotFound)
	}
	_ = sess.Close()
	r.notify()
	return nil
}

// ServerIDs returns every registered server id in stable order.
func (r *Registry) ServerIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Session returns the session for a server id.
func (r *Registry) Session(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	return sess, ok
}

// Sessions returns read-only snapshots for status queries.
func (r *Registry) Sessions() []domain.SessionInfo {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.mu.Unlock()

	infos := make([]domain.SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, sess.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ServerID < infos[j].ServerID })
	return infos
}

// ListTools returns the server's declared tool descriptors, or
// ErrServerUnavailable when the session is not ready.
func (r *Registry) ListTools(ctx context.Context, serverID string) ([]domain.ToolDescriptor, error) {
	sess, ok := r.Session(serverID)
	if !ok {
		return nil, domain.E(domain.CodeNotFound, "registry.listTools", "server "+serverID+" is not registered", domain.ErrServerNotFound)
	}
	return sess.ListTools(ctx)
}

// Invoke routes one call through the server's ready session.
func (r *Registry) Invoke(ctx context.Context, serverID, tool string, arguments json.RawMessage) (json.RawMessage, error) {
	sess, ok := r.Session(serverID)
	if !ok {
		return nil, domain.E(domain.CodeNotFound, "registry.invoke", "server "+serverID+" is not registered", domain.ErrServerNotFound)
	}
	return sess.Invoke(ctx, tool, arguments)
}

// Subscribe returns a channel that receives a coalesced signal whenever
// registry membership or session state changes.
func (r *Registry) Subscribe(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{}, 1)

	r.mu.Lock()
	r.subs[ch] = struct{}{}
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		delete(r.subs, ch)
		r.mu.Unlock()
	}()

	return ch
}

// Close tears down every session and stops reconnect loops.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.stop)
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.mu.Unlock()

	for _, sess := range sessions {
		_ = sess.Close()
	}
	r.wg.Wait()
	return nil
}

// scheduleReconnect runs bounded exponential backoff for a failed or
// disconnected session. It never blocks callers and never aborts the
// process; exceeding the cap parks the session in unavailable.
func (r *Registry) scheduleReconnect(sess *Session) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()

		maxRetries := r.cfg.ReconnectMaxRetries
		if maxRetries <= 0 {
			maxRetries = domain.DefaultReconnectMaxRetries
		}

		for {
			retry := sess.bumpRetry()
			if retry > maxRetries {
				sess.markUnavailable(nil)
				r.logger.Warn("reconnect budget exhausted, server marked unavailable",
					zap.String("server", sess.ID()),
					zap.Int("retries", maxRetries))
				r.notify()
				return
			}

			select {
			case <-r.stop:
				return
			case <-time.After(r.backoff(retry)):
			}

			if current, ok := r.Session(sess.ID()); !ok || current != sess {
				return
			}

			ctx, cancel := context.WithTimeout(context.Background(), time.Duration(r.cfg.HandshakeTimeoutSeconds)*time.Second)
			err := sess.Connect(ctx)
			cancel()
			switch {
			case err == nil:
				sess.resetRetry()
				r.logger.Info("session reconnected", zap.String("server", sess.ID()), zap.Int("retry", retry))
				r.notify()
				return
			case errors.Is(err, domain.ErrProtocolMismatch):
				sess.markUnavailable(err)
				r.logger.Error("reconnect refused by protocol mismatch", zap.String("server", sess.ID()), zap.Error(err))
				r.notify()
				return
			default:
				r.logger.Warn("reconnect attempt failed",
					zap.String("server", sess.ID()),
					zap.Int("retry", retry),
					zap.Error(err))
			}
		}
	}()
}

func (r *Registry) backoff(retry int) time.Duration {
	base := time.Duration(r.cfg.ReconnectBaseSeconds) * time.Second
	if base <= 0 {
		base = domain.DefaultReconnectBaseSeconds * time.Second
	}
	max := time.Duration(r.cfg.ReconnectMaxSeconds) * time.Second
	if max <= 0 {
		max = domain.DefaultReconnectMaxSeconds * time.Second
	}
	delay := base << (retry - 1)
	if delay > max || delay <= 0 {
		delay = max
	}
	return delay
}

func (r *Registry) notify() {
	r.mu.Lock()
	subs := make([]chan struct{}, 0, len(r.subs))
	for ch := range r.subs {
		subs = append(subs, ch)
	}
	r.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
