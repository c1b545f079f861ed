package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"

	"relayd/internal/domain"
)

// Conn is one live connection to a backend. Implementations must be safe for
// concurrent Call use.
type Conn interface {
	Call(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error)
	Close() error
}

// Transport opens connections for server specs. The production transport
// speaks streamable HTTP; tests substitute scripted fakes.
type Transport interface {
	Connect(ctx context.Context, spec domain.ServerSpec) (Conn, error)
}

type requestBuilder struct {
	seq atomic.Uint64
}

func (b *requestBuilder) Build(serverID, method string, params any) (*jsonrpc.Request, error) {
	seq := b.seq.Add(1)
	id, err := jsonrpc.MakeID(fmt.Sprintf("relayd-%s-%s-%d", serverID, method, seq))
	if err != nil {
		return nil, fmt.Errorf("build request id: %w", err)
	}
	rawParams, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	return &jsonrpc.Request{ID: id, Method: method, Params: rawParams}, nil
}
