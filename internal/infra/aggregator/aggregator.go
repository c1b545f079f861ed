package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/jsonschema-go/jsonschema"
	"go.uber.org/zap"

	"relayd/internal/domain"
)

// ToolSource is the registry surface the aggregator consumes: enumerate
// servers, list one server's tools, route a call, and learn about change.
type ToolSource interface {
	ServerIDs() []string
	ListTools(ctx context.Context, serverID string) ([]domain.ToolDescriptor, error)
	Invoke(ctx context.Context, serverID, tool string, arguments json.RawMessage) (json.RawMessage, error)
	Subscribe(ctx context.Context) <-chan struct{}
}

// Aggregator maintains the merged, namespace-qualified tool catalog and
// dispatches calls against it. The catalog is an immutable snapshot swapped
// wholesale; readers are never blocked by a rebuild.
type Aggregator struct {
	source      ToolSource
	metrics     domain.Metrics
	logger      *zap.Logger
	concurrency int

	catalog   atomic.Value // *domain.ToolCatalog
	rebuildMu sync.Mutex
}

func New(source ToolSource, concurrency int, metrics domain.Metrics, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = domain.NopMetrics{}
	}
	if concurrency <= 0 {
		concurrency = domain.DefaultRefreshConcurrency
	}
	a := &Aggregator{
		source:      source,
		metrics:     metrics,
		logger:      logger.Named("aggregator"),
		concurrency: concurrency,
	}
	a.catalog.Store(domain.NewToolCatalog(nil))
	return a
}

// Start builds the initial catalog and rebuilds on every source change until
// the context ends. Change signals are coalesced; a rebuild always reflects
// the source state at or after the signal.
func (a *Aggregator) Start(ctx context.Context) {
	a.Rebuild(ctx)

	changes := a.source.Subscribe(ctx)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-changes:
				a.Rebuild(ctx)
			}
		}
	}()
}

// Catalog returns the current immutable snapshot.
func (a *Aggregator) Catalog() *domain.ToolCatalog {
	return a.catalog.Load().(*domain.ToolCatalog)
}

// Rebuild queries every server concurrently and swaps in a fresh catalog.
// Servers that fail to answer contribute nothing; their tools drop out of
// the merged view until they recover. The swap is skipped when the content
// hash is unchanged so downstream consumers see no spurious updates.
func (a *Aggregator) Rebuild(ctx context.Context) {
	a.rebuildMu.Lock()
	defer a.rebuildMu.Unlock()

	serverIDs := a.source.ServerIDs()

	type listing struct {
		serverID string
		tools    []domain.ToolDescriptor
		err      error
	}

	jobs := make(chan string)
	results := make(chan listing, len(serverIDs))

	var wg sync.WaitGroup
	workers := a.concurrency
	if workers > len(serverIDs) {
		workers = len(serverIDs)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for serverID := range jobs {
				tools, err := a.source.ListTools(ctx, serverID)
				results <- listing{serverID: serverID, tools: tools, err: err}
			}
		}()
	}
	for _, serverID := range serverIDs {
		jobs <- serverID
	}
	close(jobs)
	wg.Wait()
	close(results)

	var merged []domain.ToolDescriptor
	for result := range results {
		if result.err != nil {
			a.logger.Warn("server excluded from catalog",
				zap.String("server", result.serverID),
				zap.Error(result.err))
			continue
		}
		merged = append(merged, result.tools...)
	}

	next := domain.NewToolCatalog(merged)
	current := a.Catalog()
	if next.ETag() == current.ETag() {
		return
	}
	a.catalog.Store(next)
	a.metrics.ObserveCatalogSize(next.Len())
	a.logger.Info("catalog rebuilt",
		zap.Int("tools", next.Len()),
		zap.Int("servers", len(serverIDs)),
		zap.String("etag", next.ETag()))
}

// CallTool resolves a qualified or unambiguous bare name, checks the
// arguments against the tool's declared schema, and routes the call to the
// owning server. Arguments that fail the declared schema never leave the
// process.
func (a *Aggregator) CallTool(ctx context.Context, name string, arguments json.RawMessage) (json.RawMessage, error) {
	tool, err := a.Catalog().Lookup(name)
	if err != nil {
		return nil, err
	}
	if err := validateArguments(tool, arguments); err != nil {
		return nil, err
	}
	return a.source.Invoke(ctx, tool.ServerID, tool.BareName, arguments)
}

func validateArguments(tool domain.ToolDescriptor, arguments json.RawMessage) error {
	if len(tool.InputSchema) == 0 {
		return nil
	}

	var schema jsonschema.Schema
	if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
		// An unparseable declared schema is the server's defect, not the
		// caller's; let the server adjudicate.
		return nil
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil
	}

	var instance any
	if len(arguments) == 0 {
		instance = map[string]any{}
	} else if err := json.Unmarshal(arguments, &instance); err != nil {
		return domain.E(domain.CodeInvalidArgument, "aggregator.callTool",
			"arguments are not valid JSON", domain.ErrSchemaMismatch)
	}

	if err := resolved.Validate(instance); err != nil {
		return domain.E(domain.CodeInvalidArgument, "aggregator.callTool",
			fmt.Sprintf("arguments rejected by %s schema: %v", tool.QualifiedName, err),
			domain.ErrSchemaMismatch)
	}
	return nil
}
