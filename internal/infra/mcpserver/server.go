package mcpserver

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"cdsmcp/internal/domain"
	"cdsmcp/internal/infra/query"
	"cdsmcp/internal/infra/telemetry"
)

// Options configures the protocol server built for a catalog.
type Options struct {
	Name         string
	Version      string
	Instructions string
	Logger       *zap.Logger
	Metrics      domain.Metrics
}

// Server is the protocol endpoint for one immutable catalog. Sessions
// connect to it and keep using it after a catalog reload.
type Server struct {
	mcp      *mcp.Server
	catalog  *domain.Catalog
	exec     *query.Executor
	logger   *zap.Logger
	metrics  domain.Metrics
	handlers map[string]*resourceBinding
}

// New registers every descriptor of catalog on a fresh mcp.Server.
func New(catalog *domain.Catalog, exec *query.Executor, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	name := opts.Name
	if name == "" {
		name = domain.DefaultServerName
	}
	version := opts.Version
	if version == "" {
		version = domain.DefaultServerVersion
	}

	s := &Server{
		catalog:  catalog,
		exec:     exec,
		logger:   logger.Named("mcpserver"),
		metrics:  metrics,
		handlers: map[string]*resourceBinding{},
	}
	s.mcp = mcp.NewServer(&mcp.Implementation{
		Name:    name,
		Version: version,
	}, &mcp.ServerOptions{
		Instructions: opts.Instructions,
		HasTools:     len(catalog.Tools) > 0,
		HasResources: len(catalog.Resources) > 0,
		HasPrompts:   len(catalog.Prompts) > 0,
	})
	s.mcp.AddReceivingMiddleware(s.observeMiddleware(), s.resourceReadMiddleware())

	s.registerTools()
	s.registerResources()
	s.registerPrompts()
	return s
}

// MCP returns the underlying protocol server.
func (s *Server) MCP() *mcp.Server {
	return s.mcp
}

// Catalog returns the catalog the server was built from.
func (s *Server) Catalog() *domain.Catalog {
	return s.catalog
}

func (s *Server) observeMiddleware() mcp.Middleware {
	return func(next mcp.MethodHandler) mcp.MethodHandler {
		return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
			if method != "tools/call" {
				return next(ctx, method, req)
			}
			tool := ""
			if call, ok := req.(*mcp.CallToolRequest); ok && call.Params != nil {
				tool = call.Params.Name
			}
			if extra := req.GetExtra(); extra != nil {
				ctx, _ = telemetry.FromHeader(ctx, extra.Header)
			}
			logger := telemetry.LoggerWithRequest(ctx, s.logger)

			start := time.Now()
			res, err := next(ctx, method, req)
			duration := time.Since(start)
			s.metrics.ObserveToolCall(tool, duration, err)

			fields := []zap.Field{
				telemetry.EventField(telemetry.EventToolCall),
				telemetry.ToolField(tool),
				telemetry.DurationField(duration),
			}
			if err != nil {
				logger.Info("tool call failed", append(fields, zap.Error(err))...)
			} else {
				logger.Debug("tool call", fields...)
			}
			return res, err
		}
	}
}
