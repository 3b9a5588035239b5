package mcpserver

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"cdsmcp/internal/domain"
	"cdsmcp/internal/infra/telemetry"
)

func (s *Server) registerTools() {
	for _, desc := range s.catalog.Tools {
		handler, ok := s.toolHandler(desc)
		if !ok {
			s.logger.Warn("tool has no handler", telemetry.ToolField(desc.Name))
			continue
		}
		tool := &mcp.Tool{
			Name:        desc.Name,
			Title:       desc.Title,
			Description: desc.Description,
			InputSchema: desc.InputSchema,
			Annotations: toolAnnotations(desc),
		}
		s.mcp.AddTool(tool, handler)
	}
}

func (s *Server) toolHandler(desc domain.ToolDescriptor) (mcp.ToolHandler, bool) {
	if desc.Operation != "" {
		op, ok := s.catalog.Operations[desc.Operation]
		if !ok {
			return nil, false
		}
		return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			out, err := s.exec.Invoke(ctx, op, arguments(req))
			if err != nil {
				return s.toolError(desc.Name, err)
			}
			return jsonResult(map[string]any{"value": out})
		}, true
	}

	entity, ok := s.catalog.Entity(desc.Entity)
	if !ok {
		return nil, false
	}
	var call func(ctx context.Context, raw json.RawMessage) (any, error)
	switch desc.Mode {
	case domain.ModeQuery:
		call = func(ctx context.Context, raw json.RawMessage) (any, error) {
			spec, err := s.exec.Translator().TranslateTool(raw)
			if err != nil {
				return nil, err
			}
			result, err := s.exec.Execute(ctx, entity, spec)
			if err != nil {
				return nil, err
			}
			return queryPayload(result), nil
		}
	case domain.ModeGet:
		call = func(ctx context.Context, raw json.RawMessage) (any, error) {
			return s.exec.Get(ctx, entity, raw)
		}
	case domain.ModeCreate:
		call = func(ctx context.Context, raw json.RawMessage) (any, error) {
			return s.exec.Create(ctx, entity, raw)
		}
	case domain.ModeUpdate:
		call = func(ctx context.Context, raw json.RawMessage) (any, error) {
			return s.exec.Update(ctx, entity, raw)
		}
	case domain.ModeDelete:
		call = func(ctx context.Context, raw json.RawMessage) (any, error) {
			keys, err := s.exec.Delete(ctx, entity, raw)
			if err != nil {
				return nil, err
			}
			return map[string]any{"deleted": true, "keys": keys}, nil
		}
	default:
		return nil, false
	}

	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		out, err := call(ctx, arguments(req))
		if err != nil {
			return s.toolError(desc.Name, err)
		}
		return jsonResult(out)
	}, true
}

func toolAnnotations(desc domain.ToolDescriptor) *mcp.ToolAnnotations {
	annotations := &mcp.ToolAnnotations{Title: desc.Title}
	switch desc.Mode {
	case domain.ModeQuery, domain.ModeGet:
		annotations.ReadOnlyHint = true
		annotations.IdempotentHint = true
	case domain.ModeUpdate:
		annotations.IdempotentHint = true
	case domain.ModeDelete:
		destructive := true
		annotations.DestructiveHint = &destructive
	}
	return annotations
}

func arguments(req *mcp.CallToolRequest) json.RawMessage {
	if req == nil || req.Params == nil {
		return nil
	}
	return req.Params.Arguments
}

// queryPayload renders a query result in the shape the client asked for.
func queryPayload(result domain.QueryResult) any {
	switch result.Shape {
	case domain.ShapeCount:
		return map[string]any{"count": result.Count}
	case domain.ShapeAggregate:
		return result.Aggregates
	default:
		return result.Rows
	}
}

func jsonResult(payload any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, &jsonrpc.Error{Code: domain.ErrCodeInternal, Message: "Internal error"}
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil
}

// toolError reports missing records and unimplemented operations as tool
// results; every other failure becomes a JSON-RPC error.
func (s *Server) toolError(tool string, err error) (*mcp.CallToolResult, error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}
	code, _ := domain.CodeFrom(err)
	switch code {
	case domain.CodeNotImplemented:
		return errorResult(domain.ToProtocolError(err).Message, code), nil
	case domain.CodeNotFound:
		if errors.Is(err, domain.ErrEntityNotFound) {
			return errorResult(domain.ToProtocolError(err).Message, code), nil
		}
	case domain.CodeInvalidArgument, domain.CodeInvalidRequest:
	default:
		s.logger.Warn("tool call error", telemetry.ToolField(tool), zap.Error(err))
	}
	return nil, wireError(err)
}

func errorResult(message string, code domain.ErrorCode) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: message}},
		StructuredContent: map[string]any{
			"error": map[string]any{
				"code":    string(code),
				"message": message,
			},
		},
	}
}

func wireError(err error) *jsonrpc.Error {
	proto := domain.ToProtocolError(err)
	return &jsonrpc.Error{Code: proto.Code, Message: proto.Message, Data: proto.Data}
}
