package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"cdsmcp/internal/domain"
)

const opReadResource = "mcpserver.read_resource"

type resourceBinding struct {
	desc   domain.ResourceDescriptor
	entity *domain.EntityModel
}

func (s *Server) registerResources() {
	for _, desc := range s.catalog.Resources {
		entity, ok := s.catalog.Entity(desc.Entity)
		if !ok {
			s.logger.Warn("resource entity missing", zap.String("resource", desc.Name), zap.String("entity", desc.Entity))
			continue
		}
		s.handlers[resourceBase(desc.URI)] = &resourceBinding{desc: desc, entity: entity}

		if desc.Template {
			s.mcp.AddResourceTemplate(&mcp.ResourceTemplate{
				Name:        desc.Name,
				Title:       desc.Title,
				Description: desc.Description,
				URITemplate: desc.URI,
				MIMEType:    desc.MIMEType,
			}, s.readResource)
			continue
		}
		s.mcp.AddResource(&mcp.Resource{
			Name:        desc.Name,
			Title:       desc.Title,
			Description: desc.Description,
			URI:         desc.URI,
			MIMEType:    desc.MIMEType,
		}, s.readResource)
	}
}

// resourceReadMiddleware answers resources/read by base URI so the query
// block of a template never has to match the template literally.
func (s *Server) resourceReadMiddleware() mcp.Middleware {
	return func(next mcp.MethodHandler) mcp.MethodHandler {
		return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
			if method != "resources/read" {
				return next(ctx, method, req)
			}
			read, ok := req.(*mcp.ReadResourceRequest)
			if !ok || read.Params == nil {
				return next(ctx, method, req)
			}
			res, err := s.readResource(ctx, read)
			if err != nil {
				return nil, err
			}
			return res, nil
		}
	}
}

func (s *Server) readResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := req.Params.URI
	base, rawQuery, _ := strings.Cut(uri, "?")
	binding, ok := s.handlers[base]
	if !ok {
		return nil, mcp.ResourceNotFoundError(uri)
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return nil, wireError(domain.ValidationError(opReadResource, "", "invalid query string: "+err.Error()))
	}
	if err := binding.allows(values); err != nil {
		return nil, wireError(err)
	}

	spec, err := s.exec.Translator().TranslateResource(values)
	if err != nil {
		return nil, wireError(err)
	}
	result, err := s.exec.Execute(ctx, binding.entity, spec)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		s.logger.Debug("resource read failed", zap.String("uri", uri), zap.Error(err))
		return nil, wireError(err)
	}
	data, err := json.Marshal(result.Rows)
	if err != nil {
		return nil, wireError(domain.E(domain.CodeInternal, opReadResource, "", err))
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: binding.desc.MIMEType,
			Text:     string(data),
		}},
	}, nil
}

// allows rejects query options the resource did not declare. Static
// resources accept none.
func (b *resourceBinding) allows(values url.Values) error {
	for key := range values {
		name := strings.TrimPrefix(strings.ToLower(key), "$")
		if slices.Contains(b.desc.Options, name) {
			continue
		}
		return domain.ValidationError(opReadResource, key, fmt.Sprintf("resource %s does not accept option %q", b.desc.Name, key))
	}
	return nil
}

func resourceBase(uri string) string {
	base, _, _ := strings.Cut(uri, "{?")
	return base
}
