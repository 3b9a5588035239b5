package mcpserver

import (
	"context"
	"fmt"
	"regexp"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"cdsmcp/internal/domain"
)

const opGetPrompt = "mcpserver.get_prompt"

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_.-]*)\s*\}\}`)

func (s *Server) registerPrompts() {
	for _, desc := range s.catalog.Prompts {
		prompt := &mcp.Prompt{
			Name:        desc.Name,
			Title:       desc.Title,
			Description: desc.Description,
		}
		for _, input := range desc.Inputs {
			prompt.Arguments = append(prompt.Arguments, &mcp.PromptArgument{
				Name:        input.Key,
				Description: input.Description,
				Required:    input.Required,
			})
		}
		s.mcp.AddPrompt(prompt, promptHandler(desc))
	}
}

func promptHandler(desc domain.PromptDescriptor) mcp.PromptHandler {
	return func(_ context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		var args map[string]string
		if req != nil && req.Params != nil {
			args = req.Params.Arguments
		}
		text, err := RenderPrompt(desc, args)
		if err != nil {
			return nil, wireError(err)
		}
		return &mcp.GetPromptResult{
			Description: desc.Description,
			Messages: []*mcp.PromptMessage{{
				Role:    mcp.Role(desc.Role),
				Content: &mcp.TextContent{Text: text},
			}},
		}, nil
	}
}

// RenderPrompt substitutes {{key}} placeholders with the supplied
// arguments. Required inputs must be present; placeholders without an
// argument render empty.
func RenderPrompt(desc domain.PromptDescriptor, args map[string]string) (string, error) {
	for _, input := range desc.Inputs {
		if !input.Required {
			continue
		}
		if _, ok := args[input.Key]; !ok {
			return "", domain.ValidationError(opGetPrompt, input.Key, fmt.Sprintf("prompt %s requires argument %q", desc.Name, input.Key))
		}
	}
	return placeholderPattern.ReplaceAllStringFunc(desc.Template, func(match string) string {
		key := placeholderPattern.FindStringSubmatch(match)[1]
		return args[key]
	}), nil
}
