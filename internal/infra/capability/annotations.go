package capability

import (
	"fmt"
	"strings"

	"cdsmcp/internal/domain"
)

// Resource query options, in the order they render in a URI template.
const (
	OptionFilter  = "filter"
	OptionOrderBy = "orderby"
	OptionSelect  = "select"
	OptionTop     = "top"
	OptionSkip    = "skip"
)

var resourceOptions = []string{OptionFilter, OptionOrderBy, OptionSelect, OptionTop, OptionSkip}

type resourceAnnotation struct {
	Exposed bool
	Options []string
}

type toolAnnotation struct {
	Exposed     bool
	Name        string
	Description string
}

// parseResource resolves the bool | []string forms of the resource tag.
func parseResource(a domain.Annotations) (resourceAnnotation, error) {
	raw, ok := a.Lookup(domain.AnnotationResource)
	if !ok {
		if opts, nested := a.Lookup(domain.AnnotationResource + ".options"); nested {
			raw, ok = opts, true
		}
	}
	if !ok {
		return resourceAnnotation{}, nil
	}
	switch v := raw.(type) {
	case bool:
		if !v {
			return resourceAnnotation{}, nil
		}
		return resourceAnnotation{Exposed: true, Options: append([]string(nil), resourceOptions...)}, nil
	case []any:
		requested := make(map[string]struct{}, len(v))
		for _, item := range v {
			name, ok := item.(string)
			if !ok {
				return resourceAnnotation{}, fmt.Errorf("%s entries must be strings, got %T", domain.AnnotationResource, item)
			}
			name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "$")))
			if !isResourceOption(name) {
				return resourceAnnotation{}, fmt.Errorf("%s: unknown query option %q", domain.AnnotationResource, name)
			}
			requested[name] = struct{}{}
		}
		options := make([]string, 0, len(requested))
		for _, opt := range resourceOptions {
			if _, ok := requested[opt]; ok {
				options = append(options, opt)
			}
		}
		return resourceAnnotation{Exposed: true, Options: options}, nil
	case nil:
		return resourceAnnotation{}, nil
	default:
		return resourceAnnotation{}, fmt.Errorf("%s must be a boolean or a list of query options, got %T", domain.AnnotationResource, raw)
	}
}

func isResourceOption(name string) bool {
	for _, opt := range resourceOptions {
		if opt == name {
			return true
		}
	}
	return false
}

// parseTool resolves the bool | {name, description} forms of the tool tag.
func parseTool(a domain.Annotations) (toolAnnotation, error) {
	out := toolAnnotation{}
	if raw, ok := a.Lookup(domain.AnnotationTool); ok {
		exposed, ok := raw.(bool)
		if !ok {
			return toolAnnotation{}, fmt.Errorf("%s must be a boolean, got %T", domain.AnnotationTool, raw)
		}
		out.Exposed = exposed
	}
	for _, field := range []string{"name", "description"} {
		raw, ok := a.Lookup(domain.AnnotationTool + "." + field)
		if !ok {
			continue
		}
		value, ok := raw.(string)
		if !ok {
			return toolAnnotation{}, fmt.Errorf("%s.%s must be a string, got %T", domain.AnnotationTool, field, raw)
		}
		out.Exposed = true
		if field == "name" {
			out.Name = value
		} else {
			out.Description = value
		}
	}
	return out, nil
}

// parseWrap resolves the entity wrap tag. Modes accept a single string or a
// list; "tools" accepts a boolean and "@mcp.wrap: false" is shorthand for it.
func parseWrap(a domain.Annotations) (domain.EntityWrap, error) {
	out := domain.EntityWrap{Present: a.Has(domain.AnnotationWrap)}
	if !out.Present {
		return out, nil
	}
	if raw, ok := a.Lookup(domain.AnnotationWrap); ok {
		enabled, ok := raw.(bool)
		if !ok {
			return domain.EntityWrap{}, fmt.Errorf("%s must be an object or a boolean, got %T", domain.AnnotationWrap, raw)
		}
		out.Tools = &enabled
	}
	if raw, ok := a.Lookup(domain.AnnotationWrapTools); ok {
		enabled, ok := raw.(bool)
		if !ok {
			return domain.EntityWrap{}, fmt.Errorf("%s must be a boolean, got %T", domain.AnnotationWrapTools, raw)
		}
		out.Tools = &enabled
	}
	if raw, ok := a.Lookup(domain.AnnotationWrapModes); ok {
		modes, err := parseModes(raw)
		if err != nil {
			return domain.EntityWrap{}, err
		}
		out.Modes = modes
	}
	if raw, ok := a.Lookup(domain.AnnotationWrapHint); ok {
		hint, ok := raw.(string)
		if !ok {
			return domain.EntityWrap{}, fmt.Errorf("%s must be a string, got %T", domain.AnnotationWrapHint, raw)
		}
		out.Hint = hint
	}
	return out, nil
}

// ParseModes accepts "query,get", "query" or ["query", "get"]. The result is
// never nil so a present-but-empty list disables every mode.
func ParseModes(raw any) ([]domain.WrapMode, error) {
	return parseModes(raw)
}

func parseModes(raw any) ([]domain.WrapMode, error) {
	var names []string
	switch v := raw.(type) {
	case string:
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				names = append(names, part)
			}
		}
	case []string:
		names = v
	case []any:
		for _, item := range v {
			name, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%s entries must be strings, got %T", domain.AnnotationWrapModes, item)
			}
			names = append(names, name)
		}
	default:
		return nil, fmt.Errorf("%s must be a string or a list, got %T", domain.AnnotationWrapModes, raw)
	}

	modes := make([]domain.WrapMode, 0, len(names))
	seen := make(map[domain.WrapMode]struct{}, len(names))
	for _, name := range names {
		mode, err := domain.ParseWrapMode(strings.ToLower(strings.TrimSpace(name)))
		if err != nil {
			return nil, err
		}
		if _, dup := seen[mode]; dup {
			continue
		}
		seen[mode] = struct{}{}
		modes = append(modes, mode)
	}
	return modes, nil
}

// parsePrompts decodes the service prompt list. Any malformed entry rejects
// the whole list so a service never exposes half of its prompts.
func parsePrompts(service string, a domain.Annotations) ([]domain.PromptDescriptor, error) {
	raw, ok := a.Lookup(domain.AnnotationPrompts)
	if !ok || raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%s must be a list, got %T", domain.AnnotationPrompts, raw)
	}
	prompts := make([]domain.PromptDescriptor, 0, len(list))
	for i, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s[%d] must be an object, got %T", domain.AnnotationPrompts, i, item)
		}
		name, err := requiredString(entry, "name")
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", domain.AnnotationPrompts, i, err)
		}
		template, err := requiredString(entry, "template")
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", domain.AnnotationPrompts, i, err)
		}
		role, err := optionalString(entry, "role")
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", domain.AnnotationPrompts, i, err)
		}
		switch role {
		case "":
			role = "user"
		case "user", "assistant":
		default:
			return nil, fmt.Errorf("%s[%d]: role must be user or assistant, got %q", domain.AnnotationPrompts, i, role)
		}
		title, err := optionalString(entry, "title")
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", domain.AnnotationPrompts, i, err)
		}
		description, err := optionalString(entry, "description")
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", domain.AnnotationPrompts, i, err)
		}
		inputs, err := parsePromptInputs(entry["inputs"])
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", domain.AnnotationPrompts, i, err)
		}
		prompts = append(prompts, domain.PromptDescriptor{
			Name:        name,
			Title:       title,
			Description: description,
			Template:    template,
			Role:        role,
			Inputs:      inputs,
			Service:     service,
			Source:      service,
		})
	}
	return prompts, nil
}

func parsePromptInputs(raw any) ([]domain.PromptInput, error) {
	if raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("inputs must be a list, got %T", raw)
	}
	inputs := make([]domain.PromptInput, 0, len(list))
	for i, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("inputs[%d] must be an object, got %T", i, item)
		}
		key, err := requiredString(entry, "key")
		if err != nil {
			return nil, fmt.Errorf("inputs[%d]: %w", i, err)
		}
		typ, err := optionalString(entry, "type")
		if err != nil {
			return nil, fmt.Errorf("inputs[%d]: %w", i, err)
		}
		description, err := optionalString(entry, "description")
		if err != nil {
			return nil, fmt.Errorf("inputs[%d]: %w", i, err)
		}
		required := true
		if v, ok := entry["required"]; ok {
			b, ok := v.(bool)
			if !ok {
				return nil, fmt.Errorf("inputs[%d]: required must be a boolean", i)
			}
			required = b
		}
		inputs = append(inputs, domain.PromptInput{Key: key, Type: typ, Description: description, Required: required})
	}
	return inputs, nil
}

func requiredString(entry map[string]any, key string) (string, error) {
	value, err := optionalString(entry, key)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return value, nil
}

func optionalString(entry map[string]any, key string) (string, error) {
	raw, ok := entry[key]
	if !ok || raw == nil {
		return "", nil
	}
	value, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string, got %T", key, raw)
	}
	return value, nil
}

func stringAnnotation(a domain.Annotations, key string) (string, error) {
	raw, ok := a.Lookup(key)
	if !ok || raw == nil {
		return "", nil
	}
	value, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string, got %T", key, raw)
	}
	return value, nil
}
