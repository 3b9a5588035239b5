package capability

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"cdsmcp/internal/domain"
)

// Options tunes descriptor rendering.
type Options struct {
	// Scheme prefixes resource URIs.
	Scheme string
	// MaxTop is advertised as the top ceiling in query tool schemas.
	MaxTop int
}

// Builder turns a walked schema into an immutable capability catalog.
type Builder struct {
	logger *zap.Logger
	opts   Options
}

func NewBuilder(logger *zap.Logger, opts Options) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Scheme == "" {
		opts.Scheme = domain.DefaultResourceScheme
	}
	if opts.MaxTop <= 0 {
		opts.MaxTop = domain.DefaultQueryMaxTop
	}
	return &Builder{logger: logger.Named("capability"), opts: opts}
}

// Build derives tools, resources and prompts. Malformed annotations skip the
// offending element and are reported in Catalog.Diagnostics; protocol name
// collisions fail the whole build.
func (b *Builder) Build(schema *domain.Schema, wrap domain.WrapDefaults) (*domain.Catalog, error) {
	catalog := &domain.Catalog{
		Entities:   map[string]*domain.EntityModel{},
		Operations: map[string]*domain.OperationModel{},
	}
	if schema == nil {
		return catalog, nil
	}

	names := newNameRegistry()
	for _, def := range schema.Elements {
		var err error
		switch def.Kind {
		case domain.KindService:
			err = b.addService(catalog, names, def)
		case domain.KindEntity:
			err = b.addEntity(catalog, names, schema, def, wrap)
		case domain.KindFunction, domain.KindAction:
			err = b.addOperation(catalog, names, def)
		}
		if err == nil {
			continue
		}
		if errors.Is(err, domain.ErrNameCollision) {
			return nil, err
		}
		b.skip(catalog, def, err)
	}

	b.logger.Debug("catalog built",
		zap.Int("tools", len(catalog.Tools)),
		zap.Int("resources", len(catalog.Resources)),
		zap.Int("prompts", len(catalog.Prompts)),
		zap.Int("diagnostics", len(catalog.Diagnostics)),
	)
	return catalog, nil
}

func (b *Builder) skip(catalog *domain.Catalog, def *domain.SchemaElement, err error) {
	catalog.Diagnostics = append(catalog.Diagnostics, domain.Diagnostic{
		Element: def.Name,
		Message: err.Error(),
	})
	b.logger.Warn("skip annotated element", zap.String("element", def.Name), zap.Error(err))
}

func (b *Builder) addService(catalog *domain.Catalog, names *nameRegistry, def *domain.SchemaElement) error {
	prompts, err := parsePrompts(def.Name, def.Annotations)
	if err != nil {
		return domain.ConfigurationError(def.Name, err.Error())
	}
	for _, prompt := range prompts {
		if err := names.claim("prompt", prompt.Name, def.Name); err != nil {
			return err
		}
	}
	catalog.Prompts = append(catalog.Prompts, prompts...)
	return nil
}

func (b *Builder) addEntity(catalog *domain.Catalog, names *nameRegistry, schema *domain.Schema, def *domain.SchemaElement, global domain.WrapDefaults) error {
	resource, err := parseResource(def.Annotations)
	if err != nil {
		return domain.ConfigurationError(def.Name, err.Error())
	}
	entityWrap, err := parseWrap(def.Annotations)
	if err != nil {
		return domain.ConfigurationError(def.Name, err.Error())
	}
	name, err := stringAnnotation(def.Annotations, domain.AnnotationName)
	if err != nil {
		return domain.ConfigurationError(def.Name, err.Error())
	}
	description, err := stringAnnotation(def.Annotations, domain.AnnotationDescription)
	if err != nil {
		return domain.ConfigurationError(def.Name, err.Error())
	}

	wrap := domain.ResolveWrap(global, entityWrap)
	if !resource.Exposed && !wrap.Enabled {
		b.logger.Debug("entity exposes nothing", zap.String("element", def.Name))
		return nil
	}

	model, err := buildEntityModel(schema, def)
	if err != nil {
		return domain.ConfigurationError(def.Name, err.Error())
	}
	if !wrap.Enabled {
		wrap.Modes = nil
	}
	model.Wrap = wrap
	if len(model.Keys) == 0 && needsKeys(wrap.Modes) {
		return domain.ConfigurationError(def.Name, "entity has no key but wraps a keyed mode")
	}

	var tools []domain.ToolDescriptor
	for _, mode := range wrap.Modes {
		tools = append(tools, b.entityTool(model, mode, description, wrap.Hint))
	}
	var resources []domain.ResourceDescriptor
	if resource.Exposed {
		resources = append(resources, b.entityResource(model, name, description, resource.Options))
	}

	for _, tool := range tools {
		if err := names.claim("tool", tool.Name, def.Name); err != nil {
			return err
		}
	}
	for _, res := range resources {
		if err := names.claim("resource", res.URI, def.Name); err != nil {
			return err
		}
	}

	catalog.Tools = append(catalog.Tools, tools...)
	catalog.Resources = append(catalog.Resources, resources...)
	catalog.Entities[def.Name] = model
	return nil
}

func needsKeys(modes []domain.WrapMode) bool {
	for _, mode := range modes {
		if mode == domain.ModeGet || mode == domain.ModeUpdate || mode == domain.ModeDelete {
			return true
		}
	}
	return false
}

func (b *Builder) entityTool(model *domain.EntityModel, mode domain.WrapMode, description, hint string) domain.ToolDescriptor {
	tool := domain.ToolDescriptor{
		Name:   ToolName(model.Service, model.LocalName, string(mode)),
		Entity: model.Name,
		Mode:   mode,
		Source: model.Name,
	}
	keys := strings.Join(model.KeyNames(), ", ")
	switch mode {
	case domain.ModeQuery:
		tool.Title = "Query " + model.LocalName
		tool.Description = fmt.Sprintf("Query %s rows with filters, free-text search, sorting and paging. Set return to count or aggregate for totals over the same filters.", model.LocalName)
		tool.InputSchema = queryInputSchema(model, b.opts.MaxTop)
	case domain.ModeGet:
		tool.Title = "Get " + model.LocalName
		tool.Description = fmt.Sprintf("Get one %s by key (%s).", model.LocalName, keys)
		tool.InputSchema = keyInputSchema(model)
	case domain.ModeCreate:
		tool.Title = "Create " + model.LocalName
		tool.Description = fmt.Sprintf("Create a new %s.", model.LocalName)
		tool.InputSchema = CreateInputSchema(model)
	case domain.ModeUpdate:
		tool.Title = "Update " + model.LocalName
		tool.Description = fmt.Sprintf("Update an existing %s identified by key (%s). Only the given fields change.", model.LocalName, keys)
		tool.InputSchema = UpdateInputSchema(model)
	case domain.ModeDelete:
		tool.Title = "Delete " + model.LocalName
		tool.Description = fmt.Sprintf("Delete one %s by key (%s). This is irreversible: the record cannot be recovered.", model.LocalName, keys)
		tool.InputSchema = keyInputSchema(model)
	}
	if description != "" {
		tool.Description += " " + description
	}
	if hint != "" {
		tool.Description += " Hint: " + hint
	}
	return tool
}

func (b *Builder) entityResource(model *domain.EntityModel, name, description string, options []string) domain.ResourceDescriptor {
	if name == "" {
		name = model.LocalName
	}
	if description == "" {
		description = fmt.Sprintf("%s records as JSON", model.LocalName)
	}
	base := ResourceBase(b.opts.Scheme, model.Service, name)
	return domain.ResourceDescriptor{
		Name:        name,
		Title:       model.LocalName,
		Description: description,
		URI:         ResourceURI(base, options),
		Template:    len(options) > 0,
		Options:     append([]string(nil), options...),
		MIMEType:    "application/json",
		Entity:      model.Name,
		Source:      model.Name,
	}
}

func (b *Builder) addOperation(catalog *domain.Catalog, names *nameRegistry, def *domain.SchemaElement) error {
	ann, err := parseTool(def.Annotations)
	if err != nil {
		return domain.ConfigurationError(def.Name, err.Error())
	}
	if !ann.Exposed {
		return nil
	}
	description := ann.Description
	if description == "" {
		description, err = stringAnnotation(def.Annotations, domain.AnnotationDescription)
		if err != nil {
			return domain.ConfigurationError(def.Name, err.Error())
		}
	}
	if description == "" {
		description = fmt.Sprintf("Invoke the %s %s.", def.LocalName(), def.Kind)
	}

	op := buildOperationModel(def)
	name := ann.Name
	if name == "" {
		name = ToolName(def.Service, def.LocalName())
	}
	tool := domain.ToolDescriptor{
		Name:        name,
		Title:       def.LocalName(),
		Description: description,
		InputSchema: operationInputSchema(op),
		Operation:   def.Name,
		Source:      def.Name,
	}
	if err := names.claim("tool", tool.Name, def.Name); err != nil {
		return err
	}
	catalog.Tools = append(catalog.Tools, tool)
	catalog.Operations[def.Name] = op
	return nil
}

// ToolName joins the non-empty parts with underscores. Dots in qualified
// names are not valid in tool names and become underscores too.
func ToolName(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		out = append(out, strings.ReplaceAll(part, ".", "_"))
	}
	return strings.Join(out, "_")
}

// ResourceBase is the resource URI without a query block.
func ResourceBase(scheme, service, name string) string {
	if service == "" {
		return scheme + "://" + name
	}
	return scheme + "://" + service + "/" + name
}

// ResourceURI renders every option into a single {?a,b,c} expansion.
func ResourceURI(base string, options []string) string {
	if len(options) == 0 {
		return base
	}
	return base + "{?" + strings.Join(options, ",") + "}"
}

type nameRegistry struct {
	owners map[string]string
}

func newNameRegistry() *nameRegistry {
	return &nameRegistry{owners: map[string]string{}}
}

func (r *nameRegistry) claim(kind, name, source string) error {
	key := kind + "\x00" + name
	if owner, ok := r.owners[key]; ok {
		return domain.E(domain.CodeConfiguration, "catalog",
			fmt.Sprintf("%s name %q is declared by both %s and %s", kind, name, owner, source),
			domain.ErrNameCollision)
	}
	r.owners[key] = source
	return nil
}
