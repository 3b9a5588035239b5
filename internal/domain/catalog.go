package domain

import (
	"github.com/google/jsonschema-go/jsonschema"
)

// KeyField is one member of an entity's resolved key set.
type KeyField struct {
	Name string
	Type string
	Kind ValueKind
}

// Column is a flat, storable field of an entity. Managed to-one associations
// contribute one foreign-key column per target key.
type Column struct {
	Name        string
	Type        string
	Kind        ValueKind
	Key         bool
	Computed    bool
	Omitted     bool
	NotNull     bool
	ForeignKey  bool
	Association string
	Hint        string
}

// EntityModel is the storage-facing view of an annotated entity.
type EntityModel struct {
	Name      string
	Service   string
	LocalName string
	Table     string
	Keys      []KeyField
	Columns   []Column
	Wrap      WrapConfig
}

// Column returns any column, omitted ones included.
func (m *EntityModel) Column(name string) (Column, bool) {
	for _, col := range m.Columns {
		if col.Name == name {
			return col, true
		}
	}
	return Column{}, false
}

// VisibleColumn returns a column that may be referenced by clients.
func (m *EntityModel) VisibleColumn(name string) (Column, bool) {
	col, ok := m.Column(name)
	if !ok || col.Omitted {
		return Column{}, false
	}
	return col, true
}

// Visible lists columns that may appear in results and client references.
func (m *EntityModel) Visible() []Column {
	out := make([]Column, 0, len(m.Columns))
	for _, col := range m.Columns {
		if !col.Omitted {
			out = append(out, col)
		}
	}
	return out
}

// VisibleNames lists the visible column names in declaration order.
func (m *EntityModel) VisibleNames() []string {
	cols := m.Visible()
	names := make([]string, 0, len(cols))
	for _, col := range cols {
		names = append(names, col.Name)
	}
	return names
}

// Writable lists columns accepted in create/update payloads.
func (m *EntityModel) Writable() []Column {
	out := make([]Column, 0, len(m.Columns))
	for _, col := range m.Columns {
		if col.Omitted || col.Computed {
			continue
		}
		out = append(out, col)
	}
	return out
}

// SearchColumns lists the visible string columns used by free-text search.
func (m *EntityModel) SearchColumns() []Column {
	var out []Column
	for _, col := range m.Columns {
		if col.Omitted || col.Kind != ValueString {
			continue
		}
		out = append(out, col)
	}
	return out
}

// KeyNames lists the key column names.
func (m *EntityModel) KeyNames() []string {
	names := make([]string, 0, len(m.Keys))
	for _, key := range m.Keys {
		names = append(names, key.Name)
	}
	return names
}

// OperationModel describes a function or action exposed as a tool.
type OperationModel struct {
	Name    string
	Service string
	Kind    ElementKind
	Params  []Column
	Returns string
}

// ToolDescriptor is a tool in the capability catalog.
type ToolDescriptor struct {
	Name        string
	Title       string
	Description string
	InputSchema *jsonschema.Schema
	// Entity and Mode are set for wrapped entity tools.
	Entity string
	Mode   WrapMode
	// Operation is set for function/action tools.
	Operation string
	Source    string
}

// ResourceDescriptor is a resource or resource template.
type ResourceDescriptor struct {
	Name        string
	Title       string
	Description string
	URI         string
	Template    bool
	Options     []string
	MIMEType    string
	Entity      string
	Source      string
}

// PromptInput is a declared prompt slot.
type PromptInput struct {
	Key         string
	Type        string
	Description string
	Required    bool
}

// PromptDescriptor is a prompt in the capability catalog.
type PromptDescriptor struct {
	Name        string
	Title       string
	Description string
	Template    string
	Role        string
	Inputs      []PromptInput
	Service     string
	Source      string
}

// Diagnostic records an element skipped while building the catalog.
type Diagnostic struct {
	Element string
	Message string
}

// Catalog is the immutable capability set derived from a schema.
type Catalog struct {
	Tools       []ToolDescriptor
	Resources   []ResourceDescriptor
	Prompts     []PromptDescriptor
	Entities    map[string]*EntityModel
	Operations  map[string]*OperationModel
	Diagnostics []Diagnostic
}

// Tool returns the named tool.
func (c *Catalog) Tool(name string) (ToolDescriptor, bool) {
	for _, tool := range c.Tools {
		if tool.Name == name {
			return tool, true
		}
	}
	return ToolDescriptor{}, false
}

// ToolNames lists tool names in catalog order.
func (c *Catalog) ToolNames() []string {
	names := make([]string, 0, len(c.Tools))
	for _, tool := range c.Tools {
		names = append(names, tool.Name)
	}
	return names
}

// Entity returns the entity model by qualified name.
func (c *Catalog) Entity(name string) (*EntityModel, bool) {
	if c == nil || c.Entities == nil {
		return nil, false
	}
	m, ok := c.Entities[name]
	return m, ok
}

// CatalogSummary counts catalog contents for logs and metrics.
type CatalogSummary struct {
	Tools       int
	Resources   int
	Prompts     int
	Entities    int
	Diagnostics int
}

// Summary returns the catalog counts.
func (c *Catalog) Summary() CatalogSummary {
	if c == nil {
		return CatalogSummary{}
	}
	return CatalogSummary{
		Tools:       len(c.Tools),
		Resources:   len(c.Resources),
		Prompts:     len(c.Prompts),
		Entities:    len(c.Entities),
		Diagnostics: len(c.Diagnostics),
	}
}
