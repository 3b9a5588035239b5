package domain

import "strings"

// ElementKind classifies a model definition.
type ElementKind string

const (
	KindService  ElementKind = "service"
	KindEntity   ElementKind = "entity"
	KindFunction ElementKind = "function"
	KindAction   ElementKind = "action"
)

// IsOperation reports whether the kind is callable.
func (k ElementKind) IsOperation() bool {
	return k == KindFunction || k == KindAction
}

// Annotation keys understood by the capability builder. Nested annotation
// objects are flattened to these keys when the model is loaded.
const (
	AnnotationPrefix      = "@mcp"
	AnnotationName        = "@mcp.name"
	AnnotationDescription = "@mcp.description"
	AnnotationResource    = "@mcp.resource"
	AnnotationTool        = "@mcp.tool"
	AnnotationPrompts     = "@mcp.prompts"
	AnnotationWrap        = "@mcp.wrap"
	AnnotationWrapTools   = "@mcp.wrap.tools"
	AnnotationWrapModes   = "@mcp.wrap.modes"
	AnnotationWrapHint    = "@mcp.wrap.hint"
	AnnotationOmit        = "@mcp.omit"
	AnnotationHint        = "@mcp.hint"
	AnnotationComputed    = "@Core.Computed"
)

// Annotations holds flattened annotation keys and their raw payloads.
type Annotations map[string]any

// Has reports whether any key with the given prefix is present.
func (a Annotations) Has(prefix string) bool {
	for key := range a {
		if key == prefix || strings.HasPrefix(key, prefix+".") {
			return true
		}
	}
	return false
}

// Lookup returns the payload for key.
func (a Annotations) Lookup(key string) (any, bool) {
	if a == nil {
		return nil, false
	}
	v, ok := a[key]
	return v, ok
}

// Element is a field of an entity or a parameter of an operation.
type Element struct {
	Name        string
	Type        string
	Key         bool
	Computed    bool
	Omitted     bool
	NotNull     bool
	Association bool
	Many        bool
	Managed     bool
	Target      string
	ForeignKeys []string
	Items       string
	Hint        string
	Annotations Annotations
}

// SchemaElement is one read-only definition of the backend model.
type SchemaElement struct {
	Name        string
	Kind        ElementKind
	Service     string
	Elements    []Element
	Params      []Element
	Returns     string
	Annotations Annotations
}

// LocalName strips the owning service prefix.
func (e *SchemaElement) LocalName() string {
	if e.Service != "" && strings.HasPrefix(e.Name, e.Service+".") {
		return strings.TrimPrefix(e.Name, e.Service+".")
	}
	if idx := strings.LastIndex(e.Name, "."); idx >= 0 {
		return e.Name[idx+1:]
	}
	return e.Name
}

// Element returns the named element.
func (e *SchemaElement) Element(name string) (Element, bool) {
	for _, el := range e.Elements {
		if el.Name == name {
			return el, true
		}
	}
	return Element{}, false
}

// Schema is the walked model: annotated elements in declaration order plus
// an index of every definition, annotated or not.
type Schema struct {
	Elements []*SchemaElement
	Index    map[string]*SchemaElement
}

// Lookup resolves a definition by qualified name.
func (s *Schema) Lookup(name string) (*SchemaElement, bool) {
	if s == nil || s.Index == nil {
		return nil, false
	}
	def, ok := s.Index[name]
	return def, ok
}
