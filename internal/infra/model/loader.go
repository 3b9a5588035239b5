package model

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"cdsmcp/internal/domain"
)

// Loader reads a CSN definition document (JSON or YAML) and keeps the
// declaration order of definitions and elements.
type Loader struct {
	logger *zap.Logger
}

func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{logger: logger.Named("model")}
}

// Load reads and decodes the model file at path.
func (l *Loader) Load(ctx context.Context, path string) ([]*domain.SchemaElement, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("model path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	defs, err := l.Decode(data)
	if err != nil {
		return nil, err
	}
	return defs, ctx.Err()
}

// Decode parses raw CSN into definitions in source order.
func (l *Loader) Decode(data []byte) ([]*domain.SchemaElement, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse model: %w", err)
	}
	doc := &root
	if doc.Kind == 0 {
		return nil, nil
	}
	if doc.Kind == yaml.DocumentNode {
		if len(doc.Content) == 0 {
			return nil, nil
		}
		doc = doc.Content[0]
	}
	if doc.Kind != yaml.MappingNode {
		return nil, errors.New("parse model: document root must be an object")
	}

	defsNode := mappingValue(doc, "definitions")
	if defsNode == nil {
		l.logger.Debug("model has no definitions")
		return nil, nil
	}
	if defsNode.Kind != yaml.MappingNode {
		return nil, errors.New("parse model: definitions must be an object")
	}

	defs := make([]*domain.SchemaElement, 0, len(defsNode.Content)/2)
	for i := 0; i+1 < len(defsNode.Content); i += 2 {
		name := defsNode.Content[i].Value
		node := defsNode.Content[i+1]
		if node.Kind != yaml.MappingNode {
			l.logger.Warn("skip malformed definition", zap.String("definition", name))
			continue
		}
		def, ok := l.decodeDefinition(name, node)
		if !ok {
			continue
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func (l *Loader) decodeDefinition(name string, node *yaml.Node) (*domain.SchemaElement, bool) {
	kind := domain.ElementKind(scalarValue(mappingValue(node, "kind")))
	switch kind {
	case domain.KindService, domain.KindEntity, domain.KindFunction, domain.KindAction:
	case "":
		l.logger.Debug("skip definition without kind", zap.String("definition", name))
		return nil, false
	default:
		// types, aspects, contexts and events carry nothing we expose.
		return nil, false
	}

	def := &domain.SchemaElement{
		Name:        name,
		Kind:        kind,
		Annotations: decodeAnnotations(node),
	}
	if elements := mappingValue(node, "elements"); elements != nil {
		def.Elements = l.decodeElements(name, elements)
	}
	if params := mappingValue(node, "params"); params != nil {
		def.Params = l.decodeElements(name, params)
	}
	if returns := mappingValue(node, "returns"); returns != nil {
		def.Returns = scalarValue(mappingValue(returns, "type"))
		if def.Returns == "" {
			if items := mappingValue(returns, "items"); items != nil {
				def.Returns = "many " + scalarValue(mappingValue(items, "type"))
			}
		}
	}
	return def, true
}

func (l *Loader) decodeElements(owner string, node *yaml.Node) []domain.Element {
	if node.Kind != yaml.MappingNode {
		l.logger.Warn("skip malformed element list", zap.String("definition", owner))
		return nil
	}
	elements := make([]domain.Element, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		value := node.Content[i+1]
		if value.Kind != yaml.MappingNode {
			l.logger.Warn("skip malformed element", zap.String("definition", owner), zap.String("element", name))
			continue
		}
		elements = append(elements, decodeElement(name, value))
	}
	return elements
}

func decodeElement(name string, node *yaml.Node) domain.Element {
	annotations := decodeAnnotations(node)
	el := domain.Element{
		Name:        name,
		Type:        scalarValue(mappingValue(node, "type")),
		Key:         boolValue(mappingValue(node, "key")),
		NotNull:     boolValue(mappingValue(node, "notNull")),
		Target:      scalarValue(mappingValue(node, "target")),
		Annotations: annotations,
	}
	if items := mappingValue(node, "items"); items != nil {
		el.Items = scalarValue(mappingValue(items, "type"))
	}
	if computed, ok := annotations[domain.AnnotationComputed].(bool); ok && computed {
		el.Computed = true
	}
	if boolValue(mappingValue(node, "virtual")) {
		el.Computed = true
	}
	if omit, ok := annotations[domain.AnnotationOmit].(bool); ok && omit {
		el.Omitted = true
	}
	if hint, ok := annotations[domain.AnnotationHint].(string); ok {
		el.Hint = hint
	}

	if el.Type == "cds.Association" || el.Type == "cds.Composition" || el.Target != "" {
		el.Association = true
		if card := mappingValue(node, "cardinality"); card != nil {
			el.Many = scalarValue(mappingValue(card, "max")) == "*"
		}
		el.Managed = mappingValue(node, "on") == nil && !el.Many
		if keys := mappingValue(node, "keys"); keys != nil && keys.Kind == yaml.SequenceNode {
			for _, keyNode := range keys.Content {
				ref := mappingValue(keyNode, "ref")
				if ref == nil || ref.Kind != yaml.SequenceNode || len(ref.Content) == 0 {
					continue
				}
				parts := make([]string, 0, len(ref.Content))
				for _, part := range ref.Content {
					parts = append(parts, part.Value)
				}
				el.ForeignKeys = append(el.ForeignKeys, strings.Join(parts, "_"))
			}
		}
	}
	return el
}

// decodeAnnotations collects "@..." keys. Nested objects are flattened so
// {"@mcp": {"wrap": {"tools": true}}} and {"@mcp.wrap.tools": true} are the
// same annotation afterwards.
func decodeAnnotations(node *yaml.Node) domain.Annotations {
	out := domain.Annotations{}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		if !strings.HasPrefix(key, "@") {
			continue
		}
		flattenAnnotation(key, node.Content[i+1], out)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func flattenAnnotation(prefix string, node *yaml.Node, out domain.Annotations) {
	if node.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(node.Content); i += 2 {
			flattenAnnotation(prefix+"."+node.Content[i].Value, node.Content[i+1], out)
		}
		return
	}
	var value any
	if err := node.Decode(&value); err != nil {
		value = node.Value
	}
	out[prefix] = value
}

func mappingValue(node *yaml.Node, key string) *yaml.Node {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

func scalarValue(node *yaml.Node) string {
	if node == nil || node.Kind != yaml.ScalarNode {
		return ""
	}
	return node.Value
}

func boolValue(node *yaml.Node) bool {
	if node == nil || node.Kind != yaml.ScalarNode {
		return false
	}
	var v bool
	if err := node.Decode(&v); err != nil {
		return false
	}
	return v
}
