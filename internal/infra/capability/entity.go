package capability

import (
	"strings"

	"cdsmcp/internal/domain"
)

// buildEntityModel flattens an entity into storable columns. Managed to-one
// associations become foreign-key columns; to-many and unmanaged
// associations are navigation only and are not stored.
func buildEntityModel(schema *domain.Schema, def *domain.SchemaElement) (*domain.EntityModel, error) {
	keys, err := ResolveKeys(schema, def)
	if err != nil {
		return nil, err
	}

	model := &domain.EntityModel{
		Name:      def.Name,
		Service:   def.Service,
		LocalName: def.LocalName(),
		Table:     TableName(def.Name),
		Keys:      keys,
	}

	for _, el := range def.Elements {
		switch {
		case el.Association && (!el.Managed || el.Many):
			continue
		case el.Association:
			var fields []domain.KeyField
			if el.Key {
				fields = keysWithPrefix(keys, el.Name+"_")
			} else {
				fields, err = associationFields(schema, def, el, nil)
				if err != nil {
					return nil, err
				}
			}
			for _, field := range fields {
				model.Columns = append(model.Columns, domain.Column{
					Name:        field.Name,
					Type:        field.Type,
					Kind:        field.Kind,
					Key:         el.Key,
					Omitted:     el.Omitted,
					NotNull:     el.NotNull || el.Key,
					ForeignKey:  true,
					Association: el.Name,
					Hint:        el.Hint,
				})
			}
		case el.Items != "":
			// Arrayed elements have no flat column representation.
			continue
		default:
			model.Columns = append(model.Columns, domain.Column{
				Name:     el.Name,
				Type:     el.Type,
				Kind:     domain.KindOfType(el.Type),
				Key:      el.Key,
				Computed: el.Computed,
				Omitted:  el.Omitted,
				NotNull:  el.NotNull || el.Key,
				Hint:     el.Hint,
			})
		}
	}
	return model, nil
}

func keysWithPrefix(keys []domain.KeyField, prefix string) []domain.KeyField {
	var out []domain.KeyField
	for _, key := range keys {
		if strings.HasPrefix(key.Name, prefix) {
			out = append(out, key)
		}
	}
	return out
}

// TableName is the storage name of a qualified definition.
func TableName(qualified string) string {
	return strings.ReplaceAll(qualified, ".", "_")
}

func buildOperationModel(def *domain.SchemaElement) *domain.OperationModel {
	op := &domain.OperationModel{
		Name:    def.Name,
		Service: def.Service,
		Kind:    def.Kind,
		Returns: def.Returns,
	}
	for _, param := range def.Params {
		op.Params = append(op.Params, domain.Column{
			Name:    param.Name,
			Type:    param.Type,
			Kind:    domain.KindOfType(param.Type),
			NotNull: param.NotNull,
			Hint:    param.Hint,
		})
	}
	return op
}
