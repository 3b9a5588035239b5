package capability

import (
	"fmt"
	"strings"

	"cdsmcp/internal/domain"
)

// ResolveKeys expands the key set of an entity. A key that is an association
// contributes one assoc_targetKey field per key of its target, typed by the
// target key. Cyclic chains fail with domain.ErrCyclicKey.
func ResolveKeys(schema *domain.Schema, def *domain.SchemaElement) ([]domain.KeyField, error) {
	return resolveKeys(schema, def, nil)
}

func resolveKeys(schema *domain.Schema, def *domain.SchemaElement, path []string) ([]domain.KeyField, error) {
	for _, seen := range path {
		if seen == def.Name {
			chain := append(append([]string(nil), path...), def.Name)
			return nil, fmt.Errorf("%w: %s", domain.ErrCyclicKey, strings.Join(chain, " -> "))
		}
	}
	path = append(path, def.Name)

	var keys []domain.KeyField
	for _, el := range def.Elements {
		if !el.Key {
			continue
		}
		if !el.Association {
			keys = append(keys, scalarKey(el.Name, el.Type))
			continue
		}
		fields, err := associationFields(schema, def, el, path)
		if err != nil {
			return nil, err
		}
		keys = append(keys, fields...)
	}
	return keys, nil
}

// associationFields resolves the foreign-key fields a managed to-one
// association stores, prefixed with the association name.
func associationFields(schema *domain.Schema, owner *domain.SchemaElement, el domain.Element, path []string) ([]domain.KeyField, error) {
	target, ok := schema.Lookup(el.Target)
	if !ok {
		return nil, fmt.Errorf("%s.%s: association target %q is not defined", owner.Name, el.Name, el.Target)
	}

	var targetFields []domain.KeyField
	if len(el.ForeignKeys) == 0 {
		keys, err := resolveKeys(schema, target, path)
		if err != nil {
			return nil, err
		}
		targetFields = keys
	} else {
		for _, ref := range el.ForeignKeys {
			ref = strings.ReplaceAll(ref, ".", "_")
			targetEl, ok := target.Element(ref)
			if !ok {
				// The ref may name a field that is itself an expanded key.
				keys, err := resolveKeys(schema, target, path)
				if err != nil {
					return nil, err
				}
				field, found := findKey(keys, ref)
				if !found {
					return nil, fmt.Errorf("%s.%s: foreign key %q not found on %s", owner.Name, el.Name, ref, target.Name)
				}
				targetFields = append(targetFields, field)
				continue
			}
			if targetEl.Association {
				nested, err := associationFields(schema, target, targetEl, append(path, target.Name))
				if err != nil {
					return nil, err
				}
				targetFields = append(targetFields, nested...)
				continue
			}
			targetFields = append(targetFields, scalarKey(targetEl.Name, targetEl.Type))
		}
	}
	if len(targetFields) == 0 {
		return nil, fmt.Errorf("%s.%s: association target %s has no key", owner.Name, el.Name, target.Name)
	}

	out := make([]domain.KeyField, 0, len(targetFields))
	for _, field := range targetFields {
		out = append(out, domain.KeyField{
			Name: el.Name + "_" + field.Name,
			Type: field.Type,
			Kind: field.Kind,
		})
	}
	return out, nil
}

func scalarKey(name, typ string) domain.KeyField {
	return domain.KeyField{Name: name, Type: typ, Kind: domain.KindOfType(typ)}
}

func findKey(keys []domain.KeyField, name string) (domain.KeyField, bool) {
	for _, key := range keys {
		if key.Name == name {
			return key, true
		}
	}
	return domain.KeyField{}, false
}
