package query

import (
	"fmt"

	"cdsmcp/internal/domain"
)

const opPlan = "query.plan"

// Plan validates spec against the entity and builds the one predicate every
// result shape shares. Only the terminal projection depends on the shape.
func (t *Translator) Plan(entity *domain.EntityModel, spec domain.QuerySpec) (domain.QueryPlan, error) {
	if entity == nil {
		return domain.QueryPlan{}, domain.E(domain.CodeInternal, opPlan, "entity is required", nil)
	}

	predicate, err := t.predicate(entity, spec)
	if err != nil {
		return domain.QueryPlan{}, err
	}

	shape := spec.Shape
	if shape == "" {
		shape = domain.ShapeRows
	}
	plan := domain.QueryPlan{
		Entity:    entity,
		Predicate: predicate,
		Shape:     shape,
	}

	top, skip, err := t.page(spec)
	if err != nil {
		return domain.QueryPlan{}, err
	}

	switch shape {
	case domain.ShapeRows:
		selected, err := t.selection(entity, spec.Select)
		if err != nil {
			return domain.QueryPlan{}, err
		}
		sort, err := t.sortKeys(entity, spec.Sort)
		if err != nil {
			return domain.QueryPlan{}, err
		}
		plan.Select = selected
		plan.Sort = sort
		plan.Top = top
		plan.Skip = skip
	case domain.ShapeCount:
	case domain.ShapeAggregate:
		aggs, err := t.aggregations(entity, spec.Aggregations)
		if err != nil {
			return domain.QueryPlan{}, err
		}
		plan.Aggregations = aggs
	default:
		return domain.QueryPlan{}, domain.ValidationError(opPlan, "return", fmt.Sprintf("unsupported result shape %q", shape))
	}
	return plan, nil
}

func (t *Translator) predicate(entity *domain.EntityModel, spec domain.QuerySpec) (domain.Predicate, error) {
	predicate := domain.Predicate{Search: spec.Search}
	for _, cond := range spec.Filters {
		col, ok := entity.VisibleColumn(cond.Field)
		if !ok {
			return domain.Predicate{}, unknownField(entity, cond.Field)
		}
		value, err := coerceCondition(opPlan, col, cond)
		if err != nil {
			return domain.Predicate{}, err
		}
		predicate.Conditions = append(predicate.Conditions, domain.FilterCondition{
			Field:    col.Name,
			Operator: cond.Operator,
			Value:    value,
		})
	}
	if predicate.Search != "" {
		for _, col := range entity.SearchColumns() {
			predicate.SearchColumns = append(predicate.SearchColumns, col.Name)
		}
		if len(predicate.SearchColumns) == 0 {
			return domain.Predicate{}, domain.ValidationError(opPlan, "q",
				fmt.Sprintf("%s has no searchable text fields", entity.LocalName))
		}
	}
	return predicate, nil
}

func (t *Translator) page(spec domain.QuerySpec) (int, int, error) {
	top := t.opts.DefaultTop
	if spec.Top != nil {
		top = *spec.Top
	}
	if top < 0 {
		return 0, 0, domain.ValidationError(opPlan, "top", "top must not be negative")
	}
	if top > t.opts.MaxTop {
		err := domain.E(domain.CodeInvalidArgument, opPlan,
			fmt.Sprintf("top %d exceeds the maximum page size %d", top, t.opts.MaxTop), domain.ErrPageTooLarge)
		err.Meta = map[string]string{domain.MetaField: "top"}
		return 0, 0, err
	}
	skip := 0
	if spec.Skip != nil {
		skip = *spec.Skip
	}
	if skip < 0 {
		return 0, 0, domain.ValidationError(opPlan, "skip", "skip must not be negative")
	}
	return top, skip, nil
}

func (t *Translator) selection(entity *domain.EntityModel, fields []string) ([]string, error) {
	if len(fields) == 0 {
		return entity.VisibleNames(), nil
	}
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		col, ok := entity.VisibleColumn(field)
		if !ok {
			return nil, unknownField(entity, field)
		}
		if _, dup := seen[col.Name]; dup {
			continue
		}
		seen[col.Name] = struct{}{}
		out = append(out, col.Name)
	}
	return out, nil
}

func (t *Translator) sortKeys(entity *domain.EntityModel, keys []domain.SortKey) ([]domain.SortKey, error) {
	out := make([]domain.SortKey, 0, len(keys))
	for _, key := range keys {
		if _, ok := entity.VisibleColumn(key.Field); !ok {
			return nil, unknownField(entity, key.Field)
		}
		out = append(out, key)
	}
	return out, nil
}

func (t *Translator) aggregations(entity *domain.EntityModel, aggs []domain.Aggregation) ([]domain.Aggregation, error) {
	if len(aggs) == 0 {
		return []domain.Aggregation{{Function: domain.AggCount}}, nil
	}
	out := make([]domain.Aggregation, 0, len(aggs))
	seen := map[string]struct{}{}
	for _, agg := range aggs {
		if agg.Field == "" {
			if agg.Function != domain.AggCount {
				return nil, domain.ValidationError(opPlan, "aggregate", fmt.Sprintf("%s needs a field", agg.Function))
			}
		} else {
			col, ok := entity.VisibleColumn(agg.Field)
			if !ok {
				return nil, unknownField(entity, agg.Field)
			}
			if (agg.Function == domain.AggSum || agg.Function == domain.AggAvg) &&
				col.Kind != domain.ValueInteger && col.Kind != domain.ValueNumber {
				return nil, domain.TypeMismatchError(opPlan, col.Name, "number", string(col.Kind))
			}
		}
		if _, dup := seen[agg.Alias()]; dup {
			continue
		}
		seen[agg.Alias()] = struct{}{}
		out = append(out, agg)
	}
	return out, nil
}

// unknownField does not distinguish omitted columns from missing ones.
func unknownField(entity *domain.EntityModel, field string) error {
	return domain.ValidationError(opPlan, field, fmt.Sprintf("unknown field %q on %s", field, entity.LocalName))
}
