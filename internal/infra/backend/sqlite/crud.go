package sqlite

import (
	"context"
	"fmt"
	"strings"

	"cdsmcp/internal/domain"
)

// Read executes a plan for any result shape.
func (b *Backend) Read(ctx context.Context, plan domain.QueryPlan) (domain.QueryResult, error) {
	if err := b.ensure(ctx); err != nil {
		return domain.QueryResult{}, err
	}
	if plan.Entity == nil {
		return domain.QueryResult{}, fmt.Errorf("plan has no entity")
	}
	query, args, err := compileRead(plan)
	if err != nil {
		return domain.QueryResult{}, err
	}

	switch plan.Shape {
	case domain.ShapeCount:
		var count int64
		if err := b.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
			return domain.QueryResult{}, fmt.Errorf("count %s: %w", plan.Entity.Table, err)
		}
		return domain.QueryResult{Shape: domain.ShapeCount, Count: count}, nil
	case domain.ShapeAggregate:
		rows, err := b.queryRows(ctx, plan.Entity, query, args, aggregateColumns(plan))
		if err != nil {
			return domain.QueryResult{}, err
		}
		aggregates := map[string]any{}
		if len(rows) > 0 {
			aggregates = rows[0]
		}
		return domain.QueryResult{Shape: domain.ShapeAggregate, Aggregates: aggregates}, nil
	default:
		cols := make([]domain.Column, 0, len(plan.Select))
		for _, name := range plan.Select {
			col, ok := plan.Entity.Column(name)
			if !ok {
				return domain.QueryResult{}, fmt.Errorf("unknown column %s", name)
			}
			cols = append(cols, col)
		}
		rows, err := b.queryRows(ctx, plan.Entity, query, args, cols)
		if err != nil {
			return domain.QueryResult{}, err
		}
		return domain.QueryResult{Shape: domain.ShapeRows, Rows: rows}, nil
	}
}

// aggregateColumns types aggregate results: counts are integers, sums and
// averages numbers, min/max keep the column kind.
func aggregateColumns(plan domain.QueryPlan) []domain.Column {
	cols := make([]domain.Column, 0, len(plan.Aggregations))
	for _, agg := range plan.Aggregations {
		col := domain.Column{Name: agg.Alias(), Kind: domain.ValueNumber}
		switch agg.Function {
		case domain.AggCount, domain.AggCountDistinct:
			col.Kind = domain.ValueInteger
		case domain.AggMin, domain.AggMax:
			if source, ok := plan.Entity.Column(agg.Field); ok {
				col.Kind = source.Kind
			}
		case domain.AggSum:
			if source, ok := plan.Entity.Column(agg.Field); ok && source.Kind == domain.ValueInteger {
				col.Kind = domain.ValueInteger
			}
		}
		cols = append(cols, col)
	}
	return cols
}

func (b *Backend) queryRows(ctx context.Context, entity *domain.EntityModel, query string, args []any, cols []domain.Column) ([]domain.Row, error) {
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", entity.Table, err)
	}
	defer rows.Close()

	var out []domain.Row
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", entity.Table, err)
		}
		row := make(domain.Row, len(cols))
		for i, col := range cols {
			row[col.Name] = fromSQL(col.Kind, raw[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", entity.Table, err)
	}
	return out, nil
}

// Insert stores a new row.
func (b *Backend) Insert(ctx context.Context, entity *domain.EntityModel, values domain.Row) (domain.Row, error) {
	if err := b.ensure(ctx); err != nil {
		return nil, err
	}
	query, args := insertSQL(entity, values)
	if _, err := b.db.ExecContext(ctx, query, args...); err != nil {
		return nil, constraintError("sqlite.insert", err)
	}
	return values, nil
}

// Update changes values on the row matching keys.
func (b *Backend) Update(ctx context.Context, entity *domain.EntityModel, keys domain.Row, values domain.Row) (domain.Row, error) {
	if err := b.ensure(ctx); err != nil {
		return nil, err
	}
	sets := make([]string, 0, len(values))
	args := make([]any, 0, len(values)+len(keys))
	for _, col := range entity.Columns {
		value, ok := values[col.Name]
		if !ok || col.Key {
			continue
		}
		sets = append(sets, quoteIdent(col.Name)+" = ?")
		args = append(args, sqlValue(value))
	}
	if len(sets) == 0 {
		return nil, domain.ValidationError("sqlite.update", "", "no fields to update")
	}
	where, keyArgs := keyClause(entity, keys)
	args = append(args, keyArgs...)

	query := "UPDATE " + quoteIdent(entity.Table) + " SET " + strings.Join(sets, ", ") + where
	res, err := b.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, constraintError("sqlite.update", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, domain.ErrEntityNotFound
	}
	return values, nil
}

// Delete removes the row matching keys and reports whether one existed.
func (b *Backend) Delete(ctx context.Context, entity *domain.EntityModel, keys domain.Row) (bool, error) {
	if err := b.ensure(ctx); err != nil {
		return false, err
	}
	where, args := keyClause(entity, keys)
	res, err := b.db.ExecContext(ctx, "DELETE FROM "+quoteIdent(entity.Table)+where, args...)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// fromSQL converts a scanned driver value to the JSON-facing value.
func fromSQL(kind domain.ValueKind, v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case []byte:
		v = string(x)
	}
	switch kind {
	case domain.ValueBoolean:
		switch x := v.(type) {
		case int64:
			return x != 0
		case string:
			return x == "1" || strings.EqualFold(x, "true")
		}
	case domain.ValueInteger:
		if f, ok := v.(float64); ok && f == float64(int64(f)) {
			return int64(f)
		}
	case domain.ValueNumber:
		if n, ok := v.(int64); ok {
			return float64(n)
		}
	}
	return v
}

var _ domain.Backend = (*Backend)(nil)
