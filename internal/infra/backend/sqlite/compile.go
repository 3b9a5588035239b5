package sqlite

import (
	"fmt"
	"strings"

	"cdsmcp/internal/domain"
)

var comparisons = map[domain.Operator]string{
	domain.OpEq: "=",
	domain.OpNe: "<>",
	domain.OpGt: ">",
	domain.OpLt: "<",
	domain.OpGe: ">=",
	domain.OpLe: "<=",
}

// compileWhere renders the predicate once; every shape reuses the result.
func compileWhere(p domain.Predicate) (string, []any, error) {
	var clauses []string
	var args []any
	for _, cond := range p.Conditions {
		clause, condArgs, err := compileCondition(cond)
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, clause)
		args = append(args, condArgs...)
	}
	if p.Search != "" && len(p.SearchColumns) == 0 {
		// A search term with nothing to search matches no row.
		clauses = append(clauses, "0 = 1")
	} else if p.Search != "" {
		pattern := "%" + escapeLike(p.Search) + "%"
		parts := make([]string, 0, len(p.SearchColumns))
		for _, col := range p.SearchColumns {
			parts = append(parts, quoteIdent(col)+` LIKE ? ESCAPE '\'`)
			args = append(args, pattern)
		}
		clauses = append(clauses, "("+strings.Join(parts, " OR ")+")")
	}
	if len(clauses) == 0 {
		return "", nil, nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

func compileCondition(cond domain.FilterCondition) (string, []any, error) {
	col := quoteIdent(cond.Field)
	switch cond.Operator {
	case domain.OpEq, domain.OpNe:
		if cond.Value == nil {
			if cond.Operator == domain.OpEq {
				return col + " IS NULL", nil, nil
			}
			return col + " IS NOT NULL", nil, nil
		}
		return col + " " + comparisons[cond.Operator] + " ?", []any{sqlValue(cond.Value)}, nil
	case domain.OpGt, domain.OpLt, domain.OpGe, domain.OpLe:
		return col + " " + comparisons[cond.Operator] + " ?", []any{sqlValue(cond.Value)}, nil
	case domain.OpContains:
		return col + ` LIKE ? ESCAPE '\'`, []any{"%" + escapeLike(fmt.Sprint(cond.Value)) + "%"}, nil
	case domain.OpStartsWith:
		return col + ` LIKE ? ESCAPE '\'`, []any{escapeLike(fmt.Sprint(cond.Value)) + "%"}, nil
	case domain.OpEndsWith:
		return col + ` LIKE ? ESCAPE '\'`, []any{"%" + escapeLike(fmt.Sprint(cond.Value))}, nil
	case domain.OpIn:
		list, ok := cond.Value.([]any)
		if !ok || len(list) == 0 {
			return "", nil, fmt.Errorf("operator in needs a list for %s", cond.Field)
		}
		marks := make([]string, len(list))
		args := make([]any, len(list))
		for i, v := range list {
			marks[i] = "?"
			args[i] = sqlValue(v)
		}
		return col + " IN (" + strings.Join(marks, ", ") + ")", args, nil
	default:
		return "", nil, fmt.Errorf("unsupported operator %q", cond.Operator)
	}
}

// compileRead renders the statement for a plan. Only the projection and the
// paging tail differ between shapes.
func compileRead(plan domain.QueryPlan) (string, []any, error) {
	where, args, err := compileWhere(plan.Predicate)
	if err != nil {
		return "", nil, err
	}
	from := " FROM " + quoteIdent(plan.Entity.Table)

	switch plan.Shape {
	case domain.ShapeCount:
		return "SELECT COUNT(*)" + from + where, args, nil
	case domain.ShapeAggregate:
		if len(plan.Aggregations) == 0 {
			return "", nil, fmt.Errorf("aggregate query without aggregations")
		}
		exprs := make([]string, 0, len(plan.Aggregations))
		for _, agg := range plan.Aggregations {
			expr, err := aggregateExpr(agg)
			if err != nil {
				return "", nil, err
			}
			exprs = append(exprs, expr+" AS "+quoteIdent(agg.Alias()))
		}
		return "SELECT " + strings.Join(exprs, ", ") + from + where, args, nil
	default:
		cols := make([]string, 0, len(plan.Select))
		for _, name := range plan.Select {
			cols = append(cols, quoteIdent(name))
		}
		if len(cols) == 0 {
			return "", nil, fmt.Errorf("row query without columns")
		}
		query := "SELECT " + strings.Join(cols, ", ") + from + where
		if len(plan.Sort) > 0 {
			keys := make([]string, 0, len(plan.Sort))
			for _, key := range plan.Sort {
				dir := "ASC"
				if key.Descending {
					dir = "DESC"
				}
				keys = append(keys, quoteIdent(key.Field)+" "+dir)
			}
			query += " ORDER BY " + strings.Join(keys, ", ")
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, plan.Top, plan.Skip)
		return query, args, nil
	}
}

func aggregateExpr(agg domain.Aggregation) (string, error) {
	col := "*"
	if agg.Field != "" {
		col = quoteIdent(agg.Field)
	}
	switch agg.Function {
	case domain.AggCount:
		return "COUNT(" + col + ")", nil
	case domain.AggCountDistinct:
		if agg.Field == "" {
			return "", fmt.Errorf("countdistinct needs a field")
		}
		return "COUNT(DISTINCT " + col + ")", nil
	case domain.AggSum:
		return "SUM(" + col + ")", nil
	case domain.AggAvg:
		return "AVG(" + col + ")", nil
	case domain.AggMin:
		return "MIN(" + col + ")", nil
	case domain.AggMax:
		return "MAX(" + col + ")", nil
	default:
		return "", fmt.Errorf("unsupported aggregate %q", agg.Function)
	}
}

func insertSQL(entity *domain.EntityModel, values domain.Row) (string, []any) {
	cols := make([]string, 0, len(values))
	marks := make([]string, 0, len(values))
	args := make([]any, 0, len(values))
	for _, col := range entity.Columns {
		value, ok := values[col.Name]
		if !ok {
			continue
		}
		cols = append(cols, quoteIdent(col.Name))
		marks = append(marks, "?")
		args = append(args, sqlValue(value))
	}
	if len(cols) == 0 {
		return "INSERT INTO " + quoteIdent(entity.Table) + " DEFAULT VALUES", nil
	}
	return "INSERT INTO " + quoteIdent(entity.Table) + " (" + strings.Join(cols, ", ") + ") VALUES (" + strings.Join(marks, ", ") + ")", args
}

func keyClause(entity *domain.EntityModel, keys domain.Row) (string, []any) {
	parts := make([]string, 0, len(entity.Keys))
	args := make([]any, 0, len(entity.Keys))
	for _, key := range entity.Keys {
		parts = append(parts, quoteIdent(key.Name)+" = ?")
		args = append(args, sqlValue(keys[key.Name]))
	}
	return " WHERE " + strings.Join(parts, " AND "), args
}

func sqlValue(v any) any {
	if b, ok := v.(bool); ok {
		if b {
			return int64(1)
		}
		return int64(0)
	}
	return v
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
