package query

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"cdsmcp/internal/domain"
)

// CoerceValue converts a decoded JSON value into the Go value stored for the
// column kind. Numbers are expected as json.Number.
func CoerceValue(op string, col domain.Column, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch col.Kind {
	case domain.ValueInteger:
		switch v := value.(type) {
		case json.Number:
			n, err := v.Int64()
			if err != nil {
				return nil, domain.TypeMismatchError(op, col.Name, "integer", value)
			}
			return n, nil
		case int:
			return int64(v), nil
		case int64:
			return v, nil
		case float64:
			if v != float64(int64(v)) {
				return nil, domain.TypeMismatchError(op, col.Name, "integer", value)
			}
			return int64(v), nil
		}
		return nil, domain.TypeMismatchError(op, col.Name, "integer", value)
	case domain.ValueNumber:
		switch v := value.(type) {
		case json.Number:
			f, err := v.Float64()
			if err != nil {
				return nil, domain.TypeMismatchError(op, col.Name, "number", value)
			}
			return f, nil
		case float64:
			return v, nil
		case int64:
			return float64(v), nil
		case int:
			return float64(v), nil
		}
		return nil, domain.TypeMismatchError(op, col.Name, "number", value)
	case domain.ValueBoolean:
		if v, ok := value.(bool); ok {
			return v, nil
		}
		return nil, domain.TypeMismatchError(op, col.Name, "boolean", value)
	case domain.ValueUUID:
		s, ok := value.(string)
		if !ok {
			return nil, domain.TypeMismatchError(op, col.Name, "uuid", value)
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, domain.TypeMismatchError(op, col.Name, "uuid", value)
		}
		return id.String(), nil
	case domain.ValueDate:
		return temporal(op, col, value, "date", "2006-01-02")
	case domain.ValueTime:
		return temporal(op, col, value, "time", "15:04:05")
	case domain.ValueDateTime:
		return temporal(op, col, value, "date-time", time.RFC3339Nano)
	default:
		if s, ok := value.(string); ok {
			return s, nil
		}
		return nil, domain.TypeMismatchError(op, col.Name, "string", value)
	}
}

func temporal(op string, col domain.Column, value any, expected, layout string) (any, error) {
	s, ok := value.(string)
	if !ok {
		return nil, domain.TypeMismatchError(op, col.Name, expected, value)
	}
	if _, err := time.Parse(layout, s); err != nil {
		if expected != "date-time" {
			return nil, domain.TypeMismatchError(op, col.Name, expected, value)
		}
		// Accept timestamps without a zone offset.
		if _, err := time.Parse("2006-01-02T15:04:05", strings.TrimSuffix(s, "Z")); err != nil {
			return nil, domain.TypeMismatchError(op, col.Name, expected, value)
		}
	}
	return s, nil
}

// coerceCondition validates the value against the operator and column.
func coerceCondition(op string, col domain.Column, cond domain.FilterCondition) (any, error) {
	switch {
	case cond.Operator.IsText():
		if col.Kind != domain.ValueString {
			return nil, domain.ValidationError(op, col.Name,
				fmt.Sprintf("operator %s needs a string field, %s is %s", cond.Operator, col.Name, col.Kind))
		}
		s, ok := cond.Value.(string)
		if !ok {
			return nil, domain.TypeMismatchError(op, col.Name, "string", cond.Value)
		}
		return s, nil
	case cond.Operator == domain.OpIn:
		list, ok := cond.Value.([]any)
		if !ok {
			return nil, domain.TypeMismatchError(op, col.Name, "array of "+string(col.Kind), cond.Value)
		}
		if len(list) == 0 {
			return nil, domain.ValidationError(op, col.Name, "operator in needs at least one value")
		}
		out := make([]any, 0, len(list))
		for _, item := range list {
			if item == nil {
				return nil, domain.TypeMismatchError(op, col.Name, string(col.Kind), item)
			}
			v, err := CoerceValue(op, col, item)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case cond.Value == nil:
		if cond.Operator != domain.OpEq && cond.Operator != domain.OpNe {
			return nil, domain.ValidationError(op, col.Name, fmt.Sprintf("operator %s does not accept null", cond.Operator))
		}
		return nil, nil
	default:
		return CoerceValue(op, col, cond.Value)
	}
}
