package capability

import (
	"github.com/google/jsonschema-go/jsonschema"

	"cdsmcp/internal/domain"
)

// Tool argument names shared with the query translator.
const (
	ArgSelect    = "select"
	ArgWhere     = "where"
	ArgSearch    = "q"
	ArgOrderBy   = "orderby"
	ArgTop       = "top"
	ArgSkip      = "skip"
	ArgReturn    = "return"
	ArgAggregate = "aggregate"
)

func falseSchema() *jsonschema.Schema {
	return &jsonschema.Schema{Not: &jsonschema.Schema{}}
}

func floatPtr(v float64) *float64 {
	return &v
}

func columnSchema(name string, kind domain.ValueKind, hint string, nullable bool) *jsonschema.Schema {
	s := &jsonschema.Schema{
		Format:      kind.Format(),
		Description: hint,
	}
	if nullable {
		s.Types = []string{kind.JSONType(), "null"}
	} else {
		s.Type = kind.JSONType()
	}
	if s.Description == "" && kind == domain.ValueUUID {
		s.Description = name + " (uuid)"
	}
	return s
}

func fieldEnum(names []string) []any {
	out := make([]any, 0, len(names))
	for _, name := range names {
		out = append(out, name)
	}
	return out
}

// queryInputSchema describes the query tool. Omitted columns never appear in
// any field enum.
func queryInputSchema(entity *domain.EntityModel, maxTop int) *jsonschema.Schema {
	fields := fieldEnum(entity.VisibleNames())
	operators := make([]any, 0, len(domain.Operators))
	for _, op := range domain.Operators {
		operators = append(operators, string(op))
	}
	functions := make([]any, 0, len(domain.AggregateFuncs))
	for _, fn := range domain.AggregateFuncs {
		functions = append(functions, string(fn))
	}

	top := &jsonschema.Schema{Type: "integer", Minimum: floatPtr(0), Description: "Maximum number of rows to return"}
	if maxTop > 0 {
		top.Maximum = floatPtr(float64(maxTop))
	}

	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			ArgSelect: {
				Type:        "array",
				Items:       &jsonschema.Schema{Type: "string", Enum: fields},
				Description: "Fields to return",
			},
			ArgWhere: {
				Type: "array",
				Items: &jsonschema.Schema{
					Type: "object",
					Properties: map[string]*jsonschema.Schema{
						"field": {Type: "string", Enum: fields},
						"op":    {Type: "string", Enum: operators},
						"value": {},
					},
					Required: []string{"field", "op"},
				},
				Description: "Filter conditions, all of which must match",
			},
			ArgSearch: {Type: "string", Description: "Free-text search across text fields"},
			ArgOrderBy: {
				Type: "array",
				Items: &jsonschema.Schema{AnyOf: []*jsonschema.Schema{
					{Type: "string", Description: "field or \"field desc\""},
					{
						Type: "object",
						Properties: map[string]*jsonschema.Schema{
							"field": {Type: "string", Enum: fields},
							"dir":   {Type: "string", Enum: []any{"asc", "desc"}},
						},
						Required: []string{"field"},
					},
				}},
				Description: "Sort keys",
			},
			ArgTop:  top,
			ArgSkip: {Type: "integer", Minimum: floatPtr(0), Description: "Number of rows to skip"},
			ArgReturn: {
				Type:        "string",
				Enum:        []any{string(domain.ShapeRows), string(domain.ShapeCount), string(domain.ShapeAggregate)},
				Description: "Result shape, defaults to rows",
			},
			ArgAggregate: {
				Type: "array",
				Items: &jsonschema.Schema{
					Type: "object",
					Properties: map[string]*jsonschema.Schema{
						"field": {Type: "string", Enum: fields},
						"fn":    {Type: "string", Enum: functions},
					},
					Required: []string{"fn"},
				},
				Description: "Aggregations, used when return is aggregate",
			},
		},
		AdditionalProperties: falseSchema(),
	}
}

// keyInputSchema requires the full key set.
func keyInputSchema(entity *domain.EntityModel) *jsonschema.Schema {
	props := make(map[string]*jsonschema.Schema, len(entity.Keys))
	for _, key := range entity.Keys {
		props[key.Name] = columnSchema(key.Name, key.Kind, "", false)
	}
	return &jsonschema.Schema{
		Type:                 "object",
		Properties:           props,
		Required:             entity.KeyNames(),
		AdditionalProperties: falseSchema(),
	}
}

// CreateInputSchema lists writable columns. UUID keys may be left out and
// are generated on insert.
func CreateInputSchema(entity *domain.EntityModel) *jsonschema.Schema {
	props := map[string]*jsonschema.Schema{}
	var required []string
	for _, col := range entity.Writable() {
		props[col.Name] = columnSchema(col.Name, col.Kind, col.Hint, !col.NotNull)
		if col.NotNull && !(col.Key && col.Kind == domain.ValueUUID) {
			required = append(required, col.Name)
		}
	}
	return &jsonschema.Schema{
		Type:                 "object",
		Properties:           props,
		Required:             required,
		AdditionalProperties: falseSchema(),
	}
}

// UpdateInputSchema requires the key set; other writable columns are optional.
func UpdateInputSchema(entity *domain.EntityModel) *jsonschema.Schema {
	props := map[string]*jsonschema.Schema{}
	for _, key := range entity.Keys {
		props[key.Name] = columnSchema(key.Name, key.Kind, "", false)
	}
	for _, col := range entity.Writable() {
		if col.Key {
			continue
		}
		props[col.Name] = columnSchema(col.Name, col.Kind, col.Hint, !col.NotNull)
	}
	return &jsonschema.Schema{
		Type:                 "object",
		Properties:           props,
		Required:             entity.KeyNames(),
		AdditionalProperties: falseSchema(),
	}
}

func operationInputSchema(op *domain.OperationModel) *jsonschema.Schema {
	props := make(map[string]*jsonschema.Schema, len(op.Params))
	var required []string
	for _, param := range op.Params {
		props[param.Name] = columnSchema(param.Name, param.Kind, param.Hint, !param.NotNull)
		if param.NotNull {
			required = append(required, param.Name)
		}
	}
	return &jsonschema.Schema{
		Type:       "object",
		Properties: props,
		Required:   required,
	}
}
