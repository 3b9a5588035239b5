package query

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"cdsmcp/internal/domain"
	"cdsmcp/internal/infra/capability"
)

const opTranslate = "query.translate"

// Options bounds paging.
type Options struct {
	DefaultTop int
	MaxTop     int
}

// Translator decodes tool arguments and resource query parameters into a
// QuerySpec and validates it against an entity into a QueryPlan.
type Translator struct {
	opts Options
}

func NewTranslator(opts Options) *Translator {
	if opts.MaxTop <= 0 {
		opts.MaxTop = domain.DefaultQueryMaxTop
	}
	if opts.DefaultTop <= 0 {
		opts.DefaultTop = domain.DefaultQueryTop
	}
	if opts.DefaultTop > opts.MaxTop {
		opts.DefaultTop = opts.MaxTop
	}
	return &Translator{opts: opts}
}

type toolArgs struct {
	Select    []string        `json:"select"`
	Where     []whereArg      `json:"where"`
	Search    string          `json:"q"`
	OrderBy   json.RawMessage `json:"orderby"`
	Top       *int            `json:"top"`
	Skip      *int            `json:"skip"`
	Return    string          `json:"return"`
	Aggregate []aggregateArg  `json:"aggregate"`
}

type whereArg struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value"`
}

type aggregateArg struct {
	Field string `json:"field"`
	Fn    string `json:"fn"`
}

type orderArg struct {
	Field string `json:"field"`
	Dir   string `json:"dir"`
}

// TranslateTool decodes query tool arguments.
func (t *Translator) TranslateTool(raw json.RawMessage) (domain.QuerySpec, error) {
	var args toolArgs
	if len(bytes.TrimSpace(raw)) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		dec.DisallowUnknownFields()
		if err := dec.Decode(&args); err != nil {
			return domain.QuerySpec{}, domain.ValidationError(opTranslate, "", "invalid query arguments: "+err.Error())
		}
	}

	spec := domain.QuerySpec{
		Select: args.Select,
		Search: strings.TrimSpace(args.Search),
		Top:    args.Top,
		Skip:   args.Skip,
	}

	shape, err := parseShape(args.Return)
	if err != nil {
		return domain.QuerySpec{}, err
	}
	spec.Shape = shape

	for i, w := range args.Where {
		if w.Field == "" {
			return domain.QuerySpec{}, domain.ValidationError(opTranslate, fmt.Sprintf("where[%d].field", i), "field is required")
		}
		op, err := parseOperator(w.Op)
		if err != nil {
			return domain.QuerySpec{}, err
		}
		spec.Filters = append(spec.Filters, domain.FilterCondition{Field: w.Field, Operator: op, Value: w.Value})
	}

	sort, err := parseToolOrderBy(args.OrderBy)
	if err != nil {
		return domain.QuerySpec{}, err
	}
	spec.Sort = sort

	for i, a := range args.Aggregate {
		fn, err := parseAggregate(a.Fn)
		if err != nil {
			return domain.QuerySpec{}, domain.ValidationError(opTranslate, fmt.Sprintf("aggregate[%d].fn", i), err.Error())
		}
		spec.Aggregations = append(spec.Aggregations, domain.Aggregation{Field: a.Field, Function: fn})
	}
	return spec, nil
}

// TranslateResource decodes resource read parameters. Keys may carry the
// OData "$" prefix.
func (t *Translator) TranslateResource(values url.Values) (domain.QuerySpec, error) {
	spec := domain.QuerySpec{Shape: domain.ShapeRows}
	for key, list := range values {
		if len(list) == 0 {
			continue
		}
		value := list[len(list)-1]
		switch strings.TrimPrefix(strings.ToLower(key), "$") {
		case capability.OptionFilter:
			if strings.TrimSpace(value) == "" {
				continue
			}
			conds, err := ParseFilter(value)
			if err != nil {
				return domain.QuerySpec{}, domain.ValidationError(opTranslate, capability.OptionFilter, "invalid filter: "+err.Error())
			}
			spec.Filters = append(spec.Filters, conds...)
		case capability.OptionOrderBy:
			for _, part := range splitList(value) {
				key, err := parseSortString(part)
				if err != nil {
					return domain.QuerySpec{}, err
				}
				spec.Sort = append(spec.Sort, key)
			}
		case capability.OptionSelect:
			spec.Select = splitList(value)
		case capability.OptionTop:
			n, err := parseInt(capability.OptionTop, value)
			if err != nil {
				return domain.QuerySpec{}, err
			}
			spec.Top = &n
		case capability.OptionSkip:
			n, err := parseInt(capability.OptionSkip, value)
			if err != nil {
				return domain.QuerySpec{}, err
			}
			spec.Skip = &n
		case "search", "q":
			spec.Search = strings.TrimSpace(value)
		default:
			return domain.QuerySpec{}, domain.ValidationError(opTranslate, key, fmt.Sprintf("unsupported query option %q", key))
		}
	}
	return spec, nil
}

func parseShape(value string) (domain.ResultShape, error) {
	switch domain.ResultShape(strings.ToLower(strings.TrimSpace(value))) {
	case "", domain.ShapeRows:
		return domain.ShapeRows, nil
	case domain.ShapeCount:
		return domain.ShapeCount, nil
	case domain.ShapeAggregate:
		return domain.ShapeAggregate, nil
	default:
		return "", domain.ValidationError(opTranslate, capability.ArgReturn,
			fmt.Sprintf("return must be rows, count or aggregate, got %q", value))
	}
}

func parseOperator(value string) (domain.Operator, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "=", "==":
		normalized = string(domain.OpEq)
	case "!=", "<>":
		normalized = string(domain.OpNe)
	case ">":
		normalized = string(domain.OpGt)
	case "<":
		normalized = string(domain.OpLt)
	case ">=":
		normalized = string(domain.OpGe)
	case "<=":
		normalized = string(domain.OpLe)
	case "like":
		normalized = string(domain.OpContains)
	}
	for _, op := range domain.Operators {
		if string(op) == normalized {
			return op, nil
		}
	}
	return "", domain.ValidationError(opTranslate, "op", fmt.Sprintf("unsupported operator %q", value))
}

func parseAggregate(value string) (domain.AggregateFunc, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "average" {
		normalized = string(domain.AggAvg)
	}
	for _, fn := range domain.AggregateFuncs {
		if string(fn) == normalized {
			return fn, nil
		}
	}
	return "", fmt.Errorf("unsupported aggregate function %q", value)
}

func parseToolOrderBy(raw json.RawMessage) ([]domain.SortKey, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, domain.ValidationError(opTranslate, capability.ArgOrderBy, err.Error())
		}
		var keys []domain.SortKey
		for _, part := range splitList(s) {
			key, err := parseSortString(part)
			if err != nil {
				return nil, err
			}
			keys = append(keys, key)
		}
		return keys, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, domain.ValidationError(opTranslate, capability.ArgOrderBy, "orderby must be a string or a list")
	}
	keys := make([]domain.SortKey, 0, len(items))
	for _, item := range items {
		item = bytes.TrimSpace(item)
		if len(item) > 0 && item[0] == '"' {
			var s string
			if err := json.Unmarshal(item, &s); err != nil {
				return nil, domain.ValidationError(opTranslate, capability.ArgOrderBy, err.Error())
			}
			key, err := parseSortString(s)
			if err != nil {
				return nil, err
			}
			keys = append(keys, key)
			continue
		}
		var obj orderArg
		if err := json.Unmarshal(item, &obj); err != nil || obj.Field == "" {
			return nil, domain.ValidationError(opTranslate, capability.ArgOrderBy, "orderby entries must be \"field [asc|desc]\" or {field, dir}")
		}
		desc, err := parseDirection(obj.Dir)
		if err != nil {
			return nil, err
		}
		keys = append(keys, domain.SortKey{Field: obj.Field, Descending: desc})
	}
	return keys, nil
}

func parseSortString(value string) (domain.SortKey, error) {
	parts := strings.Fields(value)
	switch len(parts) {
	case 1:
		return domain.SortKey{Field: parts[0]}, nil
	case 2:
		desc, err := parseDirection(parts[1])
		if err != nil {
			return domain.SortKey{}, err
		}
		return domain.SortKey{Field: parts[0], Descending: desc}, nil
	default:
		return domain.SortKey{}, domain.ValidationError(opTranslate, capability.ArgOrderBy, fmt.Sprintf("invalid sort key %q", value))
	}
}

func parseDirection(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "asc":
		return false, nil
	case "desc":
		return true, nil
	default:
		return false, domain.ValidationError(opTranslate, capability.ArgOrderBy, fmt.Sprintf("sort direction must be asc or desc, got %q", value))
	}
}

func parseInt(field, value string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, domain.TypeMismatchError(opTranslate, field, "integer", value)
	}
	return n, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
