package domain

import "context"

// Operator is a filter comparison.
type Operator string

const (
	OpEq         Operator = "eq"
	OpNe         Operator = "ne"
	OpGt         Operator = "gt"
	OpLt         Operator = "lt"
	OpGe         Operator = "ge"
	OpLe         Operator = "le"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "startswith"
	OpEndsWith   Operator = "endswith"
	OpIn         Operator = "in"
)

// Operators lists the supported filter operators.
var Operators = []Operator{OpEq, OpNe, OpGt, OpLt, OpGe, OpLe, OpContains, OpStartsWith, OpEndsWith, OpIn}

// IsText reports whether the operator matches substrings.
func (o Operator) IsText() bool {
	return o == OpContains || o == OpStartsWith || o == OpEndsWith
}

// ResultShape selects what a query returns.
type ResultShape string

const (
	ShapeRows      ResultShape = "rows"
	ShapeCount     ResultShape = "count"
	ShapeAggregate ResultShape = "aggregate"
)

// AggregateFunc is an aggregation applied to a column.
type AggregateFunc string

const (
	AggCount         AggregateFunc = "count"
	AggCountDistinct AggregateFunc = "countdistinct"
	AggSum           AggregateFunc = "sum"
	AggAvg           AggregateFunc = "avg"
	AggMin           AggregateFunc = "min"
	AggMax           AggregateFunc = "max"
)

// AggregateFuncs lists the supported aggregate functions.
var AggregateFuncs = []AggregateFunc{AggCount, AggCountDistinct, AggSum, AggAvg, AggMin, AggMax}

// FilterCondition is a single (field, operator, value) predicate term.
type FilterCondition struct {
	Field    string
	Operator Operator
	Value    any
}

// SortKey orders rows by a field.
type SortKey struct {
	Field      string
	Descending bool
}

// Aggregation is a (field, function) pair. Field may be empty for count.
type Aggregation struct {
	Field    string
	Function AggregateFunc
}

// Alias is the result key for the aggregation.
func (a Aggregation) Alias() string {
	if a.Field == "" {
		return string(a.Function)
	}
	return string(a.Function) + "_" + a.Field
}

// QuerySpec is the normalized client request against one entity.
type QuerySpec struct {
	Filters      []FilterCondition
	Search       string
	Sort         []SortKey
	Select       []string
	Top          *int
	Skip         *int
	Aggregations []Aggregation
	Shape        ResultShape
}

// Predicate is the row filter shared by every result shape. Conditions and
// the search term are ANDed; the search term matches any search column.
type Predicate struct {
	Conditions    []FilterCondition
	Search        string
	SearchColumns []string
}

// QueryPlan is what the backend executes. The predicate is built once and
// the shape only decides the terminal projection.
type QueryPlan struct {
	Entity       *EntityModel
	Predicate    Predicate
	Select       []string
	Sort         []SortKey
	Top          int
	Skip         int
	Aggregations []Aggregation
	Shape        ResultShape
}

// Row is one result record keyed by column name.
type Row map[string]any

// QueryResult carries the output for the requested shape.
type QueryResult struct {
	Shape      ResultShape
	Rows       []Row
	Count      int64
	Aggregates map[string]any
}

// Backend is the query-submission interface of the data engine.
type Backend interface {
	Read(ctx context.Context, plan QueryPlan) (QueryResult, error)
	Insert(ctx context.Context, entity *EntityModel, values Row) (Row, error)
	Update(ctx context.Context, entity *EntityModel, keys Row, values Row) (Row, error)
	Delete(ctx context.Context, entity *EntityModel, keys Row) (bool, error)
	Invoke(ctx context.Context, op *OperationModel, args map[string]any) (any, error)
}

// SchemaPreparer is implemented by backends that derive storage from the
// catalog's entity models.
type SchemaPreparer interface {
	Prepare(ctx context.Context, entities []*EntityModel) error
}
