package query

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"cdsmcp/internal/domain"
	"cdsmcp/internal/infra/capability"
	"cdsmcp/internal/infra/telemetry"
)

const opExecute = "query.execute"

// Executor runs translated queries and CRUD calls against a backend.
type Executor struct {
	backend    domain.Backend
	translator *Translator
	logger     *zap.Logger

	schemaMu sync.Mutex
	schemas  map[string]*jsonschema.Resolved
}

func NewExecutor(backend domain.Backend, translator *Translator, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if translator == nil {
		translator = NewTranslator(Options{})
	}
	return &Executor{
		backend:    backend,
		translator: translator,
		logger:     logger.Named("query"),
		schemas:    map[string]*jsonschema.Resolved{},
	}
}

// Translator exposes the translator used for planning.
func (e *Executor) Translator() *Translator {
	return e.translator
}

// Execute plans spec and reads it. Rows are projected to the selected
// visible columns so omitted fields never leave the process.
func (e *Executor) Execute(ctx context.Context, entity *domain.EntityModel, spec domain.QuerySpec) (domain.QueryResult, error) {
	plan, err := e.translator.Plan(entity, spec)
	if err != nil {
		return domain.QueryResult{}, err
	}
	return e.read(ctx, plan)
}

func (e *Executor) read(ctx context.Context, plan domain.QueryPlan) (domain.QueryResult, error) {
	result, err := e.backend.Read(ctx, plan)
	if err != nil {
		return domain.QueryResult{}, e.backendError(opExecute, plan.Entity, err)
	}
	result.Shape = plan.Shape
	switch plan.Shape {
	case domain.ShapeRows:
		for i, row := range result.Rows {
			result.Rows[i] = project(row, plan.Select)
		}
		if result.Rows == nil {
			result.Rows = []domain.Row{}
		}
	case domain.ShapeAggregate:
		aliases := make([]string, 0, len(plan.Aggregations))
		for _, agg := range plan.Aggregations {
			aliases = append(aliases, agg.Alias())
		}
		result.Aggregates = project(result.Aggregates, aliases)
	}
	return result, nil
}

// Get reads one row by its full key.
func (e *Executor) Get(ctx context.Context, entity *domain.EntityModel, raw json.RawMessage) (domain.Row, error) {
	args, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}
	keys, err := keyValues(entity, args)
	if err != nil {
		return nil, err
	}
	row, err := e.byKey(ctx, entity, keys)
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (e *Executor) byKey(ctx context.Context, entity *domain.EntityModel, keys domain.Row) (domain.Row, error) {
	predicate := domain.Predicate{}
	for _, key := range entity.Keys {
		predicate.Conditions = append(predicate.Conditions, domain.FilterCondition{
			Field:    key.Name,
			Operator: domain.OpEq,
			Value:    keys[key.Name],
		})
	}
	result, err := e.read(ctx, domain.QueryPlan{
		Entity:    entity,
		Predicate: predicate,
		Select:    entity.VisibleNames(),
		Top:       1,
		Shape:     domain.ShapeRows,
	})
	if err != nil {
		return nil, err
	}
	if len(result.Rows) == 0 {
		return nil, notFound(entity, keys)
	}
	return result.Rows[0], nil
}

// Create validates the payload, fills missing UUID keys and inserts.
func (e *Executor) Create(ctx context.Context, entity *domain.EntityModel, raw json.RawMessage) (domain.Row, error) {
	if err := e.validate(entity, domain.ModeCreate, raw); err != nil {
		return nil, err
	}
	args, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}

	values := domain.Row{}
	for _, col := range entity.Writable() {
		value, ok := args[col.Name]
		if !ok {
			continue
		}
		coerced, err := CoerceValue("query.create", col, value)
		if err != nil {
			return nil, err
		}
		values[col.Name] = coerced
	}
	for _, key := range entity.Keys {
		if _, ok := values[key.Name]; ok || key.Kind != domain.ValueUUID {
			continue
		}
		values[key.Name] = uuid.NewString()
	}

	if _, err := e.backend.Insert(ctx, entity, values); err != nil {
		return nil, e.backendError("query.create", entity, err)
	}
	return e.byKey(ctx, entity, pick(values, entity.KeyNames()))
}

// Update changes the given non-key fields of the row matching the key.
func (e *Executor) Update(ctx context.Context, entity *domain.EntityModel, raw json.RawMessage) (domain.Row, error) {
	if err := e.validate(entity, domain.ModeUpdate, raw); err != nil {
		return nil, err
	}
	args, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}
	keys, err := keyValues(entity, args)
	if err != nil {
		return nil, err
	}

	values := domain.Row{}
	for _, col := range entity.Writable() {
		if col.Key {
			continue
		}
		value, ok := args[col.Name]
		if !ok {
			continue
		}
		coerced, err := CoerceValue("query.update", col, value)
		if err != nil {
			return nil, err
		}
		values[col.Name] = coerced
	}
	if len(values) == 0 {
		return nil, domain.ValidationError("query.update", "", "no fields to update")
	}

	if _, err := e.backend.Update(ctx, entity, keys, values); err != nil {
		if errors.Is(err, domain.ErrEntityNotFound) {
			return nil, notFound(entity, keys)
		}
		return nil, e.backendError("query.update", entity, err)
	}
	return e.byKey(ctx, entity, keys)
}

// Delete removes the row matching the key.
func (e *Executor) Delete(ctx context.Context, entity *domain.EntityModel, raw json.RawMessage) (domain.Row, error) {
	args, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}
	keys, err := keyValues(entity, args)
	if err != nil {
		return nil, err
	}
	deleted, err := e.backend.Delete(ctx, entity, keys)
	if err != nil {
		return nil, e.backendError("query.delete", entity, err)
	}
	if !deleted {
		return nil, notFound(entity, keys)
	}
	return keys, nil
}

// Invoke calls a function or action with coerced parameters.
func (e *Executor) Invoke(ctx context.Context, op *domain.OperationModel, raw json.RawMessage) (any, error) {
	args, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}
	params := make(map[string]any, len(op.Params))
	for _, param := range op.Params {
		value, ok := args[param.Name]
		if !ok || value == nil {
			if param.NotNull {
				return nil, domain.ValidationError("query.invoke", param.Name, fmt.Sprintf("parameter %q is required", param.Name))
			}
			continue
		}
		coerced, err := CoerceValue("query.invoke", param, value)
		if err != nil {
			return nil, err
		}
		params[param.Name] = coerced
	}
	for name := range args {
		if !hasParam(op, name) {
			return nil, domain.ValidationError("query.invoke", name, fmt.Sprintf("unknown parameter %q", name))
		}
	}

	result, err := e.backend.Invoke(ctx, op, params)
	if err != nil {
		if _, ok := domain.CodeFrom(err); ok {
			return nil, err
		}
		e.logger.Error("operation failed", zap.String("operation", op.Name), zap.Error(err))
		return nil, domain.BackendError("query.invoke", err)
	}
	return result, nil
}

func hasParam(op *domain.OperationModel, name string) bool {
	for _, param := range op.Params {
		if param.Name == name {
			return true
		}
	}
	return false
}

func (e *Executor) validate(entity *domain.EntityModel, mode domain.WrapMode, raw json.RawMessage) error {
	resolved, err := e.resolvedSchema(entity, mode)
	if err != nil {
		return domain.Wrap(domain.CodeInternal, "query.validate", err)
	}
	var instance map[string]any
	if err := json.Unmarshal(nonEmpty(raw), &instance); err != nil {
		return domain.ValidationError("query.validate", "", "arguments must be a JSON object")
	}
	if err := resolved.Validate(instance); err != nil {
		return domain.ValidationError("query.validate", "", err.Error())
	}
	return nil
}

func (e *Executor) resolvedSchema(entity *domain.EntityModel, mode domain.WrapMode) (*jsonschema.Resolved, error) {
	key := entity.Name + "/" + string(mode)
	e.schemaMu.Lock()
	defer e.schemaMu.Unlock()
	if resolved, ok := e.schemas[key]; ok {
		return resolved, nil
	}
	var schema *jsonschema.Schema
	switch mode {
	case domain.ModeCreate:
		schema = capability.CreateInputSchema(entity)
	case domain.ModeUpdate:
		schema = capability.UpdateInputSchema(entity)
	default:
		return nil, fmt.Errorf("no payload schema for mode %s", mode)
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, err
	}
	e.schemas[key] = resolved
	return resolved, nil
}

// backendError keeps typed errors and sanitizes everything else.
func (e *Executor) backendError(op string, entity *domain.EntityModel, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if code, ok := domain.CodeFrom(err); ok && code != domain.CodeBackend {
		return err
	}
	name := ""
	if entity != nil {
		name = entity.Name
	}
	e.logger.Error("backend request failed",
		telemetry.EventField(telemetry.EventBackendFailure),
		zap.String("op", op),
		telemetry.EntityField(name),
		zap.Error(err),
	)
	return domain.BackendError(op, err)
}

func decodeObject(raw json.RawMessage) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(nonEmpty(raw)))
	dec.UseNumber()
	var args map[string]any
	if err := dec.Decode(&args); err != nil {
		return nil, domain.ValidationError("query.decode", "", "arguments must be a JSON object")
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

func nonEmpty(raw json.RawMessage) []byte {
	if len(bytes.TrimSpace(raw)) == 0 {
		return []byte("{}")
	}
	return raw
}

// keyValues extracts and coerces the full key set.
func keyValues(entity *domain.EntityModel, args map[string]any) (domain.Row, error) {
	keys := domain.Row{}
	for _, key := range entity.Keys {
		value, ok := args[key.Name]
		if !ok || value == nil {
			return nil, domain.ValidationError("query.key", key.Name, fmt.Sprintf("missing key %q", key.Name))
		}
		coerced, err := CoerceValue("query.key", domain.Column{Name: key.Name, Type: key.Type, Kind: key.Kind}, value)
		if err != nil {
			return nil, err
		}
		keys[key.Name] = coerced
	}
	return keys, nil
}

func notFound(entity *domain.EntityModel, keys domain.Row) error {
	return domain.E(domain.CodeNotFound, "query.get",
		fmt.Sprintf("%s %v not found", entity.LocalName, map[string]any(keys)), domain.ErrEntityNotFound)
}

func project(row map[string]any, fields []string) map[string]any {
	if row == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for _, field := range fields {
		if value, ok := row[field]; ok {
			out[field] = value
		}
	}
	return out
}

func pick(row domain.Row, fields []string) domain.Row {
	return domain.Row(project(row, fields))
}
