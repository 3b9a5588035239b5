package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cdsmcp/internal/domain"
)

type fakeBackend struct {
	mu       sync.Mutex
	rows     []domain.Row
	plans    []domain.QueryPlan
	inserted []domain.Row
	readErr  error
	invoked  map[string]any
}

func (f *fakeBackend) Read(_ context.Context, plan domain.QueryPlan) (domain.QueryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plans = append(f.plans, plan)
	if f.readErr != nil {
		return domain.QueryResult{}, f.readErr
	}
	var matched []domain.Row
	for _, row := range f.rows {
		ok := true
		for _, cond := range plan.Predicate.Conditions {
			if cond.Operator == domain.OpEq && fmt.Sprint(row[cond.Field]) != fmt.Sprint(cond.Value) {
				ok = false
			}
		}
		if ok {
			copied := domain.Row{}
			for k, v := range row {
				copied[k] = v
			}
			matched = append(matched, copied)
		}
	}
	switch plan.Shape {
	case domain.ShapeCount:
		return domain.QueryResult{Count: int64(len(matched))}, nil
	case domain.ShapeAggregate:
		return domain.QueryResult{Aggregates: map[string]any{"count": int64(len(matched)), "secret": "leak"}}, nil
	}
	return domain.QueryResult{Rows: matched}, nil
}

func (f *fakeBackend) Insert(_ context.Context, _ *domain.EntityModel, values domain.Row) (domain.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, values)
	f.rows = append(f.rows, values)
	return values, nil
}

func (f *fakeBackend) Update(_ context.Context, _ *domain.EntityModel, keys domain.Row, values domain.Row) (domain.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if fmt.Sprint(row["ID"]) == fmt.Sprint(keys["ID"]) {
			for k, v := range values {
				row[k] = v
			}
			return row, nil
		}
	}
	return nil, domain.ErrEntityNotFound
}

func (f *fakeBackend) Delete(_ context.Context, _ *domain.EntityModel, keys domain.Row) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, row := range f.rows {
		if fmt.Sprint(row["ID"]) == fmt.Sprint(keys["ID"]) {
			f.rows = append(f.rows[:i], f.rows[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeBackend) Invoke(_ context.Context, _ *domain.OperationModel, args map[string]any) (any, error) {
	f.invoked = args
	return map[string]any{"ok": true}, nil
}

func newExecutor(backend domain.Backend) *Executor {
	return NewExecutor(backend, NewTranslator(Options{}), zap.NewNop())
}

func TestExecutor_StripsOmittedFields(t *testing.T) {
	backend := &fakeBackend{rows: []domain.Row{
		{"ID": int64(1), "title": "Dune", "stock": int64(3), "secret": "s3cr3t"},
	}}
	exec := newExecutor(backend)

	result, err := exec.Execute(context.Background(), booksEntity(), domain.QuerySpec{})
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	require.NotContains(t, result.Rows[0], "secret")
	require.Equal(t, "Dune", result.Rows[0]["title"])

	agg, err := exec.Execute(context.Background(), booksEntity(), domain.QuerySpec{Shape: domain.ShapeAggregate})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"count": int64(1)}, agg.Aggregates)

	row, err := exec.Get(context.Background(), booksEntity(), json.RawMessage(`{"ID": 1}`))
	require.NoError(t, err)
	require.NotContains(t, row, "secret")
}

func TestExecutor_SamePredicateForEveryShape(t *testing.T) {
	backend := &fakeBackend{}
	exec := newExecutor(backend)
	spec, err := exec.Translator().TranslateTool(json.RawMessage(`{"where": [{"field": "stock", "op": "gt", "value": 5}], "q": "dune"}`))
	require.NoError(t, err)

	for _, shape := range []domain.ResultShape{domain.ShapeRows, domain.ShapeCount, domain.ShapeAggregate} {
		spec.Shape = shape
		_, err := exec.Execute(context.Background(), booksEntity(), spec)
		require.NoError(t, err)
	}
	require.Len(t, backend.plans, 3)
	for _, plan := range backend.plans[1:] {
		require.Equal(t, backend.plans[0].Predicate, plan.Predicate)
	}
}

func TestExecutor_GetNotFound(t *testing.T) {
	exec := newExecutor(&fakeBackend{})
	_, err := exec.Get(context.Background(), booksEntity(), json.RawMessage(`{"ID": 404}`))
	require.ErrorIs(t, err, domain.ErrEntityNotFound)

	_, err = exec.Get(context.Background(), booksEntity(), json.RawMessage(`{}`))
	require.ErrorIs(t, err, domain.ErrValidation)
	require.Contains(t, err.Error(), `missing key "ID"`)
}

func TestExecutor_CreateGeneratesUUIDKey(t *testing.T) {
	entity := &domain.EntityModel{
		Name:      "S.Notes",
		LocalName: "Notes",
		Table:     "S_Notes",
		Keys:      []domain.KeyField{{Name: "ID", Type: "cds.UUID", Kind: domain.ValueUUID}},
		Columns: []domain.Column{
			{Name: "ID", Type: "cds.UUID", Kind: domain.ValueUUID, Key: true, NotNull: true},
			{Name: "text", Type: "cds.String", Kind: domain.ValueString, NotNull: true},
			{Name: "internal", Type: "cds.String", Kind: domain.ValueString, Omitted: true},
			{Name: "createdAt", Type: "cds.Timestamp", Kind: domain.ValueDateTime, Computed: true},
		},
	}
	backend := &fakeBackend{}
	exec := newExecutor(backend)

	row, err := exec.Create(context.Background(), entity, json.RawMessage(`{"text": "hello"}`))
	require.NoError(t, err)
	require.Len(t, backend.inserted, 1)
	id, ok := backend.inserted[0]["ID"].(string)
	require.True(t, ok)
	_, err = uuid.Parse(id)
	require.NoError(t, err)
	require.Equal(t, id, row["ID"])

	_, err = exec.Create(context.Background(), entity, json.RawMessage(`{"text": "x", "internal": "nope"}`))
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = exec.Create(context.Background(), entity, json.RawMessage(`{"text": "x", "createdAt": "2024-01-01T00:00:00Z"}`))
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = exec.Create(context.Background(), entity, json.RawMessage(`{}`))
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = exec.Create(context.Background(), entity, json.RawMessage(`{"ID": "nope", "text": "x"}`))
	require.ErrorIs(t, err, domain.ErrTypeMismatch)
}

func TestExecutor_UpdateAndDelete(t *testing.T) {
	backend := &fakeBackend{rows: []domain.Row{{"ID": int64(1), "title": "Dune", "stock": int64(3)}}}
	exec := newExecutor(backend)
	ctx := context.Background()

	row, err := exec.Update(ctx, booksEntity(), json.RawMessage(`{"ID": 1, "stock": 9}`))
	require.NoError(t, err)
	require.Equal(t, int64(9), row["stock"])

	_, err = exec.Update(ctx, booksEntity(), json.RawMessage(`{"ID": 1}`))
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = exec.Update(ctx, booksEntity(), json.RawMessage(`{"ID": 2, "stock": 1}`))
	require.ErrorIs(t, err, domain.ErrEntityNotFound)

	keys, err := exec.Delete(ctx, booksEntity(), json.RawMessage(`{"ID": 1}`))
	require.NoError(t, err)
	require.Equal(t, domain.Row{"ID": int64(1)}, keys)

	_, err = exec.Delete(ctx, booksEntity(), json.RawMessage(`{"ID": 1}`))
	require.ErrorIs(t, err, domain.ErrEntityNotFound)
}

func TestExecutor_BackendErrorsAreSanitized(t *testing.T) {
	cause := errors.New("no such table: CatalogService_Books")
	exec := newExecutor(&fakeBackend{readErr: cause})

	_, err := exec.Execute(context.Background(), booksEntity(), domain.QuerySpec{})
	require.Error(t, err)
	code, ok := domain.CodeFrom(err)
	require.True(t, ok)
	require.Equal(t, domain.CodeBackend, code)
	require.ErrorIs(t, err, cause)

	protocol := domain.ToProtocolError(err)
	require.Equal(t, domain.ErrCodeInternal, protocol.Code)
	require.NotContains(t, protocol.Message, "no such table")
}

func TestExecutor_Invoke(t *testing.T) {
	backend := &fakeBackend{}
	exec := newExecutor(backend)
	op := &domain.OperationModel{
		Name: "CatalogService.submitOrder",
		Kind: domain.KindAction,
		Params: []domain.Column{
			{Name: "book", Kind: domain.ValueInteger, NotNull: true},
			{Name: "quantity", Kind: domain.ValueInteger},
		},
	}

	out, err := exec.Invoke(context.Background(), op, json.RawMessage(`{"book": 7, "quantity": 2}`))
	require.NoError(t, err)
	require.Equal(t, map[string]any{"ok": true}, out)
	require.Equal(t, map[string]any{"book": int64(7), "quantity": int64(2)}, backend.invoked)

	_, err = exec.Invoke(context.Background(), op, json.RawMessage(`{"quantity": 2}`))
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = exec.Invoke(context.Background(), op, json.RawMessage(`{"book": 1, "extra": true}`))
	require.ErrorIs(t, err, domain.ErrValidation)
}
