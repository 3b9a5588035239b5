package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cdsmcp/internal/domain"
	"cdsmcp/internal/infra/capability"
	"cdsmcp/internal/infra/model"
	"cdsmcp/internal/infra/query"
)

const bookshopCSN = `{"definitions": {
  "CatalogService": {"kind": "service"},
  "CatalogService.Books": {
    "kind": "entity",
    "@mcp.resource": true,
    "@mcp.wrap": {"tools": true, "modes": ["query", "get", "create", "update", "delete"]},
    "elements": {
      "ID": {"type": "cds.Integer", "key": true},
      "title": {"type": "cds.String", "notNull": true},
      "stock": {"type": "cds.Integer"},
      "price": {"type": "cds.Decimal"},
      "available": {"type": "cds.Boolean"},
      "secret": {"type": "cds.String", "@mcp.omit": true},
      "author": {"type": "cds.Association", "target": "CatalogService.Authors"}
    }
  },
  "CatalogService.Authors": {
    "kind": "entity",
    "@mcp.resource": true,
    "elements": {"ID": {"type": "cds.UUID", "key": true}, "name": {"type": "cds.String"}}
  },
  "CatalogService.restock": {
    "kind": "action", "@mcp.tool": true,
    "params": {"book": {"type": "cds.Integer", "notNull": true}, "amount": {"type": "cds.Integer", "notNull": true}}
  }
}}`

func newCatalog(t *testing.T) *domain.Catalog {
	t.Helper()
	defs, err := model.NewLoader(zap.NewNop()).Decode([]byte(bookshopCSN))
	require.NoError(t, err)
	catalog, err := capability.NewBuilder(zap.NewNop(), capability.Options{}).Build(model.NewWalker(nil).Walk(defs), domain.WrapDefaults{})
	require.NoError(t, err)
	require.Empty(t, catalog.Diagnostics)
	return catalog
}

func newBackend(t *testing.T, catalog *domain.Catalog, dataDir string) *Backend {
	t.Helper()
	backend, err := New(Options{DSN: ":memory:", DataDir: dataDir}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	entities := make([]*domain.EntityModel, 0, len(catalog.Entities))
	for _, entity := range catalog.Entities {
		entities = append(entities, entity)
	}
	require.NoError(t, backend.Prepare(context.Background(), entities))
	return backend
}

func seedBooks(t *testing.T, backend *Backend, exec *query.Executor, books *domain.EntityModel) {
	t.Helper()
	for _, payload := range []string{
		`{"ID": 1, "title": "Wuthering Heights", "stock": 12, "price": 11.11, "available": true}`,
		`{"ID": 2, "title": "Jane Eyre", "stock": 11, "price": 12.34, "available": true}`,
		`{"ID": 3, "title": "The Raven", "stock": 333, "price": 13.13, "available": false}`,
		`{"ID": 4, "title": "Eleonora", "stock": 5, "price": 14, "available": true}`,
		`{"ID": 5, "title": "Catweazle", "stock": 22, "price": 150, "available": false}`,
	} {
		_, err := exec.Create(context.Background(), books, json.RawMessage(payload))
		require.NoError(t, err)
	}
	_, err := backend.DB().Exec(`UPDATE "CatalogService_Books" SET "secret" = 'classified'`)
	require.NoError(t, err)
}

func TestBackend_ShapesShareThePredicate(t *testing.T) {
	catalog := newCatalog(t)
	backend := newBackend(t, catalog, "")
	exec := query.NewExecutor(backend, query.NewTranslator(query.Options{}), zap.NewNop())
	books, _ := catalog.Entity("CatalogService.Books")
	seedBooks(t, backend, exec, books)
	ctx := context.Background()

	for _, args := range []string{
		`{"where": [{"field": "stock", "op": "gt", "value": 5}]}`,
		`{"where": [{"field": "stock", "op": "gt", "value": 5}], "q": "e"}`,
		`{"where": [{"field": "available", "op": "eq", "value": true}, {"field": "title", "op": "contains", "value": "E"}]}`,
		`{"where": [{"field": "ID", "op": "in", "value": [1, 3, 5]}]}`,
	} {
		spec, err := exec.Translator().TranslateTool(json.RawMessage(args))
		require.NoError(t, err)

		spec.Shape = domain.ShapeRows
		top := 1000
		spec.Top = &top
		rows, err := exec.Execute(ctx, books, spec)
		require.NoError(t, err)

		spec.Shape = domain.ShapeCount
		count, err := exec.Execute(ctx, books, spec)
		require.NoError(t, err)

		spec.Shape = domain.ShapeAggregate
		spec.Aggregations = []domain.Aggregation{{Function: domain.AggCount}, {Field: "stock", Function: domain.AggSum}}
		agg, err := exec.Execute(ctx, books, spec)
		require.NoError(t, err)

		require.Equal(t, int64(len(rows.Rows)), count.Count, args)
		require.Equal(t, count.Count, agg.Aggregates["count"], args)

		var sum int64
		for _, row := range rows.Rows {
			sum += row["stock"].(int64)
		}
		if count.Count > 0 {
			require.Equal(t, sum, agg.Aggregates["sum_stock"], args)
		}
	}

	spec, err := exec.Translator().TranslateTool(json.RawMessage(`{"where": [{"field": "stock", "op": "gt", "value": 5}], "return": "count"}`))
	require.NoError(t, err)
	count, err := exec.Execute(ctx, books, spec)
	require.NoError(t, err)
	require.Equal(t, int64(4), count.Count)
}

func TestBackend_PagingAndSorting(t *testing.T) {
	catalog := newCatalog(t)
	backend := newBackend(t, catalog, "")
	exec := query.NewExecutor(backend, query.NewTranslator(query.Options{}), zap.NewNop())
	books, _ := catalog.Entity("CatalogService.Books")
	seedBooks(t, backend, exec, books)

	spec, err := exec.Translator().TranslateTool(json.RawMessage(`{"orderby": "stock desc", "top": 2, "skip": 1, "select": ["ID", "stock"]}`))
	require.NoError(t, err)
	result, err := exec.Execute(context.Background(), books, spec)
	require.NoError(t, err)
	require.Equal(t, []domain.Row{
		{"ID": int64(5), "stock": int64(22)},
		{"ID": int64(1), "stock": int64(12)},
	}, result.Rows)
}

func TestBackend_OmittedFieldNeverReturned(t *testing.T) {
	catalog := newCatalog(t)
	backend := newBackend(t, catalog, "")
	exec := query.NewExecutor(backend, query.NewTranslator(query.Options{}), zap.NewNop())
	books, _ := catalog.Entity("CatalogService.Books")
	seedBooks(t, backend, exec, books)
	ctx := context.Background()

	result, err := exec.Execute(ctx, books, domain.QuerySpec{})
	require.NoError(t, err)
	require.Len(t, result.Rows, 5)
	for _, row := range result.Rows {
		require.NotContains(t, row, "secret")
		require.Contains(t, row, "author_ID")
	}

	row, err := exec.Get(ctx, books, json.RawMessage(`{"ID": 3}`))
	require.NoError(t, err)
	require.NotContains(t, row, "secret")
	require.Equal(t, false, row["available"])
	require.Equal(t, 13.13, row["price"])

	agg, err := exec.Execute(ctx, books, domain.QuerySpec{Shape: domain.ShapeAggregate, Aggregations: []domain.Aggregation{{Field: "price", Function: domain.AggMax}}})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"max_price": 150.0}, agg.Aggregates)

	_, err = exec.Execute(ctx, books, domain.QuerySpec{Select: []string{"secret"}})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestBackend_CRUD(t *testing.T) {
	catalog := newCatalog(t)
	backend := newBackend(t, catalog, "")
	exec := query.NewExecutor(backend, query.NewTranslator(query.Options{}), zap.NewNop())
	authors, _ := catalog.Entity("CatalogService.Authors")
	ctx := context.Background()

	created, err := exec.Create(ctx, authors, json.RawMessage(`{"name": "Emily Brontë"}`))
	require.NoError(t, err)
	id := created["ID"].(string)
	require.Len(t, id, 36)

	updated, err := exec.Update(ctx, authors, json.RawMessage(`{"ID": "`+id+`", "name": "Charlotte Brontë"}`))
	require.NoError(t, err)
	require.Equal(t, "Charlotte Brontë", updated["name"])

	_, err = exec.Create(ctx, authors, json.RawMessage(`{"ID": "`+id+`", "name": "dup"}`))
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = exec.Delete(ctx, authors, json.RawMessage(`{"ID": "`+id+`"}`))
	require.NoError(t, err)
	_, err = exec.Get(ctx, authors, json.RawMessage(`{"ID": "`+id+`"}`))
	require.ErrorIs(t, err, domain.ErrEntityNotFound)
}

func TestBackend_SeedFromCSV(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "CatalogService-Books.csv"), []byte(
		"ID;title;stock;available;unknown\n201;Wuthering Heights;12;true;x\n207;Jane Eyre;11;false;y\n"), 0o600))

	catalog := newCatalog(t)
	backend := newBackend(t, catalog, dir)
	exec := query.NewExecutor(backend, query.NewTranslator(query.Options{}), zap.NewNop())
	books, _ := catalog.Entity("CatalogService.Books")

	result, err := exec.Execute(context.Background(), books, domain.QuerySpec{Sort: []domain.SortKey{{Field: "ID"}}})
	require.NoError(t, err)
	require.Len(t, result.Rows, 2)
	require.Equal(t, int64(201), result.Rows[0]["ID"])
	require.Equal(t, true, result.Rows[0]["available"])
	require.Nil(t, result.Rows[0]["price"])
}

func TestBackend_InvokeOperation(t *testing.T) {
	catalog := newCatalog(t)
	backend := newBackend(t, catalog, "")
	exec := query.NewExecutor(backend, query.NewTranslator(query.Options{}), zap.NewNop())
	books, _ := catalog.Entity("CatalogService.Books")
	seedBooks(t, backend, exec, books)
	op := catalog.Operations["CatalogService.restock"]

	_, err := exec.Invoke(context.Background(), op, json.RawMessage(`{"book": 1, "amount": 3}`))
	require.ErrorIs(t, err, domain.ErrNotImplemented)

	backend.RegisterOperation("CatalogService.restock", func(ctx context.Context, db *sql.DB, args map[string]any) (any, error) {
		_, err := db.ExecContext(ctx, `UPDATE "CatalogService_Books" SET "stock" = "stock" + ? WHERE "ID" = ?`, args["amount"], args["book"])
		return map[string]any{"restocked": args["book"]}, err
	})
	out, err := exec.Invoke(context.Background(), op, json.RawMessage(`{"book": 1, "amount": 3}`))
	require.NoError(t, err)
	require.Equal(t, map[string]any{"restocked": int64(1)}, out)

	row, err := exec.Get(context.Background(), books, json.RawMessage(`{"ID": 1}`))
	require.NoError(t, err)
	require.Equal(t, int64(15), row["stock"])
}

func TestBackend_ConcurrentReads(t *testing.T) {
	catalog := newCatalog(t)
	backend := newBackend(t, catalog, "")
	exec := query.NewExecutor(backend, query.NewTranslator(query.Options{}), zap.NewNop())
	books, _ := catalog.Entity("CatalogService.Books")
	seedBooks(t, backend, exec, books)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := exec.Execute(context.Background(), books, domain.QuerySpec{Shape: domain.ShapeCount})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}

func TestCreateTableSQL(t *testing.T) {
	entity := &domain.EntityModel{
		Table: "S_Lines",
		Keys:  []domain.KeyField{{Name: "invoice_ID"}, {Name: "pos"}},
		Columns: []domain.Column{
			{Name: "invoice_ID", Kind: domain.ValueUUID, Key: true, NotNull: true},
			{Name: "pos", Kind: domain.ValueInteger, Key: true, NotNull: true},
			{Name: "qty", Kind: domain.ValueNumber, NotNull: true},
		},
	}
	require.Equal(t,
		`CREATE TABLE IF NOT EXISTS "S_Lines" ("invoice_ID" TEXT, "pos" INTEGER, "qty" REAL NOT NULL, PRIMARY KEY ("invoice_ID", "pos"))`,
		CreateTableSQL(entity))
	require.Equal(t, []string{"S-Lines.csv", "S_Lines.csv"}, SeedFileNames(&domain.EntityModel{Name: "S.Lines", Table: "S_Lines"}))
}

func TestCompileWhere_SearchWithoutColumnsMatchesNothing(t *testing.T) {
	where, args, err := compileWhere(domain.Predicate{Search: "widgets"})
	require.NoError(t, err)
	require.Equal(t, " WHERE 0 = 1", where)
	require.Empty(t, args)

	where, args, err = compileWhere(domain.Predicate{
		Conditions:    []domain.FilterCondition{{Field: "stock", Operator: domain.OpGt, Value: 5}},
		Search:        "raven",
		SearchColumns: []string{"title"},
	})
	require.NoError(t, err)
	require.Equal(t, ` WHERE "stock" > ? AND ("title" LIKE ? ESCAPE '\')`, where)
	require.Len(t, args, 2)
}

func TestBackend_CancelledFirstCallerDoesNotPoisonSetup(t *testing.T) {
	catalog := newCatalog(t)
	backend, err := New(Options{DSN: ":memory:"}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	books, _ := catalog.Entity("CatalogService.Books")
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, backend.Prepare(cancelled, []*domain.EntityModel{books}))

	exec := query.NewExecutor(backend, query.NewTranslator(query.Options{}), zap.NewNop())
	_, err = exec.Create(context.Background(), books, json.RawMessage(`{"ID": 1, "title": "Emma"}`))
	require.NoError(t, err)
	result, err := exec.Execute(context.Background(), books, domain.QuerySpec{Shape: domain.ShapeCount})
	require.NoError(t, err)
	require.Equal(t, int64(1), result.Count)
}

func TestConstraintError_NotNullField(t *testing.T) {
	cases := map[string]string{
		"constraint failed: NOT NULL constraint failed: CatalogService_Books.title (1299)": "title",
		"NOT NULL constraint failed: CatalogService_Books.title":                           "title",
		"NOT NULL constraint failed: title (1299)":                                         "title",
	}
	for msg, field := range cases {
		err := constraintError("sqlite.insert", errors.New(msg))
		require.ErrorIs(t, err, domain.ErrValidation, msg)
		var domainErr *domain.Error
		require.True(t, errors.As(err, &domainErr), msg)
		require.Equal(t, field, domainErr.Meta[domain.MetaField], msg)
		require.Equal(t, `field "title" must not be null`, domainErr.Message, msg)
	}
}
