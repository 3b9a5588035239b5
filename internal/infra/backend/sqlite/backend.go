package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"cdsmcp/internal/domain"
)

// OperationHandler implements a function or action against the database.
type OperationHandler func(ctx context.Context, db *sql.DB, args map[string]any) (any, error)

// Options configures the backend.
type Options struct {
	// DSN is a modernc sqlite data source; ":memory:" keeps data in process.
	DSN string
	// DataDir holds CSV seed files named <Namespace>-<Entity>.csv.
	DataDir string
}

// Backend is a domain.Backend over SQLite. Tables are created from the
// catalog's entity models on first use.
type Backend struct {
	db     *sql.DB
	opts   Options
	logger *zap.Logger

	initOnce sync.Once
	initErr  error
	pending  []*domain.EntityModel

	mu         sync.RWMutex
	tables     map[string]struct{}
	operations map[string]OperationHandler
}

func New(opts Options, logger *zap.Logger) (*Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dsn := strings.TrimSpace(opts.DSN)
	if dsn == "" {
		dsn = domain.DefaultDatabase
	}
	opts.DSN = dsn

	memory := dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
	if !memory {
		path := strings.TrimPrefix(strings.SplitN(dsn, "?", 2)[0], "file:")
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if memory {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	return &Backend{
		db:         db,
		opts:       opts,
		logger:     logger.Named("sqlite"),
		tables:     map[string]struct{}{},
		operations: map[string]OperationHandler{},
	}, nil
}

// DB exposes the underlying handle for operation handlers and tests.
func (b *Backend) DB() *sql.DB {
	return b.db
}

// Close releases the database.
func (b *Backend) Close() error {
	return b.db.Close()
}

// Prepare records the entities whose tables are created on first use.
// Calls after initialization create missing tables immediately.
func (b *Backend) Prepare(ctx context.Context, entities []*domain.EntityModel) error {
	b.mu.Lock()
	b.pending = append(b.pending, entities...)
	b.mu.Unlock()
	if err := b.ensure(ctx); err != nil {
		return err
	}
	return b.migrate(ctx)
}

// ensure runs the one-time schema setup. Every caller waits on the same
// initialization and observes the same error, so the first caller's
// cancellation must not become that error.
func (b *Backend) ensure(ctx context.Context) error {
	b.initOnce.Do(func() {
		b.initErr = b.migrate(context.WithoutCancel(ctx))
	})
	return b.initErr
}

func (b *Backend) migrate(ctx context.Context) error {
	b.mu.Lock()
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()

	for _, entity := range pending {
		b.mu.RLock()
		_, exists := b.tables[entity.Table]
		b.mu.RUnlock()
		if exists {
			continue
		}
		if err := b.createTable(ctx, entity); err != nil {
			return err
		}
		if err := b.seed(ctx, entity); err != nil {
			return err
		}
		b.mu.Lock()
		b.tables[entity.Table] = struct{}{}
		b.mu.Unlock()
	}
	return nil
}

// RegisterOperation binds a handler to a qualified function or action name.
func (b *Backend) RegisterOperation(name string, handler OperationHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.operations[name] = handler
}

// Invoke dispatches to a registered operation handler.
func (b *Backend) Invoke(ctx context.Context, op *domain.OperationModel, args map[string]any) (any, error) {
	if err := b.ensure(ctx); err != nil {
		return nil, err
	}
	b.mu.RLock()
	handler, ok := b.operations[op.Name]
	b.mu.RUnlock()
	if !ok {
		return nil, domain.E(domain.CodeNotImplemented, "sqlite.invoke",
			fmt.Sprintf("%s %s has no handler", op.Kind, op.Name), domain.ErrNotImplemented)
	}
	return handler(ctx, b.db, args)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// constraintError maps SQLite constraint failures to client errors.
func constraintError(op string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"), strings.Contains(msg, "PRIMARY KEY"):
		return domain.E(domain.CodeInvalidArgument, op, "a record with this key already exists", domain.ErrValidation)
	case strings.Contains(msg, "NOT NULL constraint failed"):
		field := notNullField(msg)
		return domain.ValidationError(op, field, fmt.Sprintf("field %q must not be null", field))
	}
	return err
}

// notNullField extracts the column from "NOT NULL constraint failed:
// Table.col (1299)".
func notNullField(msg string) string {
	_, rest, _ := strings.Cut(msg, "NOT NULL constraint failed:")
	rest = strings.TrimSpace(rest)
	if idx := strings.IndexByte(rest, ' '); idx >= 0 {
		rest = rest[:idx]
	}
	return rest[strings.LastIndex(rest, ".")+1:]
}
