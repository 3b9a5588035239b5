package sqlite

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"cdsmcp/internal/domain"
)

func sqlType(kind domain.ValueKind) string {
	switch kind {
	case domain.ValueInteger, domain.ValueBoolean:
		return "INTEGER"
	case domain.ValueNumber:
		return "REAL"
	default:
		return "TEXT"
	}
}

// CreateTableSQL renders the DDL for an entity. Omitted columns are stored;
// they are only hidden from clients.
func CreateTableSQL(entity *domain.EntityModel) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(quoteIdent(entity.Table))
	b.WriteString(" (")
	for i, col := range entity.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quoteIdent(col.Name))
		b.WriteString(" ")
		b.WriteString(sqlType(col.Kind))
		if col.NotNull && !col.Key {
			b.WriteString(" NOT NULL")
		}
	}
	if keys := entity.KeyNames(); len(keys) > 0 {
		quoted := make([]string, 0, len(keys))
		for _, key := range keys {
			quoted = append(quoted, quoteIdent(key))
		}
		b.WriteString(", PRIMARY KEY (")
		b.WriteString(strings.Join(quoted, ", "))
		b.WriteString(")")
	}
	b.WriteString(")")
	return b.String()
}

func (b *Backend) createTable(ctx context.Context, entity *domain.EntityModel) error {
	if len(entity.Columns) == 0 {
		return fmt.Errorf("entity %s has no storable columns", entity.Name)
	}
	if _, err := b.db.ExecContext(ctx, CreateTableSQL(entity)); err != nil {
		return fmt.Errorf("create table %s: %w", entity.Table, err)
	}
	b.logger.Debug("table ready", zap.String("table", entity.Table))
	return nil
}

// SeedFileNames lists the candidate CSV names for an entity:
// "<Namespace>-<Entity>.csv" and "<Table>.csv".
func SeedFileNames(entity *domain.EntityModel) []string {
	names := []string{}
	if idx := strings.LastIndex(entity.Name, "."); idx > 0 {
		names = append(names, entity.Name[:idx]+"-"+entity.Name[idx+1:]+".csv")
	}
	return append(names, entity.Table+".csv")
}

// seed loads CSV rows into an empty table.
func (b *Backend) seed(ctx context.Context, entity *domain.EntityModel) error {
	if b.opts.DataDir == "" {
		return nil
	}
	var path string
	for _, name := range SeedFileNames(entity) {
		candidate := filepath.Join(b.opts.DataDir, name)
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
			break
		}
	}
	if path == "" {
		return nil
	}

	var existing int64
	if err := b.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(entity.Table)).Scan(&existing); err != nil {
		return fmt.Errorf("count %s: %w", entity.Table, err)
	}
	if existing > 0 {
		return nil
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open seed %s: %w", path, err)
	}
	defer file.Close()

	count, err := b.loadCSV(ctx, entity, file)
	if err != nil {
		return fmt.Errorf("seed %s from %s: %w", entity.Table, filepath.Base(path), err)
	}
	b.logger.Info("seeded table", zap.String("table", entity.Table), zap.Int("rows", count))
	return nil
}

func (b *Backend) loadCSV(ctx context.Context, entity *domain.EntityModel, r io.Reader) (int, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	text := strings.TrimPrefix(string(data), "\ufeff")
	firstLine := text
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		firstLine = text[:idx]
	}

	reader := csv.NewReader(strings.NewReader(text))
	if strings.Count(firstLine, ";") > strings.Count(firstLine, ",") {
		reader.Comma = ';'
	}
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil
		}
		return 0, err
	}
	columns := make([]*domain.Column, len(header))
	for i, name := range header {
		col, ok := entity.Column(strings.TrimSpace(name))
		if !ok {
			b.logger.Warn("ignore unknown seed column", zap.String("table", entity.Table), zap.String("column", name))
			continue
		}
		columns[i] = &col
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	count := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, err
		}
		values := domain.Row{}
		for i, raw := range record {
			if i >= len(columns) || columns[i] == nil || raw == "" {
				continue
			}
			value, err := parseSeedValue(*columns[i], raw)
			if err != nil {
				return 0, fmt.Errorf("line %d: %w", count+2, err)
			}
			values[columns[i].Name] = value
		}
		query, args := insertSQL(entity, values)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return 0, fmt.Errorf("line %d: %w", count+2, err)
		}
		count++
	}
	return count, tx.Commit()
}

func parseSeedValue(col domain.Column, raw string) (any, error) {
	switch col.Kind {
	case domain.ValueInteger:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("column %s: %q is not an integer", col.Name, raw)
		}
		return n, nil
	case domain.ValueNumber:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("column %s: %q is not a number", col.Name, raw)
		}
		return f, nil
	case domain.ValueBoolean:
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("column %s: %q is not a boolean", col.Name, raw)
		}
		return v, nil
	default:
		return raw, nil
	}
}
