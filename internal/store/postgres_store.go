package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/joshgroeneveld/forklift/internal/model"
)

// PostgresStore implements DatasetStore for PostgreSQL/PostGIS. Datasets are
// schema-qualified tables; geometry travels as well-known text at the API
// boundary.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger

	mu      sync.Mutex
	session SessionOptions
}

// NewPostgresStore creates a new PostgreSQL dataset store
func NewPostgresStore(
	host string,
	port int,
	database, user, password string,
	maxConns, minConns int,
	logger *zap.Logger,
) (*PostgresStore, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s pool_max_conns=%d pool_min_conns=%d",
		host, port, database, user, password, maxConns, minConns,
	)

	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close releases the connection pool
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// OpenSession records the per-run session options
func (s *PostgresStore) OpenSession(ctx context.Context, opts SessionOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = opts
	return nil
}

// CloseSession resets session state to its defaults
func (s *PostgresStore) CloseSession(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = SessionOptions{}
	return nil
}

func (s *PostgresStore) transformation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Transformation
}

// Exists reports whether the dataset's table exists
func (s *PostgresStore) Exists(ctx context.Context, dataset string) (bool, error) {
	workspace, name := SplitPath(dataset)

	query := `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = $1 AND table_name = $2
		)
	`

	var exists bool
	if err := s.pool.QueryRow(ctx, query, workspace, name).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check existence of %s: %w", dataset, err)
	}

	return exists, nil
}

// ListFields returns the dataset's fields in ordinal position order
func (s *PostgresStore) ListFields(ctx context.Context, dataset string) ([]model.Field, error) {
	workspace, name := SplitPath(dataset)

	query := `
		SELECT column_name, data_type, udt_name, COALESCE(character_maximum_length, 0)
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position
	`

	rows, err := s.pool.Query(ctx, query, workspace, name)
	if err != nil {
		return nil, fmt.Errorf("failed to list fields of %s: %w", dataset, err)
	}
	defer rows.Close()

	fields := make([]model.Field, 0)
	for rows.Next() {
		var columnName, dataType, udtName string
		var length int
		if err := rows.Scan(&columnName, &dataType, &udtName, &length); err != nil {
			return nil, err
		}
		fields = append(fields, model.Field{
			Name:   columnName,
			Type:   fieldTypeFromPg(dataType, udtName),
			Length: length,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%s: %w", dataset, ErrNotFound)
	}

	return fields, nil
}

// Describe returns the dataset's geometry kind, coordinate system and format
func (s *PostgresStore) Describe(ctx context.Context, dataset string) (*DatasetInfo, error) {
	workspace, name := SplitPath(dataset)

	var tableType string
	err := s.pool.QueryRow(ctx, `
		SELECT table_type FROM information_schema.tables
		WHERE table_schema = $1 AND table_name = $2
	`, workspace, name).Scan(&tableType)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", dataset, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to describe %s: %w", dataset, err)
	}

	info := &DatasetInfo{Format: FormatTable}
	if strings.Contains(tableType, "FOREIGN") {
		info.Format = FormatForeign
	}

	err = s.pool.QueryRow(ctx, `
		SELECT type, srid FROM geometry_columns
		WHERE f_table_schema = $1 AND f_table_name = $2 AND f_geometry_column = $3
	`, workspace, name, GeometryField).Scan(&info.GeometryKind, &info.SRID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to describe geometry of %s: %w", dataset, err)
	}

	return info, nil
}

// CreateDataset creates a new table, copying non-managed fields from the
// template when one is given. Every dataset gets a store-assigned identifier
// column.
func (s *PostgresStore) CreateDataset(ctx context.Context, opts CreateOptions) error {
	if _, err := s.pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{opts.Workspace}.Sanitize()); err != nil {
		return fmt.Errorf("failed to create workspace %s: %w", opts.Workspace, err)
	}

	columns := []string{pgx.Identifier{ObjectIDField}.Sanitize() + " BIGSERIAL PRIMARY KEY"}

	if opts.Template != "" {
		templateFields, err := s.ListFields(ctx, opts.Template)
		if err != nil {
			return fmt.Errorf("failed to read template %s: %w", opts.Template, err)
		}
		for _, f := range templateFields {
			if f.Type == model.FieldTypeGeometry || strings.EqualFold(f.Name, ObjectIDField) {
				continue
			}
			columns = append(columns, pgx.Identifier{f.Name}.Sanitize()+" "+pgColumnType(f))
		}
	}

	if opts.GeometryKind != "" {
		columns = append(columns, fmt.Sprintf("%s geometry(%s, %d)",
			pgx.Identifier{GeometryField}.Sanitize(), opts.GeometryKind, opts.SRID))
	}

	for _, f := range opts.ExtraFields {
		columns = append(columns, pgx.Identifier{f.Name}.Sanitize()+" "+pgColumnType(f))
	}

	table := pgx.Identifier{opts.Workspace, opts.Name}.Sanitize()
	ddl := fmt.Sprintf("CREATE TABLE %s (%s)", table, strings.Join(columns, ", "))

	s.logger.Debug("Creating dataset",
		zap.String("workspace", opts.Workspace),
		zap.String("name", opts.Name),
		zap.String("template", opts.Template),
		zap.String("geometry_kind", opts.GeometryKind))

	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create dataset %s.%s: %w", opts.Workspace, opts.Name, err)
	}

	return nil
}

// DeleteDataset drops the dataset's table
func (s *PostgresStore) DeleteDataset(ctx context.Context, dataset string) error {
	workspace, name := SplitPath(dataset)
	_, err := s.pool.Exec(ctx, "DROP TABLE IF EXISTS "+pgx.Identifier{workspace, name}.Sanitize())
	if err != nil {
		return fmt.Errorf("failed to delete dataset %s: %w", dataset, err)
	}
	return nil
}

// Truncate removes all records from the dataset
func (s *PostgresStore) Truncate(ctx context.Context, dataset string) error {
	workspace, name := SplitPath(dataset)
	_, err := s.pool.Exec(ctx, "TRUNCATE TABLE "+pgx.Identifier{workspace, name}.Sanitize())
	if err != nil {
		return fmt.Errorf("failed to truncate %s: %w", dataset, err)
	}
	return nil
}

// ReadSequential streams records, surfacing the geometry column as
// well-known text
func (s *PostgresStore) ReadSequential(ctx context.Context, dataset string, fields []string, filter *model.KeySet, orderBy string) (RecordCursor, error) {
	workspace, name := SplitPath(dataset)

	selects := make([]string, 0, len(fields))
	for _, f := range fields {
		if f == GeometryField {
			selects = append(selects, fmt.Sprintf("ST_AsText(%s) AS %s",
				pgx.Identifier{GeometryField}.Sanitize(), pgx.Identifier{GeometryField}.Sanitize()))
			continue
		}
		selects = append(selects, pgx.Identifier{f}.Sanitize())
	}

	query := fmt.Sprintf("SELECT %s FROM %s",
		strings.Join(selects, ", "), pgx.Identifier{workspace, name}.Sanitize())

	var args []any
	if filter != nil {
		query += fmt.Sprintf(" WHERE %s::text = ANY($1)", pgx.Identifier{filter.Field}.Sanitize())
		args = append(args, filter.Values)
	}
	if orderBy != "" {
		query += " ORDER BY " + pgx.Identifier{orderBy}.Sanitize()
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dataset, err)
	}

	return &pgCursor{rows: rows}, nil
}

// Begin starts a transaction. The workspace parameter is part of the store
// contract; a PostgreSQL transaction spans the whole database.
func (s *PostgresStore) Begin(ctx context.Context, workspace string) (Transaction, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &pgTransaction{tx: tx}, nil
}

// Insert appends one record and returns the assigned identifier
func (s *PostgresStore) Insert(ctx context.Context, tx Transaction, dataset string, fields []string, values []any) (string, error) {
	if len(fields) != len(values) {
		return "", fmt.Errorf("field/value count mismatch: %d != %d", len(fields), len(values))
	}

	workspace, name := SplitPath(dataset)
	columns := make([]string, 0, len(fields))
	placeholders := make([]string, 0, len(fields))
	for i, f := range fields {
		columns = append(columns, pgx.Identifier{f}.Sanitize())
		placeholder := fmt.Sprintf("$%d", i+1)
		if f == GeometryField {
			// column SRID looked up so WKT input lands in the right
			// coordinate system
			placeholder = fmt.Sprintf("ST_GeomFromText(%s, Find_SRID('%s', '%s', '%s'))",
				placeholder, workspace, name, GeometryField)
		}
		placeholders = append(placeholders, placeholder)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		pgx.Identifier{workspace, name}.Sanitize(),
		strings.Join(columns, ", "),
		strings.Join(placeholders, ", "),
		pgx.Identifier{ObjectIDField}.Sanitize())

	var id int64
	if err := s.rowQuerier(tx).QueryRow(ctx, query, values...).Scan(&id); err != nil {
		return "", fmt.Errorf("failed to insert into %s: %w", dataset, err)
	}

	return fmt.Sprintf("%d", id), nil
}

// DeleteWhere removes every record matching the key set
func (s *PostgresStore) DeleteWhere(ctx context.Context, tx Transaction, dataset string, filter *model.KeySet) error {
	workspace, name := SplitPath(dataset)

	query := fmt.Sprintf("DELETE FROM %s WHERE %s::text = ANY($1)",
		pgx.Identifier{workspace, name}.Sanitize(),
		pgx.Identifier{filter.Field}.Sanitize())

	if _, err := s.rowQuerier(tx).Exec(ctx, query, filter.Values); err != nil {
		return fmt.Errorf("failed to delete from %s: %w", dataset, err)
	}

	return nil
}

// Reproject copies the dataset with its geometry transformed to the target
// coordinate system and returns the copy's path
func (s *PostgresStore) Reproject(ctx context.Context, source string, targetSRID int, transformation string) (string, error) {
	workspace, name := SplitPath(source)
	target := Qualify(workspace, name+"_proj")

	fields, err := s.ListFields(ctx, source)
	if err != nil {
		return "", err
	}

	if transformation == "" {
		transformation = s.transformation()
	}

	selects := make([]string, 0, len(fields))
	for _, f := range fields {
		if f.Type == model.FieldTypeGeometry {
			transform := fmt.Sprintf("ST_Transform(%s, %d)", pgx.Identifier{f.Name}.Sanitize(), targetSRID)
			if transformation != "" {
				transform = fmt.Sprintf("ST_Transform(%s, $1, %d)", pgx.Identifier{f.Name}.Sanitize(), targetSRID)
			}
			selects = append(selects, transform+" AS "+pgx.Identifier{f.Name}.Sanitize())
			continue
		}
		selects = append(selects, pgx.Identifier{f.Name}.Sanitize())
	}

	if err := s.DeleteDataset(ctx, target); err != nil {
		return "", err
	}

	query := fmt.Sprintf("CREATE TABLE %s AS SELECT %s FROM %s",
		pgx.Identifier{workspace, name + "_proj"}.Sanitize(),
		strings.Join(selects, ", "),
		pgx.Identifier{workspace, name}.Sanitize())

	var args []any
	if transformation != "" {
		args = append(args, transformation)
	}

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return "", fmt.Errorf("failed to reproject %s: %w", source, err)
	}

	s.logger.Debug("Reprojected dataset",
		zap.String("source", source),
		zap.String("target", target),
		zap.Int("srid", targetSRID))

	return target, nil
}

// querier abstracts the pool and an open transaction
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresStore) rowQuerier(tx Transaction) querier {
	if tx == nil {
		return s.pool
	}
	return tx.(*pgTransaction).tx
}

// pgTransaction wraps a pgx transaction
type pgTransaction struct {
	tx pgx.Tx
}

func (t *pgTransaction) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *pgTransaction) Abort(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}

// pgCursor adapts pgx rows to the RecordCursor contract
type pgCursor struct {
	rows pgx.Rows
}

func (c *pgCursor) Next() bool {
	return c.rows.Next()
}

func (c *pgCursor) Values() ([]any, error) {
	return c.rows.Values()
}

func (c *pgCursor) Err() error {
	return c.rows.Err()
}

func (c *pgCursor) Close() {
	c.rows.Close()
}

// fieldTypeFromPg maps information_schema types onto the engine's field types
func fieldTypeFromPg(dataType, udtName string) model.FieldType {
	switch dataType {
	case "character varying", "character", "text":
		return model.FieldTypeText
	case "integer", "bigint":
		return model.FieldTypeInteger
	case "smallint":
		return model.FieldTypeSmallInteger
	case "double precision", "numeric":
		return model.FieldTypeDouble
	case "real":
		return model.FieldTypeSingle
	case "date", "timestamp without time zone", "timestamp with time zone":
		return model.FieldTypeDate
	case "uuid":
		return model.FieldTypeGUID
	case "USER-DEFINED":
		if udtName == "geometry" || udtName == "geography" {
			return model.FieldTypeGeometry
		}
	}
	return model.FieldTypeText
}

// pgColumnType renders a field's column type for DDL
func pgColumnType(f model.Field) string {
	switch f.Type {
	case model.FieldTypeText:
		if f.Length > 0 {
			return fmt.Sprintf("VARCHAR(%d)", f.Length)
		}
		return "TEXT"
	case model.FieldTypeInteger:
		return "BIGINT"
	case model.FieldTypeSmallInteger:
		return "SMALLINT"
	case model.FieldTypeDouble:
		return "DOUBLE PRECISION"
	case model.FieldTypeSingle:
		return "REAL"
	case model.FieldTypeDate:
		return "TIMESTAMPTZ"
	case model.FieldTypeGUID:
		return "UUID"
	default:
		return "TEXT"
	}
}
