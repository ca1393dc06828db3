package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/joshgroeneveld/forklift/internal/model"
)

// MemoryStore implements DatasetStore with in-process maps. It backs small
// jobs and the engine's tests. Reprojection is a marker operation: the copy
// records the target coordinate system but geometry text is carried over
// unchanged.
type MemoryStore struct {
	mu       sync.Mutex
	datasets map[string]*memoryDataset
	session  SessionOptions
}

type memoryDataset struct {
	fields []model.Field
	info   DatasetInfo
	rows   []map[string]any
}

// NewMemoryStore creates an empty in-memory dataset store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{datasets: make(map[string]*memoryDataset)}
}

// OpenSession records the per-run session options
func (s *MemoryStore) OpenSession(ctx context.Context, opts SessionOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = opts
	return nil
}

// CloseSession resets session state
func (s *MemoryStore) CloseSession(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = SessionOptions{}
	return nil
}

// Exists reports whether the dataset exists
func (s *MemoryStore) Exists(ctx context.Context, dataset string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.datasets[dataset]
	return ok, nil
}

// ListFields returns the dataset's declared fields
func (s *MemoryStore) ListFields(ctx context.Context, dataset string) ([]model.Field, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, ok := s.datasets[dataset]
	if !ok {
		return nil, fmt.Errorf("%s: %w", dataset, ErrNotFound)
	}
	fields := make([]model.Field, len(ds.fields))
	copy(fields, ds.fields)
	return fields, nil
}

// Describe returns the dataset's geometry kind, coordinate system and format
func (s *MemoryStore) Describe(ctx context.Context, dataset string) (*DatasetInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, ok := s.datasets[dataset]
	if !ok {
		return nil, fmt.Errorf("%s: %w", dataset, ErrNotFound)
	}
	info := ds.info
	return &info, nil
}

// SetFormat overrides the dataset's format kind
func (s *MemoryStore) SetFormat(dataset, format string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ds, ok := s.datasets[dataset]; ok {
		ds.info.Format = format
	}
}

// CreateDataset creates a dataset, copying non-managed fields from the
// template when one is given
func (s *MemoryStore) CreateDataset(ctx context.Context, opts CreateOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := Qualify(opts.Workspace, opts.Name)
	if _, ok := s.datasets[path]; ok {
		return fmt.Errorf("dataset %s already exists", path)
	}

	ds := &memoryDataset{
		info: DatasetInfo{Format: FormatTable, GeometryKind: opts.GeometryKind, SRID: opts.SRID},
	}

	ds.fields = append(ds.fields, model.Field{Name: ObjectIDField, Type: model.FieldTypeText, Length: 50})

	if opts.Template != "" {
		template, ok := s.datasets[opts.Template]
		if !ok {
			return fmt.Errorf("template %s: %w", opts.Template, ErrNotFound)
		}
		for _, f := range template.fields {
			if f.Type == model.FieldTypeGeometry || strings.EqualFold(f.Name, ObjectIDField) {
				continue
			}
			ds.fields = append(ds.fields, f)
		}
	}

	if opts.GeometryKind != "" {
		ds.fields = append(ds.fields, model.Field{Name: GeometryField, Type: model.FieldTypeGeometry})
	}

	ds.fields = append(ds.fields, opts.ExtraFields...)

	s.datasets[path] = ds
	return nil
}

// DeleteDataset removes the dataset
func (s *MemoryStore) DeleteDataset(ctx context.Context, dataset string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.datasets, dataset)
	return nil
}

// Truncate removes all records
func (s *MemoryStore) Truncate(ctx context.Context, dataset string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, ok := s.datasets[dataset]
	if !ok {
		return fmt.Errorf("%s: %w", dataset, ErrNotFound)
	}
	ds.rows = nil
	return nil
}

// ReadSequential streams records ordered by the given field and filtered to
// the key set
func (s *MemoryStore) ReadSequential(ctx context.Context, dataset string, fields []string, filter *model.KeySet, orderBy string) (RecordCursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ds, ok := s.datasets[dataset]
	if !ok {
		return nil, fmt.Errorf("%s: %w", dataset, ErrNotFound)
	}

	matched := make([]map[string]any, 0, len(ds.rows))
	for _, row := range ds.rows {
		if filter != nil && !filter.Contains(stringify(row[filter.Field])) {
			continue
		}
		matched = append(matched, row)
	}

	if orderBy != "" {
		sort.SliceStable(matched, func(i, j int) bool {
			return compareValues(matched[i][orderBy], matched[j][orderBy]) < 0
		})
	}

	records := make([][]any, 0, len(matched))
	for _, row := range matched {
		values := make([]any, len(fields))
		for i, f := range fields {
			values[i] = row[f]
		}
		records = append(records, values)
	}

	return &memoryCursor{records: records, pos: -1}, nil
}

// Begin snapshots the store; Abort restores the snapshot, Commit discards it
func (s *MemoryStore) Begin(ctx context.Context, workspace string) (Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make(map[string]*memoryDataset, len(s.datasets))
	for path, ds := range s.datasets {
		snapshot[path] = ds.clone()
	}

	return &memoryTransaction{store: s, snapshot: snapshot}, nil
}

// Insert appends one record and returns a freshly assigned identifier
func (s *MemoryStore) Insert(ctx context.Context, tx Transaction, dataset string, fields []string, values []any) (string, error) {
	if len(fields) != len(values) {
		return "", fmt.Errorf("field/value count mismatch: %d != %d", len(fields), len(values))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ds, ok := s.datasets[dataset]
	if !ok {
		return "", fmt.Errorf("%s: %w", dataset, ErrNotFound)
	}

	id := uuid.NewString()
	row := map[string]any{ObjectIDField: id}
	for i, f := range fields {
		row[f] = values[i]
	}
	ds.rows = append(ds.rows, row)

	return id, nil
}

// DeleteWhere removes every record matching the key set
func (s *MemoryStore) DeleteWhere(ctx context.Context, tx Transaction, dataset string, filter *model.KeySet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ds, ok := s.datasets[dataset]
	if !ok {
		return fmt.Errorf("%s: %w", dataset, ErrNotFound)
	}

	kept := ds.rows[:0]
	for _, row := range ds.rows {
		if filter.Contains(stringify(row[filter.Field])) {
			continue
		}
		kept = append(kept, row)
	}
	ds.rows = kept

	return nil
}

// Reproject copies the dataset under a _proj suffix, recording the target
// coordinate system
func (s *MemoryStore) Reproject(ctx context.Context, source string, targetSRID int, transformation string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ds, ok := s.datasets[source]
	if !ok {
		return "", fmt.Errorf("%s: %w", source, ErrNotFound)
	}

	target := source + "_proj"
	projected := ds.clone()
	projected.info.SRID = targetSRID
	s.datasets[target] = projected

	return target, nil
}

// Rows returns a copy of the dataset's records, for inspection in tests
func (s *MemoryStore) Rows(dataset string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	ds, ok := s.datasets[dataset]
	if !ok {
		return nil
	}
	rows := make([]map[string]any, 0, len(ds.rows))
	for _, row := range ds.rows {
		rows = append(rows, cloneRow(row))
	}
	return rows
}

func (d *memoryDataset) clone() *memoryDataset {
	c := &memoryDataset{info: d.info}
	c.fields = make([]model.Field, len(d.fields))
	copy(c.fields, d.fields)
	c.rows = make([]map[string]any, 0, len(d.rows))
	for _, row := range d.rows {
		c.rows = append(c.rows, cloneRow(row))
	}
	return c
}

func cloneRow(row map[string]any) map[string]any {
	c := make(map[string]any, len(row))
	for k, v := range row {
		c[k] = v
	}
	return c
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// compareValues orders numerically when both values parse as numbers,
// lexically otherwise
func compareValues(a, b any) int {
	as, bs := stringify(a), stringify(b)
	af, aerr := strconv.ParseFloat(as, 64)
	bf, berr := strconv.ParseFloat(bs, 64)
	if aerr == nil && berr == nil {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(as, bs)
}

// memoryTransaction restores a whole-store snapshot on abort
type memoryTransaction struct {
	store    *MemoryStore
	snapshot map[string]*memoryDataset
	done     bool
}

func (t *memoryTransaction) Commit(ctx context.Context) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if t.done {
		return fmt.Errorf("transaction already closed")
	}
	t.done = true
	t.snapshot = nil
	return nil
}

func (t *memoryTransaction) Abort(ctx context.Context) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if t.done {
		return fmt.Errorf("transaction already closed")
	}
	t.done = true
	t.store.datasets = t.snapshot
	t.snapshot = nil
	return nil
}

// memoryCursor iterates a materialized record slice
type memoryCursor struct {
	records [][]any
	pos     int
}

func (c *memoryCursor) Next() bool {
	c.pos++
	return c.pos < len(c.records)
}

func (c *memoryCursor) Values() ([]any, error) {
	if c.pos < 0 || c.pos >= len(c.records) {
		return nil, fmt.Errorf("cursor out of range")
	}
	return c.records[c.pos], nil
}

func (c *memoryCursor) Err() error {
	return nil
}

func (c *memoryCursor) Close() {}
