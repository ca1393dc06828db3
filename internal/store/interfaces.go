package store

import (
	"context"
	"errors"
	"strings"

	"github.com/joshgroeneveld/forklift/internal/model"
)

// ErrNotFound is returned when a dataset does not exist
var ErrNotFound = errors.New("dataset not found")

const (
	// GeometryField is the geometry column every spatial dataset carries.
	// Cursors surface it as well-known text and Insert accepts well-known
	// text for it.
	GeometryField = "geom"

	// ObjectIDField is the store-assigned row identifier column present on
	// every dataset
	ObjectIDField = "objectid"
)

// Dataset format kinds reported by Describe
const (
	FormatTable   = "table"
	FormatForeign = "foreign" // externally-backed dataset with no stable local row id
)

// SessionOptions is the explicit per-run session state a synchronization run
// scopes around its dataset store calls
type SessionOptions struct {
	// Transformation names the datum transformation applied during
	// reprojection, empty for none
	Transformation string
}

// CreateOptions describes a dataset to create
type CreateOptions struct {
	Workspace string
	Name      string

	// Template is an existing dataset whose non-managed fields are copied,
	// empty for none
	Template string

	// GeometryKind adds a geometry column of the given kind (point,
	// linestring, polygon, ...) when non-empty
	GeometryKind string
	SRID         int

	ExtraFields []model.Field
}

// DatasetInfo is the result of Describe
type DatasetInfo struct {
	GeometryKind string // empty for tabular datasets
	SRID         int
	Format       string
}

// Transaction scopes a sequence of mutations applied atomically
type Transaction interface {
	Commit(ctx context.Context) error
	Abort(ctx context.Context) error
}

// RecordCursor is a finite forward-only pass over dataset records. Each call
// to ReadSequential returns a fresh cursor; cursors are not shared across
// calls.
type RecordCursor interface {
	Next() bool
	Values() ([]any, error)
	Err() error
	Close()
}

// DatasetStore is the backing store contract the synchronization engine runs
// against: schema introspection, ordered sequential read, transactional
// insert/delete, and dataset lifecycle primitives.
//
// Dataset paths are workspace-qualified names of the form "workspace.name".
type DatasetStore interface {
	// OpenSession establishes per-run session state; CloseSession resets it.
	// A synchronization run opens a session on entry and closes it
	// unconditionally on exit.
	OpenSession(ctx context.Context, opts SessionOptions) error
	CloseSession(ctx context.Context) error

	Exists(ctx context.Context, dataset string) (bool, error)
	ListFields(ctx context.Context, dataset string) ([]model.Field, error)
	Describe(ctx context.Context, dataset string) (*DatasetInfo, error)
	CreateDataset(ctx context.Context, opts CreateOptions) error
	DeleteDataset(ctx context.Context, dataset string) error
	Truncate(ctx context.Context, dataset string) error

	// ReadSequential streams records with the given fields, optionally
	// filtered to a key set and ordered by a field name
	ReadSequential(ctx context.Context, dataset string, fields []string, filter *model.KeySet, orderBy string) (RecordCursor, error)

	Begin(ctx context.Context, workspace string) (Transaction, error)

	// Insert appends one record and returns the store-assigned identifier.
	// A nil transaction applies the insert immediately.
	Insert(ctx context.Context, tx Transaction, dataset string, fields []string, values []any) (string, error)

	// DeleteWhere removes every record matching the key set
	DeleteWhere(ctx context.Context, tx Transaction, dataset string, filter *model.KeySet) error

	// Reproject copies a spatial dataset into a new dataset with its
	// geometry transformed to the target coordinate system and returns the
	// new dataset's path
	Reproject(ctx context.Context, source string, targetSRID int, transformation string) (string, error)
}

// Qualify joins a workspace and dataset name into a dataset path
func Qualify(workspace, name string) string {
	return workspace + "." + name
}

// SplitPath splits a dataset path into workspace and name. A path without a
// workspace returns an empty workspace.
func SplitPath(dataset string) (workspace, name string) {
	i := strings.LastIndex(dataset, ".")
	if i < 0 {
		return "", dataset
	}
	return dataset[:i], dataset[i+1:]
}
