package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/joshgroeneveld/forklift/internal/model"
	"github.com/joshgroeneveld/forklift/internal/store"
)

func createFieldsDataset(t *testing.T, ds *store.MemoryStore, workspace, name string, fields ...model.Field) {
	t.Helper()
	err := ds.CreateDataset(context.Background(), store.CreateOptions{
		Workspace:   workspace,
		Name:        name,
		ExtraFields: fields,
	})
	require.NoError(t, err)
}

func schemaPair() *model.DatasetPair {
	return &model.DatasetPair{
		Name:        "widgets",
		Source:      "src.widgets",
		Destination: "dst.widgets",
		PrimaryKey:  "widget_id",
		Tabular:     true,
	}
}

func TestCheckSchemaMatchingFields(t *testing.T) {
	ds := store.NewMemoryStore()
	fields := []model.Field{
		{Name: "widget_id", Type: model.FieldTypeText, Length: 20},
		{Name: "amount", Type: model.FieldTypeDouble},
	}
	createFieldsDataset(t, ds, "src", "widgets", fields...)
	createFieldsDataset(t, ds, "dst", "widgets", fields...)

	assert.NoError(t, CheckSchema(context.Background(), ds, schemaPair(), zap.NewNop()))
}

func TestCheckSchemaCaseInsensitive(t *testing.T) {
	ds := store.NewMemoryStore()
	createFieldsDataset(t, ds, "src", "widgets",
		model.Field{Name: "WIDGET_ID", Type: model.FieldTypeText, Length: 20})
	createFieldsDataset(t, ds, "dst", "widgets",
		model.Field{Name: "widget_id", Type: model.FieldTypeText, Length: 20})

	assert.NoError(t, CheckSchema(context.Background(), ds, schemaPair(), zap.NewNop()))
}

func TestCheckSchemaMissingField(t *testing.T) {
	ds := store.NewMemoryStore()
	createFieldsDataset(t, ds, "src", "widgets",
		model.Field{Name: "widget_id", Type: model.FieldTypeText, Length: 20})
	createFieldsDataset(t, ds, "dst", "widgets",
		model.Field{Name: "widget_id", Type: model.FieldTypeText, Length: 20},
		model.Field{Name: "color", Type: model.FieldTypeText, Length: 10})

	err := CheckSchema(context.Background(), ds, schemaPair(), zap.NewNop())

	var mismatch *SchemaMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, []string{"color"}, mismatch.Missing)
	assert.Empty(t, mismatch.Mismatched)
	assert.Contains(t, err.Error(), "color")
}

func TestCheckSchemaSourceOnlyFieldsIgnored(t *testing.T) {
	ds := store.NewMemoryStore()
	createFieldsDataset(t, ds, "src", "widgets",
		model.Field{Name: "widget_id", Type: model.FieldTypeText, Length: 20},
		model.Field{Name: "internal_notes", Type: model.FieldTypeText, Length: 100})
	createFieldsDataset(t, ds, "dst", "widgets",
		model.Field{Name: "widget_id", Type: model.FieldTypeText, Length: 20})

	assert.NoError(t, CheckSchema(context.Background(), ds, schemaPair(), zap.NewNop()))
}

func TestCheckSchemaTypeMismatch(t *testing.T) {
	ds := store.NewMemoryStore()
	createFieldsDataset(t, ds, "src", "widgets",
		model.Field{Name: "amount", Type: model.FieldTypeText, Length: 10})
	createFieldsDataset(t, ds, "dst", "widgets",
		model.Field{Name: "amount", Type: model.FieldTypeDouble})

	err := CheckSchema(context.Background(), ds, schemaPair(), zap.NewNop())

	var mismatch *SchemaMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Len(t, mismatch.Mismatched, 1)
	assert.Contains(t, mismatch.Mismatched[0], "amount")
}

func TestCheckSchemaNumericTypesCollapse(t *testing.T) {
	// concrete numeric widths compare equal under the abstract numeric type
	ds := store.NewMemoryStore()
	createFieldsDataset(t, ds, "src", "widgets",
		model.Field{Name: "amount", Type: model.FieldTypeDouble},
		model.Field{Name: "count", Type: model.FieldTypeSmallInteger})
	createFieldsDataset(t, ds, "dst", "widgets",
		model.Field{Name: "amount", Type: model.FieldTypeSingle},
		model.Field{Name: "count", Type: model.FieldTypeInteger})

	assert.NoError(t, CheckSchema(context.Background(), ds, schemaPair(), zap.NewNop()))
}

func TestCheckSchemaTextLengthMismatch(t *testing.T) {
	ds := store.NewMemoryStore()
	createFieldsDataset(t, ds, "src", "widgets",
		model.Field{Name: "label", Type: model.FieldTypeText, Length: 20})
	createFieldsDataset(t, ds, "dst", "widgets",
		model.Field{Name: "label", Type: model.FieldTypeText, Length: 50})

	err := CheckSchema(context.Background(), ds, schemaPair(), zap.NewNop())

	var mismatch *SchemaMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Contains(t, mismatch.Mismatched[0], "label")
}

func TestCheckSchemaTextLengthClampedAtCap(t *testing.T) {
	// lengths beyond the cap compare equal to the cap itself
	ds := store.NewMemoryStore()
	createFieldsDataset(t, ds, "src", "widgets",
		model.Field{Name: "notes", Type: model.FieldTypeText, Length: 8000})
	createFieldsDataset(t, ds, "dst", "widgets",
		model.Field{Name: "notes", Type: model.FieldTypeText, Length: maxTextLength})

	assert.NoError(t, CheckSchema(context.Background(), ds, schemaPair(), zap.NewNop()))
}

func TestCheckSchemaCollectsAllProblems(t *testing.T) {
	ds := store.NewMemoryStore()
	createFieldsDataset(t, ds, "src", "widgets",
		model.Field{Name: "amount", Type: model.FieldTypeText, Length: 10})
	createFieldsDataset(t, ds, "dst", "widgets",
		model.Field{Name: "amount", Type: model.FieldTypeDouble},
		model.Field{Name: "color", Type: model.FieldTypeText, Length: 10},
		model.Field{Name: "size", Type: model.FieldTypeInteger})

	err := CheckSchema(context.Background(), ds, schemaPair(), zap.NewNop())

	var mismatch *SchemaMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.ElementsMatch(t, []string{"color", "size"}, mismatch.Missing)
	assert.Len(t, mismatch.Mismatched, 1)
}

func TestIsManagedField(t *testing.T) {
	managed := []string{
		"objectid", "OBJECTID", "OBJECTID_1",
		"GLOBALID", "GLOBAL_ID", "globalid",
		"FID", "row_id",
		"SHAPE", "Shape_Length", "shape_area", "SHAPE.STLength()",
	}
	for _, name := range managed {
		assert.True(t, isManagedField(name), name)
	}

	unmanaged := []string{"parcel_id", "owner", "object_type", "fid_code"}
	for _, name := range unmanaged {
		assert.False(t, isManagedField(name), name)
	}
}

func TestErrNotImplementedIsSentinel(t *testing.T) {
	wrapped := errors.New("wrapped: " + ErrNotImplemented.Error())
	assert.False(t, errors.Is(wrapped, ErrNotImplemented))
	assert.True(t, errors.Is(ErrNotImplemented, ErrNotImplemented))
}
