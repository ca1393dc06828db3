package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/joshgroeneveld/forklift/internal/model"
	"github.com/joshgroeneveld/forklift/internal/store"
)

// ErrNotImplemented is the sentinel a custom validator returns to request the
// default schema check
var ErrNotImplemented = errors.New("custom validation not implemented")

// maxTextLength caps text lengths during comparison; longer fields are
// treated as equal to the cap and a truncation warning is logged
const maxTextLength = 4000

// PairValidator is the caller-supplied validation hook for a dataset pair.
// Returning ErrNotImplemented falls back to the default schema check; any
// other error marks the pair's data invalid.
type PairValidator interface {
	ValidatePair(ctx context.Context, pair *model.DatasetPair) error
}

// SchemaMismatchError reports destination fields that are missing from the
// source or incompatible with it
type SchemaMismatchError struct {
	Dataset    string
	Missing    []string
	Mismatched []string
}

// Error implements the error interface
func (e *SchemaMismatchError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("missing fields in %s: %s", e.Dataset, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("mismatching fields in %s: %s", e.Dataset, strings.Join(e.Mismatched, ", "))
}

// CheckSchema compares source and destination field sets. Every destination
// field must have a same-named source field of a compatible type; fields
// present only in the source are ignored. Problems are collected, not
// short-circuited.
func CheckSchema(ctx context.Context, ds store.DatasetStore, pair *model.DatasetPair, logger *zap.Logger) error {
	logger.Info("checking schema", zap.String("pair", pair.Name))

	sourceFields, err := comparableFields(ctx, ds, pair.Source)
	if err != nil {
		return err
	}
	destinationFields, err := comparableFields(ctx, ds, pair.Destination)
	if err != nil {
		return err
	}

	var missing, mismatched []string
	for _, key := range sortedKeys(destinationFields) {
		destination := destinationFields[key]
		source, ok := sourceFields[key]
		if !ok {
			missing = append(missing, destination.Name)
			continue
		}

		if source.Type.Abstract() != destination.Type.Abstract() {
			mismatched = append(mismatched, fmt.Sprintf("%s: source type of %s does not match destination type of %s",
				source.Name, source.Type, destination.Type))
			continue
		}

		if source.Type == model.FieldTypeText {
			sourceLength := clampTextLength(source, logger)
			destinationLength := clampTextLength(destination, logger)
			if sourceLength != destinationLength {
				mismatched = append(mismatched, fmt.Sprintf("%s: source length of %d does not match destination length of %d",
					source.Name, sourceLength, destinationLength))
			}
		}
	}

	if len(missing) > 0 || len(mismatched) > 0 {
		err := &SchemaMismatchError{Dataset: pair.Source, Missing: missing, Mismatched: mismatched}
		logger.Warn("schema mismatch", zap.String("pair", pair.Name), zap.String("detail", err.Error()))
		return err
	}

	return nil
}

// comparableFields maps upper-cased field names to fields, excluding managed
// fields and geometry columns
func comparableFields(ctx context.Context, ds store.DatasetStore, dataset string) (map[string]model.Field, error) {
	fields, err := ds.ListFields(ctx, dataset)
	if err != nil {
		return nil, fmt.Errorf("failed to list fields of %s: %w", dataset, err)
	}

	byName := make(map[string]model.Field, len(fields))
	for _, f := range fields {
		if isManagedField(f.Name) || f.Type == model.FieldTypeGeometry {
			continue
		}
		byName[strings.ToUpper(f.Name)] = f
	}

	return byName, nil
}

// isManagedField reports whether a field is maintained by the backing store
// and so excluded from schema comparison and hashing: geometry bookkeeping
// fields, global identifier fields, auto-generated object id fields, and the
// synthetic row id added for externally-backed sources.
func isManagedField(name string) bool {
	upper := strings.ToUpper(name)
	switch upper {
	case "GLOBALID", "GLOBAL_ID", "FID", "ROW_ID", strings.ToUpper(store.ObjectIDField):
		return true
	}
	return strings.Contains(upper, "SHAPE") || strings.HasPrefix(upper, "OBJECTID_")
}

func clampTextLength(f model.Field, logger *zap.Logger) int {
	if f.Length > maxTextLength {
		logger.Warn("text field longer than comparison cap, truncation may occur",
			zap.String("field", f.Name), zap.Int("length", f.Length))
		return maxTextLength
	}
	return f.Length
}

func sortedKeys(fields map[string]model.Field) []string {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
