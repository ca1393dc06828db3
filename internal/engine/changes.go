package engine

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"slices"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/joshgroeneveld/forklift/internal/model"
	"github.com/joshgroeneveld/forklift/internal/store"
)

const (
	// scratchSuffix marks the temporary dataset used to stage records for
	// reprojection
	scratchSuffix = "_stage"

	// sourceKeyField duplicates the primary key in the scratch dataset so
	// add records can be related back to their digests after reprojection
	sourceKeyField = "src_key"
)

// ComputeChanges streams the source dataset once, digests every record, and
// classifies it as added or unchanged relative to the pair's hash index.
// Identifiers left unmatched in the index become deletes.
func ComputeChanges(ctx context.Context, ds store.DatasetStore, pair *model.DatasetPair, hashWorkspace, scratchWorkspace string, needsReproject bool, logger *zap.Logger) (*model.ChangeSet, error) {
	if err := ensureHashIndex(ctx, ds, hashWorkspace, pair, logger); err != nil {
		return nil, fmt.Errorf("failed to prepare hash index: %w", err)
	}

	logger.Info("checking for changes", zap.String("pair", pair.Name))

	readFields, keyIndex, err := changeFields(ctx, ds, pair)
	if err != nil {
		return nil, err
	}

	changes := model.NewChangeSet(readFields)
	changes.Table = pair.Source
	changes.KeyField = pair.PrimaryKey

	attributes, geometries, err := loadHashLookups(ctx, ds, hashIndexPath(hashWorkspace, pair))
	if err != nil {
		return nil, fmt.Errorf("failed to load hash index: %w", err)
	}

	var scratchFields []string
	scratchCreated := false
	fail := func(err error) (*model.ChangeSet, error) {
		if scratchCreated {
			_ = ds.DeleteDataset(ctx, changes.Table)
		}
		return nil, err
	}

	if needsReproject {
		info, err := ds.Describe(ctx, pair.Source)
		if err != nil {
			return nil, err
		}

		scratch := store.Qualify(scratchWorkspace, pair.Name+scratchSuffix)
		if exists, err := ds.Exists(ctx, scratch); err == nil && exists {
			// leftover from an earlier interrupted run
			_ = ds.DeleteDataset(ctx, scratch)
		}

		err = ds.CreateDataset(ctx, store.CreateOptions{
			Workspace:    scratchWorkspace,
			Name:         pair.Name + scratchSuffix,
			Template:     pair.Source,
			GeometryKind: info.GeometryKind,
			SRID:         info.SRID,
			ExtraFields:  []model.Field{{Name: sourceKeyField, Type: model.FieldTypeText}},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create scratch dataset: %w", err)
		}
		scratchCreated = true

		changes.Table = scratch
		changes.KeyField = sourceKeyField
		scratchFields = append(slices.Clone(readFields), sourceKeyField)
	}

	// ordered read keeps the per-run salt deterministic across runs
	cursor, err := ds.ReadSequential(ctx, pair.Source, readFields, nil, pair.PrimaryKey)
	if err != nil {
		return fail(fmt.Errorf("failed to read source %s: %w", pair.Source, err))
	}
	defer cursor.Close()

	totalRows := 0
	salt := 0
	for cursor.Next() {
		values, err := cursor.Values()
		if err != nil {
			return fail(err)
		}

		totalRows++
		salt++

		geometryDigest := ""
		if !pair.IsTable() {
			wkt := stringifyValue(values[len(values)-1])
			if wkt == "" {
				logger.Warn("empty geometry found, skipping record",
					zap.String("pair", pair.Name),
					zap.String("key_field", pair.PrimaryKey),
					zap.Any("key", values[keyIndex]))
				totalRows--
				continue
			}
			geometryDigest = digest(wkt, salt)
		}

		key := stringifyValue(values[keyIndex])
		attributeDigest := digest(canonicalAttributes(values[:keyIndex]), salt)

		_, attributeKnown := attributes[attributeDigest]
		_, geometryKnown := geometries[geometryDigest]
		if !attributeKnown || (geometryDigest != "" && !geometryKnown) {
			if needsReproject {
				if _, err := ds.Insert(ctx, nil, changes.Table, scratchFields, append(slices.Clone(values), key)); err != nil {
					return fail(fmt.Errorf("failed to stage record for reprojection: %w", err))
				}
			}
			changes.Adds[key] = model.DigestPair{Attribute: attributeDigest, Geometry: geometryDigest}
		} else {
			// matched entries are marked still-present by removing them
			// from the lookups
			delete(attributes, attributeDigest)
			if geometryDigest != "" {
				delete(geometries, geometryDigest)
			}
			changes.Unchanged[key] = model.DigestPair{Attribute: attributeDigest, Geometry: geometryDigest}
		}
	}
	if err := cursor.Err(); err != nil {
		return fail(fmt.Errorf("failed streaming source %s: %w", pair.Source, err))
	}

	changes.DetermineDeletes(attributes, geometries)
	changes.TotalRows = totalRows

	return changes, nil
}

// changeFields computes the field intersection of source and destination
// (minus managed fields and geometry columns), sorted alphabetically with the
// primary key moved to the end so it can be sliced off before hashing. For
// spatial pairs the geometry well-known-text field follows the key.
func changeFields(ctx context.Context, ds store.DatasetStore, pair *model.DatasetPair) ([]string, int, error) {
	sourceFields, err := ds.ListFields(ctx, pair.Source)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list fields of %s: %w", pair.Source, err)
	}
	destinationFields, err := ds.ListFields(ctx, pair.Destination)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list fields of %s: %w", pair.Destination, err)
	}

	inDestination := make(map[string]bool, len(destinationFields))
	for _, f := range destinationFields {
		inDestination[strings.ToUpper(f.Name)] = true
	}

	fields := make([]string, 0, len(sourceFields))
	for _, f := range sourceFields {
		if isManagedField(f.Name) || f.Type == model.FieldTypeGeometry {
			continue
		}
		if strings.EqualFold(f.Name, pair.PrimaryKey) {
			continue
		}
		if inDestination[strings.ToUpper(f.Name)] {
			fields = append(fields, f.Name)
		}
	}
	sort.Strings(fields)

	// key goes last so the hashed slice is everything before it
	fields = append(fields, pair.PrimaryKey)
	keyIndex := len(fields) - 1

	if !pair.IsTable() {
		fields = append(fields, store.GeometryField)
	}

	return fields, keyIndex, nil
}

// digest hashes canonical record content combined with the strictly
// increasing per-run ordinal. Equal digests across runs therefore require
// unchanged content, ordering, and row count up to that record.
func digest(content string, salt int) string {
	h := md5.New()
	io.WriteString(h, content)
	io.WriteString(h, strconv.Itoa(salt))
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalAttributes serializes non-key field values to one deterministic
// string
func canonicalAttributes(values []any) string {
	var b strings.Builder
	for _, v := range values {
		b.WriteString(stringifyValue(v))
		b.WriteByte('|')
	}
	return b.String()
}

func stringifyValue(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
