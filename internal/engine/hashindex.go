package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/joshgroeneveld/forklift/internal/model"
	"github.com/joshgroeneveld/forklift/internal/store"
)

// Hash index table fields. Each dataset pair owns one table in the hash
// workspace, keyed by the destination-assigned record identifier.
const (
	hashIDField   = "hash_id"
	hashAttField  = "att_hash"
	hashGeomField = "geom_hash"
)

// hashIndexPath returns the pair's hash index table path
func hashIndexPath(workspace string, pair *model.DatasetPair) string {
	return store.Qualify(workspace, pair.Name)
}

// ensureHashIndex creates the pair's hash index table if it is missing. A
// fresh table means this destination is being hashed for the first time, so
// the destination is truncated to realign it with the empty index.
func ensureHashIndex(ctx context.Context, ds store.DatasetStore, workspace string, pair *model.DatasetPair, logger *zap.Logger) error {
	table := hashIndexPath(workspace, pair)

	exists, err := ds.Exists(ctx, table)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	logger.Debug("hash index does not exist, creating", zap.String("table", table))

	err = ds.CreateDataset(ctx, store.CreateOptions{
		Workspace: workspace,
		Name:      pair.Name,
		ExtraFields: []model.Field{
			{Name: hashIDField, Type: model.FieldTypeText, Length: 50},
			{Name: hashAttField, Type: model.FieldTypeText, Length: 32},
			{Name: hashGeomField, Type: model.FieldTypeText, Length: 32},
		},
	})
	if err != nil {
		return err
	}

	return ds.Truncate(ctx, pair.Destination)
}

// loadHashLookups reads the hash index into two reverse lookups, digest to
// identifier, one for attribute digests and one for geometry digests
func loadHashLookups(ctx context.Context, ds store.DatasetStore, table string) (map[string]string, map[string]string, error) {
	attributes := make(map[string]string)
	geometries := make(map[string]string)

	cursor, err := ds.ReadSequential(ctx, table, []string{hashIDField, hashAttField, hashGeomField}, nil, "")
	if err != nil {
		return nil, nil, err
	}
	defer cursor.Close()

	for cursor.Next() {
		values, err := cursor.Values()
		if err != nil {
			return nil, nil, err
		}
		id, _ := values[0].(string)
		if att, ok := values[1].(string); ok && att != "" {
			attributes[att] = id
		}
		if geom, ok := values[2].(string); ok && geom != "" {
			geometries[geom] = id
		}
	}
	if err := cursor.Err(); err != nil {
		return nil, nil, err
	}

	return attributes, geometries, nil
}

// insertHashRow stores one identifier/digest row inside the apply transaction
func insertHashRow(ctx context.Context, ds store.DatasetStore, tx store.Transaction, table, id string, digests model.DigestPair) error {
	_, err := ds.Insert(ctx, tx, table,
		[]string{hashIDField, hashAttField, hashGeomField},
		[]any{id, digests.Attribute, digests.Geometry})
	return err
}
