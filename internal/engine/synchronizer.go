package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/joshgroeneveld/forklift/internal/metrics"
	"github.com/joshgroeneveld/forklift/internal/model"
	"github.com/joshgroeneveld/forklift/internal/store"
)

// rowIDField is added to destinations created from externally-backed sources,
// which expose no stable local row identifier of their own
const rowIDField = "row_id"

// Synchronizer drives one dataset pair through existence checks, validation,
// change computation, and transactional apply. It owns the pair's hash index
// and nothing else.
type Synchronizer struct {
	store            store.DatasetStore
	hashWorkspace    string
	scratchWorkspace string
	logger           *zap.Logger
	metrics          *metrics.Metrics
}

// NewSynchronizer creates a new synchronizer. Metrics may be nil.
func NewSynchronizer(ds store.DatasetStore, hashWorkspace, scratchWorkspace string, logger *zap.Logger, m *metrics.Metrics) *Synchronizer {
	return &Synchronizer{
		store:            ds,
		hashWorkspace:    hashWorkspace,
		scratchWorkspace: scratchWorkspace,
		logger:           logger,
		metrics:          m,
	}
}

// Update synchronizes one dataset pair and reports the terminal outcome. It
// never returns an error and never panics: any fault is folded into an
// UNHANDLED_EXCEPTION result, and session state is reset on every path.
func (s *Synchronizer) Update(ctx context.Context, pair *model.DatasetPair, validator PairValidator) model.Result {
	start := time.Now()

	if err := s.store.OpenSession(ctx, store.SessionOptions{Transformation: pair.Transformation}); err != nil {
		return s.fault(pair, fmt.Errorf("failed to open session: %w", err))
	}
	defer func() {
		if err := s.store.CloseSession(ctx); err != nil {
			s.logger.Warn("failed to reset session state", zap.String("pair", pair.Name), zap.Error(err))
		}
	}()

	result := s.run(ctx, pair, validator)

	if s.metrics != nil {
		s.metrics.SyncsTotal.WithLabelValues(result.Status.String()).Inc()
		s.metrics.SyncDuration.WithLabelValues(pair.Name).Observe(time.Since(start).Seconds())
	}

	s.logger.Info("synchronization finished",
		zap.String("pair", pair.Name),
		zap.String("status", result.Status.String()),
		zap.Duration("elapsed", time.Since(start)))

	return result
}

func (s *Synchronizer) run(ctx context.Context, pair *model.DatasetPair, validator PairValidator) (result model.Result) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic during synchronization",
				zap.String("pair", pair.Name), zap.Any("panic", r))
			result = model.Result{Status: model.StatusUnhandledException, Message: fmt.Sprint(r)}
		}
	}()

	status := model.StatusNoChanges

	exists, err := s.store.Exists(ctx, pair.Destination)
	if err != nil {
		return s.fault(pair, err)
	}
	if !exists {
		s.logger.Debug("destination does not exist, creating", zap.String("destination", pair.Destination))
		if err := s.createDestination(ctx, pair); err != nil {
			return s.fault(pair, err)
		}

		// a hash index describing a destination that no longer exists is
		// stale and must not seed this run
		hashTable := hashIndexPath(s.hashWorkspace, pair)
		if stale, err := s.store.Exists(ctx, hashTable); err != nil {
			return s.fault(pair, err)
		} else if stale {
			if err := s.store.DeleteDataset(ctx, hashTable); err != nil {
				return s.fault(pair, err)
			}
		}

		status = model.StatusCreated
	}

	verdict, fault := s.validate(ctx, pair, validator)
	if fault != nil {
		return s.fault(pair, fault)
	}
	if verdict != nil {
		s.logger.Warn("validation error", zap.String("pair", pair.Name), zap.Error(verdict))
		if s.metrics != nil {
			s.metrics.SchemaMismatches.Inc()
		}
		return model.Result{Status: model.StatusInvalidData, Message: verdict.Error()}
	}

	needsReproject := pair.NeedsReproject()
	changes, err := ComputeChanges(ctx, s.store, pair, s.hashWorkspace, s.scratchWorkspace, needsReproject, s.logger)
	if err != nil {
		return s.fault(pair, err)
	}
	if needsReproject {
		defer s.discardScratch(ctx, changes.Table)
	}

	if !changes.HasChanges() {
		s.logger.Debug("no changes found", zap.String("pair", pair.Name))
	}

	hashTable := hashIndexPath(s.hashWorkspace, pair)

	if changes.HasDeletes() {
		s.logger.Debug("applying deletes",
			zap.String("pair", pair.Name), zap.Int("rows", changes.DeleteCount()))

		if err := s.applyDeletes(ctx, pair, changes, hashTable); err != nil {
			return s.fault(pair, err)
		}
		if s.metrics != nil {
			s.metrics.RowsDeleted.WithLabelValues(pair.Name).Add(float64(changes.DeleteCount()))
		}
		if status != model.StatusCreated {
			status = model.StatusUpdated
		}
	}

	if changes.HasAdds() {
		s.logger.Debug("applying adds",
			zap.String("pair", pair.Name), zap.Int("rows", len(changes.Adds)))

		added, err := s.applyAdds(ctx, pair, changes, hashTable, needsReproject)
		if err != nil {
			return s.fault(pair, err)
		}
		if s.metrics != nil {
			s.metrics.RowsAdded.WithLabelValues(pair.Name).Add(float64(added))
		}
		if status != model.StatusCreated {
			status = model.StatusUpdated
		}
	}

	return model.Result{Status: status}
}

// validate runs the pair's custom validator when one is declared, falling
// back to the default schema check when the validator reports
// ErrNotImplemented. A validation verdict comes back in the first return
// value; a backing-store failure during the default check comes back in the
// second.
func (s *Synchronizer) validate(ctx context.Context, pair *model.DatasetPair, validator PairValidator) (verdict, fault error) {
	if validator != nil {
		err := validator.ValidatePair(ctx, pair)
		if err == nil {
			return nil, nil
		}
		if !errors.Is(err, ErrNotImplemented) {
			return err, nil
		}
	}

	err := CheckSchema(ctx, s.store, pair, s.logger)
	if err == nil {
		return nil, nil
	}
	var mismatch *SchemaMismatchError
	if errors.As(err, &mismatch) {
		return err, nil
	}
	return nil, err
}

// createDestination creates the destination dataset from the source schema
func (s *Synchronizer) createDestination(ctx context.Context, pair *model.DatasetPair) error {
	info, err := s.store.Describe(ctx, pair.Source)
	if err != nil {
		return fmt.Errorf("failed to describe source %s: %w", pair.Source, err)
	}

	opts := store.CreateOptions{
		Workspace: pair.DestinationWorkspace,
		Name:      pair.DestinationName,
		Template:  pair.Source,
	}

	if info.Format == store.FormatForeign {
		s.logger.Info("adding row id field for externally-backed source comparison",
			zap.String("pair", pair.Name))
		opts.ExtraFields = append(opts.ExtraFields, model.Field{Name: rowIDField, Type: model.FieldTypeInteger})
	}

	if !pair.IsTable() {
		opts.GeometryKind = info.GeometryKind
		opts.SRID = pair.DestinationSRID
		if opts.SRID == 0 {
			opts.SRID = info.SRID
		}
	}

	s.logger.Warn("creating new destination dataset", zap.String("destination", pair.Destination))

	return s.store.CreateDataset(ctx, opts)
}

// applyDeletes removes unmatched records from the destination and their rows
// from the hash index inside one transaction
func (s *Synchronizer) applyDeletes(ctx context.Context, pair *model.DatasetPair, changes *model.ChangeSet, hashTable string) error {
	tx, err := s.store.Begin(ctx, pair.DestinationWorkspace)
	if err != nil {
		return err
	}

	if err := s.store.DeleteWhere(ctx, tx, pair.Destination, changes.DeleteFilter(store.ObjectIDField, model.FieldTypeText)); err != nil {
		s.abort(ctx, tx)
		return err
	}

	if err := s.store.DeleteWhere(ctx, tx, hashTable, changes.DeleteFilter(hashIDField, model.FieldTypeText)); err != nil {
		s.abort(ctx, tx)
		return err
	}

	return tx.Commit(ctx)
}

// applyAdds inserts every add record into the destination and stores its
// digest row, reprojecting the staged records first when required. Returns
// the number of rows inserted.
func (s *Synchronizer) applyAdds(ctx context.Context, pair *model.DatasetPair, changes *model.ChangeSet, hashTable string, needsReproject bool) (int, error) {
	table := changes.Table
	readFields := changes.Fields
	keyIndex := len(changes.Fields) - 1
	if !pair.IsTable() {
		keyIndex = len(changes.Fields) - 2
	}

	if needsReproject {
		projected, err := s.store.Reproject(ctx, changes.Table, pair.DestinationSRID, pair.Transformation)
		if err != nil {
			return 0, err
		}
		// the reprojected copy becomes the record stream; discardScratch
		// removes it alongside the staged dataset
		table = projected

		readFields = append(append([]string{}, changes.Fields...), sourceKeyField)
		keyIndex = len(readFields) - 1
	}

	cursor, err := s.store.ReadSequential(ctx, table, readFields, changes.AddsFilter(pair.PrimaryKeyType), "")
	if err != nil {
		return 0, err
	}
	defer cursor.Close()

	tx, err := s.store.Begin(ctx, pair.DestinationWorkspace)
	if err != nil {
		return 0, err
	}

	geometryIndex := -1
	if !pair.IsTable() {
		geometryIndex = len(changes.Fields) - 1
	}

	added := 0
	for cursor.Next() {
		values, err := cursor.Values()
		if err != nil {
			s.abort(ctx, tx)
			return 0, err
		}

		// null geometries are skipped here again in case one slipped past
		// change computation
		if geometryIndex >= 0 {
			if wkt, _ := values[geometryIndex].(string); wkt == "" {
				continue
			}
		}

		key := stringifyValue(values[keyIndex])
		id, err := s.store.Insert(ctx, tx, pair.Destination, changes.Fields, values[:len(changes.Fields)])
		if err != nil {
			s.abort(ctx, tx)
			return 0, err
		}

		digests, ok := changes.Adds[key]
		if !ok {
			digests = changes.Unchanged[key]
		}
		if err := insertHashRow(ctx, s.store, tx, hashTable, id, digests); err != nil {
			s.abort(ctx, tx)
			return 0, err
		}

		added++
	}
	if err := cursor.Err(); err != nil {
		s.abort(ctx, tx)
		return 0, err
	}

	return added, tx.Commit(ctx)
}

// abort attempts to roll back once; its own failure is discarded so the
// original fault is what propagates
func (s *Synchronizer) abort(ctx context.Context, tx store.Transaction) {
	s.logger.Warn("aborting transaction, edits will not be saved")
	_ = tx.Abort(ctx)
}

// discardScratch removes the staged and reprojected temporary datasets on
// both success and failure paths
func (s *Synchronizer) discardScratch(ctx context.Context, scratch string) {
	for _, table := range []string{scratch, scratch + "_proj"} {
		if exists, err := s.store.Exists(ctx, table); err != nil || !exists {
			continue
		}
		s.logger.Debug("removing temporary dataset", zap.String("table", table))
		if err := s.store.DeleteDataset(ctx, table); err != nil {
			s.logger.Warn("failed to remove temporary dataset", zap.String("table", table), zap.Error(err))
		}
	}
}

func (s *Synchronizer) fault(pair *model.DatasetPair, err error) model.Result {
	s.logger.Error("unhandled fault during synchronization",
		zap.String("pair", pair.Name), zap.Error(err))
	return model.Result{Status: model.StatusUnhandledException, Message: err.Error()}
}
