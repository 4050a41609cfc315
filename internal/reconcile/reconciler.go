// Package reconcile synchronizes a submitted phase tree with the persisted
// tasks of a playbook.
//
// Every submitted item either claims an existing task, keeping its id and all
// collaboration state hanging off it, or becomes a new pending task. Tasks no
// item claims are deleted together with their children. The whole sync runs
// in one transaction.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"playbook/api/internal/store"
	"playbook/api/internal/util"
)

var ErrSyncFailed = errors.New("synchronization failed")

// Tx is the transactional surface a sync writes through.
type Tx interface {
	LockExtraction(ctx context.Context, extractionID string) (store.Extraction, error)
	ListTasks(ctx context.Context, extractionID string) ([]store.Task, error)
	AttachmentKeys(ctx context.Context, taskIDs []string) ([]string, error)
	DeleteTasks(ctx context.Context, taskIDs []string) error
	SetTaskPlacement(ctx context.Context, taskID string, p store.Placement) error
	InsertTask(ctx context.Context, task store.Task) error
	SavePhases(ctx context.Context, extractionID string, phases store.PhaseList, actorID string) error
}

// Store opens the transaction a sync runs in.
type Store interface {
	WithTx(ctx context.Context, fn func(Tx) error) error
}

type storeAdapter struct {
	store *store.Store
}

// FromStore adapts the relational store to the reconciler's Store.
func FromStore(s *store.Store) Store {
	return storeAdapter{store: s}
}

func (a storeAdapter) WithTx(ctx context.Context, fn func(Tx) error) error {
	return a.store.WithTx(ctx, func(tx *store.Tx) error { return fn(tx) })
}

// Result describes one committed sync.
type Result struct {
	Phases store.PhaseList
	// Tasks is the full task set after the sync in traversal order.
	Tasks []store.Task
	// Inserted, Updated and Deleted hold task ids. Updated lists every task a
	// submitted item claimed.
	Inserted []string
	Updated  []string
	Deleted  []string
	// OrphanedBlobs are the storage keys of attachments removed with deleted tasks.
	OrphanedBlobs []string
	Cleared       bool
	UsedFallback  bool
}

type options struct {
	fallback []store.Phase
}

type Option func(*options)

// WithFallback sets the structure used when the submitted phases are not
// empty but contain nothing usable once normalized.
func WithFallback(phases []store.Phase) Option {
	return func(o *options) {
		o.fallback = phases
	}
}

type Reconciler struct {
	store Store
	log   zerolog.Logger
	newID func() string
}

func New(s Store, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		store: s,
		log:   log.With().Str("component", "reconcile").Logger(),
		newID: func() string { return util.NewID("tsk") },
	}
}

// Reconcile replaces the phase structure of extractionID with phases on
// behalf of actorID. An empty submission clears the playbook.
func (r *Reconciler) Reconcile(ctx context.Context, extractionID, actorID string, phases []store.Phase, opts ...Option) (Result, error) {
	cfg := options{}
	for _, opt := range opts {
		opt(&cfg)
	}

	result := Result{Phases: Normalize(phases)}
	if len(result.Phases) == 0 {
		if fallback := Normalize(cfg.fallback); len(phases) > 0 && len(fallback) > 0 {
			result.Phases = fallback
			result.UsedFallback = true
		} else {
			result.Cleared = true
		}
	}
	rows := flatten(result.Phases)

	var byMatcher map[string]int
	err := r.store.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.LockExtraction(ctx, extractionID); err != nil {
			return err
		}
		existing, err := tx.ListTasks(ctx, extractionID)
		if err != nil {
			return err
		}

		p := planSync(rows, existing)
		byMatcher = p.byMatcher

		if err := r.deleteUnclaimed(ctx, tx, p.deletes, &result); err != nil {
			return err
		}
		if err := r.moveMatched(ctx, tx, p.matched, &result); err != nil {
			return err
		}
		if err := r.insertNew(ctx, tx, extractionID, p.inserts, &result); err != nil {
			return err
		}
		if err := tx.SavePhases(ctx, extractionID, withoutKeys(result.Phases), actorID); err != nil {
			return err
		}

		result.Tasks, err = tx.ListTasks(ctx, extractionID)
		return err
	})
	if err != nil {
		r.log.Error().Err(err).
			Str("extraction_id", extractionID).
			Str("actor_id", actorID).
			Msg("phase sync rolled back")
		return Result{}, fmt.Errorf("%w: %w", ErrSyncFailed, err)
	}

	result.Phases = withoutKeys(result.Phases)
	r.log.Info().
		Str("extraction_id", extractionID).
		Str("actor_id", actorID).
		Int("inserted", len(result.Inserted)).
		Int("updated", len(result.Updated)).
		Int("deleted", len(result.Deleted)).
		Bool("cleared", result.Cleared).
		Bool("fallback", result.UsedFallback).
		Interface("matched_by", byMatcher).
		Msg("phases synchronized")
	return result, nil
}

func (r *Reconciler) deleteUnclaimed(ctx context.Context, tx Tx, tasks []store.Task, result *Result) error {
	if len(tasks) == 0 {
		return nil
	}
	ids := make([]string, len(tasks))
	for i, task := range tasks {
		ids[i] = task.ID
	}
	keys, err := tx.AttachmentKeys(ctx, ids)
	if err != nil {
		return err
	}
	if err := tx.DeleteTasks(ctx, ids); err != nil {
		return err
	}
	result.Deleted = ids
	result.OrphanedBlobs = keys
	return nil
}

// moveMatched rewrites claimed tasks in two passes. The first parks every
// task on a unique sentinel key so that the second can assign final keys in
// any order without tripping the uniqueness constraints.
func (r *Reconciler) moveMatched(ctx context.Context, tx Tx, matched []pair, result *Result) error {
	for i, m := range matched {
		parked := m.task.Placement()
		sentinel := store.SentinelKey(i)
		parked.PhaseID = sentinel.Phase
		parked.ItemIndex = sentinel.Index
		parked.NodeKey = sentinel
		parked.ParentKey = sentinel.Parent()
		if err := tx.SetTaskPlacement(ctx, m.task.ID, parked); err != nil {
			return err
		}
	}
	for _, m := range matched {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := tx.SetTaskPlacement(ctx, m.task.ID, m.row.placement); err != nil {
			return err
		}
		result.Updated = append(result.Updated, m.task.ID)
	}
	return nil
}

func (r *Reconciler) insertNew(ctx context.Context, tx Tx, extractionID string, rows []row, result *Result) error {
	for _, row := range rows {
		p := row.placement
		task := store.Task{
			ID:           r.newID(),
			ExtractionID: extractionID,
			PhaseID:      p.PhaseID,
			PhaseTitle:   p.PhaseTitle,
			ItemIndex:    p.ItemIndex,
			ItemText:     p.ItemText,
			NodeKey:      p.NodeKey,
			ParentKey:    p.ParentKey,
			Depth:        p.Depth,
			PositionPath: p.PositionPath,
			Status:       store.TaskPending,
		}
		if err := tx.InsertTask(ctx, task); err != nil {
			return err
		}
		result.Inserted = append(result.Inserted, task.ID)
	}
	return nil
}
