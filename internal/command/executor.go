// SPDX-License-Identifier: MIT

package command

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openreelio/reelcore/internal/apperr"
	"github.com/openreelio/reelcore/internal/events"
	"github.com/openreelio/reelcore/internal/ids"
	"github.com/openreelio/reelcore/internal/log"
	"github.com/openreelio/reelcore/internal/metrics"
	"github.com/openreelio/reelcore/internal/project"
)

// Compensating operation kinds. Undo and redo are themselves logged so
// crash recovery replays to the exact state the user last saw.
const (
	kindUndo = "Undo"
	kindRedo = "Redo"
)

type compensatingPayload struct {
	TargetOpID string `json:"targetOpId"`
}

// ErrNothingToUndo is returned when the undo stack is empty.
var ErrNothingToUndo = errors.New("nothing to undo")

// ErrNothingToRedo is returned when the redo stack is empty.
var ErrNothingToRedo = errors.New("nothing to redo")

// ErrReadOnly is returned when the project was opened in degraded
// read-only mode after a corruption.
var ErrReadOnly = errors.New("project is read-only")

// Options tunes the executor.
type Options struct {
	// SnapshotEvery bounds replay time: a snapshot is written after this
	// many committed operations. <= 0 selects the default of 100.
	SnapshotEvery int

	// SnapshotKeep is the rolling window of retained snapshots.
	SnapshotKeep int

	// AppendTimeout bounds each internal log/snapshot write. <= 0
	// selects the default of 5s.
	AppendTimeout time.Duration
}

func (o *Options) normalise() {
	if o.SnapshotEvery <= 0 {
		o.SnapshotEvery = 100
	}
	if o.AppendTimeout <= 0 {
		o.AppendTimeout = 5 * time.Second
	}
}

type undoRecord struct {
	cmd    Command
	op     project.Operation
	result *Result
}

// Executor serialises all mutations of a project. It holds its own lock,
// which guards both the state and the log, for the duration of each
// pipeline run, so concurrent callers observe a strict total order.
type Executor struct {
	mu sync.RWMutex

	state *project.State
	ops   *project.OpsLog
	snaps *project.SnapshotStore
	bus   *events.Bus

	undo []undoRecord
	redo []undoRecord

	readOnly      bool
	snapshotEvery int
	sinceSnapshot int
	appendTimeout time.Duration

	logger zerolog.Logger
}

// New wires an executor around already-opened persistence. Most callers
// use NewProject or OpenProject instead.
func New(state *project.State, ops *project.OpsLog, snaps *project.SnapshotStore, bus *events.Bus, opts Options) *Executor {
	opts.normalise()
	return &Executor{
		state:         state,
		ops:           ops,
		snaps:         snaps,
		bus:           bus,
		snapshotEvery: opts.SnapshotEvery,
		appendTimeout: opts.AppendTimeout,
		logger:        log.WithProject("executor", state.Meta.ID),
	}
}

// NewProject creates a fresh project rooted at dir and returns its
// executor. An initial snapshot of the empty state is written immediately
// so a later Open always has a valid base.
func NewProject(dir, name string, bus *events.Bus, opts Options) (*Executor, error) {
	opts.normalise()

	ops, err := project.OpenOpsLog(dir)
	if err != nil {
		return nil, err
	}
	if ops.LastOpID() != "" {
		_ = ops.Close()
		return nil, apperr.Conflict("projectExists", "project already initialised at %s", dir)
	}

	now := project.NowMillis()
	state := project.NewState(project.Meta{
		ID:         ids.New(),
		Name:       name,
		RootPath:   dir,
		CreatedAt:  now,
		ModifiedAt: now,
	})

	snaps := project.NewSnapshotStore(dir, opts.SnapshotKeep)
	if _, err := snaps.Write(state, ""); err != nil {
		_ = ops.Close()
		return nil, err
	}

	return New(state, ops, snaps, bus, opts), nil
}

// OpenProject rebuilds a project from its latest valid snapshot plus log
// replay. On corruption the project still opens, read-only, and the
// corruption error is returned alongside the executor.
func OpenProject(dir string, bus *events.Bus, opts Options) (*Executor, error) {
	opts.normalise()

	ops, err := project.OpenOpsLog(dir)
	if err != nil {
		return nil, err
	}

	snaps := project.NewSnapshotStore(dir, opts.SnapshotKeep)

	state, baseOpID, err := loadLatestValidSnapshot(snaps, ops)
	if err != nil {
		_ = ops.Close()
		return nil, err
	}

	e := New(state, ops, snaps, bus, opts)

	if rerr := e.replay(baseOpID); rerr != nil {
		e.readOnly = true
		e.logger.Error().Err(rerr).Msg("replay failed, opening read-only")
		return e, rerr
	}

	if cerr := state.CheckInvariants(); cerr != nil {
		e.readOnly = true
		err := apperr.Corrupted(ops.Path(), state.LastOpID, cerr)
		e.logger.Error().Err(err).Msg("invariant violation after replay, opening read-only")
		return e, err
	}

	return e, nil
}

// loadLatestValidSnapshot walks snapshots newest-first, skipping any whose
// base operation is missing from the log (orphans).
func loadLatestValidSnapshot(snaps *project.SnapshotStore, ops *project.OpsLog) (*project.State, string, error) {
	paths := snaps.All()
	for i := len(paths) - 1; i >= 0; i-- {
		state, lastOpID, err := snaps.Read(paths[i])
		if err != nil {
			continue
		}
		if lastOpID != "" {
			ok, cerr := ops.Contains(lastOpID)
			if cerr != nil {
				return nil, "", cerr
			}
			if !ok {
				continue
			}
		}
		return state, lastOpID, nil
	}
	return nil, "", apperr.NotFound("project snapshot", "latest")
}

// replay applies every logged operation after baseOpID. Replay apply is
// infallible for a log that was written by this executor; any failure is
// surfaced as corruption with the offending operation id.
func (e *Executor) replay(baseOpID string) error {
	var replayUndo, replayRedo []undoRecord

	err := e.ops.IterFrom(baseOpID, func(op project.Operation) error {
		switch op.Kind {
		case kindUndo:
			var p compensatingPayload
			if err := json.Unmarshal(op.Payload, &p); err != nil {
				return apperr.Corrupted(e.ops.Path(), op.ID, err)
			}
			if len(replayUndo) == 0 {
				return apperr.Corrupted(e.ops.Path(), op.ID, errors.New("undo with empty undo stack"))
			}
			rec := replayUndo[len(replayUndo)-1]
			if rec.op.ID != p.TargetOpID {
				return apperr.Corrupted(e.ops.Path(), op.ID,
					errors.New("undo target does not match undo stack"))
			}
			replayUndo = replayUndo[:len(replayUndo)-1]
			if err := rec.cmd.Undo(e.state); err != nil {
				return apperr.Corrupted(e.ops.Path(), op.ID, err)
			}
			replayRedo = append(replayRedo, rec)

		case kindRedo:
			var p compensatingPayload
			if err := json.Unmarshal(op.Payload, &p); err != nil {
				return apperr.Corrupted(e.ops.Path(), op.ID, err)
			}
			if len(replayRedo) == 0 {
				return apperr.Corrupted(e.ops.Path(), op.ID, errors.New("redo with empty redo stack"))
			}
			rec := replayRedo[len(replayRedo)-1]
			if rec.op.ID != p.TargetOpID {
				return apperr.Corrupted(e.ops.Path(), op.ID,
					errors.New("redo target does not match redo stack"))
			}
			replayRedo = replayRedo[:len(replayRedo)-1]
			result, err := rec.cmd.Execute(e.state)
			if err != nil {
				return apperr.Corrupted(e.ops.Path(), op.ID, err)
			}
			rec.result = result
			replayUndo = append(replayUndo, rec)

		default:
			cmd, err := Decode(op.Kind, op.Payload)
			if err != nil {
				return apperr.Corrupted(e.ops.Path(), op.ID, err)
			}
			result, err := cmd.Execute(e.state)
			if err != nil {
				return apperr.Corrupted(e.ops.Path(), op.ID, err)
			}
			replayUndo = append(replayUndo, undoRecord{cmd: cmd, op: op, result: result})
			replayRedo = nil
		}

		e.state.LastOpID = op.ID
		e.state.Meta.ModifiedAt = op.TS
		return nil
	})
	if err != nil {
		return err
	}

	e.undo = replayUndo
	e.redo = replayRedo
	return nil
}

// ReadOnly reports whether the project was opened degraded.
func (e *Executor) ReadOnly() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.readOnly
}

// Read runs fn with shared access to the state. The state must not be
// retained or mutated; observers copy what they need.
func (e *Executor) Read(fn func(*project.State)) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	fn(e.state)
}

// ApplyJSON decodes a command arriving over the IPC surface by kind name
// and payload, then applies it.
func (e *Executor) ApplyJSON(ctx context.Context, kind string, payload json.RawMessage) (*Result, error) {
	cmd, err := Decode(kind, payload)
	if err != nil {
		metrics.IncCommand(kind, "rejected")
		return nil, err
	}
	return e.Apply(ctx, cmd)
}

// Apply runs the full pipeline for one command: precondition check and
// mutation, durable log append, change-set emission, undo bookkeeping.
// The operation is fsynced before the result or any event is visible.
func (e *Executor) Apply(ctx context.Context, cmd Command) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.readOnly {
		return nil, apperr.Conflict("projectReadOnly", "project is open read-only").WithCause(ErrReadOnly)
	}

	// Merge window: only the directly preceding command, only while the
	// redo stack is empty, and only when that command's operation is
	// still the log tail (a redo in between appends a compensating op).
	if len(e.undo) > 0 && len(e.redo) == 0 &&
		e.undo[len(e.undo)-1].op.ID == e.ops.LastOpID() {
		if m, ok := e.undo[len(e.undo)-1].cmd.(Merger); ok && m.CanMerge(cmd) {
			return e.applyMerged(ctx, m, cmd)
		}
	}

	result, err := cmd.Execute(e.state)
	if err != nil {
		metrics.IncCommand(cmd.TypeName(), "rejected")
		return nil, err
	}

	op, err := e.commit(ctx, cmd.TypeName(), cmd)
	if err != nil {
		// The mutation is rolled back with the captured undo state; the
		// in-memory state must match the log exactly.
		if uerr := cmd.Undo(e.state); uerr != nil {
			e.poison(uerr)
		}
		metrics.IncCommand(cmd.TypeName(), "failed")
		return nil, err
	}

	result.OpID = op.ID
	e.undo = append(e.undo, undoRecord{cmd: cmd, op: op, result: result})
	e.redo = nil

	metrics.IncCommand(cmd.TypeName(), "applied")
	e.afterCommit(op, cmd.TypeName(), result)
	return result, nil
}

// applyMerged executes next, then collapses it with the preceding command
// so the log keeps only the combined operation.
func (e *Executor) applyMerged(ctx context.Context, prev Merger, next Command) (*Result, error) {
	result, err := next.Execute(e.state)
	if err != nil {
		metrics.IncCommand(next.TypeName(), "rejected")
		return nil, err
	}

	prevRec := e.undo[len(e.undo)-1]
	merged := prev.Merge(next)

	// Replace the tail record: drop the previous operation, then append
	// the combined one. Both steps run under the executor lock.
	if err := e.ops.TruncateAfter(prevRec.op.PrevID); err != nil {
		if uerr := next.Undo(e.state); uerr != nil {
			e.poison(uerr)
		}
		metrics.IncCommand(next.TypeName(), "failed")
		return nil, err
	}

	op, err := e.commit(ctx, merged.TypeName(), merged)
	if err != nil {
		// Restore the previous tail so log and undo stack stay aligned.
		if uerr := next.Undo(e.state); uerr != nil {
			e.poison(uerr)
		} else if rerr := e.ops.Append(context.Background(), prevRec.op); rerr != nil {
			e.poison(rerr)
		} else {
			e.state.LastOpID = prevRec.op.ID
		}
		metrics.IncCommand(next.TypeName(), "failed")
		return nil, err
	}

	result.OpID = op.ID
	e.undo[len(e.undo)-1] = undoRecord{cmd: merged, op: op, result: result}

	metrics.IncCommand(merged.TypeName(), "applied")
	e.afterCommit(op, merged.TypeName(), result)
	return result, nil
}

// Undo reverts the most recent command and logs a compensating operation.
func (e *Executor) Undo(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.readOnly {
		return nil, apperr.Conflict("projectReadOnly", "project is open read-only").WithCause(ErrReadOnly)
	}
	if len(e.undo) == 0 {
		return nil, apperr.Conflict("nothingToUndo", "nothing to undo").WithCause(ErrNothingToUndo)
	}

	rec := e.undo[len(e.undo)-1]
	if err := rec.cmd.Undo(e.state); err != nil {
		e.poison(err)
		return nil, err
	}
	e.undo = e.undo[:len(e.undo)-1]

	op, err := e.commitCompensating(ctx, kindUndo, rec.op.ID)
	if err != nil {
		// Roll forward: re-execute to restore the pre-undo state.
		if _, rerr := rec.cmd.Execute(e.state); rerr != nil {
			e.poison(rerr)
		} else {
			e.undo = append(e.undo, rec)
		}
		return nil, err
	}

	e.redo = append(e.redo, rec)

	result := invertResult(rec.result)
	result.OpID = op.ID

	metrics.IncUndoRedo("undo")
	e.afterCommit(op, kindUndo, result)
	return result, nil
}

// Redo re-executes the most recently undone command.
func (e *Executor) Redo(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.readOnly {
		return nil, apperr.Conflict("projectReadOnly", "project is open read-only").WithCause(ErrReadOnly)
	}
	if len(e.redo) == 0 {
		return nil, apperr.Conflict("nothingToRedo", "nothing to redo").WithCause(ErrNothingToRedo)
	}

	rec := e.redo[len(e.redo)-1]
	result, err := rec.cmd.Execute(e.state)
	if err != nil {
		e.poison(err)
		return nil, err
	}
	e.redo = e.redo[:len(e.redo)-1]

	op, err := e.commitCompensating(ctx, kindRedo, rec.op.ID)
	if err != nil {
		if uerr := rec.cmd.Undo(e.state); uerr != nil {
			e.poison(uerr)
		} else {
			e.redo = append(e.redo, rec)
		}
		return nil, err
	}

	rec.result = result
	e.undo = append(e.undo, rec)

	result.OpID = op.ID
	metrics.IncUndoRedo("redo")
	e.afterCommit(op, kindRedo, result)
	return result, nil
}

// commit marshals the command payload and durably appends the operation.
func (e *Executor) commit(ctx context.Context, kind string, cmd Command) (project.Operation, error) {
	payload, err := cmd.MarshalPayload()
	if err != nil {
		return project.Operation{}, err
	}

	op := project.Operation{
		ID:      ids.New(),
		TS:      project.NowMillis(),
		Kind:    kind,
		Payload: payload,
		PrevID:  e.ops.LastOpID(),
	}

	actx, cancel := context.WithTimeout(ctx, e.appendTimeout)
	defer cancel()
	if err := e.ops.Append(actx, op); err != nil {
		return project.Operation{}, err
	}
	return op, nil
}

func (e *Executor) commitCompensating(ctx context.Context, kind, targetOpID string) (project.Operation, error) {
	payload, err := json.Marshal(compensatingPayload{TargetOpID: targetOpID})
	if err != nil {
		return project.Operation{}, apperr.IO("encode payload", err)
	}

	op := project.Operation{
		ID:      ids.New(),
		TS:      project.NowMillis(),
		Kind:    kind,
		Payload: payload,
		PrevID:  e.ops.LastOpID(),
	}

	actx, cancel := context.WithTimeout(ctx, e.appendTimeout)
	defer cancel()
	if err := e.ops.Append(actx, op); err != nil {
		return project.Operation{}, err
	}
	return op, nil
}

// afterCommit finalises in-memory bookkeeping once an operation is durable
// and publishes the change set.
func (e *Executor) afterCommit(op project.Operation, commandName string, result *Result) {
	e.state.LastOpID = op.ID
	e.state.Meta.ModifiedAt = op.TS

	e.sinceSnapshot++
	if e.sinceSnapshot >= e.snapshotEvery {
		e.writeSnapshotLocked()
	}

	if e.bus != nil {
		e.bus.Publish(events.ChangeSet{
			OpID:       op.ID,
			Command:    commandName,
			Changes:    result.Changes,
			CreatedIDs: result.CreatedIDs,
			DeletedIDs: result.DeletedIDs,
		})
	}
}

// Snapshot forces a durable checkpoint of the current state.
func (e *Executor) Snapshot() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.writeSnapshotLocked()
}

func (e *Executor) writeSnapshotLocked() error {
	if _, err := e.snaps.Write(e.state, e.state.LastOpID); err != nil {
		e.logger.Warn().Err(err).Msg("snapshot write failed")
		return err
	}
	e.sinceSnapshot = 0
	return nil
}

// poison flips the session read-only after an unrecoverable in-memory
// divergence: the state could not be rolled back to match the log.
func (e *Executor) poison(cause error) {
	e.readOnly = true
	e.logger.Error().Err(cause).Msg("state diverged from log, session now read-only")
}

// Close writes a final snapshot and releases the log.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var first error
	if !e.readOnly {
		if err := e.writeSnapshotLocked(); err != nil && first == nil {
			first = err
		}
	}
	if err := e.ops.Close(); err != nil && first == nil {
		first = err
	}
	return first
}

// invertResult mirrors a command's change set for undo emission: created
// entities are reported deleted and vice versa.
func invertResult(r *Result) *Result {
	if r == nil {
		return &Result{}
	}
	inv := &Result{
		CreatedIDs: append([]string(nil), r.DeletedIDs...),
		DeletedIDs: append([]string(nil), r.CreatedIDs...),
	}
	for _, c := range r.Changes {
		inv.Changes = append(inv.Changes, events.Change{Kind: invertKind(c.Kind), EntityID: c.EntityID})
	}
	return inv
}

func invertKind(k events.ChangeKind) events.ChangeKind {
	switch k {
	case events.ClipCreated:
		return events.ClipDeleted
	case events.ClipDeleted:
		return events.ClipCreated
	case events.TrackCreated:
		return events.TrackDeleted
	case events.TrackDeleted:
		return events.TrackCreated
	case events.AssetAdded:
		return events.AssetRemoved
	case events.AssetRemoved:
		return events.AssetAdded
	case events.BinCreated:
		return events.BinDeleted
	case events.BinDeleted:
		return events.BinCreated
	case events.CaptionCreated:
		return events.CaptionDeleted
	case events.CaptionDeleted:
		return events.CaptionCreated
	case events.EffectApplied:
		return events.EffectRemoved
	case events.EffectRemoved:
		return events.EffectApplied
	case events.MaskApplied:
		return events.MaskRemoved
	case events.MaskRemoved:
		return events.MaskApplied
	case events.SequenceCreated:
		return events.SequenceDeleted
	case events.SequenceDeleted:
		return events.SequenceCreated
	default:
		return k
	}
}
