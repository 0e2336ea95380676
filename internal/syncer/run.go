package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mindwtr/mindwtr/internal/config"
	"github.com/mindwtr/mindwtr/internal/merge"
	"github.com/mindwtr/mindwtr/internal/schema"
)

// Preview is the outcome of a sync run that writes nothing.
type Preview struct {
	Backend config.Backend
	Local   schema.AppData
	Remote  schema.AppData
	Merged  schema.AppData
	Stats   merge.Stats
}

// DryRun reads both sides and merges them without writing anywhere or
// touching sync metadata. It does not take part in single-flight.
func (o *Orchestrator) DryRun(ctx context.Context) (*Preview, error) {
	target, err := o.backends.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	if err := o.store.FlushPendingSave(ctx); err != nil {
		return nil, &StepError{Step: StepReadLocal, Err: err}
	}
	local, remote, step, err := o.read(ctx, target)
	if err != nil {
		return nil, &StepError{Step: step, Err: err}
	}
	res := merge.MergeAt(local, remote, o.clock.Now())
	return &Preview{
		Backend: target.Backend,
		Local:   local,
		Remote:  remote,
		Merged:  res.Data,
		Stats:   res.Stats,
	}, nil
}

// run executes one sync cycle. It never returns an error: every failure is
// folded into the Result.
func (o *Orchestrator) run(ctx context.Context) Result {
	res := Result{StartedAt: o.clock.Now()}

	target, err := o.backends.Resolve(ctx)
	if err != nil {
		res.FinishedAt = o.clock.Now()
		var ce *ConfigError
		if errors.As(err, &ce) {
			res.Backend = ce.Backend
		}
		if res.Backend == config.BackendOff {
			o.logger.Printf("Sync skipped: %v", err)
			res.Status = StatusError
			res.Step = StepConfig
			res.Err = err
			res.Error = err.Error()
			return res
		}
		return o.fail(ctx, res, StepConfig, err)
	}
	res.Backend = target.Backend

	stats, step, err := o.cycle(ctx, target)
	res.FinishedAt = o.clock.Now()
	if err != nil {
		return o.fail(ctx, res, step, err)
	}

	res.Success = true
	res.Stats = &stats
	res.Status = StatusSuccess
	if stats.TotalConflicts() > 0 {
		res.Status = StatusConflict
	}
	o.logger.Printf("Sync complete via %s: %d added, %d updated, %d conflicts",
		target.Backend, stats.TotalAdded(), stats.TotalUpdated(), stats.TotalConflicts())
	return res
}

func (o *Orchestrator) cycle(ctx context.Context, target Target) (merge.Stats, Step, error) {
	rev := o.store.Revision()
	if err := o.store.FlushPendingSave(ctx); err != nil {
		return merge.Stats{}, StepReadLocal, err
	}

	end := o.store.BeginMerge()
	released := false
	release := func() {
		if !released {
			released = true
			end()
		}
	}
	defer release()

	local, remote, step, err := o.read(ctx, target)
	if err != nil {
		return merge.Stats{}, step, err
	}

	now := o.clock.Now()
	local, _ = merge.PurgeExpiredTombstones(local, now, o.retentionDays)
	remote, _ = merge.PurgeExpiredTombstones(remote, now, o.retentionDays)

	res := merge.MergeAt(local, remote, now)
	stats := res.Stats
	if skew := stats.MaxClockSkew(); skew > merge.ClockSkewThreshold {
		o.logger.Printf("Warning: clock skew of %s detected between devices; check system time", skew.Round(time.Second))
	}
	if n := stats.TotalTimestampAdjustments(); n > 0 {
		o.logger.Printf("Normalized createdAt after updatedAt on %d records", n)
	}

	merged, err := o.stamp(res.Data, target.Backend, stats, now)
	if err != nil {
		return stats, StepMerge, err
	}
	if problems := schema.ValidateMerged(merged); len(problems) > 0 {
		return stats, StepMerge, fmt.Errorf("merged data is invalid: %s", strings.Join(problems, "; "))
	}
	merged, _ = merge.PurgeExpiredTombstones(merged, now, o.retentionDays)

	merged, err = o.store.ReplaceSince(ctx, rev, merged, o.rebase(now))
	if err != nil {
		return stats, StepWriteLocal, err
	}
	release()

	if err := o.writeRemote(ctx, target, merged); err != nil {
		return stats, StepWriteRemote, err
	}

	if err := o.refresh(ctx); err != nil {
		return stats, StepRefreshUI, err
	}
	return stats, "", nil
}

// read loads and shape-checks both sides.
func (o *Orchestrator) read(ctx context.Context, target Target) (local, remote schema.AppData, step Step, err error) {
	local, err = o.store.Adapter().GetData(ctx)
	if err != nil {
		return local, remote, StepReadLocal, err
	}
	local = schema.Normalize(local)

	raw, err := target.Client.GetJSON(ctx)
	if err != nil {
		return local, remote, StepReadRemote, err
	}
	if problems := schema.ValidatePayload(raw, "remote"); len(problems) > 0 {
		return local, remote, StepReadRemote, fmt.Errorf("invalid remote sync payload: %s", strings.Join(problems, "; "))
	}
	return local, schema.FromAny(raw), "", nil
}

// stamp writes the sync-owned settings for a successful merge.
func (o *Orchestrator) stamp(merged schema.AppData, backend config.Backend, stats merge.Stats, now time.Time) (schema.AppData, error) {
	out := merged.Clone()
	if out.Settings == nil {
		out.Settings = schema.Settings{}
	}

	status := StatusSuccess
	if stats.TotalConflicts() > 0 {
		status = StatusConflict
	}
	at := schema.FormatTime(now)

	generic, err := toGeneric(stats)
	if err != nil {
		return out, fmt.Errorf("failed to encode sync stats: %w", err)
	}
	out.Settings[schema.KeyLastSyncAt] = at
	out.Settings[schema.KeyLastSyncStatus] = status
	out.Settings[schema.KeyLastSyncStats] = generic
	delete(out.Settings, schema.KeyLastSyncError)

	entry := schema.SyncHistoryEntry{
		At:             at,
		Status:         status,
		Backend:        string(backend),
		Type:           "merge",
		Conflicts:      stats.TotalConflicts(),
		ConflictIDs:    stats.ConflictIDs(merge.MaxConflictIDs),
		MaxClockSkewMs: stats.MaxClockSkew().Milliseconds(),
	}
	if err := out.Settings.AppendHistory(entry, o.historyLimit); err != nil {
		return out, err
	}
	schema.EnsureDeviceID(out.Settings)
	return out, nil
}

func (o *Orchestrator) writeRemote(ctx context.Context, target Target, merged schema.AppData) error {
	payload := merge.SanitizeForRemote(merged)
	if target.Backend == config.BackendFile && o.marker != nil {
		o.marker.MarkLocalWrite()
		defer o.marker.MarkLocalWrite()
	}
	return target.Client.PutJSON(ctx, payload)
}

// rebase folds local edits made while a run was reading or merging into the
// run's result. The result's sync-owned settings and device id are kept.
func (o *Orchestrator) rebase(now time.Time) func(current, merged schema.AppData) schema.AppData {
	return func(current, merged schema.AppData) schema.AppData {
		o.logger.Printf("Local edits arrived during sync; merging them into the result")
		out := merge.MergeAt(current, merged, now).Data
		keys := append([]string{schema.KeyDeviceID}, schema.SyncOwnedKeys...)
		for _, key := range keys {
			if v, ok := merged.Settings[key]; ok {
				out.Settings[key] = v
			} else {
				delete(out.Settings, key)
			}
		}
		out, _ = merge.PurgeExpiredTombstones(out, now, o.retentionDays)
		return out
	}
}

// refresh reloads the store from what was persisted. Edits made while the
// run was writing are saved first so the reload keeps them.
func (o *Orchestrator) refresh(ctx context.Context) error {
	if err := o.store.FlushPendingSave(ctx); err != nil {
		return err
	}
	return o.store.Load(ctx)
}

// fail records a failed run in settings. When the persisted data cannot be
// read back the failure is only logged, so a damaged file is never
// overwritten by the error stamp.
func (o *Orchestrator) fail(ctx context.Context, res Result, step Step, err error) Result {
	stepErr := &StepError{Step: step, Err: err}
	o.logger.Printf("Sync failed via %s: %v", res.Backend, stepErr)

	res.Success = false
	res.Status = StatusError
	res.Step = step
	res.Err = stepErr
	res.Error = stepErr.Error()

	ctx = context.WithoutCancel(ctx)
	if err := o.store.FlushPendingSave(ctx); err != nil {
		o.logger.Printf("Failed to save pending edits after sync error: %v", err)
	}
	if err := o.store.Load(ctx); err != nil {
		o.logger.Printf("Failed to refresh data after sync error: %v", err)
		return res
	}

	at := schema.FormatTime(res.FinishedAt)
	msg := SanitizeErrorMessage(stepErr.Error(), o.logPath)
	history := o.store.Snapshot().Settings.Clone()
	if history == nil {
		history = schema.Settings{}
	}
	entry := schema.SyncHistoryEntry{
		At:          at,
		Status:      StatusError,
		Backend:     string(res.Backend),
		Type:        "merge",
		ConflictIDs: []string{},
		Error:       msg,
	}
	if err := history.AppendHistory(entry, o.historyLimit); err != nil {
		o.logger.Printf("Failed to record sync history: %v", err)
		return res
	}

	patch := map[string]any{
		schema.KeyLastSyncAt:      at,
		schema.KeyLastSyncStatus:  StatusError,
		schema.KeyLastSyncError:   msg,
		schema.KeyLastSyncHistory: history[schema.KeyLastSyncHistory],
	}
	if err := o.store.UpdateSettings(ctx, patch); err != nil {
		o.logger.Printf("Failed to persist sync status: %v", err)
	}
	return res
}

// toGeneric converts v to its decoded JSON form so it can live in settings.
func toGeneric(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return schema.Decode(data)
}
