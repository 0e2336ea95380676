package merge

import (
	"time"

	"github.com/mindwtr/mindwtr/internal/canonical"
	"github.com/mindwtr/mindwtr/internal/schema"
)

// Result is the output of Merge.
type Result struct {
	Data  schema.AppData
	Stats Stats
}

// Merge combines two snapshots with record-level last-write-wins, using the
// current time for areas that carry no timestamps at all.
func Merge(local, incoming schema.AppData) Result {
	return MergeAt(local, incoming, time.Now())
}

// MergeAt is Merge with an explicit time for missing area timestamps.
//
// Both inputs are normalized first, so callers may pass raw documents. The
// result is normalized and shares no memory with either input. A record whose
// createdAt is later than its updatedAt gets createdAt = updatedAt.
func MergeAt(local, incoming schema.AppData, now time.Time) Result {
	local = schema.Normalize(local)
	incoming = schema.Normalize(incoming)

	fillAreaTimestamps(local.Areas, now)
	fillAreaTimestamps(incoming.Areas, now)

	var res Result
	res.Data.Settings = MergeSettings(local.Settings, incoming.Settings)
	for _, name := range schema.Collections {
		merged, stats := mergeRecords(local.Collection(name), incoming.Collection(name))
		res.Data.SetCollection(name, merged)
		res.Stats.set(name, stats)
	}
	return res
}

// fillAreaTimestamps gives every area both timestamps, borrowing one from
// the other and falling back to now.
func fillAreaTimestamps(areas []schema.Record, now time.Time) {
	fallback := schema.FormatTime(now)
	for _, a := range areas {
		created, updated := a.CreatedAt(), a.UpdatedAt()
		switch {
		case created == "" && updated == "":
			a["createdAt"], a["updatedAt"] = fallback, fallback
		case created == "":
			a["createdAt"] = updated
		case updated == "":
			a["updatedAt"] = created
		}
	}
}

// mergeRecords merges one collection keyed by id. Output order is the local
// order followed by incoming-only records in incoming order.
func mergeRecords(local, incoming []schema.Record) ([]schema.Record, EntityStats) {
	stats := EntityStats{
		LocalTotal:    len(local),
		IncomingTotal: len(incoming),
		ConflictIDs:   []string{},

		TimestampAdjustmentIDs: []string{},
	}

	localByID, localOrder := index(local)
	incomingByID, incomingOrder := index(incoming)

	merged := make([]schema.Record, 0, len(localOrder)+len(incomingOrder))

	for _, id := range localOrder {
		l := fixTimestamps(id, localByID[id], &stats)
		r, ok := incomingByID[id]
		if !ok {
			stats.LocalOnly++
			stats.ResolvedUsingLocal++
			merged = append(merged, l.Clone())
			continue
		}
		r = fixTimestamps(id, r, &stats)
		merged = append(merged, resolve(id, l, r, &stats).Clone())
	}

	for _, id := range incomingOrder {
		if _, ok := localByID[id]; ok {
			continue
		}
		stats.IncomingOnly++
		stats.ResolvedUsingIncoming++
		merged = append(merged, fixTimestamps(id, incomingByID[id], &stats).Clone())
	}

	stats.Added = stats.LocalOnly + stats.IncomingOnly
	stats.MergedTotal = len(merged)
	return merged, stats
}

// resolve picks the winner between two copies of the same record.
func resolve(id string, local, incoming schema.Record, stats *EntityStats) schema.Record {
	if lu, iu := local.UpdatedMillis(), incoming.UpdatedMillis(); lu >= 0 && iu >= 0 {
		skew := lu - iu
		if skew < 0 {
			skew = -skew
		}
		if skew > stats.MaxClockSkewMs {
			stats.MaxClockSkewMs = skew
		}
	}

	localTime := local.OperationMillis()
	incomingTime := incoming.OperationMillis()

	var winner, loser schema.Record
	switch {
	case incomingTime > localTime:
		winner, loser = incoming, local
		stats.Updated++
		stats.ResolvedUsingIncoming++
	case localTime > incomingTime:
		winner, loser = local, incoming
		stats.Updated++
		stats.ResolvedUsingLocal++
	default:
		winner, loser = local, incoming
		stats.ResolvedUsingLocal++
		if !canonical.Equal(local, incoming) {
			stats.Conflicts++
			if len(stats.ConflictIDs) < MaxConflictIDs {
				stats.ConflictIDs = append(stats.ConflictIDs, id)
			}
		}
	}

	if winner.IsDeleted() && !loser.IsDeleted() {
		stats.DeletionsWon++
	}
	return winner
}

// fixTimestamps returns r with createdAt pulled back to updatedAt when a
// skewed clock left it later. The input is never modified.
func fixTimestamps(id string, r schema.Record, stats *EntityStats) schema.Record {
	created, okCreated := schema.ParseTime(r.CreatedAt())
	updated, okUpdated := schema.ParseTime(r.UpdatedAt())
	if !okCreated || !okUpdated || !updated.Before(created) {
		return r
	}
	fixed := r.Clone()
	fixed["createdAt"] = r.UpdatedAt()
	stats.TimestampAdjustments++
	if len(stats.TimestampAdjustmentIDs) < MaxConflictIDs && !contains(stats.TimestampAdjustmentIDs, id) {
		stats.TimestampAdjustmentIDs = append(stats.TimestampAdjustmentIDs, id)
	}
	return fixed
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// index maps records by id. A duplicated id keeps its first position and
// its last value.
func index(records []schema.Record) (map[string]schema.Record, []string) {
	byID := make(map[string]schema.Record, len(records))
	order := make([]string, 0, len(records))
	for _, r := range records {
		id := r.ID()
		if id == "" {
			continue
		}
		if _, seen := byID[id]; !seen {
			order = append(order, id)
		}
		byID[id] = r
	}
	return byID, order
}
