package merge

import (
	"time"

	"github.com/mindwtr/mindwtr/internal/schema"
)

// ClockSkewThreshold is the timestamp drift between two copies of the same
// record above which a merge is reported as suspicious.
const ClockSkewThreshold = 5 * time.Minute

// MaxConflictIDs caps EntityStats.ConflictIDs and
// EntityStats.TimestampAdjustmentIDs.
const MaxConflictIDs = 20

// EntityStats describes the merge of one collection.
type EntityStats struct {
	LocalTotal    int `json:"localTotal" yaml:"localTotal"`
	IncomingTotal int `json:"incomingTotal" yaml:"incomingTotal"`
	MergedTotal   int `json:"mergedTotal" yaml:"mergedTotal"`

	// Added counts records that existed on only one side.
	Added int `json:"added" yaml:"added"`
	// Updated counts records present on both sides whose operation times
	// differ, resolved in favor of the later one.
	Updated int `json:"updated" yaml:"updated"`
	// Conflicts counts records with equal operation times and different
	// content. They resolve to the local copy.
	Conflicts int `json:"conflicts" yaml:"conflicts"`

	LocalOnly             int      `json:"localOnly" yaml:"localOnly"`
	IncomingOnly          int      `json:"incomingOnly" yaml:"incomingOnly"`
	ResolvedUsingLocal    int      `json:"resolvedUsingLocal" yaml:"resolvedUsingLocal"`
	ResolvedUsingIncoming int      `json:"resolvedUsingIncoming" yaml:"resolvedUsingIncoming"`
	DeletionsWon          int      `json:"deletionsWon" yaml:"deletionsWon"`
	ConflictIDs           []string `json:"conflictIds" yaml:"conflictIds"`
	MaxClockSkewMs        int64    `json:"maxClockSkewMs" yaml:"maxClockSkewMs"`

	// TimestampAdjustments counts records whose createdAt was later than
	// updatedAt and was reset to it.
	TimestampAdjustments   int      `json:"timestampAdjustments" yaml:"timestampAdjustments"`
	TimestampAdjustmentIDs []string `json:"timestampAdjustmentIds" yaml:"timestampAdjustmentIds"`
}

// Stats aggregates EntityStats across the four collections.
type Stats struct {
	Tasks    EntityStats `json:"tasks" yaml:"tasks"`
	Projects EntityStats `json:"projects" yaml:"projects"`
	Sections EntityStats `json:"sections" yaml:"sections"`
	Areas    EntityStats `json:"areas" yaml:"areas"`
}

// Collection returns the stats for the named collection.
func (s Stats) Collection(name string) EntityStats {
	switch name {
	case schema.CollectionTasks:
		return s.Tasks
	case schema.CollectionProjects:
		return s.Projects
	case schema.CollectionSections:
		return s.Sections
	case schema.CollectionAreas:
		return s.Areas
	default:
		return EntityStats{}
	}
}

func (s *Stats) set(name string, es EntityStats) {
	switch name {
	case schema.CollectionTasks:
		s.Tasks = es
	case schema.CollectionProjects:
		s.Projects = es
	case schema.CollectionSections:
		s.Sections = es
	case schema.CollectionAreas:
		s.Areas = es
	}
}

// TotalConflicts sums conflicts across all collections.
func (s Stats) TotalConflicts() int {
	return s.Tasks.Conflicts + s.Projects.Conflicts + s.Sections.Conflicts + s.Areas.Conflicts
}

// TotalAdded sums additions across all collections.
func (s Stats) TotalAdded() int {
	return s.Tasks.Added + s.Projects.Added + s.Sections.Added + s.Areas.Added
}

// TotalUpdated sums updates across all collections.
func (s Stats) TotalUpdated() int {
	return s.Tasks.Updated + s.Projects.Updated + s.Sections.Updated + s.Areas.Updated
}

// TotalTimestampAdjustments sums timestamp repairs across all collections.
func (s Stats) TotalTimestampAdjustments() int {
	return s.Tasks.TimestampAdjustments + s.Projects.TimestampAdjustments +
		s.Sections.TimestampAdjustments + s.Areas.TimestampAdjustments
}

// MaxClockSkew returns the largest skew seen in any collection.
func (s Stats) MaxClockSkew() time.Duration {
	maxMs := s.Tasks.MaxClockSkewMs
	for _, ms := range []int64{s.Projects.MaxClockSkewMs, s.Sections.MaxClockSkewMs, s.Areas.MaxClockSkewMs} {
		if ms > maxMs {
			maxMs = ms
		}
	}
	return time.Duration(maxMs) * time.Millisecond
}

// ConflictIDs returns up to limit conflicting ids, tasks first.
func (s Stats) ConflictIDs(limit int) []string {
	ids := make([]string, 0, limit)
	for _, name := range schema.Collections {
		for _, id := range s.Collection(name).ConflictIDs {
			if len(ids) >= limit {
				return ids
			}
			ids = append(ids, id)
		}
	}
	return ids
}
