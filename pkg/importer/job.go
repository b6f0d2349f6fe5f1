package importer

import (
	"fmt"
	"time"
)

// CollectionState tracks where a collection is in its pipeline
type CollectionState string

const (
	StatePending  CollectionState = "pending"
	StateCreating CollectionState = "creating"
	StateUpdating CollectionState = "updating"
	StateDone     CollectionState = "done"
	StateFailed   CollectionState = "failed"
)

// ItemAction describes what happened to one record
type ItemAction string

const (
	ActionCreated ItemAction = "created"
	ActionUpdated ItemAction = "updated"
	ActionMerged  ItemAction = "merged"
	ActionSkipped ItemAction = "skipped"
	ActionFailed  ItemAction = "failed"
)

// Failure captures one record-level failure in an inspectable form
type Failure struct {
	Collection string
	SourceID   string
	Stage      string // "create", "update", "transform", "validate", "drain"
	Reason     string
}

// String returns a formatted failure message
func (f Failure) String() string {
	return fmt.Sprintf("[%s/%s] %s: %s", f.Collection, f.Stage, f.SourceID, f.Reason)
}

// ItemResult is the outcome of processing one record
type ItemResult struct {
	SourceID string
	TargetID string
	Action   ItemAction
	Stage    string
	Err      error
}

func created(sourceID, targetID string) ItemResult {
	return ItemResult{SourceID: sourceID, TargetID: targetID, Action: ActionCreated}
}

func updated(sourceID, targetID string) ItemResult {
	return ItemResult{SourceID: sourceID, TargetID: targetID, Action: ActionUpdated}
}

func merged(sourceID, targetID string) ItemResult {
	return ItemResult{SourceID: sourceID, TargetID: targetID, Action: ActionMerged}
}

func skipped(sourceID, stage string, err error) ItemResult {
	return ItemResult{SourceID: sourceID, Action: ActionSkipped, Stage: stage, Err: err}
}

func failed(sourceID, stage string, err error) ItemResult {
	return ItemResult{SourceID: sourceID, Action: ActionFailed, Stage: stage, Err: err}
}

// CollectionResult aggregates item results for one collection
type CollectionResult struct {
	Collection string
	State      CollectionState
	Created    int
	Updated    int
	Merged     int
	Skipped    int
	Failed     int
	Failures   []Failure
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
}

// NewCollectionResult initializes a result for a collection
func NewCollectionResult(collection string) *CollectionResult {
	return &CollectionResult{
		Collection: collection,
		State:      StatePending,
		StartTime:  time.Now(),
		Failures:   make([]Failure, 0),
	}
}

// Add incorporates one item result
func (r *CollectionResult) Add(item ItemResult) {
	switch item.Action {
	case ActionCreated:
		r.Created++
	case ActionUpdated:
		r.Updated++
	case ActionMerged:
		r.Merged++
	case ActionSkipped:
		r.Skipped++
	case ActionFailed:
		r.Failed++
	}

	if item.Err != nil {
		r.Failures = append(r.Failures, Failure{
			Collection: r.Collection,
			SourceID:   item.SourceID,
			Stage:      item.Stage,
			Reason:     item.Err.Error(),
		})
	}
}

// Complete marks the collection done and calculates duration
func (r *CollectionResult) Complete() {
	r.State = StateDone
	r.EndTime = time.Now()
	r.Duration = r.EndTime.Sub(r.StartTime)
}

// Fail marks the collection failed with a fatal reason
func (r *CollectionResult) Fail(stage string, err error) {
	r.State = StateFailed
	r.EndTime = time.Now()
	r.Duration = r.EndTime.Sub(r.StartTime)
	r.Failures = append(r.Failures, Failure{
		Collection: r.Collection,
		Stage:      stage,
		Reason:     err.Error(),
	})
}

// Processed returns the number of records that reached the store
func (r *CollectionResult) Processed() int {
	return r.Created + r.Updated + r.Merged
}

// RunSummary is the final outcome of one migration run
type RunSummary struct {
	DatabaseID      string
	Collections     []*CollectionResult
	Created         int
	Updated         int
	Merged          int
	Skipped         int
	Failed          int
	RewrittenRefs   int
	ResolvedRefs    int
	SkippedRefs     int
	UnresolvedRefs  int
	DrainedActions  int
	PendingActions  int
	StartTime       time.Time
	EndTime         time.Time
	Duration        time.Duration
}

// NewRunSummary initializes a summary for a database migration
func NewRunSummary(databaseID string) *RunSummary {
	return &RunSummary{
		DatabaseID:  databaseID,
		Collections: make([]*CollectionResult, 0),
		StartTime:   time.Now(),
	}
}

// AddCollection incorporates a collection result into the summary
func (s *RunSummary) AddCollection(result *CollectionResult) {
	s.Collections = append(s.Collections, result)
	s.Created += result.Created
	s.Updated += result.Updated
	s.Merged += result.Merged
	s.Skipped += result.Skipped
	s.Failed += result.Failed
}

// Complete marks the run finished and calculates duration
func (s *RunSummary) Complete() {
	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)
}

// AllFailures flattens every collection's failures
func (s *RunSummary) AllFailures() []Failure {
	out := make([]Failure, 0)
	for _, coll := range s.Collections {
		out = append(out, coll.Failures...)
	}
	return out
}
