// Package memory implements the Memory Pipeline: a typed, embedded
// fact/preference/decision graph with hybrid vector+keyword recall fused
// by Reciprocal Rank Fusion, graph-walk expansion, and a maintenance job
// that decays, prunes, and merges records over time. Branch, the
// compaction Worker, and Cortex are the only permitted callers — Channel
// never writes Memory directly.
package memory

import (
	"time"
)

// Kind is the closed set of Memory categories.
type Kind string

const (
	KindFact        Kind = "fact"
	KindPreference  Kind = "preference"
	KindDecision    Kind = "decision"
	KindIdentity    Kind = "identity"
	KindEvent       Kind = "event"
	KindObservation Kind = "observation"
	KindGoal        Kind = "goal"
)

// Relation is the closed set of Association edge types.
type Relation string

const (
	RelationRelatedTo  Relation = "related_to"
	RelationUpdates    Relation = "updates"
	RelationContradicts Relation = "contradicts"
	RelationCausedBy   Relation = "caused_by"
	RelationPartOf     Relation = "part_of"
)

// Memory is a single persisted record in the pipeline.
type Memory struct {
	ID              string
	Content         string
	Kind            Kind
	Importance      float64
	CreatedAt       time.Time
	LastAccessedAt  time.Time
	SourceChannelID string
	Forgotten       bool
	UserAssociation string
}

// Association is a directed, weighted edge between two Memory ids.
type Association struct {
	ID       string
	FromID   string
	ToID     string
	Relation Relation
	Weight   float64
}

// clampImportance enforces invariant (iv): importance always lands in
// [0,1].
func clampImportance(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
