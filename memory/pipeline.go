package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/spacebot/kernel/store"
	"github.com/spacebot/kernel/telemetry"
)

// near-duplicate and "updates" similarity thresholds from the save path.
const (
	associationSimilarityFloor = 0.6
	updatesSimilarityThreshold = 0.9
	mergeSimilarityThreshold   = 0.95
	maxAutoAssociations        = 5
)

// Embedder turns text into a vector embedding. It is an external
// collaborator — the Save path always calls it before persisting, so a
// Memory is never stored without an embedding.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SaveInput is what a caller supplies to Save; fields the pipeline itself
// computes (ID, CreatedAt, LastAccessedAt) are not settable.
type SaveInput struct {
	Content         string
	Kind            Kind
	Importance      float64
	SourceChannelID string
	UserAssociation string
	// Contradicts, if set, is the id of an existing Memory this save
	// explicitly supersedes; the pipeline writes a Contradicts edge for
	// it regardless of similarity.
	Contradicts string
}

// RecallQuery parameterizes Recall.
type RecallQuery struct {
	Text            string
	Kind            Kind
	UserAssociation string
	IncludeForgotten bool
	Limit           int
	// ExpandGraph, when true, walks one hop of associations from the
	// fused top results and folds related Memories into the result set.
	// It applies only when Text is set; a recency recall ignores it.
	ExpandGraph bool
}

// Pipeline is the Memory Pipeline: the only path to persisted Memory.
type Pipeline struct {
	records  store.RelationalStore
	vectors  store.VectorStore
	fulltext store.FullTextStore
	embedder Embedder
	telemetry telemetry.Set
}

// New returns a Pipeline. telemetry may be the zero value, in which case
// telemetry.Noop() collaborators are used.
func New(records store.RelationalStore, vectors store.VectorStore, fulltext store.FullTextStore, embedder Embedder, tel telemetry.Set) *Pipeline {
	if tel.Logger == nil {
		tel = telemetry.Noop()
	}
	return &Pipeline{records: records, vectors: vectors, fulltext: fulltext, embedder: embedder, telemetry: tel}
}

// Save persists a new Memory, auto-associating it with similar existing
// Memories and recording Updates/Contradicts edges per the pipeline's
// rules. Only Branch, the compaction Worker, and Cortex may call this.
func (p *Pipeline) Save(ctx context.Context, in SaveInput) (Memory, error) {
	if in.Content == "" {
		return Memory{}, fmt.Errorf("memory: content is required")
	}

	embedding, err := p.embedder.Embed(ctx, in.Content)
	if err != nil {
		return Memory{}, fmt.Errorf("memory: embed: %w", err)
	}

	now := time.Now().UTC()
	m := Memory{
		ID:              uuid.NewString(),
		Content:         in.Content,
		Kind:            in.Kind,
		Importance:      clampImportance(in.Importance),
		CreatedAt:       now,
		LastAccessedAt:  now,
		SourceChannelID: in.SourceChannelID,
		UserAssociation: in.UserAssociation,
	}

	if err := p.records.SaveRecord(ctx, toRecord(m)); err != nil {
		return Memory{}, fmt.Errorf("memory: save record: %w", err)
	}
	if err := p.vectors.Upsert(ctx, m.ID, embedding); err != nil {
		return Memory{}, fmt.Errorf("memory: upsert embedding: %w", err)
	}
	if err := p.fulltext.Index(ctx, m.ID, m.Content); err != nil {
		return Memory{}, fmt.Errorf("memory: index content: %w", err)
	}

	if in.Contradicts != "" {
		if err := p.writeAssociation(ctx, m.ID, in.Contradicts, RelationContradicts, 1); err != nil {
			p.telemetry.Logger.Warn(ctx, "memory: failed to write explicit contradicts edge", "err", err)
		}
	}

	if err := p.autoAssociate(ctx, m, embedding); err != nil {
		p.telemetry.Logger.Warn(ctx, "memory: auto-association failed", "err", err)
	}

	return m, nil
}

// autoAssociate implements save()'s similarity-driven edge rules: RelatedTo
// for anything above the association floor, Updates when similarity
// crosses the updates threshold (also queuing the prior record's
// importance for decay), and Contradicts per the resolved open question
// when content differs materially at high similarity.
func (p *Pipeline) autoAssociate(ctx context.Context, m Memory, embedding []float32) error {
	hits, err := p.vectors.Query(ctx, embedding, maxAutoAssociations+1)
	if err != nil {
		return err
	}

	for _, hit := range hits {
		if hit.ID == m.ID || hit.Score < associationSimilarityFloor {
			continue
		}
		relation := RelationRelatedTo
		switch {
		case hit.Score >= mergeSimilarityThreshold:
			// Handled by the maintenance job's merge pass, not here:
			// Save never merges inline.
			relation = RelationUpdates
		case hit.Score >= updatesSimilarityThreshold:
			relation = RelationUpdates
		}

		if relation == RelationUpdates {
			if err := p.decayCandidate(ctx, hit.ID); err != nil {
				p.telemetry.Logger.Warn(ctx, "memory: failed to flag updated memory for decay", "err", err)
			}
			if contentDiffers(ctx, p, hit.ID, m.Content) {
				relation = RelationContradicts
			}
		}

		if err := p.writeAssociation(ctx, m.ID, hit.ID, relation, hit.Score); err != nil {
			return err
		}
	}
	return nil
}

func contentDiffers(ctx context.Context, p *Pipeline, existingID, newContent string) bool {
	existing, err := p.records.GetRecord(ctx, existingID)
	if err != nil {
		return false
	}
	return existing.Content != newContent
}

// decayCandidate marks an existing memory's importance down a step; the
// maintenance job applies the full time-decay curve, this is just the
// immediate nudge save() triggers on an Updates edge.
func (p *Pipeline) decayCandidate(ctx context.Context, id string) error {
	rec, err := p.records.GetRecord(ctx, id)
	if err != nil {
		return err
	}
	if rec.Kind == string(KindIdentity) {
		return nil
	}
	rec.Importance = clampImportance(rec.Importance * 0.5)
	return p.records.SaveRecord(ctx, rec)
}

func (p *Pipeline) writeAssociation(ctx context.Context, from, to string, relation Relation, weight float64) error {
	return p.records.SaveAssociation(ctx, store.AssociationRecord{
		ID:       uuid.NewString(),
		FromID:   from,
		ToID:     to,
		Relation: string(relation),
		Weight:   weight,
	})
}

// Recall performs hybrid vector+keyword search, fuses the two rankings
// with Reciprocal Rank Fusion, optionally expands one hop along the
// association graph, applies filters, and returns at most Limit Memories.
func (p *Pipeline) Recall(ctx context.Context, q RecallQuery) ([]Memory, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}

	if q.Text == "" {
		return p.recallByRecency(ctx, q, limit)
	}

	var vectorIDs, textIDs []string

	if p.embedder != nil {
		embedding, err := p.embedder.Embed(ctx, q.Text)
		if err != nil {
			return nil, fmt.Errorf("memory: embed query: %w", err)
		}
		hits, err := p.vectors.Query(ctx, embedding, limit*4)
		if err != nil {
			return nil, fmt.Errorf("memory: vector query: %w", err)
		}
		vectorIDs = idsOf(hits)
	}

	hits, err := p.fulltext.Search(ctx, q.Text, limit*4)
	if err != nil {
		return nil, fmt.Errorf("memory: fulltext search: %w", err)
	}
	textIDs = idsOf(hits)

	fused, _ := fuseScored(vectorIDs, textIDs)

	if q.ExpandGraph {
		fused = p.expandGraph(ctx, fused, limit)
	}

	out := make([]Memory, 0, limit)
	for _, id := range fused {
		rec, err := p.records.GetRecord(ctx, id)
		if err != nil {
			continue
		}
		if !matchesFilter(rec, q) {
			continue
		}
		out = append(out, toMemory(rec))
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// recallByRecency serves a Kind-only (no query text) RecallQuery: there is
// nothing to rank against, so the pipeline falls back to most-recently
// created, filtered the same way a ranked Recall would be.
func (p *Pipeline) recallByRecency(ctx context.Context, q RecallQuery, limit int) ([]Memory, error) {
	recs, err := p.records.ListRecent(ctx, limit*4)
	if err != nil {
		return nil, fmt.Errorf("memory: list recent: %w", err)
	}

	out := make([]Memory, 0, limit)
	for _, rec := range recs {
		if !matchesFilter(rec, q) {
			continue
		}
		out = append(out, toMemory(rec))
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// expandGraph walks one hop of associations from the current fused
// ranking's leading ids, appending any newly discovered neighbor ids at
// the end so they are only used to fill out remaining slots.
func (p *Pipeline) expandGraph(ctx context.Context, fused []string, limit int) []string {
	seed := fused
	if len(seed) > limit {
		seed = seed[:limit]
	}
	seen := make(map[string]bool, len(fused))
	for _, id := range fused {
		seen[id] = true
	}
	out := append([]string(nil), fused...)
	for _, id := range seed {
		assocs, err := p.records.Associations(ctx, id)
		if err != nil {
			continue
		}
		for _, a := range assocs {
			neighbor := a.ToID
			if neighbor == id {
				neighbor = a.FromID
			}
			if !seen[neighbor] {
				seen[neighbor] = true
				out = append(out, neighbor)
			}
		}
	}
	return out
}

func matchesFilter(rec store.Record, q RecallQuery) bool {
	if rec.Forgotten && !q.IncludeForgotten {
		return false
	}
	if q.Kind != "" && rec.Kind != string(q.Kind) {
		return false
	}
	if q.UserAssociation != "" && rec.Meta["user_association"] != q.UserAssociation {
		return false
	}
	return true
}

func idsOf(hits []store.ScoredID) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.ID
	}
	return out
}

func toRecord(m Memory) store.Record {
	meta := map[string]any{}
	if m.UserAssociation != "" {
		meta["user_association"] = m.UserAssociation
	}
	return store.Record{
		ID:              m.ID,
		Kind:            string(m.Kind),
		Content:         m.Content,
		Importance:      m.Importance,
		SourceChannelID: m.SourceChannelID,
		CreatedAt:       m.CreatedAt,
		LastAccessedAt:  m.LastAccessedAt,
		Forgotten:       m.Forgotten,
		Meta:            meta,
	}
}

func toMemory(rec store.Record) Memory {
	m := Memory{
		ID:              rec.ID,
		Content:         rec.Content,
		Kind:            Kind(rec.Kind),
		Importance:      rec.Importance,
		CreatedAt:       rec.CreatedAt,
		LastAccessedAt:  rec.LastAccessedAt,
		SourceChannelID: rec.SourceChannelID,
		Forgotten:       rec.Forgotten,
	}
	if ua, ok := rec.Meta["user_association"].(string); ok {
		m.UserAssociation = ua
	}
	return m
}
