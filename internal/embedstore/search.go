package embedstore

import (
	"container/heap"
	"context"
	"sort"

	"github.com/noteweave/outlinesync/internal/types"
)

// MaxSearchResults is the hard cap on K (spec.md §4.8: "K ≤ 50").
const MaxSearchResults = 50

// SearchResult is one scored hit, with the section metadata the caller
// needs to render it joined in from the local outline index.
type SearchResult struct {
	SectionID string
	ArticleID string
	Score     float32
	Title     string
	Text      string
}

// Search returns the top-K sections by cosine similarity to query, using
// a size-K running min-heap over the in-memory embeddings cache rather
// than sorting the whole set (spec.md §4.8: "selects the top-K ... using
// a size-K running heap"). query is expected to already be the server-
// computed query embedding (spec.md: "requires connectivity (query
// embedding is computed server-side)"); it is normalized defensively so
// a caller that forgets to can't silently get cosine-similarity-shaped
// garbage out of a plain dot product.
func (s *Store) Search(ctx context.Context, query []float32, k int) ([]SearchResult, error) {
	if k <= 0 {
		k = MaxSearchResults
	}
	if k > MaxSearchResults {
		k = MaxSearchResults
	}

	embeddings, err := s.LoadEmbeddingsCache(ctx)
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, nil
	}

	q := Normalize(append([]float32(nil), query...))

	h := &scoreHeap{}
	heap.Init(h)
	for i, e := range embeddings {
		score := dot(q, e.Vec)
		if h.Len() < k {
			heap.Push(h, scoredIndex{index: i, score: score})
			continue
		}
		if h.Len() > 0 && score > (*h)[0].score {
			(*h)[0] = scoredIndex{index: i, score: score}
			heap.Fix(h, 0)
		}
	}

	hits := make([]scoredIndex, len(*h))
	copy(hits, *h)
	sort.Slice(hits, func(i, j int) bool { return hits[i].score > hits[j].score })

	sectionIDs := make([]string, len(hits))
	for i, hit := range hits {
		sectionIDs[i] = embeddings[hit.index].SectionID
	}
	meta, err := s.loadSectionMeta(ctx, sectionIDs)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(hits))
	for _, hit := range hits {
		e := embeddings[hit.index]
		m := meta[e.SectionID]
		results = append(results, SearchResult{
			SectionID: e.SectionID,
			ArticleID: e.ArticleID,
			Score:     hit.score,
			Title:     m.Title,
			Text:      m.Text,
		})
	}
	return results, nil
}

func (s *Store) loadSectionMeta(ctx context.Context, sectionIDs []string) (map[string]types.OutlineSection, error) {
	out := map[string]types.OutlineSection{}
	if len(sectionIDs) == 0 {
		return out, nil
	}

	placeholders := make([]string, len(sectionIDs))
	args := make([]interface{}, len(sectionIDs))
	for i, id := range sectionIDs {
		placeholders[i] = "?"
		args[i] = id
	}
	query := `SELECT section_id, article_id, title, text, updated_at FROM outline_sections WHERE section_id IN (` + joinPlaceholders(placeholders) + `)`

	rows, err := s.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var sec types.OutlineSection
		if err := rows.Scan(&sec.SectionID, &sec.ArticleID, &sec.Title, &sec.Text, &sec.UpdatedAt); err != nil {
			return nil, err
		}
		out[sec.SectionID] = sec
	}
	return out, rows.Err()
}

func joinPlaceholders(ps []string) string {
	out := ""
	for i, p := range ps {
		if i > 0 {
			out += ","
		}
		out += p
	}
	return out
}

// scoredIndex is one heap entry: the embeddings-slice index it scored,
// plus that score.
type scoredIndex struct {
	index int
	score float32
}

// scoreHeap is a min-heap by score, so the weakest of the current top-K
// sits at the root and can be evicted in O(log k) as stronger hits
// arrive.
type scoreHeap []scoredIndex

func (h scoreHeap) Len() int            { return len(h) }
func (h scoreHeap) Less(i, j int) bool  { return h[i].score < h[j].score }
func (h scoreHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *scoreHeap) Push(x interface{}) { *h = append(*h, x.(scoredIndex)) }
func (h *scoreHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
