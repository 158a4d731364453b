// Package embedstore holds per-section semantic embeddings and answers
// local top-K similarity queries over them (spec.md §4.8). Vectors are
// unit-normalized on write so a plain inner product doubles as cosine
// similarity at query time.
package embedstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"math"
	"sync"

	"github.com/noteweave/outlinesync/internal/kvstore"
	"github.com/noteweave/outlinesync/internal/types"
)

// Store is the embeddings table plus an in-memory read cache of it.
type Store struct {
	store *kvstore.Store

	mu     sync.RWMutex
	cached []types.Embedding
	loaded bool
}

// New wraps store. A Store is cheap to construct; the in-memory cache is
// only populated lazily, on first search or explicit load.
func New(store *kvstore.Store) *Store {
	return &Store{store: store}
}

// Normalize scales vec to unit length in place and returns it. A
// zero-length vector is left as-is — there is no direction to normalize
// it to, and upserting an all-zero embedding would be a caller bug, not
// something this package should paper over.
func Normalize(vec []float32) []float32 {
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	if sumSq == 0 {
		return vec
	}
	mag := math.Sqrt(sumSq)
	for i, v := range vec {
		vec[i] = float32(float64(v) / mag)
	}
	return vec
}

// UpsertArticleEmbeddings normalizes and writes one article's section
// embeddings, replacing whatever was previously stored for each
// section id, then invalidates the in-memory cache so the next search
// picks up the new rows.
func (s *Store) UpsertArticleEmbeddings(ctx context.Context, articleID string, embeddings []types.Embedding) error {
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO section_embeddings (section_id, article_id, updated_at, vec)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(section_id) DO UPDATE SET
				article_id = excluded.article_id,
				updated_at = excluded.updated_at,
				vec        = excluded.vec`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, e := range embeddings {
			vec := Normalize(append([]float32(nil), e.Vec...))
			if _, err := stmt.ExecContext(ctx, e.SectionID, articleID, e.UpdatedAt, encodeVec(vec)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.InvalidateEmbeddingsCache()
	return nil
}

// DeleteArticleEmbeddings removes every embedding row for an article, so
// none of its sections' vectors surface in search results any more.
func (s *Store) DeleteArticleEmbeddings(ctx context.Context, articleID string) error {
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM section_embeddings WHERE article_id = ?`, articleID)
		return err
	})
	if err != nil {
		return err
	}
	s.InvalidateEmbeddingsCache()
	return nil
}

// InvalidateEmbeddingsCache drops the in-memory cache; the next
// Search or LoadEmbeddingsCache call re-reads every row from storage.
func (s *Store) InvalidateEmbeddingsCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = nil
	s.loaded = false
}

// LoadEmbeddingsCache memoizes every embedding row in memory, returning
// the cached slice. Safe to call repeatedly; only the first call after
// construction or an invalidation touches the database.
func (s *Store) LoadEmbeddingsCache(ctx context.Context) ([]types.Embedding, error) {
	s.mu.RLock()
	if s.loaded {
		cached := s.cached
		s.mu.RUnlock()
		return cached, nil
	}
	s.mu.RUnlock()

	rows, err := s.store.DB().QueryContext(ctx, `SELECT section_id, article_id, updated_at, vec FROM section_embeddings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Embedding
	for rows.Next() {
		var e types.Embedding
		var blob []byte
		if err := rows.Scan(&e.SectionID, &e.ArticleID, &e.UpdatedAt, &blob); err != nil {
			return nil, err
		}
		e.Vec = decodeVec(blob)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cached = out
	s.loaded = true
	s.mu.Unlock()
	return out, nil
}

// dot returns the inner product of two equal-length vectors; with
// unit-normalized vectors (see Normalize) this equals cosine similarity.
func dot(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float32
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

func encodeVec(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVec(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}
