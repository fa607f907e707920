package semantic

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLog is an in-process QuestionLog, used when no PostgreSQL question
// log is configured and in tests
type MemoryLog struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewMemoryLog creates an empty in-memory log
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

func (m *MemoryLog) Record(ctx context.Context, entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *MemoryLog) SimilarSuccessful(ctx context.Context, embedding []float32, limit int) ([]SimilarQuestion, error) {
	if len(embedding) == 0 || limit <= 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	best := make(map[string]SimilarQuestion)
	for _, e := range m.entries {
		if e.Outcome != OutcomeAnswered || e.Provenance != "dynamic" || e.SQL == "" {
			continue
		}
		sim := cosine(embedding, e.Embedding)
		if sim <= MinSimilarity {
			continue
		}
		if prev, ok := best[e.SQL]; ok && prev.Similarity >= sim {
			continue
		}
		best[e.SQL] = SimilarQuestion{
			ID:         e.ID,
			Question:   e.Question,
			SQL:        e.SQL,
			Similarity: sim,
			CreatedAt:  e.CreatedAt,
		}
	}

	similar := make([]SimilarQuestion, 0, len(best))
	for _, sq := range best {
		similar = append(similar, sq)
	}
	sort.Slice(similar, func(i, j int) bool {
		if similar[i].Similarity != similar[j].Similarity {
			return similar[i].Similarity > similar[j].Similarity
		}
		return similar[i].SQL < similar[j].SQL
	})
	if len(similar) > limit {
		similar = similar[:limit]
	}
	return similar, nil
}

func (m *MemoryLog) PromotionCandidates(ctx context.Context, since time.Time, limit int) ([]Candidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	groups := make(map[string]*Candidate)
	var order []string
	for _, e := range m.entries {
		if e.Provenance != "dynamic" || e.SQL == "" || e.CreatedAt.Before(since) {
			continue
		}
		c, ok := groups[e.SQL]
		if !ok {
			c = &Candidate{SQL: e.SQL, Example: e.Question}
			groups[e.SQL] = c
			order = append(order, e.SQL)
		}
		if e.Question < c.Example {
			c.Example = e.Question
		}
		switch e.Outcome {
		case OutcomeAnswered:
			c.Answered++
		case OutcomeTimeout:
			c.TimedOut++
		}
		if e.CreatedAt.After(c.LastSeen) {
			c.LastSeen = e.CreatedAt
		}
	}

	var candidates []Candidate
	for _, sql := range order {
		c := groups[sql]
		if c.Answered > 1 || c.TimedOut > 0 {
			candidates = append(candidates, *c)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.TimedOut != b.TimedOut {
			return a.TimedOut > b.TimedOut
		}
		if a.Answered != b.Answered {
			return a.Answered > b.Answered
		}
		return a.LastSeen.After(b.LastSeen)
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// Entries returns a copy of everything recorded
func (m *MemoryLog) Entries() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

func (m *MemoryLog) Ping(ctx context.Context) error { return nil }

func (m *MemoryLog) Close() error { return nil }

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
