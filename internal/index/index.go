package index

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve"
)

// Apps and entities the workspace index understands. Filters outside these
// sets are rejected by Validate so callers can re-plan instead of crashing.
const (
	AppMail     = "mail"
	AppCalendar = "calendar"
	AppChat     = "chat"
	AppDrive    = "drive"
)

var validApps = map[string]struct{}{
	AppMail: {}, AppCalendar: {}, AppChat: {}, AppDrive: {},
}

var validEntities = map[string]struct{}{
	"message": {}, "thread": {}, "event": {}, "file": {}, "folder": {}, "contact": {},
}

// ValidateApp reports whether app names a known workspace application.
func ValidateApp(app string) error {
	if _, ok := validApps[app]; !ok {
		return fmt.Errorf("unknown app %q (expected one of mail, calendar, chat, drive)", app)
	}
	return nil
}

// ValidateEntity reports whether entity names a known entity kind.
func ValidateEntity(entity string) error {
	if _, ok := validEntities[entity]; !ok {
		return fmt.Errorf("unknown entity %q (expected one of message, thread, event, file, folder, contact)", entity)
	}
	return nil
}

// Document is one indexed workspace item.
type Document struct {
	DocID     string    `json:"doc_id"`
	App       string    `json:"app"`
	Entity    string    `json:"entity"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	Content   string    `json:"content"`
	Owner     string    `json:"owner"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Hit is one scored search result.
type Hit struct {
	DocID   string  `json:"doc_id"`
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	App     string  `json:"app"`
	Entity  string  `json:"entity"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
	Rank    int     `json:"rank"`
}

// Query carries search parameters after validation and clamping.
type Query struct {
	Text       string
	Apps       []string
	Entities   []string
	From       time.Time
	To         time.Time
	Limit      int
	ExcludeIDs map[string]struct{}
}

// Embedder produces query vectors for the vector half of hybrid search. Nil
// disables vector search and the index degrades to BM25 only.
type Embedder interface {
	Embed(ctx context.Context, model string, input []string) ([][]float32, error)
}

type embedVec struct {
	docID string
	vec   []float32
}

// Index is an in-memory hybrid workspace index: bleve BM25 plus in-memory
// vectors fused with reciprocal-rank fusion.
type Index struct {
	bleve    bleve.Index
	meta     map[string]Document
	vectors  []embedVec
	embedder Embedder
	model    string
	rrfK     int
	mu       sync.RWMutex
}

// New creates an empty in-memory index. embedder and model may be zero when
// vector search is disabled.
func New(embedder Embedder, model string, rrfK int) (*Index, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("creating bleve index: %w", err)
	}
	if rrfK <= 0 {
		rrfK = 60
	}
	return &Index{
		bleve:    idx,
		meta:     make(map[string]Document),
		embedder: embedder,
		model:    model,
		rrfK:     rrfK,
	}, nil
}

// Add indexes a document, replacing any previous version with the same DocID.
func (x *Index) Add(ctx context.Context, doc Document) error {
	if doc.DocID == "" {
		return fmt.Errorf("document has no id")
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.meta[doc.DocID] = doc
	if err := x.bleve.Index(doc.DocID, doc); err != nil {
		return fmt.Errorf("indexing %s: %w", doc.DocID, err)
	}
	if x.embedder != nil {
		vecs, err := x.embedder.Embed(ctx, x.model, []string{doc.Title + "\n" + doc.Content})
		if err != nil {
			return fmt.Errorf("embedding %s: %w", doc.DocID, err)
		}
		if len(vecs) == 1 {
			x.vectors = append(x.vectors, embedVec{docID: doc.DocID, vec: vecs[0]})
		}
	}
	return nil
}

// Len returns the number of indexed documents.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.meta)
}

// Search runs hybrid BM25 + vector retrieval with metadata filters applied
// after scoring. Results honor q.ExcludeIDs so already-retrieved documents are
// not returned again.
func (x *Index) Search(ctx context.Context, q Query) ([]Hit, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, fmt.Errorf("empty query")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}

	lexical, err := x.bm25Search(q.Text, limit*3)
	if err != nil {
		return nil, err
	}

	var fused []Hit
	if x.embedder != nil {
		vecs, err := x.embedder.Embed(ctx, x.model, []string{q.Text})
		if err == nil && len(vecs) == 1 {
			semantic := x.vectorSearch(vecs[0], limit*3)
			fused = x.fuseRRF(lexical, semantic)
		}
	}
	if fused == nil {
		fused = lexical
	}

	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]Hit, 0, limit)
	for _, h := range fused {
		doc, ok := x.meta[h.DocID]
		if !ok {
			continue
		}
		if !matches(doc, q) {
			continue
		}
		if _, skip := q.ExcludeIDs[h.DocID]; skip {
			continue
		}
		h.Rank = len(out) + 1
		out = append(out, h)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Metadata lists documents matching the app/entity/time filters, most
// recently updated first, without text scoring.
func (x *Index) Metadata(q Query) []Document {
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	var docs []Document
	for _, doc := range x.meta {
		if !matches(doc, q) {
			continue
		}
		if _, skip := q.ExcludeIDs[doc.DocID]; skip {
			continue
		}
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].UpdatedAt.After(docs[j].UpdatedAt) })
	if len(docs) > limit {
		docs = docs[:limit]
	}
	return docs
}

func matches(doc Document, q Query) bool {
	if len(q.Apps) > 0 && !contains(q.Apps, doc.App) {
		return false
	}
	if len(q.Entities) > 0 && !contains(q.Entities, doc.Entity) {
		return false
	}
	if !q.From.IsZero() && doc.UpdatedAt.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && doc.UpdatedAt.After(q.To) {
		return false
	}
	return true
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func (x *Index) bm25Search(q string, k int) ([]Hit, error) {
	query := bleve.NewQueryStringQuery(q)
	searchReq := bleve.NewSearchRequestOptions(query, k, 0, false)
	res, err := x.bleve.Search(searchReq)
	if err != nil {
		return nil, fmt.Errorf("bm25 search: %w", err)
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	var out []Hit
	for i, hit := range res.Hits {
		doc := x.meta[hit.ID]
		out = append(out, Hit{
			DocID: hit.ID, Title: doc.Title, URL: doc.URL,
			App: doc.App, Entity: doc.Entity,
			Snippet: snippet(doc.Content),
			Score:   hit.Score, Rank: i + 1,
		})
	}
	return out, nil
}

func (x *Index) vectorSearch(q []float32, k int) []Hit {
	x.mu.RLock()
	defer x.mu.RUnlock()
	type scored struct {
		id    string
		score float64
	}
	var scoreds []scored
	for _, v := range x.vectors {
		scoreds = append(scoreds, scored{id: v.docID, score: cosine(q, v.vec)})
	}
	sort.Slice(scoreds, func(i, j int) bool { return scoreds[i].score > scoreds[j].score })
	var out []Hit
	for i, sc := range scoreds {
		doc := x.meta[sc.id]
		out = append(out, Hit{
			DocID: sc.id, Title: doc.Title, URL: doc.URL,
			App: doc.App, Entity: doc.Entity,
			Snippet: snippet(doc.Content), Score: sc.score, Rank: i + 1,
		})
		if len(out) >= k {
			break
		}
	}
	return out
}

func (x *Index) fuseRRF(a, b []Hit) []Hit {
	type agg struct {
		item  Hit
		score float64
	}
	m := map[string]*agg{}
	add := func(list []Hit) {
		for _, h := range list {
			v, ok := m[h.DocID]
			if !ok {
				m[h.DocID] = &agg{item: h}
				v = m[h.DocID]
			}
			v.score += 1.0 / float64(x.rrfK+h.Rank)
		}
	}
	add(a)
	add(b)
	items := make([]agg, 0, len(m))
	for _, v := range m {
		items = append(items, *v)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].score > items[j].score })
	out := make([]Hit, 0, len(items))
	for i, it := range items {
		it.item.Score = it.score
		it.item.Rank = i + 1
		out = append(out, it.item)
	}
	return out
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		ai := float64(a[i])
		bi := float64(b[i])
		dot += ai * bi
		na += ai * ai
		nb += bi * bi
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func snippet(s string) string {
	if len(s) <= 300 {
		return s
	}
	return s[:300] + "…"
}
