package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/arashpx/seekly/internal/fragment"
	"github.com/arashpx/seekly/internal/index"
)

// SearchTool runs filtered hybrid search against the workspace index.
// known() supplies the ids of fragments the current request already holds so
// repeated searches broaden instead of re-returning the same documents.
type SearchTool struct {
	idx          *index.Index
	defaultLimit int
	known        func() map[string]struct{}
}

func NewSearchTool(idx *index.Index, defaultLimit int, known func() map[string]struct{}) *SearchTool {
	if defaultLimit <= 0 {
		defaultLimit = 10
	}
	return &SearchTool{idx: idx, defaultLimit: defaultLimit, known: known}
}

func (t *SearchTool) Name() string { return "search" }

func (t *SearchTool) Description() string {
	return "Full-text and semantic search over the user's workspace. " +
		"Arguments: filter_query (string, required), apps (list of mail|calendar|chat|drive), " +
		"entities (list), limit (int)."
}

func (t *SearchTool) Execute(ctx context.Context, params Params, caller CallerContext) Result {
	query := strings.TrimSpace(params.String("filter_query"))
	if query == "" {
		query = strings.TrimSpace(params.String("query"))
	}
	if query == "" {
		return Errorf("search requires a non-empty filter_query")
	}

	apps := params.Strings("apps")
	for _, app := range apps {
		if err := index.ValidateApp(app); err != nil {
			return Errorf("invalid apps filter: %v", err)
		}
	}
	entities := params.Strings("entities")
	for _, e := range entities {
		if err := index.ValidateEntity(e); err != nil {
			return Errorf("invalid entities filter: %v", err)
		}
	}

	limit := t.defaultLimit
	if n, ok := params.Int("limit"); ok {
		limit = n
	}

	var exclude map[string]struct{}
	if t.known != nil {
		exclude = t.known()
	}

	hits, err := t.idx.Search(ctx, index.Query{
		Text:       query,
		Apps:       apps,
		Entities:   entities,
		Limit:      limit,
		ExcludeIDs: exclude,
	})
	if err != nil {
		return Errorf("search failed: %v", err)
	}
	if len(hits) == 0 {
		return Result{Result: fmt.Sprintf("no results for %q", query)}
	}
	return Result{
		Result:    fmt.Sprintf("found %d result(s) for %q", len(hits), query),
		Fragments: hitsToFragments(hits),
	}
}

func hitsToFragments(hits []index.Hit) []fragment.Fragment {
	frags := make([]fragment.Fragment, 0, len(hits))
	for _, h := range hits {
		frags = append(frags, fragment.Fragment{
			ID:      h.DocID,
			Content: h.Snippet,
			Source: fragment.Citation{
				DocID:  h.DocID,
				Title:  h.Title,
				URL:    h.URL,
				App:    h.App,
				Entity: h.Entity,
			},
			Confidence: h.Score,
		})
	}
	return frags
}
