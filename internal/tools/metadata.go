package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/arashpx/seekly/internal/fragment"
	"github.com/arashpx/seekly/internal/index"
)

// MetadataTool lists workspace items by app and entity kind, most recent
// first, without text matching. Useful when the planner wants "my latest
// calendar events" rather than a keyword search.
type MetadataTool struct {
	idx          *index.Index
	defaultLimit int
	known        func() map[string]struct{}
}

func NewMetadataTool(idx *index.Index, defaultLimit int, known func() map[string]struct{}) *MetadataTool {
	if defaultLimit <= 0 {
		defaultLimit = 10
	}
	return &MetadataTool{idx: idx, defaultLimit: defaultLimit, known: known}
}

func (t *MetadataTool) Name() string { return "metadata_retrieval" }

func (t *MetadataTool) Description() string {
	return "List recent workspace items without a text query. " +
		"Arguments: app (mail|calendar|chat|drive, required), entity (optional), limit (int)."
}

func (t *MetadataTool) Execute(ctx context.Context, params Params, caller CallerContext) Result {
	app := strings.TrimSpace(params.String("app"))
	if app == "" {
		return Errorf("metadata_retrieval requires an app")
	}
	if err := index.ValidateApp(app); err != nil {
		return Errorf("invalid app: %v", err)
	}
	q := index.Query{Apps: []string{app}}

	if entity := strings.TrimSpace(params.String("entity")); entity != "" {
		if err := index.ValidateEntity(entity); err != nil {
			return Errorf("invalid entity: %v", err)
		}
		q.Entities = []string{entity}
	}
	q.Limit = t.defaultLimit
	if n, ok := params.Int("limit"); ok {
		q.Limit = n
	}
	if t.known != nil {
		q.ExcludeIDs = t.known()
	}

	docs := t.idx.Metadata(q)
	if len(docs) == 0 {
		return Result{Result: fmt.Sprintf("no %s items found", app)}
	}
	return Result{
		Result:    fmt.Sprintf("found %d %s item(s)", len(docs), app),
		Fragments: docsToFragments(docs),
	}
}

// TimeSearchTool retrieves workspace items updated inside an explicit time
// range, optionally narrowed by apps or a text query.
type TimeSearchTool struct {
	idx          *index.Index
	defaultLimit int
	known        func() map[string]struct{}
}

func NewTimeSearchTool(idx *index.Index, defaultLimit int, known func() map[string]struct{}) *TimeSearchTool {
	if defaultLimit <= 0 {
		defaultLimit = 10
	}
	return &TimeSearchTool{idx: idx, defaultLimit: defaultLimit, known: known}
}

func (t *TimeSearchTool) Name() string { return "time_search" }

func (t *TimeSearchTool) Description() string {
	return "Find workspace items updated inside a time range. " +
		"Arguments: from and to (RFC3339 timestamps, at least one required), " +
		"filter_query (optional), apps (optional list), limit (int)."
}

func (t *TimeSearchTool) Execute(ctx context.Context, params Params, caller CallerContext) Result {
	from, err := parseTimeParam(params.String("from"))
	if err != nil {
		return Errorf("invalid from timestamp: %v", err)
	}
	to, err := parseTimeParam(params.String("to"))
	if err != nil {
		return Errorf("invalid to timestamp: %v", err)
	}
	if from.IsZero() && to.IsZero() {
		return Errorf("time_search requires at least one of from, to")
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return Errorf("time range is inverted: to %s is before from %s", to.Format(time.RFC3339), from.Format(time.RFC3339))
	}

	apps := params.Strings("apps")
	for _, app := range apps {
		if err := index.ValidateApp(app); err != nil {
			return Errorf("invalid apps filter: %v", err)
		}
	}

	q := index.Query{Apps: apps, From: from, To: to, Limit: t.defaultLimit}
	if n, ok := params.Int("limit"); ok {
		q.Limit = n
	}
	if t.known != nil {
		q.ExcludeIDs = t.known()
	}

	if query := strings.TrimSpace(params.String("filter_query")); query != "" {
		q.Text = query
		hits, err := t.idx.Search(ctx, q)
		if err != nil {
			return Errorf("time_search failed: %v", err)
		}
		if len(hits) == 0 {
			return Result{Result: "no items in the requested time range"}
		}
		return Result{
			Result:    fmt.Sprintf("found %d item(s) in range", len(hits)),
			Fragments: hitsToFragments(hits),
		}
	}

	docs := t.idx.Metadata(q)
	if len(docs) == 0 {
		return Result{Result: "no items in the requested time range"}
	}
	return Result{
		Result:    fmt.Sprintf("found %d item(s) in range", len(docs)),
		Fragments: docsToFragments(docs),
	}
}

func parseTimeParam(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	ts, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC3339 or YYYY-MM-DD, got %q", s)
	}
	return ts, nil
}

func docsToFragments(docs []index.Document) []fragment.Fragment {
	frags := make([]fragment.Fragment, 0, len(docs))
	for _, d := range docs {
		content := d.Content
		if len(content) > 300 {
			content = content[:300] + "…"
		}
		frags = append(frags, fragment.Fragment{
			ID:      d.DocID,
			Content: content,
			Source: fragment.Citation{
				DocID:  d.DocID,
				Title:  d.Title,
				URL:    d.URL,
				App:    d.App,
				Entity: d.Entity,
			},
			Confidence: 1,
		})
	}
	return frags
}
