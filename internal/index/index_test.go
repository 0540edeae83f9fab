package index

import (
	"context"
	"testing"
	"time"
)

func seedIndex(t *testing.T) *Index {
	t.Helper()
	x, err := New(nil, "", 60)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	docs := []Document{
		{DocID: "mail-1", App: AppMail, Entity: "message", Title: "Q3 budget review", Content: "the Q3 budget draft is attached", UpdatedAt: base},
		{DocID: "drive-1", App: AppDrive, Entity: "file", Title: "Q3 budget.xlsx", Content: "spreadsheet with Q3 budget numbers", UpdatedAt: base.Add(24 * time.Hour)},
		{DocID: "cal-1", App: AppCalendar, Entity: "event", Title: "Budget sync", Content: "weekly budget sync meeting", UpdatedAt: base.Add(48 * time.Hour)},
	}
	for _, d := range docs {
		if err := x.Add(context.Background(), d); err != nil {
			t.Fatalf("Add(%s): %v", d.DocID, err)
		}
	}
	return x
}

func TestSearchRanksMatchingDocuments(t *testing.T) {
	t.Parallel()
	x := seedIndex(t)
	hits, err := x.Search(context.Background(), Query{Text: "budget", Limit: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("expected 3 hits, got %d", len(hits))
	}
	for i, h := range hits {
		if h.Rank != i+1 {
			t.Errorf("hit %d has rank %d", i, h.Rank)
		}
	}
}

func TestSearchAppFilter(t *testing.T) {
	t.Parallel()
	x := seedIndex(t)
	hits, err := x.Search(context.Background(), Query{Text: "budget", Apps: []string{AppDrive}, Limit: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].DocID != "drive-1" {
		t.Fatalf("expected only drive-1, got %+v", hits)
	}
}

func TestSearchExcludesKnownIDs(t *testing.T) {
	t.Parallel()
	x := seedIndex(t)
	hits, err := x.Search(context.Background(), Query{
		Text:       "budget",
		Limit:      10,
		ExcludeIDs: map[string]struct{}{"mail-1": {}, "drive-1": {}},
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].DocID != "cal-1" {
		t.Fatalf("expected only cal-1, got %+v", hits)
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	t.Parallel()
	x := seedIndex(t)
	if _, err := x.Search(context.Background(), Query{Text: "   "}); err == nil {
		t.Fatal("expected error for empty query")
	}
}

func TestMetadataOrderedByRecency(t *testing.T) {
	t.Parallel()
	x := seedIndex(t)
	docs := x.Metadata(Query{Limit: 10})
	if len(docs) != 3 {
		t.Fatalf("expected 3 docs, got %d", len(docs))
	}
	want := []string{"cal-1", "drive-1", "mail-1"}
	for i, id := range want {
		if docs[i].DocID != id {
			t.Errorf("position %d: got %s, want %s", i, docs[i].DocID, id)
		}
	}
}

func TestMetadataTimeRange(t *testing.T) {
	t.Parallel()
	x := seedIndex(t)
	from := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 2, 23, 59, 0, 0, time.UTC)
	docs := x.Metadata(Query{From: from, To: to, Limit: 10})
	if len(docs) != 1 || docs[0].DocID != "drive-1" {
		t.Fatalf("expected only drive-1 in range, got %+v", docs)
	}
}

func TestValidateEnums(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		fn      func(string) error
		value   string
		wantErr bool
	}{
		{"known app", ValidateApp, AppMail, false},
		{"unknown app", ValidateApp, "fax", true},
		{"known entity", ValidateEntity, "event", false},
		{"unknown entity", ValidateEntity, "widget", true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.fn(tc.value)
			if (err != nil) != tc.wantErr {
				t.Fatalf("got err=%v, wantErr=%v", err, tc.wantErr)
			}
		})
	}
}
