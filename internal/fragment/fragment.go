package fragment

import (
	"strconv"
	"strings"
)

// Citation is a normalized pointer to a retrieved workspace item. It is
// derived from a fragment's provenance, never created on its own.
type Citation struct {
	DocID  string `json:"docId"`
	Title  string `json:"title"`
	URL    string `json:"url"`
	App    string `json:"app,omitempty"`
	Entity string `json:"entity,omitempty"`
}

// Fragment is one unit of retrieved evidence. ID is the stable dedup key used
// to suppress duplicate retrieval across iterations.
type Fragment struct {
	ID         string   `json:"id"`
	Content    string   `json:"content"`
	Source     Citation `json:"source"`
	Confidence float64  `json:"confidence"`
}

// Store is an append-only, de-duplicated list of evidence fragments. One
// store belongs to one request and is only touched by that request's
// controller, so it carries no locking.
type Store struct {
	frags []Fragment
	seen  map[string]struct{}
}

func NewStore() *Store {
	return &Store{seen: make(map[string]struct{})}
}

// Add appends fragments whose ID has not been seen before. Later duplicates
// are dropped, not merged. Returns the number actually inserted.
func (s *Store) Add(frags ...Fragment) int {
	inserted := 0
	for _, f := range frags {
		if f.ID == "" {
			continue
		}
		if _, dup := s.seen[f.ID]; dup {
			continue
		}
		s.seen[f.ID] = struct{}{}
		s.frags = append(s.frags, f)
		inserted++
	}
	return inserted
}

// Get returns the fragment at position i (zero-based insertion order).
func (s *Store) Get(i int) (Fragment, bool) {
	if i < 0 || i >= len(s.frags) {
		return Fragment{}, false
	}
	return s.frags[i], true
}

func (s *Store) Len() int { return len(s.frags) }

// All returns the fragments in insertion order. The slice is shared; callers
// must not mutate it.
func (s *Store) All() []Fragment { return s.frags }

// IDs returns every stored fragment ID in insertion order. The controller
// injects these into tool calls so backends can skip already-fetched items.
func (s *Store) IDs() []string {
	out := make([]string, 0, len(s.frags))
	for _, f := range s.frags {
		out = append(out, f.ID)
	}
	return out
}

// Summary renders one line per fragment (title plus a content prefix),
// numbered the way answer markers reference them. Used both for planning
// prompts and for synthesis evaluation.
func (s *Store) Summary(maxContentChars int) string {
	if len(s.frags) == 0 {
		return ""
	}
	if maxContentChars <= 0 {
		maxContentChars = 100
	}
	var b strings.Builder
	for i, f := range s.frags {
		title := strings.TrimSpace(f.Source.Title)
		if title == "" {
			title = "(untitled)"
		}
		content := strings.Join(strings.Fields(f.Content), " ")
		if len(content) > maxContentChars {
			content = content[:maxContentChars] + "…"
		}
		b.WriteString("[")
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString("] ")
		b.WriteString(title)
		if content != "" {
			b.WriteString(": ")
			b.WriteString(content)
		}
		b.WriteString("\n")
	}
	return b.String()
}
