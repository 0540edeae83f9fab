// Package cite resolves inline [n] answer markers against the evidence
// gathered for a request, emitting each citation exactly once even though the
// answer text is rescanned on every streamed delta.
package cite

import (
	"log"
	"regexp"
	"strconv"

	"github.com/arashpx/seekly/internal/fragment"
)

// Event pairs a marker index (1-based, as written in the answer) with the
// citation it resolved to.
type Event struct {
	Index    int
	Citation fragment.Citation
}

var (
	markerRe   = regexp.MustCompile(`\[(\d+)\]`)
	adjacentRe = regexp.MustCompile(`\](\[)`)
)

// Normalize inserts spacing between run-together marker groups so "[1][2]"
// scans as two markers. Models emit both forms interchangeably.
func Normalize(text string) string {
	return adjacentRe.ReplaceAllString(text, "] $1")
}

// ExtractNew scans text for [n] markers and resolves each n against
// frags[n-1]. The seen set is owned by the caller and shared across calls for
// one answer, so repeated scans of a growing text yield every distinct index
// exactly once. Markers pointing past the evidence list are logged and
// dropped; the caller never sees a broken citation.
func ExtractNew(text string, seen map[int]struct{}, frags []fragment.Fragment, logger *log.Logger) []Event {
	var events []Event
	for _, m := range markerRe.FindAllStringSubmatch(Normalize(text), -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 {
			continue
		}
		if _, done := seen[n]; done {
			continue
		}
		if n > len(frags) {
			if logger != nil {
				logger.Printf("citation marker [%d] has no matching evidence (%d fragments)", n, len(frags))
			}
			continue
		}
		seen[n] = struct{}{}
		events = append(events, Event{Index: n, Citation: frags[n-1].Source})
	}
	return events
}
