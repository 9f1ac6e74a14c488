package backend

import (
	"strings"

	"github.com/gobwas/glob"
)

// Query filters a listing. Zero values disable the corresponding filter.
type Query struct {
	// Prefix restricts results to names starting with Prefix.
	Prefix string
	// MatchGlob restricts results to names matching the glob pattern. "*"
	// does not cross "/" boundaries, "**" does.
	MatchGlob string
	// StartOffset is an inclusive lower bound on names.
	StartOffset string
	// EndOffset is an exclusive upper bound on names.
	EndOffset string
	// MaxResults caps the number of names returned. 0 means no limit.
	MaxResults int
}

// matcher evaluates a Query against object names for drivers that cannot
// filter server-side.
type matcher struct {
	q    Query
	glob glob.Glob
}

// newMatcher compiles q. A nil query matches everything.
func newMatcher(q *Query) (*matcher, error) {
	m := &matcher{}
	if q == nil {
		return m, nil
	}
	m.q = *q
	if q.MatchGlob != "" {
		g, err := glob.Compile(q.MatchGlob, '/')
		if err != nil {
			return nil, errInvalidArgument("invalid glob pattern "+q.MatchGlob, err)
		}
		m.glob = g
	}
	return m, nil
}

// match reports whether name satisfies every filter.
func (m *matcher) match(name string) bool {
	if !strings.HasPrefix(name, m.q.Prefix) {
		return false
	}
	if m.q.StartOffset != "" && name < m.q.StartOffset {
		return false
	}
	if m.past(name) {
		return false
	}
	if m.glob != nil && !m.glob.Match(name) {
		return false
	}
	return true
}

// past reports whether name is at or beyond the end offset. Scans over sorted
// names can stop at the first such name.
func (m *matcher) past(name string) bool {
	return m.q.EndOffset != "" && name >= m.q.EndOffset
}

// full reports whether n results already satisfy MaxResults.
func (m *matcher) full(n int) bool {
	return m.q.MaxResults > 0 && n >= m.q.MaxResults
}

// filter applies the query to names, which must be sorted.
func (m *matcher) filter(names []string) []string {
	out := []string{}
	for _, name := range names {
		if m.past(name) || m.full(len(out)) {
			break
		}
		if m.match(name) {
			out = append(out, name)
		}
	}
	return out
}
