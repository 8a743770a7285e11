// Package clause provides typed, read-only access to the hierarchical legal
// clause knowledge base behind the graph gateway. Documents contain sections,
// subsections and clauses; clauses carry reference edges to other clauses.
package clause

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Clause is an addressable unit of legal text within an instrument.
// Identifiers are namespaced by instrument: "<instrument_id>:<clause_id>".
type Clause struct {
	ID           string   `json:"id"`
	Key          string   `json:"key"`
	Name         string   `json:"name"`
	Section      string   `json:"section,omitempty"`
	Subsection   string   `json:"subsection,omitempty"`
	Content      string   `json:"content"`
	ReferenceIDs []string `json:"reference_ids,omitempty"`
}

// ClauseWithRefs pairs a clause with its resolved reference clauses.
type ClauseWithRefs struct {
	Clause     Clause   `json:"clause"`
	References []Clause `json:"references,omitempty"`
}

// Reference is the resolved, human-readable content behind a citation.
type Reference struct {
	ID      string `json:"id"`
	Key     string `json:"key"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Instrument identifies a governing document and the clause keys that
// define who it covers.
type Instrument struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	CoverageKeys []string `json:"coverage_keys"`
}

// keyTokenPattern splits a hierarchical key into digit and non-digit runs
// so "2.10" compares after "2.9".
var keyTokenPattern = regexp.MustCompile(`\d+|\D+`)

// CompareKeys orders hierarchical clause keys. Numeric runs compare as
// numbers, everything else as text, and a "Schedule " prefix is ignored so
// schedules interleave by letter.
func CompareKeys(a, b string) int {
	ta := keyTokenPattern.FindAllString(strings.TrimPrefix(a, "Schedule "), -1)
	tb := keyTokenPattern.FindAllString(strings.TrimPrefix(b, "Schedule "), -1)

	for i := 0; i < len(ta) && i < len(tb); i++ {
		na, aNum := atoi(ta[i])
		nb, bNum := atoi(tb[i])

		switch {
		case aNum && bNum:
			if na != nb {
				if na < nb {
					return -1
				}
				return 1
			}
		default:
			if ta[i] != tb[i] {
				if ta[i] < tb[i] {
					return -1
				}
				return 1
			}
		}
	}

	switch {
	case len(ta) < len(tb):
		return -1
	case len(ta) > len(tb):
		return 1
	}
	return 0
}

func atoi(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	return n, err == nil
}

// SortClauses orders clauses by their hierarchical key in place.
func SortClauses(clauses []Clause) {
	sort.SliceStable(clauses, func(i, j int) bool {
		return CompareKeys(clauses[i].Key, clauses[j].Key) < 0
	})
}

// MatchesCoverageKey reports whether a clause key falls under a coverage
// key. A key matches itself, anything it prefixes through a "." separator,
// and for schedule-style keys ("Schedule A") anything starting with the
// schedule letter.
func MatchesCoverageKey(clauseKey, coverageKey string) bool {
	if clauseKey == coverageKey {
		return true
	}
	if letter, ok := strings.CutPrefix(coverageKey, "Schedule "); ok {
		return strings.HasPrefix(clauseKey, letter)
	}
	return strings.HasPrefix(clauseKey, coverageKey+".")
}
