package clause

import (
	"sort"
	"strings"
)

// Hierarchy is the section outline of one instrument. Ordering is stable:
// entries are sorted by name at every level so repeated traversals format
// identically.
type Hierarchy struct {
	Sections []Section `json:"sections"`
}

// Section is a top-level division of an instrument.
type Section struct {
	Name        string       `json:"name"`
	Subsections []Subsection `json:"subsections,omitempty"`
}

// Subsection is a second-level division.
type Subsection struct {
	Name           string   `json:"name"`
	Subsubsections []string `json:"subsubsections,omitempty"`
}

// hierarchyRow is one {section, subsection, subsubsection} triple as
// returned by the gateway. Missing levels are empty strings.
type hierarchyRow struct {
	Section       string `json:"section"`
	Subsection    string `json:"subsection"`
	Subsubsection string `json:"subsubsection"`
}

// buildHierarchy assembles an ordered hierarchy from gateway rows.
// Missing levels are simply absent.
func buildHierarchy(rows []hierarchyRow) Hierarchy {
	sectionIdx := make(map[string]int)
	subIdx := make(map[string]map[string]int)
	var h Hierarchy

	for _, row := range rows {
		if row.Section == "" {
			continue
		}

		si, ok := sectionIdx[row.Section]
		if !ok {
			si = len(h.Sections)
			sectionIdx[row.Section] = si
			subIdx[row.Section] = make(map[string]int)
			h.Sections = append(h.Sections, Section{Name: row.Section})
		}

		if row.Subsection == "" {
			continue
		}

		bi, ok := subIdx[row.Section][row.Subsection]
		if !ok {
			bi = len(h.Sections[si].Subsections)
			subIdx[row.Section][row.Subsection] = bi
			h.Sections[si].Subsections = append(h.Sections[si].Subsections, Subsection{Name: row.Subsection})
		}

		if row.Subsubsection != "" {
			sub := &h.Sections[si].Subsections[bi]
			if !contains(sub.Subsubsections, row.Subsubsection) {
				sub.Subsubsections = append(sub.Subsubsections, row.Subsubsection)
			}
		}
	}

	h.sortEntries()
	return h
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func (h *Hierarchy) sortEntries() {
	sort.Slice(h.Sections, func(i, j int) bool {
		return h.Sections[i].Name < h.Sections[j].Name
	})
	for i := range h.Sections {
		subs := h.Sections[i].Subsections
		sort.Slice(subs, func(a, b int) bool {
			return subs[a].Name < subs[b].Name
		})
		for j := range subs {
			sort.Strings(subs[j].Subsubsections)
		}
	}
}

// Format renders the hierarchy as an indented outline: one tab per depth
// level, a leading "- " for any entry below the root. The output is
// byte-identical for the same hierarchy and feeds section-selection
// prompts verbatim.
func (h Hierarchy) Format() string {
	var b strings.Builder
	for _, section := range h.Sections {
		b.WriteString(section.Name)
		b.WriteString("\n")
		for _, sub := range section.Subsections {
			b.WriteString("\t- ")
			b.WriteString(sub.Name)
			b.WriteString("\n")
			for _, subsub := range sub.Subsubsections {
				b.WriteString("\t\t- ")
				b.WriteString(subsub)
				b.WriteString("\n")
			}
		}
	}
	return b.String()
}

// Empty reports whether the hierarchy has no sections.
func (h Hierarchy) Empty() bool {
	return len(h.Sections) == 0
}
