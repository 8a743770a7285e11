package enrich

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Index is the candidate-instrument lookup, keyed by industry and
// sub-industry. Loaded once from a JSON index file and read-only after.
//
// File shape:
//
//	{"Retail": {"General": {"MA000004": {
//	    "Award Name": "...", "Coverage Clauses": ["3", "4"],
//	    "Jobs": [...], "Qualifications": [...]}}}}
type Index struct {
	data map[string]map[string]map[string]indexEntry
}

type indexEntry struct {
	AwardName       string              `json:"Award Name"`
	CoverageClauses []string            `json:"Coverage Clauses"`
	Jobs            []map[string]string `json:"Jobs"`
	Qualifications  []string            `json:"Qualifications"`
}

// LoadIndex reads the instrument index from a JSON file.
func LoadIndex(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read index file: %w", err)
	}
	return NewIndexFromJSON(data)
}

// NewIndexFromJSON parses an instrument index from JSON data.
func NewIndexFromJSON(data []byte) (*Index, error) {
	idx := &Index{}
	if err := json.Unmarshal(data, &idx.data); err != nil {
		return nil, fmt.Errorf("parse index: %w", err)
	}
	return idx, nil
}

// Instruments returns the candidate instruments for an industry. An empty
// subindustry (or one not present in the index) widens the lookup to the
// whole industry. Results are ordered by instrument id.
func (idx *Index) Instruments(industry, subindustry string) []CandidateInstrument {
	byIndustry, ok := idx.data[industry]
	if !ok {
		return nil
	}

	var out []CandidateInstrument
	if sub, ok := byIndustry[subindustry]; subindustry != "" && ok {
		out = appendInstruments(out, sub)
	} else {
		for _, sub := range byIndustry {
			out = appendInstruments(out, sub)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func appendInstruments(out []CandidateInstrument, entries map[string]indexEntry) []CandidateInstrument {
	for id, entry := range entries {
		out = append(out, CandidateInstrument{
			ID:           id,
			Name:         entry.AwardName,
			CoverageKeys: entry.CoverageClauses,
		})
	}
	return out
}

// Jobs returns the job entries listed for an industry/sub-industry.
func (idx *Index) Jobs(industry, subindustry string) []map[string]string {
	byIndustry, ok := idx.data[industry]
	if !ok {
		return nil
	}

	var jobs []map[string]string
	if sub, ok := byIndustry[subindustry]; subindustry != "" && ok {
		for _, entry := range sub {
			jobs = append(jobs, entry.Jobs...)
		}
		return jobs
	}
	for _, sub := range byIndustry {
		for _, entry := range sub {
			jobs = append(jobs, entry.Jobs...)
		}
	}
	return jobs
}

// Qualifications returns the de-duplicated qualifications for an
// industry/sub-industry, sorted for stable output.
func (idx *Index) Qualifications(industry, subindustry string) []string {
	byIndustry, ok := idx.data[industry]
	if !ok {
		return nil
	}

	seen := make(map[string]bool)
	collect := func(entries map[string]indexEntry) {
		for _, entry := range entries {
			for _, q := range entry.Qualifications {
				seen[q] = true
			}
		}
	}

	if sub, ok := byIndustry[subindustry]; subindustry != "" && ok {
		collect(sub)
	} else {
		for _, sub := range byIndustry {
			collect(sub)
		}
	}

	out := make([]string, 0, len(seen))
	for q := range seen {
		out = append(out, q)
	}
	sort.Strings(out)
	return out
}

// Industries lists the industries present in the index, sorted.
func (idx *Index) Industries() []string {
	out := make([]string, 0, len(idx.data))
	for industry := range idx.data {
		out = append(out, industry)
	}
	sort.Strings(out)
	return out
}
