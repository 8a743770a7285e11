package clause

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	// maxGatewayErrorBodySize limits the size of error response bodies.
	maxGatewayErrorBodySize = 4096
)

// ResolvePolicy controls how far reference edges are followed when
// retrieving clauses for sections.
type ResolvePolicy int

const (
	// ResolveOneHop resolves direct references only.
	ResolveOneHop ResolvePolicy = iota

	// ResolveRecursive follows references of referenced clauses until the
	// set stops growing.
	ResolveRecursive
)

// RetryPolicy bounds retries against the graph gateway. The same jittered
// exponential backoff shape as the completion client, tuned separately
// because graph queries are cheap and fast.
type RetryPolicy struct {
	MaxAttempts       int
	BackoffBase       time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration
}

// DefaultRetryPolicy returns retry defaults for gateway queries.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		BackoffBase:       250 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxBackoff:        2 * time.Second,
	}
}

// Store queries the clause knowledge base through the graph gateway's
// GraphQL endpoint. It is read-only and safe for concurrent use.
type Store struct {
	gatewayURL string
	httpClient *http.Client
	logger     *slog.Logger
	retry      RetryPolicy
	resolve    ResolvePolicy
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) StoreOption {
	return func(s *Store) {
		s.httpClient = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithRetryPolicy sets the gateway retry policy.
func WithRetryPolicy(p RetryPolicy) StoreOption {
	return func(s *Store) {
		s.retry = p
	}
}

// WithResolvePolicy sets how reference edges are followed.
func WithResolvePolicy(p ResolvePolicy) StoreOption {
	return func(s *Store) {
		s.resolve = p
	}
}

// NewStore creates a store for the given gateway base URL.
func NewStore(gatewayURL string, opts ...StoreOption) *Store {
	s := &Store{
		gatewayURL: strings.TrimSuffix(gatewayURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     slog.Default(),
		retry:      DefaultRetryPolicy(),
		resolve:    ResolveOneHop,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// graphQLResponse represents a GraphQL response envelope.
type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// SectionHierarchy returns the section outline for an instrument. An
// unknown instrument yields an empty hierarchy, never an error.
func (s *Store) SectionHierarchy(ctx context.Context, instrumentID string) (Hierarchy, error) {
	query := `query($instrumentID: String!) {
		hierarchy(instrumentId: $instrumentID) {
			section
			subsection
			subsubsection
		}
	}`

	variables := map[string]any{"instrumentID": sanitizeGraphQLString(instrumentID)}

	var data struct {
		Hierarchy []hierarchyRow `json:"hierarchy"`
	}
	if err := s.executeQuery(ctx, query, variables, &data); err != nil {
		return Hierarchy{}, fmt.Errorf("query hierarchy: %w", err)
	}

	return buildHierarchy(data.Hierarchy), nil
}

// CoverageClauses returns the clauses covered by the given keys, ordered by
// hierarchical key and de-duplicated by id. A key matches exactly, by "."
// prefix, or by schedule letter for "Schedule X" keys.
func (s *Store) CoverageClauses(ctx context.Context, instrumentID string, keys []string) ([]Clause, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	query := `query($instrumentID: String!, $keys: [String!]!) {
		coverageClauses(instrumentId: $instrumentID, keys: $keys) {
			id
			key
			name
			section
			content
		}
	}`

	variables := map[string]any{
		"instrumentID": sanitizeGraphQLString(instrumentID),
		"keys":         sanitizeGraphQLStrings(keys),
	}

	var data struct {
		CoverageClauses []Clause `json:"coverageClauses"`
	}
	if err := s.executeQuery(ctx, query, variables, &data); err != nil {
		return nil, fmt.Errorf("query coverage clauses: %w", err)
	}

	// The gateway over-fetches by prefix; apply the exact matching rules
	// here and de-duplicate by id.
	seen := make(map[string]bool)
	matched := make([]Clause, 0, len(data.CoverageClauses))
	for _, c := range data.CoverageClauses {
		if seen[c.ID] {
			continue
		}
		for _, key := range keys {
			if MatchesCoverageKey(c.Key, key) {
				seen[c.ID] = true
				matched = append(matched, c)
				break
			}
		}
	}

	SortClauses(matched)
	return matched, nil
}

// ClausesForSections returns the clauses owned by each named section or
// subsection, keyed by the owning name (subsection when present, section
// otherwise). Reference edges are resolved per the store's policy and
// clauses are de-duplicated by id across the whole call.
func (s *Store) ClausesForSections(ctx context.Context, instrumentID string, sections []string) (map[string][]ClauseWithRefs, error) {
	if len(sections) == 0 {
		return map[string][]ClauseWithRefs{}, nil
	}

	query := `query($instrumentID: String!, $sections: [String!]!) {
		sectionClauses(instrumentId: $instrumentID, sections: $sections) {
			id
			key
			name
			section
			subsection
			content
			referenceIds
		}
	}`

	variables := map[string]any{
		"instrumentID": sanitizeGraphQLString(instrumentID),
		"sections":     sanitizeGraphQLStrings(sections),
	}

	var data struct {
		SectionClauses []struct {
			Clause
			ReferenceIDs []string `json:"referenceIds"`
		} `json:"sectionClauses"`
	}
	if err := s.executeQuery(ctx, query, variables, &data); err != nil {
		return nil, fmt.Errorf("query section clauses: %w", err)
	}

	result := make(map[string][]ClauseWithRefs)
	processed := make(map[string]bool)
	var pendingRefIDs []string
	refIDSeen := make(map[string]bool)

	for _, row := range data.SectionClauses {
		if row.ID == "" || processed[row.ID] {
			continue
		}
		processed[row.ID] = true

		group := row.Subsection
		if group == "" {
			group = row.Section
		}

		c := row.Clause
		c.ReferenceIDs = row.ReferenceIDs
		result[group] = append(result[group], ClauseWithRefs{Clause: c})

		for _, refID := range row.ReferenceIDs {
			if refID != "" && !refIDSeen[refID] {
				refIDSeen[refID] = true
				pendingRefIDs = append(pendingRefIDs, refID)
			}
		}
	}

	if len(pendingRefIDs) == 0 {
		return result, nil
	}

	resolved, err := s.resolveReferences(ctx, instrumentID, pendingRefIDs, refIDSeen)
	if err != nil {
		return nil, err
	}

	for _, group := range result {
		for i := range group {
			for _, refID := range group[i].Clause.ReferenceIDs {
				if ref, ok := resolved[refID]; ok {
					group[i].References = append(group[i].References, ref)
				}
			}
		}
	}

	return result, nil
}

// resolveReferences fetches referenced clauses by id. Under
// ResolveRecursive, newly discovered reference edges are followed until the
// set stops growing.
func (s *Store) resolveReferences(ctx context.Context, instrumentID string, ids []string, seen map[string]bool) (map[string]Clause, error) {
	resolved := make(map[string]Clause)
	pending := ids

	for len(pending) > 0 {
		batch, err := s.clausesByIDs(ctx, instrumentID, pending)
		if err != nil {
			return nil, err
		}

		pending = nil
		for _, c := range batch {
			resolved[c.ID] = c

			if s.resolve != ResolveRecursive {
				continue
			}
			for _, refID := range c.ReferenceIDs {
				if refID != "" && !seen[refID] {
					seen[refID] = true
					pending = append(pending, refID)
				}
			}
		}
	}

	return resolved, nil
}

// clausesByIDs fetches clauses by their namespaced ids.
func (s *Store) clausesByIDs(ctx context.Context, instrumentID string, ids []string) ([]Clause, error) {
	query := `query($instrumentID: String!, $ids: [String!]!) {
		clausesByIds(instrumentId: $instrumentID, ids: $ids) {
			id
			key
			name
			section
			content
			referenceIds
		}
	}`

	variables := map[string]any{
		"instrumentID": sanitizeGraphQLString(instrumentID),
		"ids":          sanitizeGraphQLStrings(ids),
	}

	var data struct {
		ClausesByIds []struct {
			Clause
			ReferenceIDs []string `json:"referenceIds"`
		} `json:"clausesByIds"`
	}
	if err := s.executeQuery(ctx, query, variables, &data); err != nil {
		return nil, fmt.Errorf("query clauses by ids: %w", err)
	}

	clauses := make([]Clause, 0, len(data.ClausesByIds))
	for _, row := range data.ClausesByIds {
		c := row.Clause
		c.ReferenceIDs = row.ReferenceIDs
		clauses = append(clauses, c)
	}
	return clauses, nil
}

// BuildCoverageCorpus renders the coverage clauses of every instrument into
// one prompt corpus and a reference map keyed by clause key. Consecutive
// clauses sharing a name emit the heading once. The first clause to claim a
// key wins in the reference map.
func (s *Store) BuildCoverageCorpus(ctx context.Context, instruments []Instrument) (string, map[string]Reference, error) {
	// Fetch every instrument's clauses concurrently; assemble in input
	// order so the corpus is deterministic.
	fetched := make([][]Clause, len(instruments))
	errs := make([]error, len(instruments))

	var wg sync.WaitGroup
	for i, inst := range instruments {
		wg.Add(1)
		go func(i int, inst Instrument) {
			defer wg.Done()
			clauses, err := s.CoverageClauses(ctx, inst.ID, inst.CoverageKeys)
			if err != nil {
				errs[i] = fmt.Errorf("coverage clauses for %s: %w", inst.ID, err)
				return
			}
			fetched[i] = clauses
		}(i, inst)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return "", nil, err
		}
	}

	var b strings.Builder
	references := make(map[string]Reference)

	for i, inst := range instruments {
		fmt.Fprintf(&b, "\n--- Award: %s (ID: %s) ---\n", inst.Name, inst.ID)

		previousName := ""
		for _, c := range fetched[i] {
			fmt.Fprintf(&b, "%s (ref: %s)\n", c.ID, c.Key)
			if previousName != c.Name {
				b.WriteString(c.Name)
				b.WriteString("\n")
				previousName = c.Name
			}
			b.WriteString(c.Content)
			b.WriteString("\n")

			if _, ok := references[c.Key]; !ok {
				references[c.Key] = Reference{
					ID:      c.ID,
					Key:     c.Key,
					Title:   c.Name,
					Content: c.Content,
				}
			}
		}
	}

	return b.String(), references, nil
}

// executeQuery runs a GraphQL query with retries and decodes data into out.
func (s *Store) executeQuery(ctx context.Context, query string, variables map[string]any, out any) error {
	var lastErr error

	for attempt := 1; attempt <= s.retry.MaxAttempts; attempt++ {
		err := s.doQuery(ctx, query, variables, out)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if attempt < s.retry.MaxAttempts {
			backoff := s.backoff(attempt)
			s.logger.Debug("Gateway query failed, retrying",
				"attempt", attempt,
				"max_attempts", s.retry.MaxAttempts,
				"backoff", backoff,
				"error", err)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return lastErr
}

// backoff computes exponential backoff with +/- 25% jitter.
func (s *Store) backoff(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= s.retry.BackoffMultiplier
	}

	backoff := time.Duration(float64(s.retry.BackoffBase) * multiplier)
	if backoff > s.retry.MaxBackoff {
		backoff = s.retry.MaxBackoff
	}

	jitter := float64(backoff) * 0.25 * (rand.Float64()*2 - 1)
	return backoff + time.Duration(jitter)
}

// doQuery executes a single GraphQL request.
func (s *Store) doQuery(ctx context.Context, query string, variables map[string]any, out any) error {
	reqBody := map[string]any{"query": query}
	if variables != nil {
		reqBody["variables"] = variables
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.gatewayURL+"/graphql", bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxGatewayErrorBodySize))
		return fmt.Errorf("graph gateway returned %d: %s", resp.StatusCode, string(body))
	}

	var result graphQLResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if len(result.Errors) > 0 {
		return fmt.Errorf("graphql error: %s", result.Errors[0].Message)
	}

	if result.Data == nil {
		return nil
	}

	if err := json.Unmarshal(result.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}

	return nil
}

// sanitizeGraphQLString removes potentially dangerous characters from
// GraphQL string inputs. Defense-in-depth alongside parameterized queries.
func sanitizeGraphQLString(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	s = strings.ReplaceAll(s, "\\", "\\\\")
	return s
}

func sanitizeGraphQLStrings(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = sanitizeGraphQLString(s)
	}
	return out
}
