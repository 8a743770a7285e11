package enrichmentapi

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qxd-ai/awardflow/clause"
	"github.com/qxd-ai/awardflow/enrich"
	"github.com/qxd-ai/awardflow/llm"
)

const testIndexJSON = `{
  "Retail": {
    "General": {
      "MA000004": {
        "Award Name": "General Retail Industry Award",
        "Coverage Clauses": ["4"],
        "Jobs": [{"title": "Shop Assistant"}],
        "Qualifications": []
      }
    }
  }
}`

// stubSource is an in-memory clause source for handler tests.
type stubSource struct{}

func (stubSource) SectionHierarchy(context.Context, string) (clause.Hierarchy, error) {
	return clause.Hierarchy{Sections: []clause.Section{{Name: "Minimum Wages"}}}, nil
}

func (stubSource) ClausesForSections(context.Context, string, []string) (map[string][]clause.ClauseWithRefs, error) {
	return map[string][]clause.ClauseWithRefs{
		"Minimum Wages": {
			{Clause: clause.Clause{ID: "c-161", Key: "16.1", Name: "Adult rates", Content: "An adult employee..."}},
		},
	}, nil
}

func (stubSource) CoverageClauses(context.Context, string, []string) ([]clause.Clause, error) {
	return nil, nil
}

func (stubSource) BuildCoverageCorpus(context.Context, []clause.Instrument) (string, map[string]clause.Reference, error) {
	return "--- Award: General Retail Industry Award (ID: MA000004) ---",
		map[string]clause.Reference{"4": {ID: "c-4", Key: "4", Title: "Coverage"}}, nil
}

// stubCompleter routes by capability.
type stubCompleter struct{}

func (stubCompleter) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	switch req.Capability {
	case "classification":
		args, _ := json.Marshal(map[string]any{
			"award_id":      "MA000004",
			"award_clauses": []string{"4"},
			"level":         "Level 1",
			"level_clauses": []string{},
		})
		return &llm.Response{ToolCall: &llm.ToolCall{Name: "classify_worker", Arguments: args}}, nil
	case "selection":
		args, _ := json.Marshal(map[string]any{"sections": []string{"Minimum Wages"}})
		return &llm.Response{ToolCall: &llm.ToolCall{Name: "choose_sections", Arguments: args}}, nil
	default:
		args, _ := json.Marshal(map[string]any{
			"provision_id":      "p-1",
			"provision":         "The base rate is $24.10.",
			"provision_clauses": []string{"16.1"},
		})
		return &llm.Response{ToolCall: &llm.ToolCall{Name: "worker_provisions", Arguments: args}}, nil
	}
}

func testComponent(t *testing.T) *Component {
	t.Helper()
	return testComponentWith(t, stubCompleter{})
}

func testComponentWith(t *testing.T, completer llm.Completer) *Component {
	t.Helper()

	index, err := enrich.NewIndexFromJSON([]byte(testIndexJSON))
	require.NoError(t, err)

	logger := slog.Default()
	source := stubSource{}

	classifier := enrich.NewClassifier(completer, logger)
	selector := enrich.NewSectionSelector(completer, logger)
	enricher := enrich.NewColumnEnricher(source, selector, completer, logger)

	c := &Component{
		name:    "enrichment-api",
		config:  DefaultConfig(),
		logger:  logger,
		metrics: NewMetrics(),
	}
	c.index = index
	c.enricher = enricher
	c.orchestrator = enrich.NewOrchestrator(index, source, classifier, enricher)
	return c
}

func TestHandleEnrichRecordStreamsNDJSON(t *testing.T) {
	c := testComponent(t)

	mux := http.NewServeMux()
	c.RegisterHTTPHandlers("/api/v1", mux)

	body := `{
		"id": "w-1",
		"attributes": {"fullName": "Jane Doe", "industry": "Retail", "subindustry": "General"},
		"columns": {"Base Rate": {"value": "", "additional_info": ""}}
	}`

	req := httptest.NewRequest(http.MethodPost, "/api/v1/records", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))

	var lines []map[string]enrich.FieldValue
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == "" {
			continue
		}
		var line map[string]enrich.FieldValue
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		require.Len(t, line, 1)
		lines = append(lines, line)
	}

	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "Award")
	assert.Contains(t, lines[1], "Classification")
	assert.Contains(t, lines[2], "Base Rate")
	assert.Equal(t, "The base rate is $24.10.", lines[2]["Base Rate"].Value)
	assert.Contains(t, lines[2]["Base Rate"].References, "16.1")
}

func TestHandleEnrichRecordErrorLine(t *testing.T) {
	c := testComponent(t)

	mux := http.NewServeMux()
	c.RegisterHTTPHandlers("/api/v1", mux)

	body := `{"id": "w-2", "attributes": {"industry": "Mining"}, "columns": {}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/records", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var line map[string]string
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(rec.Body.String())), &line))
	assert.Contains(t, line["error"], "no candidate instruments")
}

func TestHandleEnrichRecordRejectsBadBody(t *testing.T) {
	c := testComponent(t)

	mux := http.NewServeMux()
	c.RegisterHTTPHandlers("/api/v1", mux)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/records", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAddColumnValidation(t *testing.T) {
	c := testComponent(t)

	mux := http.NewServeMux()
	c.RegisterHTTPHandlers("/api/v1", mux)

	tests := []struct {
		name string
		body string
	}{
		{"missing name", `{"record_ids": ["w-1"]}`},
		{"reserved name", `{"name": "Award", "record_ids": ["w-1"]}`},
		{"no record ids", `{"name": "Overtime"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/columns", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestHandleAddColumnMissingRecord(t *testing.T) {
	c := testComponent(t)

	mux := http.NewServeMux()
	c.RegisterHTTPHandlers("/api/v1", mux)

	// No NATS client wired, so every record lookup fails and each record
	// gets an error line rather than a transport failure.
	body := `{"name": "Overtime", "record_ids": ["w-1"]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/columns", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var line RecordFieldUpdate
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(rec.Body.String())), &line))
	assert.Equal(t, "w-1", line.RecordID)
	assert.Equal(t, "record not found", line.Update.Error)
}

func TestHandleInstruments(t *testing.T) {
	c := testComponent(t)

	mux := http.NewServeMux()
	c.RegisterHTTPHandlers("/api/v1", mux)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/instruments?industry=Retail&subindustry=General", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var instruments []enrich.CandidateInstrument
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &instruments))
	require.Len(t, instruments, 1)
	assert.Equal(t, "MA000004", instruments[0].ID)
}

func TestHandleInstrumentsRequiresIndustry(t *testing.T) {
	c := testComponent(t)

	mux := http.NewServeMux()
	c.RegisterHTTPHandlers("/api/v1", mux)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/instruments", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleInstrumentsUnknownIndustryReturnsEmptyList(t *testing.T) {
	c := testComponent(t)

	mux := http.NewServeMux()
	c.RegisterHTTPHandlers("/api/v1", mux)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/instruments?industry=Mining", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

// blockingCompleter holds every call open until its context is cancelled.
type blockingCompleter struct {
	started chan struct{}
}

func (b *blockingCompleter) Complete(ctx context.Context, _ llm.Request) (*llm.Response, error) {
	select {
	case b.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestStopCancelsInFlightStreams(t *testing.T) {
	completer := &blockingCompleter{started: make(chan struct{}, 1)}
	c := testComponentWith(t, completer)

	runCtx, cancel := context.WithCancel(context.Background())
	c.runCtx = runCtx
	c.cancel = cancel
	c.state.Store(stateRunning)

	mux := http.NewServeMux()
	c.RegisterHTTPHandlers("/api/v1", mux)

	body := `{"id": "w-3", "attributes": {"industry": "Retail", "subindustry": "General"}, "columns": {}}`

	done := make(chan struct{})
	go func() {
		defer close(done)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/records", strings.NewReader(body))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
	}()

	select {
	case <-completer.started:
	case <-time.After(2 * time.Second):
		t.Fatal("classification call never started")
	}

	require.NoError(t, c.Stop(0))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not terminate after Stop")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	c := testComponent(t)

	mux := http.NewServeMux()
	c.RegisterHTTPHandlers("/api/v1", mux)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
