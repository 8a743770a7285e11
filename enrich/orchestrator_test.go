package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qxd-ai/awardflow/clause"
	"github.com/qxd-ai/awardflow/llm"
)

func classificationResponse(awardID, level string, tryAgain bool) *llm.Response {
	args, _ := json.Marshal(map[string]any{
		"award_id":        awardID,
		"award_reasoning": "coverage clause applies",
		"award_clauses":   []string{"4"},
		"level":           level,
		"level_reasoning": "duties match",
		"level_clauses":   []string{"16.1"},
		"try_again":       tryAgain,
	})
	return &llm.Response{ToolCall: &llm.ToolCall{Name: classifyToolName, Arguments: args}}
}

func coverageSource() *fakeSource {
	source := wageSource()
	source.corpus = "--- Award: General Retail Industry Award (ID: MA000004) ---"
	source.refs = map[string]clause.Reference{
		"4":    {ID: "c-4", Key: "4", Title: "Coverage", Content: "This award covers..."},
		"16.1": {ID: "c-161", Key: "16.1", Title: "Adult rates", Content: "An adult employee..."},
	}
	return source
}

func orchestratorRecord(columns map[string]Column) WorkerRecord {
	return WorkerRecord{
		ID: "w-1",
		Attributes: map[string]any{
			"fullName":    "Jane Doe",
			"industry":    "Retail",
			"subindustry": "General",
		},
		Columns: columns,
	}
}

func collectUpdates(t *testing.T, ch <-chan FieldUpdate) []FieldUpdate {
	t.Helper()
	var updates []FieldUpdate
	deadline := time.After(5 * time.Second)
	for {
		select {
		case update, ok := <-ch:
			if !ok {
				return updates
			}
			updates = append(updates, update)
		case <-deadline:
			t.Fatal("timed out waiting for update stream to close")
		}
	}
}

func defaultHandlers() map[string]func(llm.Request) (*llm.Response, error) {
	return map[string]func(llm.Request) (*llm.Response, error){
		"classification": func(llm.Request) (*llm.Response, error) {
			return classificationResponse("MA000004", "Level 1", false), nil
		},
		"selection": func(llm.Request) (*llm.Response, error) {
			return sectionsResponse("Minimum Wages"), nil
		},
		"provisions": func(llm.Request) (*llm.Response, error) {
			return provisionsResponse("The base rate is $24.10.", "16.1"), nil
		},
	}
}

func newTestOrchestrator(t *testing.T, source *fakeSource, completer llm.Completer) *Orchestrator {
	t.Helper()
	return NewOrchestrator(
		testIndex(t),
		source,
		NewClassifier(completer, nil),
		newTestEnricher(source, completer),
	)
}

func TestProcessEmitsOneUpdatePerField(t *testing.T) {
	source := coverageSource()
	completer := &routingCompleter{handlers: defaultHandlers()}
	o := newTestOrchestrator(t, source, completer)

	record := orchestratorRecord(map[string]Column{
		"Base Rate": {},
		"Notes":     {Value: "manually verified"},
	})

	updates := collectUpdates(t, o.Process(context.Background(), record))
	require.Len(t, updates, 4)

	// Classification updates lead, in a fixed order.
	assert.Equal(t, FieldAward, updates[0].Field)
	assert.Equal(t, "MA000004", updates[0].Value)
	assert.Contains(t, updates[0].References, "4")

	assert.Equal(t, FieldClassification, updates[1].Field)
	assert.Equal(t, "Level 1", updates[1].Value)
	assert.Contains(t, updates[1].References, "16.1")

	seen := map[string]FieldUpdate{}
	for _, u := range updates[2:] {
		_, dup := seen[u.Field]
		assert.False(t, dup, "field %q updated twice", u.Field)
		seen[u.Field] = u
	}

	require.Contains(t, seen, "Notes")
	assert.Equal(t, "manually verified", seen["Notes"].Value)
	assert.Empty(t, seen["Notes"].References)

	require.Contains(t, seen, "Base Rate")
	assert.Equal(t, "The base rate is $24.10.", seen["Base Rate"].Value)
	assert.Contains(t, seen["Base Rate"].References, "16.1")
}

func TestProcessNoCandidateInstruments(t *testing.T) {
	source := coverageSource()
	o := newTestOrchestrator(t, source, &routingCompleter{})

	record := orchestratorRecord(nil)
	record.Attributes["industry"] = "Mining"

	updates := collectUpdates(t, o.Process(context.Background(), record))
	require.Len(t, updates, 1)
	assert.Empty(t, updates[0].Field)
	assert.Contains(t, updates[0].Error, "no candidate instruments")
	assert.Empty(t, source.corpusCalls)
}

func TestProcessClassificationFailureTerminatesStream(t *testing.T) {
	source := coverageSource()
	handlers := defaultHandlers()
	handlers["classification"] = func(llm.Request) (*llm.Response, error) {
		return nil, llm.NewUnavailableError("classification", errors.New("all endpoints down"))
	}
	o := newTestOrchestrator(t, source, &routingCompleter{handlers: handlers})

	updates := collectUpdates(t, o.Process(context.Background(), orchestratorRecord(map[string]Column{"Base Rate": {}})))
	require.Len(t, updates, 1)
	assert.Empty(t, updates[0].Field)
	assert.Contains(t, updates[0].Error, "all endpoints down")
}

func TestProcessTryAgainWidensOnce(t *testing.T) {
	source := coverageSource()
	var classifyCalls atomic.Int32
	handlers := defaultHandlers()
	handlers["classification"] = func(llm.Request) (*llm.Response, error) {
		if classifyCalls.Add(1) == 1 {
			return classificationResponse("MA000004", "Level 1", true), nil
		}
		return classificationResponse("MA000012", "Pharmacy Level 2", false), nil
	}
	o := newTestOrchestrator(t, source, &routingCompleter{handlers: handlers})

	updates := collectUpdates(t, o.Process(context.Background(), orchestratorRecord(nil)))
	require.Len(t, updates, 2)
	assert.Equal(t, "MA000012", updates[0].Value)
	assert.Equal(t, int32(2), classifyCalls.Load())

	// Second corpus covers the whole industry.
	require.Len(t, source.corpusCalls, 2)
	assert.Len(t, source.corpusCalls[0], 1)
	assert.Len(t, source.corpusCalls[1], 2)
}

func TestProcessSecondTryAgainIgnored(t *testing.T) {
	source := coverageSource()
	var classifyCalls atomic.Int32
	handlers := defaultHandlers()
	handlers["classification"] = func(llm.Request) (*llm.Response, error) {
		classifyCalls.Add(1)
		return classificationResponse("MA000004", "Level 1", true), nil
	}
	o := newTestOrchestrator(t, source, &routingCompleter{handlers: handlers})

	updates := collectUpdates(t, o.Process(context.Background(), orchestratorRecord(nil)))
	require.Len(t, updates, 2)
	assert.Equal(t, "MA000004", updates[0].Value)
	assert.Equal(t, int32(2), classifyCalls.Load())
}

func TestProcessColumnsForwardInCompletionOrder(t *testing.T) {
	source := coverageSource()
	handlers := defaultHandlers()
	handlers["provisions"] = func(req llm.Request) (*llm.Response, error) {
		if strings.Contains(req.Messages[1].Content, "Slow Column") {
			time.Sleep(150 * time.Millisecond)
			return provisionsResponse("slow answer", "16.1"), nil
		}
		return provisionsResponse("fast answer", "16.1"), nil
	}
	o := newTestOrchestrator(t, source, &routingCompleter{handlers: handlers})

	record := orchestratorRecord(map[string]Column{
		"Slow Column": {},
		"Fast Column": {},
	})

	updates := collectUpdates(t, o.Process(context.Background(), record))
	require.Len(t, updates, 4)
	assert.Equal(t, "Fast Column", updates[2].Field)
	assert.Equal(t, "fast answer", updates[2].Value)
	assert.Equal(t, "Slow Column", updates[3].Field)
	assert.Equal(t, "slow answer", updates[3].Value)
}

func TestProcessColumnFailureIsIsolated(t *testing.T) {
	source := coverageSource()
	handlers := defaultHandlers()
	handlers["provisions"] = func(req llm.Request) (*llm.Response, error) {
		if strings.Contains(req.Messages[1].Content, "Broken Column") {
			return nil, llm.NewUnavailableError("provisions", errors.New("all endpoints down"))
		}
		return provisionsResponse("fine answer", "16.1"), nil
	}
	o := newTestOrchestrator(t, source, &routingCompleter{handlers: handlers})

	record := orchestratorRecord(map[string]Column{
		"Broken Column": {},
		"Good Column":   {},
	})

	updates := collectUpdates(t, o.Process(context.Background(), record))
	require.Len(t, updates, 4)

	byField := map[string]FieldUpdate{}
	for _, u := range updates[2:] {
		byField[u.Field] = u
	}

	assert.Contains(t, byField["Broken Column"].Error, "all endpoints down")
	assert.Empty(t, byField["Broken Column"].Value)
	assert.Equal(t, "fine answer", byField["Good Column"].Value)
	assert.Empty(t, byField["Good Column"].Error)
}

func TestProcessFallbackClassificationHasEmptyReferences(t *testing.T) {
	source := coverageSource()
	handlers := defaultHandlers()
	handlers["classification"] = func(llm.Request) (*llm.Response, error) {
		return &llm.Response{Content: "cannot say"}, nil
	}
	o := newTestOrchestrator(t, source, &routingCompleter{handlers: handlers})

	updates := collectUpdates(t, o.Process(context.Background(), orchestratorRecord(nil)))
	require.Len(t, updates, 2)
	assert.Contains(t, updates[0].Value, "Jane Doe")
	assert.Empty(t, updates[0].References)
	assert.Contains(t, updates[1].Value, "Jane Doe")
	assert.Empty(t, updates[1].References)
}

func TestProcessReservedColumnNamesSkipped(t *testing.T) {
	source := coverageSource()
	o := newTestOrchestrator(t, source, &routingCompleter{handlers: defaultHandlers()})

	record := orchestratorRecord(map[string]Column{
		FieldAward:          {Value: "stale"},
		FieldClassification: {},
	})

	updates := collectUpdates(t, o.Process(context.Background(), record))
	require.Len(t, updates, 2)
	assert.Equal(t, "MA000004", updates[0].Value)
	assert.Equal(t, "Level 1", updates[1].Value)
}

func TestProcessContextCancellationStopsStream(t *testing.T) {
	source := coverageSource()
	ctx, cancel := context.WithCancel(context.Background())

	handlers := defaultHandlers()
	handlers["provisions"] = func(llm.Request) (*llm.Response, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	o := newTestOrchestrator(t, source, &routingCompleter{handlers: handlers})

	ch := o.Process(ctx, orchestratorRecord(map[string]Column{"Base Rate": {}}))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("stream did not close after cancellation")
		}
	}
}
