package enrichmentapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/qxd-ai/awardflow/enrich"
)

// RegisterHTTPHandlers registers HTTP handlers for the enrichment-api component.
// The prefix may or may not include trailing slash.
func (c *Component) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	// Ensure prefix has trailing slash
	if !strings.HasSuffix(prefix, "/") {
		prefix = prefix + "/"
	}
	mux.HandleFunc(prefix+"records", c.handleRecords)
	mux.HandleFunc(prefix+"columns", c.handleAddColumn)
	mux.HandleFunc(prefix+"instruments", c.handleInstruments)
	mux.Handle(prefix+"metrics", c.metrics.Handler())
}

// StoredRecord is a worker record after enrichment, as persisted in the
// records bucket.
type StoredRecord struct {
	ID         string                       `json:"id"`
	Attributes map[string]any               `json:"attributes"`
	Fields     map[string]enrich.FieldValue `json:"fields"`
	UpdatedAt  time.Time                    `json:"updated_at"`
}

// RecordFieldUpdate is one line of the add-column stream: a field update
// tagged with the record it belongs to.
type RecordFieldUpdate struct {
	RecordID string             `json:"record_id"`
	Update   enrich.FieldUpdate `json:"update"`
}

// addColumnRequest is the body of POST /columns.
type addColumnRequest struct {
	Name           string   `json:"name"`
	AdditionalInfo string   `json:"additional_info"`
	RecordIDs      []string `json:"record_ids"`
}

// handleRecords dispatches POST (enrich one record, streaming) and
// GET (list persisted records).
func (c *Component) handleRecords(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		c.handleEnrichRecord(w, r)
	case http.MethodGet:
		c.handleListRecords(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleEnrichRecord handles POST /records.
// Streams NDJSON field updates as the pipeline produces them, then persists
// the completed record.
func (c *Component) handleEnrichRecord(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	orchestrator := c.orchestrator
	c.mu.RUnlock()
	if orchestrator == nil {
		http.Error(w, "Component not running", http.StatusServiceUnavailable)
		return
	}

	var record enrich.WorkerRecord
	if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
		http.Error(w, "Invalid record body", http.StatusBadRequest)
		return
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	ctx, cancel := c.requestContext(r)
	defer cancel()

	stored := StoredRecord{
		ID:         record.ID,
		Attributes: record.Attributes,
		Fields:     make(map[string]enrich.FieldValue),
	}

	start := time.Now()
	failed := false
	enc := json.NewEncoder(w)

	for update := range orchestrator.Process(ctx, record) {
		c.metrics.ObserveUpdate(update.Error != "")
		if update.Field == "" {
			failed = true
		} else {
			stored.Fields[update.Field] = update.FieldValue
		}

		if err := enc.Encode(update); err != nil {
			c.logger.Warn("Failed to write update", "record_id", record.ID, "error", err)
			return
		}
		flusher.Flush()
	}

	c.metrics.duration.Observe(time.Since(start).Seconds())

	if failed {
		c.metrics.recordFailures.Inc()
		return
	}
	c.metrics.recordsProcessed.Inc()

	stored.UpdatedAt = time.Now().UTC()
	if err := c.putStoredRecord(ctx, stored); err != nil {
		c.logger.Warn("Failed to persist record", "record_id", record.ID, "error", err)
	}
}

// handleListRecords handles GET /records.
func (c *Component) handleListRecords(w http.ResponseWriter, r *http.Request) {
	records, err := c.listStoredRecords(r.Context())
	if err != nil {
		c.logger.Error("Failed to list records", "error", err)
		http.Error(w, "Failed to list records", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(records); err != nil {
		c.logger.Warn("Failed to encode response", "error", err)
	}
}

// handleAddColumn handles POST /columns.
// Enriches the named column for every requested record and streams one
// NDJSON line per record in completion order.
func (c *Component) handleAddColumn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	c.mu.RLock()
	enricher := c.enricher
	c.mu.RUnlock()
	if enricher == nil {
		http.Error(w, "Component not running", http.StatusServiceUnavailable)
		return
	}

	var req addColumnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "Column name required", http.StatusBadRequest)
		return
	}
	if req.Name == enrich.FieldAward || req.Name == enrich.FieldClassification {
		http.Error(w, "Column name is reserved", http.StatusBadRequest)
		return
	}
	if len(req.RecordIDs) == 0 {
		http.Error(w, "At least one record id required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	ctx, cancel := c.requestContext(r)
	defer cancel()

	results := make(chan RecordFieldUpdate, len(req.RecordIDs))
	var wg sync.WaitGroup
	for _, id := range req.RecordIDs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			results <- c.enrichColumnForRecord(ctx, enricher, id, req)
		}(id)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	enc := json.NewEncoder(w)
	for line := range results {
		c.metrics.ObserveUpdate(line.Update.Error != "")
		if err := enc.Encode(line); err != nil {
			c.logger.Warn("Failed to write column update", "error", err)
			return
		}
		flusher.Flush()
	}
}

// enrichColumnForRecord computes the new column for one stored record and
// persists it. Failures become the record's error line.
func (c *Component) enrichColumnForRecord(ctx context.Context, enricher *enrich.ColumnEnricher, id string, req addColumnRequest) RecordFieldUpdate {
	stored, err := c.getStoredRecord(ctx, id)
	if err != nil {
		return RecordFieldUpdate{RecordID: id, Update: enrich.FieldUpdate{
			Field:      req.Name,
			FieldValue: enrich.FieldValue{Error: "record not found"},
		}}
	}

	award := stored.Fields[enrich.FieldAward].Value
	level := stored.Fields[enrich.FieldClassification].Value
	if award == "" {
		return RecordFieldUpdate{RecordID: id, Update: enrich.FieldUpdate{
			Field:      req.Name,
			FieldValue: enrich.FieldValue{Error: "record has no classification"},
		}}
	}

	result, references, err := enricher.Enrich(ctx, award, award, level, req.Name, enrich.Column{AdditionalInfo: req.AdditionalInfo})
	if err != nil {
		c.logger.Warn("Column enrichment failed", "record_id", id, "column", req.Name, "error", err)
		return RecordFieldUpdate{RecordID: id, Update: enrich.FieldUpdate{
			Field:      req.Name,
			FieldValue: enrich.FieldValue{Error: err.Error()},
		}}
	}

	update := enrich.FieldUpdate{Field: req.Name, FieldValue: enrich.FieldValue{
		Value:      result.Answer,
		Reasoning:  result.Reasoning,
		References: references,
	}}

	stored.Fields[req.Name] = update.FieldValue
	stored.UpdatedAt = time.Now().UTC()
	if err := c.putStoredRecord(ctx, *stored); err != nil {
		c.logger.Warn("Failed to persist column update", "record_id", id, "error", err)
	}

	return RecordFieldUpdate{RecordID: id, Update: update}
}

// handleInstruments handles GET /instruments?industry=&subindustry=.
func (c *Component) handleInstruments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	c.mu.RLock()
	index := c.index
	c.mu.RUnlock()
	if index == nil {
		http.Error(w, "Component not running", http.StatusServiceUnavailable)
		return
	}

	industry := r.URL.Query().Get("industry")
	if industry == "" {
		http.Error(w, "industry query parameter required", http.StatusBadRequest)
		return
	}
	subindustry := r.URL.Query().Get("subindustry")

	instruments := index.Instruments(industry, subindustry)
	if instruments == nil {
		instruments = []enrich.CandidateInstrument{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(instruments); err != nil {
		c.logger.Warn("Failed to encode response", "error", err)
	}
}

// getStoredRecord retrieves one record from the records bucket.
func (c *Component) getStoredRecord(ctx context.Context, id string) (*StoredRecord, error) {
	bucket, err := c.getRecordsBucket(ctx)
	if err != nil {
		return nil, err
	}

	entry, err := bucket.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var stored StoredRecord
	if err := json.Unmarshal(entry.Value(), &stored); err != nil {
		return nil, err
	}
	if stored.Fields == nil {
		stored.Fields = make(map[string]enrich.FieldValue)
	}
	return &stored, nil
}

// putStoredRecord writes one record to the records bucket.
func (c *Component) putStoredRecord(ctx context.Context, stored StoredRecord) error {
	bucket, err := c.getRecordsBucket(ctx)
	if err != nil {
		return err
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return err
	}

	_, err = bucket.Put(ctx, stored.ID, data)
	return err
}

// listStoredRecords retrieves every record in the records bucket.
func (c *Component) listStoredRecords(ctx context.Context) ([]StoredRecord, error) {
	bucket, err := c.getRecordsBucket(ctx)
	if err != nil {
		return nil, err
	}

	keys, err := bucket.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return []StoredRecord{}, nil
		}
		return nil, err
	}

	records := make([]StoredRecord, 0, len(keys))
	for _, key := range keys {
		entry, err := bucket.Get(ctx, key)
		if err != nil {
			// ErrKeyDeleted is expected during concurrent access
			if !errors.Is(err, jetstream.ErrKeyDeleted) && !errors.Is(err, jetstream.ErrKeyNotFound) {
				c.logger.Warn("Failed to get key", "key", key, "error", err)
			}
			continue
		}

		var stored StoredRecord
		if err := json.Unmarshal(entry.Value(), &stored); err != nil {
			c.logger.Warn("Failed to unmarshal record", "key", key, "error", err)
			continue
		}
		records = append(records, stored)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}
