package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/qxd-ai/awardflow/clause"
)

// defaultUpdateBuffer bounds the output channel so a slow consumer applies
// backpressure instead of unbounded buffering.
const defaultUpdateBuffer = 16

// Orchestrator runs the full enrichment for one worker record and streams
// field updates as they become ready. No state is shared across records.
type Orchestrator struct {
	index      *Index
	source     ClauseSource
	classifier *Classifier
	enricher   *ColumnEnricher
	logger     *slog.Logger
	buffer     int
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithUpdateBuffer sets the output channel capacity.
func WithUpdateBuffer(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.buffer = n
		}
	}
}

// WithOrchestratorLogger sets the logger.
func WithOrchestratorLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// NewOrchestrator wires the pipeline components together.
func NewOrchestrator(index *Index, source ClauseSource, classifier *Classifier, enricher *ColumnEnricher, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		index:      index,
		source:     source,
		classifier: classifier,
		enricher:   enricher,
		logger:     slog.Default(),
		buffer:     defaultUpdateBuffer,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Process enriches one record. The returned channel yields classification
// updates first (Award then Classification), then column updates in
// completion order, and closes when the record is done. Cancelling ctx
// stops in-flight work cooperatively. Each invocation re-runs every
// external call; a partially consumed stream is not resumable.
func (o *Orchestrator) Process(ctx context.Context, record WorkerRecord) <-chan FieldUpdate {
	out := make(chan FieldUpdate, o.buffer)
	go o.run(ctx, record, out)
	return out
}

func (o *Orchestrator) run(ctx context.Context, record WorkerRecord, out chan<- FieldUpdate) {
	defer close(out)

	emit := func(u FieldUpdate) bool {
		select {
		case out <- u:
			return true
		case <-ctx.Done():
			return false
		}
	}

	industry, _ := record.Attributes["industry"].(string)
	subindustry, _ := record.Attributes["subindustry"].(string)

	candidates := o.index.Instruments(industry, subindustry)
	if len(candidates) == 0 {
		emit(ErrorUpdate(fmt.Errorf("%w: %q", ErrNoCandidateInstruments, industry)))
		return
	}

	corpus, coverageRefs, err := o.source.BuildCoverageCorpus(ctx, toInstruments(candidates))
	if err != nil {
		emit(ErrorUpdate(fmt.Errorf("build coverage corpus: %w", err)))
		return
	}

	outcome, err := o.classifier.Classify(ctx, record, corpus)
	if err != nil {
		// Everything downstream depends on classification; terminate.
		emit(ErrorUpdate(err))
		return
	}

	// try_again widens the candidate set to the whole industry exactly
	// once; a second try_again is ignored and the result used as-is.
	if outcome.TryAgain && subindustry != "" {
		widened := o.index.Instruments(industry, "")
		if len(widened) > len(candidates) {
			o.logger.Info("Classification requested wider candidate set",
				"record_id", record.ID, "industry", industry)

			wCorpus, wRefs, werr := o.source.BuildCoverageCorpus(ctx, toInstruments(widened))
			if werr != nil {
				emit(ErrorUpdate(fmt.Errorf("build widened coverage corpus: %w", werr)))
				return
			}
			retry, rerr := o.classifier.Classify(ctx, record, wCorpus)
			if rerr != nil {
				emit(ErrorUpdate(rerr))
				return
			}
			outcome = retry
			coverageRefs = wRefs
		}
	}

	if !emit(FieldUpdate{Field: FieldAward, FieldValue: FieldValue{
		Value:      outcome.Award,
		Reasoning:  outcome.AwardReasoning,
		References: resolveCitations(outcome.AwardCitations, coverageRefs),
	}}) {
		return
	}
	if !emit(FieldUpdate{Field: FieldClassification, FieldValue: FieldValue{
		Value:      outcome.Level,
		Reasoning:  outcome.LevelReasoning,
		References: resolveCitations(outcome.LevelCitations, coverageRefs),
	}}) {
		return
	}

	// Partition columns. The derived slots are never treated as columns.
	open := make(map[string]Column)
	for name, col := range record.Columns {
		if name == FieldAward || name == FieldClassification {
			continue
		}
		if col.Value != "" {
			if !emit(FieldUpdate{Field: name, FieldValue: FieldValue{
				Value:      col.Value,
				References: map[string]clause.Reference{},
			}}) {
				return
			}
			continue
		}
		open[name] = col
	}

	if len(open) == 0 {
		return
	}

	// One task per open column; updates forward in completion order.
	results := make(chan FieldUpdate, len(open))
	var wg sync.WaitGroup
	for name, col := range open {
		wg.Add(1)
		go func(name string, col Column) {
			defer wg.Done()
			results <- o.enrichColumn(ctx, outcome, name, col)
		}(name, col)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	for update := range results {
		if !emit(update) {
			return
		}
	}
}

// enrichColumn computes one column's update. Failures are isolated: an
// error becomes this column's payload and never cancels siblings.
func (o *Orchestrator) enrichColumn(ctx context.Context, outcome *ClassificationOutcome, name string, col Column) FieldUpdate {
	result, references, err := o.enricher.Enrich(ctx, outcome.Award, outcome.Award, outcome.Level, name, col)
	if err != nil {
		o.logger.Warn("Column enrichment failed", "column", name, "error", err)
		return FieldUpdate{Field: name, FieldValue: FieldValue{Error: err.Error()}}
	}

	return FieldUpdate{Field: name, FieldValue: FieldValue{
		Value:      result.Answer,
		Reasoning:  result.Reasoning,
		References: references,
	}}
}

// resolveCitations maps cited keys to references, dropping keys absent
// from the corpus. Never fabricates.
func resolveCitations(keys []string, refs map[string]clause.Reference) map[string]clause.Reference {
	resolved := make(map[string]clause.Reference)
	for _, key := range keys {
		if ref, ok := refs[key]; ok {
			resolved[key] = ref
		}
	}
	return resolved
}

func toInstruments(candidates []CandidateInstrument) []clause.Instrument {
	out := make([]clause.Instrument, len(candidates))
	for i, c := range candidates {
		out[i] = c.Instrument()
	}
	return out
}
