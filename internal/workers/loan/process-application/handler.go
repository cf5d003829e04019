// internal/workers/loan/process-application/handler.go
package processapplication

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	apperrors "loan-pipeline/internal/common/errors"
	"loan-pipeline/internal/common/logger"
	"loan-pipeline/internal/common/metrics"
	"loan-pipeline/internal/common/observability"
	"loan-pipeline/internal/common/validation"
	"loan-pipeline/internal/models"
	"loan-pipeline/internal/queue"
	"loan-pipeline/internal/store/counters"

	"go.opentelemetry.io/otel/attribute"
)

const (
	TaskType = "process-application"
)

type Handler struct {
	config    *Config
	validator *validation.Validator
	enricher  Enricher
	records   RecordStore
	counters  CounterStore
	search    SearchIndex
	obs       *observability.Observability
	errs      *apperrors.ErrorHandler
	logger    logger.Logger
	now       func() time.Time
}

type Option func(*Handler)

// WithSearchIndex mirrors every ProcessedLoan into idx, best effort.
func WithSearchIndex(idx SearchIndex) Option {
	return func(h *Handler) { h.search = idx }
}

func WithObservability(obs *observability.Observability) Option {
	return func(h *Handler) { h.obs = obs }
}

func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

func NewHandler(config *Config, validator *validation.Validator, enricher Enricher, records RecordStore, counterStore CounterStore, log logger.Logger, opts ...Option) *Handler {
	h := &Handler{
		config:    config,
		validator: validator,
		enricher:  enricher,
		records:   records,
		counters:  counterStore,
		obs:       observability.NewNoop(),
		logger:    log.WithFields(map[string]interface{}{"taskType": TaskType}),
		now:       func() time.Time { return time.Now().UTC() },
	}
	h.errs = apperrors.NewErrorHandler(h.logger)
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle runs one queued message through decode, validate, enrich and
// persist. A non-nil Result means the outcome is durable and the message may
// be acknowledged. An error means nothing was recorded and no counter moved;
// the message must be redelivered.
func (h *Handler) Handle(ctx context.Context, msg *queue.Message) (*Result, error) {
	start := time.Now()
	ctx, end := h.obs.StartSpan(ctx, "loan.process",
		attribute.Int("partition", msg.Partition),
		attribute.String("messageId", msg.ID),
	)

	result, err := h.execute(ctx, msg.Payload)
	end(err)

	partition := strconv.Itoa(msg.Partition)
	if err != nil {
		metrics.MessagesProcessed.WithLabelValues(partition, metrics.OutcomeRetried).Inc()
		h.errs.Handle(TaskType, err, map[string]interface{}{
			"partition": msg.Partition,
			"messageId": msg.ID,
		})
		return nil, err
	}

	outcome := string(result.Outcome)
	metrics.MessagesProcessed.WithLabelValues(partition, outcome).Inc()
	metrics.ProcessingDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	h.obs.RecordMessageProcessed(ctx, outcome)
	h.obs.RecordMessageDuration(ctx, time.Since(start), outcome)

	h.logger.Debug("message resolved", map[string]interface{}{
		"partition": msg.Partition,
		"messageId": msg.ID,
		"outcome":   outcome,
		"recordId":  result.RecordID,
	})
	return result, nil
}

// Process runs the pipeline on a raw payload outside of any queue.
func (h *Handler) Process(ctx context.Context, payload []byte) (*Result, error) {
	return h.execute(ctx, payload)
}

func (h *Handler) execute(ctx context.Context, payload []byte) (*Result, error) {
	doc, err := decodeObject(payload)
	if err != nil {
		return h.recordFailure(ctx, apperrors.NewDecodeError(err), "", rawPayloadString(payload))
	}
	doc = scrubValue(doc).(map[string]interface{})
	original := storablePayload(payload, doc)
	applicantID, _ := doc["applicantId"].(string)

	app, err := h.validate(doc)
	if err != nil {
		return h.recordFailure(ctx, err, applicantID, original)
	}

	enriched, err := h.enrich(ctx, app.ApplicantID)
	if err != nil {
		return h.recordFailure(ctx, err, app.ApplicantID, original)
	}

	loan := models.NewProcessedLoan(app, enriched, h.now())

	persistCtx, cancel := context.WithTimeout(ctx, h.config.PersistenceTimeout)
	defer cancel()
	if err := h.records.InsertProcessedLoan(persistCtx, loan); err != nil {
		metrics.PersistenceFailures.WithLabelValues("processed_loans").Inc()
		return nil, apperrors.NewPersistenceFailedError("processed_loans", err).
			WithMetadata("applicantId", app.ApplicantID)
	}

	h.mirror(ctx, loan)
	h.bump(ctx, counters.KeyIncoming)
	h.bump(ctx, counters.KeyProcessed)

	return &Result{Outcome: OutcomeProcessed, RecordID: loan.ID}, nil
}

func (h *Handler) validate(doc map[string]interface{}) (*models.LoanApplication, error) {
	result, err := h.validator.Validate(doc)
	if err != nil {
		return nil, apperrors.NewValidationFailedError(err.Error())
	}
	if !result.Valid {
		return nil, apperrors.NewValidationFailedError(h.validator.Summary(result))
	}

	app, err := models.NewLoanApplication(doc)
	if err != nil {
		return nil, apperrors.NewValidationFailedError("invalid fields: " + err.Error())
	}
	return app, nil
}

type lookupResult struct {
	data models.EnrichedData
	err  error
}

// enrich bounds the lookup by EnrichmentTimeout even when the Enricher
// ignores its context.
func (h *Handler) enrich(ctx context.Context, applicantID string) (models.EnrichedData, error) {
	ectx, cancel := context.WithTimeout(ctx, h.config.EnrichmentTimeout)
	defer cancel()

	done := make(chan lookupResult, 1)
	go func() {
		data, err := h.enricher.Lookup(ectx, applicantID)
		done <- lookupResult{data: data, err: err}
	}()

	var res lookupResult
	select {
	case <-ectx.Done():
		res.err = fmt.Errorf("%w after %s", ErrEnrichmentTimeout, h.config.EnrichmentTimeout)
	case res = <-done:
	}

	if res.err != nil {
		if errors.Is(res.err, context.DeadlineExceeded) {
			res.err = fmt.Errorf("%w: %v", ErrEnrichmentTimeout, res.err)
		}
		return models.EnrichedData{}, apperrors.NewEnrichmentFailedError(applicantID, res.err)
	}
	if !res.data.InRange() {
		return models.EnrichedData{}, apperrors.NewEnrichmentFailedError(applicantID,
			fmt.Errorf("%w: %d", ErrScoreOutOfRange, res.data.CreditScore))
	}
	return res.data, nil
}

// recordFailure writes the ErrorRecord for a business failure, then counts it.
func (h *Handler) recordFailure(ctx context.Context, cause error, applicantID string, payload json.RawMessage) (*Result, error) {
	stdErr, ok := apperrors.AsStandardError(cause)
	if !ok {
		stdErr = apperrors.NewValidationFailedError(cause.Error())
	}
	h.errs.Handle(TaskType, stdErr, map[string]interface{}{"applicantId": applicantID})

	rec := &models.ErrorRecord{
		ApplicantID:  applicantID,
		ErrorType:    apperrors.ErrorTypeFor(stdErr.Code),
		ErrorMessage: scrubText(describe(stdErr)),
		Timestamp:    h.now(),
		Payload:      payload,
	}

	persistCtx, cancel := context.WithTimeout(ctx, h.config.PersistenceTimeout)
	defer cancel()
	if err := h.records.InsertErrorRecord(persistCtx, rec); err != nil {
		metrics.PersistenceFailures.WithLabelValues("error_records").Inc()
		return nil, apperrors.NewPersistenceFailedError("error_records", err).
			WithMetadata("failureCode", string(stdErr.Code))
	}

	metrics.MessagesFailed.WithLabelValues(string(stdErr.Code)).Inc()
	h.bump(ctx, counters.KeyIncoming)
	h.bump(ctx, counters.KeyFailed)

	return &Result{Outcome: OutcomeFailed, RecordID: rec.ID, ErrorType: rec.ErrorType}, nil
}

// bump increments a counter after the outcome is durable. Failures are
// logged only; the record already exists and the message will be acked.
func (h *Handler) bump(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(ctx, h.config.PersistenceTimeout)
	defer cancel()
	if _, err := h.counters.Increment(ctx, key); err != nil {
		metrics.CounterStoreFailures.Inc()
		h.errs.Handle(TaskType, apperrors.NewCounterStoreFailedError(key, err), nil)
	}
}

func (h *Handler) mirror(ctx context.Context, loan *models.ProcessedLoan) {
	if h.search == nil {
		return
	}
	if err := h.search.IndexLoan(ctx, loan); err != nil {
		h.logger.Warn("search mirror failed", map[string]interface{}{
			"loanId": loan.ID,
			"error":  apperrors.NewSearchIndexFailedError(err).Error(),
		})
	}
}

func describe(e *apperrors.StandardError) string {
	if e.Code == apperrors.ErrCodeValidationFailed || e.Details == "" {
		return e.Message
	}
	return e.Message + ": " + e.Details
}

// decodeObject parses payload as exactly one JSON object.
func decodeObject(payload []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("invalid JSON: trailing data after value")
	}

	obj, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("expected a JSON object, got %s", jsonKind(v))
	}
	return obj, nil
}

func jsonKind(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case []interface{}:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	default:
		return "number"
	}
}

// rawPayloadString keeps undecodable bytes as a JSON string.
func rawPayloadString(payload []byte) json.RawMessage {
	b, _ := json.Marshal(scrubText(string(payload)))
	return b
}

// storablePayload returns the payload as received when Postgres can store it,
// otherwise doc re-encoded after scrubbing.
func storablePayload(payload []byte, doc map[string]interface{}) json.RawMessage {
	trimmed := bytes.TrimSpace(payload)
	if utf8.Valid(trimmed) && !bytes.Contains(trimmed, []byte(`\u0000`)) {
		return json.RawMessage(trimmed)
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return rawPayloadString(payload)
	}
	return b
}

// scrubText replaces NUL and invalid UTF-8. Postgres text and jsonb reject both.
func scrubText(s string) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	return strings.ReplaceAll(s, "\x00", "\uFFFD")
}

func scrubValue(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return scrubText(val)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[scrubText(k)] = scrubValue(item)
		}
		return out
	case []interface{}:
		for i, item := range val {
			val[i] = scrubValue(item)
		}
		return val
	default:
		return v
	}
}
