// internal/intake/handler.go
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	apperrors "loan-pipeline/internal/common/errors"
	"loan-pipeline/internal/common/logger"
	"loan-pipeline/internal/common/metrics"

	"golang.org/x/time/rate"
)

const (
	msgReceived        = "Loan application received"
	msgInternalError   = "Internal server error"
	msgInvalidJSON     = "Invalid JSON body"
	msgTooLarge        = "Request body too large"
	msgTooManyRequests = "Too many requests"
	msgRunning         = "Loan processing service is running"
)

// Publisher is satisfied by *queue.Queue.
type Publisher interface {
	Publish(ctx context.Context, key string, payload []byte) (string, error)
}

// Handler accepts loan applications over HTTP and enqueues them unchanged.
type Handler struct {
	config    *Config
	publisher Publisher
	limiter   *rate.Limiter
	errs      *apperrors.ErrorHandler
	logger    logger.Logger
}

func NewHandler(config *Config, publisher Publisher, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"component": "intake"})
	h := &Handler{
		config:    config,
		publisher: publisher,
		errs:      apperrors.NewErrorHandler(log),
		logger:    log,
	}
	if config.RateLimit > 0 {
		burst := config.Burst
		if burst <= 0 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), burst)
	}
	return h
}

// Register mounts the intake routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/loans", h.SubmitLoan)
	mux.HandleFunc("/", h.Root)
}

func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, msgRunning)
}

// SubmitLoan enqueues the request body verbatim, keyed by applicantId when
// the body carries one.
func (h *Handler) SubmitLoan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		h.respond(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if h.limiter != nil && !h.limiter.Allow() {
		h.respond(w, http.StatusTooManyRequests, msgTooManyRequests)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.config.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.respond(w, http.StatusRequestEntityTooLarge, msgTooLarge)
			return
		}
		h.respond(w, http.StatusBadRequest, msgInvalidJSON)
		return
	}
	if !json.Valid(body) {
		h.respond(w, http.StatusBadRequest, msgInvalidJSON)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.config.PublishTimeout)
	defer cancel()

	key := applicantKey(body)
	id, err := h.publisher.Publish(ctx, key, body)
	if err != nil {
		h.errs.Handle("intake", apperrors.NewQueueFailedError("publish", err), map[string]interface{}{
			"applicantId": key,
		})
		h.respond(w, http.StatusInternalServerError, msgInternalError)
		return
	}

	h.logger.Debug("loan application enqueued", map[string]interface{}{
		"applicantId": key,
		"messageId":   id,
	})
	h.respond(w, http.StatusAccepted, msgReceived)
}

func (h *Handler) respond(w http.ResponseWriter, status int, message string) {
	metrics.IntakeRequests.WithLabelValues(strconv.Itoa(status)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
}

// applicantKey returns the string applicantId of a JSON object body, or "".
func applicantKey(body []byte) string {
	var keyed struct {
		ApplicantID interface{} `json:"applicantId"`
	}
	if err := json.Unmarshal(body, &keyed); err != nil {
		return ""
	}
	id, _ := keyed.ApplicantID.(string)
	return id
}
