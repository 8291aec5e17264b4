package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/tokenledger/internal/currency"
	"github.com/punchamoorthee/tokenledger/internal/domain"
	"github.com/punchamoorthee/tokenledger/internal/models"
	"github.com/punchamoorthee/tokenledger/internal/service"
	"github.com/punchamoorthee/tokenledger/internal/spoynt"
	"github.com/punchamoorthee/tokenledger/internal/store"
	"go.uber.org/zap"
)

// MaxWebhookBody caps the size of a gateway notification.
const MaxWebhookBody = 1 << 20

// Metrics
var (
	httpReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"method", "endpoint"})

	webhookOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_webhook_outcomes_total",
		Help: "Gateway notifications by processing outcome",
	}, []string{"outcome"})

	tokensCredited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_tokens_credited_total",
		Help: "Tokens credited by completed top-ups",
	})
)

const (
	epWebhook = "/webhooks/spoynt"
	epTopUps  = "/topups"
	epPayment = "/payments/{reference}"
	epBalance = "/users/{id}/balance"
	epLedger  = "/users/{id}/ledger"
	epAudit   = "/users/{id}/ledger/audit"
	epHealth  = "/health"
)

// Reconciler applies raw gateway notifications.
type Reconciler interface {
	Reconcile(ctx context.Context, body []byte, signature string) (*service.Result, error)
}

// TopUps serves top-up initiation and the read-side views.
type TopUps interface {
	CreateTopUp(ctx context.Context, req models.TopUpRequest) (*domain.Payment, error)
	GetPayment(ctx context.Context, referenceID string) (*domain.Payment, error)
	GetBalance(ctx context.Context, userID int64) (int64, error)
	ListEntries(ctx context.Context, userID int64, limit int) ([]domain.LedgerEntry, error)
	Audit(ctx context.Context, userID int64) (*domain.LedgerAudit, error)
}

// Pinger reports database reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	reconciler Reconciler
	topups     TopUps
	db         Pinger
	logger     *zap.Logger
}

func NewHandler(reconciler Reconciler, topups TopUps, db Pinger, logger *zap.Logger) *Handler {
	return &Handler{reconciler: reconciler, topups: topups, db: db, logger: logger}
}

// Register mounts every route on r. API routes live under /api/v1.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc(epHealth, h.Health).Methods("GET")

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.HandleFunc(epWebhook, h.SpoyntWebhook).Methods("POST")
	apiV1.HandleFunc(epWebhook, h.SpoyntVerify).Methods("GET")
	apiV1.HandleFunc(epTopUps, h.CreateTopUp).Methods("POST")
	apiV1.HandleFunc(epPayment, h.GetPayment).Methods("GET")
	apiV1.HandleFunc(epBalance, h.GetBalance).Methods("GET")
	apiV1.HandleFunc(epLedger, h.GetLedger).Methods("GET")
	apiV1.HandleFunc(epAudit, h.GetLedgerAudit).Methods("GET")
}

// SpoyntWebhook hands the request body to the reconciler exactly as received, so the
// signature is checked against the bytes the gateway signed.
func (h *Handler) SpoyntWebhook(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", epWebhook))
	defer timer.ObserveDuration()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			webhookOutcomes.WithLabelValues("too_large").Inc()
			h.respondError(w, http.StatusRequestEntityTooLarge, "Payload too large", "POST", epWebhook)
			return
		}
		h.respondError(w, http.StatusBadRequest, "Unreadable body", "POST", epWebhook)
		return
	}

	res, err := h.reconciler.Reconcile(r.Context(), body, r.Header.Get(spoynt.SignatureHeader))
	if err != nil {
		code, msg, label := webhookError(err)
		webhookOutcomes.WithLabelValues(label).Inc()
		if code >= http.StatusInternalServerError {
			h.logger.Error("notification processing failed", zap.Error(err))
		}
		h.respondError(w, code, msg, "POST", epWebhook)
		return
	}

	webhookOutcomes.WithLabelValues(string(res.Outcome)).Inc()
	if res.Outcome == service.OutcomeCompleted {
		tokensCredited.Add(float64(res.TokensCredited))
	}
	h.respondJSON(w, http.StatusOK, models.WebhookAck{Received: true, Outcome: string(res.Outcome)}, "POST", epWebhook)
}

func webhookError(err error) (code int, msg, label string) {
	switch {
	case errors.Is(err, spoynt.ErrMalformedNotification):
		return http.StatusBadRequest, "Malformed notification", "malformed"
	case errors.Is(err, spoynt.ErrInvalidSignature):
		return http.StatusUnauthorized, "Invalid signature", "bad_signature"
	case errors.Is(err, currency.ErrUnsupportedCurrency):
		return http.StatusUnprocessableEntity, "Unsupported currency", "unsupported_currency"
	case errors.Is(err, currency.ErrInvalidAmount):
		return http.StatusUnprocessableEntity, "Invalid amount", "invalid_amount"
	case errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict, "Duplicate ledger entry", "duplicate"
	case errors.Is(err, store.ErrConflict):
		return http.StatusServiceUnavailable, "Concurrent update, retry", "conflict"
	default:
		return http.StatusInternalServerError, "Internal error", "error"
	}
}

// SpoyntVerify answers the gateway's endpoint reachability check.
func (h *Handler) SpoyntVerify(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"}, "GET", epWebhook)
}

func (h *Handler) CreateTopUp(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", epTopUps))
	defer timer.ObserveDuration()

	var req models.TopUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON", "POST", epTopUps)
		return
	}

	p, err := h.topups.CreateTopUp(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRequest):
			h.respondError(w, http.StatusBadRequest, err.Error(), "POST", epTopUps)
		case errors.Is(err, currency.ErrUnsupportedCurrency):
			h.respondError(w, http.StatusUnprocessableEntity, err.Error(), "POST", epTopUps)
		default:
			h.logger.Error("create top-up failed", zap.Int64("user_id", req.UserID), zap.Error(err))
			h.respondError(w, http.StatusInternalServerError, "Internal error", "POST", epTopUps)
		}
		return
	}

	w.Header().Set("Location", "/api/v1/payments/"+p.ReferenceID)
	h.respondJSON(w, http.StatusCreated, models.TopUpResponse{Payment: *p}, "POST", epTopUps)
}

func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.topups.GetPayment(r.Context(), mux.Vars(r)["reference"])
	if err != nil {
		h.respondStoreError(w, err, "GET", epPayment)
		return
	}
	h.respondJSON(w, http.StatusOK, p, "GET", epPayment)
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r, epBalance)
	if !ok {
		return
	}
	balance, err := h.topups.GetBalance(r.Context(), userID)
	if err != nil {
		h.respondStoreError(w, err, "GET", epBalance)
		return
	}
	h.respondJSON(w, http.StatusOK, models.BalanceResponse{UserID: userID, Balance: balance}, "GET", epBalance)
}

func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r, epLedger)
	if !ok {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "Invalid limit", "GET", epLedger)
			return
		}
		limit = n
	}

	entries, err := h.topups.ListEntries(r.Context(), userID, limit)
	if err != nil {
		h.respondStoreError(w, err, "GET", epLedger)
		return
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	h.respondJSON(w, http.StatusOK, models.EntriesResponse{UserID: userID, Entries: entries}, "GET", epLedger)
}

func (h *Handler) GetLedgerAudit(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r, epAudit)
	if !ok {
		return
	}
	audit, err := h.topups.Audit(r.Context(), userID)
	if err != nil {
		h.respondStoreError(w, err, "GET", epAudit)
		return
	}
	h.respondJSON(w, http.StatusOK, audit, "GET", epAudit)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.db.Ping(ctx); err != nil {
		h.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"}, "GET", epHealth)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"}, "GET", epHealth)
}

// Helpers
func (h *Handler) userID(w http.ResponseWriter, r *http.Request, endpoint string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		h.respondError(w, http.StatusBadRequest, "Invalid user id", "GET", endpoint)
		return 0, false
	}
	return id, true
}

func (h *Handler) respondStoreError(w http.ResponseWriter, err error, method, endpoint string) {
	switch {
	case errors.Is(err, store.ErrPaymentNotFound), errors.Is(err, store.ErrUserNotFound):
		h.respondError(w, http.StatusNotFound, "Not Found", method, endpoint)
	default:
		h.logger.Error("store read failed", zap.String("endpoint", endpoint), zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "Internal error", method, endpoint)
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, code int, payload interface{}, method, endpoint string) {
	httpReqTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func (h *Handler) respondError(w http.ResponseWriter, code int, msg, method, endpoint string) {
	h.respondJSON(w, code, map[string]string{"error": msg}, method, endpoint)
}
