package httpd

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ShopCx/PaymentService/internal/domain"
	"github.com/ShopCx/PaymentService/internal/health"
	"github.com/ShopCx/PaymentService/internal/idempotency"
	"github.com/ShopCx/PaymentService/internal/metrics"
	"github.com/ShopCx/PaymentService/internal/repository"
	"github.com/ShopCx/PaymentService/internal/token"
	"github.com/ShopCx/PaymentService/internal/usecase"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

const maxBodyBytes = 1 << 20

type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (*token.Claims, error)
}

type Deps struct {
	Payments    *usecase.PaymentUsecase
	Refunds     *usecase.RefundUsecase
	Tokens      TokenVerifier
	Metrics     *metrics.Metrics
	Health      *health.Checker
	Idempotency idempotency.Store
	Log         *slog.Logger
}

type Handler struct {
	payments *usecase.PaymentUsecase
	refunds  *usecase.RefundUsecase
	tokens   TokenVerifier
	metrics  *metrics.Metrics
	health   *health.Checker
	idem     idempotency.Store
	log      *slog.Logger
}

func NewHandler(d Deps) *Handler {
	h := &Handler{
		payments: d.Payments,
		refunds:  d.Refunds,
		tokens:   d.Tokens,
		metrics:  d.Metrics,
		health:   d.Health,
		idem:     d.Idempotency,
		log:      d.Log,
	}
	if h.log == nil {
		h.log = slog.Default()
	}
	if h.metrics == nil {
		h.metrics = metrics.New()
	}
	if h.health == nil {
		h.health = health.NewChecker(h.log, 2*time.Second)
	}
	return h
}

type Options struct {
	AllowedOrigins []string
	Signature      SigConfig
	RequestTimeout time.Duration
}

func (h *Handler) Routes(opts Options) http.Handler {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Timestamp", "X-Signature", idempotency.HeaderKey},
		ExposedHeaders:   []string{"Idempotent-Replayed"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(h.countRequests)
	r.Use(h.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.Health)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	r.Route("/api/payments", func(r chi.Router) {
		if opts.RequestTimeout > 0 {
			r.Use(middleware.Timeout(opts.RequestTimeout))
		}
		if opts.Signature.Secret != "" {
			r.Use(h.SignatureMiddleware(opts.Signature))
		}
		if h.idem != nil {
			r.Use(idempotency.Middleware(h.idem, h.log))
		}

		r.Post("/process", h.ProcessPayment)
		r.Get("/verify", h.VerifyToken)
		r.Get("/verify/{token}", h.VerifyToken)
		r.Post("/refund", h.ProcessRefund)
		r.Post("/refunds/{refundId}/retry", h.RetryRefund)
		r.Get("/refunds/{refundId}", h.GetRefund)
		r.Get("/transactions", h.ListTransactions)
		r.Get("/transactions/{transactionId}", h.GetTransaction)
		r.Get("/transactions/{transactionId}/refunds", h.ListRefunds)
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindUnauthorized:
		return http.StatusUnauthorized
	case domain.KindDependency:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError is the single place errors become responses and errors_total
// is counted.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	de := domain.AsError(err)
	status := statusFor(de.Kind)

	attrs := []any{"method", r.Method, "path", r.URL.Path, "code", de.Code, "status", status}
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", append(attrs, "err", err)...)
	} else {
		h.log.Info("request rejected", attrs...)
	}

	h.metrics.ErrorReported(de.Code)
	writeJSON(w, status, ErrorResp{Error: ErrorBody{
		Code:    de.Code,
		Message: de.Message,
		Details: de.Details,
	}})
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, domain.NewError(domain.KindValidation, domain.CodeInvalidJSON,
				"Request body too large", "Body must not exceed "+strconv.Itoa(maxBodyBytes)+" bytes")
		}
		return nil, domain.NewError(domain.KindValidation, domain.CodeInvalidJSON,
			"Invalid JSON in request body", "Body could not be read")
	}
	return raw, nil
}

// POST /api/payments/process
func (h *Handler) ProcessPayment(w http.ResponseWriter, r *http.Request) {
	raw, err := readBody(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.payments.ProcessPayment(r.Context(), raw)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, ProcessPaymentResp{
		TransactionID: res.TransactionID,
		Token:         res.Token,
	})
}

// GET /api/payments/verify/{token}
func (h *Handler) VerifyToken(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(chi.URLParam(r, "token"))
	if raw == "" {
		h.writeError(w, r, domain.NewError(domain.KindValidation, domain.CodeMissingToken,
			"Token is required", "Provide the payment token in the path"))
		return
	}

	claims, err := h.tokens.Verify(r.Context(), raw)
	switch {
	case errors.Is(err, token.ErrExpired):
		h.writeError(w, r, &domain.Error{Kind: domain.KindUnauthorized, Code: domain.CodeTokenExpired,
			Message: "Token has expired", Err: err})
		return
	case errors.Is(err, token.ErrInvalid):
		h.writeError(w, r, &domain.Error{Kind: domain.KindUnauthorized, Code: domain.CodeInvalidToken,
			Message: "Invalid token", Err: err})
		return
	case err != nil:
		h.writeError(w, r, domain.Internal("Failed to verify token", err))
		return
	}

	out := TokenClaims{
		TransactionID: claims.TransactionID,
		Amount:        json.Number(claims.Amount),
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Unix()
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Unix()
	}
	writeJSON(w, http.StatusOK, VerifyResp{Valid: true, Data: out})
}

// POST /api/payments/refund
func (h *Handler) ProcessRefund(w http.ResponseWriter, r *http.Request) {
	raw, err := readBody(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.refunds.ProcessRefund(r.Context(), raw)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toRefundResp(res))
}

// POST /api/payments/refunds/{refundId}/retry
func (h *Handler) RetryRefund(w http.ResponseWriter, r *http.Request) {
	res, err := h.refunds.RetryRefund(r.Context(), chi.URLParam(r, "refundId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toRefundResp(res))
}

// GET /api/payments/refunds/{refundId}
func (h *Handler) GetRefund(w http.ResponseWriter, r *http.Request) {
	rf, err := h.refunds.GetRefund(r.Context(), chi.URLParam(r, "refundId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toRefundItem(*rf))
}

// GET /api/payments/transactions?status=&currency=&limit=&offset=
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var filter repository.TxFilter
	if st := q.Get("status"); st != "" {
		filter.Status = domain.TxStatus(strings.ToLower(st))
		if !filter.Status.Valid() {
			h.writeError(w, r, domain.NewError(domain.KindValidation, domain.CodeValidation,
				"Invalid transaction filter", []string{"Status must be one of pending, completed, failed, refunded"}))
			return
		}
	}
	if cur := q.Get("currency"); cur != "" {
		filter.Currency = domain.Currency(strings.ToUpper(cur))
		if !filter.Currency.Valid() {
			h.writeError(w, r, domain.NewError(domain.KindValidation, domain.CodeValidation,
				"Invalid transaction filter", []string{"Currency must be one of USD, EUR, GBP"}))
			return
		}
	}

	limit := repository.DefaultListLimit
	offset := 0
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= repository.MaxListLimit {
			limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	items, err := h.payments.ListTransactions(r.Context(), filter, limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]TxItem, 0, len(items))
	for _, t := range items {
		out = append(out, toTxItem(t))
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /api/payments/transactions/{transactionId}
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	t, err := h.payments.GetTransaction(r.Context(), chi.URLParam(r, "transactionId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toTxItem(*t))
}

// GET /api/payments/transactions/{transactionId}/refunds
func (h *Handler) ListRefunds(w http.ResponseWriter, r *http.Request) {
	items, err := h.refunds.ListRefunds(r.Context(), chi.URLParam(r, "transactionId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]RefundItem, 0, len(items))
	for _, rf := range items {
		out = append(out, toRefundItem(rf))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	rep := h.health.Check(r.Context())
	status := http.StatusOK
	if !rep.Healthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, rep)
}
