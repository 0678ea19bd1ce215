package httpd

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ShopCx/PaymentService/internal/domain"
	"github.com/go-chi/chi/v5/middleware"
)

type SigConfig struct {
	Secret        string
	MaxAgeSeconds int64
	Now           func() time.Time
}

// Sign returns the hex HMAC-SHA256 of body + "." + ts.
func Sign(secret string, body []byte, ts string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	mac.Write([]byte("." + ts))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureMiddleware requires X-Timestamp and X-Signature on mutating
// requests.
func (h *Handler) SignatureMiddleware(cfg SigConfig) func(next http.Handler) http.Handler {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	reject := func(w http.ResponseWriter, r *http.Request, msg string) {
		h.writeError(w, r, domain.NewError(domain.KindUnauthorized, domain.CodeInvalidSignature,
			"Request signature rejected", msg))
	}

	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
				ts := r.Header.Get("X-Timestamp")
				sig := r.Header.Get("X-Signature")

				if ts == "" || sig == "" {
					reject(w, r, "missing signature headers")
					return
				}

				tsInt, err := strconv.ParseInt(ts, 10, 64)
				if err != nil {
					reject(w, r, "invalid timestamp")
					return
				}

				age := now().Unix() - tsInt
				if age < 0 {
					age = -age
				}
				if cfg.MaxAgeSeconds > 0 && age > cfg.MaxAgeSeconds {
					reject(w, r, "signature expired")
					return
				}

				bodyBytes, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
				if err != nil {
					h.writeError(w, r, domain.NewError(domain.KindValidation, domain.CodeInvalidJSON,
						"Invalid JSON in request body", "Body could not be read"))
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(bodyBytes))

				expected := Sign(cfg.Secret, bodyBytes, ts)
				if !hmac.Equal([]byte(expected), []byte(sig)) {
					reject(w, r, "invalid signature")
					return
				}
			}
			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(fn)
	}
}

func (h *Handler) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.metrics.RequestReceived()
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		h.log.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
