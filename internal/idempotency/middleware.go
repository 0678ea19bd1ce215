package idempotency

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ShopCx/PaymentService/internal/domain"
)

const HeaderKey = "Idempotency-Key"

// Middleware replays the stored response for a repeated Idempotency-Key on
// POST requests. Requests without the header pass through untouched. Server
// errors are not stored so the client can retry with the same key. Store
// failures fail open.
func Middleware(store Store, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			idemKey := r.Header.Get(HeaderKey)
			if r.Method != http.MethodPost || idemKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			key := Key(r.Method, r.URL.Path, idemKey)

			ok, err := store.Reserve(ctx, key)
			if err != nil {
				log.Error("idempotency reserve failed", "err", err)
				next.ServeHTTP(w, r)
				return
			}

			if !ok {
				saved, err := store.Load(ctx, key)
				if err != nil {
					log.Error("idempotency load failed", "err", err)
					next.ServeHTTP(w, r)
					return
				}
				if saved == nil {
					writeInProgress(w)
					return
				}
				if saved.ContentType != "" {
					w.Header().Set("Content-Type", saved.ContentType)
				}
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(saved.Status)
				w.Write(saved.Body)
				return
			}

			rec := &capture{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.status >= http.StatusInternalServerError {
				if err := store.Release(ctx, key); err != nil {
					log.Warn("idempotency release failed", "err", err)
				}
				return
			}

			resp := Response{
				Status:      rec.status,
				ContentType: w.Header().Get("Content-Type"),
				Body:        rec.body.Bytes(),
			}
			if err := store.Save(ctx, key, resp); err != nil {
				log.Warn("idempotency save failed", "err", err)
			}
		}
		return http.HandlerFunc(fn)
	}
}

type capture struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *capture) WriteHeader(status int) {
	c.status = status
	c.ResponseWriter.WriteHeader(status)
}

func (c *capture) Write(b []byte) (int, error) {
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

func writeInProgress(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusConflict)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":    domain.CodeRequestInProgress,
			"message": "A request with this Idempotency-Key is still being processed",
			"details": "Retry after the original request completes",
		},
	})
}
