package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
)

const Header = "Idempotency-Key"

// Keeper is the part of Store the HTTP middleware needs.
type Keeper interface {
	Begin(ctx context.Context, key string) (State, []byte, error)
	Complete(ctx context.Context, key string, result []byte) error
	Abandon(ctx context.Context, key string) error
}

type recorded struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body"`
}

// Middleware replays the first successful response for a repeated
// Idempotency-Key. A repeat that arrives while the first request is still
// running gets 409. Requests without the header pass straight through, and
// so does everything when the keeper is unavailable.
func Middleware(log *slog.Logger, keeper Keeper) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(Header)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			state, prev, err := keeper.Begin(ctx, key)
			if err != nil {
				log.Warn("idempotency store unavailable", "key", key, "err", err)
				next.ServeHTTP(w, r)
				return
			}
			switch state {
			case InFlight:
				http.Error(w, "request with this idempotency key is in progress", http.StatusConflict)
				return
			case Done:
				var rec recorded
				if err := json.Unmarshal(prev, &rec); err != nil {
					log.Error("corrupt idempotency record", "key", key, "err", err)
					http.Error(w, "corrupt idempotency record", http.StatusInternalServerError)
					return
				}
				if rec.ContentType != "" {
					w.Header().Set("Content-Type", rec.ContentType)
				}
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(rec.Status)
				_, _ = w.Write(rec.Body)
				return
			}

			rw := &recorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)

			// Failed attempts may be retried with the same key.
			if rw.status >= 300 {
				if err := keeper.Abandon(context.WithoutCancel(ctx), key); err != nil {
					log.Error("idempotency abandon failed", "key", key, "err", err)
				}
				return
			}
			raw, _ := json.Marshal(recorded{Status: rw.status, ContentType: w.Header().Get("Content-Type"), Body: rw.body.Bytes()})
			if err := keeper.Complete(context.WithoutCancel(ctx), key, raw); err != nil {
				log.Error("idempotency complete failed", "key", key, "err", err)
			}
		})
	}
}

type recorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *recorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *recorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
