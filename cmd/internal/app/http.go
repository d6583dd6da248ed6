package app

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"log/slog"

	authapi "github.com/PedroAbreu017/Help-Desk-System-sub001/cmd/internal/auth/api"
	"github.com/PedroAbreu017/Help-Desk-System-sub001/cmd/internal/realtime"
)

// registerHTTP mounts every HTTP surface on mux: liveness, readiness,
// Prometheus metrics, the auth endpoints and the websocket gateway.
func registerHTTP(mux *http.ServeMux, cfg Config, log *slog.Logger, pool *pgxpool.Pool, auth *authapi.Handler, gw *realtime.WSGateway) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, http.StatusOK, map[string]any{"status": "ok"})
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{"status": "ok"}
		code := http.StatusOK

		if cfg.ReadinessRequireDB {
			if pool == nil {
				code = http.StatusServiceUnavailable
				body["status"] = "degraded"
				body["db"] = "not configured"
			} else if err := PingDB(r.Context(), pool, 2*time.Second); err != nil {
				log.Warn("readyz.db_unreachable", "err", err)
				code = http.StatusServiceUnavailable
				body["status"] = "degraded"
				body["db"] = "unreachable"
			} else {
				body["db"] = "ok"
			}
		}

		writeHealth(w, code, body)
	})

	mux.Handle("GET /metrics", promhttp.Handler())

	auth.Register(mux)

	mux.HandleFunc("GET /ws", gw.HandleWS)
}

func writeHealth(w http.ResponseWriter, code int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
