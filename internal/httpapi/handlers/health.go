package handlers

import (
	"context"
	"net/http"
	"time"

	"edcomposer/internal/httpkit"
	"edcomposer/internal/ports"
)

const (
	serviceName  = "edcomposer-api"
	version      = "0.1.0"
	checkTimeout = 5 * time.Second
)

// Health reports liveness. With ?deep=true it also checks every configured
// dependency and reports "degraded" when one of them fails.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	snap := h.session.Snapshot()
	health := map[string]any{
		"status":         "ok",
		"service":        serviceName,
		"version":        version,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"render": map[string]any{
			"status": snap.Status,
			"epoch":  snap.Epoch,
		},
	}

	if r.URL.Query().Get("deep") == "true" {
		checks := h.deepHealthCheck(ctx)
		health["checks"] = checks

		for _, check := range checks {
			if check["status"] == "error" {
				health["status"] = "degraded"
				h.log.FromContext(ctx).Warn("health check degraded", "checks", checks)
				break
			}
		}
	}

	httpkit.WriteJSON(w, http.StatusOK, health)
}

func (h *Handler) deepHealthCheck(ctx context.Context) map[string]map[string]any {
	return map[string]map[string]any{
		"postgres": h.checkPostgres(ctx),
		"redis":    h.checkRedis(ctx),
		"storage":  h.checkStorage(ctx),
		"renderer": {"status": "ok", "base_url": h.rendererURL},
	}
}

func (h *Handler) checkPostgres(ctx context.Context) map[string]any {
	if h.pool == nil {
		return map[string]any{"status": "disabled"}
	}

	start := time.Now()
	result := map[string]any{"status": "ok"}

	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	if err := h.pool.Ping(checkCtx); err != nil {
		result["status"] = "error"
		result["error"] = err.Error()
	} else {
		stats := h.pool.Stat()
		result["total_conns"] = stats.TotalConns()
		result["idle_conns"] = stats.IdleConns()
		result["acquired_conns"] = stats.AcquiredConns()
	}

	result["latency_ms"] = time.Since(start).Milliseconds()
	return result
}

func (h *Handler) checkRedis(ctx context.Context) map[string]any {
	if h.rdb == nil {
		return map[string]any{"status": "disabled"}
	}

	start := time.Now()
	result := map[string]any{"status": "ok"}

	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	if err := h.rdb.Ping(checkCtx).Err(); err != nil {
		result["status"] = "error"
		result["error"] = err.Error()
	}

	result["latency_ms"] = time.Since(start).Milliseconds()
	return result
}

func (h *Handler) checkStorage(ctx context.Context) map[string]any {
	if h.sp == nil {
		return map[string]any{"status": "disabled"}
	}

	start := time.Now()
	result := map[string]any{
		"status":   "ok",
		"provider": h.sp.Provider(),
	}

	if hc, ok := h.sp.(ports.HealthChecker); ok {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		defer cancel()

		if err := hc.Check(checkCtx); err != nil {
			result["status"] = "error"
			result["error"] = err.Error()
		}
	}

	result["latency_ms"] = time.Since(start).Milliseconds()
	return result
}
