// health.go — обработчики health endpoints.
// /health/live — процесс жив.
// /health/ready — готовность зависимостей: PostgreSQL, JWKS IdP, объектное хранилище.
// /metrics — Prometheus метрики.
package handlers

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/loandesk/internal/config"
)

const serviceName = "loandesk"

// Статусы проверок готовности.
const (
	statusOK       = "ok"
	statusDegraded = "degraded"
	statusFail     = "fail"
)

// ReadinessChecker — интерфейс проверки готовности зависимости.
type ReadinessChecker interface {
	// CheckReady возвращает статус ("ok", "degraded", "fail") и сообщение.
	CheckReady() (status string, message string)
}

// dependency — зависимость в отчёте готовности.
type dependency struct {
	name    string
	checker ReadinessChecker
}

// HealthHandler — обработчик health endpoints.
type HealthHandler struct {
	deps        []dependency
	promHandler http.Handler
}

// NewHealthHandler создаёт обработчик health endpoints.
// Неинициализированная (nil) зависимость считается fail.
// Исчерпанный пул PostgreSQL и недоступный бакет дают degraded:
// заявки читаются, но новые загрузки и передачи могут не пройти.
func NewHealthHandler(pgChecker, idpChecker, storageChecker ReadinessChecker) *HealthHandler {
	return &HealthHandler{
		deps: []dependency{
			{name: "postgresql", checker: pgChecker},
			{name: "idp", checker: idpChecker},
			{name: "storage", checker: storageChecker},
		},
		promHandler: promhttp.Handler(),
	}
}

// healthCheckResult — результат проверки одной зависимости.
type healthCheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// healthLiveResponse — ответ liveness probe.
type healthLiveResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
}

// healthReadyResponse — ответ readiness probe.
// Degraded перечисляет зависимости, работающие с ограничениями.
type healthReadyResponse struct {
	Status    string                       `json:"status"`
	Timestamp string                       `json:"timestamp"`
	Version   string                       `json:"version"`
	Service   string                       `json:"service"`
	Checks    map[string]healthCheckResult `json:"checks"`
	Degraded  []string                     `json:"degraded,omitempty"`
}

// HealthLive — liveness probe. Возвращает 200 если процесс жив.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthLiveResponse{
		Status:    statusOK,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
	})
}

// HealthReady — readiness probe.
// 200 для ok и degraded, 503 если хотя бы одна зависимость fail.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	resp := healthReadyResponse{
		Status:    statusOK,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
		Checks:    make(map[string]healthCheckResult, len(h.deps)),
	}

	for _, d := range h.deps {
		res := healthCheckResult{Status: statusFail, Message: "не инициализирован"}
		if d.checker != nil {
			status, msg := d.checker.CheckReady()
			res = healthCheckResult{Status: status, Message: msg}
		}
		resp.Checks[d.name] = res

		switch res.Status {
		case statusFail:
			resp.Status = statusFail
		case statusDegraded:
			resp.Degraded = append(resp.Degraded, d.name)
			if resp.Status == statusOK {
				resp.Status = statusDegraded
			}
		}
	}

	code := http.StatusOK
	if resp.Status == statusFail {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// GetMetrics — Prometheus метрики.
func (h *HealthHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.promHandler.ServeHTTP(w, r)
}
