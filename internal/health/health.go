// Package health отдаёт liveness/readiness сервиса: хранилище и фоновые
// воркеры checkout-конвейера регистрируют здесь свои проверки.
package health

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Status — итог проверки компонента.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// Check — результат одной проверки.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Response — агрегированный ответ /healthz.
type Response struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

// Checker выполняет проверку одного компонента.
type Checker interface {
	Check() Check
}

// Handler агрегирует зарегистрированные проверки.
type Handler struct {
	mu        sync.RWMutex
	checkers  map[string]Checker
	version   string
	startTime time.Time
}

func NewHandler(version string) *Handler {
	return &Handler{
		checkers:  make(map[string]Checker),
		version:   version,
		startTime: time.Now(),
	}
}

// RegisterChecker добавляет проверку компонента под заданным именем.
func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = checker
}

func (h *Handler) snapshot() map[string]Checker {
	h.mu.RLock()
	defer h.mu.RUnlock()

	checkers := make(map[string]Checker, len(h.checkers))
	for name, checker := range h.checkers {
		checkers[name] = checker
	}
	return checkers
}

// ServeHTTP отдаёт полный отчёт: unhealthy любого компонента опускает
// общий статус и HTTP-код до 503, degraded только помечается.
func (h *Handler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	checks := make(map[string]Check)
	overall := StatusHealthy

	for name, checker := range h.snapshot() {
		check := checker.Check()
		checks[name] = check

		switch check.Status {
		case StatusUnhealthy:
			overall = StatusUnhealthy
		case StatusDegraded:
			if overall == StatusHealthy {
				overall = StatusDegraded
			}
		}
	}

	response := Response{
		Status:        overall,
		Timestamp:     time.Now(),
		Checks:        checks,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	}

	statusCode := http.StatusOK
	if overall == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

// LivenessHandler всегда отвечает 200: процесс жив.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ReadinessHandler снимает трафик при unhealthy; degraded готовность
// не ломает, отставший воркер не повод отклонять заказы.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, _ *http.Request) {
	for _, checker := range h.snapshot() {
		if checker.Check().Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// PingChecker проверяет компонент вызовом функции, обычно ping хранилища.
type PingChecker struct {
	name string
	ping func() error
}

func NewPingChecker(name string, ping func() error) *PingChecker {
	return &PingChecker{name: name, ping: ping}
}

func (c *PingChecker) Check() Check {
	start := time.Now()
	err := c.ping()
	duration := time.Since(start)

	if err != nil {
		return Check{
			Name:       c.name,
			Status:     StatusUnhealthy,
			Message:    err.Error(),
			DurationMs: duration.Milliseconds(),
		}
	}

	return Check{
		Name:       c.name,
		Status:     StatusHealthy,
		DurationMs: duration.Milliseconds(),
	}
}

// HeartbeatChecker следит за фоновым воркером по времени последнего
// завершённого прохода. Просроченный heartbeat даёт degraded, а не
// unhealthy: заказы сервис принимать всё ещё может.
type HeartbeatChecker struct {
	name     string
	maxAge   time.Duration
	lastPass func() time.Time
}

func NewHeartbeatChecker(name string, maxAge time.Duration, lastPass func() time.Time) *HeartbeatChecker {
	return &HeartbeatChecker{name: name, maxAge: maxAge, lastPass: lastPass}
}

func (c *HeartbeatChecker) Check() Check {
	last := c.lastPass()
	if last.IsZero() {
		// Воркер ещё не сделал ни одного прохода после старта.
		return Check{Name: c.name, Status: StatusDegraded, Message: "no completed pass yet"}
	}

	if age := time.Since(last); c.maxAge > 0 && age > c.maxAge {
		return Check{
			Name:    c.name,
			Status:  StatusDegraded,
			Message: "last pass " + age.Round(time.Second).String() + " ago",
		}
	}

	return Check{Name: c.name, Status: StatusHealthy}
}
