package metric

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP метрики - количество запросов
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Общее количество HTTP запросов",
		},
		[]string{"method", "endpoint", "status"},
	)

	// HTTP метрики - время обработки запросов
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Время обработки HTTP запросов в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)

	// Активные подключения по типу транспорта
	activeConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_active_connections",
			Help: "Количество активных подключений к релею",
		},
		[]string{"transport"},
	)

	// Входящие события по имени
	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_events_total",
			Help: "Количество обработанных событий",
		},
		[]string{"event", "outcome"},
	)

	activeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_active_sessions",
			Help: "Количество сессий с подключенными клиентами",
		},
	)
)

// RecordHTTPMetrics записывает метрики HTTP запроса
func RecordHTTPMetrics(method, endpoint string, status int, duration time.Duration) {
	strStatus := strconv.Itoa(status)

	httpRequestsTotal.WithLabelValues(method, endpoint, strStatus).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint, strStatus).Observe(duration.Seconds())
}

func IncrementActiveConnections(transport string) {
	activeConnections.WithLabelValues(transport).Inc()
}

func DecrementActiveConnections(transport string) {
	activeConnections.WithLabelValues(transport).Dec()
}

// RecordEvent считает событие; outcome - ok, rejected или malformed
func RecordEvent(event, outcome string) {
	eventsTotal.WithLabelValues(event, outcome).Inc()
}

// sessionsNow дублирует gauge для /ready
var sessionsNow atomic.Int64

func SetActiveSessions(count int) {
	activeSessions.Set(float64(count))
	sessionsNow.Store(int64(count))
}
