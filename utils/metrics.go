package utils

import (
	"sync"
	"time"
)

// Metrics содержит метрики приложения
type Metrics struct {
	mu sync.RWMutex

	// Метрики запросов
	TotalRequests   int64
	FailedRequests  int64
	RequestLatency  time.Duration
	AverageLatency  time.Duration
	LastRequestTime time.Time

	// Метрики касаний
	TapsAccepted  int64
	TapsRejected  map[string]int64
	LastTapTime   time.Time
	Handshakes    int64
	CardsCreated  int64
	CardsDeleted  int64
	Payments      int64
	PaymentErrors int64
	Refunds       int64

	// Метрики ошибок
	ErrorCount     int64
	LastErrorTime  time.Time
	ErrorTypes     map[string]int64
	CriticalErrors int64
}

var (
	metrics     *Metrics
	metricsOnce sync.Once
)

// GetMetrics возвращает экземпляр метрик
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = NewMetrics()
	})
	return metrics
}

// NewMetrics создает пустой набор метрик
func NewMetrics() *Metrics {
	return &Metrics{
		TapsRejected: make(map[string]int64),
		ErrorTypes:   make(map[string]int64),
	}
}

// RecordRequest записывает метрики запроса
func (m *Metrics) RecordRequest(duration time.Duration, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.TotalRequests++
	m.RequestLatency += duration
	m.AverageLatency = m.RequestLatency / time.Duration(m.TotalRequests)
	m.LastRequestTime = time.Now()
	if failed {
		m.FailedRequests++
	}
}

// RecordTap записывает исход касания; пустой kind означает успех
func (m *Metrics) RecordTap(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.LastTapTime = time.Now()
	if kind == "" {
		m.TapsAccepted++
		return
	}
	m.TapsRejected[kind]++
}

// RecordCardOperation записывает метрики операции с картой
func (m *Metrics) RecordCardOperation(operation string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch operation {
	case "create":
		m.CardsCreated++
	case "delete":
		m.CardsDeleted++
	case "handshake":
		m.Handshakes++
	}
}

// RecordPayment записывает исход выплаты по касанию
func (m *Metrics) RecordPayment(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		m.PaymentErrors++
		m.recordError(err)
		return
	}
	m.Payments++
}

// RecordRefund записывает зачисленный возврат
func (m *Metrics) RecordRefund() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Refunds++
}

// RecordError записывает метрики ошибки
func (m *Metrics) RecordError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordError(err)
}

// RecordCriticalError записывает метрики критической ошибки
func (m *Metrics) RecordCriticalError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CriticalErrors++
	m.recordError(err)
}

func (m *Metrics) recordError(err error) {
	m.ErrorCount++
	m.LastErrorTime = time.Now()

	errorType := "unknown"
	if err != nil {
		errorType = err.Error()
	}
	m.ErrorTypes[errorType]++
}

// GetMetricsSnapshot возвращает снимок текущих метрик
func (m *Metrics) GetMetricsSnapshot() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rejected := make(map[string]int64, len(m.TapsRejected))
	for k, v := range m.TapsRejected {
		rejected[k] = v
	}
	errorTypes := make(map[string]int64, len(m.ErrorTypes))
	for k, v := range m.ErrorTypes {
		errorTypes[k] = v
	}

	return map[string]interface{}{
		"total_requests":  m.TotalRequests,
		"failed_requests": m.FailedRequests,
		"average_latency": m.AverageLatency.String(),
		"taps_accepted":   m.TapsAccepted,
		"taps_rejected":   rejected,
		"handshakes":      m.Handshakes,
		"cards_created":   m.CardsCreated,
		"cards_deleted":   m.CardsDeleted,
		"payments":        m.Payments,
		"payment_errors":  m.PaymentErrors,
		"refunds":         m.Refunds,
		"error_count":     m.ErrorCount,
		"critical_errors": m.CriticalErrors,
		"last_error_time": m.LastErrorTime,
		"error_types":     errorTypes,
	}
}

// ResetMetrics сбрасывает все метрики
func (m *Metrics) ResetMetrics() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.TotalRequests = 0
	m.FailedRequests = 0
	m.RequestLatency = 0
	m.AverageLatency = 0
	m.TapsAccepted = 0
	m.TapsRejected = make(map[string]int64)
	m.Handshakes = 0
	m.CardsCreated = 0
	m.CardsDeleted = 0
	m.Payments = 0
	m.PaymentErrors = 0
	m.Refunds = 0
	m.ErrorCount = 0
	m.CriticalErrors = 0
	m.ErrorTypes = make(map[string]int64)
}
