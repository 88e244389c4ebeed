package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"nfcauth/utils"
)

// PaidInvoice уведомление об оплаченном инвойсе возврата
type PaidInvoice struct {
	HitID       string
	PaymentHash string

	attempts int
}

const maxInvoiceAttempts = 5

// InvoiceListener фоновая обработка уведомлений об оплате возвратов.
// Уведомления, которые не удалось сверить с платежным сервисом,
// повторяются по таймеру.
type InvoiceListener struct {
	refunds       *RefundService
	queue         chan PaidInvoice
	retryInterval time.Duration

	mu      sync.Mutex
	pending []PaidInvoice
	stopped chan struct{}
}

// NewInvoiceListener создает новый экземпляр InvoiceListener
func NewInvoiceListener(refunds *RefundService, size int) *InvoiceListener {
	return &InvoiceListener{
		refunds:       refunds,
		queue:         make(chan PaidInvoice, size),
		retryInterval: time.Minute,
		stopped:       make(chan struct{}),
	}
}

// Enqueue ставит уведомление в очередь; false, если очередь переполнена
func (l *InvoiceListener) Enqueue(inv PaidInvoice) bool {
	select {
	case l.queue <- inv:
		return true
	default:
		utils.LogError("invoice queue is full, dropping %s", inv.PaymentHash)
		return false
	}
}

// Start запускает обработчик очереди до отмены ctx
func (l *InvoiceListener) Start(ctx context.Context) {
	ticker := time.NewTicker(l.retryInterval)
	go func() {
		defer close(l.stopped)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case inv := <-l.queue:
				l.handle(ctx, inv)
			case <-ticker.C:
				l.retryPending(ctx)
			}
		}
	}()
	utils.LogInfo("invoice listener started")
}

// Stopped закрывается после остановки обработчика
func (l *InvoiceListener) Stopped() <-chan struct{} {
	return l.stopped
}

// Process обрабатывает одно уведомление синхронно
func (l *InvoiceListener) Process(ctx context.Context, inv PaidInvoice) error {
	_, err := l.refunds.RecordPaidRefund(ctx, inv.HitID, inv.PaymentHash)
	return err
}

func (l *InvoiceListener) handle(ctx context.Context, inv PaidInvoice) {
	err := l.Process(ctx, inv)
	if err == nil {
		return
	}
	inv.attempts++
	// отказ с причиной повторять бессмысленно
	if _, ok := ReasonOf(err); ok || inv.attempts >= maxInvoiceAttempts {
		utils.LogError("refund %s for hit %s dropped: %v", inv.PaymentHash, inv.HitID, err)
		return
	}
	if errors.Is(err, errInvoiceNotPaid) || errors.Is(err, ErrUpstreamPayment) {
		utils.LogInfo("refund %s for hit %s postponed: %v", inv.PaymentHash, inv.HitID, err)
		l.mu.Lock()
		l.pending = append(l.pending, inv)
		l.mu.Unlock()
		return
	}
	utils.LogError("refund %s for hit %s failed: %v", inv.PaymentHash, inv.HitID, err)
}

func (l *InvoiceListener) retryPending(ctx context.Context) {
	l.mu.Lock()
	batch := l.pending
	l.pending = nil
	l.mu.Unlock()

	for _, inv := range batch {
		l.handle(ctx, inv)
	}
}

// Pending количество уведомлений, ожидающих повтора
func (l *InvoiceListener) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}
