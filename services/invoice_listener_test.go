package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"nfcauth/database"
)

func TestInvoiceListenerRecordsQueuedRefund(t *testing.T) {
	store := database.NewMemoryStore()
	seedCard(t, store)
	hit := seedHit(t, store)
	payments := newFakePayments()
	payments.setStatus("paidhash", &PaymentStatus{Paid: true, AmountSat: 42, Extra: map[string]string{"refund": hit.ID}})
	listener := NewInvoiceListener(NewRefundService(store, payments), 4)

	ctx, cancel := context.WithCancel(context.Background())
	listener.Start(ctx)

	if !listener.Enqueue(PaidInvoice{HitID: hit.ID, PaymentHash: "paidhash"}) {
		t.Fatal("enqueue rejected")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		refund, err := store.GetRefund(context.Background(), "paidhash")
		if err == nil {
			if refund.RefundAmount != 42 {
				t.Fatalf("refund amount = %d", refund.RefundAmount)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("refund was not recorded")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case <-listener.Stopped():
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
}

func TestInvoiceListenerQueueFull(t *testing.T) {
	listener := NewInvoiceListener(nil, 1)
	if !listener.Enqueue(PaidInvoice{PaymentHash: "a"}) {
		t.Fatal("first enqueue rejected")
	}
	if listener.Enqueue(PaidInvoice{PaymentHash: "b"}) {
		t.Fatal("enqueue into a full queue must fail")
	}
}

func TestInvoiceListenerRetriesUnpaid(t *testing.T) {
	store := database.NewMemoryStore()
	seedCard(t, store)
	hit := seedHit(t, store)
	payments := newFakePayments()
	payments.setStatus("hash", &PaymentStatus{Paid: false})
	listener := NewInvoiceListener(NewRefundService(store, payments), 4)
	ctx := context.Background()

	listener.handle(ctx, PaidInvoice{HitID: hit.ID, PaymentHash: "hash"})
	if listener.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", listener.Pending())
	}

	payments.setStatus("hash", &PaymentStatus{Paid: true, AmountSat: 10, Extra: map[string]string{"refund": hit.ID}})
	listener.retryPending(ctx)
	if listener.Pending() != 0 {
		t.Fatalf("pending = %d, want 0", listener.Pending())
	}
	if _, err := store.GetRefund(ctx, "hash"); err != nil {
		t.Fatalf("refund not recorded: %v", err)
	}
}

func TestInvoiceListenerDropsRejected(t *testing.T) {
	store := database.NewMemoryStore()
	seedCard(t, store)
	hit := seedHit(t, store)
	payments := newFakePayments()
	payments.checkErr = errors.New("connection refused")
	listener := NewInvoiceListener(NewRefundService(store, payments), 4)
	ctx := context.Background()

	// неизвестное касание не повторяется
	listener.handle(ctx, PaidInvoice{HitID: "missing", PaymentHash: "hash"})
	if listener.Pending() != 0 {
		t.Fatalf("pending = %d, want 0", listener.Pending())
	}

	listener.handle(ctx, PaidInvoice{HitID: hit.ID, PaymentHash: "hash"})
	for i := 0; i < maxInvoiceAttempts-2; i++ {
		listener.retryPending(ctx)
	}
	if listener.Pending() != 1 {
		t.Fatalf("pending = %d before last attempt", listener.Pending())
	}
	listener.retryPending(ctx)
	if listener.Pending() != 0 {
		t.Fatalf("pending = %d after max attempts", listener.Pending())
	}
}
