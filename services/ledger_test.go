package services

import (
	"context"
	"errors"
	"testing"

	"nfcauth/database"
	"nfcauth/models"
)

// lossyStore теряет касания сразу после записи
type lossyStore struct {
	database.Store
}

func (s lossyStore) GetHit(ctx context.Context, id string) (*models.Hit, error) {
	return nil, database.ErrRecordNotFound
}

func TestLedgerMarkSpentOnce(t *testing.T) {
	forEachStore(t, func(t *testing.T, store database.Store) {
		seedCard(t, store)
		ledger := NewLedger(store)
		ledger.now = fixedClock
		ctx := context.Background()

		hit, err := ledger.RecordHit(ctx, "CARD1", "1.1.1.1", "ua", 5, 6)
		if err != nil {
			t.Fatal(err)
		}
		if !hit.Time.Equal(testNow) {
			t.Fatalf("hit time = %v", hit.Time)
		}

		if _, err := ledger.MarkSpent(ctx, hit.ID, 200); err != nil {
			t.Fatal(err)
		}
		_, err = ledger.MarkSpent(ctx, hit.ID, 300)
		expectReason(t, err, ReasonAlreadyClaimed)
		if !errors.Is(err, ErrAlreadyClaimed) {
			t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
		}

		got, _ := store.GetHit(ctx, hit.ID)
		if got.Amount != 200 {
			t.Fatalf("amount = %d, want 200", got.Amount)
		}

		_, err = ledger.MarkSpent(ctx, "missing", 1)
		expectReason(t, err, ReasonBadK1)
	})
}

func TestLedgerRecordHitConsistencyFault(t *testing.T) {
	store := database.NewMemoryStore()
	seedCard(t, store)
	ledger := NewLedger(lossyStore{Store: store})

	_, err := ledger.RecordHit(context.Background(), "CARD1", "", "", 5, 6)
	if !errors.Is(err, ErrInternalConsistency) {
		t.Fatalf("expected ErrInternalConsistency, got %v", err)
	}
	if _, ok := ReasonOf(err); ok {
		t.Fatalf("consistency fault must not be a flow rejection")
	}
}

func TestLedgerRecordRefundIdempotent(t *testing.T) {
	forEachStore(t, func(t *testing.T, store database.Store) {
		seedCard(t, store)
		ledger := NewLedger(store)
		ctx := context.Background()
		hit, err := ledger.RecordHit(ctx, "CARD1", "", "", 5, 6)
		if err != nil {
			t.Fatal(err)
		}

		refund, created, err := ledger.RecordRefund(ctx, "hash1", hit.ID, 150)
		if err != nil || !created || refund.RefundAmount != 150 {
			t.Fatalf("first refund: %v %v %+v", err, created, refund)
		}
		again, created, err := ledger.RecordRefund(ctx, "hash1", hit.ID, 999)
		if err != nil || created || again.RefundAmount != 150 {
			t.Fatalf("repeated refund: %v %v %+v", err, created, again)
		}

		refunds, _ := ledger.Refunds(ctx, []string{hit.ID})
		if len(refunds) != 1 {
			t.Fatalf("refunds = %d", len(refunds))
		}
		parent, _ := store.GetHit(ctx, hit.ID)
		if parent.Spent || parent.Amount != 0 {
			t.Fatalf("refund changed hit: %+v", parent)
		}
	})
}

func TestLedgerDeleteCard(t *testing.T) {
	store := database.NewMemoryStore()
	seedCard(t, store)
	ledger := NewLedger(store)
	ctx := context.Background()
	hit, err := ledger.RecordHit(ctx, "CARD1", "", "", 5, 6)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := ledger.RecordRefund(ctx, "hash1", hit.ID, 10); err != nil {
		t.Fatal(err)
	}

	if err := ledger.DeleteCard(ctx, "CARD1"); err != nil {
		t.Fatal(err)
	}
	if hits, _ := ledger.Hits(ctx, []string{"CARD1"}); len(hits) != 0 {
		t.Fatalf("hits left: %d", len(hits))
	}
	if refunds, _ := ledger.Refunds(ctx, []string{hit.ID}); len(refunds) != 0 {
		t.Fatalf("refunds left: %d", len(refunds))
	}
	expectReason(t, ledger.DeleteCard(ctx, "CARD1"), ReasonCardNotExist)
}
