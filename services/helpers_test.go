package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"nfcauth/database"
	"nfcauth/models"
	"nfcauth/utils"
)

const (
	testBaseURL = "https://cards.example.com"
	testUID     = "04996C6A926980"
	testK1      = "0c3b25d92b38ae443229dd59ad34b85d"
	testK2      = "b45775776cb224c75bcde7ca3704e933"
)

var testNow = time.Date(2024, 6, 12, 15, 0, 0, 0, time.Local)

func fixedClock() time.Time { return testNow }

// fakePayments платежный сервис в памяти
type fakePayments struct {
	mu       sync.Mutex
	paid     []PayRequest
	invoices []InvoiceRequest
	statuses map[string]*PaymentStatus
	payErr   error
	checkErr error
}

func newFakePayments() *fakePayments {
	return &fakePayments{statuses: make(map[string]*PaymentStatus)}
}

func (f *fakePayments) CreateInvoice(_ context.Context, req InvoiceRequest) (*Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invoices = append(f.invoices, req)
	hash := fmt.Sprintf("hash%d", len(f.invoices))
	return &Invoice{PaymentHash: hash, PaymentRequest: "lnbc-" + hash}, nil
}

func (f *fakePayments) PayInvoice(_ context.Context, req PayRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paid = append(f.paid, req)
	if f.payErr != nil {
		return "", f.payErr
	}
	return "payhash", nil
}

func (f *fakePayments) CheckInvoice(_ context.Context, _, hash string) (*PaymentStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.checkErr != nil {
		return nil, f.checkErr
	}
	status, ok := f.statuses[hash]
	if !ok {
		return nil, errors.New("payment not found")
	}
	return status, nil
}

func (f *fakePayments) setStatus(hash string, status *PaymentStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[hash] = status
}

func (f *fakePayments) payCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.paid)
}

// recordingNotifier запоминает уведомления
type recordingNotifier struct {
	mu       sync.Mutex
	payments []string
	refunds  []string
}

func (n *recordingNotifier) PaymentSent(_ *models.Card, hit *models.Hit) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.payments = append(n.payments, hit.ID)
}

func (n *recordingNotifier) RefundReceived(_ *models.Card, refund *models.Refund) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.refunds = append(n.refunds, refund.ID)
}

func newSQLiteStore(t *testing.T) database.Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger:         database.NewGormLogger(),
		TranslateError: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := database.AutoMigrate(db); err != nil {
		t.Fatal(err)
	}
	return database.NewGormStore(db)
}

// forEachStore прогоняет тест на хранилище в памяти и на SQLite
func forEachStore(t *testing.T, fn func(t *testing.T, store database.Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, database.NewMemoryStore()) })
	t.Run("sqlite", func(t *testing.T) { fn(t, newSQLiteStore(t)) })
}

// seedCard создает карту: счетчик 5, дневной лимит 1000, лимит транзакции 500
func seedCard(t *testing.T, store database.Store) *models.Card {
	t.Helper()
	card := &models.Card{
		ID:         "CARD1",
		Npub:       "npub1test",
		UID:        testUID,
		ExternalID: "ext1",
		Wallet:     "wallet1",
		CardName:   "test card",
		Counter:    5,
		TxLimit:    500,
		DailyLimit: 1000,
		Enable:     true,
		K0:         strings.Repeat("0", 32),
		K1:         testK1,
		K2:         testK2,
		OTP:        "a1b2c3d4e5f60718293a4b5c6d7e8f90",
		Time:       testNow.Add(-time.Hour),
	}
	if err := store.CreateCard(context.Background(), card); err != nil {
		t.Fatal(err)
	}
	return card
}

func sun(t *testing.T, counter uint32) (string, string) {
	t.Helper()
	p, c, err := utils.BuildSUN(testUID, counter, testK1, testK2)
	if err != nil {
		t.Fatal(err)
	}
	return p, c
}

func tap(t *testing.T, svc *TapService, counter uint32) (*ScanResult, error) {
	t.Helper()
	p, c := sun(t, counter)
	return svc.Scan(context.Background(), "ext1", p, c, ClientContext{IP: "10.0.0.1", UserAgent: "wallet/1.0"}, testBaseURL)
}

// invoiceFor возвращает bolt11 с суммой из hrp, например "lnbc2u" - 200 sat
func invoiceFor(t *testing.T, hrp string) string {
	t.Helper()
	pr, err := bech32.Encode(hrp, make([]byte, 60))
	if err != nil {
		t.Fatal(err)
	}
	return pr
}

func expectReason(t *testing.T, err error, reason string) {
	t.Helper()
	got, ok := ReasonOf(err)
	if !ok {
		t.Fatalf("expected reason %q, got error %v", reason, err)
	}
	if got != reason {
		t.Fatalf("reason = %q, want %q", got, reason)
	}
}
