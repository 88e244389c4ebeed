package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/gorilla/mux"

	"nfcauth/database"
	"nfcauth/models"
	"nfcauth/services"
	"nfcauth/utils"
)

const (
	testBaseURL = "https://cards.example.com"
	testUID     = "04996C6A926980"
	testK1      = "0c3b25d92b38ae443229dd59ad34b85d"
	testK2      = "b45775776cb224c75bcde7ca3704e933"
)

// stubPayments платежный сервис, который всегда успешно платит
type stubPayments struct {
	mu   sync.Mutex
	paid []services.PayRequest
}

func (s *stubPayments) CreateInvoice(_ context.Context, req services.InvoiceRequest) (*services.Invoice, error) {
	return &services.Invoice{PaymentHash: "hash", PaymentRequest: "lnbc-refund"}, nil
}

func (s *stubPayments) PayInvoice(_ context.Context, req services.PayRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paid = append(s.paid, req)
	return "payhash", nil
}

func (s *stubPayments) CheckInvoice(context.Context, string, string) (*services.PaymentStatus, error) {
	return &services.PaymentStatus{Paid: true, AmountSat: 1}, nil
}

type lnurlFixture struct {
	router   *mux.Router
	store    database.Store
	payments *stubPayments
}

func newLnurlFixture(t *testing.T, scanLimit, queueSize int) *lnurlFixture {
	t.Helper()
	store := database.NewMemoryStore()
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
		Time:       time.Now(),
	}
	if err := store.CreateCard(context.Background(), card); err != nil {
		t.Fatal(err)
	}

	payments := &stubPayments{}
	taps := services.NewTapService(store, payments, services.TapConfig{WithdrawResponse: true})
	refunds := services.NewRefundService(store, payments)
	listener := services.NewInvoiceListener(refunds, queueSize)

	router := mux.NewRouter()
	public := router.PathPrefix(services.RoutePrefix).Subrouter()
	NewLnurlController(taps, services.NewHandshakeService(store), refunds, listener, testBaseURL).
		Register(public, utils.NewRateLimiter(scanLimit, time.Minute))

	return &lnurlFixture{router: router, store: store, payments: payments}
}

func (f *lnurlFixture) do(t *testing.T, method, target, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)

	var decoded map[string]interface{}
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rr.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("invalid json %q: %v", rr.Body.String(), err)
		}
	}
	return rr, decoded
}

func scanTarget(t *testing.T, counter uint32) string {
	t.Helper()
	p, c, err := utils.BuildSUN(testUID, counter, testK1, testK2)
	if err != nil {
		t.Fatal(err)
	}
	return "/nostrnfcauth/api/v1/scan/ext1?p=" + p + "&c=" + c
}

func TestScanAndWithdraw(t *testing.T) {
	f := newLnurlFixture(t, 0, 4)

	rr, body := f.do(t, http.MethodGet, scanTarget(t, 6), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if body["npub"] != "npub1test" || body["tag"] != "withdrawRequest" {
		t.Fatalf("unexpected scan response: %v", body)
	}
	k1, _ := body["k1"].(string)
	if k1 == "" {
		t.Fatalf("k1 missing: %v", body)
	}

	pr, err := bech32.Encode("lnbc2u", make([]byte, 60))
	if err != nil {
		t.Fatal(err)
	}
	target := "/nostrnfcauth/api/v1/lnurl/cb/" + k1 + "?k1=" + k1 + "&pr=" + url.QueryEscape(pr)
	rr, body = f.do(t, http.MethodGet, target, "")
	if rr.Code != http.StatusOK || body["status"] != "OK" {
		t.Fatalf("withdraw: %d %v", rr.Code, body)
	}

	rr, body = f.do(t, http.MethodGet, target, "")
	if rr.Code != http.StatusOK || body["status"] != "ERROR" || body["reason"] != services.ReasonAlreadyClaimed {
		t.Fatalf("second withdraw: %d %v", rr.Code, body)
	}
	if len(f.payments.paid) != 1 {
		t.Fatalf("payments = %d, want 1", len(f.payments.paid))
	}
}

func TestScanRejections(t *testing.T) {
	f := newLnurlFixture(t, 0, 4)

	rr, body := f.do(t, http.MethodGet, scanTarget(t, 5), "")
	if rr.Code != http.StatusOK || body["status"] != "ERROR" || body["reason"] != services.ReasonLinkUsed {
		t.Fatalf("replay: %d %v", rr.Code, body)
	}

	_, body = f.do(t, http.MethodGet, "/nostrnfcauth/api/v1/scan/ext1?p=00&c=00", "")
	if body["reason"] != services.ReasonDecryptError {
		t.Fatalf("garbage sun: %v", body)
	}

	_, body = f.do(t, http.MethodGet, "/nostrnfcauth/api/v1/scan/unknown?p=00&c=00", "")
	if body["reason"] != services.ReasonNoCard {
		t.Fatalf("unknown card: %v", body)
	}
}

func TestScanRateLimit(t *testing.T) {
	f := newLnurlFixture(t, 1, 4)

	if rr, _ := f.do(t, http.MethodGet, scanTarget(t, 6), ""); rr.Code != http.StatusOK {
		t.Fatalf("first scan: %d", rr.Code)
	}
	if rr, _ := f.do(t, http.MethodGet, scanTarget(t, 7), ""); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second scan: %d", rr.Code)
	}
}

func TestAuthHandshake(t *testing.T) {
	f := newLnurlFixture(t, 0, 4)

	rr, body := f.do(t, http.MethodGet, "/nostrnfcauth/api/v1/auth?a=a1b2c3d4e5f60718293a4b5c6d7e8f90", "")
	if rr.Code != http.StatusOK || body["k1"] != testK1 {
		t.Fatalf("handshake: %d %v", rr.Code, body)
	}
	if body["lnurlw_base"] != "lnurlw://cards.example.com/nostrnfcauth/api/v1/scan/ext1" {
		t.Fatalf("lnurlw_base = %v", body["lnurlw_base"])
	}

	rr, body = f.do(t, http.MethodGet, "/nostrnfcauth/api/v1/auth?a=a1b2c3d4e5f60718293a4b5c6d7e8f90", "")
	if rr.Code != http.StatusNotFound || body["detail"] != services.ReasonCardNotExist {
		t.Fatalf("reused otp: %d %v", rr.Code, body)
	}

	rr, body = f.do(t, http.MethodGet, "/nostrnfcauth/api/v1/auth?a="+services.FactoryOTP, "")
	if rr.Code != http.StatusOK || body["k0"] != strings.Repeat("0", 32) {
		t.Fatalf("factory keys: %d %v", rr.Code, body)
	}
}

func TestRefundRoutes(t *testing.T) {
	f := newLnurlFixture(t, 0, 1)
	hit := &models.Hit{ID: "hit1", CardID: "CARD1", OldCtr: 5, NewCtr: 6, Time: time.Now()}
	if err := f.store.CreateHit(context.Background(), hit); err != nil {
		t.Fatal(err)
	}

	rr, body := f.do(t, http.MethodGet, "/nostrnfcauth/api/v1/lnurlp/hit1", "")
	if rr.Code != http.StatusOK || body["tag"] != "payRequest" || body["maxSendable"] != float64(500000) {
		t.Fatalf("pay request: %d %v", rr.Code, body)
	}

	_, body = f.do(t, http.MethodGet, "/nostrnfcauth/api/v1/lnurlp/missing", "")
	if body["status"] != "ERROR" || body["reason"] != services.ReasonPayRecordMissing {
		t.Fatalf("missing hit: %v", body)
	}

	_, body = f.do(t, http.MethodGet, "/nostrnfcauth/api/v1/lnurlp/cb/hit1?amount=200000", "")
	if body["pr"] != "lnbc-refund" {
		t.Fatalf("pay callback: %v", body)
	}
	_, body = f.do(t, http.MethodGet, "/nostrnfcauth/api/v1/lnurlp/cb/hit1?amount=10", "")
	if body["reason"] != services.ReasonAmountRange {
		t.Fatalf("small amount: %v", body)
	}
}

func TestPaidWebhook(t *testing.T) {
	f := newLnurlFixture(t, 0, 1)

	rr, _ := f.do(t, http.MethodPost, "/nostrnfcauth/api/v1/lnurlp/paid/hit1", "not json")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad body: %d", rr.Code)
	}

	rr, body := f.do(t, http.MethodPost, "/nostrnfcauth/api/v1/lnurlp/paid/hit1", `{"payment_hash":"h1"}`)
	if rr.Code != http.StatusOK || body["status"] != "OK" {
		t.Fatalf("webhook: %d %v", rr.Code, body)
	}

	// обработчик очереди не запущен, вторая запись не помещается
	rr, _ = f.do(t, http.MethodPost, "/nostrnfcauth/api/v1/lnurlp/paid/hit1", `{"payment_hash":"h2"}`)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("full queue: %d", rr.Code)
	}
}

func TestMetricsHandler(t *testing.T) {
	rr := httptest.NewRecorder()
	MetricsHandler(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var snapshot map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &snapshot); err != nil {
		t.Fatal(err)
	}
}
