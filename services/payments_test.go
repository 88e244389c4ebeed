package services

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"nfcauth/config"
)

func newTestLNbits(t *testing.T, handler http.HandlerFunc) (*LNbitsClient, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.Header.Get("X-Api-Key") != "adminkey" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	cfg := &config.Config{}
	cfg.Payments.URL = srv.URL + "/"
	cfg.Payments.Timeout = 5 * time.Second
	cfg.Payments.WalletKeys = map[string]string{"wallet1": "adminkey"}
	return NewLNbitsClient(cfg), &calls
}

func TestLNbitsCreateInvoice(t *testing.T) {
	var body lnbitsInvoiceBody
	client, _ := newTestLNbits(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/payments" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Error(err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"payment_hash":"h1","bolt11":"lnbc2u1xyz"}`))
	})

	inv, err := client.CreateInvoice(context.Background(), InvoiceRequest{
		WalletID:            "WALLET1",
		AmountSat:           200,
		Memo:                "Refund hit1",
		UnhashedDescription: []byte(RefundMetadata),
		Extra:               map[string]string{"refund": "hit1"},
		WebhookURL:          "https://cards.example.com/hook",
	})
	if err != nil {
		t.Fatal(err)
	}
	if inv.PaymentHash != "h1" || inv.PaymentRequest != "lnbc2u1xyz" {
		t.Fatalf("unexpected invoice: %+v", inv)
	}
	if body.Out || body.Amount != 200 || body.Webhook != "https://cards.example.com/hook" || body.Extra["refund"] != "hit1" {
		t.Fatalf("unexpected body: %+v", body)
	}
	if body.UnhashedDescription != hex.EncodeToString([]byte(RefundMetadata)) {
		t.Fatalf("unhashed_description = %s", body.UnhashedDescription)
	}
}

func TestLNbitsPayInvoice(t *testing.T) {
	var body lnbitsInvoiceBody
	client, calls := newTestLNbits(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&body)
		w.Write([]byte(`{"payment_hash":"paid1"}`))
	})
	pr := invoiceFor(t, "lnbc2u")

	_, err := client.PayInvoice(context.Background(), PayRequest{WalletID: "wallet1", PaymentRequest: pr, MaxSat: 100})
	if err == nil || err.Error() != "Amount in invoice is too high." {
		t.Fatalf("expected max amount rejection, got %v", err)
	}
	if atomic.LoadInt32(calls) != 0 {
		t.Fatal("oversized invoice reached the payment service")
	}

	hash, err := client.PayInvoice(context.Background(), PayRequest{
		WalletID:       "wallet1",
		PaymentRequest: pr,
		MaxSat:         500,
		Extra:          map[string]string{"tag": WithdrawTag},
	})
	if err != nil {
		t.Fatal(err)
	}
	if hash != "paid1" || !body.Out || body.Bolt11 != pr || body.Extra["tag"] != WithdrawTag {
		t.Fatalf("unexpected payment: %s %+v", hash, body)
	}
}

func TestLNbitsCheckInvoice(t *testing.T) {
	client, _ := newTestLNbits(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/payments/h1" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"paid":true,"details":{"amount":150000,"extra":{"refund":"hit1"}}}`))
	})

	status, err := client.CheckInvoice(context.Background(), "wallet1", "h1")
	if err != nil {
		t.Fatal(err)
	}
	if !status.Paid || status.AmountSat != 150 || status.Extra["refund"] != "hit1" {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestLNbitsErrors(t *testing.T) {
	client, calls := newTestLNbits(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"detail":"Insufficient balance."}`))
	})

	_, err := client.CheckInvoice(context.Background(), "unknown", "h1")
	if !errors.Is(err, errUnknownWallet) {
		t.Fatalf("expected errUnknownWallet, got %v", err)
	}
	if atomic.LoadInt32(calls) != 0 {
		t.Fatal("request sent without a wallet key")
	}

	_, err = client.CheckInvoice(context.Background(), "wallet1", "h1")
	if err == nil || err.Error() != "Insufficient balance." {
		t.Fatalf("expected detail error, got %v", err)
	}
}
