package services

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"nfcauth/config"
	"nfcauth/utils"
)

// InvoiceRequest данные для выставления инвойса
type InvoiceRequest struct {
	WalletID            string
	AmountSat           int64
	Memo                string
	UnhashedDescription []byte
	Extra               map[string]string
	WebhookURL          string
}

// Invoice выставленный инвойс
type Invoice struct {
	PaymentHash    string
	PaymentRequest string
}

// PayRequest данные для оплаты инвойса
type PayRequest struct {
	WalletID       string
	PaymentRequest string
	MaxSat         int64
	Extra          map[string]string
}

// PaymentStatus состояние входящего платежа
type PaymentStatus struct {
	Paid      bool
	AmountSat int64
	Extra     map[string]string
}

// PaymentService внешний сервис выставления и оплаты инвойсов
type PaymentService interface {
	CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error)
	// PayInvoice оплачивает инвойс; сумма больше MaxSat отклоняется
	PayInvoice(ctx context.Context, req PayRequest) (string, error)
	CheckInvoice(ctx context.Context, walletID, paymentHash string) (*PaymentStatus, error)
}

var errUnknownWallet = errors.New("no api key configured for wallet")

// LNbitsClient реализация PaymentService через REST API LNbits
type LNbitsClient struct {
	baseURL    string
	walletKeys map[string]string
	httpClient *http.Client
}

// NewLNbitsClient создает клиента платежного сервиса
func NewLNbitsClient(cfg *config.Config) *LNbitsClient {
	return &LNbitsClient{
		baseURL:    strings.TrimRight(cfg.Payments.URL, "/"),
		walletKeys: cfg.Payments.WalletKeys,
		httpClient: &http.Client{Timeout: cfg.Payments.Timeout},
	}
}

type lnbitsInvoiceBody struct {
	Out                 bool              `json:"out"`
	Amount              int64             `json:"amount,omitempty"`
	Memo                string            `json:"memo,omitempty"`
	UnhashedDescription string            `json:"unhashed_description,omitempty"`
	Bolt11              string            `json:"bolt11,omitempty"`
	Extra               map[string]string `json:"extra,omitempty"`
	Webhook             string            `json:"webhook,omitempty"`
}

type lnbitsPaymentResponse struct {
	PaymentHash    string `json:"payment_hash"`
	PaymentRequest string `json:"payment_request"`
	Bolt11         string `json:"bolt11"`
}

type lnbitsStatusResponse struct {
	Paid    bool `json:"paid"`
	Details struct {
		Amount int64             `json:"amount"` // в миллисатоши
		Extra  map[string]string `json:"extra"`
	} `json:"details"`
}

func (c *LNbitsClient) do(ctx context.Context, method, path, walletID string, body interface{}, out interface{}) error {
	key, ok := c.walletKeys[strings.ToLower(walletID)]
	if !ok {
		return fmt.Errorf("%w: %s", errUnknownWallet, walletID)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("X-Api-Key", key)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	utils.LogOperation("lnbits "+method+" "+path, start, err)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var detail struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(data, &detail) == nil && detail.Detail != "" {
			return errors.New(detail.Detail)
		}
		return fmt.Errorf("payment service returned %d", resp.StatusCode)
	}
	return json.Unmarshal(data, out)
}

// CreateInvoice выставляет инвойс в кошельке
func (c *LNbitsClient) CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error) {
	body := lnbitsInvoiceBody{
		Out:                 false,
		Amount:              req.AmountSat,
		Memo:                req.Memo,
		UnhashedDescription: hex.EncodeToString(req.UnhashedDescription),
		Extra:               req.Extra,
		Webhook:             req.WebhookURL,
	}
	var resp lnbitsPaymentResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/payments", req.WalletID, body, &resp); err != nil {
		return nil, err
	}
	pr := resp.PaymentRequest
	if pr == "" {
		pr = resp.Bolt11
	}
	return &Invoice{PaymentHash: resp.PaymentHash, PaymentRequest: pr}, nil
}

// PayInvoice оплачивает инвойс, предварительно проверив сумму по MaxSat
func (c *LNbitsClient) PayInvoice(ctx context.Context, req PayRequest) (string, error) {
	inv, err := utils.DecodeBolt11(req.PaymentRequest)
	if err != nil {
		return "", err
	}
	amount, err := inv.AmountSat()
	if err != nil {
		return "", err
	}
	if amount > req.MaxSat {
		return "", errors.New("Amount in invoice is too high.")
	}

	body := lnbitsInvoiceBody{
		Out:    true,
		Bolt11: req.PaymentRequest,
		Extra:  req.Extra,
	}
	var resp lnbitsPaymentResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/payments", req.WalletID, body, &resp); err != nil {
		return "", err
	}
	return resp.PaymentHash, nil
}

// CheckInvoice возвращает состояние платежа по его хэшу
func (c *LNbitsClient) CheckInvoice(ctx context.Context, walletID, paymentHash string) (*PaymentStatus, error) {
	var resp lnbitsStatusResponse
	path := "/api/v1/payments/" + url.PathEscape(paymentHash)
	if err := c.do(ctx, http.MethodGet, path, walletID, nil, &resp); err != nil {
		return nil, err
	}
	return &PaymentStatus{
		Paid:      resp.Paid,
		AmountSat: resp.Details.Amount / 1000,
		Extra:     resp.Details.Extra,
	}, nil
}
