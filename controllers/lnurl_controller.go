package controllers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"nfcauth/middleware"
	"nfcauth/services"
	"nfcauth/utils"
)

// LnurlController обрабатывает публичные LNURL-запросы карт и кошельков
type LnurlController struct {
	taps      *services.TapService
	handshake *services.HandshakeService
	refunds   *services.RefundService
	listener  *services.InvoiceListener
	baseURL   string
	// прокси, которым доверяем заголовки с адресом клиента
	trustedProxies []string
}

// NewLnurlController создает новый экземпляр LnurlController
func NewLnurlController(
	taps *services.TapService,
	handshake *services.HandshakeService,
	refunds *services.RefundService,
	listener *services.InvoiceListener,
	baseURL string,
) *LnurlController {
	return &LnurlController{
		taps:      taps,
		handshake: handshake,
		refunds:   refunds,
		listener:  listener,
		baseURL:   baseURL,
	}
}

// SetTrustedProxies задает прокси, чьи X-Real-Ip/X-Forwarded-For учитываются
func (c *LnurlController) SetTrustedProxies(proxies []string) {
	c.trustedProxies = proxies
}

// Register регистрирует маршруты на роутере с префиксом /nostrnfcauth
func (c *LnurlController) Register(router *mux.Router, scanLimiter *utils.RateLimiter) {
	scan := router.PathPrefix("/api/v1/scan").Subrouter()
	scan.Use(middleware.IPRateLimit(scanLimiter, c.trustedProxies))
	scan.HandleFunc("/{external_id}", c.Scan).Methods(http.MethodGet)

	router.HandleFunc("/api/v1/lnurl/cb/{hit_id}", c.WithdrawCallback).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/auth", c.Auth).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/lnurlp/cb/{hit_id}", c.PayCallback).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/lnurlp/paid/{hit_id}", c.PaidWebhook).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/lnurlp/{hit_id}", c.PayRequest).Methods(http.MethodGet)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		utils.LogError("failed to encode response: %v", err)
	}
}

// writeFlowError отдает отказ потока как {status: ERROR, reason} с кодом 200,
// остальные ошибки как 500 без подробностей
func writeFlowError(w http.ResponseWriter, err error) {
	if reason, ok := services.ReasonOf(err); ok {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ERROR", "reason": reason})
		return
	}
	utils.LogError("request failed: %v", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "ERROR", "reason": "Internal error"})
}

// Scan обрабатывает касание карты
func (c *LnurlController) Scan(w http.ResponseWriter, r *http.Request) {
	externalID := mux.Vars(r)["external_id"]
	query := r.URL.Query()
	client := services.ClientContext{
		IP:        middleware.ClientIP(r, c.trustedProxies),
		UserAgent: r.UserAgent(),
	}

	result, err := c.taps.Scan(r.Context(), externalID, query.Get("p"), query.Get("c"), client, c.baseURL)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// WithdrawCallback обрабатывает колбэк LNURL-withdraw от кошелька
func (c *LnurlController) WithdrawCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	err := c.taps.WithdrawCallback(r.Context(), mux.Vars(r)["hit_id"], query.Get("k1"), query.Get("pr"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

// Auth выдает ключи карты по одноразовому коду
func (c *LnurlController) Auth(w http.ResponseWriter, r *http.Request) {
	resp, err := c.handshake.Handshake(r.Context(), r.URL.Query().Get("a"), c.baseURL)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			reason, _ := services.ReasonOf(err)
			writeJSON(w, http.StatusNotFound, map[string]string{"detail": reason})
			return
		}
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// PayRequest отдает параметры LNURL-pay для возврата
func (c *LnurlController) PayRequest(w http.ResponseWriter, r *http.Request) {
	resp, err := c.refunds.PayRequest(r.Context(), mux.Vars(r)["hit_id"], c.baseURL)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// PayCallback выставляет инвойс возврата
func (c *LnurlController) PayCallback(w http.ResponseWriter, r *http.Request) {
	resp, err := c.refunds.PayCallback(r.Context(), mux.Vars(r)["hit_id"], r.URL.Query().Get("amount"), c.baseURL)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type paidWebhookRequest struct {
	PaymentHash string `json:"payment_hash"`
}

// PaidWebhook принимает уведомление платежного сервиса об оплате возврата
func (c *LnurlController) PaidWebhook(w http.ResponseWriter, r *http.Request) {
	var req paidWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PaymentHash == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	queued := c.listener.Enqueue(services.PaidInvoice{
		HitID:       mux.Vars(r)["hit_id"],
		PaymentHash: req.PaymentHash,
	})
	if !queued {
		http.Error(w, "Try again later", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

// MetricsHandler отдает снимок метрик
func MetricsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, utils.GetMetrics().GetMetricsSnapshot())
}
