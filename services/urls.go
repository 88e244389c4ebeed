package services

import (
	"net/url"
	"strings"
)

// RoutePrefix префикс всех публичных маршрутов расширения
const RoutePrefix = "/nostrnfcauth"

func joinURL(baseURL string, parts ...string) string {
	escaped := make([]string, 0, len(parts))
	for _, p := range parts {
		escaped = append(escaped, url.PathEscape(p))
	}
	return strings.TrimRight(baseURL, "/") + RoutePrefix + "/api/v1/" + strings.Join(escaped, "/")
}

// ScanURL адрес сканирования карты
func ScanURL(baseURL, externalID string) string {
	return joinURL(baseURL, "scan", externalID)
}

// WithdrawCallbackURL адрес колбэка LNURL-withdraw для касания
func WithdrawCallbackURL(baseURL, hitID string) string {
	return joinURL(baseURL, "lnurl", "cb", hitID)
}

// PayRequestURL адрес LNURL-pay для возврата по касанию
func PayRequestURL(baseURL, hitID string) string {
	return joinURL(baseURL, "lnurlp", hitID)
}

// PayCallbackURL адрес колбэка LNURL-pay
func PayCallbackURL(baseURL, hitID string) string {
	return joinURL(baseURL, "lnurlp", "cb", hitID)
}

// PaidWebhookURL адрес, на который платежный сервис сообщает об оплате возврата
func PaidWebhookURL(baseURL, hitID string) string {
	return joinURL(baseURL, "lnurlp", "paid", hitID)
}

// Host возвращает host[:port] базового адреса
func Host(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return strings.TrimPrefix(strings.TrimPrefix(baseURL, "https://"), "http://")
	}
	return u.Host
}

// withScheme заменяет схему адреса, например на lnurlp://
func withScheme(rawURL, scheme string) string {
	if i := strings.Index(rawURL, "://"); i >= 0 {
		return scheme + rawURL[i:]
	}
	return scheme + "://" + rawURL
}
