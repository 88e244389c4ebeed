package services

import (
	"fmt"
	"html"
	"time"

	"gopkg.in/gomail.v2"

	"nfcauth/config"
	"nfcauth/models"
	"nfcauth/utils"
)

// Notifier уведомления о движении средств по карте
type Notifier interface {
	PaymentSent(card *models.Card, hit *models.Hit)
	RefundReceived(card *models.Card, refund *models.Refund)
}

// EmailService предоставляет методы для отправки email
type EmailService struct {
	dialer *gomail.Dialer
	from   string
	to     string
	send   func(*gomail.Message) error
}

// NewEmailService создает новый экземпляр EmailService
func NewEmailService(cfg *config.Config) *EmailService {
	dialer := gomail.NewDialer(
		cfg.SMTP.Host,
		cfg.SMTP.Port,
		cfg.SMTP.Username,
		cfg.SMTP.Password,
	)

	s := &EmailService{
		dialer: dialer,
		from:   cfg.SMTP.From,
		to:     cfg.SMTP.To,
	}
	s.send = func(m *gomail.Message) error {
		return s.dialer.DialAndSend(m)
	}
	return s
}

// SendEmail отправляет email
func (s *EmailService) SendEmail(to, subject, body string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)

	if err := s.send(m); err != nil {
		return fmt.Errorf("ошибка отправки email: %v", err)
	}

	return nil
}

func (s *EmailService) notify(subject, body string) {
	go func() {
		if err := s.SendEmail(s.to, subject, body); err != nil {
			utils.LogError("notification %q not sent: %v", subject, err)
		}
	}()
}

// PaymentSent уведомляет о выплате по касанию
func (s *EmailService) PaymentSent(card *models.Card, hit *models.Hit) {
	body := fmt.Sprintf(`
		<h2>Выплата по карте</h2>
		<p>Карта: %s</p>
		<p>Касание: %s</p>
		<p>Сумма: %d sat</p>
		<p>Дата: %s</p>
	`, html.EscapeString(card.CardName), html.EscapeString(hit.ID), hit.Amount, time.Now().Format("02.01.2006 15:04:05"))

	s.notify("Выплата по карте "+card.CardName, body)
}

// RefundReceived уведомляет о зачисленном возврате
func (s *EmailService) RefundReceived(card *models.Card, refund *models.Refund) {
	body := fmt.Sprintf(`
		<h2>Возврат на карту</h2>
		<p>Карта: %s</p>
		<p>Касание: %s</p>
		<p>Сумма: %d sat</p>
		<p>Дата: %s</p>
	`, html.EscapeString(card.CardName), html.EscapeString(refund.HitID), refund.RefundAmount, refund.Time.Format("02.01.2006 15:04:05"))

	s.notify("Возврат на карту "+card.CardName, body)
}
