// Package notify delivers price drop alerts by email or to the log.
package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log"

	"github.com/dustin/go-humanize"
	"gopkg.in/gomail.v2"

	"github.com/bryan-buckman/pricewatch/internal/model"
)

const subject = "Price drop alert"

// ErrIncompleteConfig is returned when SMTP settings are missing.
var ErrIncompleteConfig = errors.New("missing SMTP config")

// SMTPConfig holds mail transport settings.
type SMTPConfig struct {
	Host string
	Port int
	User string
	Pass string
	From string
	To   string
}

// Complete reports whether every field needed to send mail is set.
func (c SMTPConfig) Complete() bool {
	return c.Host != "" && c.Port > 0 && c.User != "" && c.Pass != "" && c.From != "" && c.To != ""
}

// Mailer sends alerts over SMTP with STARTTLS.
type Mailer struct {
	cfg    SMTPConfig
	dialer *gomail.Dialer
}

// NewMailer creates a mailer. All config fields are required.
func NewMailer(cfg SMTPConfig) (*Mailer, error) {
	if !cfg.Complete() {
		return nil, ErrIncompleteConfig
	}
	return &Mailer{
		cfg:    cfg,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Pass),
	}, nil
}

// Notify sends one alert email. gomail has no context support, so ctx is
// only checked before dialing.
func (m *Mailer) Notify(ctx context.Context, a model.Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.dialer.DialAndSend(m.message(a)); err != nil {
		return fmt.Errorf("sending alert for %s: %w", a.URL, err)
	}
	log.Printf("Notify: mailed %s about %q", m.cfg.To, a.Name)
	return nil
}

func (m *Mailer) message(a model.Alert) *gomail.Message {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.cfg.From)
	msg.SetHeader("To", m.cfg.To)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", PlainBody(a))
	msg.AddAlternative("text/html", htmlBody(a))
	return msg
}

// PlainBody renders the text part of an alert.
func PlainBody(a model.Alert) string {
	return fmt.Sprintf("%s dropped from %s to %s.\n%s\n",
		a.Name, formatPrice(a.PreviousPrice, a.Currency), formatPrice(a.Price, a.Currency), a.URL)
}

func htmlBody(a model.Alert) string {
	return fmt.Sprintf("<p><b>%s</b> dropped from %s to %s.</p><p><a href='%s'>Open item</a></p>",
		html.EscapeString(a.Name),
		html.EscapeString(formatPrice(a.PreviousPrice, a.Currency)),
		html.EscapeString(formatPrice(a.Price, a.Currency)),
		html.EscapeString(a.URL))
}

// formatPrice uses a dollar sign for USD or unknown currency, else a code suffix.
func formatPrice(v float64, currency string) string {
	amount := humanize.FormatFloat("#,###.##", v)
	switch currency {
	case "", "USD":
		return "$" + amount
	}
	return amount + " " + currency
}

// LogNotifier writes alerts to the log instead of sending them.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, a model.Alert) error {
	log.Printf("Notify: %s", PlainBody(a))
	return nil
}

// Notifier delivers one alert.
type Notifier interface {
	Notify(ctx context.Context, a model.Alert) error
}

// New returns a Mailer when cfg is complete, otherwise a LogNotifier.
func New(cfg SMTPConfig) Notifier {
	m, err := NewMailer(cfg)
	if err != nil {
		log.Printf("Notify: %v, alerts will be logged only", err)
		return LogNotifier{}
	}
	return m
}
