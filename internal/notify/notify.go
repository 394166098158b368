// Package notify sends operational alert emails, currently for stock
// shortfalls discovered after a payment was already captured.
package notify

import (
	"context"
	"fmt"

	"github.com/go-faster/sdk/zctx"
	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

// Config holds the SMTP settings for outgoing alerts.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
}

// Enabled reports whether alerting is configured at all.
func (c Config) Enabled() bool {
	return c.Host != "" && c.From != "" && c.To != ""
}

// Mailer sends alert emails over SMTP. Delivery failures are logged, never
// propagated: an alert must not break the confirmation path it reports on.
type Mailer struct {
	cfg    Config
	client *mail.Client
}

// NewMailer builds a Mailer from config.
func NewMailer(cfg Config) (*Mailer, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.Username),
		mail.WithPassword(cfg.Password),
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating mail client: %w", err)
	}
	return &Mailer{cfg: cfg, client: client}, nil
}

// InsufficientStock alerts operations that an order was paid but could not
// be fulfilled from stock.
func (m *Mailer) InsufficientStock(ctx context.Context, orderID string, cause error) {
	lg := zctx.From(ctx)

	msg := mail.NewMsg()
	if err := msg.From(m.cfg.From); err != nil {
		lg.Error("alert sender rejected", zap.Error(err))
		return
	}
	if err := msg.To(m.cfg.To); err != nil {
		lg.Error("alert recipient rejected", zap.Error(err))
		return
	}
	msg.Subject(fmt.Sprintf("Stock shortfall on paid order %s", orderID))
	msg.SetBodyString(mail.TypeTextPlain, fmt.Sprintf(
		"Order %s was paid but inventory could not be committed.\n\nCause: %v\n\nManual reconciliation or refund is required.\n",
		orderID, cause,
	))

	if err := m.client.DialAndSendWithContext(ctx, msg); err != nil {
		lg.Error("alert delivery failed",
			zap.String("order_id", orderID),
			zap.Error(err),
		)
		return
	}
	lg.Info("stock shortfall alert sent", zap.String("order_id", orderID))
}
