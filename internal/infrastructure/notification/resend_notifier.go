// Package notification delivers billing notifications by email.
package notification

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"

	appbilling "github.com/meterly/backend/internal/application/billing"
	"github.com/resend/resend-go/v2"
	"go.uber.org/zap"
)

// EmailSender is the subset of the Resend emails API used here
type EmailSender interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// ResendConfig holds Resend settings
type ResendConfig struct {
	APIKey      string
	FromAddress string
	// BillingURL is linked from every email so the contact can fix billing
	BillingURL string
}

// ResendNotifier sends billing notifications through Resend
type ResendNotifier struct {
	sender     EmailSender
	from       string
	billingURL string
	logger     *zap.Logger
}

// NewResendNotifier creates a notifier backed by the Resend API
func NewResendNotifier(cfg ResendConfig, logger *zap.Logger) (*ResendNotifier, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("resend: api key is required")
	}
	return NewResendNotifierWithSender(resend.NewClient(cfg.APIKey).Emails, cfg, logger), nil
}

// NewResendNotifierWithSender creates a notifier with an explicit sender
func NewResendNotifierWithSender(sender EmailSender, cfg ResendConfig, logger *zap.Logger) *ResendNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResendNotifier{
		sender:     sender,
		from:       cfg.FromAddress,
		billingURL: cfg.BillingURL,
		logger:     logger,
	}
}

// Notify renders and sends n
func (r *ResendNotifier) Notify(ctx context.Context, n appbilling.BillingNotification) error {
	subject, html, err := render(n, r.billingURL)
	if err != nil {
		return err
	}

	resp, err := r.sender.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    r.from,
		To:      []string{n.To},
		Subject: subject,
		Html:    html,
		Tags: []resend.Tag{
			{Name: "kind", Value: n.Kind},
			{Name: "account_id", Value: n.AccountID},
		},
	})
	if err != nil {
		return fmt.Errorf("resend: failed to send %s email: %w", n.Kind, err)
	}

	r.logger.Debug("Billing email accepted by Resend",
		zap.String("kind", n.Kind),
		zap.String("account_id", n.AccountID),
		zap.String("email_id", resp.Id))
	return nil
}

var templates = template.Must(template.New("billing").Parse(`
{{define "subscription_canceled"}}<p>Your {{.PlanName}} subscription has been canceled.</p>
{{if .DeletionDate}}<p>Your data will be kept until {{.DeletionDate.Format "January 2, 2006"}}. Resubscribe before then to keep it.</p>{{end}}
{{if .BillingURL}}<p><a href="{{.BillingURL}}">Manage billing</a></p>{{end}}{{end}}
{{define "payment_failed"}}<p>We could not collect payment{{if .InvoiceID}} for invoice {{.InvoiceID}}{{end}}.</p>
<p>Please update your payment method to avoid interruption.</p>
{{if .BillingURL}}<p><a href="{{.BillingURL}}">Update payment method</a></p>{{end}}{{end}}
`))

var subjects = map[string]string{
	appbilling.NotificationSubscriptionCanceled: "Your subscription has been canceled",
	appbilling.NotificationPaymentFailed:        "Action required: payment failed",
}

type templateData struct {
	appbilling.BillingNotification
	BillingURL string
}

func render(n appbilling.BillingNotification, billingURL string) (subject, html string, err error) {
	subject, ok := subjects[n.Kind]
	if !ok {
		return "", "", fmt.Errorf("notification: unknown kind %q", n.Kind)
	}
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, n.Kind, templateData{BillingNotification: n, BillingURL: billingURL}); err != nil {
		return "", "", fmt.Errorf("notification: render %s: %w", n.Kind, err)
	}
	return subject, strings.TrimSpace(buf.String()), nil
}

// LogNotifier logs notifications instead of sending them; used when email is disabled
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a LogNotifier
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs n
func (l *LogNotifier) Notify(_ context.Context, n appbilling.BillingNotification) error {
	l.logger.Info("Billing notification (email disabled)",
		zap.String("kind", n.Kind),
		zap.String("account_id", n.AccountID),
		zap.String("to", n.To))
	return nil
}

var (
	_ appbilling.BillingNotifier = (*ResendNotifier)(nil)
	_ appbilling.BillingNotifier = (*LogNotifier)(nil)
)
