// Package notification sends outcome mails to document parties. Delivery
// is fire-and-forget: a failed mail is logged and never turns into a
// state-transition failure.
package notification

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

type EventKind string

const (
	EventSignatureRequested EventKind = "signature_requested"
	EventDocumentSigned     EventKind = "document_signed"
	EventDocumentRejected   EventKind = "document_rejected"
)

type Event struct {
	Kind          EventKind
	DocumentTitle string
	RejectedBy    string
	Reason        string
}

var bodyTemplates = map[EventKind]*template.Template{
	EventSignatureRequested: template.Must(template.New("requested").Parse(
		`<p>You have a new document to review and sign: <b>{{.DocumentTitle}}</b>.</p>
<p>Verify its SHA-256 hash matches the payload shown in the app before signing.</p>`)),
	EventDocumentSigned: template.Must(template.New("signed").Parse(
		`<p>Your document <b>{{.DocumentTitle}}</b> is fully signed.</p>
<p>You can verify it at any time by uploading the PDF in the app.</p>`)),
	EventDocumentRejected: template.Must(template.New("rejected").Parse(
		`<p>Document <b>{{.DocumentTitle}}</b> has been rejected by {{if .RejectedBy}}{{.RejectedBy}}{{else}}a participant{{end}}.</p>
{{if .Reason}}<p>Reason: {{.Reason}}</p>{{end}}`)),
}

// Subject returns the mail subject line for an event.
func (e Event) Subject() string {
	switch e.Kind {
	case EventSignatureRequested:
		return "Document to review & sign: " + e.DocumentTitle
	case EventDocumentSigned:
		return "All parties signed: " + e.DocumentTitle
	case EventDocumentRejected:
		return "Document rejected: " + e.DocumentTitle
	default:
		return "BlockSign notification"
	}
}

// Body renders the HTML body; user-supplied strings are escaped by the
// template engine.
func (e Event) Body() (string, error) {
	tmpl, ok := bodyTemplates[e.Kind]
	if !ok {
		return "", fmt.Errorf("no template for event kind %q", e.Kind)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, e); err != nil {
		return "", errors.New("failed to render the mail body: " + err.Error())
	}
	return buf.String(), nil
}

type MailerConfig struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

type Mailer struct {
	dialer *gomail.Dialer
	from   string
	logger *zap.Logger
}

func NewMailer(logger *zap.Logger, cfg MailerConfig) *Mailer {
	if cfg.Host == "" {
		logger.Warn("SMTP is not configured, notification mails will be dropped")
	}

	return &Mailer{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Pass),
		from:   cfg.From,
		logger: logger,
	}
}

// Notify dispatches the event mail in the background.
func (m *Mailer) Notify(ctx context.Context, recipients []string, event Event) {
	if len(recipients) == 0 || m.dialer.Host == "" {
		return
	}

	body, err := event.Body()
	if err != nil {
		m.logger.Error("failed to build the notification mail: "+err.Error(), zap.String("kind", string(event.Kind)))
		return
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", recipients...)
	msg.SetHeader("Subject", event.Subject())
	msg.SetBody("text/html", body)

	go func() {
		if err := m.dialer.DialAndSend(msg); err != nil {
			m.logger.Error("failed to send the notification mail: "+err.Error(),
				zap.String("kind", string(event.Kind)), zap.Int("recipients", len(recipients)))
			return
		}
		m.logger.Info("notification mail sent", zap.String("kind", string(event.Kind)), zap.Int("recipients", len(recipients)))
	}()
}
