package services

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/smtp"
	"os"
	"strings"
	"time"

	appContext "github.com/alphabatem/common/context"
	"github.com/lac-hong-legacy/academy_api/model"
	log "github.com/sirupsen/logrus"
)

const EMAIL_SVC = "email_svc"

// mailSender matches smtp.SendMail so tests can capture outgoing mail.
type mailSender func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// EmailService mails critical audit entries to the on-call security recipients.
type EmailService struct {
	appContext.DefaultService

	smtpHost     string
	smtpPort     string
	smtpUsername string
	smtpPassword string
	fromEmail    string
	fromName     string
	recipients   []string

	send  mailSender
	alert *template.Template
}

func (svc EmailService) Id() string {
	return EMAIL_SVC
}

func (svc *EmailService) Configure(ctx *appContext.Context) error {
	svc.smtpHost = os.Getenv("SMTP_HOST")
	svc.smtpPort = envOr("SMTP_PORT", "587")
	svc.smtpUsername = os.Getenv("SMTP_USERNAME")
	svc.smtpPassword = os.Getenv("SMTP_PASSWORD")
	svc.fromEmail = os.Getenv("FROM_EMAIL")
	svc.fromName = envOr("FROM_NAME", "Academy Security")
	svc.recipients = splitRecipients(os.Getenv("SECURITY_ALERT_RECIPIENTS"))
	if svc.send == nil {
		svc.send = smtp.SendMail
	}

	if err := svc.loadTemplates(); err != nil {
		return err
	}
	return svc.DefaultService.Configure(ctx)
}

func (svc *EmailService) Start() error {
	if !svc.Enabled() {
		log.Warn("Security alert emails disabled: SMTP_HOST, FROM_EMAIL or SECURITY_ALERT_RECIPIENTS missing")
	}
	return nil
}

// Enabled reports whether alerts can actually be delivered.
func (svc *EmailService) Enabled() bool {
	return svc.smtpHost != "" && svc.fromEmail != "" && len(svc.recipients) > 0
}

func splitRecipients(raw string) []string {
	var out []string
	for _, addr := range strings.Split(raw, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

const securityAlertHTML = `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #222;">
  <h2 style="color: #b91c1c;">Critical security event</h2>
  <table cellpadding="4">
    <tr><td><b>Entry</b></td><td>{{.ID}}</td></tr>
    <tr><td><b>Recorded</b></td><td>{{.Recorded}}</td></tr>
    <tr><td><b>Action</b></td><td>{{.Action}}</td></tr>
    <tr><td><b>Resource</b></td><td>{{.Resource}}</td></tr>
    <tr><td><b>User</b></td><td>{{or .UserID "anonymous"}}</td></tr>
    <tr><td><b>IP</b></td><td>{{.IP}}</td></tr>
    <tr><td><b>Location</b></td><td>{{or .Location "unknown"}}</td></tr>
  </table>
  {{with .Details}}<pre>{{.}}</pre>{{end}}
  <p style="color: #666; font-size: 12px;">Sent by the academy security monitor.</p>
</body>
</html>`

type alertView struct {
	ID       string
	Recorded string
	Action   string
	Resource string
	UserID   string
	IP       string
	Location string
	Details  string
}

func (svc *EmailService) loadTemplates() error {
	tmpl, err := template.New("security_alert").Parse(securityAlertHTML)
	if err != nil {
		return fmt.Errorf("parse security alert template: %w", err)
	}
	svc.alert = tmpl
	return nil
}

func alertLocation(entry *model.AuditLog) string {
	var parts []string
	for _, p := range []string{entry.City, entry.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// NotifySecurityAlert mails the critical entry that raised an alert. It is a no-op when mail is not configured.
func (svc *EmailService) NotifySecurityAlert(ctx context.Context, entry *model.AuditLog) error {
	if !svc.Enabled() {
		log.Debug("Security alert email skipped, mailer disabled")
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var body bytes.Buffer
	if err := svc.alert.Execute(&body, alertView{
		ID:       entry.ID,
		Recorded: entry.CreatedAt.UTC().Format(time.RFC3339),
		Action:   entry.Action,
		Resource: entry.Resource,
		UserID:   entry.UserID,
		IP:       entry.IPAddress,
		Location: alertLocation(entry),
		Details:  string(entry.Details),
	}); err != nil {
		return fmt.Errorf("render security alert: %w", err)
	}

	subject := fmt.Sprintf("[Security Alert] %s on %s", entry.Action, entry.Resource)
	return svc.deliver(subject, body.Bytes())
}

func (svc *EmailService) deliver(subject string, html []byte) error {
	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s <%s>\r\n", svc.fromName, svc.fromEmail)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(svc.recipients, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n")
	msg.Write(html)

	fields := log.Fields{"to": svc.recipients, "subject": subject}
	auth := smtp.PlainAuth("", svc.smtpUsername, svc.smtpPassword, svc.smtpHost)
	if err := svc.send(svc.smtpHost+":"+svc.smtpPort, auth, svc.fromEmail, svc.recipients, msg.Bytes()); err != nil {
		log.WithError(err).WithFields(fields).Error("Security alert email failed")
		return fmt.Errorf("send security alert: %w", err)
	}

	log.WithFields(fields).Info("Security alert email sent")
	return nil
}
