package services

import (
	"context"
	"errors"
	"net/smtp"
	"testing"
	"time"

	"github.com/lac-hong-legacy/academy_api/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedMail struct {
	addr string
	from string
	to   []string
	msg  string
}

func newTestMailer(t *testing.T, sent *[]capturedMail, sendErr error) *EmailService {
	t.Helper()
	svc := &EmailService{
		smtpHost:   "smtp.example.com",
		smtpPort:   "587",
		fromEmail:  "security@example.com",
		fromName:   "Academy Security",
		recipients: splitRecipients("ops@example.com, oncall@example.com"),
		send: func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
			*sent = append(*sent, capturedMail{addr: addr, from: from, to: to, msg: string(msg)})
			return sendErr
		},
	}
	require.NoError(t, svc.loadTemplates())
	return svc
}

func criticalEntry() *model.AuditLog {
	return &model.AuditLog{
		ID:        "0192d3c4-0000-7000-8000-000000000001",
		UserID:    "user123",
		Action:    "privilege_escalation",
		Resource:  "security",
		IPAddress: "203.0.113.5",
		Country:   "Vietnam",
		City:      "Hanoi",
		CreatedAt: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
	}
}

func TestNotifySecurityAlert_SendsToEveryRecipient(t *testing.T) {
	var sent []capturedMail
	svc := newTestMailer(t, &sent, nil)

	require.NoError(t, svc.NotifySecurityAlert(context.Background(), criticalEntry()))
	require.Len(t, sent, 1)

	mail := sent[0]
	assert.Equal(t, "smtp.example.com:587", mail.addr)
	assert.Equal(t, "security@example.com", mail.from)
	assert.Equal(t, []string{"ops@example.com", "oncall@example.com"}, mail.to)
	assert.Contains(t, mail.msg, "Subject: [Security Alert] privilege_escalation on security")
	assert.Contains(t, mail.msg, "203.0.113.5")
	assert.Contains(t, mail.msg, "Hanoi, Vietnam")
	assert.Contains(t, mail.msg, "2026-03-14T12:00:00Z")
}

func TestNotifySecurityAlert_DisabledWithoutRecipients(t *testing.T) {
	var sent []capturedMail
	svc := newTestMailer(t, &sent, nil)
	svc.recipients = nil

	require.NoError(t, svc.NotifySecurityAlert(context.Background(), criticalEntry()))
	assert.Empty(t, sent)
	assert.False(t, svc.Enabled())
}

func TestNotifySecurityAlert_SendFailure(t *testing.T) {
	var sent []capturedMail
	svc := newTestMailer(t, &sent, errors.New("421 service not available"))

	err := svc.NotifySecurityAlert(context.Background(), criticalEntry())
	assert.Error(t, err)
}
