package notifier

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/postpulse/internal/config"
	"github.com/ibeckermayer/postpulse/internal/notifier/providers"
	"github.com/ibeckermayer/postpulse/internal/report"
	"github.com/ibeckermayer/postpulse/internal/types"
)

type sent struct {
	to, subject, html, plain string
}

type captureSender struct {
	mails []sent
}

func (c *captureSender) Send(to, subject, htmlBody, plainBody string) error {
	c.mails = append(c.mails, sent{to, subject, htmlBody, plainBody})
	return nil
}

func TestSendReport(t *testing.T) {
	b, err := report.New(5)
	require.NoError(t, err)
	r, err := b.Build([]types.EngagementRecord{{SourceAccount: "acme", Site: "x", Text: "hello"}}, time.Now())
	require.NoError(t, err)

	cs := &captureSender{}
	require.NoError(t, New(cs, "team@example.com").SendReport(r))

	require.Len(t, cs.mails, 1)
	assert.Equal(t, "team@example.com", cs.mails[0].to)
	assert.Equal(t, r.Subject, cs.mails[0].subject)
	assert.Equal(t, r.PlainBody, cs.mails[0].plain)
}

func TestNewFromConfig(t *testing.T) {
	_, err := NewFromConfig(config.EmailConfig{SMTPHost: "smtp.example.com"})
	assert.ErrorContains(t, err, "recipient")

	_, err = NewFromConfig(config.EmailConfig{Provider: "pigeon", To: "a@example.com"})
	assert.ErrorContains(t, err, "pigeon")

	n, err := NewFromConfig(config.EmailConfig{SMTPHost: "smtp.example.com", SMTPPort: 587, To: "a@example.com"})
	require.NoError(t, err)
	assert.NotNil(t, n)
}

func TestMessage(t *testing.T) {
	msg := string(providers.Message("bot@example.com", "team@example.com", "Engagement report - 3 posts", "<p>hi</p>", "hi"))

	assert.Contains(t, msg, "From: bot@example.com\r\n")
	assert.Contains(t, msg, "Subject: Engagement report - 3 posts\r\n")
	assert.Contains(t, msg, "Content-Type: text/plain; charset=\"utf-8\"\r\n\r\nhi\r\n")
	assert.Contains(t, msg, "Content-Type: text/html; charset=\"utf-8\"\r\n\r\n<p>hi</p>\r\n")
	assert.True(t, strings.HasSuffix(msg, "--postpulse-report-boundary--\r\n"))
}
