// Package mailer builds and sends the lead-qualification notification sent
// to the sales team.
package mailer

import (
	"bytes"
	"fmt"
	"io"
	"net/smtp"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/robbu/chatbot-core/server/internal/agent/model"
	logx "github.com/robbu/chatbot-core/server/pkg/logger"
)

const reportBody = `Olá equipe,

Em anexo, segue o relatório gerado pelo qualificador de leads referente ao cliente.

Arquivo: %s

Atenciosamente,
Chatbot Qualificador de Leads da Robbu`

type Mailer struct {
	cfg model.SMTPConfig
	// send allows tests to capture the composed message.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func New(cfg model.SMTPConfig) *Mailer {
	return &Mailer{cfg: cfg, send: smtp.SendMail}
}

// Enabled reports whether the sales notification is configured.
func (m *Mailer) Enabled() bool {
	return m != nil && m.cfg.Host != "" && m.cfg.From != "" && m.cfg.SalesTo != ""
}

// SendLeadReport mails the qualification report as a .txt attachment to the
// configured sales addresses.
func (m *Mailer) SendLeadReport(lead *model.LeadSession, report string) error {
	if !m.Enabled() {
		logx.Debug().Msg("lead report mail skipped, smtp not configured")
		return nil
	}

	filename := reportFilename(lead.Name)
	msg, err := composeReport(m.cfg.From, recipients(m.cfg.SalesTo), filename, report)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	if err := m.send(addr, auth, m.cfg.From, recipients(m.cfg.SalesTo), msg); err != nil {
		logx.Error().Err(err).Str("to", m.cfg.SalesTo).Msg("failed to send lead report mail")
		return fmt.Errorf("send lead report: %w", err)
	}
	logx.Info().Str("to", m.cfg.SalesTo).Str("file", filename).Msg("lead report mailed")
	return nil
}

func recipients(salesTo string) []string {
	var out []string
	for _, addr := range strings.Split(salesTo, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

func reportFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "cliente_desconhecido"
	}
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteByte('_')
		}
	}
	return b.String() + "_lead_result.txt"
}

func composeReport(from string, to []string, filename, report string) ([]byte, error) {
	var buf bytes.Buffer

	var h mail.Header
	h.SetDate(time.Now())
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generate message-id: %w", err)
	}
	h.SetSubject("Resultado do Qualificador de Leads – Cliente")

	fromAddr, err := mail.ParseAddress(from)
	if err != nil {
		return nil, fmt.Errorf("parse from address %q: %w", from, err)
	}
	h.SetAddressList("From", []*mail.Address{fromAddr})

	toAddrs := make([]*mail.Address, 0, len(to))
	for _, a := range to {
		parsed, err := mail.ParseAddress(a)
		if err != nil {
			return nil, fmt.Errorf("parse address %q: %w", a, err)
		}
		toAddrs = append(toAddrs, parsed)
	}
	h.SetAddressList("To", toAddrs)

	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create mail writer: %w", err)
	}

	tw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("create inline writer: %w", err)
	}
	var ph mail.InlineHeader
	ph.Set("Content-Type", "text/plain; charset=utf-8")
	pw, err := tw.CreatePart(ph)
	if err != nil {
		return nil, fmt.Errorf("create body part: %w", err)
	}
	if _, err := io.WriteString(pw, fmt.Sprintf(reportBody, filename)); err != nil {
		return nil, fmt.Errorf("write body: %w", err)
	}
	if err := pw.Close(); err != nil {
		return nil, fmt.Errorf("close body part: %w", err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close inline writer: %w", err)
	}

	var ah mail.AttachmentHeader
	ah.Set("Content-Type", "text/plain; charset=utf-8")
	ah.SetFilename(filename)
	aw, err := mw.CreateAttachment(ah)
	if err != nil {
		return nil, fmt.Errorf("create attachment: %w", err)
	}
	if _, err := io.WriteString(aw, report); err != nil {
		return nil, fmt.Errorf("write attachment: %w", err)
	}
	if err := aw.Close(); err != nil {
		return nil, fmt.Errorf("close attachment: %w", err)
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close mail writer: %w", err)
	}
	return buf.Bytes(), nil
}
