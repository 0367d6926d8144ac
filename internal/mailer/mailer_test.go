package mailer

import (
	"net/smtp"
	"strings"
	"testing"

	"github.com/robbu/chatbot-core/server/internal/agent/model"
)

func TestSendLeadReportComposesMessage(t *testing.T) {
	var (
		gotAddr string
		gotFrom string
		gotTo   []string
		gotMsg  []byte
	)
	m := New(model.SMTPConfig{
		Host:    "smtp.example.com",
		Port:    587,
		From:    "bot@robbu.global",
		SalesTo: "vendas@robbu.global, comercial@robbu.global",
	})
	m.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	lead := &model.LeadSession{Name: "Ana Souza"}
	if err := m.SendLeadReport(lead, "Resultado da Qualificação do Lead"); err != nil {
		t.Fatalf("SendLeadReport: %v", err)
	}

	if gotAddr != "smtp.example.com:587" {
		t.Errorf("addr = %q", gotAddr)
	}
	if gotFrom != "bot@robbu.global" {
		t.Errorf("from = %q", gotFrom)
	}
	if len(gotTo) != 2 || gotTo[0] != "vendas@robbu.global" || gotTo[1] != "comercial@robbu.global" {
		t.Errorf("to = %v", gotTo)
	}

	raw := string(gotMsg)
	for _, want := range []string{
		"Subject: ",
		"ana_souza_lead_result.txt",
		"Chatbot Qualificador de Leads da Robbu",
	} {
		if !strings.Contains(raw, want) {
			t.Errorf("message missing %q", want)
		}
	}
}

func TestSendLeadReportDisabledIsNoop(t *testing.T) {
	m := New(model.SMTPConfig{})
	m.send = func(string, smtp.Auth, string, []string, []byte) error {
		t.Fatal("send must not be called when smtp is not configured")
		return nil
	}
	if err := m.SendLeadReport(&model.LeadSession{}, "r"); err != nil {
		t.Fatalf("SendLeadReport: %v", err)
	}
}

func TestReportFilename(t *testing.T) {
	cases := map[string]string{
		"Ana Souza":  "ana_souza_lead_result.txt",
		"José-Maria": "jos_maria_lead_result.txt",
		"":           "cliente_desconhecido_lead_result.txt",
	}
	for in, want := range cases {
		if got := reportFilename(in); got != want {
			t.Errorf("reportFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
