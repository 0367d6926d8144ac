package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/robbu/chatbot-core/server/internal/agent/ledger"
	"github.com/robbu/chatbot-core/server/internal/agent/model"
)

var testID = model.Identity{Phone: "5511988887777", Project: "HelpDesk IA", Protocol: "42"}

var testContact = model.Contact{
	Name:    "Bruno",
	Project: "HelpDesk IA",
	Channel: model.Channel{Phone: "5511988887777"},
}

func lockedConversation(t *testing.T, l model.Ledger, first string) []*schema.Message {
	t.Helper()
	rec, created, err := l.GetOrCreate(context.Background(), testID, testContact, schema.UserMessage(first))
	if err != nil || !created {
		t.Fatalf("GetOrCreate: created=%v err=%v", created, err)
	}
	return rec.Messages
}

func TestCompleteFinalizesAndUnlocks(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemoryLedger()
	history := lockedConversation(t, l, "como disparo uma campanha?")

	reply := schema.AssistantMessage("Acesse Campanhas e clique\nem Disparar.", nil)
	res := &model.TurnResult{
		Final:    reply,
		Messages: append(history, reply),
		Outcome:  model.OutcomeMessage,
	}

	data, err := New(l, nil, time.Second).Complete(ctx, testID, testContact, res, "")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if data != "Acesse Campanhas e clique<br>em Disparar." {
		t.Fatalf("data = %q, want <br> normalised reply", data)
	}

	rec, err := l.Get(ctx, testID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Processing {
		t.Fatal("conversation still locked after Complete")
	}
	if len(rec.Messages) != 2 {
		t.Fatalf("persisted %d messages, want 2", len(rec.Messages))
	}
}

func TestCompleteToolBatchData(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemoryLedger()
	history := lockedConversation(t, l, "meu cpf é 12345678901")

	batch := schema.AssistantMessage("", []schema.ToolCall{{
		ID:   "call-1",
		Type: "function",
		Function: schema.FunctionCall{
			Name:      "buscar_contrato_1",
			Arguments: `{"cpf":"12345678901"}`,
		},
	}})
	res := &model.TurnResult{
		Final:    batch,
		Messages: append(history, batch),
		Outcome:  model.OutcomeToolBatch,
	}

	data, err := New(l, nil, time.Second).Complete(ctx, testID, testContact, res, "")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	m, ok := data.(map[string]any)
	if !ok {
		t.Fatalf("data type %T, want map keyed by call id", data)
	}
	call, ok := m["call-1"].(map[string]any)
	if !ok {
		t.Fatalf("missing call-1 entry: %v", m)
	}
	if call["name"] != "buscar_contrato_1" {
		t.Fatalf("call name = %v", call["name"])
	}
}

func TestCompleteFailureReleasesLock(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemoryLedger()
	history := lockedConversation(t, l, "oi")

	data, err := New(l, nil, time.Second).CompleteFailure(ctx, testID, testContact, history, errors.New("model exploded"), "")
	if err != nil {
		t.Fatalf("CompleteFailure: %v", err)
	}
	if data == "" {
		t.Fatal("failure turn produced empty data")
	}

	rec, err := l.Get(ctx, testID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Processing {
		t.Fatal("conversation still locked after pipeline failure")
	}
	last := rec.Messages[len(rec.Messages)-1]
	if last.Role != schema.Assistant || last.Content != FailureReply {
		t.Fatalf("last persisted message = %+v, want visible fallback reply", last)
	}
}

func TestCompleteRelaysWebhook(t *testing.T) {
	ctx := context.Background()
	received := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		received <- body
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	l := ledger.NewMemoryLedger()
	history := lockedConversation(t, l, "oi, tudo bem?")
	reply := schema.AssistantMessage("Tudo ótimo!", nil)
	res := &model.TurnResult{
		Final:    reply,
		Messages: append(history, reply),
		Outcome:  model.OutcomeMessage,
	}

	if _, err := New(l, nil, time.Second).Complete(ctx, testID, testContact, res, srv.URL); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	select {
	case body := <-received:
		if body["data"] != "Tudo ótimo!" {
			t.Fatalf("webhook data = %v", body["data"])
		}
		contact, _ := body["contact"].(map[string]any)
		if contact["name"] != "Bruno" {
			t.Fatalf("webhook contact = %v", contact)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("webhook never delivered")
	}
}

func TestCompleteSwallowsWebhookFailure(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	l := ledger.NewMemoryLedger()
	history := lockedConversation(t, l, "oi")
	reply := schema.AssistantMessage("Olá!", nil)
	res := &model.TurnResult{
		Final:    reply,
		Messages: append(history, reply),
		Outcome:  model.OutcomeMessage,
	}

	if _, err := New(l, nil, time.Second).Complete(ctx, testID, testContact, res, srv.URL); err != nil {
		t.Fatalf("webhook failure must not fail the turn: %v", err)
	}
	rec, err := l.Get(ctx, testID)
	if err != nil || rec.Processing {
		t.Fatalf("conversation not finalized: rec=%+v err=%v", rec, err)
	}
}

type leadRecorder struct {
	saved *model.LeadSession
}

func (r *leadRecorder) Save(_ model.Identity, lead *model.LeadSession) error {
	r.saved = lead
	return nil
}

func TestCompletePersistsLead(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemoryLedger()
	history := lockedConversation(t, l, "meu email é ana@empresa.com.br")

	reply := schema.AssistantMessage("Anotado!", nil)
	rec := &leadRecorder{}
	res := &model.TurnResult{
		Final:    reply,
		Messages: append(history, reply),
		Outcome:  model.OutcomeMessage,
		Lead:     &model.LeadSession{Email: "ana@empresa.com.br"},
	}

	if _, err := New(l, rec, time.Second).Complete(ctx, testID, testContact, res, ""); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if rec.saved == nil || rec.saved.Email != "ana@empresa.com.br" {
		t.Fatalf("lead not persisted: %+v", rec.saved)
	}
}
