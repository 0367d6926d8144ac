// Package reconcile closes out a turn: it persists the final message list,
// releases the conversation lock and relays the outcome to the channel
// webhook. Every accepted turn ends here, including failed ones.
package reconcile

import (
	"context"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/robbu/chatbot-core/server/internal/agent/model"
	"github.com/robbu/chatbot-core/server/internal/webhook"
	logx "github.com/robbu/chatbot-core/server/pkg/logger"
)

// FailureReply is persisted and sent when the pipeline itself failed. The
// lock is released either way; a crashed turn must never strand the
// conversation.
const FailureReply = "Desculpe, tive um problema técnico ao processar sua mensagem. " +
	"Pode tentar novamente em instantes?"

// LeadSaver persists the lead session captured during the turn.
type LeadSaver interface {
	Save(id model.Identity, lead *model.LeadSession) error
}

type Reconciler struct {
	ledger         model.Ledger
	leads          LeadSaver
	webhookTimeout time.Duration
}

// New builds a reconciler. leads may be nil when no lead pipeline is
// deployed.
func New(ledger model.Ledger, leads LeadSaver, webhookTimeout time.Duration) *Reconciler {
	if webhookTimeout <= 0 {
		webhookTimeout = 10 * time.Second
	}
	return &Reconciler{ledger: ledger, leads: leads, webhookTimeout: webhookTimeout}
}

// Complete persists the turn result and relays it. It returns the data value
// for the HTTP response, shaped exactly like the webhook payload.
func (r *Reconciler) Complete(ctx context.Context, id model.Identity, contact model.Contact, res *model.TurnResult, webhookURL string) (any, error) {
	if res.Lead != nil && r.leads != nil {
		if err := r.leads.Save(id, res.Lead); err != nil {
			logx.Error().Err(err).Str("phone", id.Phone).Msg("Failed to persist lead session")
		}
	}

	if err := r.ledger.Finalize(ctx, id, res.Messages); err != nil {
		logx.Error().Err(err).Str("phone", id.Phone).Msg("Failed to finalize conversation")
		return nil, err
	}

	var data any
	if res.Outcome == model.OutcomeToolBatch {
		data = webhook.ToolCallData(res.Final.ToolCalls)
	} else {
		data = webhook.MessageData(res.Final.Content)
	}

	r.relay(contact, res.Final, res.Outcome, webhookURL)
	return data, nil
}

// CompleteFailure releases the lock after a pipeline error: the history
// gathered so far plus a visible apology is persisted, so the contact gets
// an answer and the next message is accepted.
func (r *Reconciler) CompleteFailure(ctx context.Context, id model.Identity, contact model.Contact, history []*schema.Message, cause error, webhookURL string) (any, error) {
	logx.Error().Err(cause).Str("phone", id.Phone).Str("project", id.Project).Msg("Pipeline failed, finalizing with fallback reply")

	final := schema.AssistantMessage(FailureReply, nil)
	msgs := append(append([]*schema.Message(nil), history...), final)
	if err := r.ledger.Finalize(ctx, id, msgs); err != nil {
		logx.Error().Err(err).Str("phone", id.Phone).Msg("Failed to finalize after pipeline failure")
		return nil, err
	}

	r.relay(contact, final, model.OutcomeMessage, webhookURL)
	return webhook.MessageData(final.Content), nil
}

// relay delivers the outcome to the webhook without blocking the HTTP
// response. Delivery failures are logged by the notifier and swallowed.
func (r *Reconciler) relay(contact model.Contact, final *schema.Message, outcome model.Outcome, url string) {
	n := webhook.NewNotifier(url, r.webhookTimeout)
	if !n.Enabled() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.webhookTimeout+time.Second)
		defer cancel()
		if outcome == model.OutcomeToolBatch {
			_ = n.NotifyToolCalls(ctx, contact, final.ToolCalls)
			return
		}
		_ = n.NotifyMessage(ctx, contact, final.Content)
	}()
}
