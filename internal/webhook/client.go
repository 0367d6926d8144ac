// Package webhook delivers turn outcomes to the channel integration that
// actually talks to the contact (WhatsApp gateway, webchat, etc).
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/robbu/chatbot-core/server/internal/agent/model"
	logx "github.com/robbu/chatbot-core/server/pkg/logger"
)

type Notifier struct {
	url string
	hc  *http.Client
}

func NewNotifier(url string, timeout time.Duration) *Notifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Notifier{url: url, hc: &http.Client{Timeout: timeout}}
}

// Enabled reports whether deliveries are configured.
func (n *Notifier) Enabled() bool { return n != nil && n.url != "" }

type payload struct {
	Data    any           `json:"data"`
	Contact model.Contact `json:"contact"`
}

// MessageData normalises a free-text reply for the channel renderer:
// newlines become <br>.
func MessageData(message string) string {
	return strings.ReplaceAll(message, "\n", "<br>")
}

// ToolCallData shapes a tool-call batch for the integration, keyed by call id
// so answers can be matched on submission.
func ToolCallData(calls []schema.ToolCall) map[string]any {
	data := make(map[string]any, len(calls))
	for _, call := range calls {
		var args map[string]any
		if call.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
				args = map[string]any{"arguments": call.Function.Arguments}
			}
		}
		data[call.ID] = map[string]any{
			"name":      call.Function.Name,
			"arguments": args,
		}
	}
	return data
}

// NotifyMessage delivers a free-text reply.
func (n *Notifier) NotifyMessage(ctx context.Context, contact model.Contact, message string) error {
	return n.post(ctx, payload{
		Data:    MessageData(message),
		Contact: contact,
	})
}

// NotifyToolCalls delivers a deferred tool-call batch for the integration to
// execute and answer via the tool-submission endpoint.
func (n *Notifier) NotifyToolCalls(ctx context.Context, contact model.Contact, calls []schema.ToolCall) error {
	return n.post(ctx, payload{Data: ToolCallData(calls), Contact: contact})
}

func (n *Notifier) post(ctx context.Context, p payload) error {
	if !n.Enabled() {
		logx.Debug().Msg("webhook delivery skipped, no url configured")
		return nil
	}
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.hc.Do(req)
	if err != nil {
		logx.Error().Err(err).Str("url", n.url).Msg("webhook delivery failed")
		return fmt.Errorf("deliver webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logx.Error().Int("status", resp.StatusCode).Str("url", n.url).Msg("webhook rejected")
		return fmt.Errorf("deliver webhook: unexpected status %d", resp.StatusCode)
	}
	logx.Info().Int("status", resp.StatusCode).Msg("webhook delivered")
	return nil
}
