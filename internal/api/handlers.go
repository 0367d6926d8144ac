// Package api exposes the chat surface: inbound messages, externally
// executed tool results and health.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/robbu/chatbot-core/server/internal/agent/graph"
	"github.com/robbu/chatbot-core/server/internal/agent/model"
	"github.com/robbu/chatbot-core/server/internal/agent/reconcile"
	"github.com/robbu/chatbot-core/server/internal/agent/router"
	"github.com/robbu/chatbot-core/server/internal/core/errx"
	logx "github.com/robbu/chatbot-core/server/pkg/logger"
)

// Pipelines resolves a project name to its compiled pipeline.
type Pipelines interface {
	Pipeline(project string) (graph.Runner, error)
}

// LeadLoader fetches the lead session attached to a conversation.
type LeadLoader interface {
	Get(id model.Identity) (*model.LeadSession, error)
}

type Handler struct {
	ledger    model.Ledger
	pipelines Pipelines
	rec       *reconcile.Reconciler
	leads     LeadLoader
}

// NewHandler wires the chat handlers. leads may be nil when the
// lead-qualification project is not deployed.
func NewHandler(ledger model.Ledger, pipelines Pipelines, rec *reconcile.Reconciler, leads LeadLoader) *Handler {
	return &Handler{ledger: ledger, pipelines: pipelines, rec: rec, leads: leads}
}

type channelPayload struct {
	Phone string `json:"phone"`
	Email string `json:"email,omitempty"`
}

type contactPayload struct {
	Name     string         `json:"name"`
	Document string         `json:"document,omitempty"`
	Project  string         `json:"project,omitempty"`
	Protocol string         `json:"protocol,omitempty"`
	Channel  channelPayload `json:"channel"`
}

func (c contactPayload) toModel(project string) model.Contact {
	if project == "" {
		project = c.Project
	}
	return model.Contact{
		Name:     c.Name,
		Document: c.Document,
		Project:  project,
		Protocol: c.Protocol,
		Channel:  model.Channel{Phone: c.Channel.Phone, Email: c.Channel.Email},
	}
}

type chatRequest struct {
	Message    string         `json:"message"`
	Project    string         `json:"project"`
	WebhookURL string         `json:"webhook_url"`
	Contact    contactPayload `json:"contact"`
}

type toolCallPayload struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
}

type submitToolsRequest struct {
	ToolCalls  []toolCallPayload `json:"tool_calls"`
	WebhookURL string            `json:"webhook_url"`
	Contact    contactPayload    `json:"contact"`
}

type turnResponse struct {
	Data    any           `json:"data"`
	Contact model.Contact `json:"contact"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// Chat accepts one inbound human message and runs a full turn.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "corpo da requisição inválido"})
		return
	}

	// Rejected before any ledger touch: an empty message must not create a
	// record or take the lock.
	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "A mensagem não pode estar em branco."})
		return
	}

	project := req.Project
	if project == "" {
		project = req.Contact.Project
	}
	pipeline, err := h.pipelines.Pipeline(project)
	if err != nil {
		writeError(w, err)
		return
	}

	contact := req.Contact.toModel(project)
	id := model.IdentityOf(contact)
	human := schema.UserMessage(req.Message)

	ctx := r.Context()
	rec, created, err := h.ledger.GetOrCreate(ctx, id, contact, human)
	if err != nil {
		writeError(w, err)
		return
	}
	if !created {
		// Creation already seeded the message and took the lock; an existing
		// record must take it here, or bounce as busy.
		rec, err = h.ledger.AppendAndLock(ctx, id, human)
		if err != nil {
			writeError(w, err)
			return
		}
	}

	h.runTurn(ctx, w, pipeline, id, rec.Contact, model.TurnInput{
		Identity: id,
		Contact:  rec.Contact,
		Query:    req.Message,
		History:  rec.Messages,
		Lead:     h.leadFor(project, id),
	}, req.WebhookURL)
}

// SubmitTools accepts the results of externally executed tool calls and
// resumes the turn from the model call.
func (h *Handler) SubmitTools(w http.ResponseWriter, r *http.Request) {
	var req submitToolsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "corpo da requisição inválido"})
		return
	}
	if len(req.ToolCalls) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "Missing tool calls."})
		return
	}

	project := req.Contact.Project
	pipeline, err := h.pipelines.Pipeline(project)
	if err != nil {
		writeError(w, err)
		return
	}

	contact := req.Contact.toModel(project)
	id := model.IdentityOf(contact)

	msgs := make([]*schema.Message, 0, len(req.ToolCalls))
	for _, tc := range req.ToolCalls {
		msgs = append(msgs, &schema.Message{
			Role:       schema.Tool,
			Content:    tc.Content,
			ToolCallID: tc.ToolCallID,
		})
	}

	ctx := r.Context()
	rec, err := h.ledger.AppendAndLock(ctx, id, msgs...)
	if err != nil {
		writeError(w, err)
		return
	}

	h.runTurn(ctx, w, pipeline, id, rec.Contact, model.TurnInput{
		Identity: id,
		Contact:  rec.Contact,
		History:  rec.Messages,
		Resume:   true,
		Lead:     h.leadFor(project, id),
	}, req.WebhookURL)
}

// runTurn executes the pipeline and reconciles the outcome. The lock taken
// above is always released, even when the pipeline panics.
func (h *Handler) runTurn(ctx context.Context, w http.ResponseWriter, pipeline graph.Runner, id model.Identity, contact model.Contact, in model.TurnInput, webhookURL string) {
	res, err := invokeSafely(ctx, pipeline, in)
	if err != nil {
		data, ferr := h.rec.CompleteFailure(ctx, id, contact, in.History, err, webhookURL)
		if ferr != nil {
			writeError(w, ferr)
			return
		}
		writeJSON(w, http.StatusAccepted, turnResponse{Data: data, Contact: contact})
		return
	}

	data, err := h.rec.Complete(ctx, id, contact, res, webhookURL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, turnResponse{Data: data, Contact: contact})
}

func invokeSafely(ctx context.Context, pipeline graph.Runner, in model.TurnInput) (res *model.TurnResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("pipeline panic: %v", rec)
		}
	}()
	res, err = pipeline.Invoke(ctx, in)
	if err == nil && (res == nil || res.Final == nil) {
		err = fmt.Errorf("pipeline produced no final message")
	}
	return res, err
}

func (h *Handler) leadFor(project string, id model.Identity) *model.LeadSession {
	if project != router.ProjectLeads || h.leads == nil {
		return nil
	}
	lead, err := h.leads.Get(id)
	if err != nil {
		logx.Error().Err(err).Str("phone", id.Phone).Msg("Failed to load lead session")
		return &model.LeadSession{}
	}
	return lead
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errx.Status(err), errorResponse{Detail: errx.Message(err)})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logx.Error().Err(err).Msg("Failed to encode response")
	}
}
