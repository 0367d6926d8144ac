package nodes

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/robbu/chatbot-core/server/internal/agent/graph/guard"
	"github.com/robbu/chatbot-core/server/internal/agent/graph/tools"
	"github.com/robbu/chatbot-core/server/internal/agent/model"
	logx "github.com/robbu/chatbot-core/server/pkg/logger"
)

// PromptRenderer produces the variant system prompt for one turn.
type PromptRenderer func(ctx context.Context, contactName string) (string, error)

// NewEntryGuardPreHandler seeds the turn state from the pipeline input and
// resets the per-turn counters.
func NewEntryGuardPreHandler() func(context.Context, model.TurnInput, *model.TurnState) (model.TurnInput, error) {
	return func(ctx context.Context, in model.TurnInput, s *model.TurnState) (model.TurnInput, error) {
		s.Identity = in.Identity
		s.Contact = in.Contact
		s.History = append([]*schema.Message(nil), in.History...)
		s.Lead = in.Lead
		s.Verdict = nil
		s.ToolCallCount = 0
		s.ToolCallLimitReached = false
		return in, nil
	}
}

// NewEntryGuardNode runs the input guardrails over the inbound message.
// Resume turns (tool-result submissions) pass straight through: their content
// came from the channel integration, not from the contact.
func NewEntryGuardNode(g *guard.InputGuard) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in model.TurnInput) (model.GuardVerdict, error) {
		if in.Resume || g == nil {
			return model.GuardVerdict{Topic: model.TopicInScope, Sentiment: "neutro"}, nil
		}

		// The strike counter only looks at earlier messages; the one just
		// appended for this turn is tagged below.
		prior := in.History
		if n := len(prior); n > 0 && prior[n-1].Role == schema.User {
			prior = prior[:n-1]
		}
		v := g.Inspect(in.Query, prior)

		err := compose.ProcessState(ctx, func(_ context.Context, state *model.TurnState) error {
			state.Verdict = &v
			for i := len(state.History) - 1; i >= 0; i-- {
				m := state.History[i]
				if m.Role != schema.User {
					continue
				}
				model.TagTopic(m, v.Topic)
				if m.Extra == nil {
					m.Extra = map[string]any{}
				}
				m.Extra[model.ExtraSentiment] = v.Sentiment
				if v.Sanitized != "" && v.Sanitized != m.Content {
					m.Content = v.Sanitized
				}
				break
			}
			return nil
		})
		if err != nil {
			return model.GuardVerdict{}, err
		}

		if v.Tripped {
			logx.Warn().
				Str("trip", string(v.Trip)).
				Str("reason", v.Reason).
				Int("strikes", v.Strikes).
				Msg("Entry guardrail tripped")
		}
		return v, nil
	})
}

// NewEntryGuardCondition routes tripped turns to the handoff terminal.
func NewEntryGuardCondition() func(context.Context, model.GuardVerdict) (string, error) {
	return func(ctx context.Context, v model.GuardVerdict) (string, error) {
		if v.Tripped {
			return NodeHumanHandoff, nil
		}
		return NodeContextAssembler, nil
	}
}

// NewHumanHandoffNode synthesizes the control tool call that ends a tripped
// turn: off-topic strikes terminate the conversation, everything else is
// escalated to a human.
func NewHumanHandoffNode() *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, v model.GuardVerdict) (*schema.Message, error) {
		name := tools.ToolHumanHandoff
		reason := "mensagem bloqueada pelas regras de entrada"
		switch v.Trip {
		case model.TripStrikes:
			name = tools.ToolFinalize
			reason = "conversa encerrada por fuga de assunto recorrente"
		case model.TripInjection:
			reason = "tentativa de manipulação do assistente"
		case model.TripPII:
			reason = "mensagem com dados sensíveis"
		case model.TripModeration:
			reason = "mensagem com conteúdo impróprio"
		}

		out := SynthesizeControlCall(name, reason)
		err := compose.ProcessState(ctx, func(_ context.Context, state *model.TurnState) error {
			state.History = append(state.History, out)
			return nil
		})
		if err != nil {
			return nil, err
		}

		logx.Info().Str("tool", name).Str("reason", reason).Msg("Guardrail forced control tool call")
		return out, nil
	})
}

// NewContextAssemblerNode renders the variant system prompt and hands the
// accumulated history to the chat model.
func NewContextAssemblerNode(render PromptRenderer) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, _ model.GuardVerdict) ([]*schema.Message, error) {
		var history []*schema.Message
		err := compose.ProcessState(ctx, func(_ context.Context, state *model.TurnState) error {
			sys, rerr := render(ctx, state.Contact.Name)
			if rerr != nil {
				return rerr
			}
			state.SystemPrompt = sys
			history = state.History
			return nil
		})
		if err != nil {
			return nil, err
		}
		return history, nil
	})
}

// NewChatModelPreHandler builds the model context: system prompt plus full
// history, with a wrap-up notice once the tool budget is spent. The incoming
// messages are already in state, appended by whichever node produced them.
func NewChatModelPreHandler(maxToolCalls int) func(context.Context, []*schema.Message, *model.TurnState) ([]*schema.Message, error) {
	return func(ctx context.Context, in []*schema.Message, state *model.TurnState) ([]*schema.Message, error) {
		repairToolCallIDs(state.History)

		msgs := make([]*schema.Message, 0, len(state.History)+2)
		if state.SystemPrompt != "" {
			msgs = append(msgs, schema.SystemMessage(state.SystemPrompt))
		}
		msgs = append(msgs, state.History...)

		if checkAndMarkToolLimit(state, maxToolCalls) {
			msgs = append(msgs, &schema.Message{
				Role: schema.System,
				Content: "AVISO DO SISTEMA: você atingiu o limite de chamadas de ferramentas. " +
					"Responda ao usuário com as informações que já reuniu, indicando o que não foi possível concluir.",
			})
		}

		logx.Debug().Str("conversation", state.Identity.Phone).Msg("AI thinking...")
		return msgs, nil
	}
}

// NewChatModelPostHandler gives every tool call a usable id and records the
// assistant output in history. Once the tool budget is spent, a model that
// still requests local tools is overridden with a human handoff: local tool
// names must never leave the pipeline as an outward batch.
func NewChatModelPostHandler(modelName string, deferred map[string]bool) func(context.Context, *schema.Message, *model.TurnState) (*schema.Message, error) {
	return func(ctx context.Context, out *schema.Message, state *model.TurnState) (*schema.Message, error) {
		if out == nil {
			out = schema.AssistantMessage(FallbackReply, nil)
		}

		if state.ToolCallLimitReached && hasLocalCall(out, deferred) {
			logx.Warn().
				Int("tool_call_count", state.ToolCallCount).
				Msg("Tool budget spent and model still requests local tools - forcing handoff")
			out = SynthesizeControlCall(tools.ToolHumanHandoff,
				"limite de chamadas de ferramentas atingido sem resposta final")
		}

		// Gemini may omit tool call ids; the webhook contract and the
		// tool-submission endpoint both key on them.
		for i := range out.ToolCalls {
			if strings.TrimSpace(out.ToolCalls[i].ID) == "" {
				out.ToolCalls[i].ID = uuid.NewString()
			}
		}

		state.History = append(state.History, out)

		if u := usageOf(out); u != nil {
			logx.Debug().
				Str("model", modelName).
				Int("prompt_tokens", u.PromptTokens).
				Int("completion_tokens", u.CompletionTokens).
				Int("total_tokens", u.TotalTokens).
				Msg("LLM usage")
		}
		if len(out.ToolCalls) > 0 {
			logx.Debug().Int("tool_count", len(out.ToolCalls)).Msg("Model requested tools")
		} else {
			logx.Debug().Msg("AI response ready")
		}
		return out, nil
	}
}

// NewToolDispatchCondition routes the assistant output: control and deferred
// tool calls terminate the turn, local ones run in the executor, plain
// replies go to the output guardrail.
func NewToolDispatchCondition(deferred map[string]bool) func(context.Context, *schema.Message) (string, error) {
	return func(ctx context.Context, out *schema.Message) (string, error) {
		if len(out.ToolCalls) == 0 {
			return NodeOutputGuard, nil
		}

		for _, tc := range out.ToolCalls {
			name := tc.Function.Name
			if IsControlTool(name) || deferred[name] {
				logx.Debug().Str("tool", name).Msg("Turn ends as tool-call batch")
				return NodeTerminal, nil
			}
		}

		logx.Debug().Int("tool_count", len(out.ToolCalls)).Msg("Routing to ToolExecutor")
		return NodeToolExecutor, nil
	}
}

// hasLocalCall reports whether the message carries a tool call that only the
// in-process executor could answer.
func hasLocalCall(m *schema.Message, deferred map[string]bool) bool {
	for _, tc := range m.ToolCalls {
		if !IsControlTool(tc.Function.Name) && !deferred[tc.Function.Name] {
			return true
		}
	}
	return false
}

// NewToolExecutorPreHandler counts executor rounds against the budget.
func NewToolExecutorPreHandler(maxToolCalls int) func(context.Context, *schema.Message, *model.TurnState) (*schema.Message, error) {
	return func(ctx context.Context, in *schema.Message, state *model.TurnState) (*schema.Message, error) {
		if incrementToolCallAndCheck(state, maxToolCalls) {
			logx.Warn().
				Int("tool_call_count", state.ToolCallCount).
				Int("max_tool_calls", normalizeMaxToolCalls(maxToolCalls)).
				Msg("Tool call limit exceeded - flagging and continuing")
		}
		return in, nil
	}
}

// NewToolExecutorPostHandler records tool results in history before the loop
// re-enters the chat model.
func NewToolExecutorPostHandler() func(context.Context, []*schema.Message, *model.TurnState) ([]*schema.Message, error) {
	return func(ctx context.Context, out []*schema.Message, state *model.TurnState) ([]*schema.Message, error) {
		state.History = append(state.History, out...)
		return out, nil
	}
}

// NewOutputGuardNode audits a plain reply before it leaves the pipeline. A
// rejected reply is replaced in history by a human-handoff tool call.
func NewOutputGuardNode(j *guard.Judge) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, reply *schema.Message) (*schema.Message, error) {
		var userQuery string
		compose.ProcessState(ctx, func(_ context.Context, state *model.TurnState) error {
			userQuery = lastUserContent(state.History)
			return nil
		})

		if j.Approve(ctx, userQuery, reply.Content) {
			return reply, nil
		}

		handoff := SynthesizeControlCall(tools.ToolHumanHandoff, "resposta reprovada pela auditoria de qualidade")
		err := compose.ProcessState(ctx, func(_ context.Context, state *model.TurnState) error {
			if n := len(state.History); n > 0 && state.History[n-1] == reply {
				state.History[n-1] = handoff
			} else {
				state.History = append(state.History, handoff)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return handoff, nil
	})
}

// NewTerminalNode collects the turn result from state.
func NewTerminalNode() *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, final *schema.Message) (*model.TurnResult, error) {
		res := &model.TurnResult{
			Final:   final,
			Outcome: model.ClassifyOutcome(final),
			Handoff: hasControlCall(final),
		}
		err := compose.ProcessState(ctx, func(_ context.Context, state *model.TurnState) error {
			res.Messages = state.History
			res.Lead = state.Lead
			return nil
		})
		if err != nil {
			return nil, err
		}
		return res, nil
	})
}

// IsControlTool reports whether the tool name terminates the turn rather
// than being executed.
func IsControlTool(name string) bool {
	return name == tools.ToolHumanHandoff || name == tools.ToolFinalize
}

// SynthesizeControlCall builds an assistant message carrying one control
// tool call, as if the model had requested it.
func SynthesizeControlCall(name, reason string) *schema.Message {
	args, _ := json.Marshal(map[string]string{"motivo": reason})
	return schema.AssistantMessage("", []schema.ToolCall{{
		ID:   uuid.NewString(),
		Type: "function",
		Function: schema.FunctionCall{
			Name:      name,
			Arguments: string(args),
		},
	}})
}

func hasControlCall(m *schema.Message) bool {
	if m == nil {
		return false
	}
	for _, tc := range m.ToolCalls {
		if IsControlTool(tc.Function.Name) {
			return true
		}
	}
	return false
}
