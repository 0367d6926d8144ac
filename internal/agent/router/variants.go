package router

import (
	"context"
	"fmt"

	einomodel "github.com/cloudwego/eino/components/model"

	"github.com/robbu/chatbot-core/server/internal/agent/graph"
	"github.com/robbu/chatbot-core/server/internal/agent/graph/guard"
	"github.com/robbu/chatbot-core/server/internal/agent/graph/nodes"
	"github.com/robbu/chatbot-core/server/internal/agent/graph/prompts"
	"github.com/robbu/chatbot-core/server/internal/agent/graph/tools"
	"github.com/robbu/chatbot-core/server/internal/agent/model"
	logx "github.com/robbu/chatbot-core/server/pkg/logger"
)

// Registered project names. The inbound payload must carry one of these
// verbatim.
const (
	ProjectDebtCollection = "Yamaha Cobrança IA"
	ProjectHelpdesk       = "HelpDesk IA"
	ProjectLeads          = "Qualificador Leads IA"
)

// VariantDeps carries everything the pipeline variants share.
type VariantDeps struct {
	Models       *nodes.ModelFactory
	Tools        tools.Deps
	Conversation model.ConversationConfig
}

// Terms that trip the moderation guardrail in every variant.
var moderationTerms = []string{
	"caralho", "porra", "merda", "puta que", "vai se foder",
	"desgraçado", "arrombado", "idiota", "imbecil",
}

var debtScopeKeywords = []string{
	"boleto", "parcela", "contrato", "pagamento", "pagar", "acordo",
	"dívida", "divida", "débito", "debito", "vencimento", "atraso",
	"negocia", "cpf", "yamaha", "consórcio", "consorcio", "financiamento",
}

var helpdeskScopeKeywords = []string{
	"robbu", "invenio", "carteiro", "positus", "rflow", "maestro",
	"whatsapp", "api", "webhook", "campanha", "chatbot", "disparo",
	"integração", "integracao", "token", "widget", "webchat", "voz",
	"sms", "e-mail", "email", "template", "atendimento", "erro",
	"configurar", "documentação", "documentacao",
}

var leadsScopeKeywords = []string{
	"robbu", "invenio", "carteiro", "whatsapp", "api", "chatbot",
	"atendimento", "automação", "automacao", "plano", "preço", "preco",
	"valor", "contratar", "produto", "empresa", "funcionário",
	"funcionario", "site", "cnpj", "e-mail", "email", "interesse",
	"comercial", "demonstração", "demonstracao", "integração",
	"integracao", "canal", "venda",
}

// BuildAll compiles the three pipeline variants and returns the loaded
// router.
func BuildAll(ctx context.Context, deps VariantDeps) (*Router, error) {
	r := New()

	judgeModel, err := deps.Models.NewJudgeModel(ctx)
	if err != nil {
		return nil, err
	}

	builders := []struct {
		project string
		build   func() (graph.Runner, error)
	}{
		{ProjectDebtCollection, func() (graph.Runner, error) { return buildDebt(ctx, deps) }},
		{ProjectHelpdesk, func() (graph.Runner, error) { return buildHelpdesk(ctx, deps, judgeModel) }},
		{ProjectLeads, func() (graph.Runner, error) { return buildLeads(ctx, deps, judgeModel) }},
	}
	for _, b := range builders {
		p, err := b.build()
		if err != nil {
			return nil, fmt.Errorf("build pipeline %q: %w", b.project, err)
		}
		r.Register(b.project, p)
	}

	logx.Info().Strs("projects", r.Projects()).Msg("Pipelines registered")
	return r, nil
}

// buildDebt assembles the debt-collection variant: no local tools, the two
// contract lookups deferred to the channel integration, and no reply judge.
// Document numbers are the whole point of the flow, so the PII trip is off.
func buildDebt(ctx context.Context, deps VariantDeps) (graph.Runner, error) {
	cm, err := deps.Models.NewChatModel(ctx)
	if err != nil {
		return nil, err
	}
	infos := append(tools.ControlToolInfos(), tools.ContractToolInfos()...)
	if err := cm.BindTools(infos); err != nil {
		return nil, err
	}

	return graph.BuildPipeline(ctx, &graph.PipelineConfig{
		Name:          ProjectDebtCollection,
		ChatModel:     cm,
		ChatModelName: deps.Models.ChatModelName(),
		Guard: guard.NewInputGuard(guard.InputConfig{
			TripOnDocument:  false,
			StrikeThreshold: deps.Conversation.Guard.StrikeThreshold,
			BlockedTerms:    moderationTerms,
			ScopeKeywords:   debtScopeKeywords,
		}),
		RenderPrompt: func(ctx context.Context, contactName string) (string, error) {
			return prompts.RenderDebtSystem(ctx, contactName)
		},
		DeferredNames: []string{tools.ToolContractPart1, tools.ToolContractPart2},
		ToolMaxCalls:  deps.Conversation.Tools.MaxCalls,
	})
}

// buildHelpdesk assembles the support variant: documentation search plus the
// reply judge auditing answers against the knowledge base.
func buildHelpdesk(ctx context.Context, deps VariantDeps, judgeModel einomodel.BaseChatModel) (graph.Runner, error) {
	cm, err := deps.Models.NewChatModel(ctx)
	if err != nil {
		return nil, err
	}
	local := tools.HelpdeskTools(deps.Tools)
	localInfos, err := tools.GetToolInfos(ctx, local)
	if err != nil {
		return nil, err
	}
	if err := cm.BindTools(append(tools.ControlToolInfos(), localInfos...)); err != nil {
		return nil, err
	}

	return graph.BuildPipeline(ctx, &graph.PipelineConfig{
		Name:          ProjectHelpdesk,
		ChatModel:     cm,
		ChatModelName: deps.Models.ChatModelName(),
		Guard: guard.NewInputGuard(guard.InputConfig{
			TripOnDocument:  true,
			RedactContact:   true,
			StrikeThreshold: deps.Conversation.Guard.StrikeThreshold,
			BlockedTerms:    moderationTerms,
			ScopeKeywords:   helpdeskScopeKeywords,
		}),
		Judge: guard.NewJudge(judgeModel, prompts.KnowledgeBase()),
		RenderPrompt: func(ctx context.Context, _ string) (string, error) {
			return prompts.RenderHelpdeskSystem(ctx)
		},
		LocalTools:   local,
		ToolMaxCalls: deps.Conversation.Tools.MaxCalls,
	})
}

// buildLeads assembles the lead-qualification variant with the full capture
// tool set. CNPJ collection is part of the script, so the PII trip is off.
func buildLeads(ctx context.Context, deps VariantDeps, judgeModel einomodel.BaseChatModel) (graph.Runner, error) {
	cm, err := deps.Models.NewChatModel(ctx)
	if err != nil {
		return nil, err
	}
	local := tools.LeadTools(deps.Tools)
	localInfos, err := tools.GetToolInfos(ctx, local)
	if err != nil {
		return nil, err
	}
	if err := cm.BindTools(append(tools.ControlToolInfos(), localInfos...)); err != nil {
		return nil, err
	}

	return graph.BuildPipeline(ctx, &graph.PipelineConfig{
		Name:          ProjectLeads,
		ChatModel:     cm,
		ChatModelName: deps.Models.ChatModelName(),
		Guard: guard.NewInputGuard(guard.InputConfig{
			TripOnDocument:  false,
			StrikeThreshold: deps.Conversation.Guard.StrikeThreshold,
			BlockedTerms:    moderationTerms,
			ScopeKeywords:   leadsScopeKeywords,
		}),
		Judge: guard.NewJudge(judgeModel, prompts.KnowledgeBase()),
		RenderPrompt: func(ctx context.Context, _ string) (string, error) {
			return prompts.RenderLeadsSystem(ctx)
		},
		LocalTools:   local,
		ToolMaxCalls: deps.Conversation.Tools.MaxCalls,
	})
}
