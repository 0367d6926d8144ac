package tools

import (
	"context"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/robbu/chatbot-core/server/internal/agent/model"
	logx "github.com/robbu/chatbot-core/server/pkg/logger"
)

const (
	supportPhone = "551131362846"
	supportEmail = "help@robbu.global | help@posit.us"
)

// ===================================
// pesquisa_documentacao
// ===================================

type SearchDocsInput struct {
	Query string `json:"query"`
}

type SearchDocsOutput struct {
	Ok       bool   `json:"ok"`
	Fonte    string `json:"fonte,omitempty"`
	Conteudo string `json:"conteudo,omitempty"`
	Erro     string `json:"erro,omitempty"`
}

func createSearchDocsTool(deps Deps) tool.BaseTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolSearchDocs,
			Desc: "Pesquisa a documentação oficial da Robbu para perguntas técnicas sobre produtos, APIs, campanhas, templates ou webchat. Retorna o conteúdo da página mais relevante e a URL fonte.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"query": {
					Type:     "string",
					Desc:     "Pergunta técnica do usuário.",
					Required: true,
				},
			}),
		},
		func(ctx context.Context, in *SearchDocsInput) (*SearchDocsOutput, error) {
			if deps.Index == nil || deps.Fetch == nil {
				return &SearchDocsOutput{Ok: false, Erro: "pesquisa de documentação indisponível"}, nil
			}
			_, url, ok := deps.Index.Match(in.Query)
			if !ok {
				return &SearchDocsOutput{
					Ok:   false,
					Erro: "Não localizei uma página específica para essa dúvida. Você pode detalhar o erro, código ou endpoint?",
				}, nil
			}
			content, err := deps.Fetch.Fetch(ctx, url)
			if err != nil {
				logx.Warn().Err(err).Str("url", url).Msg("docs fetch failed")
				return &SearchDocsOutput{Ok: false, Fonte: url, Erro: "não foi possível extrair o conteúdo da documentação"}, nil
			}
			return &SearchDocsOutput{Ok: true, Fonte: url, Conteudo: content}, nil
		},
	)
}

// ===================================
// enviar_para_comercial
// ===================================

type SendToSalesInput struct {
	Motivo string `json:"motivo,omitempty"`
}

type SendToSalesOutput struct {
	Ok       bool   `json:"ok"`
	Mensagem string `json:"mensagem"`
}

func createSendToSalesTool(deps Deps) tool.BaseTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolSendToSales,
			Desc: "Envia o resumo do lead qualificado para o time comercial. Use após registrar um lead quente que aceitou falar com o comercial.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"motivo": {
					Type: "string",
					Desc: "Contexto adicional para o time comercial.",
				},
			}),
		},
		func(ctx context.Context, _ *SendToSalesInput) (*SendToSalesOutput, error) {
			var lead *model.LeadSession
			err := compose.ProcessState(ctx, func(_ context.Context, state *model.TurnState) error {
				lead = state.Lead
				return nil
			})
			if err != nil {
				return nil, err
			}
			if lead == nil {
				lead = &model.LeadSession{}
			}
			if deps.Mailer != nil && deps.Mailer.Enabled() && deps.Report != nil {
				if err := deps.Mailer.SendLeadReport(lead, deps.Report(lead)); err != nil {
					logx.Error().Err(err).Msg("failed to mail lead summary to sales")
					return &SendToSalesOutput{Ok: false, Mensagem: "Não foi possível acionar o comercial agora, mas seus dados foram registrados."}, nil
				}
			}
			return &SendToSalesOutput{Ok: true, Mensagem: "Lead encaminhado ao time comercial. Nossa equipe entrará em contato em breve."}, nil
		},
	)
}

// ===================================
// enviar_para_suporte
// ===================================

type SendToSupportInput struct{}

type SendToSupportOutput struct {
	Ok       bool   `json:"ok"`
	Telefone string `json:"telefone"`
	Email    string `json:"email"`
}

func createSendToSupportTool() tool.BaseTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name:        ToolSendToSupport,
			Desc:        "Retorna os canais oficiais de suporte para clientes Robbu já ativos.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{}),
		},
		func(_ context.Context, _ *SendToSupportInput) (*SendToSupportOutput, error) {
			return &SendToSupportOutput{Ok: true, Telefone: supportPhone, Email: supportEmail}, nil
		},
	)
}
