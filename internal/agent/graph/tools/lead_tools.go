package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/robbu/chatbot-core/server/internal/agent/model"
	logx "github.com/robbu/chatbot-core/server/pkg/logger"
)

// ===================================
// salvar_dado_lead
// ===================================

type SaveLeadFieldInput struct {
	Campo string `json:"campo"`
	Valor string `json:"valor"`
}

type SaveLeadFieldOutput struct {
	Ok    bool   `json:"ok"`
	Campo string `json:"campo,omitempty"`
	Valor string `json:"valor,omitempty"`
	Erro  string `json:"erro,omitempty"`
}

func createSaveLeadFieldTool() tool.BaseTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolSaveLeadField,
			Desc: "Registra um dado do lead em qualificação. Campos aceitos: nomeLead, emailLead, numeroCliente, cargoCliente, siteEmpresa, tamanho_time, interesse_produto, segmento, cnpj.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"campo": {
					Type:     "string",
					Desc:     "Nome do campo a registrar.",
					Required: true,
				},
				"valor": {
					Type:     "string",
					Desc:     "Valor informado pelo usuário.",
					Required: true,
				},
			}),
		},
		func(ctx context.Context, in *SaveLeadFieldInput) (*SaveLeadFieldOutput, error) {
			if strings.TrimSpace(in.Valor) == "" {
				return &SaveLeadFieldOutput{Ok: false, Erro: "valor vazio"}, nil
			}
			var saved bool
			err := compose.ProcessState(ctx, func(_ context.Context, state *model.TurnState) error {
				if state.Lead == nil {
					state.Lead = &model.LeadSession{}
				}
				saved = state.Lead.Set(in.Campo, in.Valor)
				return nil
			})
			if err != nil {
				return nil, err
			}
			if !saved {
				return &SaveLeadFieldOutput{Ok: false, Erro: fmt.Sprintf("campo %q desconhecido", in.Campo)}, nil
			}
			return &SaveLeadFieldOutput{Ok: true, Campo: in.Campo, Valor: in.Valor}, nil
		},
	)
}

// ===================================
// listar_dados_lead
// ===================================

type ListLeadDataInput struct{}

type ListLeadDataOutput struct {
	Ok   bool               `json:"ok"`
	Lead *model.LeadSession `json:"lead"`
}

func createListLeadDataTool() tool.BaseTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name:        ToolListLeadData,
			Desc:        "Lista os dados do lead coletados até agora nesta conversa.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{}),
		},
		func(ctx context.Context, _ *ListLeadDataInput) (*ListLeadDataOutput, error) {
			out := &ListLeadDataOutput{Ok: true, Lead: &model.LeadSession{}}
			err := compose.ProcessState(ctx, func(_ context.Context, state *model.TurnState) error {
				if state.Lead != nil {
					cp := *state.Lead
					out.Lead = &cp
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
			return out, nil
		},
	)
}

// ===================================
// avaliar_lead_quente
// ===================================

type EvaluateLeadInput struct{}

type EvaluateLeadOutput struct {
	Ok       bool              `json:"ok"`
	Status   string            `json:"status_lead"`
	Criteria model.HotCriteria `json:"criterios"`
}

func createEvaluateLeadTool() tool.BaseTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name:        ToolEvaluateLead,
			Desc:        "Avalia os critérios de lead quente (mais de 5 funcionários, site ativo, interesse real) com base nos dados já coletados.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{}),
		},
		func(ctx context.Context, _ *EvaluateLeadInput) (*EvaluateLeadOutput, error) {
			out := &EvaluateLeadOutput{Ok: true}
			err := compose.ProcessState(ctx, func(_ context.Context, state *model.TurnState) error {
				if state.Lead == nil {
					state.Lead = &model.LeadSession{}
				}
				out.Criteria = state.Lead.Evaluate()
				out.Status = state.Lead.Status
				return nil
			})
			if err != nil {
				return nil, err
			}
			return out, nil
		},
	)
}

// ===================================
// registrar_lead
// ===================================

type RegisterLeadInput struct {
	Status string `json:"status_lead"`
}

type RegisterLeadOutput struct {
	Ok        bool   `json:"ok"`
	Acao      string `json:"acao,omitempty"`
	Status    string `json:"status_lead,omitempty"`
	IDContato string `json:"id_contato,omitempty"`
	Erro      string `json:"erro,omitempty"`
}

func createRegisterLeadTool(deps Deps) tool.BaseTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolRegisterLead,
			Desc: "Registra o lead no CRM com o status informado e notifica o time comercial. Use 'quente', 'frio' ou 'desqualificado'.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"status_lead": {
					Type:     "string",
					Desc:     "Status final do lead: quente, frio ou desqualificado.",
					Required: true,
				},
			}),
		},
		func(ctx context.Context, in *RegisterLeadInput) (*RegisterLeadOutput, error) {
			status := strings.ToLower(strings.TrimSpace(in.Status))
			switch status {
			case model.LeadStatusHot, model.LeadStatusCold, model.LeadStatusDisqualified:
			default:
				return &RegisterLeadOutput{Ok: false, Erro: "status_lead inválido. Use 'quente', 'frio' ou 'desqualificado'."}, nil
			}

			var (
				id   model.Identity
				lead *model.LeadSession
			)
			err := compose.ProcessState(ctx, func(_ context.Context, state *model.TurnState) error {
				if state.Lead == nil {
					state.Lead = &model.LeadSession{}
				}
				state.Lead.Status = status
				id = state.Identity
				lead = state.Lead
				return nil
			})
			if err != nil {
				return nil, err
			}

			out := &RegisterLeadOutput{Ok: true, Acao: ToolRegisterLead, Status: status}

			if deps.CRM != nil && deps.CRM.Enabled() && lead.SyncEnabled() {
				crmID, err := deps.CRM.Upsert(ctx, lead)
				if err != nil {
					logx.Error().Err(err).Msg("crm lead registration failed")
					out.Erro = "falha ao registrar no CRM"
				} else {
					lead.CRMID = crmID
					out.IDContato = crmID
				}
			}

			var report string
			if deps.Report != nil {
				report = deps.Report(lead)
			}
			if deps.Leads != nil {
				if err := deps.Leads.Save(id, lead); err != nil {
					logx.Error().Err(err).Msg("failed to persist lead session")
				}
				if report != "" {
					if err := deps.Leads.SaveReport(id, report); err != nil {
						logx.Error().Err(err).Msg("failed to persist lead report")
					}
				}
			}
			if deps.Mailer != nil && deps.Mailer.Enabled() && report != "" {
				if err := deps.Mailer.SendLeadReport(lead, report); err != nil {
					logx.Error().Err(err).Msg("failed to mail lead report")
				}
			}
			return out, nil
		},
	)
}
