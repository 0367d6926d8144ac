// Package tools implements the pipeline tool surface: lead capture, CRM
// registration, documentation search and the control tools that steer the
// conversation itself.
package tools

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/robbu/chatbot-core/server/internal/agent/model"
)

// Tool names bound to the chat models. Control tools terminate the turn and
// are never executed in-process; deferred tools end the turn as a tool-call
// batch answered by the channel integration.
const (
	ToolHumanHandoff = "encaminhar_humano"
	ToolFinalize     = "finalizar_atendimento"

	ToolContractPart1 = "buscar_contrato_1"
	ToolContractPart2 = "buscar_contrato_2"

	ToolSaveLeadField = "salvar_dado_lead"
	ToolListLeadData  = "listar_dados_lead"
	ToolEvaluateLead  = "avaliar_lead_quente"
	ToolRegisterLead  = "registrar_lead"
	ToolSendToSales   = "enviar_para_comercial"
	ToolSendToSupport = "enviar_para_suporte"
	ToolSearchDocs    = "pesquisa_documentacao"
)

// CRM is the contact-registration surface the lead tools need.
type CRM interface {
	Enabled() bool
	Upsert(ctx context.Context, lead *model.LeadSession) (string, error)
}

// DocFetcher downloads one documentation page as plain text.
type DocFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// DocIndex resolves a question to the best documentation entry.
type DocIndex interface {
	Match(query string) (name, url string, ok bool)
}

// LeadStore persists lead sessions and rendered reports.
type LeadStore interface {
	Save(id model.Identity, lead *model.LeadSession) error
	SaveReport(id model.Identity, report string) error
}

// ReportMailer sends the qualification report to the sales team.
type ReportMailer interface {
	Enabled() bool
	SendLeadReport(lead *model.LeadSession, report string) error
}

// BuildReport renders the report attached to the sales notification.
type BuildReport func(lead *model.LeadSession) string

// Deps wires the external services the local tools call.
type Deps struct {
	CRM    CRM
	Index  DocIndex
	Fetch  DocFetcher
	Leads  LeadStore
	Mailer ReportMailer
	Report BuildReport
}

// LeadTools returns the local tools of the lead-qualification variant.
func LeadTools(deps Deps) []tool.BaseTool {
	return []tool.BaseTool{
		createSaveLeadFieldTool(),
		createListLeadDataTool(),
		createEvaluateLeadTool(),
		createRegisterLeadTool(deps),
		createSendToSalesTool(deps),
		createSendToSupportTool(),
		createSearchDocsTool(deps),
	}
}

// HelpdeskTools returns the local tools of the helpdesk variant.
func HelpdeskTools(deps Deps) []tool.BaseTool {
	return []tool.BaseTool{
		createSearchDocsTool(deps),
	}
}

// ControlToolInfos describes the turn-terminating tools every variant binds.
func ControlToolInfos() []*schema.ToolInfo {
	return []*schema.ToolInfo{
		{
			Name: ToolHumanHandoff,
			Desc: "Encaminha a conversa para um atendente humano. Use quando o usuário pedir atendimento humano ou quando o caso fugir do seu escopo.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"motivo": {
					Type: "string",
					Desc: "Motivo resumido do encaminhamento.",
				},
			}),
		},
		{
			Name: ToolFinalize,
			Desc: "Finaliza o atendimento atual. Use quando o usuário confirmar que não precisa de mais nada.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"motivo": {
					Type: "string",
					Desc: "Motivo resumido da finalização.",
				},
			}),
		},
	}
}

// ContractToolInfos describes the deferred contract lookups of the
// debt-collection variant. Their results arrive through the tool-submission
// endpoint, not from an in-process executor.
func ContractToolInfos() []*schema.ToolInfo {
	cpfParam := map[string]*schema.ParameterInfo{
		"cpf": {
			Type:     "string",
			Desc:     "CPF do cliente, somente dígitos.",
			Required: true,
		},
	}
	return []*schema.ToolInfo{
		{
			Name:        ToolContractPart1,
			Desc:        "Busca a primeira parte das informações do(s) contrato(s) do cliente.",
			ParamsOneOf: schema.NewParamsOneOfByParams(cpfParam),
		},
		{
			Name:        ToolContractPart2,
			Desc:        "Busca a segunda parte das informações do(s) contrato(s) do cliente.",
			ParamsOneOf: schema.NewParamsOneOfByParams(cpfParam),
		},
	}
}

// GetToolInfos collects the ToolInfo of each runnable tool for model binding.
func GetToolInfos(ctx context.Context, ts []tool.BaseTool) ([]*schema.ToolInfo, error) {
	infos := make([]*schema.ToolInfo, 0, len(ts))
	for _, t := range ts {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("tool info: %w", err)
		}
		infos = append(infos, info)
	}
	return infos, nil
}
