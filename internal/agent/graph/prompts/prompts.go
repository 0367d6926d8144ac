package prompts

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/robbu/chatbot-core/server/internal/agent/graph/tools"
)

//go:embed template/debt_prompt.txt
var debtSystemPrompt string

//go:embed template/helpdesk_prompt.txt
var helpdeskSystemPrompt string

//go:embed template/leads_prompt.txt
var leadsSystemPrompt string

//go:embed template/knowledge_base.txt
var knowledgeBase string

// KnowledgeBase returns the embedded company knowledge base used by the
// helpdesk prompt and the reply judge.
func KnowledgeBase() string {
	return knowledgeBase
}

func render(ctx context.Context, template string, vars map[string]any) (string, error) {
	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(template),
	)
	msgs, err := tpl.Format(ctx, vars)
	if err != nil {
		return "", fmt.Errorf("system prompt render: %w", err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("system prompt render: empty result")
	}
	return msgs[0].Content, nil
}

// RenderDebtSystem renders the debt-collection system prompt and triggers
// prompt callbacks.
func RenderDebtSystem(ctx context.Context, contactName string) (string, error) {
	return render(ctx, debtSystemPrompt, map[string]any{
		"ContractTool1": tools.ToolContractPart1,
		"ContractTool2": tools.ToolContractPart2,
		"HandoffTool":   tools.ToolHumanHandoff,
		"FinalizeTool":  tools.ToolFinalize,
		"ContactName":   contactName,
	})
}

// RenderHelpdeskSystem renders the helpdesk system prompt with the embedded
// knowledge base.
func RenderHelpdeskSystem(ctx context.Context) (string, error) {
	return render(ctx, helpdeskSystemPrompt, map[string]any{
		"DocsTool":     tools.ToolSearchDocs,
		"HandoffTool":  tools.ToolHumanHandoff,
		"FinalizeTool": tools.ToolFinalize,
		"Knowledge":    knowledgeBase,
	})
}

// RenderLeadsSystem renders the lead-qualification script prompt.
func RenderLeadsSystem(ctx context.Context) (string, error) {
	return render(ctx, leadsSystemPrompt, map[string]any{
		"DocsTool":         tools.ToolSearchDocs,
		"SaveLeadTool":     tools.ToolSaveLeadField,
		"ListLeadTool":     tools.ToolListLeadData,
		"EvaluateLeadTool": tools.ToolEvaluateLead,
		"RegisterLeadTool": tools.ToolRegisterLead,
		"SalesTool":        tools.ToolSendToSales,
		"SupportTool":      tools.ToolSendToSupport,
		"HandoffTool":      tools.ToolHumanHandoff,
		"FinalizeTool":     tools.ToolFinalize,
	})
}
