// Package graph composes the per-project conversation pipelines: entry
// guardrails, the tool-calling chat model loop and the reply audit, compiled
// into one eino graph per variant.
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"

	"github.com/robbu/chatbot-core/server/internal/agent/graph/guard"
	"github.com/robbu/chatbot-core/server/internal/agent/graph/nodes"
	"github.com/robbu/chatbot-core/server/internal/agent/graph/observers"
	"github.com/robbu/chatbot-core/server/internal/agent/model"
	logx "github.com/robbu/chatbot-core/server/pkg/logger"
)

// Runner executes one compiled pipeline for one turn.
type Runner interface {
	Invoke(ctx context.Context, in model.TurnInput) (*model.TurnResult, error)
}

// PipelineConfig holds everything needed to compile one pipeline variant.
// The chat model must already have its tool set bound.
type PipelineConfig struct {
	Name          string
	ChatModel     einomodel.BaseChatModel
	ChatModelName string

	Guard        *guard.InputGuard
	Judge        *guard.Judge
	RenderPrompt nodes.PromptRenderer

	// LocalTools run in-process; DeferredNames end the turn as a tool-call
	// batch answered through the tool-submission endpoint.
	LocalTools    []tool.BaseTool
	DeferredNames []string

	ToolMaxCalls int
}

// PipelineBuilder handles the construction of one conversation pipeline.
type PipelineBuilder struct {
	config   *PipelineConfig
	deferred map[string]bool
	graph    *compose.Graph[model.TurnInput, *model.TurnResult]
}

type pipelineRunner struct {
	name     string
	runnable compose.Runnable[model.TurnInput, *model.TurnResult]
}

func (r *pipelineRunner) Invoke(ctx context.Context, in model.TurnInput) (*model.TurnResult, error) {
	out, err := r.runnable.Invoke(ctx, in, compose.WithCallbacks(observers.NewAllCallbacks()))
	if err != nil {
		return nil, fmt.Errorf("pipeline %s: %w", r.name, err)
	}
	return out, nil
}

// BuildPipeline compiles the variant graph and returns a Runner.
func BuildPipeline(ctx context.Context, config *PipelineConfig) (Runner, error) {
	if config == nil {
		return nil, fmt.Errorf("pipeline config is nil")
	}
	if config.ChatModel == nil {
		return nil, fmt.Errorf("pipeline %s: chat model is nil", config.Name)
	}
	if config.RenderPrompt == nil {
		return nil, fmt.Errorf("pipeline %s: prompt renderer is nil", config.Name)
	}

	deferred := make(map[string]bool, len(config.DeferredNames))
	for _, name := range config.DeferredNames {
		deferred[name] = true
	}

	builder := &PipelineBuilder{
		config:   config,
		deferred: deferred,
		graph: compose.NewGraph[model.TurnInput, *model.TurnResult](
			compose.WithGenLocalState(func(ctx context.Context) *model.TurnState {
				return &model.TurnState{}
			}),
		),
	}

	if err := builder.setupTools(ctx); err != nil {
		return nil, err
	}

	builder.addNodes()
	builder.addEdges()

	if err := builder.addBranches(); err != nil {
		return nil, err
	}

	runnable, err := builder.compile(ctx)
	if err != nil {
		return nil, err
	}

	logx.Debug().Str("pipeline", config.Name).Msg("Pipeline graph built successfully")
	return &pipelineRunner{name: config.Name, runnable: runnable}, nil
}

// setupTools creates the executor node for the variant's local tools.
func (b *PipelineBuilder) setupTools(ctx context.Context) error {
	toolsNode, err := compose.NewToolNode(ctx, &compose.ToolsNodeConfig{
		Tools:               b.config.LocalTools,
		ExecuteSequentially: true,
		UnknownToolsHandler: func(ctx context.Context, name, input string) (string, error) {
			// Hallucinated or malformed tool calls get a structured result
			// the model can recover from instead of failing the turn.
			logx.Warn().
				Str("tool_name", name).
				Str("arguments", input).
				Msg("Unknown or invalid tool call; returning fallback result")
			return fmt.Sprintf("{\"ok\":false,\"erro\":\"ferramenta desconhecida\",\"nome\":%q}", name), nil
		},
		ToolArgumentsHandler: func(ctx context.Context, name, arguments string) (string, error) {
			// Best-effort sanitize; never fail hard here
			var m map[string]any
			if err := json.Unmarshal([]byte(arguments), &m); err != nil {
				return arguments, nil
			}
			for k, v := range m {
				if s, ok := v.(string); ok {
					m[k] = strings.TrimSpace(s)
				}
			}
			out, err := json.Marshal(m)
			if err != nil {
				return arguments, nil
			}
			return string(out), nil
		},
	})
	if err != nil {
		logx.Error().Err(err).Msg("Failed to create tools node")
		return fmt.Errorf("failed to create tools node: %w", err)
	}

	b.graph.AddToolsNode(nodes.NodeToolExecutor, toolsNode,
		compose.WithStatePreHandler(nodes.NewToolExecutorPreHandler(b.config.ToolMaxCalls)),
		compose.WithStatePostHandler(nodes.NewToolExecutorPostHandler()),
	)

	return nil
}

// addNodes adds all processing nodes to the graph.
func (b *PipelineBuilder) addNodes() {
	b.graph.AddLambdaNode(nodes.NodeEntryGuard,
		nodes.NewEntryGuardNode(b.config.Guard),
		compose.WithStatePreHandler(nodes.NewEntryGuardPreHandler()),
	)

	b.graph.AddLambdaNode(nodes.NodeHumanHandoff,
		nodes.NewHumanHandoffNode(),
	)

	b.graph.AddLambdaNode(nodes.NodeContextAssembler,
		nodes.NewContextAssemblerNode(b.config.RenderPrompt),
	)

	b.graph.AddChatModelNode(nodes.NodeChatModel,
		b.config.ChatModel,
		compose.WithStatePreHandler(nodes.NewChatModelPreHandler(b.config.ToolMaxCalls)),
		compose.WithStatePostHandler(nodes.NewChatModelPostHandler(b.config.ChatModelName, b.deferred)),
	)

	b.graph.AddLambdaNode(nodes.NodeOutputGuard,
		nodes.NewOutputGuardNode(b.config.Judge),
	)

	b.graph.AddLambdaNode(nodes.NodeTerminal,
		nodes.NewTerminalNode(),
	)
}

// addEdges creates the main flow connections between nodes.
func (b *PipelineBuilder) addEdges() {
	edges := [][2]string{
		{compose.START, nodes.NodeEntryGuard},
		{nodes.NodeHumanHandoff, nodes.NodeTerminal},
		{nodes.NodeContextAssembler, nodes.NodeChatModel},
		{nodes.NodeToolExecutor, nodes.NodeChatModel},
		{nodes.NodeOutputGuard, nodes.NodeTerminal},
		{nodes.NodeTerminal, compose.END},
	}

	for _, edge := range edges {
		b.graph.AddEdge(edge[0], edge[1])
	}
}

// addBranches creates conditional routing branches.
func (b *PipelineBuilder) addBranches() error {
	guardBranch := compose.NewGraphBranch(
		nodes.NewEntryGuardCondition(),
		map[string]bool{
			nodes.NodeHumanHandoff:     true,
			nodes.NodeContextAssembler: true,
		},
	)
	if err := b.graph.AddBranch(nodes.NodeEntryGuard, guardBranch); err != nil {
		logx.Error().Err(err).Msg("Error adding entry guard branch")
		return fmt.Errorf("error adding entry guard branch: %w", err)
	}

	dispatchBranch := compose.NewGraphBranch(
		nodes.NewToolDispatchCondition(b.deferred),
		map[string]bool{
			nodes.NodeToolExecutor: true,
			nodes.NodeOutputGuard:  true,
			nodes.NodeTerminal:     true,
		},
	)
	if err := b.graph.AddBranch(nodes.NodeChatModel, dispatchBranch); err != nil {
		logx.Error().Err(err).Msg("Error adding tool dispatch branch")
		return fmt.Errorf("error adding tool dispatch branch: %w", err)
	}

	return nil
}

// compile finalizes and compiles the graph.
func (b *PipelineBuilder) compile(ctx context.Context) (compose.Runnable[model.TurnInput, *model.TurnResult], error) {
	// Limit total run steps to avoid infinite loops in branching or tool retries
	maxSteps := 10 + b.config.ToolMaxCalls*2
	if maxSteps < 20 {
		maxSteps = 20
	}

	runnable, err := b.graph.Compile(ctx, compose.WithMaxRunSteps(maxSteps))
	if err != nil {
		logx.Error().Err(err).Str("pipeline", b.config.Name).Msg("Error compiling graph")
		return nil, fmt.Errorf("error compiling graph: %w", err)
	}

	return runnable, nil
}
