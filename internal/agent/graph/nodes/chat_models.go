package nodes

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"github.com/robbu/chatbot-core/server/internal/agent/model"
	logx "github.com/robbu/chatbot-core/server/pkg/logger"
)

// ModelFactoryConfig holds the configuration for chat model creation.
type ModelFactoryConfig struct {
	APIKey      string
	BaseURL     string
	ChatConfig  *model.ChatModelConfig
	JudgeConfig *model.JudgeModelConfig
}

// ModelFactory builds chat models on a shared Gemini client. Each pipeline
// variant binds a different tool set, so each gets its own model instance.
type ModelFactory struct {
	client *genai.Client
	cfg    ModelFactoryConfig
}

// NewModelFactory creates the Gemini client used by every model instance.
func NewModelFactory(ctx context.Context, cfg ModelFactoryConfig) (*ModelFactory, error) {
	if cfg.ChatConfig == nil || cfg.JudgeConfig == nil {
		return nil, fmt.Errorf("chat/judge model config is nil")
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = cfg.BaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}

	return &ModelFactory{client: client, cfg: cfg}, nil
}

// ChatModelName returns the primary conversation model name, for logs.
func (f *ModelFactory) ChatModelName() string {
	return f.cfg.ChatConfig.Model
}

// NewChatModel creates a primary/fallback conversation model pair.
func (f *ModelFactory) NewChatModel(ctx context.Context) (*FallbackChatModel, error) {
	cc := f.cfg.ChatConfig

	primary, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      f.client,
		Model:       cc.Model,
		Temperature: &cc.Temperature,
		MaxTokens:   &cc.MaxTokens,
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: true,
			ThinkingBudget:  genai.Ptr(int32(2000)),
		},
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating chat model")
		return nil, fmt.Errorf("error creating chat model: %w", err)
	}

	var secondary *gemini.ChatModel
	if cc.FallbackModel != "" && cc.FallbackModel != cc.Model {
		secondary, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client:      f.client,
			Model:       cc.FallbackModel,
			Temperature: &cc.Temperature,
			MaxTokens:   &cc.MaxTokens,
		})
		if err != nil {
			logx.Error().Err(err).Msg("Error creating fallback chat model")
			return nil, fmt.Errorf("error creating fallback chat model: %w", err)
		}
	}

	return &FallbackChatModel{
		primary:       primary,
		secondary:     secondary,
		primaryName:   cc.Model,
		secondaryName: cc.FallbackModel,
	}, nil
}

// NewJudgeModel creates the small reply-audit model.
func (f *ModelFactory) NewJudgeModel(ctx context.Context) (*gemini.ChatModel, error) {
	jc := f.cfg.JudgeConfig
	cm, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      f.client,
		Model:       jc.Model,
		Temperature: &jc.Temperature,
		MaxTokens:   &jc.MaxTokens,
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating judge model")
		return nil, fmt.Errorf("error creating judge model: %w", err)
	}
	return cm, nil
}

// FallbackReply is what the contact sees when both providers fail. The turn
// still completes and the conversation unlocks.
const FallbackReply = "Desculpe, estou com uma instabilidade no momento. " +
	"Pode repetir sua mensagem em instantes?"

// FallbackChatModel tries the primary model and falls back to the secondary.
// When both fail it degrades to a fixed apology message instead of an error,
// so a provider outage never strands a locked conversation.
type FallbackChatModel struct {
	primary       *gemini.ChatModel
	secondary     *gemini.ChatModel
	primaryName   string
	secondaryName string
}

var _ einomodel.BaseChatModel = (*FallbackChatModel)(nil)

// BindTools binds the tool set to both underlying models.
func (m *FallbackChatModel) BindTools(tools []*schema.ToolInfo) error {
	if err := m.primary.BindTools(tools); err != nil {
		return fmt.Errorf("bind tools to %s: %w", m.primaryName, err)
	}
	if m.secondary != nil {
		if err := m.secondary.BindTools(tools); err != nil {
			return fmt.Errorf("bind tools to %s: %w", m.secondaryName, err)
		}
	}
	return nil
}

func (m *FallbackChatModel) Generate(ctx context.Context, in []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	out, err := m.primary.Generate(ctx, in, opts...)
	if err == nil {
		return out, nil
	}
	logx.Warn().Err(err).Str("model", m.primaryName).Msg("Primary chat model failed")

	if m.secondary != nil {
		out, err2 := m.secondary.Generate(ctx, in, opts...)
		if err2 == nil {
			return out, nil
		}
		logx.Error().Err(err2).Str("model", m.secondaryName).Msg("Fallback chat model failed")
	}

	return schema.AssistantMessage(FallbackReply, nil), nil
}

func (m *FallbackChatModel) Stream(ctx context.Context, in []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	out, err := m.Generate(ctx, in, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{out}), nil
}
