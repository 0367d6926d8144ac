package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/robbu/chatbot-core/server/internal/agent/graph/nodes"
	"github.com/robbu/chatbot-core/server/internal/agent/graph/tools"
	"github.com/robbu/chatbot-core/server/internal/agent/ledger"
	"github.com/robbu/chatbot-core/server/internal/agent/model"
	"github.com/robbu/chatbot-core/server/internal/agent/reconcile"
	"github.com/robbu/chatbot-core/server/internal/agent/router"
	"github.com/robbu/chatbot-core/server/internal/api"
	"github.com/robbu/chatbot-core/server/internal/core"
	"github.com/robbu/chatbot-core/server/internal/crm/rdstation"
	"github.com/robbu/chatbot-core/server/internal/docs"
	"github.com/robbu/chatbot-core/server/internal/leadstore"
	"github.com/robbu/chatbot-core/server/internal/mailer"
	logx "github.com/robbu/chatbot-core/server/pkg/logger"
	pkgredis "github.com/robbu/chatbot-core/server/pkg/redis"
)

// AppConfig defines all configurable parameters for the service, sourced
// from environment variables (loaded from .env for local runs).
type AppConfig struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`

	// Infrastructure
	Redis pkgredis.Config

	// LLM provider
	APIKey  string `envconfig:"GEMINI_API_KEY" required:"true"`
	BaseURL string `envconfig:"GEMINI_BASE_URL"`

	// Service configs
	Server       model.ServerConfig
	Conversation model.ConversationConfig
	Chat         model.ChatModelConfig
	Judge        model.JudgeModelConfig
	CRM          model.CRMConfig
	SMTP         model.SMTPConfig
	Webhook      model.WebhookConfig
	LeadStore    model.LeadStoreConfig
}

// docIndexAdapter narrows the documentation index to the tool surface.
type docIndexAdapter struct {
	idx *docs.Index
}

func (a docIndexAdapter) Match(query string) (string, string, bool) {
	doc, ok := a.idx.Match(query)
	return doc.Name, doc.URL, ok
}

func main() {
	ctx := context.Background()

	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("Failed to process environment config: %v", err)
	}

	logx.Init(logx.LoggerOpts{Environment: core.ParseEnvironment(cfg.Environment)})

	rdb, err := cfg.Redis.New()
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to initialise Redis client")
	}
	defer rdb.Close()
	logx.Info().Msg("Connected to Redis")

	ttl, err := time.ParseDuration(cfg.Conversation.TTL)
	if err != nil {
		logx.Fatal().Err(err).Str("ttl", cfg.Conversation.TTL).Msg("Invalid CONVERSATION_TTL")
	}

	leads, err := leadstore.NewBoltStore(cfg.LeadStore.Path)
	if err != nil {
		logx.Fatal().Err(err).Str("path", cfg.LeadStore.Path).Msg("Failed to open lead store")
	}
	defer leads.Close()

	models, err := nodes.NewModelFactory(ctx, nodes.ModelFactoryConfig{
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		ChatConfig:  &cfg.Chat,
		JudgeConfig: &cfg.Judge,
	})
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to create model factory")
	}

	pipelines, err := router.BuildAll(ctx, router.VariantDeps{
		Models: models,
		Tools: tools.Deps{
			CRM:    rdstation.NewClient(cfg.CRM.BaseURL, cfg.CRM.Token, nil),
			Index:  docIndexAdapter{idx: docs.NewIndex(docs.DefaultIndex())},
			Fetch:  docs.NewScraper(&http.Client{Timeout: 15 * time.Second}),
			Leads:  leads,
			Mailer: mailer.New(cfg.SMTP),
			Report: leadstore.BuildReport,
		},
		Conversation: cfg.Conversation,
	})
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to build pipelines")
	}

	store := ledger.NewRedisLedger(rdb, ttl)
	rec := reconcile.New(store, leads, time.Duration(cfg.Webhook.TimeoutSeconds)*time.Second)
	handler := api.NewHandler(store, pipelines, rec, leads)
	server := api.NewServer(cfg.Server, handler)

	go func() {
		if err := server.Start(); err != nil {
			logx.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownTimeout, err := time.ParseDuration(cfg.Server.ShutdownTimeout)
	if err != nil {
		shutdownTimeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logx.Error().Err(err).Msg("Shutdown did not complete cleanly")
	}
	logx.Info().Msg("Server stopped")
}
