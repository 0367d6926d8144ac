package model

// ================ Config ================
type ServerConfig struct {
	Host            string `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port            int    `envconfig:"SERVER_PORT" default:"8000"`
	ShutdownTimeout string `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"10s"`
}

type ConversationConfig struct {
	TTL   string `envconfig:"CONVERSATION_TTL" default:"24h"`
	Tools struct {
		MaxCalls int `envconfig:"CONVERSATION_TOOL_MAX_CALLS" default:"10"`
	}
	Guard struct {
		StrikeThreshold int `envconfig:"CONVERSATION_GUARD_STRIKES" default:"3"`
	}
}

type ChatModelConfig struct {
	Model         string  `envconfig:"CHAT_MODEL" default:"gemini-2.5-flash"`
	FallbackModel string  `envconfig:"CHAT_FALLBACK_MODEL" default:"gemini-2.0-flash"`
	MaxTokens     int     `envconfig:"CHAT_MAX_TOKENS" default:"2000"`
	Temperature   float32 `envconfig:"CHAT_TEMPERATURE" default:"0.4"`
}

type JudgeModelConfig struct {
	Model       string  `envconfig:"JUDGE_MODEL" default:"gemini-2.0-flash-lite"`
	MaxTokens   int     `envconfig:"JUDGE_MAX_TOKENS" default:"200"`
	Temperature float32 `envconfig:"JUDGE_TEMPERATURE" default:"0"`
}

type CRMConfig struct {
	BaseURL string `envconfig:"CRM_BASE_URL" default:"https://crm.rdstation.com/api/v1"`
	Token   string `envconfig:"CRM_TOKEN"`
}

type SMTPConfig struct {
	Host     string `envconfig:"SMTP_HOST"`
	Port     int    `envconfig:"SMTP_PORT" default:"587"`
	Username string `envconfig:"SMTP_USERNAME"`
	Password string `envconfig:"SMTP_PASSWORD"`
	From     string `envconfig:"SMTP_FROM"`
	SalesTo  string `envconfig:"SMTP_SALES_TO"`
}

type WebhookConfig struct {
	URL            string `envconfig:"WEBHOOK_URL"`
	TimeoutSeconds int    `envconfig:"WEBHOOK_TIMEOUT_SECONDS" default:"10"`
}

type LeadStoreConfig struct {
	Path string `envconfig:"LEADSTORE_PATH" default:"leads.db"`
}
