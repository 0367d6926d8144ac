package guard

import (
	"regexp"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/robbu/chatbot-core/server/internal/agent/model"
)

// InputConfig tunes the entry guardrails for one pipeline variant.
type InputConfig struct {
	// TripOnDocument blocks messages carrying CPF/CNPJ numbers. Variants
	// that legitimately collect documents (debt collection) leave it off.
	TripOnDocument bool
	// RedactContact masks e-mail addresses and phone numbers before the
	// message reaches the model. Off for variants whose script collects
	// them (lead qualification, debt collection).
	RedactContact   bool
	StrikeThreshold int
	BlockedTerms    []string
	// ScopeKeywords mark a message as in-scope; anything else that is not
	// a greeting counts as off-topic for the strike counter.
	ScopeKeywords []string
}

// InputGuard runs the fixed entry sequence: injection, PII, moderation,
// topic scope. Earlier checks preempt later ones.
type InputGuard struct {
	cfg InputConfig
}

func NewInputGuard(cfg InputConfig) *InputGuard {
	if cfg.StrikeThreshold <= 0 {
		cfg.StrikeThreshold = 3
	}
	return &InputGuard{cfg: cfg}
}

var (
	emailRe = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)
	phoneRe = regexp.MustCompile(`\b\+?\d[\d\s\-]{7,}\d\b`)
	cpfRe   = regexp.MustCompile(`\b\d{3}\.?\d{3}\.?\d{3}-?\d{2}\b`)
	cnpjRe  = regexp.MustCompile(`\b\d{2}\.?\d{3}\.?\d{3}/?\d{4}-?\d{2}\b`)

	injectionRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+instructions`),
		regexp.MustCompile(`(?i)ignore\s+(as\s+)?instru[cç][oõ]es\s+(anteriores|acima)`),
		regexp.MustCompile(`(?i)disregard\s+(your|the)\s+(rules|instructions|guidelines)`),
		regexp.MustCompile(`(?i)(reveal|show|print|repeat)\s+(your|the)\s+system\s+prompt`),
		regexp.MustCompile(`(?i)(revele|mostre|repita)\s+(o\s+|seu\s+)?prompt`),
		regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an)\s`),
		regexp.MustCompile(`(?i)(finja|aja como se)\s+(que\s+)?(voc[eê]|vc)\s`),
		regexp.MustCompile(`(?i)\bjailbreak\b|\bDAN\s+mode\b`),
	}

	greetings = map[string]bool{
		"oi": true, "ola": true, "olá": true, "opa": true, "hey": true,
		"bom dia": true, "boa tarde": true, "boa noite": true, "e aí": true,
		"obrigado": true, "obrigada": true, "valeu": true, "ok": true,
		"entendi": true, "tchau": true, "até mais": true, "blz": true,
	}

	negativeWords = []string{
		"absurdo", "péssimo", "horrível", "raiva", "cansado", "cansada",
		"demora", "reclamar", "processar", "procon", "nunca mais",
	}
	positiveWords = []string{
		"ótimo", "perfeito", "excelente", "maravilha", "ajudou muito",
	}
)

// Inspect classifies the incoming query against the conversation history.
// History is only consulted for the off-topic strike count; it must hold the
// persisted messages, already topic-tagged.
func (g *InputGuard) Inspect(query string, history []*schema.Message) model.GuardVerdict {
	// Topic and sentiment are classified up front so a tripped message still
	// carries its real tag: a moderation trip on an off-topic message must
	// not reset the strike streak to in-scope.
	lower := strings.ToLower(query)
	v := model.GuardVerdict{
		Sanitized: query,
		Topic:     g.classify(lower),
		Sentiment: sentimentOf(lower),
	}

	for _, re := range injectionRes {
		if re.MatchString(query) {
			v.Tripped = true
			v.Trip = model.TripInjection
			v.Reason = "prompt injection pattern"
			return v
		}
	}

	if g.cfg.TripOnDocument && (cnpjRe.MatchString(query) || cpfRe.MatchString(query)) {
		v.Tripped = true
		v.Trip = model.TripPII
		v.Reason = "document number in message"
		return v
	}
	if g.cfg.RedactContact {
		v.Sanitized = emailRe.ReplaceAllString(v.Sanitized, "[REDACTED_EMAIL]")
		v.Sanitized = phoneRe.ReplaceAllString(v.Sanitized, "[REDACTED_PHONE]")
	}

	for _, term := range g.cfg.BlockedTerms {
		if term != "" && strings.Contains(lower, strings.ToLower(term)) {
			v.Tripped = true
			v.Trip = model.TripModeration
			v.Reason = "blocked term"
			return v
		}
	}

	v.Strikes = trailingOffTopic(history)
	if v.Topic == model.TopicOffTopic {
		v.Strikes++
	} else {
		v.Strikes = 0
	}
	if v.Strikes >= g.cfg.StrikeThreshold {
		v.Tripped = true
		v.Trip = model.TripStrikes
		v.Reason = "consecutive off-topic messages"
	}
	return v
}

func (g *InputGuard) classify(lower string) string {
	trimmed := strings.Trim(strings.TrimSpace(lower), "!.?, ")
	if greetings[trimmed] {
		return model.TopicGreeting
	}
	for _, kw := range g.cfg.ScopeKeywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return model.TopicInScope
		}
	}
	return model.TopicOffTopic
}

func sentimentOf(lower string) string {
	for _, w := range negativeWords {
		if strings.Contains(lower, w) {
			return "negativo"
		}
	}
	for _, w := range positiveWords {
		if strings.Contains(lower, w) {
			return "positivo"
		}
	}
	return "neutro"
}

// trailingOffTopic counts consecutive off-topic user messages at the tail of
// the history, stopping at the first user message with any other tag.
func trailingOffTopic(history []*schema.Message) int {
	n := 0
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		if m.Role != schema.User {
			continue
		}
		if model.TopicOf(m) != model.TopicOffTopic {
			break
		}
		n++
	}
	return n
}
