package docs

import (
	"regexp"
	"strings"
)

// Doc is one entry of the curated documentation index.
type Doc struct {
	Name     string
	URL      string
	Keywords []string
}

// DefaultIndex lists the public product and documentation pages the support
// pipelines may cite.
func DefaultIndex() []Doc {
	return []Doc{
		{Name: "Carteiro Digital", URL: "https://docs.robbu.global/docs/carteiro-digital/carteiro-digital", Keywords: []string{"carteiro", "api", "envio", "mensageria"}},
		{Name: "Webhook", URL: "https://docs.robbu.global/docs/center/webhook", Keywords: []string{"webhook", "callback", "eventos", "integração"}},
		{Name: "Webchat", URL: "https://docs.robbu.global/docs/center/web-chat", Keywords: []string{"webchat", "chat", "site", "widget"}},
		{Name: "Invênio", URL: "https://robbu.global/produtos/invenio-center/", Keywords: []string{"invenio", "center", "atendimento", "plataforma"}},
		{Name: "Invenio Live", URL: "https://robbu.global/produtos/invenio-live/", Keywords: []string{"live", "operador", "humano"}},
		{Name: "IDR Studio", URL: "https://robbu.global/produtos/idr-chatbot-studio/", Keywords: []string{"idr", "studio", "chatbot", "fluxo", "bot"}},
		{Name: "Invenio Webchat", URL: "https://robbu.global/produtos/webchat/", Keywords: []string{"webchat", "produto"}},
		{Name: "Positus WhatsApp", URL: "https://robbu.global/produtos/whatsapp-studio-positus/", Keywords: []string{"positus", "whatsapp", "oficial", "número"}},
		{Name: "rFlow", URL: "https://robbu.global/produtos/rflow/", Keywords: []string{"rflow", "automação", "fluxo"}},
		{Name: "Campanhas de Email", URL: "https://docs.robbu.global/docs/center/campanhas-de-email", Keywords: []string{"campanha", "email", "disparo"}},
		{Name: "Campanhas de WhatsApp", URL: "https://docs.robbu.global/docs/center/campanhas-de-whatsapp", Keywords: []string{"campanha", "whatsapp", "disparo", "template"}},
	}
}

var wordRe = regexp.MustCompile(`\w+`)

// Index scores queries against the documentation entries.
type Index struct {
	docs []Doc
}

func NewIndex(docs []Doc) *Index {
	if len(docs) == 0 {
		docs = DefaultIndex()
	}
	return &Index{docs: docs}
}

// Match returns the best entry for a free-text question, or false when no
// entry scored at all. Name-token hits weigh more than keyword hits.
func (ix *Index) Match(query string) (Doc, bool) {
	tokens := map[string]bool{}
	for _, t := range wordRe.FindAllString(strings.ToLower(query), -1) {
		// articles and prepositions would substring-match every name
		if len([]rune(t)) >= 3 {
			tokens[t] = true
		}
	}

	var best Doc
	bestScore := 0
	for _, d := range ix.docs {
		score := 0
		nameLower := strings.ToLower(d.Name)
		for tok := range tokens {
			if strings.Contains(nameLower, tok) {
				score += 5
				break
			}
		}
		for _, kw := range d.Keywords {
			if tokens[strings.ToLower(kw)] {
				score += 3
			}
		}
		if score > bestScore {
			bestScore = score
			best = d
		}
	}
	return best, bestScore > 0
}
