package docs

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"

	logx "github.com/robbu/chatbot-core/server/pkg/logger"
)

// maxExcerptRunes caps how much page text reaches the model context.
const maxExcerptRunes = 4000

var skipElements = map[string]bool{
	"script": true, "style": true, "nav": true,
	"header": true, "footer": true, "aside": true,
	"noscript": true,
}

// Scraper fetches a documentation page and reduces it to plain text.
type Scraper struct {
	hc *http.Client
}

func NewScraper(hc *http.Client) *Scraper {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Scraper{hc: hc}
}

// Fetch downloads url and returns its readable text, preferring the main or
// article element over the full body.
func (s *Scraper) Fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build docs request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := s.hc.Do(req)
	if err != nil {
		logx.Warn().Err(err).Str("url", url).Msg("docs page fetch failed")
		return "", fmt.Errorf("fetch docs page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch docs page: unexpected status %d", resp.StatusCode)
	}

	root, err := html.Parse(resp.Body)
	if err != nil {
		return "", fmt.Errorf("parse docs page: %w", err)
	}

	content := findFirst(root, "main")
	if content == nil {
		content = findFirst(root, "article")
	}
	if content == nil {
		content = findFirst(root, "body")
	}
	if content == nil {
		content = root
	}

	var lines []string
	collectText(content, &lines)
	text := strings.Join(lines, "\n")
	if runes := []rune(text); len(runes) > maxExcerptRunes {
		text = string(runes[:maxExcerptRunes])
	}
	return text, nil
}

func findFirst(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func collectText(n *html.Node, lines *[]string) {
	if n.Type == html.ElementNode && skipElements[n.Data] {
		return
	}
	if n.Type == html.TextNode {
		if t := strings.TrimSpace(n.Data); t != "" {
			*lines = append(*lines, t)
		}
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, lines)
	}
}
