package model

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Lead qualification statuses.
const (
	LeadStatusHot          = "quente"
	LeadStatusCold         = "frio"
	LeadStatusDisqualified = "desqualificado"
)

// LeadSession is the mutable lead-qualification record. It is scoped to one
// conversation and carried through pipeline state, never shared across
// conversations. CRMID, once set, is the join key to the external CRM;
// without an e-mail CRM sync stays disabled.
type LeadSession struct {
	Email       string    `json:"email,omitempty"`
	Name        string    `json:"name,omitempty"`
	CompanySite string    `json:"company_site,omitempty"`
	Role        string    `json:"role,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	TeamSize    string    `json:"team_size,omitempty"`
	Interest    string    `json:"interest,omitempty"`
	Segment     string    `json:"segment,omitempty"`
	Document    string    `json:"document,omitempty"`
	Status      string    `json:"status,omitempty"`
	CRMID       string    `json:"crm_id,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

var leadFieldAliases = map[string]string{
	"emaillead":        "email",
	"email":            "email",
	"nomelead":         "name",
	"nome":             "name",
	"siteempresa":      "company_site",
	"site":             "company_site",
	"cargocliente":     "role",
	"cargo":            "role",
	"numerocliente":    "phone",
	"numero":           "phone",
	"tamanhotime":      "team_size",
	"interesseproduto": "interest",
	"interesse":        "interest",
	"segmento":         "segment",
	"cnpj":             "document",
	"cnpjcliente":      "document",
	"documento":        "document",
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]`)

// NormalizeLeadField resolves the free-form field names the model emits to a
// canonical field, or "" when unknown.
func NormalizeLeadField(field string) string {
	key := nonAlnum.ReplaceAllString(strings.ToLower(strings.TrimSpace(field)), "")
	return leadFieldAliases[key]
}

// Set stores a value under the canonical field name. It reports whether the
// field was recognized.
func (l *LeadSession) Set(field, value string) bool {
	value = strings.TrimSpace(value)
	switch NormalizeLeadField(field) {
	case "email":
		l.Email = value
	case "name":
		l.Name = value
	case "company_site":
		l.CompanySite = value
	case "role":
		l.Role = value
	case "phone":
		l.Phone = value
	case "team_size":
		l.TeamSize = value
	case "interest":
		l.Interest = value
	case "segment":
		l.Segment = value
	case "document":
		l.Document = value
	default:
		return false
	}
	l.UpdatedAt = time.Now().UTC()
	return true
}

var (
	domainRe = regexp.MustCompile(`(?i)^(https?://)?[a-z0-9.-]+\.[a-z]{2,}`)
	digitsRe = regexp.MustCompile(`\d+`)
)

// HotCriteria is the breakdown of the hot-lead evaluation.
type HotCriteria struct {
	Employees   int  `json:"funcionarios"`
	HasSite     bool `json:"tem_site"`
	HasInterest bool `json:"tem_interesse"`
}

// Evaluate applies the qualification criteria (team larger than five people,
// an active site, a declared product interest) and updates Status.
func (l *LeadSession) Evaluate() HotCriteria {
	c := HotCriteria{
		HasSite:     domainRe.MatchString(strings.TrimSpace(l.CompanySite)),
		HasInterest: strings.TrimSpace(l.Interest) != "",
	}
	if m := digitsRe.FindString(l.TeamSize); m != "" {
		c.Employees, _ = strconv.Atoi(m)
	}
	if c.Employees > 5 && c.HasSite && c.HasInterest {
		l.Status = LeadStatusHot
	} else {
		l.Status = LeadStatusCold
	}
	l.UpdatedAt = time.Now().UTC()
	return c
}

// SyncEnabled reports whether the session carries enough data for CRM sync.
func (l *LeadSession) SyncEnabled() bool {
	return strings.TrimSpace(l.Email) != ""
}
