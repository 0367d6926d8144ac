// Package rdstation is a minimal client for the RD Station CRM contacts API.
package rdstation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/robbu/chatbot-core/server/internal/agent/model"
	logx "github.com/robbu/chatbot-core/server/pkg/logger"
)

const DefaultBaseURL = "https://crm.rdstation.com/api/v1"

// Labels of the custom fields the lead qualifier fills in.
const (
	FieldProductInterest = "Produtos de interesse"
	FieldTeamSize        = "qtd de funcionarios"
)

type Client struct {
	baseURL string
	token   string
	hc      *http.Client

	// label -> key, resolved lazily against the account's custom fields
	fieldKeys map[string]string
}

func NewClient(baseURL, token string, hc *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		token:     token,
		hc:        hc,
		fieldKeys: map[string]string{},
	}
}

// Enabled reports whether the client has credentials to talk to the CRM.
func (c *Client) Enabled() bool { return c.token != "" }

type contactEmail struct {
	Email string `json:"email"`
}

type contactPhone struct {
	Type  string `json:"type"`
	Phone string `json:"phone"`
}

type contactPayload struct {
	Name         string         `json:"name,omitempty"`
	Title        string         `json:"title,omitempty"`
	Emails       []contactEmail `json:"emails,omitempty"`
	Phones       []contactPhone `json:"phones,omitempty"`
	CustomFields map[string]any `json:"custom_fields,omitempty"`
}

type contactResult struct {
	ID       string `json:"id"`
	LegacyID string `json:"_id"`
	Contact  *struct {
		ID       string `json:"id"`
		LegacyID string `json:"_id"`
	} `json:"contact"`
	Contacts []struct {
		ID       string `json:"id"`
		LegacyID string `json:"_id"`
	} `json:"contacts"`
}

func (r *contactResult) id() string {
	switch {
	case r.ID != "":
		return r.ID
	case r.LegacyID != "":
		return r.LegacyID
	case r.Contact != nil && r.Contact.ID != "":
		return r.Contact.ID
	case r.Contact != nil && r.Contact.LegacyID != "":
		return r.Contact.LegacyID
	case len(r.Contacts) > 0 && r.Contacts[0].ID != "":
		return r.Contacts[0].ID
	case len(r.Contacts) > 0:
		return r.Contacts[0].LegacyID
	}
	return ""
}

func (c *Client) endpoint(path string, query url.Values) string {
	if query == nil {
		query = url.Values{}
	}
	query.Set("token", c.token)
	return c.baseURL + path + "?" + query.Encode()
}

func (c *Client) do(ctx context.Context, method, rawURL string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encode crm payload: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, &buf)
	if err != nil {
		return fmt.Errorf("build crm request: %w", err)
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("content-type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("crm request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("crm request: unexpected status %d", resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode crm response: %w", err)
		}
	}
	return nil
}

// FindContactByEmail returns the contact id for an e-mail, or "" when the
// CRM has no match.
func (c *Client) FindContactByEmail(ctx context.Context, email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", fmt.Errorf("email is required")
	}
	var res contactResult
	q := url.Values{"email": {email}}
	if err := c.do(ctx, http.MethodGet, c.endpoint("/contacts", q), nil, &res); err != nil {
		return "", err
	}
	return res.id(), nil
}

func (c *Client) CreateContact(ctx context.Context, lead *model.LeadSession) (string, error) {
	if strings.TrimSpace(lead.Email) == "" {
		return "", fmt.Errorf("email is required to create a contact")
	}
	fields, err := c.buildCustomFields(ctx, lead)
	if err != nil {
		logx.Warn().Err(err).Msg("crm custom fields unavailable, creating contact without them")
	}
	body := map[string]contactPayload{"contact": payloadFor(lead, fields)}
	var res contactResult
	if err := c.do(ctx, http.MethodPost, c.endpoint("/contacts", nil), body, &res); err != nil {
		return "", err
	}
	return res.id(), nil
}

func (c *Client) UpdateContact(ctx context.Context, id string, lead *model.LeadSession) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("contact id is required")
	}
	fields, err := c.buildCustomFields(ctx, lead)
	if err != nil {
		logx.Warn().Err(err).Msg("crm custom fields unavailable, updating contact without them")
	}
	payload := payloadFor(lead, fields)
	return c.do(ctx, http.MethodPut, c.endpoint("/contacts/"+url.PathEscape(id), nil), payload, nil)
}

// Upsert registers the lead: updates the known contact, otherwise finds it by
// e-mail, otherwise creates it. Returns the contact id.
func (c *Client) Upsert(ctx context.Context, lead *model.LeadSession) (string, error) {
	if lead.CRMID != "" {
		return lead.CRMID, c.UpdateContact(ctx, lead.CRMID, lead)
	}
	id, err := c.FindContactByEmail(ctx, lead.Email)
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, c.UpdateContact(ctx, id, lead)
	}
	return c.CreateContact(ctx, lead)
}

func payloadFor(lead *model.LeadSession, customFields map[string]any) contactPayload {
	p := contactPayload{
		Name:         lead.Name,
		Title:        lead.Role,
		CustomFields: customFields,
	}
	if lead.Email != "" {
		p.Emails = []contactEmail{{Email: lead.Email}}
	}
	if lead.Phone != "" {
		p.Phones = []contactPhone{{Type: "home", Phone: lead.Phone}}
	}
	return p
}

type customField struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Type  string `json:"type,omitempty"`
}

type customFieldsResult struct {
	CustomFields []customField `json:"custom_fields"`
}

func (c *Client) listCustomFields(ctx context.Context) ([]customField, error) {
	var res customFieldsResult
	if err := c.do(ctx, http.MethodGet, c.endpoint("/custom_fields", nil), nil, &res); err != nil {
		return nil, err
	}
	return res.CustomFields, nil
}

func (c *Client) createCustomField(ctx context.Context, label string) (customField, error) {
	body := map[string]customField{"custom_field": {Label: label, Type: "text"}}
	var res struct {
		CustomField customField `json:"custom_field"`
	}
	if err := c.do(ctx, http.MethodPost, c.endpoint("/custom_fields", nil), body, &res); err != nil {
		return customField{}, err
	}
	return res.CustomField, nil
}

// ensureFieldKey resolves a field label to its account-specific key, creating
// the field when the account does not have it yet.
func (c *Client) ensureFieldKey(ctx context.Context, label string) (string, error) {
	if key, ok := c.fieldKeys[label]; ok {
		return key, nil
	}
	existing, err := c.listCustomFields(ctx)
	if err != nil {
		return "", err
	}
	for _, f := range existing {
		if strings.EqualFold(strings.TrimSpace(f.Label), label) && f.Key != "" {
			c.fieldKeys[label] = f.Key
			return f.Key, nil
		}
	}
	created, err := c.createCustomField(ctx, label)
	if err != nil {
		return "", err
	}
	if created.Key == "" {
		return "", fmt.Errorf("crm created custom field %q without a key", label)
	}
	c.fieldKeys[label] = created.Key
	return created.Key, nil
}

func (c *Client) buildCustomFields(ctx context.Context, lead *model.LeadSession) (map[string]any, error) {
	fields := map[string]any{}
	if lead.Interest != "" {
		key, err := c.ensureFieldKey(ctx, FieldProductInterest)
		if err != nil {
			return nil, err
		}
		fields[key] = lead.Interest
	}
	if lead.TeamSize != "" {
		key, err := c.ensureFieldKey(ctx, FieldTeamSize)
		if err != nil {
			return nil, err
		}
		fields[key] = lead.TeamSize
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return fields, nil
}
